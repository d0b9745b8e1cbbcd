// Command privat-client is a headless call client: it follows the
// notification stream, polls the signal mailbox, and can place or
// auto-accept a call over pion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"privat/cmd/internal/app"
	"privat/cmd/internal/client/api"
	"privat/cmd/internal/client/call"
	"privat/cmd/internal/client/notifications"
	"privat/cmd/internal/client/poller"
	"privat/cmd/internal/client/rtc"

	v1 "privat/shared/contracts/realtime/v1"
)

type config struct {
	ServerURL      string
	Token          string
	Origin         string
	Transport      string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	STUNURLs       []string
	LogLevel       string
	LogFormat      string
}

func loadConfig() (config, error) {
	cfg := config{
		ServerURL:      app.EnvString("PRIVAT_SERVER_URL", "http://127.0.0.1:8080"),
		Token:          app.EnvString("PRIVAT_TOKEN", ""),
		Origin:         app.EnvString("PRIVAT_ORIGIN", ""),
		Transport:      strings.ToLower(app.EnvString("PRIVAT_STREAM_TRANSPORT", "sse")),
		PollInterval:   app.EnvDuration("PRIVAT_POLL_INTERVAL", poller.DefaultInterval),
		ReconnectDelay: app.EnvDuration("PRIVAT_RECONNECT_DELAY", notifications.DefaultReconnectDelay),
		STUNURLs:       app.EnvCSV("PRIVAT_STUN_URLS", rtc.DefaultSTUNURL),
		LogLevel:       app.EnvString("PRIVAT_LOG_LEVEL", "info"),
		LogFormat:      app.EnvString("PRIVAT_LOG_FORMAT", "pretty"),
	}
	if cfg.Token == "" {
		return config{}, errors.New("PRIVAT_TOKEN is required")
	}
	if cfg.Transport != "sse" && cfg.Transport != "ws" {
		return config{}, fmt.Errorf("PRIVAT_STREAM_TRANSPORT must be sse or ws, got %q", cfg.Transport)
	}
	return cfg, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "privat-client:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("privat-client", flag.ContinueOnError)
	var (
		peer   = fs.String("call", "", "user id to call on startup")
		mode   = fs.String("mode", string(v1.ModeAudio), "call mode: audio or video")
		accept = fs.Bool("accept", false, "auto-accept incoming calls")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := api.New(cfg.ServerURL, cfg.Token, api.WithLogger(log))
	if err != nil {
		return err
	}
	me, err := client.Session(ctx)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	log.Info("client.session", "user_id", me.ID, "username", me.Username, "server", client.BaseURL())

	factory, err := rtc.NewFactory(log, cfg.STUNURLs)
	if err != nil {
		return err
	}
	ctrl := call.New(log, client, factory, rtc.MediaSource{})

	handle := func(ctx context.Context, sig v1.Signal) {
		ctrl.HandleSignal(ctx, sig)
		if !*accept || ctrl.State() != call.StateRinging {
			return
		}
		if err := ctrl.AcceptCall(ctx); err != nil {
			log.Warn("client.accept.fail", "err", err)
		}
	}
	poll := poller.New(log, client, handle, cfg.PollInterval)

	var dialer notifications.Dialer = notifications.NewSSEDialer(client)
	if cfg.Transport == "ws" {
		dialer = notifications.NewWSDialer(client, cfg.Origin)
	}
	notes := notifications.New(log, dialer,
		notifications.WithReconnectDelay(cfg.ReconnectDelay),
		notifications.WithEventHandler(func(ev v1.Event) {
			log.Info("client.notification", "type", ev.Type, "message", ev.Message)
			if ev.Type == v1.EventCall {
				// Fetch the offer now instead of waiting for the next tick.
				poll.PollOnce(ctx)
			}
		}),
	)

	if err := notes.Connect(ctx); err != nil {
		if api.IsUnauthorized(err) {
			return err
		}
		log.Warn("client.stream.connect.fail", "err", err)
	}
	defer notes.Disconnect()

	poll.Start(ctx)
	defer poll.Stop()

	if p := strings.TrimSpace(*peer); p != "" {
		if err := ctrl.StartCall(ctx, p, v1.Mode(*mode)); err != nil {
			return fmt.Errorf("call %s: %w", p, err)
		}
	}

	<-ctx.Done()

	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer endCancel()
	ctrl.EndCall(endCtx)

	if err := ctrl.LastError(); err != nil {
		var nerr *call.NegotiationError
		if errors.As(err, &nerr) {
			log.Warn("client.call.error", "message", nerr.Message(), "err", err)
		}
	}
	log.Info("client.exit", "stats", slog.AnyValue(ctrl.Stats()))
	return nil
}
