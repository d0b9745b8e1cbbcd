// Package app wires the privat server runtime: config, logging, HTTP routes,
// the signal mailbox and the notification hub.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"privat/cmd/identity"
	authapi "privat/cmd/internal/auth/api"
	"privat/cmd/internal/auth/session"
	"privat/cmd/internal/notify"
	"privat/cmd/internal/signaling"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// App is the privat server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	hub     *notify.Hub
	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	backend, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	tokens, err := session.NewPasetoV4PublicManager(cfg.Session)
	if err != nil {
		_ = backend.Close(context.Background())
		return nil, fmt.Errorf("token manager: %w", err)
	}
	users, err := authapi.NewTokenResolver(tokens, backend.directory, cfg.Session.CookieName)
	if err != nil {
		_ = backend.Close(context.Background())
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := notify.NewHub(log,
		notify.WithQueueSize(cfg.StreamQueue),
		notify.WithHubMetrics(notify.NewMetrics(reg)),
	)

	rt := routes{
		auth: authapi.NewHandler(log, users),
		signals: signaling.NewHandler(log, backend.mailbox, users,
			signaling.WithNotifier(hub),
			signaling.WithRateLimit(cfg.SignalRateEvents, cfg.SignalRateWindow),
			signaling.WithMaxBodyBytes(cfg.SignalMaxBodyBytes),
			signaling.WithMetrics(signaling.NewMetrics(reg)),
		),
		streams: notify.NewHandler(log, hub, users,
			notify.WithHeartbeat(cfg.StreamHeartbeat),
			notify.WithAllowedOrigins(cfg.WSAllowedOrigins, cfg.WSOriginRequired),
		),
		metrics: reg,
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, backend.pool, backend.pool != nil, rt)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     backend,
		dbPool:    backend.pool,
		dbEnabled: backend.pool != nil,
		hub:       hub,
		handler:   WithSecurityHeaders(WithCORS(WithRequestLogging(mux, log), cfg, log)),
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Hub exposes the notification hub so other server-side event sources can broadcast.
func (a *App) Hub() *notify.Hub { return a.hub }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		// Streaming handlers clear their own write deadline.
		WriteTimeout:   nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:    nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes: nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "url", runtimeBaseURL(a.cfg.HTTPAddr), "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// backend bundles the storage chosen at startup. The app owns the pool lifecycle.
type backend struct {
	pool      *pgxpool.Pool
	mailbox   signaling.Mailbox
	directory identity.Directory
}

func (b backend) Close(_ context.Context) error {
	if b.mailbox != nil {
		_ = b.mailbox.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

// newStore decides between Postgres-backed storage and the in-memory dev setup.
func newStore(ctx context.Context, cfg Config, log Logger) (backend, error) {
	if cfg.DatabaseURL == "" {
		users, err := identity.ParseDevUsers(cfg.DevUsers)
		if err != nil {
			return backend{}, fmt.Errorf("PRIVAT_DEV_USERS: %w", err)
		}
		log.Info("db.disabled.inmemory_store", "dev_users", len(users))
		return backend{
			mailbox:   signaling.NewMemoryMailbox(),
			directory: identity.NewMemoryDirectory(users...),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return backend{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	mailbox, err := signaling.NewPostgresMailbox(pool, signaling.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return backend{}, err
	}
	directory, err := identity.NewPostgresDirectory(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return backend{}, err
	}

	return backend{pool: pool, mailbox: mailbox, directory: directory}, nil
}
