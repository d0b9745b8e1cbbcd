package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"privat/cmd/identity"
	"privat/cmd/identity/ids"
	authapi "privat/cmd/internal/auth/api"
	"privat/cmd/internal/httpapi"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Handler serves the notification stream of the authenticated caller.
type Handler struct {
	log       *slog.Logger
	hub       *Hub
	users     authapi.UserResolver
	origins   originPolicy
	heartbeat time.Duration
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithHeartbeat sets the interval of SSE ping comments and WebSocket pings.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithAllowedOrigins sets the WebSocket origin allowlist. "*" admits any origin.
func WithAllowedOrigins(origins []string, required bool) Option {
	return func(h *Handler) { h.origins = newOriginPolicy(origins, required) }
}

// NewHandler constructs a Handler publishing hub events.
func NewHandler(log *slog.Logger, hub *Hub, users authapi.UserResolver, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	h := &Handler{
		log:       log,
		hub:       hub,
		users:     users,
		origins:   newOriginPolicy(DefaultAllowedOrigins, true),
		heartbeat: heartbeatInterval,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the stream routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/notifications/stream", h.HandleStream)
	mux.HandleFunc("/notifications/ws", h.HandleWS)
}

// HandleStream serves GET /notifications/stream as Server-Sent Events.
// The subscriber is removed as soon as the request context ends.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !httpapi.AllowMethod(w, r, http.MethodGet) {
		return
	}
	u, ok := authapi.RequireUser(w, r, h.users, h.log)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Warn("notify.sse.deadline.fail", "user_id", u.ID, "err", err)
	}

	hello, err := h.connectedEvent(u)
	if err != nil {
		h.log.Error("notify.sse.hello.fail", "user_id", u.ID, "err", err)
		httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternal, "failed to open stream")
		return
	}

	sub, unsubscribe := h.hub.Subscribe(u.ID)
	defer unsubscribe()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache, no-transform")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	h.hub.metrics.streams.WithLabelValues("sse").Inc()

	send := func(ev v1.Event) error {
		if err := writeSSE(w, ev); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := send(hello); err != nil {
		h.log.Info("notify.sse.write.fail", "user_id", u.ID, "subscriber_id", sub.ID, "err", err)
		return
	}

	t := time.NewTicker(h.heartbeat)
	defer t.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("notify.sse.closed", "user_id", u.ID, "subscriber_id", sub.ID)
			return
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			if err := send(ev); err != nil {
				h.log.Info("notify.sse.write.fail", "user_id", u.ID, "subscriber_id", sub.ID, "err", err)
				return
			}
		case <-t.C:
			_, err := io.WriteString(w, ": ping\n\n")
			if err == nil {
				err = rc.Flush()
			}
			if err != nil {
				h.log.Info("notify.sse.ping.fail", "user_id", u.ID, "subscriber_id", sub.ID, "err", err)
				return
			}
		}
	}
}

// HandleWS serves GET /notifications/ws. Events are sent as JSON text frames;
// anything the client sends is discarded.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := h.origins.check(r); err != nil {
		h.log.Info("notify.ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		httpapi.WriteError(w, http.StatusForbidden, httpapi.CodeForbidden, "origin not allowed")
		return
	}
	u, ok := authapi.RequireUser(w, r, h.users, h.log)
	if !ok {
		return
	}

	hello, err := h.connectedEvent(u)
	if err != nil {
		h.log.Error("notify.ws.hello.fail", "user_id", u.ID, "err", err)
		httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternal, "failed to open stream")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     h.origins.patterns,
		InsecureSkipVerify: h.origins.insecureSkipVerify(),
	})
	if err != nil {
		h.log.Error("notify.ws.accept.fail", "user_id", u.ID, "err", err)
		return
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		h.log.Info("notify.ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(wsReadLimit)
	// CloseRead keeps a reader running so pings and close frames are processed.
	ctx := conn.CloseRead(r.Context())

	sub, unsubscribe := h.hub.Subscribe(u.ID)
	defer unsubscribe()

	h.hub.metrics.streams.WithLabelValues("ws").Inc()

	status, reason := h.runWS(ctx, conn, sub, hello)
	_ = conn.Close(status, reason)
}

func (h *Handler) runWS(ctx context.Context, conn *websocket.Conn, sub *Subscriber, hello v1.Event) (websocket.StatusCode, string) {
	if err := writeWS(ctx, conn, hello); err != nil {
		h.log.Info("notify.ws.write.fail", "user_id", sub.UserID, "subscriber_id", sub.ID, "err", err)
		return websocket.StatusInternalError, "write failed"
	}

	t := time.NewTicker(h.heartbeat)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, "bye"
		case <-sub.Done():
			return websocket.StatusTryAgainLater, "evicted"
		case ev := <-sub.Events():
			if err := writeWS(ctx, conn, ev); err != nil {
				h.log.Info("notify.ws.write.fail", "user_id", sub.UserID, "subscriber_id", sub.ID,
					"close_status", websocket.CloseStatus(err), "err", err)
				return websocket.StatusInternalError, "write failed"
			}
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err != nil {
				failures++
				h.log.Info("notify.ws.ping.fail", "subscriber_id", sub.ID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					return websocket.StatusGoingAway, "heartbeat failed"
				}
				continue
			}
			failures = 0
		}
	}
}

func (h *Handler) connectedEvent(u identity.User) (v1.Event, error) {
	now := h.now()
	ev, err := v1.NewEvent(v1.EventSystem, "connected", v1.SystemConnectedData{User: identity.Sanitize(u)}, now)
	if err != nil {
		return v1.Event{}, err
	}
	ev.ID, err = ids.NewULID(now)
	return ev, err
}

// writeSSE writes one event as an SSE message. The JSON encoding never contains
// newlines, so a single data line carries the whole event.
func writeSSE(w io.Writer, ev v1.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if ev.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(ev.ID)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(b)
	buf.WriteString("\n\n")

	_, err = w.Write(buf.Bytes())
	return err
}

func writeWS(parent context.Context, conn *websocket.Conn, ev v1.Event) error {
	ctx, cancel := context.WithTimeout(parent, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
