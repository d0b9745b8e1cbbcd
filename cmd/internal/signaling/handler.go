package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"privat/cmd/identity/ids"
	authapi "privat/cmd/internal/auth/api"
	"privat/cmd/internal/httpapi"

	v1 "privat/shared/contracts/realtime/v1"
)

// Notifier pushes a notification event to every open stream of a user.
type Notifier interface {
	Broadcast(userID string, ev v1.Event) int
}

// Handler serves POST /call/signal and GET /call/pending.
type Handler struct {
	log      *slog.Logger
	mailbox  Mailbox
	users    authapi.UserResolver
	notifier Notifier
	limiter  *KeyedLimiter
	metrics  *Metrics
	maxBody  int64
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithNotifier enables the "incoming call" notification broadcast on offers.
func WithNotifier(n Notifier) Option {
	return func(h *Handler) { h.notifier = n }
}

// WithRateLimit overrides the per-caller signal rate.
func WithRateLimit(events int, window time.Duration) Option {
	return func(h *Handler) { h.limiter = NewKeyedLimiter(events, window) }
}

// WithMaxBodyBytes overrides the request body limit.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithMetrics attaches mailbox counters.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, mailbox Mailbox, users authapi.UserResolver, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:     log,
		mailbox: mailbox,
		users:   users,
		limiter: NewKeyedLimiter(rateLimitEvents, rateLimitWindow),
		maxBody: defaultMaxBodyBytes,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h
}

// Register mounts the signaling routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/call/signal", h.handleSignal)
	mux.HandleFunc("/call/pending", h.handlePending)
}

func (h *Handler) handleSignal(w http.ResponseWriter, r *http.Request) {
	if !httpapi.AllowMethod(w, r, http.MethodPost) {
		return
	}
	u, ok := authapi.RequireUser(w, r, h.users, h.log)
	if !ok {
		return
	}

	now := h.now()
	if !h.limiter.Allow(u.ID, now) {
		h.reject(w, http.StatusTooManyRequests, httpapi.CodeRateLimited, "rate_limited", "too many signals")
		return
	}

	var req v1.SendSignalRequest
	if err := httpapi.DecodeJSON(w, r, h.maxBody, &req); err != nil {
		h.reject(w, http.StatusBadRequest, httpapi.CodeInvalidRequest, "bad_json", "invalid JSON body")
		return
	}

	sig, err := h.buildSignal(u.ID, req, now)
	if err != nil {
		h.reject(w, http.StatusBadRequest, httpapi.CodeInvalidRequest, "invalid", err.Error())
		return
	}

	if err := h.mailbox.Enqueue(r.Context(), sig); err != nil {
		if errors.Is(err, ErrInvalidSignal) {
			h.reject(w, http.StatusBadRequest, httpapi.CodeInvalidRequest, "invalid", err.Error())
			return
		}
		h.log.Error("signaling.enqueue.fail", "from_id", sig.FromID, "to_id", sig.ToID, "kind", sig.Kind(), "err", err)
		httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternal, "failed to send signal")
		return
	}

	h.metrics.enqueued.WithLabelValues(string(sig.Kind())).Inc()
	h.log.Debug("signaling.enqueue", "from_id", sig.FromID, "to_id", sig.ToID, "kind", sig.Kind(), "signal_id", sig.ID)

	if offer, ok := sig.Payload.(v1.Offer); ok {
		h.notifyIncomingCall(sig, offer)
	}

	httpapi.WriteJSON(w, http.StatusOK, v1.SendSignalResponse{Message: "signal sent"})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	if !httpapi.AllowMethod(w, r, http.MethodGet) {
		return
	}
	u, ok := authapi.RequireUser(w, r, h.users, h.log)
	if !ok {
		return
	}

	signals, err := h.mailbox.Drain(r.Context(), u.ID)
	if err != nil {
		h.log.Error("signaling.drain.fail", "user_id", u.ID, "err", err)
		httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternal, "failed to load signals")
		return
	}
	if signals == nil {
		signals = []v1.Signal{}
	}
	if n := len(signals); n > 0 {
		h.metrics.drained.Add(float64(n))
		h.log.Debug("signaling.drain", "user_id", u.ID, "count", n)
	}

	httpapi.WriteJSON(w, http.StatusOK, v1.PendingSignalsResponse{Signals: signals})
}

func (h *Handler) buildSignal(fromID string, req v1.SendSignalRequest, now time.Time) (v1.Signal, error) {
	toID := strings.TrimSpace(req.ToID)
	if toID == "" || strings.TrimSpace(req.Kind) == "" {
		return v1.Signal{}, errors.New("missing toId or kind")
	}
	if toID == fromID {
		return v1.Signal{}, errors.New("cannot signal yourself")
	}

	kind, err := v1.ParseKind(req.Kind)
	if err != nil {
		return v1.Signal{}, err
	}
	payload, err := v1.DecodePayload(kind, req.Payload)
	if err != nil {
		return v1.Signal{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return v1.Signal{}, fmt.Errorf("signal id: %w", err)
	}

	return v1.Signal{
		ID:        id,
		FromID:    fromID,
		ToID:      toID,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

func (h *Handler) notifyIncomingCall(sig v1.Signal, offer v1.Offer) {
	if h.notifier == nil {
		return
	}
	ev, err := v1.NewEvent(v1.EventCall,
		fmt.Sprintf("incoming %s call", offer.Mode),
		v1.CallNotificationData{FromID: sig.FromID, Mode: offer.Mode},
		sig.CreatedAt,
	)
	if err != nil {
		h.log.Error("signaling.notify.build.fail", "err", err)
		return
	}
	h.notifier.Broadcast(sig.ToID, ev)
}

func (h *Handler) reject(w http.ResponseWriter, status int, code, reason, msg string) {
	h.metrics.rejected.WithLabelValues(reason).Inc()
	httpapi.WriteError(w, status, code, msg)
}
