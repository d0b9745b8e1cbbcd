// Package authapi resolves the authenticated caller of HTTP requests and exposes
// the current session's public profile.
package authapi

import (
	"log/slog"
	"net/http"

	"privat/cmd/identity"
	"privat/cmd/internal/httpapi"

	v1 "privat/shared/contracts/realtime/v1"
)

// Handler serves the session introspection endpoint.
type Handler struct {
	log   *slog.Logger
	users UserResolver
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, users UserResolver) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, users: users}
}

// Register mounts the auth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/session", h.handleSession)
}

type sessionResponse struct {
	User v1.PublicProfile `json:"user"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if !httpapi.AllowMethod(w, r, http.MethodGet) {
		return
	}
	u, ok := RequireUser(w, r, h.users, h.log)
	if !ok {
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, sessionResponse{User: identity.Sanitize(u)})
}
