package authapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"privat/cmd/identity"
	"privat/cmd/internal/auth/session"
	"privat/cmd/internal/httpapi"
)

// ErrUnauthorized is returned when the request carries no valid session token
// or the token names a user that no longer exists. It is never retried.
var ErrUnauthorized = errors.New("unauthorized")

// UserResolver resolves the authenticated user of an HTTP request.
type UserResolver interface {
	CurrentUser(r *http.Request) (identity.User, error)
}

// TokenResolver resolves users from a PASETO bearer token, falling back to a cookie.
type TokenResolver struct {
	tokens     session.AccessTokenManager
	users      identity.Directory
	cookieName string
	now        func() time.Time
}

// NewTokenResolver constructs a TokenResolver. An empty cookieName disables the cookie fallback.
func NewTokenResolver(tokens session.AccessTokenManager, users identity.Directory, cookieName string) (*TokenResolver, error) {
	if tokens == nil {
		return nil, errors.New("authapi: nil token manager")
	}
	if users == nil {
		return nil, errors.New("authapi: nil directory")
	}
	return &TokenResolver{
		tokens:     tokens,
		users:      users,
		cookieName: strings.TrimSpace(cookieName),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// CurrentUser implements UserResolver.
func (r *TokenResolver) CurrentUser(req *http.Request) (identity.User, error) {
	tok := r.token(req)
	if tok == "" {
		return identity.User{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims, err := r.tokens.Verify(tok, r.now())
	if err != nil {
		return identity.User{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	u, err := r.users.UserByID(req.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return identity.User{}, fmt.Errorf("%w: unknown user", ErrUnauthorized)
		}
		return identity.User{}, err
	}
	return u, nil
}

func (r *TokenResolver) token(req *http.Request) string {
	if tok := httpapi.BearerToken(req); tok != "" {
		return tok
	}
	if r.cookieName == "" {
		return ""
	}
	c, err := req.Cookie(r.cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// RequireUser resolves the caller or writes the error response.
// Unauthorized maps to 401; anything else is an internal failure.
func RequireUser(w http.ResponseWriter, r *http.Request, users UserResolver, log *slog.Logger) (identity.User, bool) {
	u, err := users.CurrentUser(r)
	if err == nil {
		return u, true
	}
	if errors.Is(err, ErrUnauthorized) {
		httpapi.WriteError(w, http.StatusUnauthorized, httpapi.CodeUnauthorized, "unauthorized")
		return identity.User{}, false
	}
	if log != nil {
		log.Error("auth.resolve.fail", "path", r.URL.Path, "err", err)
	}
	httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternal, "internal error")
	return identity.User{}, false
}
