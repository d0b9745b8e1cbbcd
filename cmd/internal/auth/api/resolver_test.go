package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"privat/cmd/identity"
	"privat/cmd/internal/auth/session"

	paseto "aidanwoods.dev/go-paseto"
)

func newTestResolver(t *testing.T, users identity.Directory) (*TokenResolver, session.AccessTokenManager) {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	mgr, err := session.NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	res, err := NewTokenResolver(mgr, users, cfg.CookieName)
	if err != nil {
		t.Fatalf("NewTokenResolver: %v", err)
	}
	return res, mgr
}

func mustIssue(t *testing.T, mgr session.AccessTokenManager, userID string) string {
	t.Helper()

	tok, _, err := mgr.Issue(userID, "s-"+userID, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func TestTokenResolver_CurrentUser(t *testing.T) {
	t.Parallel()

	dir := identity.NewMemoryDirectory(identity.User{ID: "alice"})
	res, mgr := newTestResolver(t, dir)
	good := mustIssue(t, mgr, "alice")
	ghost := mustIssue(t, mgr, "ghost")

	cases := []struct {
		name    string
		prep    func(r *http.Request)
		wantErr bool
	}{
		{name: "bearer", prep: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+good) }},
		{name: "cookie fallback", prep: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "privat-token", Value: good}) }},
		{name: "missing", prep: func(*http.Request) {}, wantErr: true},
		{name: "garbage", prep: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, wantErr: true},
		{name: "unknown user", prep: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+ghost) }, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.prep(req)

			u, err := res.CurrentUser(req)
			if tc.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Fatalf("expected ErrUnauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CurrentUser: %v", err)
			}
			if u.ID != "alice" {
				t.Fatalf("user=%q want alice", u.ID)
			}
		})
	}
}

type brokenDirectory struct{}

func (brokenDirectory) UserByID(context.Context, string) (identity.User, error) {
	return identity.User{}, errors.New("db down")
}

func TestRequireUser_StatusMapping(t *testing.T) {
	t.Parallel()

	res, mgr := newTestResolver(t, brokenDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	rr := httptest.NewRecorder()
	if _, ok := RequireUser(rr, req, res, nil); ok || rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: ok=%v status=%d", ok, rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, mgr, "alice"))
	rr = httptest.NewRecorder()
	if _, ok := RequireUser(rr, req, res, nil); ok || rr.Code != http.StatusInternalServerError {
		t.Fatalf("directory failure: ok=%v status=%d", ok, rr.Code)
	}
}

func TestHandler_Session(t *testing.T) {
	t.Parallel()

	name := "Alice"
	email := "alice@example.com"
	dir := identity.NewMemoryDirectory(identity.User{ID: "alice", DisplayName: &name, Email: &email})
	res, mgr := newTestResolver(t, dir)

	mux := http.NewServeMux()
	NewHandler(nil, res).Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, mgr, "alice"))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var body map[string]map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["user"]["name"] != "Alice" {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, leaked := body["user"]["email"]; leaked {
		t.Fatalf("email leaked in public profile")
	}
}
