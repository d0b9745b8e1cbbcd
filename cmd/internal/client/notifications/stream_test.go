package notifications

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"privat/cmd/identity"
	authapi "privat/cmd/internal/auth/api"
	"privat/cmd/internal/client/api"
	"privat/cmd/internal/httpapi"
	"privat/cmd/internal/notify"

	v1 "privat/shared/contracts/realtime/v1"
)

// bearerIsUser treats the bearer token as the user id.
type bearerIsUser struct{}

func (bearerIsUser) CurrentUser(r *http.Request) (identity.User, error) {
	tok := httpapi.BearerToken(r)
	if tok == "" {
		return identity.User{}, fmt.Errorf("%w: no token", authapi.ErrUnauthorized)
	}
	return identity.User{ID: tok}, nil
}

func newStreamServer(t *testing.T) (*httptest.Server, *notify.Hub) {
	t.Helper()

	hub := notify.NewHub(discardLogger())
	mux := http.NewServeMux()
	notify.NewHandler(discardLogger(), hub, bearerIsUser{},
		notify.WithAllowedOrigins([]string{"http://127.0.0.1"}, true),
	).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestDialers_ReceiveHubBroadcasts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		dial func(*api.Client) Dialer
	}{
		{name: "sse", dial: func(c *api.Client) Dialer { return NewSSEDialer(c) }},
		{name: "ws", dial: func(c *api.Client) Dialer { return NewWSDialer(c, "") }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, hub := newStreamServer(t)
			ac, err := api.New(srv.URL, "alice")
			if err != nil {
				t.Fatalf("api.New: %v", err)
			}

			c := New(discardLogger(), tc.dial(ac))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := c.Connect(ctx); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer c.Disconnect()

			eventually(t, "connected event", func() bool { return len(c.Events()) == 1 })
			if ev := c.Events()[0]; ev.Type != v1.EventSystem {
				t.Fatalf("first event=%+v", ev)
			}

			ev, _ := v1.NewEvent(v1.EventGroup, "joined group", nil, time.Now().UTC())
			if n := hub.Broadcast("alice", ev); n != 1 {
				t.Fatalf("delivered=%d", n)
			}
			eventually(t, "group event", func() bool { return len(c.Events()) == 2 })
			if got := c.Events()[0]; got.Type != v1.EventGroup {
				t.Fatalf("most recent=%+v", got)
			}

			c.Disconnect()
			eventually(t, "hub unsubscribe", func() bool { return hub.Subscribers("alice") == 0 })
		})
	}
}

func TestSSEDialer_Unauthorized(t *testing.T) {
	t.Parallel()

	srv, _ := newStreamServer(t)
	ac, _ := api.New(srv.URL, "")

	_, err := NewSSEDialer(ac).Dial(context.Background())
	if !api.IsUnauthorized(err) {
		t.Fatalf("err=%v want unauthorized", err)
	}
}

func TestSSEStream_Parsing(t *testing.T) {
	t.Parallel()

	raw := ": ping\n\n" +
		"id: 1\n" +
		"event: message\n" +
		"data: {\"a\":\n" +
		"data: 1}\n" +
		"\n" +
		"retry: 1000\n" +
		"data:{\"b\":2}\r\n" +
		"\r\n"

	s := &sseStream{r: bufio.NewReader(strings.NewReader(raw))}

	first, err := s.Next(context.Background())
	if err != nil || string(first) != "{\"a\":\n1}" {
		t.Fatalf("first=%q err=%v", first, err)
	}
	second, err := s.Next(context.Background())
	if err != nil || string(second) != `{"b":2}` {
		t.Fatalf("second=%q err=%v", second, err)
	}
	if _, err := s.Next(context.Background()); err == nil {
		t.Fatalf("expected EOF")
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://privat.example.com/", want: "wss://privat.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "wss://already.example", want: "wss://already.example"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
