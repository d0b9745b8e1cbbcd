package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"privat/cmd/identity"
	authapi "privat/cmd/internal/auth/api"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// headerResolver authenticates the user named by X-Test-User.
type headerResolver struct{}

func (headerResolver) CurrentUser(r *http.Request) (identity.User, error) {
	id := strings.TrimSpace(r.Header.Get("X-Test-User"))
	if id == "" {
		return identity.User{}, fmt.Errorf("%w: no test user", authapi.ErrUnauthorized)
	}
	username := id + "_name"
	email := id + "@example.com"
	return identity.User{ID: id, Username: &username, Email: &email}, nil
}

func newTestStreamServer(t *testing.T, opts ...Option) (*httptest.Server, *Hub) {
	t.Helper()

	hub := NewHub(discardLogger())
	mux := http.NewServeMux()
	NewHandler(discardLogger(), hub, headerResolver{}, opts...).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub
}

func openSSE(t *testing.T, ctx context.Context, srv *httptest.Server, user string) (*http.Response, *bufio.Reader) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

// readSSE returns the next data message, skipping comments and id lines.
func readSSE(t *testing.T, r *bufio.Reader) v1.Event {
	t.Helper()

	var data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data == "" {
				continue
			}
			var ev v1.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("decode %q: %v", data, err)
			}
			return ev
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func waitForSubscribers(t *testing.T, hub *Hub, user string, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(user) != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers(%s)=%d want %d", user, hub.Subscribers(user), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleStream_InitialEventThenBroadcasts(t *testing.T) {
	t.Parallel()

	srv, hub := newTestStreamServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp, rd := openSSE(t, ctx, srv, "alice")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
		t.Fatalf("cache-control=%q", cc)
	}

	hello := readSSE(t, rd)
	if hello.Type != v1.EventSystem {
		t.Fatalf("first event type=%q want system", hello.Type)
	}
	var data v1.SystemConnectedData
	if err := json.Unmarshal(hello.Data, &data); err != nil {
		t.Fatalf("decode connected data: %v", err)
	}
	if data.User.ID != "alice" || data.User.Username != "alice_name" {
		t.Fatalf("unexpected profile: %+v", data.User)
	}
	if strings.Contains(string(hello.Data), "example.com") {
		t.Fatalf("profile leaked email: %s", hello.Data)
	}

	ev, err := v1.NewEvent(v1.EventFriend, "bob accepted", nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if n := hub.Broadcast("alice", ev); n != 1 {
		t.Fatalf("delivered=%d want 1", n)
	}
	got := readSSE(t, rd)
	if got.Type != v1.EventFriend || got.Message != "bob accepted" || got.ID == "" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHandleStream_DisconnectUnsubscribes(t *testing.T) {
	t.Parallel()

	srv, hub := newTestStreamServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, rd := openSSE(t, ctx, srv, "alice")
	_ = readSSE(t, rd)

	waitForSubscribers(t, hub, "alice", 1)
	cancel()
	waitForSubscribers(t, hub, "alice", 0)

	// Broadcasting to the departed user stays a silent no-op.
	ev, _ := v1.NewEvent(v1.EventMessage, "missed", nil, time.Now().UTC())
	if n := hub.Broadcast("alice", ev); n != 0 {
		t.Fatalf("delivered=%d after disconnect", n)
	}
}

func TestHandleStream_Heartbeat(t *testing.T) {
	t.Parallel()

	srv, _ := newTestStreamServer(t, WithHeartbeat(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, rd := openSSE(t, ctx, srv, "alice")
	_ = readSSE(t, rd)

	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, ": ping") {
			return
		}
	}
}

func TestHandleStream_RequiresUser(t *testing.T) {
	t.Parallel()

	srv, hub := newTestStreamServer(t)

	resp, _ := openSSE(t, context.Background(), srv, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", resp.StatusCode)
	}
	if hub.Subscribers("") != 0 {
		t.Fatalf("unauthenticated request registered a subscriber")
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/notifications/ws"
}

func TestHandleWS_InitialEventThenBroadcasts(t *testing.T) {
	t.Parallel()

	srv, hub := newTestStreamServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader: http.Header{
			"Origin":      []string{srv.URL},
			"X-Test-User": []string{"bob"},
		},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	var hello v1.Event
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != v1.EventSystem {
		t.Fatalf("first event type=%q", hello.Type)
	}

	ev, _ := v1.NewEvent(v1.EventCall, "incoming audio call", v1.CallNotificationData{FromID: "alice", Mode: v1.ModeAudio}, time.Now().UTC())
	if n := hub.Broadcast("bob", ev); n != 1 {
		t.Fatalf("delivered=%d", n)
	}

	var got v1.Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	var call v1.CallNotificationData
	if err := json.Unmarshal(got.Data, &call); err != nil || call.FromID != "alice" {
		t.Fatalf("call data=%s err=%v", got.Data, err)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "done")
	waitForSubscribers(t, hub, "bob", 0)
}

func TestHandleWS_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	srv, _ := newTestStreamServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader: http.Header{
			"Origin":      []string{"https://evil.example"},
			"X-Test-User": []string{"bob"},
		},
	})
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v want 403", resp)
	}
}

func TestOriginPolicy(t *testing.T) {
	t.Parallel()

	p := newOriginPolicy([]string{"http://localhost:5173", " https://app.privat.chat "}, true)

	cases := []struct {
		origin string
		ok     bool
	}{
		{origin: "", ok: false},
		{origin: "http://localhost:5173", ok: true},
		{origin: "http://localhost:3000", ok: true},
		{origin: "https://app.privat.chat", ok: true},
		{origin: "https://evil.example", ok: false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/notifications/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if err := p.check(r); (err == nil) != tc.ok {
			t.Fatalf("origin %q: err=%v want ok=%v", tc.origin, err, tc.ok)
		}
	}

	if got := strings.Join(p.patterns, ","); got != "app.privat.chat,localhost" {
		t.Fatalf("patterns=%q", got)
	}
}
