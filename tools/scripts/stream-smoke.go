// Package main provides a CI-friendly smoke test for the privat notification
// stream and signal mailbox.
//
// It validates:
//   - stream handshake (SSE or WebSocket with subprotocol selection)
//   - the initial system event carries the caller's public profile
//   - an offer posted by a second user arrives as a call event
//   - the offer is drained exactly once from GET /call/pending
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const maxReadBytes = 1 << 20 // 1MiB

type eventSource interface {
	next(ctx context.Context) (v1.Event, error)
	close()
}

func main() {
	var (
		baseURL   = flag.String("url", "http://127.0.0.1:8080", "server base URL")
		token     = flag.String("token", os.Getenv("PRIVAT_TOKEN"), "bearer token of the listening user")
		peerToken = flag.String("peer-token", os.Getenv("PRIVAT_PEER_TOKEN"), "bearer token of a second user (enables the call round trip)")
		transport = flag.String("transport", "sse", "stream transport: sse or ws")
		origin    = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
		timeout   = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose   = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("-token (or PRIVAT_TOKEN) is required")
	}

	root := context.Background()
	base := strings.TrimRight(*baseURL, "/")

	src := mustOpen(root, base, *token, *transport, *origin, *timeout)
	defer src.close()

	hello := mustNext(root, src, *timeout)
	if hello.Type != v1.EventSystem {
		fatalf("first event type=%q want system", hello.Type)
	}
	var connected v1.SystemConnectedData
	if err := json.Unmarshal(hello.Data, &connected); err != nil || connected.User.ID == "" {
		fatalf("system event missing user profile: %v (%s)", err, hello.Data)
	}
	if bytes.Contains(hello.Data, []byte(`"email"`)) {
		fatalf("system event leaked an email address")
	}
	if *verbose {
		fmt.Printf("connected: user=%s transport=%s\n", connected.User.ID, *transport)
	}

	if strings.TrimSpace(*peerToken) == "" {
		fmt.Printf("OK: user=%s transport=%s (call round trip skipped: no -peer-token)\n", connected.User.ID, *transport)
		return
	}

	peerID := mustSessionUser(root, base, *peerToken, *timeout)

	body := fmt.Sprintf(`{"toId":%q,"kind":"offer","payload":{"mode":"audio","sessionDescription":{"type":"offer","sdp":"v=0 smoke"}}}`, connected.User.ID)
	mustDo(root, http.MethodPost, base+"/call/signal", *peerToken, strings.NewReader(body), nil, *timeout)

	ev := mustNextOfType(root, src, v1.EventCall, *timeout)
	var note v1.CallNotificationData
	if err := json.Unmarshal(ev.Data, &note); err != nil {
		fatalf("decode call event: %v", err)
	}
	if note.FromID != peerID || note.Mode != v1.ModeAudio {
		fatalf("call event=%+v want from=%s mode=audio", note, peerID)
	}

	var pending struct {
		Signals []v1.Signal `json:"signals"`
	}
	mustDo(root, http.MethodGet, base+"/call/pending", *token, nil, &pending, *timeout)
	if len(pending.Signals) == 0 || pending.Signals[0].FromID != peerID || pending.Signals[0].Kind() != v1.KindOffer {
		fatalf("pending=%+v want the smoke offer first", pending.Signals)
	}

	pending.Signals = nil
	mustDo(root, http.MethodGet, base+"/call/pending", *token, nil, &pending, *timeout)
	if len(pending.Signals) != 0 {
		fatalf("second drain returned %d signals, want 0", len(pending.Signals))
	}

	fmt.Printf("OK: user=%s peer=%s transport=%s event_id=%s\n", connected.User.ID, peerID, *transport, ev.ID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustOpen(parent context.Context, base, token, transport, origin string, stepTimeout time.Duration) eventSource {
	switch transport {
	case "sse":
		return mustOpenSSE(parent, base, token, stepTimeout)
	case "ws":
		return mustOpenWS(parent, base, token, origin, stepTimeout)
	default:
		fatalf("unknown -transport %q", transport)
		return nil
	}
}

// sseSource reads "data:" frames; comments (heartbeats) are skipped.
type sseSource struct {
	body   io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
	events chan v1.Event
	errCh  chan error
}

func mustOpenSSE(parent context.Context, base, token string, stepTimeout time.Duration) *sseSource {
	ctx, cancel := context.WithCancel(parent)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/notifications/stream", nil)
	if err != nil {
		cancel()
		fatalf("build stream request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		done <- result{resp, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(stepTimeout):
		cancel()
		fatalf("open stream: timeout")
	}
	if res.err != nil {
		cancel()
		fatalf("open stream: %v", res.err)
	}
	if res.resp.StatusCode != http.StatusOK {
		_ = res.resp.Body.Close()
		cancel()
		fatalf("open stream: status %d", res.resp.StatusCode)
	}
	if ct := res.resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		_ = res.resp.Body.Close()
		cancel()
		fatalf("open stream: content-type %q", ct)
	}

	s := &sseSource{
		body:   res.resp.Body,
		r:      bufio.NewReaderSize(res.resp.Body, 64<<10),
		cancel: cancel,
		events: make(chan v1.Event, 64),
		errCh:  make(chan error, 1),
	}
	go s.readLoop()
	return s
}

func (s *sseSource) readLoop() {
	var data bytes.Buffer
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			s.errCh <- err
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev v1.Event
			if err := json.Unmarshal(data.Bytes(), &ev); err != nil {
				s.errCh <- fmt.Errorf("bad json: %w", err)
				return
			}
			data.Reset()
			s.events <- ev
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			if data.Len() > maxReadBytes {
				s.errCh <- errors.New("event too large")
				return
			}
		}
	}
}

func (s *sseSource) next(ctx context.Context) (v1.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.errCh:
		return v1.Event{}, err
	case <-ctx.Done():
		return v1.Event{}, ctx.Err()
	}
}

func (s *sseSource) close() {
	s.cancel()
	_ = s.body.Close()
}

type wsSource struct {
	conn *websocket.Conn
}

func mustOpenWS(parent context.Context, base, token, origin string, stepTimeout time.Duration) *wsSource {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/notifications/ws"

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect ws: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return &wsSource{conn: conn}
}

func (s *wsSource) next(ctx context.Context) (v1.Event, error) {
	var ev v1.Event
	err := wsjson.Read(ctx, s.conn, &ev)
	return ev, err
}

func (s *wsSource) close() {
	_ = s.conn.Close(websocket.StatusNormalClosure, "smoke done")
}

func mustNext(parent context.Context, src eventSource, stepTimeout time.Duration) v1.Event {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	ev, err := src.next(ctx)
	if err != nil {
		fatalf("read event: %v", err)
	}
	if err := ev.Validate(); err != nil {
		fatalf("bad event: %v", err)
	}
	return ev
}

func mustNextOfType(parent context.Context, src eventSource, want v1.EventType, stepTimeout time.Duration) v1.Event {
	deadline := time.Now().Add(stepTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			fatalf("timeout waiting for %s event", want)
		}
		ev := mustNext(parent, src, remaining)
		if ev.Type == want {
			return ev
		}
	}
}

func mustSessionUser(parent context.Context, base, token string, stepTimeout time.Duration) string {
	var out struct {
		User v1.PublicProfile `json:"user"`
	}
	mustDo(parent, http.MethodGet, base+"/auth/session", token, nil, &out, stepTimeout)
	if out.User.ID == "" {
		fatalf("/auth/session returned no user id")
	}
	return out.User.ID
}

func mustDo(parent context.Context, method, target, token string, body io.Reader, out any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != http.StatusOK {
		fatalf("%s %s: status %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, target, err)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
