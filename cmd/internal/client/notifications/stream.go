package notifications

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"privat/cmd/internal/client/api"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxEventBytes = 1 << 20 // 1 MiB

// ErrEventTooLarge is returned by a stream when one event exceeds maxEventBytes.
var ErrEventTooLarge = errors.New("notification event too large")

// Stream is one open event stream. Next blocks until the next raw event.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Stream.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// SSEDialer opens GET /notifications/stream.
type SSEDialer struct {
	api  *api.Client
	http *http.Client
}

// NewSSEDialer builds an SSE dialer sharing the API client's transport and token.
// The stream client has no overall timeout: the stream lives until closed.
func NewSSEDialer(c *api.Client) *SSEDialer {
	return &SSEDialer{
		api:  c,
		http: &http.Client{Transport: c.HTTPClient().Transport},
	}
}

// Dial implements Dialer.
func (d *SSEDialer) Dial(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.api.BaseURL()+"/notifications/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	d.api.Authorize(req)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, &api.StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	return &sseStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

type sseStream struct {
	body io.ReadCloser
	r    *bufio.Reader
}

// Next returns the data of the next SSE message. Comment lines (heartbeats) and
// the id, event and retry fields are skipped; multiple data lines are joined
// with newlines.
func (s *sseStream) Next(ctx context.Context) ([]byte, error) {
	var data bytes.Buffer
	hasData := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := s.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				return data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			continue
		}

		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
		if data.Len() > maxEventBytes {
			return nil, ErrEventTooLarge
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// WSDialer opens GET /notifications/ws.
type WSDialer struct {
	api    *api.Client
	origin string
}

// NewWSDialer builds a WebSocket dialer. origin is sent as the Origin header;
// empty defaults to the server base URL.
func NewWSDialer(c *api.Client, origin string) *WSDialer {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = c.BaseURL()
	}
	return &WSDialer{api: c, origin: origin}
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context) (Stream, error) {
	h := http.Header{}
	h.Set("Origin", d.origin)
	if tok := d.api.Token(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := websocket.Dial(ctx, wsBaseURL(d.api.BaseURL())+"/notifications/ws", &websocket.DialOptions{
		HTTPClient:   &http.Client{Transport: d.api.HTTPClient().Transport},
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &api.StatusError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return nil, err
	}
	if conn.Subprotocol() != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("server did not select %s", v1.Subprotocol)
	}
	conn.SetReadLimit(maxEventBytes)

	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}

// wsBaseURL maps an http(s) base URL to its ws(s) form.
func wsBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base
	default:
		return "ws://" + base
	}
}
