// Package api is the HTTP client for the privat signaling and session endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"privat/cmd/internal/httpapi"

	v1 "privat/shared/contracts/realtime/v1"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// Client talks to one privat server on behalf of one user.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New constructs a Client for baseURL authenticated with a bearer token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("api: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("api: base url missing host")
	}

	c := &Client{
		base:  u,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: defaultTimeout},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the server base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.base.String() }

// Token returns the bearer token sent with every request.
func (c *Client) Token() string { return c.token }

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Authorize sets the bearer header on req.
func (c *Client) Authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Session returns the public profile of the authenticated user.
func (c *Client) Session(ctx context.Context) (v1.PublicProfile, error) {
	var out struct {
		User v1.PublicProfile `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, &out); err != nil {
		return v1.PublicProfile{}, err
	}
	return out.User, nil
}

// SendSignal posts one signal to toID. Delivery is at most once; there is no retry.
func (c *Client) SendSignal(ctx context.Context, toID string, p v1.Payload) error {
	if p == nil {
		return errors.New("api: nil payload")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("api: marshal %s payload: %w", p.Kind(), err)
	}
	req := v1.SendSignalRequest{ToID: toID, Kind: string(p.Kind()), Payload: raw}

	var out v1.SendSignalResponse
	return c.do(ctx, http.MethodPost, "/call/signal", req, &out)
}

// PendingSignals drains the caller's mailbox. Entries that fail to decode are
// logged and skipped so one bad signal does not hide the rest.
func (c *Client) PendingSignals(ctx context.Context) ([]v1.Signal, error) {
	var out struct {
		Signals []json.RawMessage `json:"signals"`
	}
	if err := c.do(ctx, http.MethodGet, "/call/pending", nil, &out); err != nil {
		return nil, err
	}

	signals := make([]v1.Signal, 0, len(out.Signals))
	for _, raw := range out.Signals {
		var s v1.Signal
		if err := json.Unmarshal(raw, &s); err != nil {
			c.log.Warn("api.pending.decode.fail", "err", err)
			continue
		}
		signals = append(signals, s)
	}
	return signals, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("api: read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var env httpapi.ErrorResponse
		if json.Unmarshal(data, &env) == nil && env.Error.Code != "" {
			se.Code = env.Error.Code
			se.Message = env.Error.Message
		}
		return se
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}
