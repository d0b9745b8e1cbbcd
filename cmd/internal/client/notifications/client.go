package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"privat/cmd/internal/client/api"

	v1 "privat/shared/contracts/realtime/v1"
)

const (
	// DefaultReconnectDelay is the fixed wait before the single reconnect attempt.
	DefaultReconnectDelay = 5 * time.Second
	// MaxEvents caps the event log.
	MaxEvents = 25
)

// ErrMalformedEvent marks an inbound event that could not be parsed or validated.
// Such events are dropped; the connection stays open.
var ErrMalformedEvent = errors.New("malformed notification event")

type stopper interface {
	Stop() bool
}

// Client maintains the notification subscription of the current user.
type Client struct {
	log    *slog.Logger
	dialer Dialer
	delay  time.Duration

	onEvent   func(v1.Event)
	afterFunc func(time.Duration, func()) stopper

	dialMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	connected bool
	manual    bool
	stream    Stream
	retry     stopper
	events    []v1.Event
}

// Option configures a Client.
type Option func(*Client)

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithEventHandler registers a callback invoked for every valid event, in arrival order.
func WithEventHandler(fn func(v1.Event)) Option {
	return func(c *Client) { c.onEvent = fn }
}

// New constructs a Client. It does not connect.
func New(log *slog.Logger, dialer Dialer, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		log:    log,
		dialer: dialer,
		delay:  DefaultReconnectDelay,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Connect opens the stream. ctx bounds the whole subscription, including later
// reconnects. Connecting while already connected is a no-op.
//
// A failed dial schedules the single reconnect attempt, except for 401 responses,
// which are never retried.
func (c *Client) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	c.ctx = ctx
	c.manual = false
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	s, err := c.dialer.Dial(ctx)
	if err != nil {
		c.log.Warn("notifications.connect.fail", "err", err)
		if !api.IsUnauthorized(err) && ctx.Err() == nil {
			c.mu.Lock()
			c.scheduleReconnectLocked()
			c.mu.Unlock()
		}
		return fmt.Errorf("notifications: connect: %w", err)
	}

	c.mu.Lock()
	if c.manual {
		// Disconnected while dialing.
		c.mu.Unlock()
		_ = s.Close()
		return nil
	}
	c.stream = s
	c.connected = true
	c.mu.Unlock()

	c.log.Info("notifications.connected")
	go c.readLoop(ctx, s)
	return nil
}

// Disconnect closes the stream on purpose. No reconnect follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.connected = false
	s := c.stream
	c.stream = nil
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	if s != nil {
		_ = s.Close()
		c.log.Info("notifications.disconnected")
	}
}

// Connected reports whether a stream is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Events returns a copy of the event log, most recent first.
func (c *Client) Events() []v1.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]v1.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Clear empties the event log.
func (c *Client) Clear() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

func (c *Client) readLoop(ctx context.Context, s Stream) {
	for {
		raw, err := s.Next(ctx)
		if err != nil {
			c.streamFailed(s, err)
			return
		}

		ev, err := parseEvent(raw)
		if err != nil {
			c.log.Warn("notifications.event.malformed", "err", err, "bytes", len(raw))
			continue
		}

		c.mu.Lock()
		stale := c.stream != s
		if !stale {
			c.push(ev)
		}
		c.mu.Unlock()
		if stale {
			return
		}

		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

// streamFailed handles the end of stream s. Errors from a stream that has
// already been replaced or closed on purpose are ignored.
func (c *Client) streamFailed(s Stream, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != s {
		return
	}
	c.stream = nil
	c.connected = false
	_ = s.Close()

	c.log.Warn("notifications.stream.error", "err", err)
	if c.manual || (c.ctx != nil && c.ctx.Err() != nil) {
		return
	}
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer unless one is already pending.
// c.mu must be held.
func (c *Client) scheduleReconnectLocked() {
	if c.retry != nil {
		return
	}
	c.log.Info("notifications.reconnect.scheduled", "delay", c.delay)

	var t stopper
	t = c.afterFunc(c.delay, func() {
		c.mu.Lock()
		if c.retry == t {
			c.retry = nil
		}
		skip := c.connected || c.manual
		ctx := c.ctx
		c.mu.Unlock()

		if skip {
			c.log.Debug("notifications.reconnect.skip")
			return
		}
		if ctx == nil || ctx.Err() != nil {
			return
		}
		_ = c.Connect(ctx)
	})
	c.retry = t
}

// push prepends ev and trims the log to MaxEvents. c.mu must be held.
func (c *Client) push(ev v1.Event) {
	c.events = append(c.events, v1.Event{})
	copy(c.events[1:], c.events)
	c.events[0] = ev
	if len(c.events) > MaxEvents {
		c.events = c.events[:MaxEvents]
	}
}

func parseEvent(raw []byte) (v1.Event, error) {
	var ev v1.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return v1.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return v1.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}
