// Package poller drains the caller's signal mailbox on a fixed interval and
// hands each signal, in order, to a handler.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	v1 "privat/shared/contracts/realtime/v1"
)

// DefaultInterval is the fixed polling period.
const DefaultInterval = 3 * time.Second

// Source drains pending signals for the authenticated user.
type Source interface {
	PendingSignals(ctx context.Context) ([]v1.Signal, error)
}

// Handler consumes one signal. Signals are delivered sequentially.
type Handler func(ctx context.Context, sig v1.Signal)

// Poller runs the drain loop. Construct one per client session.
type Poller struct {
	log      *slog.Logger
	source   Source
	handle   Handler
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// drainMu serializes drains so signals reach the handler in mailbox order
	// even when PollOnce is also called outside the loop.
	drainMu sync.Mutex
	stopped bool
}

// New constructs a Poller. A non-positive interval selects DefaultInterval.
func New(log *slog.Logger, source Source, handle Handler, interval time.Duration) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{log: log, source: source, handle: handle, interval: interval}
}

// Start runs one drain immediately and then one per interval until Stop or ctx
// cancellation. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.drainMu.Lock()
	p.stopped = false
	p.drainMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx, p.done)
}

// Stop cancels the loop and waits for an in-flight drain to finish. No drain
// starts after Stop returns. Stopping a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.drainMu.Lock()
	p.stopped = true
	p.drainMu.Unlock()
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		p.PollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// PollOnce performs a single drain. Errors are logged; the next tick retries.
// It is a no-op once Stop has returned.
func (p *Poller) PollOnce(ctx context.Context) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	if p.stopped || ctx.Err() != nil {
		return
	}

	signals, err := p.source.PendingSignals(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("poller.drain.fail", "err", err)
		}
		return
	}

	for _, sig := range signals {
		// Signals already drained are handed over even if Stop races in;
		// the mailbox will not return them again.
		p.handle(ctx, sig)
	}
	if len(signals) > 0 {
		p.log.Debug("poller.drain", "count", len(signals))
	}
}
