package signaling

import (
	"context"
	"sync"

	v1 "privat/shared/contracts/realtime/v1"
)

const (
	memMaxSignalsPerMailbox = 1_000
)

// MemoryMailbox is the in-process Mailbox used when no database is configured.
//
// The registry lock only guards the map; each recipient queue has its own lock,
// so contention partitions by recipient.
type MemoryMailbox struct {
	mu     sync.RWMutex
	queues map[string]*memQueue
}

type memQueue struct {
	mu      sync.Mutex
	signals []v1.Signal
}

// NewMemoryMailbox constructs an in-memory Mailbox.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{
		queues: make(map[string]*memQueue),
	}
}

// Close closes the mailbox (noop for in-memory).
func (m *MemoryMailbox) Close() error { return nil }

// Enqueue appends sig to the recipient's queue, creating it lazily.
func (m *MemoryMailbox) Enqueue(ctx context.Context, sig v1.Signal) error {
	if err := validateForEnqueue(sig); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q := m.queue(sig.ToID, true)

	q.mu.Lock()
	q.signals = append(q.signals, sig)
	// Bound memory for recipients that never poll.
	if len(q.signals) > memMaxSignalsPerMailbox {
		q.signals = q.signals[len(q.signals)-memMaxSignalsPerMailbox:]
	}
	q.mu.Unlock()
	return nil
}

// Drain returns and clears the recipient's pending signals. An empty mailbox yields an empty slice.
func (m *MemoryMailbox) Drain(ctx context.Context, userID string) ([]v1.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := m.queue(userID, false)
	if q == nil {
		return []v1.Signal{}, nil
	}

	q.mu.Lock()
	out := q.signals
	q.signals = nil
	q.mu.Unlock()

	if out == nil {
		out = []v1.Signal{}
	}
	return out, nil
}

// Pending reports the number of queued signals for userID.
func (m *MemoryMailbox) Pending(userID string) int {
	q := m.queue(userID, false)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}

func (m *MemoryMailbox) queue(userID string, create bool) *memQueue {
	m.mu.RLock()
	q := m.queues[userID]
	m.mu.RUnlock()
	if q != nil || !create {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q = m.queues[userID]; q == nil {
		q = &memQueue{}
		m.queues[userID] = q
	}
	return q
}
