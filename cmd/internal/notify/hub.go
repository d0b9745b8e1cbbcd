package notify

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"privat/cmd/identity/ids"

	v1 "privat/shared/contracts/realtime/v1"
)

// Hub is the registry of live subscribers, keyed by user id.
//
// Concurrency guarantees:
// - Subscribe/unsubscribe mutate the registry under the registry lock.
// - Broadcast holds the registry lock only to find the user's set; delivery runs
//   under that user's lock, so traffic for different users does not contend.
// - Broadcast never blocks. A subscriber that is closed or saturated is evicted.
type Hub struct {
	log       *slog.Logger
	metrics   *Metrics
	queueSize int
	now       func() time.Time

	mu    sync.RWMutex
	users map[string]*subscriberSet
}

type subscriberSet struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithQueueSize sets the per-subscriber queue length.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n < minQueueSize {
			n = minQueueSize
		}
		h.queueSize = n
	}
}

// WithHubMetrics attaches hub collectors.
func WithHubMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:       log,
		queueSize: defaultQueueSize,
		now:       func() time.Time { return time.Now().UTC() },
		users:     make(map[string]*subscriberSet),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h
}

// Subscribe registers a new subscriber for userID. The returned func removes it;
// it is idempotent and safe to call concurrently with Broadcast.
func (h *Hub) Subscribe(userID string) (*Subscriber, func()) {
	userID = strings.TrimSpace(userID)
	sub := newSubscriber(ids.MustNewULID(h.now()), userID, h.queueSize)

	h.mu.Lock()
	set, ok := h.users[userID]
	if !ok {
		set = &subscriberSet{subs: make(map[string]*Subscriber)}
		h.users[userID] = set
	}
	set.mu.Lock()
	set.subs[sub.ID] = sub
	n := len(set.subs)
	set.mu.Unlock()
	h.mu.Unlock()

	h.metrics.subscribers.Inc()
	h.log.Info("notify.subscribe", "user_id", userID, "subscriber_id", sub.ID, "subscribers", n)

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			if h.remove(sub) {
				h.log.Info("notify.unsubscribe", "user_id", userID, "subscriber_id", sub.ID)
			}
		})
	}
}

// Broadcast delivers ev to every subscriber of userID and returns how many
// accepted it. A user with no subscribers is a silent no-op.
func (h *Hub) Broadcast(userID string, ev v1.Event) int {
	userID = strings.TrimSpace(userID)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}
	if ev.ID == "" {
		if id, err := ids.NewULID(ev.Timestamp); err == nil {
			ev.ID = id
		}
	}

	h.mu.RLock()
	set := h.users[userID]
	h.mu.RUnlock()
	if set == nil {
		return 0
	}

	var (
		delivered int
		evicted   []*Subscriber
	)

	set.mu.RLock()
	for _, sub := range set.subs {
		if sub.offer(ev) {
			delivered++
			continue
		}
		evicted = append(evicted, sub)
	}
	set.mu.RUnlock()

	for _, sub := range evicted {
		if h.remove(sub) {
			h.metrics.evicted.Inc()
			h.log.Warn("notify.subscriber.evicted", "user_id", userID, "subscriber_id", sub.ID)
		}
	}

	h.metrics.delivered.WithLabelValues(string(ev.Type)).Add(float64(delivered))
	return delivered
}

// Subscribers returns the number of live subscribers of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	set := h.users[strings.TrimSpace(userID)]
	h.mu.RUnlock()
	if set == nil {
		return 0
	}
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.subs)
}

// remove deregisters sub and signals its shutdown. It reports whether sub was
// still registered.
func (h *Hub) remove(sub *Subscriber) bool {
	h.mu.Lock()
	set := h.users[sub.UserID]
	found := false
	if set != nil {
		set.mu.Lock()
		if cur, ok := set.subs[sub.ID]; ok && cur == sub {
			delete(set.subs, sub.ID)
			found = true
		}
		if len(set.subs) == 0 {
			delete(h.users, sub.UserID)
		}
		set.mu.Unlock()
	}
	h.mu.Unlock()

	// Membership removal happens before close so broadcasters never observe a
	// registered subscriber that is already shut down for good.
	sub.close()

	if found {
		h.metrics.subscribers.Dec()
	}
	return found
}
