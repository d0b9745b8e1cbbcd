package notify

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "privat/shared/contracts/realtime/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(t *testing.T, msg string) v1.Event {
	t.Helper()

	ev, err := v1.NewEvent(v1.EventMessage, msg, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func recv(t *testing.T, sub *Subscriber) v1.Event {
	t.Helper()

	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event on %s", sub.ID)
		return v1.Event{}
	}
}

func TestHub_BroadcastWithoutSubscribersIsNoop(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger())
	bob, unsubscribe := h.Subscribe("bob")
	defer unsubscribe()

	if n := h.Broadcast("alice", testEvent(t, "hi")); n != 0 {
		t.Fatalf("delivered=%d want 0", n)
	}

	select {
	case ev := <-bob.Events():
		t.Fatalf("bob received alice's event: %+v", ev)
	default:
	}
	if h.Subscribers("bob") != 1 {
		t.Fatalf("bob's subscription disturbed")
	}
}

func TestHub_FanOutToEverySubscriberOfUser(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger())
	a1, u1 := h.Subscribe("alice")
	defer u1()
	a2, u2 := h.Subscribe("alice")
	defer u2()
	other, u3 := h.Subscribe("carol")
	defer u3()

	if n := h.Broadcast("alice", testEvent(t, "hello")); n != 2 {
		t.Fatalf("delivered=%d want 2", n)
	}

	e1, e2 := recv(t, a1), recv(t, a2)
	if e1.Message != "hello" || e2.Message != "hello" {
		t.Fatalf("unexpected events: %+v %+v", e1, e2)
	}
	if e1.ID == "" || e1.ID != e2.ID {
		t.Fatalf("broadcast should stamp one id for all subscribers: %q %q", e1.ID, e2.ID)
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("carol received %+v", ev)
	default:
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger())
	sub, unsubscribe := h.Subscribe("alice")

	unsubscribe()
	unsubscribe()

	select {
	case <-sub.Done():
	default:
		t.Fatalf("Done not closed after unsubscribe")
	}
	if h.Subscribers("alice") != 0 {
		t.Fatalf("subscriber still registered")
	}
	if n := h.Broadcast("alice", testEvent(t, "late")); n != 0 {
		t.Fatalf("delivered=%d to removed subscriber", n)
	}
}

func TestHub_SaturatedSubscriberIsEvicted(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger(), WithQueueSize(minQueueSize))
	slow, u1 := h.Subscribe("alice")
	defer u1()

	for i := 0; i < minQueueSize; i++ {
		if n := h.Broadcast("alice", testEvent(t, "fill")); n != 1 {
			t.Fatalf("fill %d: delivered=%d", i, n)
		}
	}

	fresh, u2 := h.Subscribe("alice")
	defer u2()

	if n := h.Broadcast("alice", testEvent(t, "overflow")); n != 1 {
		t.Fatalf("delivered=%d want 1 (fresh subscriber only)", n)
	}
	select {
	case <-slow.Done():
	default:
		t.Fatalf("saturated subscriber not evicted")
	}
	if got := recv(t, fresh); got.Message != "overflow" {
		t.Fatalf("fresh got %q", got.Message)
	}
	if h.Subscribers("alice") != 1 {
		t.Fatalf("subscribers=%d want 1", h.Subscribers("alice"))
	}
}

func TestHub_ConcurrentSubscribeBroadcastUnsubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger())
	ev := testEvent(t, "storm")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, unsubscribe := h.Subscribe("alice")
				go unsubscribe()
				unsubscribe()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Broadcast("alice", ev)
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers("alice") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers=%d after all unsubscribed", h.Subscribers("alice"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
