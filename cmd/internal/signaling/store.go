// Package signaling implements the per-recipient call signal mailbox and its HTTP surface.
//
// Signals are queued for exactly one recipient and removed when that recipient drains
// its mailbox. There is no persistence beyond that single delivery.
package signaling

import (
	"context"
	"errors"
	"fmt"

	v1 "privat/shared/contracts/realtime/v1"
)

// ErrInvalidSignal is returned when a signal cannot be queued (missing recipient, sender, or payload).
var ErrInvalidSignal = errors.New("invalid signal")

// Mailbox queues signals per recipient.
//
// Requirements:
//   - Drain returns the recipient's pending signals in insertion order and empties the queue.
//   - Drain is atomic against concurrent Enqueue for the same recipient: every signal is
//     returned by exactly one Drain.
//   - Queues for different recipients never observe each other's signals.
type Mailbox interface {
	Enqueue(ctx context.Context, sig v1.Signal) error
	Drain(ctx context.Context, userID string) ([]v1.Signal, error)
	Close() error
}

func validateForEnqueue(sig v1.Signal) error {
	if sig.FromID == "" {
		return fmt.Errorf("%w: missing fromId", ErrInvalidSignal)
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	return nil
}
