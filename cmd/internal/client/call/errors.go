package call

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a call is started while another is in progress.
	ErrBusy = errors.New("call: already in a call")
	// ErrNoIncomingCall is returned by AcceptCall/DeclineCall when nothing is ringing.
	ErrNoIncomingCall = errors.New("call: no incoming call")
	// ErrInvalidPeer is returned for an empty or self peer id.
	ErrInvalidPeer = errors.New("call: invalid peer")
)

// NegotiationError is an unrecoverable negotiation or media failure. The
// session is released to idle whenever one is produced.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("call %s failed: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// Message is the user-visible description of the failure.
func (e *NegotiationError) Message() string {
	switch e.Op {
	case opMedia:
		return "cannot access microphone/camera"
	case opStart:
		return "failed to start the call"
	case opAccept:
		return "failed to accept the call"
	case opAnswer:
		return "failed to connect the call"
	default:
		return "call connection lost"
	}
}
