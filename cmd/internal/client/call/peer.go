package call

import (
	"context"

	v1 "privat/shared/contracts/realtime/v1"
)

// Media is a captured local stream (audio, or audio+video).
type Media interface {
	Close() error
}

// MediaSource opens local media for a call mode.
type MediaSource interface {
	Open(ctx context.Context, mode v1.Mode) (Media, error)
}

// Peer is the negotiation resource for one call. Implementations must invoke
// PeerHandlers from their own goroutines, never from inside a Peer method.
type Peer interface {
	AddMedia(m Media) error
	// CreateOffer creates an offer and installs it as the local description.
	CreateOffer() (v1.SessionDescription, error)
	// CreateAnswer creates an answer and installs it as the local description.
	CreateAnswer() (v1.SessionDescription, error)
	SetRemoteDescription(sd v1.SessionDescription) error
	AddCandidate(c v1.ICECandidate) error
	Close() error
}

// PeerHandlers receive asynchronous peer events.
type PeerHandlers struct {
	// OnCandidate is called for each locally gathered candidate.
	OnCandidate func(c v1.ICECandidate)
	// OnRemoteTrack is called when remote media of the given kind arrives.
	OnRemoteTrack func(kind string)
	// OnFailed reports an unrecoverable connection failure.
	OnFailed func(err error)
}

// PeerFactory creates one Peer per call.
type PeerFactory interface {
	NewPeer(mode v1.Mode, h PeerHandlers) (Peer, error)
}

// SignalSender delivers a payload to another user's mailbox.
// *api.Client satisfies it.
type SignalSender interface {
	SendSignal(ctx context.Context, toID string, p v1.Payload) error
}
