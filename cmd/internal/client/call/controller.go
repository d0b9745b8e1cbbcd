// Package call drives one client's calls: the idle/calling/ringing/connected
// state machine, candidate buffering, and teardown of the negotiation
// resource and media.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	v1 "privat/shared/contracts/realtime/v1"
)

// State is the call status.
type State string

const (
	StateIdle      State = "idle"
	StateCalling   State = "calling"
	StateRinging   State = "ringing"
	StateConnected State = "connected"
)

const (
	opMedia      = "media"
	opStart      = "start"
	opAccept     = "accept"
	opAnswer     = "answer"
	opConnection = "connection"
)

// Hangup reasons carried on the wire.
const (
	ReasonEnded    = "ended"
	ReasonDeclined = "declined"
	ReasonBusy     = "busy"
	ReasonFailed   = "failed"
)

const sendTimeout = 10 * time.Second

// Session is a snapshot of the current call. PeerID and Mode are empty when idle.
type Session struct {
	PeerID string
	Mode   v1.Mode
	State  State
}

// Stats are cumulative counters for the controller's lifetime.
type Stats struct {
	CandidatesApplied  int
	CandidatesBuffered int
	CandidateErrors    int
	BusyRejected       int
}

// Controller owns at most one call. All operations, including signal handling
// and peer callbacks, are serialized by one mutex.
type Controller struct {
	log    *slog.Logger
	sender SignalSender
	peers  PeerFactory
	media  MediaSource
	hook   func(Session)

	mu        sync.Mutex
	session   Session
	incoming  *v1.Offer
	peer      Peer
	local     Media
	remote    []string
	remoteSet bool
	pending   []v1.ICECandidate
	gen       uint64
	lastErr   error
	stats     Stats
}

// Option configures a Controller.
type Option func(*Controller)

// WithStateHook registers fn to observe every session change. fn runs with
// the controller lock held and must not call back into the Controller.
func WithStateHook(fn func(Session)) Option {
	return func(c *Controller) { c.hook = fn }
}

// New constructs an idle Controller.
func New(log *slog.Logger, sender SignalSender, peers PeerFactory, media MediaSource, opts ...Option) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		log:     log,
		sender:  sender,
		peers:   peers,
		media:   media,
		session: Session{State: StateIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Session returns the current session snapshot.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// State returns the current call status.
func (c *Controller) State() State {
	return c.Session().State
}

// LastError returns the most recent negotiation failure, or nil. It is cleared
// when a new call starts or is accepted successfully.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Stats returns a copy of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RemoteTracks lists the kinds of remote media received in the current call.
func (c *Controller) RemoteTracks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.remote...)
}

// StartCall places a call to peerID and moves to calling.
func (c *Controller) StartCall(ctx context.Context, peerID string, mode v1.Mode) error {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return ErrInvalidPeer
	}
	if mode == "" {
		mode = v1.ModeAudio
	}
	if !mode.Valid() {
		return fmt.Errorf("call: invalid mode %q", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateIdle {
		return ErrBusy
	}

	c.gen++
	c.lastErr = nil
	if err := c.preparePeerLocked(ctx, peerID, mode); err != nil {
		return c.failLocked(opMediaOr(err, opStart), err, "")
	}

	offer, err := c.peer.CreateOffer()
	if err != nil {
		return c.failLocked(opStart, err, "")
	}
	if err := c.sender.SendSignal(ctx, peerID, v1.Offer{Mode: mode, SessionDescription: offer}); err != nil {
		return c.failLocked(opStart, err, "")
	}

	c.setLocked(Session{PeerID: peerID, Mode: mode, State: StateCalling})
	return nil
}

// AcceptCall answers the ringing call and moves to connected.
func (c *Controller) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateRinging || c.incoming == nil {
		return ErrNoIncomingCall
	}
	peerID, offer := c.session.PeerID, *c.incoming

	c.lastErr = nil
	if err := c.preparePeerLocked(ctx, peerID, offer.Mode); err != nil {
		return c.failLocked(opMediaOr(err, opAccept), err, peerID)
	}
	if err := c.peer.SetRemoteDescription(offer.SessionDescription); err != nil {
		return c.failLocked(opAccept, err, peerID)
	}
	c.remoteSet = true

	answer, err := c.peer.CreateAnswer()
	if err != nil {
		return c.failLocked(opAccept, err, peerID)
	}
	if err := c.sender.SendSignal(ctx, peerID, v1.Answer{SessionDescription: answer}); err != nil {
		return c.failLocked(opAccept, err, peerID)
	}

	c.incoming = nil
	c.flushLocked()
	c.setLocked(Session{PeerID: peerID, Mode: offer.Mode, State: StateConnected})
	return nil
}

// DeclineCall refuses the ringing call.
func (c *Controller) DeclineCall(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateRinging {
		return ErrNoIncomingCall
	}
	c.sendLocked(ctx, c.session.PeerID, v1.Hangup{Reason: ReasonDeclined})
	c.releaseLocked()
	return nil
}

// EndCall hangs up the current call. It is a no-op when idle.
func (c *Controller) EndCall(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State == StateIdle {
		return
	}
	reason := ReasonEnded
	if c.session.State == StateRinging {
		reason = ReasonDeclined
	}
	c.sendLocked(ctx, c.session.PeerID, v1.Hangup{Reason: reason})
	c.releaseLocked()
}

// HandleSignal applies one received signal. Signals must be fed in drain order.
func (c *Controller) HandleSignal(ctx context.Context, sig v1.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p := sig.Payload.(type) {
	case v1.Offer:
		c.onOfferLocked(ctx, sig.FromID, p)
	case v1.Answer:
		c.onAnswerLocked(sig.FromID, p)
	case v1.Candidate:
		c.onCandidateLocked(sig.FromID, p.Candidate)
	case v1.Hangup:
		c.onHangupLocked(sig.FromID, p)
	default:
		c.log.Warn("call.signal.unknown", "from_id", sig.FromID, "signal_id", sig.ID, "kind", sig.Kind())
	}
}

func (c *Controller) onOfferLocked(ctx context.Context, from string, offer v1.Offer) {
	if offer.Mode == "" {
		offer.Mode = v1.ModeAudio
	}

	switch {
	case c.session.State == StateIdle:
		c.gen++
		c.incoming = &offer
		c.setLocked(Session{PeerID: from, Mode: offer.Mode, State: StateRinging})
	case from != c.session.PeerID:
		c.stats.BusyRejected++
		c.log.Info("call.busy", "from_id", from, "peer_id", c.session.PeerID)
		c.sendLocked(ctx, from, v1.Hangup{Reason: ReasonBusy})
	case c.session.State == StateRinging:
		c.incoming = &offer
		c.session.Mode = offer.Mode
		c.log.Debug("call.offer.replaced", "peer_id", from)
	default:
		c.log.Debug("call.offer.ignored", "peer_id", from, "state", c.session.State)
	}
}

func (c *Controller) onAnswerLocked(from string, answer v1.Answer) {
	if c.session.State != StateCalling || from != c.session.PeerID {
		c.log.Debug("call.answer.ignored", "from_id", from, "state", c.session.State)
		return
	}
	if err := c.peer.SetRemoteDescription(answer.SessionDescription); err != nil {
		_ = c.failLocked(opAnswer, err, from)
		return
	}
	c.remoteSet = true
	c.flushLocked()
	c.session.State = StateConnected
	c.notifyLocked()
}

func (c *Controller) onCandidateLocked(from string, cand v1.ICECandidate) {
	if c.session.State == StateIdle || from != c.session.PeerID {
		c.log.Debug("call.candidate.ignored", "from_id", from, "state", c.session.State)
		return
	}
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.stats.CandidatesBuffered++
		return
	}
	c.applyLocked(cand)
}

func (c *Controller) onHangupLocked(from string, h v1.Hangup) {
	if c.session.State == StateIdle || from != c.session.PeerID {
		c.log.Debug("call.hangup.ignored", "from_id", from, "state", c.session.State)
		return
	}
	c.log.Info("call.hangup.remote", "peer_id", from, "reason", h.Reason)
	c.releaseLocked()
}

func (c *Controller) preparePeerLocked(ctx context.Context, peerID string, mode v1.Mode) error {
	local, err := c.media.Open(ctx, mode)
	if err != nil {
		return &mediaError{err}
	}
	c.local = local

	gen := c.gen
	peer, err := c.peers.NewPeer(mode, PeerHandlers{
		OnCandidate:   func(cand v1.ICECandidate) { c.localCandidate(gen, cand) },
		OnRemoteTrack: func(kind string) { c.remoteTrack(gen, kind) },
		OnFailed:      func(err error) { c.peerFailed(gen, err) },
	})
	if err != nil {
		return err
	}
	c.peer = peer
	return c.peer.AddMedia(local)
}

func (c *Controller) flushLocked() {
	pending := c.pending
	c.pending = nil
	for _, cand := range pending {
		c.applyLocked(cand)
	}
}

func (c *Controller) applyLocked(cand v1.ICECandidate) {
	if err := c.peer.AddCandidate(cand); err != nil {
		c.stats.CandidateErrors++
		c.log.Warn("call.candidate.fail", "peer_id", c.session.PeerID, "err", err)
		return
	}
	c.stats.CandidatesApplied++
}

func (c *Controller) localCandidate(gen uint64, cand v1.ICECandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.session.State == StateIdle {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	c.sendLocked(ctx, c.session.PeerID, v1.Candidate{Candidate: cand})
}

func (c *Controller) remoteTrack(gen uint64, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	c.remote = append(c.remote, kind)
	c.log.Debug("call.track.remote", "peer_id", c.session.PeerID, "track_kind", kind)
}

func (c *Controller) peerFailed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.session.State == StateIdle {
		return
	}
	_ = c.failLocked(opConnection, err, c.session.PeerID)
}

// failLocked records a NegotiationError, tells notifyPeer (when non-empty) the
// call is over, and releases everything.
func (c *Controller) failLocked(op string, err error, notifyPeer string) error {
	nerr := &NegotiationError{Op: op, Err: err}
	c.lastErr = nerr
	c.log.Warn("call.fail", "op", op, "peer_id", c.session.PeerID, "err", err)

	if notifyPeer != "" {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		c.sendLocked(ctx, notifyPeer, v1.Hangup{Reason: ReasonFailed})
		cancel()
	}
	c.releaseLocked()
	return nerr
}

// releaseLocked tears down media and the peer and returns to idle. Callbacks
// from the released peer are dropped by the generation check.
func (c *Controller) releaseLocked() {
	c.gen++
	if c.peer != nil {
		if err := c.peer.Close(); err != nil {
			c.log.Debug("call.peer.close.fail", "err", err)
		}
		c.peer = nil
	}
	if c.local != nil {
		if err := c.local.Close(); err != nil {
			c.log.Debug("call.media.close.fail", "err", err)
		}
		c.local = nil
	}
	c.incoming = nil
	c.remote = nil
	c.remoteSet = false
	c.pending = nil
	c.setLocked(Session{State: StateIdle})
}

func (c *Controller) sendLocked(ctx context.Context, to string, p v1.Payload) {
	if err := c.sender.SendSignal(ctx, to, p); err != nil {
		c.log.Warn("call.send.fail", "to_id", to, "kind", p.Kind(), "err", err)
	}
}

func (c *Controller) setLocked(s Session) {
	if s == c.session {
		return
	}
	c.session = s
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	c.log.Info("call.state", "state", c.session.State, "peer_id", c.session.PeerID, "mode", c.session.Mode)
	if c.hook != nil {
		c.hook(c.session)
	}
}

type mediaError struct{ err error }

func (e *mediaError) Error() string { return e.err.Error() }
func (e *mediaError) Unwrap() error { return e.err }

func opMediaOr(err error, op string) string {
	var me *mediaError
	if errors.As(err, &me) {
		return opMedia
	}
	return op
}
