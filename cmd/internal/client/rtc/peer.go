package rtc

import (
	"errors"
	"fmt"

	"privat/cmd/internal/client/call"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/pion/webrtc/v4"
)

// ErrForeignMedia is returned by AddMedia for media not opened by this package.
var ErrForeignMedia = errors.New("rtc: media not created by rtc.MediaSource")

// Peer wraps one pion PeerConnection.
type Peer struct {
	pc *webrtc.PeerConnection
}

var _ call.Peer = (*Peer)(nil)

// AddMedia attaches the local tracks of m.
func (p *Peer) AddMedia(m call.Media) error {
	lm, ok := m.(*LocalMedia)
	if !ok {
		return ErrForeignMedia
	}
	for _, track := range lm.tracks() {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("rtc: add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

func (p *Peer) CreateOffer() (v1.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return v1.SessionDescription{}, fmt.Errorf("rtc: create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return v1.SessionDescription{}, fmt.Errorf("rtc: set local offer: %w", err)
	}
	return fromPion(offer), nil
}

func (p *Peer) CreateAnswer() (v1.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return v1.SessionDescription{}, fmt.Errorf("rtc: create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return v1.SessionDescription{}, fmt.Errorf("rtc: set local answer: %w", err)
	}
	return fromPion(answer), nil
}

func (p *Peer) SetRemoteDescription(sd v1.SessionDescription) error {
	typ := webrtc.NewSDPType(sd.Type)
	if typ == webrtc.SDPTypeUnknown {
		return fmt.Errorf("rtc: unknown sdp type %q", sd.Type)
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sd.SDP}); err != nil {
		return fmt.Errorf("rtc: set remote %s: %w", sd.Type, err)
	}
	return nil
}

// AddCandidate applies a remote candidate. An empty candidate is the
// end-of-candidates marker and is accepted without effect.
func (p *Peer) AddCandidate(c v1.ICECandidate) error {
	if c.Candidate == "" {
		return nil
	}
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

// ConnectionState exposes the pion connection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

func fromPion(sd webrtc.SessionDescription) v1.SessionDescription {
	return v1.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

// drainRTCP reads incoming RTCP so NACK/PLI interceptors work. It returns
// when the sender is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
