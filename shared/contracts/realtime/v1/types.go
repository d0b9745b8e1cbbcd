package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownKind is returned when a signal carries a kind outside the closed set.
	ErrUnknownKind = errors.New("unknown signal kind")
	// ErrInvalidPayload is returned when a payload does not match the shape required by its kind.
	ErrInvalidPayload = errors.New("invalid signal payload")
)

// Kind identifies a signal variant (wire-stable).
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindHangup    Kind = "hangup"
)

// Mode is the media mode requested by a call offer.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

// Valid reports whether m is audio or video.
func (m Mode) Valid() bool { return m == ModeAudio || m == ModeVideo }

// SessionDescription is an opaque negotiation document (type + SDP body).
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is an opaque connectivity candidate.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Payload is the closed set of signal payloads: Offer, Answer, Candidate, Hangup.
// The unexported method keeps the set sealed to this package.
type Payload interface {
	Kind() Kind
	validate() error
}

// Offer opens a call.
type Offer struct {
	Mode               Mode               `json:"mode"`
	SessionDescription SessionDescription `json:"sessionDescription"`
}

// Answer accepts a call.
type Answer struct {
	SessionDescription SessionDescription `json:"sessionDescription"`
}

// Candidate carries one connectivity candidate.
type Candidate struct {
	Candidate ICECandidate `json:"candidate"`
}

// Hangup ends, declines, or refuses a call. Reason is informational ("busy", "declined", ...).
type Hangup struct {
	Reason string `json:"reason,omitempty"`
}

func (Offer) Kind() Kind     { return KindOffer }
func (Answer) Kind() Kind    { return KindAnswer }
func (Candidate) Kind() Kind { return KindCandidate }
func (Hangup) Kind() Kind    { return KindHangup }

func (p Offer) validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: offer mode %q", ErrInvalidPayload, p.Mode)
	}
	return validateDescription("offer", p.SessionDescription)
}

func (p Answer) validate() error {
	return validateDescription("answer", p.SessionDescription)
}

// An empty candidate string is the end-of-candidates marker and is allowed.
func (Candidate) validate() error { return nil }

func (Hangup) validate() error { return nil }

func validateDescription(want string, sd SessionDescription) error {
	if sd.Type != want {
		return fmt.Errorf("%w: session description type %q, want %q", ErrInvalidPayload, sd.Type, want)
	}
	if strings.TrimSpace(sd.SDP) == "" {
		return fmt.Errorf("%w: empty sdp", ErrInvalidPayload)
	}
	return nil
}

// ParseKind validates a raw kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindHangup:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// DecodePayload decodes raw according to kind and validates its shape.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	empty := len(raw) == 0 || bytes.Equal(raw, []byte("null"))

	var p Payload
	switch kind {
	case KindOffer:
		var o Offer
		if err := unmarshalPayload(raw, empty, &o); err != nil {
			return nil, err
		}
		if o.Mode == "" {
			o.Mode = ModeAudio
		}
		p = o
	case KindAnswer:
		var a Answer
		if err := unmarshalPayload(raw, empty, &a); err != nil {
			return nil, err
		}
		p = a
	case KindCandidate:
		var c Candidate
		if err := unmarshalPayload(raw, empty, &c); err != nil {
			return nil, err
		}
		p = c
	case KindHangup:
		var h Hangup
		if !empty {
			if err := json.Unmarshal(raw, &h); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		p = h
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func unmarshalPayload(raw json.RawMessage, empty bool, dst any) error {
	if empty {
		return fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Signal is one negotiation message addressed to exactly one recipient.
type Signal struct {
	ID        string
	FromID    string
	ToID      string
	Payload   Payload
	CreatedAt time.Time
}

// Kind returns the payload kind, or "" when the payload is unset.
func (s Signal) Kind() Kind {
	if s.Payload == nil {
		return ""
	}
	return s.Payload.Kind()
}

// Validate checks addressing and payload shape.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.ToID) == "" {
		return errors.New("missing field: toId")
	}
	if s.Payload == nil {
		return errors.New("missing field: kind")
	}
	return s.Payload.validate()
}

type signalWire struct {
	ID        string          `json:"id,omitempty"`
	FromID    string          `json:"fromId,omitempty"`
	ToID      string          `json:"toId"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt,omitzero"`
}

// MarshalJSON encodes the signal with an explicit kind discriminator.
func (s Signal) MarshalJSON() ([]byte, error) {
	w := signalWire{
		ID:        s.ID,
		FromID:    s.FromID,
		ToID:      s.ToID,
		Kind:      s.Kind(),
		CreatedAt: s.CreatedAt,
	}
	if s.Payload != nil {
		b, err := json.Marshal(s.Payload)
		if err != nil {
			return nil, err
		}
		w.Payload = b
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the kind discriminator and the matching payload variant.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var w signalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := ParseKind(string(w.Kind))
	if err != nil {
		return err
	}
	p, err := DecodePayload(kind, w.Payload)
	if err != nil {
		return err
	}
	*s = Signal{
		ID:        w.ID,
		FromID:    w.FromID,
		ToID:      w.ToID,
		Payload:   p,
		CreatedAt: w.CreatedAt,
	}
	return nil
}

// SendSignalRequest is the body of POST /call/signal.
type SendSignalRequest struct {
	ToID    string          `json:"toId"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendSignalResponse is the success body of POST /call/signal.
type SendSignalResponse struct {
	Message string `json:"message"`
}

// PendingSignalsResponse is the body of GET /call/pending.
type PendingSignalsResponse struct {
	Signals []Signal `json:"signals"`
}
