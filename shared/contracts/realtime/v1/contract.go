// Package v1 defines the privat realtime contract: notification events pushed to a
// user's stream and the call signals exchanged through the per-recipient mailbox.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the contract version, also used as the WebSocket subprotocol suffix.
const Version = "v1"

// Subprotocol is negotiated on the WebSocket variant of the notification stream.
const Subprotocol = "privat.notify." + Version

// EventType categorises a notification event (wire-stable).
type EventType string

const (
	// EventSystem is emitted by the server itself (e.g. the initial "connected" event).
	EventSystem EventType = "system"
	// EventMessage reports a new chat message.
	EventMessage EventType = "message"
	// EventFriend reports friendship changes.
	EventFriend EventType = "friend"
	// EventGroup reports group membership changes.
	EventGroup EventType = "group"
	// EventCall reports call activity (e.g. an incoming offer).
	EventCall EventType = "call"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSystem, EventMessage, EventFriend, EventGroup, EventCall:
		return true
	default:
		return false
	}
}

// Event is an immutable notification delivered to every open stream of one user.
// Events are never persisted.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      EventType       `json:"type"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Validate performs structural validation for an Event.
func (e Event) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return errors.New("missing field: type")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unsupported event type: %q", e.Type)
	}
	if e.Timestamp.IsZero() {
		return errors.New("missing field: timestamp")
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return errors.New("invalid field: data")
	}
	return nil
}

// NewEvent builds an Event with data marshalled to JSON. A nil data leaves Data empty.
func NewEvent(typ EventType, message string, data any, now time.Time) (Event, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ev := Event{Type: typ, Message: message, Timestamp: now}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal event data: %w", err)
		}
		ev.Data = b
	}
	return ev, ev.Validate()
}

// PublicProfile is the sanitized view of a user that may be shown to other users.
// Email and credentials never appear here.
type PublicProfile struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// SystemConnectedData is carried by the first system event of every stream.
type SystemConnectedData struct {
	User PublicProfile `json:"user"`
}

// CallNotificationData is carried by the call event broadcast when an offer is enqueued.
type CallNotificationData struct {
	FromID string `json:"fromId"`
	Mode   Mode   `json:"mode"`
}
