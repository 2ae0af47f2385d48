package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlType discriminates text control frames on the wire.
type ControlType string

const (
	// TypeAwareness carries a peer's presence payload. A null state means the
	// client's awareness entry was removed.
	TypeAwareness ControlType = "awareness"

	// TypeSyncRequest asks the relay for a fresh snapshot, or for the missing
	// deltas when the frame carries a state vector.
	TypeSyncRequest ControlType = "sync-request"

	TypePing ControlType = "ping"
	TypePong ControlType = "pong"
)

// Envelope is the JSON shape of every text frame. Binary frames are raw
// CRDT delta or snapshot bytes and never pass through this codec.
type Envelope struct {
	Type     ControlType     `json:"type"`
	ClientID string          `json:"clientId,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`

	// SV optionally carries a base64 state vector on sync-request frames.
	SV string `json:"sv,omitempty"`
}

var (
	ErrUnknownType = fmt.Errorf("unknown control frame type")
	ErrTooLarge    = fmt.Errorf("awareness payload too large")
	ErrEmptyFrame  = fmt.Errorf("empty frame")
)

// Decode parses a text frame and enforces the awareness payload size bound.
func Decode(data []byte, maxAwarenessBytes int) (Envelope, error) {
	var env Envelope
	if len(data) == 0 {
		return env, ErrEmptyFrame
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode control frame: %w", err)
	}

	switch env.Type {
	case TypeAwareness:
		if maxAwarenessBytes > 0 && len(env.State) > maxAwarenessBytes {
			return env, ErrTooLarge
		}
	case TypeSyncRequest, TypePing, TypePong:
	default:
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

// IsRemoval reports whether an awareness envelope clears the entry rather
// than setting it.
func (e Envelope) IsRemoval() bool {
	return len(e.State) == 0 || string(e.State) == "null"
}

// Awareness encodes a presence broadcast frame. Returns nil if the state is
// not valid JSON, which callers treat as nothing to send.
func Awareness(clientID string, state json.RawMessage) []byte {
	return marshal(Envelope{Type: TypeAwareness, ClientID: clientID, State: state})
}

// AwarenessRemoval encodes the frame broadcast when a client's presence entry
// is cleared.
func AwarenessRemoval(clientID string) []byte {
	return marshal(Envelope{Type: TypeAwareness, ClientID: clientID, State: json.RawMessage("null")})
}

func Pong() []byte {
	return marshal(Envelope{Type: TypePong})
}

func marshal(env Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return data
}

// ValidateDelta sanity-checks an inbound binary frame before it reaches the
// document. Delta contents are opaque, so only emptiness is rejected.
func ValidateDelta(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	return nil
}
