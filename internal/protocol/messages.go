// Package protocol defines the WebSocket messages exchanged on the presence
// channel. All messages are JSON objects with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codepair/matchmaker/internal/language"
	"github.com/codepair/matchmaker/internal/user"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeHeartbeat = "heartbeat"
	TypePing      = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeOnline       = "online"
	TypePairProposal = "pair_proposal"
	TypeRateLimited  = "rate_limited"
	TypeError        = "error"
	TypePong         = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeInvalidMessage = "invalid_message"
	CodeUnknownUser    = "unknown_user"
	CodeInternal       = "internal_error"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the payload can be decoded later into its concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// HeartbeatMsg is the client's periodic "I'm online" signal. The server
// touches presence and answers with the current online list.
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent once after the upgrade succeeds.
type ConnectedMsg struct {
	Type              string    `json:"type"`
	UserID            uuid.UUID `json:"user_id"`
	ConnectionID      string    `json:"connection_id"`
	HeartbeatInterval int       `json:"heartbeat_interval"` // seconds
}

// OnlineMsg lists the other users currently active.
type OnlineMsg struct {
	Type  string               `json:"type"`
	Users []user.PublicProfile `json:"users"`
}

// PairProposalMsg suggests a partner who just became reachable.
type PairProposalMsg struct {
	Type     string             `json:"type"`
	Partner  user.PublicProfile `json:"partner"`
	Affinity int                `json:"affinity"`
	Language language.Language  `json:"language"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeHeartbeat:
		var m HeartbeatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded server message. The msgType is
// injected into the payload under the "type" key, overriding whatever the
// payload struct carried.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// MustServerMessage is NewServerMessage for payloads that cannot fail to
// encode (the fixed structs above). It panics otherwise.
func MustServerMessage(msgType string, payload interface{}) []byte {
	b, err := NewServerMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return b
}
