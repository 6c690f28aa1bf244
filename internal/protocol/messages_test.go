package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/codepair/matchmaker/internal/language"
	"github.com/codepair/matchmaker/internal/user"
)

// ---------------------------------------------------------------------------
// Test: Parsing client messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_Heartbeat(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"heartbeat"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeHeartbeat {
		t.Fatalf("expected type %q, got %q", TypeHeartbeat, msgType)
	}
	if _, ok := msg.(HeartbeatMsg); !ok {
		t.Fatalf("expected HeartbeatMsg, got %T", msg)
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"heartbeat", `{"type":"heartbeat"}`, TypeHeartbeat},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"find_match"}`))
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "find_match" {
		t.Errorf("expected returned type %q, got %q", "find_match", msgType)
	}
}

func TestParseClientMessage_ServerTypeRejected(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"pair_proposal"}`)); err == nil {
		t.Fatal("server-only types must be rejected from clients")
	}
}

// ---------------------------------------------------------------------------
// Test: Server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_PairProposal(t *testing.T) {
	partner := user.PublicProfile{
		ID:          uuid.New(),
		Username:    "ferris",
		DisplayName: "Ferris",
		Languages: language.PreferenceSet{
			language.Rust: {Level: language.Expert, Priority: language.High},
		},
	}
	data, err := NewServerMessage(TypePairProposal, PairProposalMsg{
		Partner:  partner,
		Affinity: 466,
		Language: language.Rust,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypePairProposal {
		t.Errorf("expected type %q, got %v", TypePairProposal, result["type"])
	}
	if result["language"] != "rust" {
		t.Errorf("expected language slug, got %v", result["language"])
	}
	if a, ok := result["affinity"].(float64); !ok || int(a) != 466 {
		t.Errorf("expected affinity 466, got %v", result["affinity"])
	}

	var decoded PairProposalMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Partner.ID != partner.ID {
		t.Errorf("partner id mismatch: %s vs %s", decoded.Partner.ID, partner.ID)
	}
	if decoded.Partner.Languages.Get(language.Rust) != partner.Languages.Get(language.Rust) {
		t.Errorf("partner languages mismatch: %+v", decoded.Partner.Languages)
	}
}

func TestNewServerMessage_TypeOverridesPayload(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{Type: "something_else"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("unexpected encoding %s", data)
	}
}

func TestNewServerMessage_OnlineEmptyList(t *testing.T) {
	data := MustServerMessage(TypeOnline, OnlineMsg{Users: []user.PublicProfile{}})
	var decoded OnlineMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != TypeOnline || decoded.Users == nil || len(decoded.Users) != 0 {
		t.Errorf("unexpected online message: %+v", decoded)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"data":"no type field"}`), &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{invalid json}`), &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}
