package fibaro

import (
	"encoding/json"
	"testing"

	"github.com/nerrad567/fibaro-bridge/internal/state"
)

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", StateTopic("Room3_Light2"), "fibaro/state/Room3_Light2"},
		{"scene", SceneTopic("Room3_Scene1"), "fibaro/scene/Room3_Scene1"},
		{"connection", ConnectionTopic("command"), "fibaro/connection/command"},
		{"command", CommandTopic("Room3_Light2"), "fibaro/command/Room3_Light2"},
		{"command subscribe", CommandSubscribeTopic(), "fibaro/command/+"},
		{"ack", AckTopic("Room3_Light2"), "fibaro/ack/Room3_Light2"},
		{"health", HealthTopic(), "fibaro/health/bridge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewStateMessage(t *testing.T) {
	tests := []struct {
		name       string
		derived    state.Derived
		wantStatus string
	}{
		{"on", state.Derived{Known: true, On: true, Level: 80}, "on"},
		{"off", state.Derived{Known: true, On: false, Level: 0}, "off"},
		{"unknown", state.Derived{}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewStateMessage("Room1_Light1", tt.derived)
			if msg.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", msg.Status, tt.wantStatus)
			}
			if msg.Key != "Room1_Light1" {
				t.Errorf("Key = %q", msg.Key)
			}
			if msg.Level != tt.derived.Level {
				t.Errorf("Level = %d, want %d", msg.Level, tt.derived.Level)
			}
			if msg.Timestamp.IsZero() {
				t.Error("Timestamp not set")
			}
		})
	}
}

func TestDeviceDocumentDecode(t *testing.T) {
	// Firmware sends values as numbers, numeric strings, or booleans.
	raw := `{"id": 37, "properties": {"value": "87", "level": 87}}`

	var doc DeviceDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.ID != 37 {
		t.Errorf("ID = %d, want 37", doc.ID)
	}
	on, ok := doc.Properties.Value.Truthy()
	if !ok || !on {
		t.Errorf("value %q should be truthy", doc.Properties.Value)
	}
	level := doc.Properties.LevelInt()
	if level == nil || *level != 87 {
		t.Errorf("LevelInt() = %v, want 87", level)
	}
}

func TestRefreshDocumentDecode(t *testing.T) {
	raw := `{"last": 9981, "changes": [{"id": 12, "value": true}, {"id": 44, "level": 30}]}`

	var doc RefreshDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Last != 9981 {
		t.Errorf("Last = %d, want 9981", doc.Last)
	}
	if len(doc.Changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(doc.Changes))
	}
	if doc.Changes[0].ID != 12 || doc.Changes[0].Value.IsAbsent() {
		t.Errorf("first change mis-decoded: %+v", doc.Changes[0])
	}
	if !doc.Changes[1].Value.IsAbsent() {
		t.Error("absent value should decode as absent")
	}
	if level := doc.Changes[1].LevelInt(); level == nil || *level != 30 {
		t.Errorf("second change level = %v, want 30", level)
	}
}

func TestNewLWTMessage(t *testing.T) {
	msg := NewLWTMessage("fibaro")
	if msg.Status != HealthOffline {
		t.Errorf("Status = %q, want %q", msg.Status, HealthOffline)
	}
	if msg.Reason != "unexpected_disconnect" {
		t.Errorf("Reason = %q", msg.Reason)
	}

	payload, err := MarshalMessage(msg)
	if err != nil {
		t.Fatalf("MarshalMessage: %v", err)
	}
	var decoded HealthMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Bridge != "fibaro" {
		t.Errorf("Bridge = %q", decoded.Bridge)
	}
}
