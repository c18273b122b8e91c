package fibaro

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/fibaro-bridge/internal/state"
)

// Hub document shapes.
//
// Device values ride the same loose typing everywhere: value and level can
// be numbers, numeric strings, or booleans depending on firmware, so both
// decode into state.Value and interpretation happens at reconciliation.

// DeviceDocument is the full device fetch response (GET /api/devices/{id}).
type DeviceDocument struct {
	ID         int              `json:"id"`
	Properties DeviceProperties `json:"properties"`
}

// DeviceProperties carries the state-bearing subset of a device document.
type DeviceProperties struct {
	Value state.Value `json:"value"`
	Level state.Value `json:"level"`
}

// LevelInt extracts a usable integer level, when one is present.
func (p DeviceProperties) LevelInt() *int {
	n, ok := p.Level.Num()
	if !ok {
		return nil
	}
	level := int(n)
	return &level
}

// RefreshDocument is a long-poll response (GET /api/refreshStates).
type RefreshDocument struct {
	Last    int64           `json:"last"`
	Changes []RefreshChange `json:"changes"`
}

// RefreshChange is one state delta inside a refresh document.
// Value and level are both optional; absent fields decode as absent values.
type RefreshChange struct {
	ID    int         `json:"id"`
	Value state.Value `json:"value"`
	Level state.Value `json:"level"`
}

// LevelInt extracts a usable integer level, when one is present.
func (c RefreshChange) LevelInt() *int {
	n, ok := c.Level.Num()
	if !ok {
		return nil
	}
	level := int(n)
	return &level
}

// MQTT message types for the bridge's outward surface.

// SceneStatus is the lifecycle of a fire-and-forget scene activation.
type SceneStatus string

const (
	// SceneActivated is published the moment the activation is dispatched.
	SceneActivated SceneStatus = "activated"

	// SceneReady is published once the hub acknowledges the activation.
	SceneReady SceneStatus = "ready"
)

// StateMessage reports a device's normalized state.
// Topic: fibaro/state/{key}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Key is the room/slot identifier, e.g. "Room3_Light2".
	Key string `json:"key"`

	// Timestamp is when the state was derived (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// On is the normalized power state.
	On bool `json:"on"`

	// Level is the normalized brightness, 0-100.
	Level int `json:"level"`

	// Status is the human-readable form ("on"/"off"/"unknown").
	Status string `json:"status"`
}

// SceneMessage reports a scene activation lifecycle step.
// Topic: fibaro/scene/{key}
type SceneMessage struct {
	Key       string      `json:"key"`
	Timestamp time.Time   `json:"timestamp"`
	Status    SceneStatus `json:"status"`
}

// ConnectionMessage reports a channel or bridge connection transition.
// Topic: fibaro/connection/{channel}
// QoS: 1, Retained: Yes
type ConnectionMessage struct {
	Channel   string    `json:"channel"` // "command", "refresh", or "bridge"
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"` // "connected", "connecting", "disconnected"
}

// CommandMessage is consumed from the command topics to drive a device.
// Topic: fibaro/command/{key}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Assigned by the
	// bridge when the sender omits it.
	ID string `json:"id,omitempty"`

	// Action is the command name: "on", "off", "toggle", "setlevel".
	Action string `json:"action"`

	// Level accompanies "setlevel".
	Level int `json:"level,omitempty"`
}

// AckStatus is the outcome of a consumed command.
type AckStatus string

const (
	// AckAccepted means the command was written to the hub.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a consumed command.
// Topic: fibaro/ack/{key}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates both broker and hub connections are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running with a connection down.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is gone (published via LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the periodic health report.
// Topic: fibaro/health/bridge
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds,omitempty"`
	Devices       int          `json:"devices,omitempty"`
	Scenes        int          `json:"scenes,omitempty"`
	Hub           *HubStatus   `json:"hub,omitempty"`
	Statistics    *Stats       `json:"statistics,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// HubStatus describes the two hub channels inside a health report.
type HubStatus struct {
	Command string `json:"command"`
	Refresh string `json:"refresh"`
	Address string `json:"address,omitempty"`
}

// NewStateMessage builds a StateMessage from a derived state.
func NewStateMessage(key string, d state.Derived) StateMessage {
	status := "unknown"
	if d.Known {
		if d.On {
			status = "on"
		} else {
			status = "off"
		}
	}
	return StateMessage{
		Key:       key,
		Timestamp: time.Now().UTC(),
		On:        d.On,
		Level:     d.Level,
		Status:    status,
	}
}

// NewSceneMessage builds a SceneMessage.
func NewSceneMessage(key string, status SceneStatus) SceneMessage {
	return SceneMessage{
		Key:       key,
		Timestamp: time.Now().UTC(),
		Status:    status,
	}
}

// NewLWTMessage creates the Last Will and Testament payload.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// MarshalMessage serializes any outward message, for publishers.
func MarshalMessage(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("fibaro: marshal message: %w", err)
	}
	return data, nil
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all bridge messages.
	TopicPrefix = "fibaro"
)

// StateTopic returns the MQTT topic for a device's normalized state.
// Example: fibaro/state/Room3_Light2
func StateTopic(key string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, key)
}

// SceneTopic returns the MQTT topic for scene lifecycle messages.
// Example: fibaro/scene/Room3_Scene1
func SceneTopic(key string) string {
	return fmt.Sprintf("%s/scene/%s", TopicPrefix, key)
}

// ConnectionTopic returns the MQTT topic for channel status.
// Example: fibaro/connection/command
func ConnectionTopic(channel string) string {
	return fmt.Sprintf("%s/connection/%s", TopicPrefix, channel)
}

// CommandTopic returns the MQTT topic commands arrive on for a key.
// Example: fibaro/command/Room3_Light2
func CommandTopic(key string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, key)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
// Example: fibaro/command/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: fibaro/ack/Room3_Light2
func AckTopic(key string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, key)
}

// HealthTopic returns the MQTT topic for health status.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/bridge", TopicPrefix)
}
