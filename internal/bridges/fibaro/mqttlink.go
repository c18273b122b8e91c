package fibaro

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fibaro-bridge/internal/registry"
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Commander is the dispatch surface the MQTT link drives.
// Satisfied by *Bridge; an interface so tests can stub it.
type Commander interface {
	Control(key string, action Action, level int) error
	ActivateScene(key string) error
	RefreshAll() error
}

// MQTTLink wires the bridge to the broker: outward it implements
// Publisher for state, scene, and connection messages; inward it
// consumes the command topics and dispatches to the bridge.
type MQTTLink struct {
	mqtt     MQTTClient
	commands Commander
	registry *registry.Registry
	qos      byte
	logger   Logger
}

// MQTTLinkOptions configures an MQTTLink.
type MQTTLinkOptions struct {
	Client   MQTTClient
	Commands Commander
	Registry *registry.Registry
	QoS      byte
	Logger   Logger
}

// NewMQTTLink creates the link. Call Start to subscribe.
func NewMQTTLink(opts MQTTLinkOptions) (*MQTTLink, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("fibaro: MQTT client is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("fibaro: commander is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("fibaro: registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTLink{
		mqtt:     opts.Client,
		commands: opts.Commands,
		registry: opts.Registry,
		qos:      opts.QoS,
		logger:   logger,
	}, nil
}

// Start subscribes to the command topics.
func (l *MQTTLink) Start() error {
	topic := CommandSubscribeTopic()
	if err := l.mqtt.Subscribe(topic, l.qos, l.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	l.logger.Info("subscribed to commands", "topic", topic)
	return nil
}

// PublishState implements Publisher. State messages are retained so late
// subscribers see the current picture.
func (l *MQTTLink) PublishState(msg StateMessage) error {
	payload, err := MarshalMessage(msg)
	if err != nil {
		return err
	}
	return l.mqtt.Publish(StateTopic(msg.Key), payload, l.qos, true)
}

// PublishScene implements Publisher. Scene lifecycle steps are momentary,
// not retained.
func (l *MQTTLink) PublishScene(msg SceneMessage) error {
	payload, err := MarshalMessage(msg)
	if err != nil {
		return err
	}
	return l.mqtt.Publish(SceneTopic(msg.Key), payload, l.qos, false)
}

// PublishConnection implements Publisher. Retained, so consumers always
// know the channel picture.
func (l *MQTTLink) PublishConnection(msg ConnectionMessage) error {
	payload, err := MarshalMessage(msg)
	if err != nil {
		return err
	}
	return l.mqtt.Publish(ConnectionTopic(msg.Channel), payload, l.qos, true)
}

// handleCommand consumes one message off a command topic.
func (l *MQTTLink) handleCommand(topic string, payload []byte) {
	key := topic[strings.LastIndex(topic, "/")+1:]
	if key == "" {
		l.logger.Warn("command on malformed topic", "topic", topic)
		return
	}

	cmd, err := parseCommandPayload(payload)
	if err != nil {
		l.logger.Warn("unparseable command payload", "key", key, "error", err)
		l.publishAck(key, cmd.ID, AckFailed, err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}

	entry, ok := l.registry.Lookup(key)
	if !ok {
		l.logger.Warn("command for unregistered key", "key", key)
		l.publishAck(key, cmd.ID, AckFailed, registry.ErrNotRegistered)
		return
	}

	var dispatchErr error
	switch entry.Kind {
	case registry.KindScene:
		dispatchErr = l.commands.ActivateScene(key)
	case registry.KindLight:
		var action Action
		action, dispatchErr = ParseAction(cmd.Action)
		if dispatchErr == nil {
			dispatchErr = l.commands.Control(key, action, cmd.Level)
		}
	}

	if dispatchErr != nil {
		l.logger.Warn("command dispatch failed",
			"key", key, "command_id", cmd.ID, "error", dispatchErr)
		l.publishAck(key, cmd.ID, AckFailed, dispatchErr)
		return
	}
	l.publishAck(key, cmd.ID, AckAccepted, nil)
}

// parseCommandPayload accepts the JSON command shape plus the bare forms
// panels tend to send: "on", "off", "toggle", or a bare level number.
func parseCommandPayload(payload []byte) (CommandMessage, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return CommandMessage{}, fmt.Errorf("%w: empty payload", ErrUnknownAction)
	}

	if strings.HasPrefix(trimmed, "{") {
		var cmd CommandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return CommandMessage{}, fmt.Errorf("decode command: %w", err)
		}
		return cmd, nil
	}

	if level, err := strconv.Atoi(trimmed); err == nil {
		return CommandMessage{Action: "setlevel", Level: level}, nil
	}

	return CommandMessage{Action: trimmed}, nil
}

// publishAck reports the command's outcome.
func (l *MQTTLink) publishAck(key, commandID string, status AckStatus, cause error) {
	ack := AckMessage{
		CommandID: commandID,
		Key:       key,
		Timestamp: time.Now().UTC(),
		Status:    status,
	}
	if cause != nil {
		ack.Error = cause.Error()
	}

	payload, err := MarshalMessage(ack)
	if err != nil {
		l.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := l.mqtt.Publish(AckTopic(key), payload, l.qos, false); err != nil {
		l.logger.Error("failed to publish ack", "error", err)
	}
}

// MultiPublisher fans one publication out to several publishers.
// The first error wins but every publisher still gets the message.
type MultiPublisher []Publisher

// PublishState implements Publisher.
func (m MultiPublisher) PublishState(msg StateMessage) error {
	var first error
	for _, p := range m {
		if err := p.PublishState(msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishScene implements Publisher.
func (m MultiPublisher) PublishScene(msg SceneMessage) error {
	var first error
	for _, p := range m {
		if err := p.PublishScene(msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishConnection implements Publisher.
func (m MultiPublisher) PublishConnection(msg ConnectionMessage) error {
	var first error
	for _, p := range m {
		if err := p.PublishConnection(msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
