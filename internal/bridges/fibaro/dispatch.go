package fibaro

import (
	"fmt"

	"github.com/nerrad567/fibaro-bridge/internal/registry"
)

// Command dispatch. Commands ride the command channel only, and only
// while it is connected. State is written optimistically at issue time;
// the refresh stream later confirms or corrects it.

// Control executes a device action. Level is only meaningful with
// ActionSetLevel.
func (b *Bridge) Control(key string, action Action, level int) error {
	entry, ok := b.opts.Registry.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrNotRegistered, key)
	}
	if entry.Kind != registry.KindLight {
		return fmt.Errorf("%w: %s is not a device", ErrUnknownAction, key)
	}

	// Toggle resolves against the tracked state before dispatch.
	if action == ActionToggle {
		if derived, ok := b.opts.States.Get(key); ok && derived.On {
			action = ActionOff
		} else {
			action = ActionOn
		}
	}

	var path string
	var body []byte
	switch action {
	case ActionOn:
		path = deviceActionPath(entry.HubID, "turnOn")
	case ActionOff:
		path = deviceActionPath(entry.HubID, "turnOff")
	case ActionSetLevel:
		path = deviceActionPath(entry.HubID, "setValue")
		body = setValueBody(level)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, action.String())
	}

	if err := b.sendCommand(pendingRequest{
		kind:   pendingAction,
		key:    key,
		hubID:  entry.HubID,
		action: action,
	}, "POST", path, body); err != nil {
		return err
	}

	// Optimistic update: the hub will confirm via the refresh stream.
	b.applyOptimistic(key, action, level)

	b.logger.Info("device command dispatched",
		"key", key, "action", action.String(), "level", level)
	return nil
}

// ActivateScene executes a scene, fire-and-forget. The activated status
// goes out immediately; ready follows on the hub's acknowledgment.
func (b *Bridge) ActivateScene(key string) error {
	entry, ok := b.opts.Registry.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrNotRegistered, key)
	}
	if entry.Kind != registry.KindScene {
		return fmt.Errorf("%w: %s is not a scene", ErrUnknownAction, key)
	}

	if err := b.sendCommand(pendingRequest{
		kind:  pendingScene,
		key:   key,
		hubID: entry.HubID,
	}, "POST", sceneExecutePath(entry.HubID), nil); err != nil {
		return err
	}

	b.publishScene(key, SceneActivated)
	b.logger.Info("scene activated", "key", key)
	return nil
}

// RefreshAll re-fetches every registered device and republishes
// unconditionally.
func (b *Bridge) RefreshAll() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.cmdState != StateConnected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	gen := b.cmdGen
	b.mu.Unlock()

	go b.sweep(gen, true)
	return nil
}

// sendCommand enqueues the pending record and writes the request.
// The two happen under one critical section so the FIFO order always
// matches the wire order.
func (b *Bridge) sendCommand(p pendingRequest, method, path string, body []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.cmdState != StateConnected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	gen := b.cmdGen
	conn := b.cmdConn
	b.cmdPending = append(b.cmdPending, p)
	b.mu.Unlock()

	req := buildRequest(method, path, b.host, b.auth, body)
	if err := conn.send(req); err != nil {
		b.handleCommandDisconnect(gen, err)
		return err
	}
	b.requestsTx.Add(1)
	return nil
}

// applyOptimistic records the command's expected outcome and publishes
// it when the derived form moved.
func (b *Bridge) applyOptimistic(key string, action Action, level int) {
	switch action {
	case ActionOn:
		if d, changed := b.opts.States.SetOn(key, true); changed {
			b.publishState(key, d)
		}
	case ActionOff:
		if d, changed := b.opts.States.SetOn(key, false); changed {
			b.publishState(key, d)
		}
	case ActionSetLevel:
		if d, changed := b.opts.States.SetLevel(key, level); changed {
			b.publishState(key, d)
		}
	}
}
