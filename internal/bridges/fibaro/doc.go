// Package fibaro implements the Fibaro Home Center bridge.
//
// This package provides connectivity to a Fibaro Home Center hub over its
// HTTP API, carried on two persistent raw TCP connections. It translates
// between the hub's device documents and the bridge's normalized MQTT
// state messages.
//
// # Architecture
//
// The bridge maintains two independent channels to the hub:
//
//	┌─────────────────┐          ┌─────────────────┐  command channel
//	│  MQTT Broker    │   MQTT   │  Fibaro Bridge  │◄────────────────► Hub
//	│   / Consumers   │◄────────►│   (this pkg)    │  refresh channel
//	└─────────────────┘          └─────────────────┘◄────────────────► Hub
//
// The command channel carries device fetches, actions, and scene
// executions. The refresh channel runs a long-poll cycle against the
// hub's refreshStates endpoint, tracking a monotonic cursor so change
// events are never replayed.
//
// # Key Responsibilities
//
//   - Dial and maintain both hub channels with fixed-delay reconnection
//   - Sweep full device snapshots on connect and on demand
//   - Long-poll incremental changes and reconcile them into the state store
//   - Dispatch on/off/toggle/level commands with optimistic state updates
//   - Execute scenes and report their lifecycle
//   - Publish normalized state, connection, and health messages
//
// # Reconnection
//
// All retry delays are fixed, never exponential. The refresh channel is
// subordinate to the command channel: it only dials while the command
// channel is up, and a command disconnect tears the refresh channel down
// with it.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package fibaro
