package history

import (
	"context"
	"time"
)

// Transition kinds. Every outward bridge message lands in the same
// transitions table, tagged with the message kind.
const (
	KindState      = "state"
	KindScene      = "scene"
	KindConnection = "connection"
)

// Entry is one recorded bridge transition.
//
// The payload column stores the message exactly as it was published, so
// the local history stays a faithful audit trail of the MQTT surface
// even when the broker or time-series store was unavailable.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Key is the entity the transition belongs to: a device or scene
	// key, or a channel name for connection transitions.
	Key string `json:"key"`

	// Kind is the message kind (state, scene, connection).
	Kind string `json:"kind"`

	// Payload is the published JSON message.
	Payload []byte `json:"payload"`

	// CreatedAt is the timestamp of the transition (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves bridge transitions.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record persists one transition.
	Record(ctx context.Context, key, kind string, payload []byte) error

	// ForKey returns recent transitions for one key, newest first.
	// The limit may be clamped by the implementation.
	ForKey(ctx context.Context, key string, limit int) ([]Entry, error)

	// Recent returns the most recent transitions across all keys,
	// newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
