package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, registry.ErrNotRegistered) {
//	    // handle unknown key
//	}
var (
	// ErrNotRegistered is returned when a key has no configured entry.
	ErrNotRegistered = errors.New("registry: not registered")

	// ErrDuplicateSlot is returned when two config entries claim the same room/slot.
	ErrDuplicateSlot = errors.New("registry: duplicate slot")

	// ErrPositionOutOfRange is returned when a room or slot exceeds the configured bounds.
	ErrPositionOutOfRange = errors.New("registry: position out of range")
)
