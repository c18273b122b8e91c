package state

import "errors"

// Domain errors for the state package.
var (
	// ErrUnknownKey is returned when a key has no tracked state.
	ErrUnknownKey = errors.New("state: unknown key")

	// ErrUnsupportedValue is returned when a wire value is neither
	// number, string, nor boolean.
	ErrUnsupportedValue = errors.New("state: unsupported value shape")
)
