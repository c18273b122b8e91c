package fibaro

import "errors"

// Domain errors for the fibaro bridge package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, fibaro.ErrNotConnected) {
//	    // command channel is down
//	}
var (
	// ErrNotConnected is returned when a command is issued while the
	// command channel is not connected.
	ErrNotConnected = errors.New("fibaro: not connected")

	// ErrConnectionFailed is returned when a channel cannot be established.
	ErrConnectionFailed = errors.New("fibaro: connection failed")

	// ErrRequestFailed is returned when a request cannot be written to the hub.
	ErrRequestFailed = errors.New("fibaro: request failed")

	// ErrHubRejected is returned when the hub answers a command with a
	// non-success status line.
	ErrHubRejected = errors.New("fibaro: hub rejected request")

	// ErrUnknownAction is returned for an unrecognised action name.
	ErrUnknownAction = errors.New("fibaro: unknown action")

	// ErrMalformedResponse is returned when a hub response cannot be framed.
	ErrMalformedResponse = errors.New("fibaro: malformed response")

	// ErrClosed is returned when the bridge has been shut down.
	ErrClosed = errors.New("fibaro: bridge closed")
)
