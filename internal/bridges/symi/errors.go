package symi

import "errors"

// Domain errors for the Symi bridge package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, symi.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the session is not connected to the gateway.
	ErrNotConnected = errors.New("symi: not connected to gateway")

	// ErrConnectionFailed is returned when the TCP connection to the
	// gateway fails or is lost. The session must be re-established by
	// the caller; the core never reconnects on its own.
	ErrConnectionFailed = errors.New("symi: gateway connection failed")

	// ErrSessionClosed is returned when an operation is attempted on a
	// session after Disconnect() has been called.
	ErrSessionClosed = errors.New("symi: session closed")

	// ErrCommandTimeout is returned when no response frame arrives within
	// the command timeout. The connection stays open; the caller may retry.
	ErrCommandTimeout = errors.New("symi: command timed out")

	// ErrInvalidFrame is returned when a received frame is malformed
	// (short, wrong header byte, or truncated payload).
	ErrInvalidFrame = errors.New("symi: invalid frame")

	// ErrInvalidRecord is returned when a 16-byte device record or a
	// device list batch cannot be parsed.
	ErrInvalidRecord = errors.New("symi: invalid device record")

	// ErrInvalidEvent is returned when a status event payload is malformed.
	ErrInvalidEvent = errors.New("symi: invalid status event")

	// ErrUnexpectedResponse is returned when a command receives a frame
	// with an unexpected opcode or a non-success status byte.
	ErrUnexpectedResponse = errors.New("symi: unexpected response")

	// ErrDeviceNotFound is returned when a device ID does not exist in
	// the registry.
	ErrDeviceNotFound = errors.New("symi: device not found")

	// ErrUnsupported is returned when a capability-gated control is
	// requested on a device type that lacks the capability.
	ErrUnsupported = errors.New("symi: unsupported capability")

	// ErrInvalidValue is returned when a control value is out of range
	// (e.g. percent outside 0-100, channel outside the device's range).
	ErrInvalidValue = errors.New("symi: invalid value")

	// ErrUnknownCommand is returned when a command message names a
	// command the bridge does not implement.
	ErrUnknownCommand = errors.New("symi: unknown command")
)
