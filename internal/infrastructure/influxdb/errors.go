package influxdb

import "errors"

// Sentinel errors for InfluxDB operations, checked with errors.Is.
var (
	// ErrDisabled is returned by Connect when state history is turned
	// off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be reached
	// or reports itself unhealthy at connect time.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned for operations on a closed client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps write failures. Most surface asynchronously
	// through the error callback, not as return values.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
