package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteState records a numeric device state sample.
//
// This is the primary method for recording state history from the
// bridge. Boolean states are recorded as 0/1 by the caller. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Device identifier (lowercase MAC hex)
//   - key: The state key (e.g., "brightness", "target_temperature")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteState("aabbccddeeff", "brightness", 75)
//	client.WriteState("aabbccddeeff", "switch_1", 1)
func (c *Client) WriteState(deviceID, key string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
			"key":       key,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionStats records gateway session counters.
//
// Used for tracking link quality over time: frame throughput, dropped
// frames, and error totals.
//
// Parameters:
//   - gateway: Gateway host:port the counters belong to
//   - fields: Counter values (e.g., "frames_tx", "frames_rx", "errors")
func (c *Client) WriteSessionStats(gateway string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"gateway_session",
		map[string]string{
			"gateway": gateway,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
