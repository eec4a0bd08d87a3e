// Package influxdb provides InfluxDB connectivity for the Symi bridge.
//
// It wraps the official influxdb-client-go v2 library with bridge-specific
// patterns for connection management, state writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Device state history (brightness, temperatures, switch states)
//   - Gateway session statistics (frame counters, errors)
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "home",
//	    Bucket: "symimesh",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record a state sample
//	client.WriteState("aabbccddeeff", "brightness", 75)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency state updates.
package influxdb
