package symi

import (
	"fmt"
	"time"
)

// MQTT message types for communication between the host automation
// framework and the Symi bridge.

// CommandMessage is sent from the host to the bridge to execute a
// device command.
// Topic: symimesh/command/symi/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with
	// acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device identifier (lowercase MAC hex).
	DeviceID string `json:"device_id"`

	// Command is the command name: "on", "off", "brightness",
	// "color_temp", "open", "close", "stop", "set_position",
	// "set_temperature", "set_fan_speed", "set_mode".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"channel": 2} for on/off
	//   {"level": 50} for brightness
	//   {"position": 75} for set_position
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent to the gateway and
	// acknowledged.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the gateway did not respond within the
	// command timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to the host to acknowledge a
// command.
// Topic: symimesh/ack/symi/{device_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device identifier.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("symi").
	Protocol string `json:"protocol"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotFound          = "DEVICE_NOT_FOUND"
	ErrCodeUnsupported       = "UNSUPPORTED"
	ErrCodeTimeout           = "TIMEOUT"
)

// StateMessage is sent from the bridge to the host when device state
// changes. The state map carries only the keys that changed.
// Topic: symimesh/state/symi/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the device identifier (lowercase MAC hex).
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the changed state keys.
	// Examples:
	//   Switch: {"switch_1": true}
	//   Light:  {"brightness": 50, "color_temp": 30}
	//   Curtain: {"position": 75}
	State map[string]any `json:"state"`

	// Protocol is the protocol identifier ("symi").
	Protocol string `json:"protocol"`
}

// DiscoveryMessage announces the gateway's device list after a
// successful discovery round.
// Topic: symimesh/discovery/symi
type DiscoveryMessage struct {
	// Timestamp is when discovery was performed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Gateway is the gateway host the devices were discovered from.
	Gateway string `json:"gateway"`

	// Devices contains the discovered devices.
	Devices []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice represents one device found during discovery.
type DiscoveredDevice struct {
	// ID is the device identifier (lowercase MAC hex).
	ID string `json:"id"`

	// MAC is the device hardware address ("aa:bb:cc:dd:ee:ff").
	MAC string `json:"mac"`

	// NetworkAddr is the current mesh network address, hex-formatted.
	NetworkAddr string `json:"network_addr"`

	// Type is the raw device type byte.
	Type int `json:"type"`

	// TypeName is the human-readable device type name.
	TypeName string `json:"type_name"`

	// Category is the device category ("switch", "light", ...).
	// Empty for device types with no controllable surface.
	Category string `json:"category,omitempty"`

	// Channels is the number of switchable channels.
	Channels int `json:"channels"`

	// RSSI is the node's signal strength in dBm.
	RSSI int `json:"rssi"`

	// Name is the user-assigned display name, if one is stored.
	Name string `json:"name,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running but the gateway
	// session is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not running (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: symimesh/health/symi
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier ("symi").
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Gateway describes the gateway session.
	Gateway *GatewayStatus `json:"gateway,omitempty"`

	// Statistics contains session metrics.
	Statistics *SessionStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of registered devices.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// GatewayStatus describes the gateway session state.
type GatewayStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Address is the gateway host:port.
	Address string `json:"address"`
}

// SessionStatistics contains session metrics for health reports.
type SessionStatistics struct {
	// FramesSent is the total number of frames written to the gateway.
	FramesSent uint64 `json:"frames_sent"`

	// FramesReceived is the total number of frames read from the gateway.
	FramesReceived uint64 `json:"frames_received"`

	// EventsReceived is the number of unsolicited status events.
	EventsReceived uint64 `json:"events_received"`

	// FramesDropped is the number of frames discarded (queue overflow
	// or late replies).
	FramesDropped uint64 `json:"frames_dropped"`

	// Errors is the total number of errors encountered.
	Errors uint64 `json:"errors"`
}

// NewStateMessage creates a state message for a device delta.
func NewStateMessage(deviceID string, changed map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     changed,
		Protocol:  "symi",
	}
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  "symi",
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewDiscoveryMessage creates a discovery announcement from device
// records. Display names come from names, keyed by device ID; missing
// entries are left empty.
func NewDiscoveryMessage(gateway string, devices []Device, names map[string]string) DiscoveryMessage {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Gateway:   gateway,
		Devices:   make([]DiscoveredDevice, 0, len(devices)),
	}

	for _, d := range devices {
		msg.Devices = append(msg.Devices, DiscoveredDevice{
			ID:          d.ID(),
			MAC:         d.MAC,
			NetworkAddr: fmt.Sprintf("0x%04X", d.NetworkAddr),
			Type:        int(d.Type),
			TypeName:    d.TypeName(),
			Category:    string(d.Category()),
			Channels:    d.Channels(),
			RSSI:        int(d.RSSI),
			Name:        names[d.ID()],
		})
	}

	return msg
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(version string, stats SessionStats, address string, deviceCount int, startTime time.Time) HealthMessage {
	status := HealthHealthy
	gwStatus := "connected"
	reason := ""
	if !stats.Connected {
		status = HealthDegraded
		gwStatus = "disconnected"
		reason = "gateway session down"
	}

	return HealthMessage{
		Bridge:         "symi",
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
		Reason:         reason,
		Gateway: &GatewayStatus{
			Status:  gwStatus,
			Address: address,
		},
		Statistics: &SessionStatistics{
			FramesSent:     stats.FramesTx,
			FramesReceived: stats.FramesRx,
			EventsReceived: stats.EventsRx,
			FramesDropped:  stats.FramesDropped,
			Errors:         stats.ErrorsTotal,
		},
	}
}

// NewLWTMessage creates a Last Will and Testament message. The broker
// publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Bridge:    "symi",
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all bridge messages.
const TopicPrefix = "symimesh"

// StateTopic returns the MQTT topic for a device's state updates.
// Example: symimesh/state/symi/aabbccddeeff
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/symi/%s", TopicPrefix, deviceID)
}

// CommandTopic returns the MQTT topic for commands to a device.
// Example: symimesh/command/symi/aabbccddeeff
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/symi/%s", TopicPrefix, deviceID)
}

// CommandSubscribeTopic returns the subscription pattern for all
// commands.
// Example: symimesh/command/symi/#
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/symi/#", TopicPrefix)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: symimesh/ack/symi/aabbccddeeff
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/symi/%s", TopicPrefix, deviceID)
}

// DiscoveryTopic returns the MQTT topic for discovery announcements.
// Example: symimesh/discovery/symi
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/symi", TopicPrefix)
}

// HealthTopic returns the MQTT topic for health status.
// Example: symimesh/health/symi
func HealthTopic() string {
	return fmt.Sprintf("%s/health/symi", TopicPrefix)
}
