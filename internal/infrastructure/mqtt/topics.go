package mqtt

import "fmt"

// Topic prefix for all bridge traffic.
//
// All topics use the flat scheme: symimesh/{category}/{protocol}/{device_id}
// This matches the symi bridge's messages.go and the host automation
// framework's subscriptions.
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "symimesh"
)

// Topics provides builders for bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("symi", "aabbccddeeff")
//	// Returns: "symimesh/state/symi/aabbccddeeff"
type Topics struct{}

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: symimesh/state/symi/aabbccddeeff
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: symimesh/command/symi/aabbccddeeff
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: symimesh/ack/symi/aabbccddeeff
func (Topics) BridgeAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeDiscovery returns the topic for device discovery announcements.
//
// Example: symimesh/discovery/symi
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocol)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: symimesh/health/symi
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// AllBridgeCommands returns a pattern matching all commands to a bridge.
//
// Pattern: symimesh/command/symi/#
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, protocol)
}

// AllBridgeStates returns a pattern matching all bridge state updates.
//
// Pattern: symimesh/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllTopics returns a pattern matching all bridge topics.
// Use with caution, this receives ALL traffic.
//
// Pattern: symimesh/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
