// Package symi implements the Symi mesh gateway bridge.
//
// This package provides connectivity to Symi proprietary mesh networks
// through the vendor's TCP gateway. It speaks the gateway's raw binary
// framing directly; there is no vendor SDK or daemon in between.
//
// # Architecture
//
// The bridge operates as a translator between two buses:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Automation    │   MQTT   │   Symi Bridge   │   TCP :4196
//	│      Host       │◄────────►│   (this pkg)    │◄──────────► Mesh Gateway
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Maintain a single TCP session to the gateway (Session)
//   - Encode/decode the binary frame protocol (frame.go, device.go, event.go)
//   - Track discovered devices and their state (Manager)
//   - Translate unsolicited status events to MQTT state messages
//   - Translate MQTT commands to gateway control frames (Publisher)
//   - Publish discovery announcements and health status
//
// # Wire Protocol
//
// Every frame starts with the header byte 0x53 and ends with an XOR
// checksum of the preceding bytes. Solicited responses and unsolicited
// events share one layout:
//
//	[0x53][opcode][status][length][payload...][checksum]
//
// The protocol has no correlation IDs: at most one command is in
// flight per session, and replies are matched to commands by order.
// Devices are identified by MAC; the mesh network address used to
// target commands can change after a re-pairing.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple
// goroutines.
package symi
