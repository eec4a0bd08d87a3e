package symi

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Symi wire protocol constants.
const (
	// FrameHeader is the first byte of every Symi frame, request or response.
	FrameHeader byte = 0x53

	// OpDiscoveryRequest asks the gateway for its device list.
	OpDiscoveryRequest byte = 0x12

	// OpDiscoveryResponse carries the device list (16-byte records).
	OpDiscoveryResponse byte = 0x92

	// OpControlRequest writes a single attribute of a mesh node.
	OpControlRequest byte = 0x30

	// OpControlResponse acknowledges a control request.
	OpControlResponse byte = 0xB0

	// OpStatusEvent is an unsolicited push from the gateway carrying
	// attribute changes reported by mesh nodes.
	OpStatusEvent byte = 0x80

	// StatusOK is the success status byte in solicited responses.
	StatusOK byte = 0x00

	// StatusNodeReport is the status byte value the gateway uses on
	// OpStatusEvent frames that carry node attribute updates.
	StatusNodeReport byte = 0x06
)

// Attribute message types carried in control requests and status events.
const (
	MsgTypeOnOff              byte = 0x02
	MsgTypeBrightness         byte = 0x03
	MsgTypeColorTemp          byte = 0x04
	MsgTypeCurtainStatus      byte = 0x05
	MsgTypeCurtainPosition    byte = 0x06
	MsgTypeThermostatTarget   byte = 0x1B
	MsgTypeThermostatFanSpeed byte = 0x1C
	MsgTypeThermostatMode     byte = 0x1D
)

// Frame size constraints.
const (
	// responseHeaderSize is header(1) + opcode(1) + status(1) + length(1).
	responseHeaderSize = 4

	// controlPayloadSize is addr(2) + msgType(1) + value(1).
	controlPayloadSize = 4
)

// Checksum computes the XOR checksum of a frame body.
//
// Every outbound frame ends with the XOR of all preceding bytes.
// Inbound checksums are not verified; the length field alone frames
// the stream.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// EncodeDiscoveryCommand builds the device list request frame.
//
// The frame is fixed: header, opcode, and the two parameter bytes the
// gateway expects for a full-network query, plus the XOR checksum.
//
//	53 12 00 41 00
func EncodeDiscoveryCommand() []byte {
	buf := []byte{FrameHeader, OpDiscoveryRequest, 0x00, 0x41, 0x00}
	buf[len(buf)-1] = Checksum(buf[:len(buf)-1])
	return buf
}

// EncodeControlCommand builds a single-attribute write frame.
//
// Format:
//
//	Byte 0: header (0x53)
//	Byte 1: opcode (0x30)
//	Byte 2: payload length (0x04)
//	Byte 3: network address low byte
//	Byte 4: network address high byte
//	Byte 5: attribute message type
//	Byte 6: attribute value
//	Byte 7: XOR checksum of bytes 0-6
//
// The network address is little-endian on the wire.
func EncodeControlCommand(addr uint16, msgType, value byte) []byte {
	buf := make([]byte, 8)
	buf[0] = FrameHeader
	buf[1] = OpControlRequest
	buf[2] = controlPayloadSize
	binary.LittleEndian.PutUint16(buf[3:5], addr)
	buf[5] = msgType
	buf[6] = value
	buf[7] = Checksum(buf[:7])
	return buf
}

// Response is a decoded gateway frame: a solicited reply or an
// unsolicited status event.
type Response struct {
	// Opcode identifies the frame kind (OpDiscoveryResponse,
	// OpControlResponse, OpStatusEvent).
	Opcode byte

	// Status is the result byte. StatusOK for successful solicited
	// replies; on OpStatusEvent frames it is an event code instead
	// (StatusNodeReport for node attribute updates).
	Status byte

	// Payload is the frame body, excluding header and checksum.
	Payload []byte

	// Timestamp records when the frame was decoded.
	Timestamp time.Time
}

// OK returns true if this is a solicited reply with a success status.
func (r Response) OK() bool {
	return r.Status == StatusOK
}

// IsEvent returns true if this frame is an unsolicited status event.
func (r Response) IsEvent() bool {
	return r.Opcode == OpStatusEvent
}

// String returns a human-readable representation of the response.
func (r Response) String() string {
	return fmt.Sprintf("Response{Op:0x%02X, Status:0x%02X, Payload:%X}", r.Opcode, r.Status, r.Payload)
}

// DecodeResponse parses a raw gateway frame into a Response.
//
// The response format is:
//
//	Byte 0: header (0x53)
//	Byte 1: opcode
//	Byte 2: status
//	Byte 3: payload length
//	Byte 4+: payload (length bytes)
//	Last:   XOR checksum (not verified, see Checksum)
//
// The payload is copied so the caller may reuse the input buffer.
//
// Returns ErrInvalidFrame if the input is shorter than the fixed
// header, does not start with the header byte, or the declared payload
// length overruns the input.
func DecodeResponse(data []byte) (Response, error) {
	if len(data) < responseHeaderSize {
		return Response{}, fmt.Errorf("%w: too short (%d bytes, need at least %d)",
			ErrInvalidFrame, len(data), responseHeaderSize)
	}
	if data[0] != FrameHeader {
		return Response{}, fmt.Errorf("%w: bad header byte 0x%02X", ErrInvalidFrame, data[0])
	}

	length := int(data[3])
	if len(data) < responseHeaderSize+length {
		return Response{}, fmt.Errorf("%w: truncated payload (declared %d, have %d)",
			ErrInvalidFrame, length, len(data)-responseHeaderSize)
	}

	payload := make([]byte, length)
	copy(payload, data[responseHeaderSize:responseHeaderSize+length])

	return Response{
		Opcode:    data[1],
		Status:    data[2],
		Payload:   payload,
		Timestamp: time.Now(),
	}, nil
}
