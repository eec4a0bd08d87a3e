package symi

import (
	"encoding/binary"
	"fmt"
	"time"
)

// minStatusEventSize is reserved(1) + addr(2) + at least one pair(2)
// + trailing byte.
const minStatusEventSize = 6

// StatusUpdate is one attribute change reported in a status event.
type StatusUpdate struct {
	// MsgType identifies the attribute (MsgTypeOnOff, MsgTypeBrightness, ...).
	MsgType byte

	// Value is the raw attribute value.
	Value byte
}

// StatusEvent is a decoded unsolicited status push from the gateway.
type StatusEvent struct {
	// NetworkAddr is the mesh address of the reporting node.
	NetworkAddr uint16

	// Updates holds the attribute changes, in wire order.
	Updates []StatusUpdate

	// Timestamp records when the event was decoded.
	Timestamp time.Time
}

// ParseStatusEvent parses the payload of an OpStatusEvent frame.
//
// Payload layout:
//
//	Byte 0:   reserved
//	Byte 1-2: network address (little-endian)
//	Byte 3+:  {msgType, value} pairs
//
// The final payload byte is excluded from the pair scan. Gateways emit
// it on every observed event and it never lines up with a pair
// boundary; its meaning is unknown.
//
// Returns ErrInvalidEvent if the payload is shorter than one complete
// pair.
func ParseStatusEvent(payload []byte) (StatusEvent, error) {
	if len(payload) < minStatusEventSize {
		return StatusEvent{}, fmt.Errorf("%w: too short (%d bytes, need at least %d)",
			ErrInvalidEvent, len(payload), minStatusEventSize)
	}

	ev := StatusEvent{
		NetworkAddr: binary.LittleEndian.Uint16(payload[1:3]),
		Timestamp:   time.Now(),
	}

	for offset := 3; offset < len(payload)-1; offset += 2 {
		if offset+1 >= len(payload) {
			break
		}
		ev.Updates = append(ev.Updates, StatusUpdate{
			MsgType: payload[offset],
			Value:   payload[offset+1],
		})
	}

	return ev, nil
}
