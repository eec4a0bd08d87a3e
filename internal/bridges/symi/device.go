package symi

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// Device record layout within discovery responses (16 bytes per device).
const (
	// deviceRecordSize is the fixed size of one device record.
	deviceRecordSize = 16

	deviceMACOffset     = 0  // 6 bytes
	deviceAddrOffset    = 6  // 2 bytes, little-endian
	deviceTypeOffset    = 8  // 1 byte
	deviceSubtypeOffset = 9  // 1 byte (channel count for switches)
	deviceRSSIOffset    = 10 // 1 byte, signed
	deviceVendorOffset  = 11 // 1 byte
	deviceExtOffset     = 12 // 4 bytes
)

// maxSwitchChannels is the highest channel count a multi-gang switch
// reports in its subtype byte. Larger subtypes are not channel counts.
const maxSwitchChannels = 6

// maxPackedWireChannels is the number of 2-bit channel fields that fit
// in the control frame's single value byte.
const maxPackedWireChannels = 4

// Category classifies a device for the host automation framework.
type Category string

// Device categories, keyed from the device type byte.
const (
	CategorySwitch       Category = "switch"
	CategoryLight        Category = "light"
	CategoryCover        Category = "cover"
	CategoryBinarySensor Category = "binary_sensor"
	CategoryClimate      Category = "climate"
	CategorySensor       Category = "sensor"

	// CategoryNone marks device types that exist on the mesh but get no
	// controllable surface (scene panels).
	CategoryNone Category = ""
)

// deviceCategories maps the device type byte to a category.
var deviceCategories = map[byte]Category{
	1:  CategorySwitch,       // neutral-wire switch
	2:  CategorySwitch,       // single-wire switch
	3:  CategorySwitch,       // smart socket
	4:  CategoryLight,        // dimmable light
	5:  CategoryCover,        // curtain motor
	6:  CategoryNone,         // scene panel
	7:  CategoryBinarySensor, // door contact
	8:  CategoryBinarySensor, // motion sensor
	9:  CategorySwitch,       // key card power
	10: CategoryClimate,      // thermostat
	11: CategorySensor,       // temperature/humidity sensor
	20: CategorySwitch,       // passthrough module
	24: CategoryLight,        // tunable white light
	74: CategorySwitch,       // passthrough module
}

// deviceTypeNames maps the device type byte to a human-readable name
// used in discovery announcements.
var deviceTypeNames = map[byte]string{
	1:  "Neutral-Wire Switch",
	2:  "Single-Wire Switch",
	3:  "Smart Socket",
	4:  "Dimmable Light",
	5:  "Curtain Motor",
	6:  "Scene Panel",
	7:  "Door Contact Sensor",
	8:  "Motion Sensor",
	9:  "Key Card Power Switch",
	10: "Thermostat",
	11: "Temperature/Humidity Sensor",
	20: "Passthrough Module",
	24: "Tunable White Light",
	74: "Passthrough Module",
}

// Device is one mesh node as reported by the gateway's device list.
type Device struct {
	// MAC is the node's hardware address, formatted "aa:bb:cc:dd:ee:ff".
	MAC string

	// NetworkAddr is the node's mesh network address, used to target
	// control commands. Assigned by the gateway; may change after a
	// re-pairing, unlike the MAC.
	NetworkAddr uint16

	// Type is the device type byte (see deviceCategories).
	Type byte

	// Subtype carries the channel count for multi-gang switches.
	Subtype byte

	// RSSI is the node's signal strength in dBm (signed).
	RSSI int8

	// VendorID identifies the node manufacturer.
	VendorID byte

	// Ext is opaque vendor extension data (4 bytes).
	Ext [4]byte
}

// ID returns the stable device identifier: the MAC with separators
// stripped, lowercase. Network addresses are not stable across
// re-pairings, so identity always keys off the MAC.
func (d Device) ID() string {
	return strings.ToLower(strings.ReplaceAll(d.MAC, ":", ""))
}

// TypeName returns the human-readable device type name.
func (d Device) TypeName() string {
	if name, ok := deviceTypeNames[d.Type]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Device (%d)", d.Type)
}

// Category returns the device's category, or CategoryNone for types
// that get no controllable surface.
func (d Device) Category() Category {
	return deviceCategories[d.Type]
}

// Channels returns the number of independently switchable channels.
//
// Only wall switch types (1, 2) are multi-gang; their subtype byte is
// the channel count when it is a plausible one. Everything else is a
// single channel.
func (d Device) Channels() int {
	if d.Type != 1 && d.Type != 2 {
		return 1
	}
	if d.Subtype > maxSwitchChannels {
		return 1
	}
	if d.Subtype < 1 {
		return 1
	}
	return int(d.Subtype)
}

// SupportsBrightness returns true if the device accepts brightness
// control (dimmable light types).
func (d Device) SupportsBrightness() bool {
	return d.Type == 4 || d.Type == 24
}

// SupportsColorTemp returns true if the device accepts colour
// temperature control. Same types as brightness.
func (d Device) SupportsColorTemp() bool {
	return d.Type == 4 || d.Type == 24
}

// String returns a human-readable representation of the device.
func (d Device) String() string {
	return fmt.Sprintf("Device{%s, addr:0x%04X, type:%d(%s)}", d.ID(), d.NetworkAddr, d.Type, d.TypeName())
}

// ParseDeviceRecord parses a single 16-byte device record.
//
// Record layout:
//
//	Byte 0-5:   MAC address
//	Byte 6-7:   network address (little-endian)
//	Byte 8:     device type
//	Byte 9:     device subtype (channel count for switches)
//	Byte 10:    RSSI (signed)
//	Byte 11:    vendor ID
//	Byte 12-15: vendor extension data
//
// Returns ErrInvalidRecord if the input is not exactly 16 bytes.
func ParseDeviceRecord(data []byte) (Device, error) {
	if len(data) != deviceRecordSize {
		return Device{}, fmt.Errorf("%w: %d bytes (want %d)", ErrInvalidRecord, len(data), deviceRecordSize)
	}

	mac := net.HardwareAddr(data[deviceMACOffset : deviceMACOffset+6])

	d := Device{
		MAC:         mac.String(),
		NetworkAddr: binary.LittleEndian.Uint16(data[deviceAddrOffset : deviceAddrOffset+2]),
		Type:        data[deviceTypeOffset],
		Subtype:     data[deviceSubtypeOffset],
		RSSI:        int8(data[deviceRSSIOffset]),
		VendorID:    data[deviceVendorOffset],
	}
	copy(d.Ext[:], data[deviceExtOffset:deviceExtOffset+4])

	return d, nil
}

// ParseDeviceList parses the payload of a discovery response into
// device records.
//
// The payload is a concatenation of 16-byte records. A payload whose
// length is not a multiple of 16 cannot be framed and returns
// ErrInvalidRecord with no devices.
func ParseDeviceList(data []byte) ([]Device, error) {
	if len(data)%deviceRecordSize != 0 {
		return nil, fmt.Errorf("%w: device list length %d is not a multiple of %d",
			ErrInvalidRecord, len(data), deviceRecordSize)
	}

	count := len(data) / deviceRecordSize
	devices := make([]Device, 0, count)
	for i := 0; i < count; i++ {
		offset := i * deviceRecordSize
		d, err := ParseDeviceRecord(data[offset : offset+deviceRecordSize])
		if err != nil {
			return devices, fmt.Errorf("record %d: %w", i, err)
		}
		devices = append(devices, d)
	}

	return devices, nil
}

// EncodeSwitchValue encodes an on/off control value for a switch.
//
// Single-channel devices use plain values (0x02 on, 0x01 off).
// Multi-gang switches pack one 2-bit field per channel, channel 1 in
// the lowest bits: 0b10 commands on, 0b01 commands off, 0b00 leaves
// the channel untouched. The packed value exceeds one byte from
// channel 5 up; whether it fits a given frame field is the caller's
// concern.
//
// Returns ErrInvalidValue if channel is outside [1, channels].
func EncodeSwitchValue(channels, channel int, on bool) (int, error) {
	if channel < 1 || channel > channels {
		return 0, fmt.Errorf("%w: channel %d of %d", ErrInvalidValue, channel, channels)
	}

	if channels == 1 {
		if on {
			return 0x02, nil
		}
		return 0x01, nil
	}

	bits := 0x01
	if on {
		bits = 0x02
	}
	return bits << ((channel - 1) * 2), nil
}

// DecodeSwitchValue decodes a reported on/off value into per-channel
// states, keyed by channel number starting at 1.
//
// A channel is on only when its 2-bit field is exactly 0b10; the
// reserved patterns 0b00 and 0b11 decode as off.
func DecodeSwitchValue(value, channels int) map[int]bool {
	states := make(map[int]bool, channels)

	if channels == 1 {
		states[1] = value == 0x02
		return states
	}

	for channel := 1; channel <= channels; channel++ {
		bits := (value >> ((channel - 1) * 2)) & 0x03
		states[channel] = bits == 0x02
	}

	return states
}
