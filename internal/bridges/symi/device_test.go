package symi

import (
	"errors"
	"testing"
)

// testRecord builds a 16-byte device record.
func testRecord(mac [6]byte, addr uint16, devType, subtype, rssi, vendor byte) []byte {
	rec := make([]byte, deviceRecordSize)
	copy(rec[0:6], mac[:])
	rec[6] = byte(addr)
	rec[7] = byte(addr >> 8)
	rec[8] = devType
	rec[9] = subtype
	rec[10] = rssi
	rec[11] = vendor
	return rec
}

func TestParseDeviceRecord(t *testing.T) {
	rec := testRecord([6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, 0x0102, 4, 0, 0xC4, 0x01)
	rec[12], rec[13], rec[14], rec[15] = 0xDE, 0xAD, 0xBE, 0xEF

	d, err := ParseDeviceRecord(rec)
	if err != nil {
		t.Fatalf("ParseDeviceRecord() unexpected error: %v", err)
	}

	if d.MAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("MAC = %q, want aa:bb:cc:dd:ee:ff", d.MAC)
	}
	if d.ID() != "aabbccddeeff" {
		t.Errorf("ID() = %q, want aabbccddeeff", d.ID())
	}
	if d.NetworkAddr != 0x0102 {
		t.Errorf("NetworkAddr = 0x%04X, want 0x0102", d.NetworkAddr)
	}
	if d.Type != 4 {
		t.Errorf("Type = %d, want 4", d.Type)
	}
	// 0xC4 as signed is -60 dBm
	if d.RSSI != -60 {
		t.Errorf("RSSI = %d, want -60", d.RSSI)
	}
	if d.VendorID != 0x01 {
		t.Errorf("VendorID = %d, want 1", d.VendorID)
	}
	if d.Ext != [4]byte{0xDE, 0xAD, 0xBE, 0xEF} {
		t.Errorf("Ext = % X, want DE AD BE EF", d.Ext)
	}
	if !d.SupportsBrightness() || !d.SupportsColorTemp() {
		t.Error("type 4 should support brightness and colour temperature")
	}
	if d.Category() != CategoryLight {
		t.Errorf("Category() = %q, want light", d.Category())
	}
}

func TestParseDeviceRecordWrongSize(t *testing.T) {
	for _, size := range []int{0, 15, 17} {
		if _, err := ParseDeviceRecord(make([]byte, size)); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("ParseDeviceRecord(%d bytes) error = %v, want ErrInvalidRecord", size, err)
		}
	}
}

func TestParseDeviceList(t *testing.T) {
	rec1 := testRecord([6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, 0x0001, 1, 2, 0xD8, 0x01)
	rec2 := testRecord([6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, 0x0002, 5, 0, 0xE2, 0x01)

	devices, err := ParseDeviceList(append(rec1, rec2...))
	if err != nil {
		t.Fatalf("ParseDeviceList() unexpected error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("ParseDeviceList() returned %d devices, want 2", len(devices))
	}
	if devices[0].ID() != "112233445566" || devices[1].ID() != "aabbccddeeff" {
		t.Errorf("device IDs = %q, %q", devices[0].ID(), devices[1].ID())
	}
	if devices[0].Channels() != 2 {
		t.Errorf("2-gang switch Channels() = %d, want 2", devices[0].Channels())
	}
	if devices[1].Category() != CategoryCover {
		t.Errorf("curtain Category() = %q, want cover", devices[1].Category())
	}
}

func TestParseDeviceListEmpty(t *testing.T) {
	devices, err := ParseDeviceList(nil)
	if err != nil {
		t.Fatalf("ParseDeviceList(nil) unexpected error: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("ParseDeviceList(nil) returned %d devices, want 0", len(devices))
	}
}

func TestParseDeviceListBadLength(t *testing.T) {
	if _, err := ParseDeviceList(make([]byte, 20)); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("ParseDeviceList(20 bytes) error = %v, want ErrInvalidRecord", err)
	}
}

func TestDeviceChannels(t *testing.T) {
	tests := []struct {
		name    string
		devType byte
		subtype byte
		want    int
	}{
		{"single gang", 1, 1, 1},
		{"two gang", 1, 2, 2},
		{"four gang", 2, 4, 4},
		{"six gang", 2, 6, 6},
		{"subtype zero defaults to one", 1, 0, 1},
		{"oversized subtype is not a channel count", 1, 7, 1},
		{"light ignores subtype", 4, 3, 1},
		{"thermostat ignores subtype", 10, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Device{Type: tt.devType, Subtype: tt.subtype}
			if got := d.Channels(); got != tt.want {
				t.Errorf("Channels() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeviceCategories(t *testing.T) {
	tests := []struct {
		devType byte
		want    Category
	}{
		{1, CategorySwitch},
		{2, CategorySwitch},
		{3, CategorySwitch},
		{4, CategoryLight},
		{5, CategoryCover},
		{6, CategoryNone},
		{7, CategoryBinarySensor},
		{8, CategoryBinarySensor},
		{9, CategorySwitch},
		{10, CategoryClimate},
		{11, CategorySensor},
		{20, CategorySwitch},
		{24, CategoryLight},
		{74, CategorySwitch},
		{99, CategoryNone},
	}

	for _, tt := range tests {
		d := Device{Type: tt.devType}
		if got := d.Category(); got != tt.want {
			t.Errorf("type %d Category() = %q, want %q", tt.devType, got, tt.want)
		}
	}
}

func TestEncodeSwitchValue(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		channel  int
		on       bool
		want     int
		wantErr  bool
	}{
		{"single channel on", 1, 1, true, 0x02, false},
		{"single channel off", 1, 1, false, 0x01, false},
		{"channel 1 of 2 on", 2, 1, true, 0x02, false},
		{"channel 2 of 2 on", 2, 2, true, 0x08, false},
		{"channel 2 of 2 off", 2, 2, false, 0x04, false},
		{"channel 4 of 4 on", 4, 4, true, 0x80, false},
		{"channel 5 of 6 on", 6, 5, true, 0x200, false},
		{"channel 6 of 6 off", 6, 6, false, 0x400, false},
		{"channel out of range", 2, 3, true, 0, true},
		{"channel zero", 2, 0, true, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeSwitchValue(tt.channels, tt.channel, tt.on)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidValue) {
					t.Errorf("EncodeSwitchValue() error = %v, want ErrInvalidValue", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EncodeSwitchValue() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("EncodeSwitchValue() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestDecodeSwitchValue(t *testing.T) {
	tests := []struct {
		name     string
		value    int
		channels int
		want     map[int]bool
	}{
		{
			name:     "single channel on",
			value:    0x02,
			channels: 1,
			want:     map[int]bool{1: true},
		},
		{
			name:     "single channel off",
			value:    0x01,
			channels: 1,
			want:     map[int]bool{1: false},
		},
		{
			name:     "channel 2 of 2 on",
			value:    0x08,
			channels: 2,
			want:     map[int]bool{1: false, 2: true},
		},
		{
			name:     "both of 2 on",
			value:    0x0A,
			channels: 2,
			want:     map[int]bool{1: true, 2: true},
		},
		{
			name:     "reserved pattern 0b11 decodes off",
			value:    0x03,
			channels: 2,
			want:     map[int]bool{1: false, 2: false},
		},
		{
			name:     "reserved pattern 0b00 decodes off",
			value:    0x08,
			channels: 4,
			want:     map[int]bool{1: false, 2: true, 3: false, 4: false},
		},
		{
			name:     "channel 5 of 6 on",
			value:    0x200,
			channels: 6,
			want:     map[int]bool{1: false, 2: false, 3: false, 4: false, 5: true, 6: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeSwitchValue(tt.value, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("DecodeSwitchValue() has %d channels, want %d", len(got), len(tt.want))
			}
			for ch, want := range tt.want {
				if got[ch] != want {
					t.Errorf("channel %d = %v, want %v", ch, got[ch], want)
				}
			}
		})
	}
}

func TestSwitchValueRoundTrip(t *testing.T) {
	for _, channels := range []int{1, 2, 4, 6} {
		for channel := 1; channel <= channels; channel++ {
			for _, on := range []bool{true, false} {
				value, err := EncodeSwitchValue(channels, channel, on)
				if err != nil {
					t.Fatalf("EncodeSwitchValue(%d, %d, %v): %v", channels, channel, on, err)
				}
				states := DecodeSwitchValue(value, channels)
				if states[channel] != on {
					t.Errorf("round trip channels=%d channel=%d on=%v: decoded %v",
						channels, channel, on, states[channel])
				}
			}
		}
	}
}

func TestDeviceTypeName(t *testing.T) {
	if got := (Device{Type: 10}).TypeName(); got != "Thermostat" {
		t.Errorf("TypeName() = %q, want Thermostat", got)
	}
	if got := (Device{Type: 99}).TypeName(); got != "Unknown Device (99)" {
		t.Errorf("TypeName() = %q, want Unknown Device (99)", got)
	}
}
