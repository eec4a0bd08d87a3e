package symi

import (
	"errors"
	"testing"
)

func TestParseStatusEvent(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		wantAddr uint16
		wantUpd  []StatusUpdate
		wantErr  bool
	}{
		{
			name:     "single on/off update",
			payload:  []byte{0x00, 0x01, 0x00, 0x02, 0x02, 0x00},
			wantAddr: 0x0001,
			wantUpd:  []StatusUpdate{{MsgType: MsgTypeOnOff, Value: 0x02}},
		},
		{
			name: "brightness and colour temperature",
			payload: []byte{0x00, 0x02, 0x01, // reserved + addr 0x0102
				0x03, 0x50, // brightness 80
				0x04, 0x1E, // colour temp 30
				0x00}, // trailing byte
			wantAddr: 0x0102,
			wantUpd: []StatusUpdate{
				{MsgType: MsgTypeBrightness, Value: 0x50},
				{MsgType: MsgTypeColorTemp, Value: 0x1E},
			},
		},
		{
			name: "thermostat report",
			payload: []byte{0x00, 0x10, 0x00,
				0x1B, 0x16, // target 22
				0x1C, 0x02, // fan medium
				0x1D, 0x01, // mode cool
				0x00},
			wantAddr: 0x0010,
			wantUpd: []StatusUpdate{
				{MsgType: MsgTypeThermostatTarget, Value: 22},
				{MsgType: MsgTypeThermostatFanSpeed, Value: FanMedium},
				{MsgType: MsgTypeThermostatMode, Value: ModeCool},
			},
		},
		{
			name:    "too short",
			payload: []byte{0x00, 0x01, 0x00, 0x02, 0x02},
			wantErr: true,
		},
		{
			name:    "empty",
			payload: nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatusEvent(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Errorf("ParseStatusEvent() error = %v, want ErrInvalidEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatusEvent() unexpected error: %v", err)
			}
			if got.NetworkAddr != tt.wantAddr {
				t.Errorf("NetworkAddr = 0x%04X, want 0x%04X", got.NetworkAddr, tt.wantAddr)
			}
			if len(got.Updates) != len(tt.wantUpd) {
				t.Fatalf("got %d updates, want %d", len(got.Updates), len(tt.wantUpd))
			}
			for i, want := range tt.wantUpd {
				if got.Updates[i] != want {
					t.Errorf("update %d = %+v, want %+v", i, got.Updates[i], want)
				}
			}
		})
	}
}

// A pair never starts at the final payload byte.
func TestParseStatusEventTrailingByteExcluded(t *testing.T) {
	// Two complete pairs, then the trailing byte at an even offset.
	payload := []byte{0x00, 0x01, 0x00, 0x02, 0x02, 0x03, 0x50, 0x00}
	got, err := ParseStatusEvent(payload)
	if err != nil {
		t.Fatalf("ParseStatusEvent() unexpected error: %v", err)
	}
	if len(got.Updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(got.Updates))
	}
	if got.Updates[1] != (StatusUpdate{MsgType: MsgTypeBrightness, Value: 0x50}) {
		t.Errorf("update 1 = %+v", got.Updates[1])
	}
}
