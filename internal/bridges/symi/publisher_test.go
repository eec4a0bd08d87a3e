package symi

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type publishRecord struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT captures publishes and lets tests inject inbound messages
// through the registered subscription handler.
type mockMQTT struct {
	mu        sync.Mutex
	published []publishRecord
	handler   func(topic string, payload []byte)
	subTopic  string
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishRecord{topic, payload, qos, retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subTopic = topic
	m.handler = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool { return true }

// deliver simulates an inbound broker message.
func (m *mockMQTT) deliver(topic string, payload []byte) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

// lastOn returns the most recent publish to a topic.
func (m *mockMQTT) lastOn(topic string) (publishRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].topic == topic {
			return m.published[i], true
		}
	}
	return publishRecord{}, false
}

type historySample struct {
	deviceID string
	key      string
	value    float64
}

type mockHistory struct {
	mu      sync.Mutex
	samples []historySample
}

func (h *mockHistory) WriteState(deviceID, key string, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, historySample{deviceID, key, value})
}

func (h *mockHistory) all() []historySample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]historySample{}, h.samples...)
}

// testPublisher wires a publisher over a fake transport and mock MQTT
// client, refreshed with the given devices.
func testPublisher(t *testing.T, devices ...Device) (*Publisher, *mockMQTT, *fakeTransport, *mockHistory) {
	t.Helper()

	transport := newFakeTransport(devices...)
	manager := NewManager(transport)
	t.Cleanup(manager.Close)

	if _, err := manager.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	mqtt := &mockMQTT{}
	history := &mockHistory{}
	p, err := NewPublisher(PublisherOptions{
		MQTT:        mqtt,
		Manager:     manager,
		Transport:   transport,
		History:     history,
		GatewayAddr: "192.168.1.50:4196",
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("NewPublisher() error: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(p.Stop)

	return p, mqtt, transport, history
}

func TestNewPublisherValidation(t *testing.T) {
	transport := newFakeTransport()
	manager := NewManager(transport)
	defer manager.Close()
	mqtt := &mockMQTT{}

	tests := []struct {
		name string
		opts PublisherOptions
	}{
		{"missing mqtt", PublisherOptions{Manager: manager, Transport: transport}},
		{"missing manager", PublisherOptions{MQTT: mqtt, Transport: transport}},
		{"missing transport", PublisherOptions{MQTT: mqtt, Manager: manager}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPublisher(tt.opts); err == nil {
				t.Error("NewPublisher() expected error, got nil")
			}
		})
	}
}

func TestPublisherStartAndHealth(t *testing.T) {
	p, mqtt, _, _ := testPublisher(t, testLight())

	mqtt.mu.Lock()
	subTopic := mqtt.subTopic
	mqtt.mu.Unlock()
	if subTopic != "symimesh/command/symi/#" {
		t.Errorf("subscribed to %q, want symimesh/command/symi/#", subTopic)
	}

	rec, ok := mqtt.lastOn("symimesh/health/symi")
	if !ok {
		t.Fatal("no health message published on start")
	}
	if !rec.retained || rec.qos != 1 {
		t.Errorf("health publish qos=%d retained=%v, want qos=1 retained", rec.qos, rec.retained)
	}

	var health HealthMessage
	if err := json.Unmarshal(rec.payload, &health); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if health.Status != HealthHealthy {
		t.Errorf("health status = %q, want healthy", health.Status)
	}
	if health.Bridge != "symi" || health.DevicesManaged != 1 {
		t.Errorf("health = %+v", health)
	}
	if health.Gateway == nil || health.Gateway.Address != "192.168.1.50:4196" {
		t.Errorf("gateway status = %+v", health.Gateway)
	}

	p.Stop()
	rec, ok = mqtt.lastOn("symimesh/health/symi")
	if !ok {
		t.Fatal("no final health message on stop")
	}
	if err := json.Unmarshal(rec.payload, &health); err != nil {
		t.Fatalf("unmarshal final health: %v", err)
	}
	if health.Status != HealthStopping {
		t.Errorf("final health status = %q, want stopping", health.Status)
	}
}

func TestPublisherStateChange(t *testing.T) {
	_, mqtt, transport, history := testPublisher(t, testThermostat())

	transport.Emit(StatusEvent{
		NetworkAddr: 0x0004,
		Updates: []StatusUpdate{
			{MsgType: MsgTypeThermostatTarget, Value: 24},
		},
	})

	rec, ok := mqtt.lastOn("symimesh/state/symi/aabbccddee04")
	if !ok {
		t.Fatal("no state message published")
	}
	if !rec.retained || rec.qos != 1 {
		t.Errorf("state publish qos=%d retained=%v, want qos=1 retained", rec.qos, rec.retained)
	}

	var state StateMessage
	if err := json.Unmarshal(rec.payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.DeviceID != "aabbccddee04" || state.Protocol != "symi" {
		t.Errorf("state message = %+v", state)
	}
	if got, _ := state.State["target_temperature"].(float64); got != 24 {
		t.Errorf("target_temperature = %v, want 24", state.State["target_temperature"])
	}

	samples := history.all()
	if len(samples) != 1 {
		t.Fatalf("history got %d samples, want 1", len(samples))
	}
	want := historySample{"aabbccddee04", "target_temperature", 24}
	if samples[0] != want {
		t.Errorf("sample = %+v, want %+v", samples[0], want)
	}
}

func TestPublisherStateChangeBoolHistory(t *testing.T) {
	_, _, transport, history := testPublisher(t, testSwitch2Gang())

	transport.Emit(StatusEvent{
		NetworkAddr: 0x0002,
		Updates:     []StatusUpdate{{MsgType: MsgTypeOnOff, Value: 0x08}},
	})

	got := map[string]float64{}
	for _, s := range history.all() {
		got[s.key] = s.value
	}
	if got["switch_1"] != 0 || got["switch_2"] != 1 {
		t.Errorf("history samples = %v, want switch_1=0 switch_2=1", got)
	}
}

func TestPublisherCommandDispatch(t *testing.T) {
	_, mqtt, transport, _ := testPublisher(t, testLight())

	cmd := CommandMessage{
		ID:         "cmd-1",
		DeviceID:   "aabbccddee01",
		Command:    "brightness",
		Parameters: map[string]any{"level": 60},
	}
	payload, _ := json.Marshal(cmd)
	mqtt.deliver("symimesh/command/symi/aabbccddee01", payload)

	calls := transport.Calls()
	want := controlCall{addr: 0x0001, msgType: MsgTypeBrightness, value: 60}
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("calls = %+v, want [%+v]", calls, want)
	}

	rec, ok := mqtt.lastOn("symimesh/ack/symi/aabbccddee01")
	if !ok {
		t.Fatal("no ack published")
	}
	var ack AckMessage
	if err := json.Unmarshal(rec.payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != AckAccepted || ack.CommandID != "cmd-1" {
		t.Errorf("ack = %+v, want accepted cmd-1", ack)
	}
}

// A command body without a device_id takes the target from the topic.
func TestPublisherCommandDeviceIDFromTopic(t *testing.T) {
	_, mqtt, transport, _ := testPublisher(t, testCurtain())

	payload := []byte(`{"id":"cmd-2","command":"open"}`)
	mqtt.deliver("symimesh/command/symi/aabbccddee03", payload)

	calls := transport.Calls()
	want := controlCall{addr: 0x0003, msgType: MsgTypeCurtainStatus, value: CurtainOpen}
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("calls = %+v, want [%+v]", calls, want)
	}

	rec, ok := mqtt.lastOn(AckTopic("aabbccddee03"))
	if !ok {
		t.Fatal("no ack published")
	}
	var ack AckMessage
	if err := json.Unmarshal(rec.payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != AckAccepted || ack.DeviceID != "aabbccddee03" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestPublisherCommandErrors(t *testing.T) {
	_, mqtt, transport, _ := testPublisher(t, testLight(), testSwitch2Gang())

	tests := []struct {
		name       string
		topic      string
		cmd        CommandMessage
		wantStatus AckStatus
		wantCode   string
	}{
		{
			name:  "unknown device",
			topic: CommandTopic("ffffffffffff"),
			cmd: CommandMessage{
				ID: "e1", DeviceID: "ffffffffffff", Command: "on",
			},
			wantStatus: AckFailed,
			wantCode:   ErrCodeNotFound,
		},
		{
			name:  "missing parameter",
			topic: CommandTopic("aabbccddee01"),
			cmd: CommandMessage{
				ID: "e2", DeviceID: "aabbccddee01", Command: "brightness",
			},
			wantStatus: AckFailed,
			wantCode:   ErrCodeInvalidParameters,
		},
		{
			name:  "unsupported capability",
			topic: CommandTopic("aabbccddee02"),
			cmd: CommandMessage{
				ID: "e3", DeviceID: "aabbccddee02", Command: "brightness",
				Parameters: map[string]any{"level": 50},
			},
			wantStatus: AckFailed,
			wantCode:   ErrCodeUnsupported,
		},
		{
			name:  "unknown command",
			topic: CommandTopic("aabbccddee01"),
			cmd: CommandMessage{
				ID: "e4", DeviceID: "aabbccddee01", Command: "explode",
			},
			wantStatus: AckFailed,
			wantCode:   ErrCodeInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := json.Marshal(tt.cmd)
			mqtt.deliver(tt.topic, payload)

			rec, ok := mqtt.lastOn(AckTopic(tt.cmd.DeviceID))
			if !ok {
				t.Fatal("no ack published")
			}
			var ack AckMessage
			if err := json.Unmarshal(rec.payload, &ack); err != nil {
				t.Fatalf("unmarshal ack: %v", err)
			}
			if ack.Status != tt.wantStatus {
				t.Errorf("ack status = %q, want %q", ack.Status, tt.wantStatus)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack error = %+v, want code %q", ack.Error, tt.wantCode)
			}
			if ack.CommandID != tt.cmd.ID {
				t.Errorf("ack command_id = %q, want %q", ack.CommandID, tt.cmd.ID)
			}
		})
	}

	// Gateway timeouts surface as a dedicated ack status.
	transport.mu.Lock()
	transport.controlErr = ErrCommandTimeout
	transport.mu.Unlock()

	payload, _ := json.Marshal(CommandMessage{
		ID: "e5", DeviceID: "aabbccddee01", Command: "on",
	})
	mqtt.deliver(CommandTopic("aabbccddee01"), payload)

	rec, ok := mqtt.lastOn(AckTopic("aabbccddee01"))
	if !ok {
		t.Fatal("no ack published for timeout")
	}
	var ack AckMessage
	if err := json.Unmarshal(rec.payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != AckTimeout || ack.Error == nil || ack.Error.Code != ErrCodeTimeout {
		t.Errorf("timeout ack = %+v", ack)
	}
}

func TestPublisherDiscovery(t *testing.T) {
	p, mqtt, _, _ := testPublisher(t, testLight(), testCurtain())

	devices := p.manager.Devices()
	p.PublishDiscovery(devices, map[string]string{"aabbccddee01": "Hall Light"})

	rec, ok := mqtt.lastOn("symimesh/discovery/symi")
	if !ok {
		t.Fatal("no discovery message published")
	}

	var msg DiscoveryMessage
	if err := json.Unmarshal(rec.payload, &msg); err != nil {
		t.Fatalf("unmarshal discovery: %v", err)
	}
	if msg.Gateway != "192.168.1.50:4196" {
		t.Errorf("gateway = %q", msg.Gateway)
	}
	if len(msg.Devices) != 2 {
		t.Fatalf("discovery has %d devices, want 2", len(msg.Devices))
	}

	byID := map[string]DiscoveredDevice{}
	for _, d := range msg.Devices {
		byID[d.ID] = d
	}
	light := byID["aabbccddee01"]
	if light.Name != "Hall Light" || light.Category != "light" || light.NetworkAddr != "0x0001" {
		t.Errorf("light entry = %+v", light)
	}
	curtain := byID["aabbccddee03"]
	if curtain.Name != "" || curtain.Category != "cover" {
		t.Errorf("curtain entry = %+v", curtain)
	}
}

func TestPublisherHealthLoop(t *testing.T) {
	transport := newFakeTransport()
	manager := NewManager(transport)
	defer manager.Close()

	mqtt := &mockMQTT{}
	p, err := NewPublisher(PublisherOptions{
		MQTT:           mqtt,
		Manager:        manager,
		Transport:      transport,
		HealthInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPublisher() error: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop()

	deadline := time.After(time.Second)
	for {
		mqtt.mu.Lock()
		var count int
		for _, rec := range mqtt.published {
			if rec.topic == "symimesh/health/symi" {
				count++
			}
		}
		mqtt.mu.Unlock()
		if count >= 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected periodic health messages, got %d", count)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Malformed inbound messages are dropped without publishing an ack.
func TestPublisherIgnoresBadMessages(t *testing.T) {
	_, mqtt, transport, _ := testPublisher(t, testLight())

	mqtt.deliver("symimesh/command/symi/aabbccddee01", []byte("not json"))
	mqtt.deliver("short/topic", []byte(`{"id":"x","command":"on"}`))

	if calls := transport.Calls(); len(calls) != 0 {
		t.Errorf("transport got %d calls, want 0", len(calls))
	}
	if _, ok := mqtt.lastOn(AckTopic("aabbccddee01")); ok {
		t.Error("ack published for malformed command")
	}
}
