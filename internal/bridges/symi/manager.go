package symi

import (
	"context"
	"fmt"
	"sync"
)

// Curtain control values for MsgTypeCurtainStatus.
const (
	CurtainOpen  byte = 0x01
	CurtainClose byte = 0x02
	CurtainStop  byte = 0x03
)

// Thermostat modes for MsgTypeThermostatMode.
const (
	ModeOff     byte = 0
	ModeCool    byte = 1
	ModeHeat    byte = 2
	ModeFanOnly byte = 3
)

// Thermostat fan speeds for MsgTypeThermostatFanSpeed.
const (
	FanHigh   byte = 1
	FanMedium byte = 2
	FanLow    byte = 3
	FanAuto   byte = 4
)

// Thermostat target temperature range in degrees Celsius. Requests
// outside the range are clamped, matching the gateway's own behaviour.
const (
	ThermostatMinTemp = 5
	ThermostatMaxTemp = 35
)

// State map keys. Switch channels use SwitchStateKey.
const (
	StateKeyBrightness  = "brightness"
	StateKeyColorTemp   = "color_temp"
	StateKeyStatus      = "status"
	StateKeyPosition   = "position"
	StateKeyTargetTemp = "target_temperature"
	StateKeyMode       = "mode"
	StateKeyFanSpeed   = "fan_speed"
)

// SwitchStateKey returns the state map key for one switch channel.
func SwitchStateKey(channel int) string {
	return fmt.Sprintf("switch_%d", channel)
}

// StateListener receives per-device state deltas. The map holds only
// the keys that changed.
type StateListener func(deviceID string, changed map[string]any)

// Manager owns the device registry, the per-device state cache, and
// the typed control surface over a gateway transport.
//
// Thread Safety: All methods are safe for concurrent use. Listeners
// are invoked from the transport's event workers; panics are recovered.
type Manager struct {
	transport Transport

	// Registry and state cache
	mu      sync.RWMutex
	devices map[string]Device
	byAddr  map[uint16]string // network address -> device ID
	states  map[string]map[string]any

	// State change listeners, keyed by handle
	listenerMu   sync.RWMutex
	listeners    map[int]StateListener
	nextListener int

	eventSub int

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates a device manager bound to a gateway transport and
// subscribes to its status events. Call Refresh to populate the
// registry.
func NewManager(transport Transport) *Manager {
	m := &Manager{
		transport: transport,
		devices:   make(map[string]Device),
		byAddr:    make(map[uint16]string),
		states:    make(map[string]map[string]any),
		listeners: make(map[int]StateListener),
	}
	m.eventSub = transport.SubscribeEvents(m.handleStatusEvent)
	return m
}

// Close detaches the manager from the transport's event stream. It
// does not close the transport.
func (m *Manager) Close() {
	m.transport.UnsubscribeEvents(m.eventSub)
}

// Refresh queries the gateway for its device list and merges it into
// the registry.
//
// Existing devices are updated in place (the gateway may reassign
// network addresses after re-pairing); their cached state is kept.
// Devices that disappeared from the gateway stay registered so a
// transient dropout does not orphan their state.
//
// Returns the devices reported by this discovery round.
func (m *Manager) Refresh(ctx context.Context) ([]Device, error) {
	devices, err := m.transport.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover devices: %w", err)
	}

	m.mu.Lock()
	for _, d := range devices {
		id := d.ID()
		if prev, ok := m.devices[id]; ok && prev.NetworkAddr != d.NetworkAddr {
			delete(m.byAddr, prev.NetworkAddr)
		}
		m.devices[id] = d
		m.byAddr[d.NetworkAddr] = id
		if _, ok := m.states[id]; !ok {
			m.states[id] = make(map[string]any)
		}
	}
	total := len(m.devices)
	m.mu.Unlock()

	m.logInfo("device discovery complete", "reported", len(devices), "registered", total)
	return devices, nil
}

// Devices returns all registered devices.
func (m *Manager) Devices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Device returns a registered device by ID.
func (m *Manager) Device(id string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// DeviceState returns a copy of a device's current state map. Unknown
// devices return an empty map.
func (m *Manager) DeviceState(id string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := make(map[string]any, len(m.states[id]))
	for k, v := range m.states[id] {
		state[k] = v
	}
	return state
}

// SetSwitch switches one channel of a device on or off.
//
// Channel numbering starts at 1. Returns ErrInvalidValue if the
// channel is outside the device's range, and ErrUnsupported for
// channels 5 and up, whose packed field does not fit the control
// frame's one-byte value.
func (m *Manager) SetSwitch(ctx context.Context, id string, channel int, on bool) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}

	value, err := EncodeSwitchValue(d.Channels(), channel, on)
	if err != nil {
		return err
	}
	if value > 0xFF {
		return fmt.Errorf("%w: channel %d exceeds the one-byte control value", ErrUnsupported, channel)
	}

	if err := m.transport.Control(ctx, d.NetworkAddr, MsgTypeOnOff, byte(value)); err != nil {
		return fmt.Errorf("switch control %s ch%d: %w", id, channel, err)
	}

	m.setState(id, map[string]any{SwitchStateKey(channel): on})
	return nil
}

// SetBrightness sets a light's brightness as a percentage (0-100).
//
// Returns ErrUnsupported for device types without brightness control.
func (m *Manager) SetBrightness(ctx context.Context, id string, percent int) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	if !d.SupportsBrightness() {
		return fmt.Errorf("%w: %s has no brightness control", ErrUnsupported, id)
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: brightness %d", ErrInvalidValue, percent)
	}

	if err := m.transport.Control(ctx, d.NetworkAddr, MsgTypeBrightness, byte(percent)); err != nil {
		return fmt.Errorf("brightness control %s: %w", id, err)
	}

	m.setState(id, map[string]any{StateKeyBrightness: percent})
	return nil
}

// SetColorTemp sets a light's colour temperature as a percentage
// (0 warmest, 100 coolest).
//
// Returns ErrUnsupported for device types without colour temperature
// control.
func (m *Manager) SetColorTemp(ctx context.Context, id string, percent int) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	if !d.SupportsColorTemp() {
		return fmt.Errorf("%w: %s has no colour temperature control", ErrUnsupported, id)
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: colour temperature %d", ErrInvalidValue, percent)
	}

	if err := m.transport.Control(ctx, d.NetworkAddr, MsgTypeColorTemp, byte(percent)); err != nil {
		return fmt.Errorf("colour temperature control %s: %w", id, err)
	}

	m.setState(id, map[string]any{StateKeyColorTemp: percent})
	return nil
}

// OpenCurtain starts opening a curtain.
func (m *Manager) OpenCurtain(ctx context.Context, id string) error {
	return m.curtainCommand(ctx, id, CurtainOpen)
}

// CloseCurtain starts closing a curtain.
func (m *Manager) CloseCurtain(ctx context.Context, id string) error {
	return m.curtainCommand(ctx, id, CurtainClose)
}

// StopCurtain stops curtain movement.
func (m *Manager) StopCurtain(ctx context.Context, id string) error {
	return m.curtainCommand(ctx, id, CurtainStop)
}

func (m *Manager) curtainCommand(ctx context.Context, id string, action byte) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}

	if err := m.transport.Control(ctx, d.NetworkAddr, MsgTypeCurtainStatus, action); err != nil {
		return fmt.Errorf("curtain control %s: %w", id, err)
	}

	m.setState(id, map[string]any{StateKeyStatus: int(action)})
	return nil
}

// SetCurtainPosition moves a curtain to a position percentage
// (0 closed, 100 fully open).
func (m *Manager) SetCurtainPosition(ctx context.Context, id string, percent int) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: position %d", ErrInvalidValue, percent)
	}

	if err := m.transport.Control(ctx, d.NetworkAddr, MsgTypeCurtainPosition, byte(percent)); err != nil {
		return fmt.Errorf("curtain position %s: %w", id, err)
	}

	m.setState(id, map[string]any{StateKeyPosition: percent})
	return nil
}

// SetThermostatTarget sets a thermostat's target temperature in whole
// degrees Celsius. Values outside [5, 35] are clamped.
func (m *Manager) SetThermostatTarget(ctx context.Context, id string, celsius int) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}

	if celsius < ThermostatMinTemp {
		celsius = ThermostatMinTemp
	}
	if celsius > ThermostatMaxTemp {
		celsius = ThermostatMaxTemp
	}

	if err := m.transport.Control(ctx, d.NetworkAddr, MsgTypeThermostatTarget, byte(celsius)); err != nil {
		return fmt.Errorf("thermostat target %s: %w", id, err)
	}

	m.setState(id, map[string]any{StateKeyTargetTemp: celsius})
	return nil
}

// SetThermostatFanSpeed sets a thermostat's fan speed (FanHigh,
// FanMedium, FanLow, FanAuto).
func (m *Manager) SetThermostatFanSpeed(ctx context.Context, id string, speed byte) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	if speed < FanHigh || speed > FanAuto {
		return fmt.Errorf("%w: fan speed %d", ErrInvalidValue, speed)
	}

	if err := m.transport.Control(ctx, d.NetworkAddr, MsgTypeThermostatFanSpeed, speed); err != nil {
		return fmt.Errorf("thermostat fan speed %s: %w", id, err)
	}

	m.setState(id, map[string]any{StateKeyFanSpeed: int(speed)})
	return nil
}

// SetThermostatMode sets a thermostat's operating mode (ModeOff,
// ModeCool, ModeHeat, ModeFanOnly).
func (m *Manager) SetThermostatMode(ctx context.Context, id string, mode byte) error {
	d, err := m.Device(id)
	if err != nil {
		return err
	}
	if mode > ModeFanOnly {
		return fmt.Errorf("%w: mode %d", ErrInvalidValue, mode)
	}

	if err := m.transport.Control(ctx, d.NetworkAddr, MsgTypeThermostatMode, mode); err != nil {
		return fmt.Errorf("thermostat mode %s: %w", id, err)
	}

	m.setState(id, map[string]any{StateKeyMode: int(mode)})
	return nil
}

// Subscribe registers a state change listener and returns a handle
// for removal.
func (m *Manager) Subscribe(fn StateListener) int {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	m.nextListener++
	id := m.nextListener
	m.listeners[id] = fn
	return id
}

// Unsubscribe removes a state change listener. Unknown handles are
// ignored.
func (m *Manager) Unsubscribe(id int) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	delete(m.listeners, id)
}

// handleStatusEvent applies an unsolicited gateway event to the state
// cache and notifies listeners with the delta.
func (m *Manager) handleStatusEvent(ev StatusEvent) {
	m.mu.RLock()
	id, ok := m.byAddr[ev.NetworkAddr]
	var device Device
	if ok {
		device = m.devices[id]
	}
	m.mu.RUnlock()

	if !ok {
		m.logWarn("status event for unknown device", "addr", fmt.Sprintf("0x%04X", ev.NetworkAddr))
		return
	}

	changed := make(map[string]any)
	for _, u := range ev.Updates {
		switch u.MsgType {
		case MsgTypeOnOff:
			// A one-byte report carries at most four 2-bit fields;
			// channels 5 and up are absent, not off.
			reported := min(device.Channels(), maxPackedWireChannels)
			for channel, on := range DecodeSwitchValue(int(u.Value), reported) {
				changed[SwitchStateKey(channel)] = on
			}
		case MsgTypeBrightness:
			changed[StateKeyBrightness] = int(u.Value)
		case MsgTypeColorTemp:
			changed[StateKeyColorTemp] = int(u.Value)
		case MsgTypeCurtainStatus:
			changed[StateKeyStatus] = int(u.Value)
		case MsgTypeCurtainPosition:
			changed[StateKeyPosition] = int(u.Value)
		case MsgTypeThermostatTarget:
			changed[StateKeyTargetTemp] = int(u.Value)
		case MsgTypeThermostatFanSpeed:
			changed[StateKeyFanSpeed] = int(u.Value)
		case MsgTypeThermostatMode:
			changed[StateKeyMode] = int(u.Value)
		default:
			m.logDebug("unhandled attribute in status event",
				"device", id, "msg_type", fmt.Sprintf("0x%02X", u.MsgType))
		}
	}

	if len(changed) == 0 {
		return
	}

	m.setState(id, changed)
	m.notify(id, changed)
}

// setState merges a delta into a device's state map.
func (m *Manager) setState(id string, changed map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[id] == nil {
		m.states[id] = make(map[string]any)
	}
	for k, v := range changed {
		m.states[id][k] = v
	}
}

// notify delivers a state delta to all listeners. Panics in a listener
// are recovered so one bad consumer cannot break event delivery.
func (m *Manager) notify(id string, changed map[string]any) {
	m.listenerMu.RLock()
	listeners := make([]StateListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenerMu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logError("state listener panic", fmt.Errorf("%v", r))
				}
			}()
			fn(id, changed)
		}()
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	if l := m.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if l := m.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	if l := m.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (m *Manager) logError(msg string, err error) {
	if l := m.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
