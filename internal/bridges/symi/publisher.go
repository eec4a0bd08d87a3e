package symi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Publisher operation constants.
const (
	// commandTimeout bounds execution of one MQTT command.
	commandTimeout = 15 * time.Second

	// defaultHealthInterval is how often health messages are published.
	defaultHealthInterval = 30 * time.Second

	// minTopicParts is the minimum number of parts in a command topic.
	minTopicParts = 4
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// HistoryWriter records numeric state values for later analysis.
// This is optional; if nil, the publisher operates without history.
type HistoryWriter interface {
	// WriteState records one numeric state sample for a device.
	WriteState(deviceID, key string, value float64)
}

// Publisher connects the device manager to the host automation
// framework over MQTT. It publishes state deltas, discovery
// announcements, and health reports, and executes device commands
// received from the host.
//
// Thread Safety: All methods are safe for concurrent use.
type Publisher struct {
	mqtt        MQTTClient
	manager     *Manager
	transport   Transport
	history     HistoryWriter // May be nil (optional)
	gatewayAddr string
	version     string
	interval    time.Duration

	startTime   time.Time
	listenerSub int

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// PublisherOptions holds configuration for creating a publisher.
type PublisherOptions struct {
	// MQTT is the MQTT client implementation. Required.
	MQTT MQTTClient

	// Manager is the device manager. Required.
	Manager *Manager

	// Transport is the gateway session, used for health statistics.
	// Required.
	Transport Transport

	// History is an optional numeric state history writer.
	History HistoryWriter

	// GatewayAddr is the gateway host:port, reported in health messages.
	GatewayAddr string

	// Version is the bridge software version.
	Version string

	// HealthInterval is how often health messages are published.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

// NewPublisher creates a publisher. Call Start to begin operation.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("device manager is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("gateway transport is required")
	}
	if opts.HealthInterval == 0 {
		opts.HealthInterval = defaultHealthInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Publisher{
		mqtt:        opts.MQTT,
		manager:     opts.Manager,
		transport:   opts.Transport,
		history:     opts.History,
		gatewayAddr: opts.GatewayAddr,
		version:     opts.Version,
		interval:    opts.HealthInterval,
		done:        make(chan struct{}),
		ctx:         ctx,
		ctxCancel:   cancel,
		logger:      opts.Logger,
	}, nil
}

// Start begins operation: subscribes to command topics, registers the
// state listener, and starts periodic health reporting.
func (p *Publisher) Start() error {
	p.startTime = time.Now()

	commandTopic := CommandSubscribeTopic()
	if err := p.mqtt.Subscribe(commandTopic, 1, p.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	p.logInfo("subscribed to commands", "topic", commandTopic)

	p.listenerSub = p.manager.Subscribe(p.handleStateChange)

	p.wg.Add(1)
	go p.healthLoop()

	p.publishHealth()
	p.logInfo("publisher started")
	return nil
}

// Stop gracefully shuts down the publisher. A final "stopping" health
// message is published before the broker LWT takes over.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.manager.Unsubscribe(p.listenerSub)
		close(p.done)
		p.ctxCancel()
		p.wg.Wait()

		msg := NewHealthMessage(p.version, p.transport.Stats(), p.gatewayAddr,
			len(p.manager.Devices()), p.startTime)
		msg.Status = HealthStopping
		msg.Reason = "shutdown"
		p.publishJSON(HealthTopic(), msg, true)

		p.logInfo("publisher stopped")
	})
}

// PublishDiscovery announces a discovery round's device list. Display
// names come from names, keyed by device ID; nil is allowed.
func (p *Publisher) PublishDiscovery(devices []Device, names map[string]string) {
	msg := NewDiscoveryMessage(p.gatewayAddr, devices, names)
	p.publishJSON(DiscoveryTopic(), msg, true)
	p.logInfo("published discovery", "devices", len(devices))
}

// handleStateChange publishes a state delta and records numeric values
// in the history writer.
func (p *Publisher) handleStateChange(deviceID string, changed map[string]any) {
	msg := NewStateMessage(deviceID, changed)
	p.publishJSON(StateTopic(deviceID), msg, true)

	if p.history == nil {
		return
	}
	for key, value := range changed {
		switch v := value.(type) {
		case int:
			p.history.WriteState(deviceID, key, float64(v))
		case bool:
			n := 0.0
			if v {
				n = 1.0
			}
			p.history.WriteState(deviceID, key, n)
		}
	}
}

// handleCommandMessage parses and executes a command from the host.
func (p *Publisher) handleCommandMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		p.logError("invalid command topic", fmt.Errorf("topic: %s", topic))
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		p.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = parts[len(parts)-1]
	}

	p.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(p.ctx, commandTimeout)
	defer cancel()

	if err := p.executeCommand(ctx, cmd); err != nil {
		p.publishAck(NewAckError(cmd, commandErrorCode(err), err.Error()))
		p.logError("command failed", err)
		return
	}

	p.publishAck(NewAckMessage(cmd, AckAccepted))
}

// executeCommand dispatches a command to the device manager.
func (p *Publisher) executeCommand(ctx context.Context, cmd CommandMessage) error {
	switch cmd.Command {
	case "on", "off":
		channel := intParam(cmd.Parameters, "channel", 1)
		return p.manager.SetSwitch(ctx, cmd.DeviceID, channel, cmd.Command == "on")
	case "brightness":
		level, ok := requireIntParam(cmd.Parameters, "level")
		if !ok {
			return fmt.Errorf("%w: missing 'level' parameter", ErrInvalidValue)
		}
		return p.manager.SetBrightness(ctx, cmd.DeviceID, level)
	case "color_temp":
		level, ok := requireIntParam(cmd.Parameters, "level")
		if !ok {
			return fmt.Errorf("%w: missing 'level' parameter", ErrInvalidValue)
		}
		return p.manager.SetColorTemp(ctx, cmd.DeviceID, level)
	case "open":
		return p.manager.OpenCurtain(ctx, cmd.DeviceID)
	case "close":
		return p.manager.CloseCurtain(ctx, cmd.DeviceID)
	case "stop":
		return p.manager.StopCurtain(ctx, cmd.DeviceID)
	case "set_position":
		position, ok := requireIntParam(cmd.Parameters, "position")
		if !ok {
			return fmt.Errorf("%w: missing 'position' parameter", ErrInvalidValue)
		}
		return p.manager.SetCurtainPosition(ctx, cmd.DeviceID, position)
	case "set_temperature":
		temp, ok := requireIntParam(cmd.Parameters, "temperature")
		if !ok {
			return fmt.Errorf("%w: missing 'temperature' parameter", ErrInvalidValue)
		}
		return p.manager.SetThermostatTarget(ctx, cmd.DeviceID, temp)
	case "set_fan_speed":
		speed, ok := requireIntParam(cmd.Parameters, "speed")
		if !ok {
			return fmt.Errorf("%w: missing 'speed' parameter", ErrInvalidValue)
		}
		return p.manager.SetThermostatFanSpeed(ctx, cmd.DeviceID, byte(speed))
	case "set_mode":
		mode, ok := requireIntParam(cmd.Parameters, "mode")
		if !ok {
			return fmt.Errorf("%w: missing 'mode' parameter", ErrInvalidValue)
		}
		return p.manager.SetThermostatMode(ctx, cmd.DeviceID, byte(mode))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

// commandErrorCode maps a command error to an ack error code.
func commandErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrUnsupported):
		return ErrCodeUnsupported
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidValue):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrCommandTimeout):
		return ErrCodeTimeout
	default:
		return ErrCodeDeviceUnreachable
	}
}

// intParam extracts an integer parameter, falling back to def.
// JSON numbers decode as float64.
func intParam(params map[string]any, key string, def int) int {
	if v, ok := requireIntParam(params, key); ok {
		return v
	}
	return def
}

// requireIntParam extracts an integer parameter. Returns false if the
// parameter is missing or not a number.
func requireIntParam(params map[string]any, key string) (int, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// healthLoop publishes health messages on a fixed interval.
func (p *Publisher) healthLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.publishHealth()
		}
	}
}

// publishHealth publishes the current health status.
func (p *Publisher) publishHealth() {
	msg := NewHealthMessage(p.version, p.transport.Stats(), p.gatewayAddr,
		len(p.manager.Devices()), p.startTime)
	p.publishJSON(HealthTopic(), msg, true)
}

// publishJSON marshals and publishes a message at QoS 1.
func (p *Publisher) publishJSON(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logError("failed to marshal message", err)
		return
	}
	if err := p.mqtt.Publish(topic, payload, 1, retained); err != nil {
		p.logError("failed to publish message", fmt.Errorf("topic %s: %w", topic, err))
	}
}

// publishAck publishes a command acknowledgment.
func (p *Publisher) publishAck(ack AckMessage) {
	p.publishJSON(AckTopic(ack.DeviceID), ack, false)
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// logInfo logs an info message if logger is set.
func (p *Publisher) logInfo(msg string, keysAndValues ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (p *Publisher) logError(msg string, err error) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
