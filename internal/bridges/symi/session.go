package symi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and sizes for gateway communication.
const (
	// DefaultPort is the TCP port Symi gateways listen on.
	DefaultPort = 4196

	// defaultConnectTimeout is the maximum time to wait for the initial
	// TCP connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultCommandTimeout is the maximum time to wait for a solicited
	// response frame.
	defaultCommandTimeout = 10 * time.Second

	// defaultReadTimeout bounds individual socket reads. Expiry is
	// normal on an idle mesh and just re-arms the read.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout bounds command writes.
	defaultWriteTimeout = 5 * time.Second

	// eventQueueSize is the buffer size for the status event queue.
	eventQueueSize = 100

	// eventWorkerCount is the number of concurrent event dispatch workers.
	eventWorkerCount = 4
)

// SessionConfig holds gateway connection configuration.
type SessionConfig struct {
	// Host is the gateway's IP address or hostname.
	Host string

	// Port is the gateway's TCP port. Default: 4196.
	Port int

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// CommandTimeout is the maximum time to wait for a command response.
	// Default: 10 seconds.
	CommandTimeout time.Duration

	// ReadTimeout bounds individual socket reads. Default: 30 seconds.
	ReadTimeout time.Duration
}

// SessionStats holds operational statistics.
type SessionStats struct {
	FramesTx      uint64
	FramesRx      uint64
	FramesDropped uint64 // Frames dropped due to full event queue or no pending command
	EventsRx      uint64 // Unsolicited status events received
	ErrorsTotal   uint64
	LastActivity  time.Time
	Connected     bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Transport is the gateway session surface the device manager depends
// on. It allows mocking the session in tests.
type Transport interface {
	Discover(ctx context.Context) ([]Device, error)
	Control(ctx context.Context, addr uint16, msgType, value byte) error
	SubscribeEvents(fn func(StatusEvent)) int
	UnsubscribeEvents(id int)
	IsConnected() bool
	Stats() SessionStats
	Close() error
}

// Ensure Session implements Transport.
var _ Transport = (*Session)(nil)

// Session is a single TCP connection to a Symi gateway.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event subscribers are invoked from a bounded worker pool.
//
// Command Model:
//   - The protocol has no correlation IDs, so at most one command is in
//     flight; concurrent callers queue on an internal mutex.
//   - A command timeout leaves the connection open (the reply may still
//     arrive and is then discarded).
//   - Socket errors terminate the session. There is no automatic
//     reconnection; the caller establishes a fresh session.
type Session struct {
	cfg  SessionConfig
	conn net.Conn

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Command serialization (one command in flight)
	cmdMu sync.Mutex

	// Pending solicited response slot
	pendingMu sync.Mutex
	pending   chan Response

	// Event subscribers, keyed by handle
	subMu   sync.RWMutex
	subs    map[int]func(StatusEvent)
	nextSub int

	// Event dispatch queue (bounded goroutine spawning)
	eventQueue chan StatusEvent

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx      atomic.Uint64
	framesRx      atomic.Uint64
	framesDropped atomic.Uint64
	eventsRx      atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64 // Unix timestamp
}

// Connect establishes a TCP session to a Symi gateway.
//
// After connecting it starts the receive loop and the event dispatch
// workers. The gateway requires no handshake; the socket is usable
// immediately.
//
// Parameters:
//   - ctx: Context for cancellation (used for the initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Session: Connected session ready for use
//   - error: If the connection fails
func Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	// Apply defaults
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: no host configured", ErrConnectionFailed)
	}

	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, address, err)
	}

	s := &Session{
		cfg:        cfg,
		conn:       conn,
		subs:       make(map[int]func(StatusEvent)),
		eventQueue: make(chan StatusEvent, eventQueueSize),
		done:       newCloseOnce(),
	}
	s.lastActivity.Store(time.Now().Unix())

	s.connMu.Lock()
	s.connected = true
	s.connMu.Unlock()

	// Start event worker pool (bounded goroutine count)
	for i := 0; i < eventWorkerCount; i++ {
		s.wg.Add(1)
		go s.eventWorker()
	}

	// Start receive loop
	s.wg.Add(1)
	go s.receiveLoop()

	return s, nil
}

// receiveLoop is the single reader of the connection. It demultiplexes
// frames into the pending command slot or the event queue.
//
// Any socket error other than a read timeout terminates the session.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		resp, err := s.readFrame()
		if err != nil {
			if s.handleReadError(err) {
				s.handleDisconnect()
				return
			}
			continue // Recoverable, retry
		}

		s.framesRx.Add(1)
		s.lastActivity.Store(time.Now().Unix())
		s.handleFrame(resp)
	}
}

// readFrame reads and decodes a single frame from the connection.
//
// The stream is resynchronized by discarding bytes until a header byte
// is found, so a garbled frame does not poison subsequent reads.
func (s *Session) readFrame() (Response, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		return Response{}, fmt.Errorf("set read deadline: %w", err)
	}

	// Scan for the header byte
	one := make([]byte, 1)
	discarded := 0
	for {
		if _, err := io.ReadFull(s.conn, one); err != nil {
			return Response{}, fmt.Errorf("read header: %w", err)
		}
		if one[0] == FrameHeader {
			break
		}
		discarded++
	}
	if discarded > 0 {
		s.errorsTotal.Add(1)
		s.logWarn("resynchronized stream", "discarded_bytes", discarded)
	}

	// Rest of the fixed header: opcode, status, length
	header := make([]byte, responseHeaderSize)
	header[0] = FrameHeader
	if _, err := io.ReadFull(s.conn, header[1:]); err != nil {
		return Response{}, fmt.Errorf("read header: %w", err)
	}

	// Payload plus trailing checksum byte
	length := int(header[3])
	body := make([]byte, length+1)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return Response{}, fmt.Errorf("read payload: %w", err)
	}

	// Checksum byte is read to keep framing but not verified
	frame := append(header, body[:length]...)
	resp, err := DecodeResponse(frame)
	if err != nil {
		s.errorsTotal.Add(1)
		s.logError("decode frame failed", err)
		return Response{}, errFrameRetry
	}

	return resp, nil
}

// errFrameRetry marks a malformed frame that should not kill the
// receive loop.
var errFrameRetry = errors.New("symi: retry after malformed frame")

// handleReadError processes a read error and returns true if the
// session must terminate.
func (s *Session) handleReadError(err error) bool {
	if s.isClosed() {
		return true // Clean shutdown
	}

	if errors.Is(err, errFrameRetry) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // Idle mesh, re-arm the read
	}

	s.logError("read failed, terminating session", err)
	s.errorsTotal.Add(1)
	return true
}

// handleFrame routes a decoded frame to the pending command or the
// event queue.
func (s *Session) handleFrame(resp Response) {
	if resp.IsEvent() {
		s.handleEventFrame(resp)
		return
	}

	// Solicited response: deliver to the pending command, if any
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if pending == nil {
		// Late reply after a command timeout, or an unexpected frame
		s.framesDropped.Add(1)
		s.logWarn("discarding unsolicited response", "opcode", fmt.Sprintf("0x%02X", resp.Opcode))
		return
	}
	pending <- resp
}

// handleEventFrame parses and queues an unsolicited status event.
func (s *Session) handleEventFrame(resp Response) {
	if resp.Status != StatusNodeReport {
		s.logDebug("ignoring event with unknown code", "code", resp.Status)
		return
	}

	ev, err := ParseStatusEvent(resp.Payload)
	if err != nil {
		s.errorsTotal.Add(1)
		s.logError("parse status event failed", err)
		return
	}

	s.eventsRx.Add(1)

	// Queue for the bounded worker pool (non-blocking, drop on overflow)
	select {
	case s.eventQueue <- ev:
	default:
		s.framesDropped.Add(1)
		s.errorsTotal.Add(1)
		s.logWarn("event queue full, dropping status event", "addr", ev.NetworkAddr)
	}
}

// eventWorker delivers status events to subscribers.
// Runs in a bounded worker pool to prevent goroutine explosion.
func (s *Session) eventWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			// Drain any remaining items (best-effort, non-blocking)
			s.drainEventQueue()
			return
		case ev := <-s.eventQueue:
			s.dispatchEvent(ev)
		}
	}
}

// dispatchEvent invokes all subscribers for one event. Panics in a
// subscriber are recovered so one bad callback cannot take down the
// dispatch pool.
func (s *Session) dispatchEvent(ev StatusEvent) {
	s.subMu.RLock()
	callbacks := make([]func(StatusEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		callbacks = append(callbacks, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logError("event subscriber panic", fmt.Errorf("%v", r))
				}
			}()
			fn(ev)
		}()
	}
}

// drainEventQueue removes and discards any remaining queued events.
// Called during shutdown to prevent goroutines from blocking on send.
func (s *Session) drainEventQueue() {
	for {
		select {
		case <-s.eventQueue:
		default:
			return
		}
	}
}

// handleDisconnect marks the session dead after a fatal socket error.
func (s *Session) handleDisconnect() {
	s.connMu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.connMu.Unlock()

	if wasConnected {
		s.logInfo("gateway connection lost")
	}

	// Unblock any command waiting for a response
	s.done.Close()
	if s.conn != nil {
		s.conn.Close()
	}
}

// isClosed returns true if the session has been closed.
func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the session terminates,
// whether by Close or by a fatal socket error. Callers use it to detect
// session death and decide whether to reconnect.
func (s *Session) Done() <-chan struct{} {
	return s.done.Done()
}

// Close gracefully closes the session.
//
// It signals the receive loop and event workers to stop and closes the
// underlying connection. Safe to call multiple times.
//
// Returns:
//   - error: nil (closing is best-effort)
func (s *Session) Close() error {
	s.done.Close()

	s.connMu.Lock()
	s.connected = false
	s.connMu.Unlock()

	// Unblocks any pending read
	if s.conn != nil {
		s.conn.Close()
	}

	s.wg.Wait()

	s.logInfo("session closed")
	return nil
}

// sendCommand writes a command frame and waits for the solicited
// response. Commands are serialized; the protocol has no correlation
// IDs so only one may be in flight.
//
// On timeout the connection stays open and ErrCommandTimeout is
// returned; a late reply is discarded by the receive loop.
func (s *Session) sendCommand(ctx context.Context, frame []byte) (Response, error) {
	if !s.IsConnected() {
		return Response{}, ErrNotConnected
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	// Arm the pending slot before writing so a fast reply cannot race
	pending := make(chan Response, 1)
	s.pendingMu.Lock()
	s.pending = pending
	s.pendingMu.Unlock()

	clearPending := func() {
		s.pendingMu.Lock()
		if s.pending == pending {
			s.pending = nil
		}
		s.pendingMu.Unlock()
	}

	if err := s.writeFrame(ctx, frame); err != nil {
		clearPending()
		return Response{}, err
	}

	timeout := s.cfg.CommandTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-pending:
		return resp, nil
	case <-timer.C:
		clearPending()
		s.errorsTotal.Add(1)
		return Response{}, fmt.Errorf("%w: no response within %s", ErrCommandTimeout, timeout)
	case <-ctx.Done():
		clearPending()
		return Response{}, fmt.Errorf("%w: %w", ErrCommandTimeout, ctx.Err())
	case <-s.done.Done():
		clearPending()
		return Response{}, ErrSessionClosed
	}
}

// writeFrame writes a raw frame with a write deadline.
func (s *Session) writeFrame(ctx context.Context, frame []byte) error {
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionFailed, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	default:
	}

	if _, err := conn.Write(frame); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}

	s.framesTx.Add(1)
	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// Discover queries the gateway for its device list.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - []Device: Parsed device records (may be empty)
//   - error: If the command fails, times out, or the reply is malformed
func (s *Session) Discover(ctx context.Context) ([]Device, error) {
	resp, err := s.sendCommand(ctx, EncodeDiscoveryCommand())
	if err != nil {
		return nil, err
	}

	if resp.Opcode != OpDiscoveryResponse {
		return nil, fmt.Errorf("%w: opcode 0x%02X to discovery", ErrUnexpectedResponse, resp.Opcode)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: discovery status 0x%02X", ErrUnexpectedResponse, resp.Status)
	}

	devices, err := ParseDeviceList(resp.Payload)
	if err != nil {
		return devices, err
	}

	s.logDebug("discovery complete", "devices", len(devices))
	return devices, nil
}

// Control writes a single attribute of a mesh node and waits for the
// gateway acknowledgement.
//
// Parameters:
//   - ctx: Context for cancellation
//   - addr: Target node's network address
//   - msgType: Attribute message type
//   - value: Raw attribute value
//
// Returns:
//   - error: If the command fails, times out, or the gateway rejects it
func (s *Session) Control(ctx context.Context, addr uint16, msgType, value byte) error {
	resp, err := s.sendCommand(ctx, EncodeControlCommand(addr, msgType, value))
	if err != nil {
		return err
	}

	if resp.Opcode != OpControlResponse {
		return fmt.Errorf("%w: opcode 0x%02X to control", ErrUnexpectedResponse, resp.Opcode)
	}
	if !resp.OK() {
		return fmt.Errorf("%w: control status 0x%02X", ErrUnexpectedResponse, resp.Status)
	}

	return nil
}

// SubscribeEvents registers a callback for unsolicited status events
// and returns a handle for removal.
//
// Callbacks are invoked from a bounded worker pool; panics are
// recovered and logged.
func (s *Session) SubscribeEvents(fn func(StatusEvent)) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return id
}

// UnsubscribeEvents removes a previously registered event callback.
// Unknown handles are ignored.
func (s *Session) UnsubscribeEvents(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, id)
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// IsConnected returns true if the session is live.
func (s *Session) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected
}

// Stats returns current operational statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		FramesTx:      s.framesTx.Load(),
		FramesRx:      s.framesRx.Load(),
		FramesDropped: s.framesDropped.Load(),
		EventsRx:      s.eventsRx.Load(),
		ErrorsTotal:   s.errorsTotal.Load(),
		LastActivity:  time.Unix(s.lastActivity.Load(), 0),
		Connected:     s.IsConnected(),
	}
}

// logDebug logs a debug message if a logger is set.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is set.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if a logger is set.
func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is set.
func (s *Session) logError(msg string, err error) {
	if l := s.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}
