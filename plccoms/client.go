package plccoms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	// DefaultPort is the PlcComS listener port.
	DefaultPort = 5010

	lineTerminator = "\r\n"
	readChunkSize  = 4096
)

// Client is a PlcComS protocol client. It owns one TCP connection, a
// background receive loop, a table of in-flight requests, a variable
// value cache, and a subscription registry. All methods are safe for
// concurrent use.
type Client struct {
	host           string
	port           int
	connectTimeout time.Duration
	requestTimeout time.Duration
	listWindow     time.Duration
	logger         *slog.Logger
	stateHandler   ConnectionStateHandler

	lock      sync.Mutex
	conn      net.Conn
	connected bool
	closed    bool
	state     ConnectionState

	sendLock sync.Mutex
	encoder  *encoding.Encoder

	pending  *pendingTable
	registry *subscriptionRegistry

	cacheLock sync.RWMutex
	cache     map[string]Value

	reconnectEnabled bool
	delayStrategy    ReconnectDelayStrategy
	reconnecting     atomic.Bool
	reconnectCancel  context.CancelFunc
}

// New creates a client for the PLC at host. The client does not connect
// until Connect is called.
func New(host string, opts ...ClientOption) (*Client, error) {
	if host == "" {
		return nil, NewError(CommandError, "host must not be empty")
	}

	config := defaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return &Client{
		host:             host,
		port:             config.port,
		connectTimeout:   config.connectTimeout,
		requestTimeout:   config.requestTimeout,
		listWindow:       config.listWindow,
		logger:           config.logger,
		stateHandler:     config.stateHandler,
		encoder:          encoding.ReplaceUnsupported(charmap.Windows1250.NewEncoder()),
		pending:          newPendingTable(),
		registry:         newSubscriptionRegistry(),
		cache:            make(map[string]Value),
		reconnectEnabled: config.reconnectEnabled,
		delayStrategy:    config.delayStrategy,
	}, nil
}

func (client *Client) addr() string {
	return net.JoinHostPort(client.host, strconv.Itoa(client.port))
}

// Host returns the configured PLC host.
func (client *Client) Host() string { return client.host }

// Port returns the configured PLC port.
func (client *Client) Port() int { return client.port }

// IsConnected reports whether the client currently holds an established
// connection.
func (client *Client) IsConnected() bool {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.connected
}

// State returns the current connection lifecycle state.
func (client *Client) State() ConnectionState {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.state
}

// Variables returns a snapshot of the cached variable values.
func (client *Client) Variables() map[string]Value {
	client.cacheLock.RLock()
	defer client.cacheLock.RUnlock()

	snapshot := make(map[string]Value, len(client.cache))
	for name, value := range client.cache {
		snapshot[name] = value
	}
	return snapshot
}

func (client *Client) setStateLocked(state ConnectionState) {
	if client.state == state {
		return
	}
	client.state = state
	if client.stateHandler != nil {
		client.stateHandler(state)
	}
}

// Connect opens the TCP connection and starts the receive loop. The
// connect attempt is bounded by the configured connect timeout, or by
// the context deadline when one is set. The dial happens outside the
// client lock so State, IsConnected, and Disconnect never block on a
// slow dial; a Disconnect issued meanwhile aborts the attempt.
func (client *Client) Connect(ctx context.Context) error {
	client.lock.Lock()
	if client.connected {
		client.lock.Unlock()
		return NewError(AlreadyConnectedError, "already connected to "+client.addr())
	}
	client.closed = false
	client.setStateLocked(StateConnecting)
	client.lock.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, client.connectTimeout)
		defer cancel()
	}

	client.logDebug("connecting", "addr", client.addr())
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", client.addr())
	if err != nil {
		client.lock.Lock()
		if !client.closed {
			client.setStateLocked(StateDisconnected)
		}
		client.lock.Unlock()
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(ConnectionError, "connection timeout to "+client.addr())
		}
		return NewError(ConnectionRefusedError, fmt.Sprintf("failed to connect to %s: %v", client.addr(), err))
	}

	client.lock.Lock()
	if client.closed {
		client.lock.Unlock()
		_ = conn.Close()
		return NewError(ConnectionError, "client disconnected")
	}
	if client.connected {
		client.lock.Unlock()
		_ = conn.Close()
		return NewError(AlreadyConnectedError, "already connected to "+client.addr())
	}
	client.conn = conn
	client.connected = true
	client.setStateLocked(StateConnected)
	client.lock.Unlock()
	client.logInfo("connected", "addr", client.addr())

	go client.readRoutine(conn)
	return nil
}

// Disconnect closes the connection, cancels the receive loop and any
// reconnection attempt, and fails all in-flight requests. It is
// idempotent and permanently disables automatic reconnection.
func (client *Client) Disconnect() error {
	client.lock.Lock()
	client.closed = true
	client.reconnectEnabled = false
	cancel := client.reconnectCancel
	client.reconnectCancel = nil
	conn := client.conn
	client.conn = nil
	client.connected = false
	client.setStateLocked(StateClosed)
	client.lock.Unlock()

	if cancel != nil {
		cancel()
	}

	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}

	client.pending.failAll(NewError(ConnectionError, "client disconnected"))
	client.logInfo("disconnected", "addr", client.addr())

	if closeErr != nil {
		return NewError(ConnectionError, closeErr)
	}
	return nil
}

// readRoutine reads raw chunks, transcodes them from Windows-1250, and
// processes every complete CRLF-terminated line. A zero-length read or
// any read error takes the disconnect-handling path.
func (client *Client) readRoutine(conn net.Conn) {
	decoder := charmap.Windows1250.NewDecoder()
	chunk := make([]byte, readChunkSize)
	var buffer string

	for {
		count, err := conn.Read(chunk)
		if count > 0 {
			// cp1250 is a single-byte charset: bytes without a mapping
			// decode to the replacement rune, never to an error.
			decoded, decodeErr := decoder.Bytes(chunk[:count])
			if decodeErr != nil {
				decoded = chunk[:count]
			}
			buffer += string(decoded)

			for {
				index := strings.Index(buffer, lineTerminator)
				if index < 0 {
					break
				}
				line := buffer[:index]
				buffer = buffer[index+len(lineTerminator):]
				if line != "" {
					client.processLine(line)
				}
			}
		}
		if err != nil {
			client.onConnectionError(conn, err)
			return
		}
	}
}

// onConnectionError handles an unexpected connection loss: it fails all
// in-flight requests and hands control to the reconnection supervisor
// when automatic reconnection is enabled. The conn identity check keeps
// a stale read loop from tearing down a replacement connection.
func (client *Client) onConnectionError(conn net.Conn, err error) {
	client.lock.Lock()
	if client.conn != conn {
		// Disconnect already ran, or a later redial replaced the
		// connection; the read error is an old loop winding down.
		client.lock.Unlock()
		return
	}
	if !client.connected {
		// The redialed connection died before the monitoring replay
		// finished. Clear it so the supervisor dials again instead of
		// promoting a dead connection.
		client.conn = nil
		client.lock.Unlock()
		_ = conn.Close()
		client.logWarn("connection lost before monitoring replay completed", "addr", client.addr(), "error", err)
		return
	}
	client.connected = false
	client.conn = nil
	_ = conn.Close()
	reconnect := client.reconnectEnabled && !client.closed
	if reconnect {
		client.setStateLocked(StateReconnecting)
	} else {
		client.setStateLocked(StateDisconnected)
	}
	client.lock.Unlock()

	client.logWarn("connection lost", "addr", client.addr(), "error", err)
	client.pending.failAll(NewError(ConnectionError, "connection lost"))

	if reconnect {
		client.startReconnect()
	}
}

// send serializes one command line onto the wire. Rejected while the
// client is not fully connected, including the window between a redial
// and the completed monitoring replay.
func (client *Client) send(command string) error {
	client.lock.Lock()
	conn := client.conn
	connected := client.connected
	client.lock.Unlock()

	if !connected || conn == nil {
		return NewError(DisconnectedError, "not connected to PLC")
	}
	return client.writeCommand(conn, command)
}

// writeCommand encodes and writes one command line. The send lock keeps
// one caller's bytes from interleaving with another's.
func (client *Client) writeCommand(conn net.Conn, command string) error {
	client.sendLock.Lock()
	defer client.sendLock.Unlock()

	data, err := client.encoder.Bytes([]byte(command + lineTerminator))
	if err != nil {
		return NewError(ProtocolError, fmt.Sprintf("failed to encode command: %v", err))
	}
	if _, err := conn.Write(data); err != nil {
		return NewError(ConnectionError, fmt.Sprintf("failed to send command: %v", err))
	}

	client.logDebug("sent", "command", command)
	return nil
}

// processLine decodes one response line and routes it. Malformed lines
// and unrecognized commands are logged and dropped, never fatal.
func (client *Client) processLine(line string) {
	client.logDebug("received", "line", line)

	command, payload, found := strings.Cut(line, ":")
	if !found {
		client.logWarn("invalid response format", "line", line)
		return
	}

	switch strings.ToUpper(command) {
	case "GET":
		client.handleValueResponse(payload, true)
	case "DIFF":
		client.handleValueResponse(payload, false)
	case "LIST":
		client.handleListResponse(payload)
	case "ERROR":
		// ERROR lines carry no key correlating them to a command, so they
		// must not fail an in-flight request; a waiter explicitly
		// registered on the error slot gets it, everyone else only sees
		// the log line.
		client.logError("PLC error", "message", payload)
		client.pending.resolve(pendingErrorKey, pendingResult{err: NewError(ProtocolError, payload)})
	case "WARNING":
		client.logWarn("PLC warning", "message", payload)
	case "GETINFO":
		client.pending.resolve(pendingInfoKey, pendingResult{info: payload})
	default:
		client.logDebug("unhandled response", "line", line)
	}
}

// handleValueResponse processes GET and DIFF payloads. Both update the
// cache and notify subscribers; only GET fulfills a pending request.
func (client *Client) handleValueResponse(payload string, fulfill bool) {
	name, raw, found := strings.Cut(payload, ",")
	if !found {
		return
	}

	value := ParseValue(raw)

	client.cacheLock.Lock()
	client.cache[name] = value
	client.cacheLock.Unlock()

	if fulfill {
		client.pending.resolve(pendingGetKey(name), pendingResult{value: value})
	}

	client.registry.dispatch(name, value, client.logger)
}

// handleListResponse records one catalog entry into the in-flight LIST
// accumulation, if any. A bare name with no comma gets type UNKNOWN.
func (client *Client) handleListResponse(payload string) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return
	}

	entry := VariableInfo{Name: payload, Type: TypeUnknown}
	if index := strings.LastIndex(payload, ","); index >= 0 {
		entry.Name = payload[:index]
		entry.Type = strings.TrimSuffix(payload[index+1:], "*")
	}

	if request, exists := client.pending.lookup(pendingListKey); exists && request.list != nil {
		request.list.add(entry)
	}
}

// requestContext applies the default request timeout when the caller's
// context carries no deadline.
func (client *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, client.requestTimeout)
}

// GetVariable requests the current value of a variable and waits for the
// matching response. A concurrent GetVariable for the same name is
// rejected with PendingRequestError. On timeout the pending entry is
// removed and TimedOutError returned; connection loss while waiting
// fails the call with ConnectionError.
func (client *Client) GetVariable(ctx context.Context, name string) (Value, error) {
	if name == "" {
		return Value{}, NewError(CommandError, "variable name must not be empty")
	}

	key := pendingGetKey(name)
	request, err := client.pending.register(key, pendingGet)
	if err != nil {
		return Value{}, err
	}
	defer client.pending.remove(key, request)

	if err := client.send("GET:" + name); err != nil {
		return Value{}, err
	}

	ctx, cancel := client.requestContext(ctx)
	defer cancel()

	select {
	case result := <-request.result:
		if result.err != nil {
			return Value{}, result.err
		}
		return result.value, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Value{}, NewError(TimedOutError, "no response for GET:"+name)
		}
		return Value{}, ctx.Err()
	}
}

// SetVariable writes a variable value. The protocol sends no response to
// SET, so the call is fire-and-forget; it fails only when the client is
// not connected.
func (client *Client) SetVariable(name string, value Value) error {
	if name == "" {
		return NewError(CommandError, "variable name must not be empty")
	}
	return client.send("SET:" + name + "," + value.Format())
}

// ListVariables requests the variable catalog and collects LIST entries
// for the full configured list window. The protocol gives no terminator
// for catalog output, so the call deliberately blocks for the entire
// window and returns whatever accumulated, in arrival order.
func (client *Client) ListVariables(ctx context.Context) ([]VariableInfo, error) {
	request, err := client.pending.register(pendingListKey, pendingList)
	if err != nil {
		return nil, err
	}
	defer client.pending.remove(pendingListKey, request)

	if err := client.send("LIST:"); err != nil {
		return nil, err
	}

	timer := time.NewTimer(client.listWindow)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	entries := request.list.snapshot()

	// Connection loss during the window fails the call only when nothing
	// at all was collected; partial output is still worth returning.
	select {
	case result := <-request.result:
		if result.err != nil && len(entries) == 0 {
			return nil, result.err
		}
	default:
	}

	return entries, nil
}

// GetInfo requests server or PLC metadata (for example "version" or
// "version_plc") and waits for exactly one GETINFO response.
func (client *Client) GetInfo(ctx context.Context, param string) (string, error) {
	request, err := client.pending.register(pendingInfoKey, pendingInfo)
	if err != nil {
		return "", err
	}
	defer client.pending.remove(pendingInfoKey, request)

	if err := client.send("GETINFO:" + param); err != nil {
		return "", err
	}

	ctx, cancel := client.requestContext(ctx)
	defer cancel()

	select {
	case result := <-request.result:
		if result.err != nil {
			return "", result.err
		}
		return result.info, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", NewError(TimedOutError, "no response for GETINFO:"+param)
		}
		return "", ctx.Err()
	}
}

// EnableMonitoring asks the PLC to report changes of a variable via DIFF
// notifications. A delta above zero sets the minimum change threshold;
// zero reports every change. The optional callback is registered for the
// variable before the wire command is sent; its CallbackID is returned
// (zero when no callback was given).
func (client *Client) EnableMonitoring(name string, delta float64, callback Callback) (CallbackID, error) {
	if name == "" {
		return 0, NewError(CommandError, "variable name must not be empty")
	}

	var id CallbackID
	if callback != nil {
		id = client.registry.addVariable(name, callback)
	}

	command := "EN:" + name
	if delta > 0 {
		command += " " + strconv.FormatFloat(delta, 'g', -1, 64)
	}
	if err := client.send(command); err != nil {
		return id, err
	}
	return id, nil
}

// DisableMonitoring removes all callbacks registered for the variable and
// asks the PLC to stop reporting its changes.
func (client *Client) DisableMonitoring(name string) error {
	if name == "" {
		return NewError(CommandError, "variable name must not be empty")
	}
	client.registry.removeVariable(name)
	return client.send("DI:" + name)
}

// RegisterCallback registers a callback for variable updates without
// touching the wire subscription, which is useful for observing values
// already monitored by another subscriber. With no variable name the
// callback observes every update.
func (client *Client) RegisterCallback(callback Callback, varName ...string) CallbackID {
	if callback == nil {
		return 0
	}
	if len(varName) > 0 && varName[0] != "" {
		return client.registry.addVariable(varName[0], callback)
	}
	return client.registry.addGlobal(callback)
}

// UnregisterCallback removes a previously registered callback.
func (client *Client) UnregisterCallback(id CallbackID) bool {
	return client.registry.remove(id)
}

func (client *Client) logDebug(msg string, args ...interface{}) {
	if client.logger != nil {
		client.logger.Debug(msg, args...)
	}
}

func (client *Client) logInfo(msg string, args ...interface{}) {
	if client.logger != nil {
		client.logger.Info(msg, args...)
	}
}

func (client *Client) logWarn(msg string, args ...interface{}) {
	if client.logger != nil {
		client.logger.Warn(msg, args...)
	}
}

func (client *Client) logError(msg string, args ...interface{}) {
	if client.logger != nil {
		client.logger.Error(msg, args...)
	}
}
