package plccoms

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is the default interval for the coordinator's
// background refresh of monitored variables.
const DefaultPollInterval = 30 * time.Second

// Update is one variable change observed by a Coordinator.
type Update struct {
	Name  string
	Value Value
}

// Coordinator owns a client on behalf of a consumer that wants a merged
// view of a fixed variable set: it connects, probes PLC metadata,
// enables wire monitoring for each variable, absorbs DIFF pushes, and
// polls current values on a fixed interval as a safety net. It stops at
// the variable-snapshot boundary; interpreting values as devices is the
// consumer's concern.
type Coordinator struct {
	client    *Client
	variables []string
	interval  time.Duration
	logger    *slog.Logger

	lock        sync.Mutex
	data        map[string]Value
	started     bool
	callbackIDs []CallbackID
	cancel      context.CancelFunc

	plcVersion string
	plcModel   string

	updates chan Update
}

// NewCoordinator creates a coordinator over client for the given
// variables. A non-positive interval selects DefaultPollInterval.
func NewCoordinator(client *Client, variables []string, interval time.Duration, logger *slog.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Coordinator{
		client:    client,
		variables: append([]string(nil), variables...),
		interval:  interval,
		logger:    logger,
		data:      make(map[string]Value),
		updates:   make(chan Update, 64),
	}
}

// Client returns the underlying protocol client.
func (coordinator *Coordinator) Client() *Client { return coordinator.client }

// MonitoredVariables returns the configured variable names.
func (coordinator *Coordinator) MonitoredVariables() []string {
	return append([]string(nil), coordinator.variables...)
}

// PLCVersion returns the PLC firmware version probed at start, if any.
func (coordinator *Coordinator) PLCVersion() string {
	coordinator.lock.Lock()
	defer coordinator.lock.Unlock()
	return coordinator.plcVersion
}

// PLCModel returns the server version string probed at start, if any.
func (coordinator *Coordinator) PLCModel() string {
	coordinator.lock.Lock()
	defer coordinator.lock.Unlock()
	return coordinator.plcModel
}

// Updates returns the channel carrying observed variable changes. Slow
// consumers lose updates rather than stalling dispatch.
func (coordinator *Coordinator) Updates() <-chan Update {
	return coordinator.updates
}

// Data returns a snapshot of the latest known values for the monitored
// variables.
func (coordinator *Coordinator) Data() map[string]Value {
	coordinator.lock.Lock()
	defer coordinator.lock.Unlock()

	snapshot := make(map[string]Value, len(coordinator.data))
	for name, value := range coordinator.data {
		snapshot[name] = value
	}
	return snapshot
}

// Start connects the client, probes PLC info, enables monitoring for
// every configured variable, and launches the polling loop. Metadata and
// per-variable monitoring failures are logged, not fatal; only a failed
// connection aborts the start.
func (coordinator *Coordinator) Start(ctx context.Context) error {
	coordinator.lock.Lock()
	if coordinator.started {
		coordinator.lock.Unlock()
		return NewError(CommandError, "coordinator already started")
	}
	coordinator.started = true
	coordinator.lock.Unlock()

	if !coordinator.client.IsConnected() {
		if err := coordinator.client.Connect(ctx); err != nil {
			coordinator.lock.Lock()
			coordinator.started = false
			coordinator.lock.Unlock()
			return err
		}
	}

	if version, err := coordinator.client.GetInfo(ctx, "version_plc"); err == nil {
		coordinator.lock.Lock()
		coordinator.plcVersion = version
		coordinator.lock.Unlock()
	} else {
		coordinator.logDebug("failed to get PLC version", "error", err)
	}
	if model, err := coordinator.client.GetInfo(ctx, "version"); err == nil {
		coordinator.lock.Lock()
		coordinator.plcModel = model
		coordinator.lock.Unlock()
	} else {
		coordinator.logDebug("failed to get server version", "error", err)
	}

	// Registering the callback per variable puts each one into the
	// client's subscription table, so monitoring is replayed for them
	// after an automatic reconnect.
	var callbackIDs []CallbackID
	for _, name := range coordinator.variables {
		id, err := coordinator.client.EnableMonitoring(name, 0, coordinator.onVariableUpdate)
		if err != nil {
			coordinator.logWarn("failed to enable monitoring", "variable", name, "error", err)
		}
		if id != 0 {
			callbackIDs = append(callbackIDs, id)
		}
	}

	coordinator.lock.Lock()
	coordinator.callbackIDs = callbackIDs
	pollCtx, cancel := context.WithCancel(context.Background())
	coordinator.cancel = cancel
	coordinator.lock.Unlock()

	go coordinator.pollRoutine(pollCtx)
	return nil
}

// Close stops polling, unregisters the change callback, and disconnects
// the client.
func (coordinator *Coordinator) Close() error {
	coordinator.lock.Lock()
	cancel := coordinator.cancel
	coordinator.cancel = nil
	callbackIDs := coordinator.callbackIDs
	coordinator.callbackIDs = nil
	coordinator.started = false
	coordinator.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, id := range callbackIDs {
		coordinator.client.UnregisterCallback(id)
	}
	return coordinator.client.Disconnect()
}

// SetVariable writes a value through the client and refreshes the local
// view of that variable.
func (coordinator *Coordinator) SetVariable(ctx context.Context, name string, value Value) error {
	if err := coordinator.client.SetVariable(name, value); err != nil {
		return err
	}
	refreshed, err := coordinator.client.GetVariable(ctx, name)
	if err != nil {
		return err
	}
	coordinator.store(name, refreshed)
	return nil
}

func (coordinator *Coordinator) onVariableUpdate(name string, value Value) {
	coordinator.store(name, value)
}

func (coordinator *Coordinator) store(name string, value Value) {
	coordinator.lock.Lock()
	previous, known := coordinator.data[name]
	coordinator.data[name] = value
	coordinator.lock.Unlock()

	if known && previous.Equal(value) {
		return
	}

	select {
	case coordinator.updates <- Update{Name: name, Value: value}:
	default:
		coordinator.logDebug("update channel full, dropping", "variable", name)
	}
}

// pollRoutine refreshes every monitored variable at the configured
// interval. Individual timeouts keep the previous value.
func (coordinator *Coordinator) pollRoutine(ctx context.Context) {
	ticker := time.NewTicker(coordinator.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, name := range coordinator.variables {
			value, err := coordinator.client.GetVariable(ctx, name)
			if err != nil {
				coordinator.logWarn("failed to refresh variable", "variable", name, "error", err)
				continue
			}
			coordinator.store(name, value)
		}
	}
}

func (coordinator *Coordinator) logDebug(msg string, args ...interface{}) {
	if coordinator.logger != nil {
		coordinator.logger.Debug(msg, args...)
	}
}

func (coordinator *Coordinator) logWarn(msg string, args ...interface{}) {
	if coordinator.logger != nil {
		coordinator.logger.Warn(msg, args...)
	}
}
