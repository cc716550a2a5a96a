package plccoms

import (
	"context"
	"math"
	"net"
	"sync"
	"time"
)

// DefaultReconnectInterval is the fixed delay between reconnection
// attempts. The protocol source uses a constant interval, not an
// exponential backoff.
const DefaultReconnectInterval = 4 * time.Second

// ReconnectDelayStrategy computes the wait before each reconnection
// attempt against an address.
type ReconnectDelayStrategy interface {
	GetConnectWaitDuration(addr string) (time.Duration, error)
	Reset()
}

// FixedDelayStrategy waits a constant interval between attempts.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// GetConnectWaitDuration returns the configured delay.
func (strategy *FixedDelayStrategy) GetConnectWaitDuration(addr string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}
	return strategy.Delay, nil
}

// Reset is a no-op for a fixed delay.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy grows the wait per consecutive attempt
// against the same address, capped at MaxDelay.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	attempts  map[string]uint32
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		attempts:  make(map[string]uint32),
	}
}

// GetConnectWaitDuration returns the wait for the next attempt and
// advances the attempt counter.
func (strategy *ExponentialDelayStrategy) GetConnectWaitDuration(addr string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	attempt := strategy.attempts[addr]
	strategy.attempts[addr] = attempt + 1

	delay := strategy.BaseDelay
	if attempt > 0 && delay > 0 {
		scaled := float64(delay) * math.Pow(strategy.Factor, float64(attempt))
		if scaled > float64(strategy.MaxDelay) {
			scaled = float64(strategy.MaxDelay)
		}
		delay = time.Duration(scaled)
	}
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	return delay, nil
}

// Reset clears the attempt counters.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = make(map[string]uint32)
	strategy.lock.Unlock()
}

// startReconnect launches the reconnection supervisor unless one is
// already running or the client has been explicitly closed.
func (client *Client) startReconnect() {
	if !client.reconnecting.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client.lock.Lock()
	if client.closed {
		client.lock.Unlock()
		cancel()
		client.reconnecting.Store(false)
		return
	}
	client.reconnectCancel = cancel
	client.lock.Unlock()

	go client.reconnectRoutine(ctx)
}

// reconnectRoutine retries connecting at the configured interval until it
// succeeds or the client is closed. After a successful redial it replays
// the EN command for every monitored variable before the client reports
// connected again: the PLC forgets wire subscriptions across TCP
// sessions while the client-side callbacks persist, and no new GET/SET
// is accepted until the replay is done.
func (client *Client) reconnectRoutine(ctx context.Context) {
	defer func() {
		client.reconnecting.Store(false)
		client.lock.Lock()
		client.reconnectCancel = nil
		client.lock.Unlock()
	}()

	for {
		wait, err := client.delayStrategy.GetConnectWaitDuration(client.addr())
		if err != nil {
			wait = DefaultReconnectInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		client.lock.Lock()
		finished := client.closed || client.connected
		client.lock.Unlock()
		if finished {
			return
		}

		client.logDebug("attempting reconnect", "addr", client.addr())
		conn, err := client.redial(ctx)
		if err != nil {
			if CodeOf(err) == AlreadyConnectedError {
				return
			}
			client.logWarn("reconnection failed", "error", err)
			continue
		}

		if err := client.resubscribe(conn); err != nil {
			client.logWarn("monitoring replay failed, redialing", "error", err)
			_ = conn.Close()
			continue
		}

		client.lock.Lock()
		if client.closed {
			client.lock.Unlock()
			_ = conn.Close()
			return
		}
		if client.conn != conn {
			// The connection died during the monitoring replay and the
			// read loop already cleared it; dial again.
			client.lock.Unlock()
			client.logWarn("connection lost during monitoring replay, redialing", "addr", client.addr())
			continue
		}
		client.connected = true
		client.setStateLocked(StateConnected)
		client.lock.Unlock()

		client.logInfo("reconnected", "addr", client.addr())
		client.delayStrategy.Reset()
		return
	}
}

// redial re-establishes the TCP connection and the receive loop without
// marking the client connected; the caller flips the state once the
// monitoring replay has completed.
func (client *Client) redial(ctx context.Context) (net.Conn, error) {
	client.lock.Lock()
	if client.closed {
		client.lock.Unlock()
		return nil, NewError(ConnectionError, "client disconnected")
	}
	if client.connected {
		client.lock.Unlock()
		return nil, NewError(AlreadyConnectedError, "already connected to "+client.addr())
	}
	client.lock.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, client.connectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", client.addr())
	if err != nil {
		return nil, NewError(ConnectionRefusedError, "failed to connect to "+client.addr()+": "+err.Error())
	}

	client.lock.Lock()
	if client.closed {
		client.lock.Unlock()
		_ = conn.Close()
		return nil, NewError(ConnectionError, "client disconnected")
	}
	client.conn = conn
	client.lock.Unlock()

	go client.readRoutine(conn)
	return conn, nil
}

// resubscribe re-issues EN for every variable with registered callbacks,
// writing directly to the freshly dialed connection.
func (client *Client) resubscribe(conn net.Conn) error {
	for _, name := range client.registry.variableNames() {
		if err := client.writeCommand(conn, "EN:"+name); err != nil {
			return err
		}
	}
	return nil
}
