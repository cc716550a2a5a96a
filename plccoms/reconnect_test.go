package plccoms

import (
	"io"
	"testing"
	"time"
)

func TestFixedDelayStrategy(t *testing.T) {
	strategy := NewFixedDelayStrategy(2 * time.Second)

	for attempt := 0; attempt < 3; attempt++ {
		duration, err := strategy.GetConnectWaitDuration("127.0.0.1:5010")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if duration != 2*time.Second {
			t.Fatalf("attempt %d: duration = %v, expected 2s", attempt, duration)
		}
	}

	strategy.Reset()
	if duration, _ := strategy.GetConnectWaitDuration("127.0.0.1:5010"); duration != 2*time.Second {
		t.Fatalf("duration after reset = %v, expected 2s", duration)
	}
}

func TestFixedDelayStrategyClampsNegative(t *testing.T) {
	strategy := NewFixedDelayStrategy(-time.Second)
	if duration, _ := strategy.GetConnectWaitDuration("127.0.0.1:5010"); duration != 0 {
		t.Fatalf("duration = %v, expected 0", duration)
	}
}

func TestExponentialDelayStrategyBackoff(t *testing.T) {
	strategy := NewExponentialDelayStrategy(100*time.Millisecond, 1*time.Second, 2.0)
	addr := "127.0.0.1:5010"

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second,
		1 * time.Second,
	}
	for attempt, want := range expected {
		duration, err := strategy.GetConnectWaitDuration(addr)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", attempt, err)
		}
		if duration != want {
			t.Fatalf("attempt %d: duration = %v, expected %v", attempt, duration, want)
		}
	}

	strategy.Reset()
	if duration, _ := strategy.GetConnectWaitDuration(addr); duration != 100*time.Millisecond {
		t.Fatalf("duration after reset = %v, expected 100ms", duration)
	}
}

func connClosed(connection *scriptConn) bool {
	select {
	case <-connection.closed:
		return true
	default:
		return false
	}
}

func TestReadFailureBeforePromotionClearsConnection(t *testing.T) {
	client, err := New("127.0.0.1", WithReconnect(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A redialed connection is installed but the monitoring replay has
	// not finished, so the client does not report connected yet.
	connection := newScriptConn()
	client.lock.Lock()
	client.conn = connection
	client.connected = false
	client.state = StateReconnecting
	client.lock.Unlock()

	client.onConnectionError(connection, io.EOF)

	client.lock.Lock()
	conn := client.conn
	client.lock.Unlock()
	if conn != nil {
		t.Fatal("dead connection must be cleared so the supervisor dials again")
	}
	if !connClosed(connection) {
		t.Fatal("dead connection must be closed")
	}
}

func TestStaleReadLoopIgnoresReplacedConnection(t *testing.T) {
	client, err := New("127.0.0.1", WithReconnect(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	oldConn := newScriptConn()
	newConn := newScriptConn()
	client.lock.Lock()
	client.conn = newConn
	client.connected = true
	client.state = StateConnected
	client.lock.Unlock()

	// The old loop's read error must not tear down the replacement.
	client.onConnectionError(oldConn, io.EOF)

	client.lock.Lock()
	connected := client.connected
	conn := client.conn
	client.lock.Unlock()
	if !connected || conn != newConn {
		t.Fatal("replacement connection must survive the stale read error")
	}
	if connClosed(newConn) {
		t.Fatal("replacement connection must stay open")
	}
}

func TestExponentialDelayStrategyTracksAddressesSeparately(t *testing.T) {
	strategy := NewExponentialDelayStrategy(100*time.Millisecond, 1*time.Second, 2.0)

	if duration, _ := strategy.GetConnectWaitDuration("a:1"); duration != 100*time.Millisecond {
		t.Fatalf("first address duration = %v", duration)
	}
	if duration, _ := strategy.GetConnectWaitDuration("a:1"); duration != 200*time.Millisecond {
		t.Fatalf("first address second attempt = %v", duration)
	}
	if duration, _ := strategy.GetConnectWaitDuration("b:1"); duration != 100*time.Millisecond {
		t.Fatalf("second address must start fresh, got %v", duration)
	}
}
