package plccoms

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// coordinatorServer answers the startup sequence the coordinator drives:
// GETINFO probes, EN subscriptions with an immediate DIFF, and GET.
func newCoordinatorServer(t *testing.T, values map[string]string) *lineServer {
	t.Helper()
	return newLineServer(t, func(conn net.Conn, line string) {
		switch {
		case line == "GETINFO:version_plc":
			reply(conn, "GETINFO:CP-1000 v5.1")
		case line == "GETINFO:version":
			reply(conn, "GETINFO:PlcComS 4.4")
		case strings.HasPrefix(line, "EN:"):
			name := strings.TrimPrefix(line, "EN:")
			if value, known := values[name]; known {
				reply(conn, "DIFF:"+name+","+value)
			}
		case strings.HasPrefix(line, "GET:"):
			name := strings.TrimPrefix(line, "GET:")
			if value, known := values[name]; known {
				reply(conn, "GET:"+name+","+value)
			}
		}
	})
}

func newTestCoordinator(t *testing.T, server *lineServer, variables []string) *Coordinator {
	t.Helper()
	host, port := server.addr()
	client, err := New(host, WithPort(port), WithReconnect(false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewCoordinator(client, variables, time.Hour, nil)
}

func TestCoordinatorStartProbesAndSubscribes(t *testing.T) {
	server := newCoordinatorServer(t, map[string]string{
		"TEMP": "23.5",
		"DOOR": "true",
	})
	defer server.Close()

	coordinator := newTestCoordinator(t, server, []string{"TEMP", "DOOR"})
	if err := coordinator.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer coordinator.Close()

	if version := coordinator.PLCVersion(); version != "CP-1000 v5.1" {
		t.Fatalf("PLC version = %q", version)
	}
	if model := coordinator.PLCModel(); model != "PlcComS 4.4" {
		t.Fatalf("PLC model = %q", model)
	}
	if !server.waitForLine("EN:TEMP", time.Second) || !server.waitForLine("EN:DOOR", time.Second) {
		t.Fatalf("EN commands not received: %v", server.receivedLines())
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(coordinator.Data()) == 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	data := coordinator.Data()
	if !data["TEMP"].Equal(Real(23.5)) || !data["DOOR"].Equal(Bool(true)) {
		t.Fatalf("data = %v", data)
	}
}

func TestCoordinatorEmitsUpdatesOnChange(t *testing.T) {
	server := newCoordinatorServer(t, map[string]string{"TEMP": "23.5"})
	defer server.Close()

	coordinator := newTestCoordinator(t, server, []string{"TEMP"})
	if err := coordinator.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer coordinator.Close()

	select {
	case update := <-coordinator.Updates():
		if update.Name != "TEMP" || !update.Value.Equal(Real(23.5)) {
			t.Fatalf("update = %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("no update after initial DIFF")
	}
}

func TestCoordinatorIgnoresUnmonitoredVariables(t *testing.T) {
	server := newCoordinatorServer(t, map[string]string{"TEMP": "23.5"})
	defer server.Close()

	coordinator := newTestCoordinator(t, server, []string{"TEMP"})
	if err := coordinator.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer coordinator.Close()

	select {
	case <-coordinator.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update after initial DIFF")
	}

	// A DIFF for a variable outside the configured set must not surface.
	server.broadcast("DIFF:OTHER,1")

	select {
	case update := <-coordinator.Updates():
		t.Fatalf("unexpected update %+v", update)
	case <-time.After(50 * time.Millisecond):
	}
	if _, exists := coordinator.Data()["OTHER"]; exists {
		t.Fatal("unmonitored variable leaked into the data snapshot")
	}
}

func TestCoordinatorResubscribesAfterReconnect(t *testing.T) {
	server := newCoordinatorServer(t, map[string]string{"TEMP": "23.5"})
	defer server.Close()

	host, port := server.addr()
	client, err := New(host, WithPort(port), WithReconnectDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coordinator := NewCoordinator(client, []string{"TEMP"}, time.Hour, nil)
	if err := coordinator.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer coordinator.Close()

	if !server.waitForLine("EN:TEMP", time.Second) {
		t.Fatalf("EN command not received: %v", server.receivedLines())
	}
	select {
	case <-coordinator.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update after initial DIFF")
	}

	server.dropConnections()

	// The coordinator's subscriptions live in the client's table, so the
	// supervisor replays EN:TEMP on the fresh connection.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.countLine("EN:TEMP") >= 2 && client.IsConnected() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if server.countLine("EN:TEMP") < 2 {
		t.Fatalf("EN:TEMP not replayed after reconnect: %v", server.receivedLines())
	}

	server.broadcast("DIFF:TEMP,24.5")
	select {
	case update := <-coordinator.Updates():
		if update.Name != "TEMP" || !update.Value.Equal(Real(24.5)) {
			t.Fatalf("update = %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("no update for DIFF pushed after reconnect")
	}
}

func TestCoordinatorSetVariableRefreshes(t *testing.T) {
	server := newCoordinatorServer(t, map[string]string{"LEVEL": "7"})
	defer server.Close()

	coordinator := newTestCoordinator(t, server, []string{"LEVEL"})
	if err := coordinator.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer coordinator.Close()

	if err := coordinator.SetVariable(context.Background(), "LEVEL", Int(7)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if !server.waitForLine("SET:LEVEL,7", time.Second) {
		t.Fatalf("SET command not received: %v", server.receivedLines())
	}
	if value := coordinator.Data()["LEVEL"]; !value.Equal(Int(7)) {
		t.Fatalf("data after set = %v", value)
	}
}

func TestCoordinatorDoubleStartRejected(t *testing.T) {
	server := newCoordinatorServer(t, nil)
	defer server.Close()

	coordinator := newTestCoordinator(t, server, nil)
	if err := coordinator.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer coordinator.Close()

	if err := coordinator.Start(context.Background()); !errors.Is(err, NewError(CommandError)) {
		t.Fatalf("expected CommandError, got %v", err)
	}
}
