package main

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient drives one protocol connection against an in-process server.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTestServer(t *testing.T) (*server, *testClient) {
	t.Helper()

	table, err := newVarTable([]variableDef{
		{Name: "TEMP", Type: "REAL", Value: "23.5"},
		{Name: "LIGHT", Type: "BOOL", Value: "0"},
	})
	require.NoError(t, err)

	srv := newServer(table, "4.4.1", "CP-1000 v5.1", false)
	return srv, connect(t, srv)
}

func connect(t *testing.T, srv *server) *testClient {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	go srv.handleConnection(serverSide)
	t.Cleanup(func() { clientSide.Close() })

	return &testClient{conn: clientSide, reader: bufio.NewReader(clientSide)}
}

func (client *testClient) send(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, client.conn.SetWriteDeadline(time.Now().Add(time.Second)))
	_, err := client.conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func (client *testClient) recv(t *testing.T) string {
	t.Helper()
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(time.Second)))
	line, err := client.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func TestGetKnownVariable(t *testing.T) {
	_, client := newTestServer(t)

	client.send(t, "GET:TEMP")
	assert.Equal(t, "GET:TEMP,23.5", client.recv(t))
}

func TestGetUnknownVariable(t *testing.T) {
	_, client := newTestServer(t)

	client.send(t, "GET:MISSING")
	assert.Equal(t, "ERROR:unknown variable 'MISSING'", client.recv(t))
}

func TestUnknownCommand(t *testing.T) {
	_, client := newTestServer(t)

	client.send(t, "FROB:TEMP")
	assert.Equal(t, "ERROR:unknown command 'FROB'", client.recv(t))

	client.send(t, "no colon here")
	assert.Equal(t, "ERROR:invalid command format", client.recv(t))
}

func TestListCatalog(t *testing.T) {
	_, client := newTestServer(t)

	client.send(t, "LIST:")
	assert.Equal(t, "LIST:TEMP,REAL", client.recv(t))
	assert.Equal(t, "LIST:LIGHT,BOOL", client.recv(t))
}

func TestGetInfo(t *testing.T) {
	_, client := newTestServer(t)

	client.send(t, "GETINFO:version")
	assert.Equal(t, "GETINFO:4.4.1", client.recv(t))

	client.send(t, "GETINFO:version_plc")
	assert.Equal(t, "GETINFO:CP-1000 v5.1", client.recv(t))

	client.send(t, "GETINFO:bogus")
	assert.Equal(t, "ERROR:unknown parameter 'bogus'", client.recv(t))
}

func TestEnableReportsCurrentValue(t *testing.T) {
	_, client := newTestServer(t)

	client.send(t, "EN:TEMP")
	assert.Equal(t, "DIFF:TEMP,23.5", client.recv(t))
}

func TestSetFansOutToSubscribers(t *testing.T) {
	srv, subscriber := newTestServer(t)
	writer := connect(t, srv)

	subscriber.send(t, "EN:LIGHT")
	assert.Equal(t, "DIFF:LIGHT,0", subscriber.recv(t))

	writer.send(t, "SET:LIGHT,1")
	assert.Equal(t, "DIFF:LIGHT,1", subscriber.recv(t))
}

func TestSetWithoutChangeIsSilent(t *testing.T) {
	srv, subscriber := newTestServer(t)
	writer := connect(t, srv)

	subscriber.send(t, "EN:TEMP")
	assert.Equal(t, "DIFF:TEMP,23.5", subscriber.recv(t))

	// Same value again: no DIFF. A follow-up GET proves the connection
	// is still responsive and nothing else was queued.
	writer.send(t, "SET:TEMP,23.5")
	subscriber.send(t, "GET:LIGHT")
	assert.Equal(t, "GET:LIGHT,0", subscriber.recv(t))
}

func TestDeltaThresholdSuppressesSmallChanges(t *testing.T) {
	srv, subscriber := newTestServer(t)
	writer := connect(t, srv)

	subscriber.send(t, "EN:TEMP 1.0")
	assert.Equal(t, "DIFF:TEMP,23.5", subscriber.recv(t))

	// Below threshold relative to the last reported value.
	writer.send(t, "SET:TEMP,23.9")
	// Above threshold.
	writer.send(t, "SET:TEMP,25.0")
	assert.Equal(t, "DIFF:TEMP,25.0", subscriber.recv(t))
}

func TestDisableStopsNotifications(t *testing.T) {
	srv, subscriber := newTestServer(t)
	writer := connect(t, srv)

	subscriber.send(t, "EN:LIGHT")
	assert.Equal(t, "DIFF:LIGHT,0", subscriber.recv(t))

	subscriber.send(t, "DI:LIGHT")
	writer.send(t, "SET:LIGHT,1")

	subscriber.send(t, "GET:TEMP")
	assert.Equal(t, "GET:TEMP,23.5", subscriber.recv(t))
}

func TestEnableUnknownVariable(t *testing.T) {
	_, client := newTestServer(t)

	client.send(t, "EN:MISSING")
	assert.Equal(t, "ERROR:unknown variable 'MISSING'", client.recv(t))
}

func TestEnableInvalidDelta(t *testing.T) {
	_, client := newTestServer(t)

	client.send(t, "EN:TEMP abc")
	assert.Equal(t, "ERROR:invalid EN delta 'abc'", client.recv(t))
}
