package plccoms

import (
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

type dummyAddr struct {
	value string
}

func (addr dummyAddr) Network() string { return "tcp" }
func (addr dummyAddr) String() string  { return addr.value }

// scriptConn is an in-memory net.Conn whose reads block until a test
// enqueues data or closes the connection.
type scriptConn struct {
	readCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	lock     sync.Mutex
	leftover []byte
	writeBuf bytes.Buffer
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		readCh: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// enqueueLine schedules one CRLF-terminated protocol line for reading.
func (connection *scriptConn) enqueueLine(line string) {
	connection.enqueueRaw([]byte(line + "\r\n"))
}

func (connection *scriptConn) enqueueRaw(data []byte) {
	select {
	case connection.readCh <- append([]byte(nil), data...):
	case <-connection.closed:
	}
}

func (connection *scriptConn) Read(buffer []byte) (int, error) {
	connection.lock.Lock()
	if len(connection.leftover) > 0 {
		count := copy(buffer, connection.leftover)
		connection.leftover = connection.leftover[count:]
		connection.lock.Unlock()
		return count, nil
	}
	connection.lock.Unlock()

	select {
	case data := <-connection.readCh:
		count := copy(buffer, data)
		if count < len(data) {
			connection.lock.Lock()
			connection.leftover = append(connection.leftover, data[count:]...)
			connection.lock.Unlock()
		}
		return count, nil
	case <-connection.closed:
		return 0, io.EOF
	}
}

func (connection *scriptConn) Write(buffer []byte) (int, error) {
	select {
	case <-connection.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.writeBuf.Write(buffer)
}

func (connection *scriptConn) Close() error {
	connection.closeOnce.Do(func() { close(connection.closed) })
	return nil
}

func (connection *scriptConn) LocalAddr() net.Addr  { return dummyAddr{value: "127.0.0.1:5010"} }
func (connection *scriptConn) RemoteAddr() net.Addr { return dummyAddr{value: "127.0.0.1:5011"} }

func (connection *scriptConn) SetDeadline(time.Time) error      { return nil }
func (connection *scriptConn) SetReadDeadline(time.Time) error  { return nil }
func (connection *scriptConn) SetWriteDeadline(time.Time) error { return nil }

// writtenLines returns everything written so far, split into lines.
func (connection *scriptConn) writtenLines() []string {
	connection.lock.Lock()
	written := connection.writeBuf.String()
	connection.lock.Unlock()

	var lines []string
	for _, line := range strings.Split(written, "\r\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// waitForLine polls until the given command line has been written or the
// timeout elapses.
func (connection *scriptConn) waitForLine(line string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, written := range connection.writtenLines() {
			if written == line {
				return true
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

// newScriptedClient returns a client wired to a scriptConn with its
// receive loop running, bypassing the dialer.
func newScriptedClient(opts ...ClientOption) (*Client, *scriptConn) {
	connection := newScriptConn()
	opts = append([]ClientOption{WithReconnect(false)}, opts...)
	client, err := New("127.0.0.1", opts...)
	if err != nil {
		panic(err)
	}

	client.lock.Lock()
	client.conn = connection
	client.connected = true
	client.state = StateConnected
	client.lock.Unlock()

	go client.readRoutine(connection)
	return client, connection
}
