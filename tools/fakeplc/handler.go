package main

import (
	"bufio"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// server holds the variable table and the set of live connections for
// DIFF fan-out.
type server struct {
	vars       *varTable
	version    string
	versionPLC string
	logConn    bool

	mu    sync.Mutex
	conns map[*clientConn]struct{}
}

func newServer(vars *varTable, version, versionPLC string, logConn bool) *server {
	return &server{
		vars:       vars,
		version:    version,
		versionPLC: versionPLC,
		logConn:    logConn,
		conns:      make(map[*clientConn]struct{}),
	}
}

// subEntry is one EN registration on a connection. A positive delta
// suppresses numeric changes smaller than the threshold.
type subEntry struct {
	delta    float64
	last     float64
	lastSeen bool
}

type clientConn struct {
	conn    net.Conn
	writeMu sync.Mutex
	encoder *encoding.Encoder

	subsMu sync.Mutex
	subs   map[string]*subEntry
}

func (client *clientConn) writeLine(line string) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	data, err := client.encoder.Bytes([]byte(line + "\r\n"))
	if err != nil {
		data = []byte(line + "\r\n")
	}
	_, _ = client.conn.Write(data)
}

// subscribe registers or updates an EN registration. The current value
// seeds the threshold baseline; later changes are measured against the
// last value actually reported.
func (client *clientConn) subscribe(name string, delta float64, current string) {
	entry := &subEntry{delta: delta}
	if number, numeric := numericValue(current); numeric {
		entry.last = number
		entry.lastSeen = true
	}
	client.subsMu.Lock()
	defer client.subsMu.Unlock()
	client.subs[name] = entry
}

func (client *clientConn) unsubscribe(name string) {
	client.subsMu.Lock()
	defer client.subsMu.Unlock()
	delete(client.subs, name)
}

// shouldNotify applies the delta threshold and advances the last
// reported value when the notification goes out.
func (client *clientConn) shouldNotify(name, value string) bool {
	client.subsMu.Lock()
	defer client.subsMu.Unlock()

	entry, subscribed := client.subs[name]
	if !subscribed {
		return false
	}
	number, numeric := numericValue(value)
	if !numeric || entry.delta <= 0 {
		return true
	}
	if entry.lastSeen && math.Abs(number-entry.last) < entry.delta {
		return false
	}
	entry.last = number
	entry.lastSeen = true
	return true
}

func (server *server) register(client *clientConn) {
	server.mu.Lock()
	server.conns[client] = struct{}{}
	server.mu.Unlock()
}

func (server *server) unregister(client *clientConn) {
	server.mu.Lock()
	delete(server.conns, client)
	server.mu.Unlock()
}

func (server *server) closeAll() {
	server.mu.Lock()
	conns := make([]*clientConn, 0, len(server.conns))
	for client := range server.conns {
		conns = append(conns, client)
	}
	server.mu.Unlock()
	for _, client := range conns {
		_ = client.conn.Close()
	}
}

// fanoutDiff pushes a DIFF to every connection subscribed to the
// variable, respecting per-subscription delta thresholds.
func (server *server) fanoutDiff(name, value string) {
	server.mu.Lock()
	conns := make([]*clientConn, 0, len(server.conns))
	for client := range server.conns {
		conns = append(conns, client)
	}
	server.mu.Unlock()

	for _, client := range conns {
		if client.shouldNotify(name, value) {
			client.writeLine("DIFF:" + name + "," + value)
		}
	}
}

// handleConnection reads CRLF-terminated commands until the peer hangs
// up. Responses are written from the same goroutine except for DIFF
// fan-out, which any connection's SET can trigger.
func (server *server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	if server.logConn {
		log.Printf("fakeplc: connected  %s", remoteAddr)
	}

	client := &clientConn{
		conn:    conn,
		encoder: encoding.ReplaceUnsupported(charmap.Windows1250.NewEncoder()),
		subs:    make(map[string]*subEntry),
	}
	server.register(client)
	defer func() {
		server.unregister(client)
		_ = conn.Close()
		if server.logConn {
			log.Printf("fakeplc: disconnected  %s", remoteAddr)
		}
	}()

	decoder := charmap.Windows1250.NewDecoder()
	scanner := bufio.NewScanner(decoder.Reader(conn))
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		server.processCommand(client, line)
	}
}

func (server *server) processCommand(client *clientConn, line string) {
	command, payload, found := strings.Cut(line, ":")
	if !found {
		client.writeLine("ERROR:invalid command format")
		return
	}

	switch strings.ToUpper(command) {
	case "GET":
		server.handleGet(client, payload)
	case "SET":
		server.handleSet(client, payload)
	case "LIST":
		server.handleList(client)
	case "EN":
		server.handleEnable(client, payload)
	case "DI":
		client.unsubscribe(strings.TrimSpace(payload))
	case "GETINFO":
		server.handleGetInfo(client, payload)
	default:
		client.writeLine("ERROR:unknown command '" + command + "'")
	}
}

func (server *server) handleGet(client *clientConn, payload string) {
	name := strings.TrimSpace(payload)
	value, exists := server.vars.get(name)
	if !exists {
		client.writeLine("ERROR:unknown variable '" + name + "'")
		return
	}
	client.writeLine("GET:" + name + "," + value)
}

func (server *server) handleSet(client *clientConn, payload string) {
	name, value, found := strings.Cut(payload, ",")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		client.writeLine("ERROR:invalid SET format")
		return
	}

	exists, changed := server.vars.set(name, value)
	if !exists {
		client.writeLine("ERROR:unknown variable '" + name + "'")
		return
	}
	if changed {
		server.fanoutDiff(name, value)
	}
}

func (server *server) handleList(client *clientConn) {
	for _, entry := range server.vars.list() {
		client.writeLine("LIST:" + entry)
	}
}

// handleEnable parses "name" or "name delta", registers the
// subscription, and reports the current value immediately.
func (server *server) handleEnable(client *clientConn, payload string) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		client.writeLine("ERROR:invalid EN format")
		return
	}
	name := fields[0]

	var delta float64
	if len(fields) > 1 {
		parsed, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || parsed < 0 {
			client.writeLine("ERROR:invalid EN delta '" + fields[1] + "'")
			return
		}
		delta = parsed
	}

	value, exists := server.vars.get(name)
	if !exists {
		client.writeLine("ERROR:unknown variable '" + name + "'")
		return
	}

	client.subscribe(name, delta, value)
	client.writeLine("DIFF:" + name + "," + value)
}

func (server *server) handleGetInfo(client *clientConn, payload string) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "version":
		client.writeLine("GETINFO:" + server.version)
	case "version_plc":
		client.writeLine("GETINFO:" + server.versionPLC)
	default:
		client.writeLine("ERROR:unknown parameter '" + payload + "'")
	}
}
