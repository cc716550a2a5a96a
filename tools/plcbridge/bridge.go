package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/plccoms/plccoms-client-go/plccoms"
)

// request is one JSON command from a WebSocket client.
type request struct {
	Type  string  `json:"type"`
	Name  string  `json:"name,omitempty"`
	Value string  `json:"value,omitempty"`
	Delta float64 `json:"delta,omitempty"`
	Param string  `json:"param,omitempty"`
}

// event is one JSON message to a WebSocket client.
type event struct {
	Type    string                 `json:"type"`
	Name    string                 `json:"name,omitempty"`
	Value   interface{}            `json:"value,omitempty"`
	Entries []plccoms.VariableInfo `json:"entries,omitempty"`
	Info    string                 `json:"info,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// valueJSON maps a PLC value onto its natural JSON type.
func valueJSON(value plccoms.Value) interface{} {
	if flag, ok := value.AsBool(); ok {
		return flag
	}
	if number, ok := value.AsInt(); ok {
		return number
	}
	if number, ok := value.AsReal(); ok {
		return number
	}
	text, _ := value.AsString()
	return text
}

// session is one WebSocket connection. Gorilla allows a single
// concurrent writer, so every write goes through the mutex.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *session) send(ev event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(ev)
}

// bridge fans PLC variable changes out to every connected session and
// executes client commands against the shared protocol client. Wire
// subscriptions made through one session are visible to all sessions.
type bridge struct {
	client *plccoms.Client
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu         sync.Mutex
	sessions   map[*session]struct{}
	callbackID plccoms.CallbackID
}

func newBridge(client *plccoms.Client, logger *slog.Logger) *bridge {
	b := &bridge{
		client:   client,
		logger:   logger,
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	b.callbackID = client.RegisterCallback(b.onVariableUpdate)
	return b
}

func (b *bridge) close() {
	b.client.UnregisterCallback(b.callbackID)

	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.sessions = make(map[*session]struct{})
	b.mu.Unlock()

	for _, s := range sessions {
		_ = s.conn.Close()
	}
	_ = b.client.Disconnect()
}

func (b *bridge) onVariableUpdate(name string, value plccoms.Value) {
	ev := event{Type: "diff", Name: name, Value: valueJSON(value)}

	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		if err := s.send(ev); err != nil {
			b.logger.Debug("dropping slow session", "error", err)
			b.remove(s)
		}
	}
}

func (b *bridge) add(s *session) {
	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()
}

func (b *bridge) remove(s *session) {
	b.mu.Lock()
	_, present := b.sessions[s]
	delete(b.sessions, s)
	b.mu.Unlock()
	if present {
		_ = s.conn.Close()
	}
}

// serveWS upgrades the HTTP request and runs the session's command loop
// until the peer disconnects.
func (b *bridge) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &session{conn: conn}
	b.add(s)
	defer b.remove(s)
	b.logger.Info("session connected", "remote", conn.RemoteAddr())

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			b.logger.Info("session closed", "remote", conn.RemoteAddr())
			return
		}
		b.handleRequest(s, req)
	}
}

func (b *bridge) handleRequest(s *session, req request) {
	ctx := context.Background()

	switch req.Type {
	case "get":
		value, err := b.client.GetVariable(ctx, req.Name)
		if err != nil {
			b.sendError(s, req, err)
			return
		}
		_ = s.send(event{Type: "value", Name: req.Name, Value: valueJSON(value)})

	case "set":
		if err := b.client.SetVariable(req.Name, plccoms.ParseValue(req.Value)); err != nil {
			b.sendError(s, req, err)
			return
		}
		_ = s.send(event{Type: "ack", Name: req.Name})

	case "subscribe":
		if _, err := b.client.EnableMonitoring(req.Name, req.Delta, nil); err != nil {
			b.sendError(s, req, err)
			return
		}
		_ = s.send(event{Type: "ack", Name: req.Name})

	case "unsubscribe":
		if err := b.client.DisableMonitoring(req.Name); err != nil {
			b.sendError(s, req, err)
			return
		}
		_ = s.send(event{Type: "ack", Name: req.Name})

	case "list":
		entries, err := b.client.ListVariables(ctx)
		if err != nil {
			b.sendError(s, req, err)
			return
		}
		_ = s.send(event{Type: "list", Entries: entries})

	case "info":
		info, err := b.client.GetInfo(ctx, req.Param)
		if err != nil {
			b.sendError(s, req, err)
			return
		}
		_ = s.send(event{Type: "info", Info: info})

	default:
		_ = s.send(event{Type: "error", Error: "unknown request type '" + req.Type + "'"})
	}
}

func (b *bridge) sendError(s *session, req request, err error) {
	_ = s.send(event{Type: "error", Name: req.Name, Error: err.Error()})
}
