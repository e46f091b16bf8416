// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ws fans persisted workflow events out to WebSocket clients with
// per-connection subscription filters and reconnect backfill.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/existential-birds/amelia-sub002/internal/engine"
	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/store"
	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

const (
	// writeTimeout bounds each outbound frame.
	writeTimeout = 10 * time.Second

	// sendQueueSize bounds each connection's outbound queue.
	sendQueueSize = 64

	// backfillLimit caps reconnect replay size.
	backfillLimit = 10000
)

// connection is one socket and its subscription set. An empty set means
// subscribed to all workflows.
type connection struct {
	id   string
	sock *websocket.Conn
	send chan *ServerMessage
	done chan struct{}

	mu   sync.Mutex
	subs map[string]bool

	closeOnce sync.Once
}

// close tears the connection down exactly once. The send channel is never
// closed; loops observe done instead, so concurrent enqueues stay safe.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

// subscribedTo reports whether the connection wants events for a workflow.
func (c *connection) subscribedTo(workflowID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) == 0 || c.subs[workflowID]
}

// Manager owns the socket set and bridges the event bus to clients.
type Manager struct {
	store       *store.Store
	logger      *slog.Logger
	idleTimeout time.Duration
	upgrader    websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*connection

	unsubscribe func()
}

// NewManager creates a manager reading backfill from st.
func NewManager(st *store.Store, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:       st,
		logger:      log.WithComponent(logger, "ws"),
		idleTimeout: idleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local-first daemon; browsers connect from file:// and
			// localhost origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*connection),
	}
}

// Attach subscribes the manager to the bus. Call once at startup.
func (m *Manager) Attach(bus *engine.Bus) {
	m.unsubscribe = bus.Subscribe(m.Broadcast)
}

// ServeHTTP upgrades the connection and runs its read and write loops.
// Query parameters: workflows (comma-separated ids seeding the
// subscription set) and since (event id to backfill after).
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	conn := &connection{
		id:   uuid.NewString(),
		sock: sock,
		send: make(chan *ServerMessage, sendQueueSize),
		done: make(chan struct{}),
		subs: make(map[string]bool),
	}
	if raw := r.URL.Query().Get("workflows"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				conn.subs[id] = true
			}
		}
	}

	m.mu.Lock()
	m.conns[conn.id] = conn
	m.mu.Unlock()
	connectionsGauge.Inc()
	m.logger.Debug("connection opened", "connection_id", conn.id)

	go m.writeLoop(conn)

	if since := r.URL.Query().Get("since"); since != "" {
		m.backfill(r, conn, since)
	}

	m.readLoop(conn)
}

// backfill replays events newer than the given event id, or signals
// backfill_expired when retention has pruned it. Replay frames use
// blocking sends: a reconnect backlog routinely exceeds the send queue,
// so the drop-on-full policy applies to live broadcasts only.
func (m *Manager) backfill(r *http.Request, conn *connection, sinceEventID string) {
	rowid, err := m.store.EventRowID(r.Context(), sinceEventID)
	if err != nil {
		if workflow.KindOf(err) == workflow.KindNotFound {
			backfills.WithLabelValues("expired").Inc()
			conn.enqueue(&ServerMessage{Type: TypeBackfillExpired})
			return
		}
		m.logger.Error("backfill lookup failed", log.Error(err))
		conn.enqueue(&ServerMessage{Type: TypeError, Message: "backfill failed"})
		return
	}

	events, err := m.store.EventsAfterRow(r.Context(), rowid, backfillLimit)
	if err != nil {
		m.logger.Error("backfill query failed", log.Error(err))
		conn.enqueue(&ServerMessage{Type: TypeError, Message: "backfill failed"})
		return
	}

	count := 0
	for i := range events {
		if !conn.subscribedTo(events[i].WorkflowID) {
			continue
		}
		if !conn.sendBlocking(r.Context(), &ServerMessage{Type: TypeEvent, Event: &events[i]}) {
			return
		}
		count++
	}
	backfills.WithLabelValues("complete").Inc()
	conn.sendBlocking(r.Context(), &ServerMessage{Type: TypeBackfillComplete, Count: count})
}

// readLoop consumes subscription control messages and pongs until the
// connection dies or idles out.
func (m *Manager) readLoop(conn *connection) {
	defer m.drop(conn)

	conn.sock.SetReadLimit(4096)
	conn.sock.SetReadDeadline(time.Now().Add(m.idleTimeout))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(m.idleTimeout))
	})

	for {
		var msg ClientMessage
		if err := conn.sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("connection read error", "connection_id", conn.id, log.Error(err))
			}
			return
		}
		conn.sock.SetReadDeadline(time.Now().Add(m.idleTimeout))

		switch msg.Type {
		case TypeSubscribe:
			if msg.WorkflowID != "" {
				conn.mu.Lock()
				conn.subs[msg.WorkflowID] = true
				conn.mu.Unlock()
			}
		case TypeUnsubscribe:
			conn.mu.Lock()
			delete(conn.subs, msg.WorkflowID)
			conn.mu.Unlock()
		case TypeSubscribeAll:
			conn.mu.Lock()
			conn.subs = make(map[string]bool)
			conn.mu.Unlock()
		default:
			conn.enqueue(&ServerMessage{Type: TypeError, Message: "unknown message type"})
		}
	}
}

// writeLoop drains the send queue and keeps the connection alive with
// pings. A failed write drops the connection.
func (m *Manager) writeLoop(conn *connection) {
	pingInterval := m.idleTimeout / 3
	if pingInterval > 30*time.Second {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case msg := <-conn.send:
			conn.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.sock.WriteJSON(msg); err != nil {
				sendFailures.Inc()
				m.drop(conn)
				return
			}
			messagesSent.Inc()
		case <-ticker.C:
			conn.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.drop(conn)
				return
			}
		}
	}
}

// sendBlocking queues a message, waiting for the write loop to drain
// space. Reports false when the connection or request is gone.
func (c *connection) sendBlocking(ctx context.Context, msg *ServerMessage) bool {
	select {
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	case c.send <- msg:
		return true
	}
}

// enqueue queues a message without blocking; a full queue drops the
// connection, since a live client that cannot keep up must re-sync anyway.
func (c *connection) enqueue(msg *ServerMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		sendFailures.Inc()
		c.close()
	}
}

// Broadcast delivers one persisted event to every subscribed connection.
// Wired to the event bus.
func (m *Manager) Broadcast(ev *workflow.Event) {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		if conn.subscribedTo(ev.WorkflowID) {
			conn.enqueue(&ServerMessage{Type: TypeEvent, Event: ev})
		}
	}
}

// drop removes and closes one connection.
func (m *Manager) drop(conn *connection) {
	m.mu.Lock()
	_, present := m.conns[conn.id]
	delete(m.conns, conn.id)
	m.mu.Unlock()
	if !present {
		return
	}
	connectionsGauge.Dec()
	conn.close()
	m.logger.Debug("connection closed", "connection_id", conn.id)
}

// ConnectionCount returns the number of open connections.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Shutdown detaches from the bus and closes every socket with a going-away
// frame.
func (m *Manager) Shutdown() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	for _, conn := range conns {
		connectionsGauge.Dec()
		conn.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.sock.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.close()
	}
}
