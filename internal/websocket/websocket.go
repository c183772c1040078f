package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lyric-studio/internal/logger"
)

const writeWait = 5 * time.Second

// Snapshotter supplies the dashboard payload pushed to clients
type Snapshotter interface {
	Snapshot() interface{}
}

// SnapshotFunc adapts a function to Snapshotter
type SnapshotFunc func() interface{}

// Snapshot calls f
func (f SnapshotFunc) Snapshot() interface{} { return f() }

// client serializes writes to one connection; gorilla allows a single writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Manager manages dashboard WebSocket connections and broadcasts
type Manager struct {
	clients   map[*websocket.Conn]*client
	clientsMu sync.Mutex
	source    Snapshotter
	log       *zap.SugaredLogger
}

// New creates a new WebSocket manager
func New(source Snapshotter) *Manager {
	return &Manager{
		clients: make(map[*websocket.Conn]*client),
		source:  source,
		log:     logger.ComponentLogger("websocket"),
	}
}

// AddClient registers a connection, sends it the current snapshot and
// removes it once the peer goes away.
func (m *Manager) AddClient(conn *websocket.Conn) {
	c := &client{conn: conn}

	m.clientsMu.Lock()
	m.clients[conn] = c
	total := len(m.clients)
	m.clientsMu.Unlock()

	m.log.Infow("Dashboard client connected", "clients", total)

	m.sendTo(c, m.source.Snapshot())

	go func() {
		defer m.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast pushes a fresh snapshot to every connected client
func (m *Manager) Broadcast() {
	m.clientsMu.Lock()
	targets := make([]*client, 0, len(m.clients))
	for _, c := range m.clients {
		targets = append(targets, c)
	}
	m.clientsMu.Unlock()

	if len(targets) == 0 {
		return
	}

	snapshot := m.source.Snapshot()
	for _, c := range targets {
		go m.sendTo(c, snapshot)
	}
}

// ClientCount returns the number of connected clients
func (m *Manager) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

// Close disconnects every client
func (m *Manager) Close() {
	m.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.clients))
	for conn := range m.clients {
		conns = append(conns, conn)
	}
	m.clientsMu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (m *Manager) sendTo(c *client, snapshot interface{}) {
	if err := c.send(snapshot); err != nil {
		m.log.Debugw("Failed to send dashboard update", logger.FieldError, err)
	}
}

func (m *Manager) remove(conn *websocket.Conn) {
	m.clientsMu.Lock()
	delete(m.clients, conn)
	total := len(m.clients)
	m.clientsMu.Unlock()

	conn.Close()
	m.log.Infow("Dashboard client disconnected", "clients", total)
}
