package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// Connection is one presence WebSocket with a write mutex for serializing
// outbound frames. A user may hold several connections (tabs, devices).
type Connection struct {
	ID        string    // connection ID (UUID)
	UserID    uuid.UUID // authenticated user
	Conn      net.Conn
	CreatedAt time.Time

	lastSeen atomic.Int64 // unix nanos of the last frame read
	writeMu  sync.Mutex
}

func newConnection(userID uuid.UUID, conn net.Conn, now time.Time) *Connection {
	c := &Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Conn:      conn,
		CreatedAt: now,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// LastSeen returns when the last frame was read from the client.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) markSeen(t time.Time) {
	c.lastSeen.Store(t.UnixNano())
}

// WriteMessage sends a WebSocket text frame. The write mutex ensures that
// concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	return c.writeFrame(ws.NewPingFrame(nil))
}

func (c *Connection) writeFrame(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, f)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of connections indexed by
// connection ID and by user ID.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byUser map[uuid.UUID]map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byUser: make(map[uuid.UUID]map[string]*Connection),
	}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.byID[conn.ID] = conn
	set, ok := cm.byUser[conn.UserID]
	if !ok {
		set = make(map[string]*Connection)
		cm.byUser[conn.UserID] = set
	}
	set[conn.ID] = conn
}

// Remove unregisters a connection by ID and closes it. Returns true if the
// connection was found, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if set := cm.byUser[conn.UserID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(cm.byUser, conn.UserID)
			}
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// Users returns the number of distinct connected users.
func (cm *ConnectionManager) Users() int {
	cm.mu.RLock()
	n := len(cm.byUser)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
