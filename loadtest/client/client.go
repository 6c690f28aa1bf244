// Package client provides a WebSocket load test client for the matchmaker
// presence channel. It connects using gobwas/ws (the same library the server
// uses), heartbeats on the interval announced by the server, and counts the
// online lists and pair proposals it receives.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypeHeartbeat = "heartbeat"
	TypePing      = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeOnline       = "online"
	TypePairProposal = "pair_proposal"
	TypeRateLimited  = "rate_limited"
	TypeError        = "error"
	TypePong         = "pong"
)

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	HandshakeLatency time.Duration
	OnlineLists      int
	Proposals        int
	RateLimited      int
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client is one simulated user holding a presence connection.
type Client struct {
	conn         net.Conn
	reader       io.Reader
	userID       string
	connectionID string
	interval     time.Duration

	mu        sync.Mutex
	writeMu   sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	connected chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	started   time.Time
}

// New dials baseURL as userID and starts reading in the background.
func New(ctx context.Context, baseURL, userID string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, baseURL+"?user_id="+userID)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	// The server writes connected and online right after the upgrade, so
	// those frames may already be buffered in br.
	var reader io.Reader = conn
	if br != nil {
		reader = br
	}

	c := &Client{
		conn:      conn,
		reader:    reader,
		userID:    userID,
		handlers:  make(map[string]func(json.RawMessage)),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		started:   start,
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// Send writes a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	err = wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()

	c.mu.Lock()
	c.metrics.MessagesSent++
	if err != nil {
		c.metrics.Errors++
	}
	c.mu.Unlock()
	return err
}

// On registers a handler for a server message type. Handlers run on the
// read goroutine; a second registration for the same type replaces the first.
// Register handlers before the connection receives traffic.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitConnected blocks until the server's connected message arrives.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before handshake")
	case <-c.connected:
		return nil
	}
}

// Heartbeat sends heartbeats on the server-announced interval until ctx is
// cancelled or the connection closes.
func (c *Client) Heartbeat(ctx context.Context) {
	c.mu.Lock()
	interval := c.interval
	c.mu.Unlock()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Send(map[string]string{"type": TypeHeartbeat}); err != nil {
				return
			}
		}
	}
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Alive reports whether the read loop is still running without error.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics.Errors == 0
}

// UserID returns the user the client connected as.
func (c *Client) UserID() string {
	return c.userID
}

// ConnectionID returns the id assigned by the server, or "" before the
// handshake.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// lockedWriter serializes control-frame replies from the read loop with Send.
type lockedWriter struct{ c *Client }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}

func (c *Client) readLoop() {
	for {
		data, err := wsutil.ReadServerText(struct {
			io.Reader
			io.Writer
		}{c.reader, lockedWriter{c}})
		if err != nil {
			select {
			case <-c.done:
				// Intentional close.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		switch envelope.Type {
		case TypeConnected:
			var msg struct {
				ConnectionID      string `json:"connection_id"`
				HeartbeatInterval int    `json:"heartbeat_interval"`
			}
			if err := json.Unmarshal(data, &msg); err == nil && c.connectionID == "" {
				c.connectionID = msg.ConnectionID
				c.interval = time.Duration(msg.HeartbeatInterval) * time.Second
				c.metrics.HandshakeLatency = time.Since(c.started)
				close(c.connected)
			}
		case TypeOnline:
			c.metrics.OnlineLists++
		case TypePairProposal:
			c.metrics.Proposals++
		case TypeRateLimited:
			c.metrics.RateLimited++
		case TypeError:
			c.metrics.Errors++
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
