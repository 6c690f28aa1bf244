// Package ws serves the presence WebSocket. Each connection belongs to one
// user; heartbeats mark the user active, and pair proposals published for
// the user are forwarded to every connection they hold.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codepair/matchmaker/internal/metrics"
	"github.com/codepair/matchmaker/internal/pairing"
	"github.com/codepair/matchmaker/internal/protocol"
	"github.com/codepair/matchmaker/internal/ratelimit"
	"github.com/codepair/matchmaker/internal/user"
)

// Presence marks a user active and returns the other active users.
type Presence interface {
	MarkActive(ctx context.Context, id uuid.UUID) ([]user.PublicProfile, error)
}

// ProposalSubscriber delivers pair proposals addressed to a user.
type ProposalSubscriber interface {
	SubscribePairProposal(userID uuid.UUID, connID string, handler func(data []byte)) error
	UnsubscribePairProposal(connID string) error
}

// Directory records live connections outside the process so that other
// replicas can locate a user's sockets.
type Directory interface {
	Create(ctx context.Context, connID string, userID uuid.UUID) error
	Touch(ctx context.Context, connID string, userID uuid.UUID) error
	Delete(ctx context.Context, connID string, userID uuid.UUID) error
}

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	CallTimeout    time.Duration // timeout for presence calls made on behalf of a connection
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 10000,
		WriteTimeout:   10 * time.Second,
		CallTimeout:    5 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests to WebSocket and runs one read goroutine per
// connection. Writes from the read loop, the heartbeat monitor and the
// proposal subscription are serialized per connection.
type Server struct {
	config     ServerConfig
	conns      *ConnectionManager
	presence   Presence
	proposals  ProposalSubscriber
	limiter    *ratelimit.Limiter
	directory  Directory
	dispatcher *MessageDispatcher
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a Server. proposals and limiter may be nil.
func NewServer(config ServerConfig, presence Presence, proposals ProposalSubscriber, limiter *ratelimit.Limiter, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		conns:     NewConnectionManager(),
		presence:  presence,
		proposals: proposals,
		limiter:   limiter,
		log:       logger.With().Str("component", "ws").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.dispatcher = NewMessageDispatcher(s)
	s.dispatcher.Register(protocol.TypeHeartbeat, s.handleHeartbeat)
	return s
}

// SetDirectory registers a connection directory. It must be called before
// the server accepts connections.
func (s *Server) SetDirectory(d Directory) {
	s.directory = d
}

// ServeUser upgrades the request to a WebSocket owned by userID. The caller
// is responsible for authenticating the user.
func (s *Server) ServeUser(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if ok, _ := s.limiter.Allow(r.Context(), clientIP(r), ratelimit.RuleConnect); !ok {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(userID, conn, time.Now())
	s.conns.Add(c)
	metrics.WSConnections.Inc()
	s.record(c, "create", s.directoryCreate)

	// Subscribe before marking active so the user's own arrival proposal
	// is not missed.
	if s.proposals != nil {
		err := s.proposals.SubscribePairProposal(userID, c.ID, func(data []byte) {
			s.send(c, data)
		})
		if err != nil {
			s.log.Warn().Err(err).Str("conn_id", c.ID).Msg("proposal subscription failed")
		}
	}

	s.send(c, protocol.MustServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		UserID:            userID,
		ConnectionID:      c.ID,
		HeartbeatInterval: int(s.config.Heartbeat.Interval / time.Second),
	}))

	if !s.markActive(s.ctx, c) {
		s.RemoveConnection(c)
		return
	}

	s.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", userID.String()).
		Int("total", s.conns.Count()).
		Msg("connection opened")

	go s.readLoop(c)
}

// readLoop reads frames until the client goes away or the connection is
// closed by the heartbeat monitor or shutdown.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.markSeen(time.Now())

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				payload, err := io.ReadAll(reader)
				if err != nil {
					return
				}
				_ = s.withWriteDeadline(c, func() error {
					return c.writeFrame(ws.NewPongFrame(payload))
				})
			default:
				if _, err := io.Copy(io.Discard, reader); err != nil {
					return
				}
			}
			continue
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		s.dispatcher.Dispatch(s.ctx, c, data)
	}
}

func (s *Server) handleHeartbeat(ctx context.Context, c *Connection, _ interface{}) {
	if ok, _ := s.limiter.Allow(ctx, c.ID, ratelimit.RuleHeartbeat); !ok {
		s.send(c, protocol.MustServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(ratelimit.RuleHeartbeat.Window / time.Second),
		}))
		return
	}
	s.record(c, "touch", s.directoryTouch)
	if !s.markActive(ctx, c) {
		s.RemoveConnection(c)
	}
}

// markActive touches presence for the connection's user and sends the
// online list. It returns false when the user is unknown and the
// connection should be dropped.
func (s *Server) markActive(ctx context.Context, c *Connection) bool {
	if s.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.CallTimeout)
		defer cancel()
	}

	online, err := s.presence.MarkActive(ctx, c.UserID)
	if errors.Is(err, pairing.ErrUnknownUser) {
		s.sendError(c, protocol.CodeUnknownUser, "unknown user")
		return false
	}
	if err != nil {
		s.log.Error().Err(err).Str("user_id", c.UserID.String()).Msg("mark active")
		s.sendError(c, protocol.CodeInternal, "presence unavailable")
		return true
	}
	if online == nil {
		online = []user.PublicProfile{}
	}
	s.send(c, protocol.MustServerMessage(protocol.TypeOnline, protocol.OnlineMsg{Users: online}))
	return true
}

// RemoveConnection unregisters and closes a connection. Concurrent calls
// for the same connection clean up once.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.WSConnections.Dec()
	s.record(c, "delete", s.directoryDelete)

	if s.proposals != nil {
		if err := s.proposals.UnsubscribePairProposal(c.ID); err != nil {
			s.log.Debug().Err(err).Str("conn_id", c.ID).Msg("proposal unsubscribe")
		}
	}

	s.log.Info().Str("conn_id", c.ID).Int("total", s.conns.Count()).Msg("connection closed")
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown closes every connection and stops the read loops.
func (s *Server) Shutdown() {
	s.cancel()
	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	s.log.Info().Msg("all connections closed")
}

func (s *Server) directoryCreate(ctx context.Context, c *Connection) error {
	return s.directory.Create(ctx, c.ID, c.UserID)
}

func (s *Server) directoryTouch(ctx context.Context, c *Connection) error {
	return s.directory.Touch(ctx, c.ID, c.UserID)
}

func (s *Server) directoryDelete(ctx context.Context, c *Connection) error {
	return s.directory.Delete(ctx, c.ID, c.UserID)
}

// record applies a directory operation with a short timeout. Directory
// failures never affect the connection.
func (s *Server) record(c *Connection, op string, fn func(context.Context, *Connection) error) {
	if s.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := fn(ctx, c); err != nil {
		s.log.Warn().Err(err).Str("op", op).Str("conn_id", c.ID).Msg("connection directory")
	}
}

func (s *Server) send(c *Connection, data []byte) bool {
	err := s.withWriteDeadline(c, func() error { return c.WriteMessage(data) })
	if err != nil {
		s.log.Debug().Err(err).Str("conn_id", c.ID).Msg("write failed")
		return false
	}
	return true
}

func (s *Server) sendError(c *Connection, code, message string) {
	s.send(c, protocol.MustServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	}))
}

func (s *Server) withWriteDeadline(c *Connection, write func() error) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return write()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
