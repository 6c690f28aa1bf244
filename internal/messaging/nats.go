// Package messaging wraps the NATS connection shared by matchmaker replicas.
// Pair proposals are fanned out per user so that whichever replica holds the
// user's WebSocket can deliver them, and schedule rebuilds are broadcast so
// every replica refreshes its in-memory matrix.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS subjects used by the matchmaker.
const (
	SubjectPairProposal    = "pair.proposal" // + .<user_id>
	SubjectScheduleRebuild = "schedule.rebuild"
)

// ProposalSubject returns the per-user pair proposal subject.
func ProposalSubject(userID uuid.UUID) string {
	return SubjectPairProposal + "." + userID.String()
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  zerolog.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "matchmaker",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger zerolog.Logger) (*NATSClient, error) {
	log := logger.With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}

// subscribe registers handler on subject and stores the subscription under
// key for later cleanup. An existing subscription under key is replaced.
func (c *NATSClient) subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	prev, ok := c.subs[key]
	c.subs[key] = sub
	c.mu.Unlock()

	if ok {
		_ = prev.Unsubscribe()
	}
	return nil
}

// PublishPairProposal publishes a proposal payload to pair.proposal.<userID>.
func (c *NATSClient) PublishPairProposal(userID uuid.UUID, data []byte) error {
	return c.Publish(ProposalSubject(userID), data)
}

// SubscribePairProposal subscribes one connection to its user's proposals.
// The subscription is keyed by connID so that several connections of the
// same user each receive a copy.
func (c *NATSClient) SubscribePairProposal(userID uuid.UUID, connID string, handler func(data []byte)) error {
	return c.subscribe("proposal:"+connID, ProposalSubject(userID), handler)
}

// UnsubscribePairProposal removes a connection's proposal subscription.
func (c *NATSClient) UnsubscribePairProposal(connID string) error {
	return c.unsubscribe("proposal:" + connID)
}

// PublishScheduleRebuild asks every replica to rebuild its schedule matrix.
func (c *NATSClient) PublishScheduleRebuild() error {
	return c.Publish(SubjectScheduleRebuild, nil)
}

// SubscribeScheduleRebuild invokes fn whenever a rebuild is requested.
func (c *NATSClient) SubscribeScheduleRebuild(fn func()) error {
	return c.subscribe(SubjectScheduleRebuild, SubjectScheduleRebuild, func([]byte) {
		fn()
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn().Err(err).Str("subscription", key).Msg("drain failed")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn().Err(err).Msg("connection drain failed")
	}
	c.log.Info().Msg("client closed")
}

func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", key, err)
	}
	return nil
}
