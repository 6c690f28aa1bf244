// Package session records live presence connections in Redis so that every
// replica (and operators) can see which server holds which user's sockets.
// The in-memory presence cache stays authoritative for "who is online";
// this directory only answers "where".
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for connection hashes.
	SessionPrefix = "session:"

	// UserPrefix is the Redis key prefix for the set of a user's connections.
	UserPrefix = "user_sessions:"

	// SessionTTL bounds how long a connection survives without a refresh,
	// so crashed replicas do not leave entries behind forever.
	SessionTTL = 5 * time.Minute
)

// Session is one live connection as stored in Redis.
type Session struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`
	Server     string `redis:"server"`      // which matchmaker replica
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages connection records in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewStoreWithClient(client, serverName), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create records a new connection for userID on this server.
func (s *Store) Create(ctx context.Context, connID string, userID uuid.UUID) error {
	key := SessionPrefix + connID
	userKey := UserPrefix + userID.String()
	now := time.Now().Unix()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          connID,
		"user_id":     userID.String(),
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	})
	pipe.Expire(ctx, key, SessionTTL)
	pipe.SAdd(ctx, userKey, connID)
	pipe.Expire(ctx, userKey, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: create %s: %w", connID, err)
	}
	return nil
}

// Get retrieves a connection record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, SessionPrefix+connID).Scan(&sess); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", connID, err)
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// Touch marks the connection active now and extends its TTL along with
// its user's set.
func (s *Store) Touch(ctx context.Context, connID string, userID uuid.UUID) error {
	key := SessionPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	pipe.Expire(ctx, UserPrefix+userID.String(), SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: touch %s: %w", connID, err)
	}
	return nil
}

// Delete removes a connection record.
func (s *Store) Delete(ctx context.Context, connID string, userID uuid.UUID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, SessionPrefix+connID)
	pipe.SRem(ctx, UserPrefix+userID.String(), connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: delete %s: %w", connID, err)
	}
	return nil
}

// ForUser returns every live connection of the user across all replicas.
// Set members whose hash has expired are skipped.
func (s *Store) ForUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	ids, err := s.client.SMembers(ctx, UserPrefix+userID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("session: members of %s: %w", userID, err)
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			out = append(out, *sess)
		}
	}
	return out, nil
}

// Reachable reports whether the user holds at least one live connection on
// any replica.
func (s *Store) Reachable(ctx context.Context, userID uuid.UUID) (bool, error) {
	sessions, err := s.ForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(sessions) > 0, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
