package user

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/codepair/matchmaker/internal/schedule"
)

// MemoryRepository is an in-process Repository. It backs tests and the
// server's dev mode when no database is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

// NewMemoryRepository creates a repository seeded with users.
func NewMemoryRepository(users ...User) *MemoryRepository {
	r := &MemoryRepository{users: make(map[uuid.UUID]User, len(users))}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

// Put inserts or replaces a user.
func (r *MemoryRepository) Put(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

// Get returns the user with the given id, or ErrNotFound.
func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// List returns all users ordered by id.
func (r *MemoryRepository) List(ctx context.Context) ([]User, error) {
	r.mu.RLock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

// Availabilities returns every user's availability keyed by id.
func (r *MemoryRepository) Availabilities(ctx context.Context) (map[uuid.UUID]schedule.Availability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]schedule.Availability, len(r.users))
	for id, u := range r.users {
		out[id] = u.Availability
	}
	return out, nil
}
