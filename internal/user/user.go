// Package user holds the user record consumed by the matchmaker, its public
// projection, and the repositories that load users from storage.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/codepair/matchmaker/internal/language"
	"github.com/codepair/matchmaker/internal/schedule"
)

// ErrNotFound is returned when a user id is unknown.
var ErrNotFound = errors.New("user: not found")

// User is the full record as stored. Email is private and never leaves the
// server; use Public to expose a user to peers.
type User struct {
	ID           uuid.UUID
	Username     string
	DisplayName  string
	Email        string
	Languages    language.PreferenceSet
	Availability schedule.Availability
	CreatedAt    time.Time
}

// PublicProfile is the redacted view safe to show to other users.
type PublicProfile struct {
	ID          uuid.UUID              `json:"id"`
	Username    string                 `json:"username"`
	DisplayName string                 `json:"display_name"`
	Languages   language.PreferenceSet `json:"languages"`
}

// Public projects u into a PublicProfile. The preference set is copied so
// that holders of the profile cannot alias the user's map.
func (u User) Public() PublicProfile {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return PublicProfile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: name,
		Languages:   u.Languages.Clone(),
	}
}

// Repository is the read side of user storage used by the matchmaker.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (User, error)
	List(ctx context.Context) ([]User, error)
	Availabilities(ctx context.Context) (map[uuid.UUID]schedule.Availability, error)
}
