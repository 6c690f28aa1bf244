package user

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/codepair/matchmaker/internal/language"
	"github.com/codepair/matchmaker/internal/schedule"
)

// seedUser is the JSON form of a user in a seed file. Availability is the
// 168-slot string, or empty for Never.
type seedUser struct {
	ID           uuid.UUID              `json:"id"`
	Username     string                 `json:"username"`
	DisplayName  string                 `json:"display_name"`
	Email        string                 `json:"email"`
	Languages    language.PreferenceSet `json:"languages"`
	Availability schedule.Availability  `json:"availability"`
}

// DecodeSeed reads a JSON array of users. Users without an id get a fresh
// one; preference sets are validated.
func DecodeSeed(r io.Reader) ([]User, error) {
	var raw []seedUser
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("user: decode seed: %w", err)
	}
	out := make([]User, 0, len(raw))
	for i, s := range raw {
		if s.Username == "" {
			return nil, fmt.Errorf("user: seed entry %d: username is required", i)
		}
		if err := s.Languages.Validate(); err != nil {
			return nil, fmt.Errorf("user: seed entry %d: %w", i, err)
		}
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		out = append(out, User{
			ID:           s.ID,
			Username:     s.Username,
			DisplayName:  s.DisplayName,
			Email:        s.Email,
			Languages:    s.Languages,
			Availability: s.Availability,
		})
	}
	return out, nil
}

// LoadSeedFile decodes the seed file at path.
func LoadSeedFile(path string) ([]User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("user: open seed: %w", err)
	}
	defer f.Close()
	return DecodeSeed(f)
}
