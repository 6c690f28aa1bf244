// Package pairing answers the three matchmaking questions a user can ask:
// who pairs well with me, when are others free at the same time as me, and
// who is online right now. It composes the affinity scorer, the schedule
// matrix and the presence cache over a user repository.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codepair/matchmaker/internal/affinity"
	"github.com/codepair/matchmaker/internal/language"
	"github.com/codepair/matchmaker/internal/metrics"
	"github.com/codepair/matchmaker/internal/presence"
	"github.com/codepair/matchmaker/internal/protocol"
	"github.com/codepair/matchmaker/internal/schedule"
	"github.com/codepair/matchmaker/internal/user"
)

// ErrUnknownUser is returned when the calling user id is not in the
// repository.
var ErrUnknownUser = errors.New("pairing: unknown user")

// Scope selects the candidate pool for affinity ranking.
type Scope string

const (
	ScopeOnline Scope = "online"
	ScopeAll    Scope = "all"
)

// ParseScope accepts "online" and "all". Empty means ScopeOnline.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeOnline:
		return ScopeOnline, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("pairing: unknown scope %q", s)
}

// Match is one ranked candidate.
type Match struct {
	Profile  user.PublicProfile `json:"profile"`
	Affinity affinity.Affinity  `json:"affinity"`
	Language language.Language  `json:"language"`
}

// Publisher delivers a serialized pair proposal to every connection of a
// user, wherever it is held.
type Publisher interface {
	PublishPairProposal(userID uuid.UUID, data []byte) error
}

// Locator reports whether a user holds a live presence connection on any
// replica, and so can receive a proposal.
type Locator interface {
	Reachable(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Service is the matchmaking facade used by the HTTP and WebSocket layers.
type Service struct {
	repo      user.Repository
	schedules *schedule.Matrix
	presence  *presence.Cache
	pub       Publisher
	locator   Locator
	log       zerolog.Logger
}

// NewService wires a Service. pub may be nil, in which case proposals are
// not sent.
func NewService(repo user.Repository, schedules *schedule.Matrix, cache *presence.Cache, pub Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		schedules: schedules,
		presence:  cache,
		pub:       pub,
		log:       logger.With().Str("component", "pairing").Logger(),
	}
}

// SetLocator restricts proposal partners to users the locator can reach.
// Without a locator every online peer is a candidate. It must be called
// before the service is used.
func (s *Service) SetLocator(l Locator) {
	s.locator = l
}

// RankCandidates scores focal against every profile in pool and returns the
// ones with a positive affinity, best first. Ties are broken by ascending
// user id. The focal user is never ranked against themself. A non-zero
// filter keeps only candidates who offer that language.
func RankCandidates(focal user.User, pool []user.PublicProfile, filter language.Language) []Match {
	candidates := make([]affinity.Candidate, len(pool))
	for i, p := range pool {
		candidates[i] = affinity.Candidate{ID: p.ID, Preferences: p.Languages}
	}

	ranked := affinity.Rank(focal.ID, focal.Languages, candidates, filter)
	out := make([]Match, len(ranked))
	for i, r := range ranked {
		out[i] = Match{
			Profile:  pool[r.Index],
			Affinity: r.Score,
			Language: r.Language,
		}
	}
	return out
}

// Affinities ranks candidates for the user with the given id. ScopeOnline
// draws the pool from the presence cache, ScopeAll from the repository.
func (s *Service) Affinities(ctx context.Context, id uuid.UUID, filter language.Language, scope Scope) ([]Match, error) {
	focal, err := s.user(ctx, id)
	if err != nil {
		return nil, err
	}

	var pool []user.PublicProfile
	switch scope {
	case ScopeAll:
		users, err := s.repo.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("pairing: list users: %w", err)
		}
		pool = make([]user.PublicProfile, len(users))
		for i, u := range users {
			pool[i] = u.Public()
		}
	default:
		pool = s.presence.Snapshot()
	}

	return RankCandidates(focal, pool, filter), nil
}

// WeeklyMatches returns the upcoming hours, starting at anchor's hour and
// spanning one week, where the user and at least one other user are both
// available. The user never appears in the returned sets.
func (s *Service) WeeklyMatches(ctx context.Context, id uuid.UUID, anchor time.Time) ([]schedule.Slot, error) {
	focal, err := s.user(ctx, id)
	if err != nil {
		return nil, err
	}
	slots := s.schedules.FindMatches(anchor, focal.Availability)
	return schedule.Without(slots, id), nil
}

// MarkActive records the user as online and returns every other online
// user, most recently seen first. When the user was not online before, the
// best-matching online peer (if any) and the user each receive a pair
// proposal.
func (s *Service) MarkActive(ctx context.Context, id uuid.UUID) ([]user.PublicProfile, error) {
	focal, err := s.user(ctx, id)
	if err != nil {
		return nil, err
	}

	newly := s.presence.Touch(focal.Public())

	snap := s.presence.Snapshot()
	others := make([]user.PublicProfile, 0, len(snap))
	for _, p := range snap {
		if p.ID != id {
			others = append(others, p)
		}
	}

	if newly {
		s.propose(ctx, focal, others)
	}
	return others, nil
}

// Online returns the current presence snapshot without touching it.
func (s *Service) Online() []user.PublicProfile {
	return s.presence.Snapshot()
}

func (s *Service) propose(ctx context.Context, focal user.User, online []user.PublicProfile) {
	if s.pub == nil {
		return
	}
	best, ok := s.bestReachable(ctx, RankCandidates(focal, online, 0))
	if !ok {
		return
	}

	toFocal := protocol.PairProposalMsg{
		Partner:  best.Profile,
		Affinity: int(best.Affinity),
		Language: best.Language,
	}
	toPartner := protocol.PairProposalMsg{
		Partner:  focal.Public(),
		Affinity: int(best.Affinity),
		Language: best.Language,
	}

	s.publish(focal.ID, toFocal)
	s.publish(best.Profile.ID, toPartner)
	s.log.Debug().
		Str("user_id", focal.ID.String()).
		Str("partner_id", best.Profile.ID.String()).
		Int("affinity", int(best.Affinity)).
		Stringer("language", best.Language).
		Msg("pair proposed")
}

// bestReachable returns the highest ranked match whose user has a live
// connection. Locator errors count as reachable.
func (s *Service) bestReachable(ctx context.Context, ranked []Match) (Match, bool) {
	for _, m := range ranked {
		if s.locator == nil {
			return m, true
		}
		ok, err := s.locator.Reachable(ctx, m.Profile.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", m.Profile.ID.String()).Msg("locate partner")
			return m, true
		}
		if ok {
			return m, true
		}
	}
	return Match{}, false
}

func (s *Service) publish(to uuid.UUID, msg protocol.PairProposalMsg) {
	data, err := protocol.NewServerMessage(protocol.TypePairProposal, msg)
	if err != nil {
		s.log.Error().Err(err).Msg("encode pair proposal")
		return
	}
	if err := s.pub.PublishPairProposal(to, data); err != nil {
		s.log.Warn().Err(err).Str("user_id", to.String()).Msg("publish pair proposal")
		return
	}
	metrics.PairProposals.Inc()
}

func (s *Service) user(ctx context.Context, id uuid.UUID) (user.User, error) {
	u, err := s.repo.Get(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return user.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	if err != nil {
		return user.User{}, fmt.Errorf("pairing: load user %s: %w", id, err)
	}
	return u, nil
}
