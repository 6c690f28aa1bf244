package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/codepair/matchmaker/internal/metrics"
)

// Refresher keeps a Matrix current: it rebuilds once at start, on every tick
// of its interval, and whenever Trigger is called (for example from a
// cluster-wide rebuild broadcast). Failed rebuilds keep the previous
// snapshot.
type Refresher struct {
	matrix   *Matrix
	src      Source
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
	trigger  chan struct{}
}

// NewRefresher creates a Refresher. A non-positive interval disables the
// periodic rebuild; startup and triggered rebuilds still run.
func NewRefresher(matrix *Matrix, src Source, interval time.Duration, logger zerolog.Logger) *Refresher {
	return &Refresher{
		matrix:   matrix,
		src:      src,
		interval: interval,
		log:      logger.With().Str("component", "schedule").Logger(),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// RefreshNow rebuilds synchronously.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	start := r.now()
	snap, err := r.matrix.Rebuild(ctx, r.src, start)
	metrics.ScheduleRebuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ScheduleRebuilds.WithLabelValues("error").Inc()
		prev := r.matrix.Snapshot()
		r.log.Error().Err(err).
			Time("stale_since", prev.BuiltAt()).
			Msg("rebuild failed, keeping previous snapshot")
		return err
	}
	metrics.ScheduleRebuilds.WithLabelValues("ok").Inc()
	metrics.ScheduleUsers.Set(float64(snap.Size()))
	r.log.Info().Int("users", snap.Size()).Dur("took", time.Since(start)).Msg("schedule matrix rebuilt")
	return nil
}

// Trigger requests an asynchronous rebuild. Requests that arrive while one
// is already pending are coalesced.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	_ = r.RefreshNow(ctx)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("refresher stopped")
			return
		case <-tick:
			_ = r.RefreshNow(ctx)
		case <-r.trigger:
			_ = r.RefreshNow(ctx)
		}
	}
}
