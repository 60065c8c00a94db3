package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mediaflow/internal/jobs"
)

// Reaper requeues running jobs whose worker stopped sending heartbeats.
type Reaper struct {
	jobs        *jobs.Manager
	deadTimeout time.Duration
	interval    time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewReaper scans every deadTimeout/2 for jobs silent longer than
// deadTimeout. now may be nil.
func NewReaper(m *jobs.Manager, deadTimeout time.Duration, log zerolog.Logger, now func() time.Time) *Reaper {
	if deadTimeout <= 0 {
		deadTimeout = 2 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Reaper{
		jobs:        m,
		deadTimeout: deadTimeout,
		interval:    deadTimeout / 2,
		log:         log.With().Str("component", "reaper").Logger(),
		now:         now,
	}
}

// Run scans until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, _, err := r.Reap(ctx); err != nil {
				r.log.Error().Err(err).Msg("reaper: scan failed")
			}
		}
	}
}

// Reap performs one scan. A stalled job goes back to pending the first time
// and fails with a timeout the second; failed counts only those timeouts.
// A stalled run the user had cancelled ends cancelled and is counted in
// neither.
func (r *Reaper) Reap(ctx context.Context) (requeued, failed int, err error) {
	cutoff := r.now().Add(-r.deadTimeout)
	stalled, err := r.jobs.Stalled(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	cancelled := 0
	for _, job := range stalled {
		outcome, err := r.jobs.Requeue(ctx, job.ID, cutoff, "no heartbeat for "+r.deadTimeout.String())
		if err != nil {
			r.log.Warn().Err(err).Str("job_id", job.ID).Msg("reaper: requeue failed")
			continue
		}
		switch outcome {
		case jobs.RequeueRequeued:
			requeued++
		case jobs.RequeueFailed:
			failed++
		case jobs.RequeueCancelled:
			cancelled++
		}
	}
	if requeued+failed+cancelled > 0 {
		r.log.Info().Int("requeued", requeued).Int("failed", failed).Int("cancelled", cancelled).Msg("reaper: stalled jobs handled")
	}
	return requeued, failed, nil
}
