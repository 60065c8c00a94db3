// Package worker runs processing functions for queued jobs and reaps jobs
// whose worker stopped reporting.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediaflow/internal/domain"
	"mediaflow/internal/jobs"
	"mediaflow/internal/processing"
	"mediaflow/internal/scheduler"
)

// Options configures a Pool.
type Options struct {
	Size         int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	ImageTimeout time.Duration
	VideoTimeout time.Duration
	// Heartbeat is how often a busy worker refreshes its job's liveness.
	Heartbeat time.Duration
	// Grace bounds how long in-flight jobs may keep running after Run's
	// context is cancelled.
	Grace  time.Duration
	Logger zerolog.Logger
}

func (o *Options) defaults() {
	if o.Size <= 0 {
		o.Size = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.ImageTimeout <= 0 {
		o.ImageTimeout = 30 * time.Second
	}
	if o.VideoTimeout <= 0 {
		o.VideoTimeout = 60 * time.Second
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
	if o.Grace <= 0 {
		o.Grace = 25 * time.Second
	}
}

// Pool is a fixed set of worker slots consuming the scheduler.
type Pool struct {
	jobs     *jobs.Manager
	queue    *scheduler.Queue
	registry *processing.Registry
	opts     Options
	log      zerolog.Logger
}

// NewPool wires a Pool.
func NewPool(m *jobs.Manager, q *scheduler.Queue, r *processing.Registry, opts Options) *Pool {
	opts.defaults()
	return &Pool{
		jobs:     m,
		queue:    q,
		registry: r,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "worker").Logger(),
	}
}

// Run blocks until ctx is cancelled or the queue is closed. Jobs already
// running are given the grace period to finish.
func (p *Pool) Run(ctx context.Context) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopGrace := context.AfterFunc(ctx, func() {
		t := time.NewTimer(p.opts.Grace)
		defer t.Stop()
		select {
		case <-t.C:
			cancelWork()
		case <-workCtx.Done():
		}
	})
	defer stopGrace()

	p.log.Info().Int("size", p.opts.Size).Int("max_attempts", p.opts.MaxAttempts).Msg("worker: pool started")
	g := new(errgroup.Group)
	for slot := 0; slot < p.opts.Size; slot++ {
		g.Go(func() error {
			return p.loop(ctx, workCtx, slot)
		})
	}
	err := g.Wait()
	p.log.Info().Msg("worker: pool stopped")
	return err
}

func (p *Pool) loop(ctx, workCtx context.Context, slot int) error {
	log := p.log.With().Int("slot", slot).Logger()
	for {
		item, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, scheduler.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker: pop: %w", err)
		}
		p.process(workCtx, item, log)
	}
}

func (p *Pool) timeoutFor(job *domain.Job) time.Duration {
	switch job.Type {
	case domain.JobTypeTrim, domain.JobTypeMerge:
		return p.opts.VideoTimeout
	default:
		return p.opts.ImageTimeout
	}
}

func (p *Pool) process(ctx context.Context, item scheduler.Item, log zerolog.Logger) {
	job, err := p.jobs.Get(ctx, "", item.JobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", item.JobID).Msg("worker: dequeued job not found")
		return
	}
	run, err := p.jobs.Start(ctx, job.ID, p.timeoutFor(job))
	if errors.Is(err, jobs.ErrNotRunnable) {
		// Cancelled while queued, or already claimed.
		log.Debug().Err(err).Str("job_id", job.ID).Msg("worker: skip job")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("worker: start job")
		return
	}
	defer run.Release()
	// Settling a run must survive the cancellation of the work context.
	ctx = context.WithoutCancel(ctx)
	log = log.With().Str("job_id", job.ID).Str("type", string(job.Type)).Logger()
	log.Info().Int("priority", int(job.Priority)).Msg("worker: job started")

	stopBeat := p.heartbeat(ctx, run, log)
	defer stopBeat()

	for attempt := 1; ; attempt++ {
		final, retry := p.attempt(ctx, run, attempt, log)
		if !retry {
			if final != nil {
				log.Info().Str("status", string(final.Status)).Str("error_kind", string(final.ErrorKind)).
					Int("attempts", attempt).Msg("worker: job finished")
			}
			return
		}
		if !sleep(run.Ctx, p.backoff(attempt)) {
			p.interrupted(ctx, run, context.Cause(run.Ctx), attempt, log)
			return
		}
	}
}

// attempt runs the function once. It returns the job once it reached a
// terminal or requeued state, and retry when a transient failure should be
// attempted again.
func (p *Pool) attempt(ctx context.Context, run *jobs.Run, attempt int, log zerolog.Logger) (*domain.Job, bool) {
	asset, err := p.execute(run)
	if err == nil {
		final, cerr := run.Complete(ctx, asset.ID, attempt)
		if cerr != nil || final.Status != domain.JobStatusCompleted {
			p.jobs.DiscardResult(ctx, asset)
		}
		if cerr != nil {
			if !errors.Is(cerr, jobs.ErrStaleRun) {
				log.Error().Err(cerr).Msg("worker: complete job")
			}
			return nil, false
		}
		return final, false
	}

	if run.Ctx.Err() != nil {
		return p.interrupted(ctx, run, context.Cause(run.Ctx), attempt, log), false
	}
	if domain.IsTransient(err) && attempt < p.opts.MaxAttempts {
		log.Warn().Err(err).Int("attempt", attempt).Msg("worker: transient failure, retrying")
		return nil, true
	}
	final, ferr := run.Fail(ctx, err, attempt)
	if ferr != nil {
		if !errors.Is(ferr, jobs.ErrStaleRun) {
			log.Error().Err(ferr).Msg("worker: fail job")
		}
		return nil, false
	}
	return final, false
}

// interrupted settles a run whose context ended before the function did.
func (p *Pool) interrupted(ctx context.Context, run *jobs.Run, cause error, attempt int, log zerolog.Logger) *domain.Job {
	switch {
	case errors.Is(cause, domain.ErrJobCancelled):
		final, err := run.Fail(ctx, cause, attempt)
		if err != nil && !errors.Is(err, jobs.ErrStaleRun) {
			log.Error().Err(err).Msg("worker: settle cancelled job")
		}
		return final
	case errors.Is(cause, domain.ErrJobTimeout):
		if _, err := run.TimedOut(ctx); err != nil && !errors.Is(err, jobs.ErrStaleRun) {
			log.Error().Err(err).Msg("worker: requeue timed out job")
		}
		return nil
	default:
		// Shutdown: the job stays running and the reaper requeues it.
		log.Warn().Err(cause).Msg("worker: job interrupted by shutdown")
		return nil
	}
}

func (p *Pool) execute(run *jobs.Run) (asset *domain.Asset, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("job_id", run.Job.ID).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("worker: processing function panicked")
			err = domain.Permanentf("processing function panicked: %v", r)
		}
	}()

	files, lut, err := p.jobs.Inputs(run.Ctx, run.Job)
	if err != nil {
		return nil, err
	}
	in := processing.Input{
		Job:   run.Job,
		Files: make([]processing.File, len(files)),
		LUT:   lut,
		Progress: func(percent int) {
			if err := run.Progress(context.WithoutCancel(run.Ctx), percent); err != nil {
				p.log.Debug().Err(err).Str("job_id", run.Job.ID).Msg("worker: progress not recorded")
			}
		},
	}
	for i, f := range files {
		in.Files[i] = processing.File{Asset: f.Asset, Data: f.Data}
	}
	out, err := p.registry.Invoke(run.Ctx, in)
	if err != nil {
		return nil, err
	}
	if run.Ctx.Err() != nil {
		return nil, context.Cause(run.Ctx)
	}
	return p.jobs.SaveResult(run.Ctx, run.Job, out.Data, out.MIME, out.Ext)
}

func (p *Pool) heartbeat(ctx context.Context, run *jobs.Run, log zerolog.Logger) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(p.opts.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				// A cancelled run keeps beating until its function returns.
				err := run.Heartbeat(ctx)
				if errors.Is(err, jobs.ErrStaleRun) {
					return
				}
				if err != nil {
					log.Debug().Err(err).Msg("worker: heartbeat not recorded")
				}
			}
		}
	}()
	return func() { close(done) }
}

// backoff is exponential in attempt, capped, with jitter in [d/2, d].
func (p *Pool) backoff(attempt int) time.Duration {
	d := p.opts.BackoffBase << (attempt - 1)
	if d <= 0 || d > p.opts.BackoffMax {
		d = p.opts.BackoffMax
	}
	half := d / 2
	return half + rand.N(half+1)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
