package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediaflow/internal/domain"
	"mediaflow/internal/scheduler"
)

// ErrStaleRun is returned when a run reports after its job was requeued and
// handed to another worker.
var ErrStaleRun = errors.New("jobs: stale run")

// ErrNotRunnable is returned by Start when the job left pending before a
// worker could claim it: cancelled while queued or claimed by another slot.
var ErrNotRunnable = errors.New("jobs: job not runnable")

// RequeueOutcome reports what happened to a job handed to the stall path.
type RequeueOutcome int

const (
	// RequeueSkipped means the job was no longer running or had reported
	// since the stall was observed.
	RequeueSkipped RequeueOutcome = iota
	// RequeueRequeued means the job went back to pending.
	RequeueRequeued
	// RequeueFailed means the requeue budget was spent and the job failed
	// with a timeout.
	RequeueFailed
	// RequeueCancelled means the user had asked to cancel the run, so it
	// ended cancelled instead of going back to the queue.
	RequeueCancelled
)

func (o RequeueOutcome) String() string {
	switch o {
	case RequeueRequeued:
		return "requeued"
	case RequeueFailed:
		return "failed"
	case RequeueCancelled:
		return "cancelled"
	default:
		return "skipped"
	}
}

// Run is one execution attempt of a job by a worker.
type Run struct {
	Job *domain.Job
	// Ctx is cancelled on user cancellation (cause domain.ErrJobCancelled),
	// on timeout (cause domain.ErrJobTimeout) and on requeue.
	Ctx context.Context

	m             *Manager
	generation    int
	cancelCause   context.CancelCauseFunc
	cancelTimeout context.CancelFunc
}

// Start moves a pending job to running and returns its run context, bounded
// by timeout when positive.
func (m *Manager) Start(ctx context.Context, jobID string, timeout time.Duration) (*Run, error) {
	unlock := m.lock(jobID)
	defer unlock()

	current, err := m.store.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.JobStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunnable, jobID, current.Status)
	}
	job, err := m.transitionLocked(ctx, jobID, domain.JobStatusRunning, TransitionFields{}, -1)
	if err != nil {
		return nil, err
	}
	runCtx, cancelCause := context.WithCancelCause(ctx)
	cancelTimeout := context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, timeout, domain.ErrJobTimeout)
	}
	run := &Run{Job: job, Ctx: runCtx, m: m, generation: job.Requeues, cancelCause: cancelCause, cancelTimeout: cancelTimeout}

	m.runMu.Lock()
	m.runs[jobID] = &runHandle{generation: job.Requeues, cancel: cancelCause}
	m.runMu.Unlock()
	m.obs.Started(job.Type, job.StartedAt.Sub(job.CreatedAt))
	return run, nil
}

// Release frees the run's context resources. Safe to call more than once.
func (r *Run) Release() {
	r.cancelTimeout()
	r.cancelCause(context.Canceled)
	r.m.runMu.Lock()
	if h, ok := r.m.runs[r.Job.ID]; ok && h.generation == r.generation {
		delete(r.m.runs, r.Job.ID)
	}
	r.m.runMu.Unlock()
}

// Cancelled reports whether the user asked to cancel this run.
func (r *Run) Cancelled() bool {
	return errors.Is(context.Cause(r.Ctx), domain.ErrJobCancelled)
}

// Progress records a checkpoint for the run.
func (r *Run) Progress(ctx context.Context, percent int) error {
	return r.m.reportProgress(ctx, r.Job.ID, percent, r.generation)
}

// Heartbeat refreshes the run's liveness timestamp without changing progress.
func (r *Run) Heartbeat(ctx context.Context) error {
	unlock := r.m.lock(r.Job.ID)
	defer unlock()
	job, err := r.m.store.Jobs.Get(ctx, r.Job.ID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusRunning || job.Requeues != r.generation {
		return ErrStaleRun
	}
	job.UpdatedAt = r.m.clock()
	return r.m.store.Jobs.Update(ctx, job)
}

// Complete finishes the run successfully. A run cancelled by the user ends
// cancelled instead and its result is discarded by the caller.
func (r *Run) Complete(ctx context.Context, resultAssetID string, attempts int) (*domain.Job, error) {
	unlock := r.m.lock(r.Job.ID)
	defer unlock()
	if r.Cancelled() {
		return r.m.transitionLocked(ctx, r.Job.ID, domain.JobStatusCancelled,
			TransitionFields{ErrorMessage: "cancelled by user; result discarded", Attempts: attempts}, r.generation)
	}
	return r.m.transitionLocked(ctx, r.Job.ID, domain.JobStatusCompleted,
		TransitionFields{ResultAssetID: resultAssetID, Attempts: attempts}, r.generation)
}

// Fail ends the run with err classified into an error kind.
func (r *Run) Fail(ctx context.Context, cause error, attempts int) (*domain.Job, error) {
	unlock := r.m.lock(r.Job.ID)
	defer unlock()
	if r.Cancelled() {
		return r.m.transitionLocked(ctx, r.Job.ID, domain.JobStatusCancelled,
			TransitionFields{ErrorKind: domain.ErrorKindCancelled, ErrorMessage: "cancelled by user", Attempts: attempts}, r.generation)
	}
	return r.m.transitionLocked(ctx, r.Job.ID, domain.JobStatusFailed, TransitionFields{
		ErrorKind:    domain.ClassifyError(cause),
		ErrorMessage: cause.Error(),
		Attempts:     attempts,
	}, r.generation)
}

// TimedOut hands a run that exceeded its budget to the dead-worker path.
func (r *Run) TimedOut(ctx context.Context) (RequeueOutcome, error) {
	return r.m.requeue(ctx, r.Job.ID, r.generation, time.Time{}, "running time budget exceeded")
}

// Requeue returns a stalled running job to pending once; a second stall
// fails it with ErrorKindTimeout. A job that reported at or after cutoff is
// left alone; a zero cutoff skips that check.
func (m *Manager) Requeue(ctx context.Context, jobID string, cutoff time.Time, reason string) (RequeueOutcome, error) {
	return m.requeue(ctx, jobID, -1, cutoff, reason)
}

func (m *Manager) requeue(ctx context.Context, jobID string, generation int, cutoff time.Time, reason string) (RequeueOutcome, error) {
	unlock := m.lock(jobID)
	defer unlock()

	job, err := m.store.Jobs.Get(ctx, jobID)
	if err != nil {
		return RequeueSkipped, err
	}
	if job.Status != domain.JobStatusRunning {
		return RequeueSkipped, nil
	}
	if generation >= 0 && job.Requeues != generation {
		return RequeueSkipped, ErrStaleRun
	}
	// The stall list is read without the job lock; a heartbeat may have
	// landed in between.
	if !cutoff.IsZero() && !job.UpdatedAt.Before(cutoff) {
		return RequeueSkipped, nil
	}
	if m.cancelRequested(jobID) {
		m.signalStop(jobID, domain.ErrJobCancelled)
		_, err := m.transitionLocked(ctx, jobID, domain.JobStatusCancelled, TransitionFields{
			ErrorKind:    domain.ErrorKindCancelled,
			ErrorMessage: "cancelled by user",
		}, -1)
		if err != nil {
			return RequeueSkipped, err
		}
		m.log.Info().Str("job_id", jobID).Str("reason", reason).Msg("jobs: stalled job was cancelled by user")
		return RequeueCancelled, nil
	}
	m.signalStop(jobID, domain.ErrJobTimeout)
	if job.Requeues >= domain.MaxRequeues {
		if _, err := m.transitionLocked(ctx, jobID, domain.JobStatusFailed, TransitionFields{
			ErrorKind:    domain.ErrorKindTimeout,
			ErrorMessage: reason + "; requeue budget exhausted",
		}, -1); err != nil {
			return RequeueSkipped, err
		}
		m.log.Warn().Str("job_id", jobID).Str("reason", reason).Msg("jobs: stalled job failed")
		return RequeueFailed, nil
	}
	requeued, err := m.transitionLocked(ctx, jobID, domain.JobStatusPending, TransitionFields{}, -1)
	if err != nil {
		return RequeueSkipped, err
	}
	if _, err := m.queue.Push(scheduler.Item{JobID: requeued.ID, AccountID: requeued.AccountID, Priority: requeued.Priority, Seq: requeued.Seq}); err != nil {
		m.log.Warn().Err(err).Str("job_id", jobID).Msg("jobs: requeue after shutdown")
	}
	m.obs.Requeued(requeued.Type)
	m.log.Warn().Str("job_id", jobID).Str("reason", reason).Int("requeues", requeued.Requeues).Msg("jobs: stalled job requeued")
	return RequeueRequeued, nil
}

// Stalled lists running jobs with no heartbeat since before cutoff.
func (m *Manager) Stalled(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	running, err := m.store.Jobs.ListByStatus(ctx, domain.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	out := running[:0]
	for _, job := range running {
		if job.UpdatedAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *Manager) signalRun(jobID string) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	h, ok := m.runs[jobID]
	if !ok {
		return false
	}
	h.cancelRequested = true
	h.cancel(domain.ErrJobCancelled)
	return true
}

func (m *Manager) cancelRequested(jobID string) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	h, ok := m.runs[jobID]
	return ok && h.cancelRequested
}

func (m *Manager) signalStop(jobID string, cause error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if h, ok := m.runs[jobID]; ok {
		h.cancel(cause)
		delete(m.runs, jobID)
	}
}

// dropRun forgets the live run of a job that left running.
func (m *Manager) dropRun(jobID string) {
	m.runMu.Lock()
	delete(m.runs, jobID)
	m.runMu.Unlock()
}
