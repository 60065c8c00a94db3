// Package jobs is the job store service: it owns admission, the job state
// machine and the bookkeeping that ties the ledger, the scheduler and the
// repositories together.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediaflow/internal/domain"
	"mediaflow/internal/quota"
	"mediaflow/internal/scheduler"
	"mediaflow/internal/storage"
)

const (
	lockStripes      = 64
	defaultListLimit = 50
	maxListLimit     = 100
	tombstoneTTL     = 7 * 24 * time.Hour
)

// Observer receives lifecycle events, typically to feed metrics.
type Observer interface {
	Admitted(t domain.JobType, p domain.Priority)
	Denied(reason domain.QuotaReason)
	Started(t domain.JobType, waited time.Duration)
	Finished(t domain.JobType, status domain.JobStatus, kind domain.ErrorKind, ran time.Duration)
	Requeued(t domain.JobType)
}

type nopObserver struct{}

func (nopObserver) Admitted(domain.JobType, domain.Priority)                                   {}
func (nopObserver) Denied(domain.QuotaReason)                                                  {}
func (nopObserver) Started(domain.JobType, time.Duration)                                      {}
func (nopObserver) Finished(domain.JobType, domain.JobStatus, domain.ErrorKind, time.Duration) {}
func (nopObserver) Requeued(domain.JobType)                                                    {}

// Options configures a Manager.
type Options struct {
	Store     domain.Store
	Ledger    *quota.Ledger
	Queue     *scheduler.Queue
	Blobs     storage.BlobStore
	Limits    map[domain.Plan]domain.PlanLimits
	Retention time.Duration
	Logger    zerolog.Logger
	Observer  Observer
	Prober    DurationProber
	// Supports reports whether this server can run a job type. Nil accepts
	// every known type.
	Supports  func(domain.JobType) bool
	Now       func() time.Time
}

// Manager is the single writer of job state.
type Manager struct {
	store     domain.Store
	ledger    *quota.Ledger
	queue     *scheduler.Queue
	blobs     storage.BlobStore
	limits    map[domain.Plan]domain.PlanLimits
	retention time.Duration
	log       zerolog.Logger
	obs       Observer
	prober    DurationProber
	supports  func(domain.JobType) bool
	now       func() time.Time

	stripes [lockStripes]sync.Mutex

	runMu sync.Mutex
	runs  map[string]*runHandle

	tombMu     sync.Mutex
	tombstones map[string]time.Time
}

type runHandle struct {
	generation      int
	cancel          context.CancelCauseFunc
	cancelRequested bool
}

// NewManager wires a Manager. Store, Ledger and Queue are required.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:      opts.Store,
		ledger:     opts.Ledger,
		queue:      opts.Queue,
		blobs:      opts.Blobs,
		limits:     opts.Limits,
		retention:  opts.Retention,
		log:        opts.Logger.With().Str("component", "jobs").Logger(),
		obs:        opts.Observer,
		prober:     opts.Prober,
		supports:   opts.Supports,
		now:        opts.Now,
		runs:       make(map[string]*runHandle),
		tombstones: make(map[string]time.Time),
	}
	if m.obs == nil {
		m.obs = nopObserver{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.retention <= 0 {
		m.retention = 24 * time.Hour
	}
	if m.limits == nil {
		m.limits = map[domain.Plan]domain.PlanLimits{
			domain.PlanFree: {DailyQuota: 3, MaxConcurrent: 1},
			domain.PlanPro:  {DailyQuota: 0, MaxConcurrent: 5},
		}
	}
	return m
}

func (m *Manager) lock(jobID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	mu := &m.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

// EnsureAccount returns the account, provisioning it with the plan's default
// limits on first sight and applying a plan change reported by the identity
// provider.
func (m *Manager) EnsureAccount(ctx context.Context, accountID string, plan domain.Plan) (*domain.Account, error) {
	limits := m.limits[plan]
	acc, err := m.store.Accounts.Get(ctx, accountID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		acc = &domain.Account{ID: accountID, Plan: plan, DailyQuota: limits.DailyQuota, MaxConcurrent: limits.MaxConcurrent}
		if err := m.store.Accounts.Upsert(ctx, acc); err != nil {
			return nil, fmt.Errorf("jobs: provision account: %w", err)
		}
		return m.store.Accounts.Get(ctx, accountID)
	case err != nil:
		return nil, fmt.Errorf("jobs: load account: %w", err)
	case acc.Plan != plan:
		if err := m.store.Accounts.SetPlan(ctx, accountID, plan, limits); err != nil {
			return nil, fmt.Errorf("jobs: change plan: %w", err)
		}
		m.log.Info().Str("account_id", accountID).Str("plan", string(plan)).Msg("jobs: account plan changed")
		return m.store.Accounts.Get(ctx, accountID)
	}
	return acc, nil
}

// CreateRequest is a validated-on-create job submission.
type CreateRequest struct {
	AccountID     string
	InputAssetIDs []string
	Type          domain.JobType
	Params        domain.Parameters
}

// Create admits, persists and enqueues a job. The job is durably pending
// before it becomes visible to workers.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Job, error) {
	if !req.Type.Valid() {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unsupported job type %q", req.Type))
	}
	if m.supports != nil && !m.supports(req.Type) {
		return nil, domain.NewValidationError("type", fmt.Sprintf("job type %q is not available on this server", req.Type))
	}
	if err := req.Params.Validate(req.Type); err != nil {
		return nil, err
	}
	account, err := m.store.Accounts.Get(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("jobs: load account: %w", err)
	}
	inputs, err := m.validateInputs(ctx, req)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	if err := m.ledger.TryAdmit(ctx, *account, jobID); err != nil {
		var qe *domain.QuotaExceededError
		if errors.As(err, &qe) {
			m.obs.Denied(qe.Reason)
			m.log.Info().Str("account_id", account.ID).Str("reason", string(qe.Reason)).Msg("jobs: admission denied")
		}
		return nil, err
	}

	now := m.clock()
	job := &domain.Job{
		ID:            jobID,
		AccountID:     account.ID,
		InputAssetIDs: append([]string(nil), req.InputAssetIDs...),
		Type:          req.Type,
		Params:        req.Params,
		Status:        domain.JobStatusPending,
		Priority:      domain.PriorityForPlan(account.Plan),
		Seq:           m.queue.NextSeq(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.retention),
		UpdatedAt:     now,
	}
	if err := m.store.Jobs.Create(ctx, job); err != nil {
		m.ledger.Release(account.ID, jobID)
		return nil, fmt.Errorf("jobs: persist job: %w", err)
	}
	for _, asset := range inputs {
		if asset.Status == domain.AssetStatusUploaded {
			if err := m.store.Assets.UpdateStatus(ctx, asset.ID, domain.AssetStatusInUse); err != nil {
				m.log.Warn().Err(err).Str("asset_id", asset.ID).Msg("jobs: mark asset in use")
			}
		}
	}
	if _, err := m.queue.Push(scheduler.Item{JobID: job.ID, AccountID: job.AccountID, Priority: job.Priority, Seq: job.Seq}); err != nil {
		// Persisted as pending; Recover enqueues it on the next start.
		m.log.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: enqueue after shutdown")
	}
	m.obs.Admitted(job.Type, job.Priority)
	m.log.Debug().Str("job_id", job.ID).Str("account_id", job.AccountID).Str("type", string(job.Type)).
		Int("priority", int(job.Priority)).Uint64("seq", job.Seq).Msg("jobs: created")
	return job.Clone(), nil
}

func (m *Manager) validateInputs(ctx context.Context, req CreateRequest) ([]*domain.Asset, error) {
	rule := domain.InputRules[req.Type]
	n := len(req.InputAssetIDs)
	if n < rule.Min || n > rule.Max {
		if rule.Min == rule.Max {
			return nil, domain.NewValidationError("asset_ids", fmt.Sprintf("%s takes exactly %d input", req.Type, rule.Min))
		}
		return nil, domain.NewValidationError("asset_ids", fmt.Sprintf("%s takes %d to %d inputs", req.Type, rule.Min, rule.Max))
	}
	now := m.clock()
	seen := make(map[string]bool, n)
	assets := make([]*domain.Asset, 0, n)
	for _, id := range req.InputAssetIDs {
		if seen[id] {
			return nil, domain.NewValidationError("asset_ids", "duplicate asset "+id)
		}
		seen[id] = true
		asset, err := m.ownedAsset(ctx, req.AccountID, id, now)
		if err != nil {
			return nil, err
		}
		if !rule.Allows(asset.Kind) {
			return nil, domain.NewValidationError("asset_ids", fmt.Sprintf("asset %s is a %s, %s does not accept it", id, asset.Kind, req.Type))
		}
		if err := checkLimits(asset); err != nil {
			return nil, err
		}
		if rule.SameKind && len(assets) > 0 && assets[0].Kind != asset.Kind {
			return nil, domain.NewValidationError("asset_ids", "inputs must all be images or all be videos")
		}
		assets = append(assets, asset)
	}
	if cg := req.Params.ColorGrade; cg != nil && cg.LUTAssetID != "" {
		lut, err := m.ownedAsset(ctx, req.AccountID, cg.LUTAssetID, now)
		if err != nil {
			return nil, domain.NewValidationError("params.lut_asset_id", "lut asset not found or expired")
		}
		if lut.Kind != domain.AssetKindLUT {
			return nil, domain.NewValidationError("params.lut_asset_id", "asset is not a .cube file")
		}
		if lut.SizeBytes > domain.MaxLUTBytes {
			return nil, domain.NewValidationError("params.lut_asset_id", "lut exceeds 1MB")
		}
		assets = append(assets, lut)
	}
	return assets, nil
}

func (m *Manager) ownedAsset(ctx context.Context, accountID, id string, now time.Time) (*domain.Asset, error) {
	asset, err := m.store.Assets.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && asset.AccountID != accountID) {
		return nil, domain.NewValidationError("asset_ids", "asset "+id+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: load asset: %w", err)
	}
	if asset.Expired(now) || asset.Status == domain.AssetStatusExpired {
		return nil, domain.NewValidationError("asset_ids", "asset "+id+" has expired")
	}
	return asset, nil
}

func checkLimits(a *domain.Asset) error {
	switch a.Kind {
	case domain.AssetKindImage:
		if a.SizeBytes > domain.MaxImageBytes {
			return domain.NewValidationError("asset_ids", "image "+a.ID+" exceeds 5MB")
		}
	case domain.AssetKindVideo:
		if a.SizeBytes > domain.MaxVideoBytes {
			return domain.NewValidationError("asset_ids", "video "+a.ID+" exceeds 50MB")
		}
		if a.DurationSeconds > domain.MaxVideoDurationSec {
			return domain.NewValidationError("asset_ids", "video "+a.ID+" is longer than 30s")
		}
	}
	return nil
}

// TransitionFields carries the values written alongside a status change.
type TransitionFields struct {
	ResultAssetID string
	ErrorKind     domain.ErrorKind
	ErrorMessage  string
	Attempts      int
}

// Transition moves jobID to status to, enforcing the state machine.
func (m *Manager) Transition(ctx context.Context, jobID string, to domain.JobStatus, f TransitionFields) (*domain.Job, error) {
	unlock := m.lock(jobID)
	defer unlock()
	return m.transitionLocked(ctx, jobID, to, f, -1)
}

// transitionLocked requires the job's stripe lock. generation >= 0 rejects
// writes from a stale run of a requeued job.
func (m *Manager) transitionLocked(ctx context.Context, jobID string, to domain.JobStatus, f TransitionFields, generation int) (*domain.Job, error) {
	job, err := m.store.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// A run may only settle its own attempt, and only while it is running.
	if generation >= 0 && (job.Requeues != generation || job.Status != domain.JobStatusRunning) {
		return nil, ErrStaleRun
	}
	if !domain.CanTransition(job.Status, to) {
		terr := &domain.IllegalTransitionError{JobID: jobID, From: job.Status, To: to}
		m.log.Error().Err(terr).Str("job_id", jobID).Msg("jobs: rejected transition")
		return nil, terr
	}
	if to == domain.JobStatusPending && job.Requeues >= domain.MaxRequeues {
		terr := &domain.IllegalTransitionError{JobID: jobID, From: job.Status, To: to}
		m.log.Error().Err(terr).Str("job_id", jobID).Int("requeues", job.Requeues).Msg("jobs: requeue budget spent")
		return nil, terr
	}

	now := m.clock()
	prev := job.Status
	job.Status = to
	job.UpdatedAt = now
	if f.Attempts > 0 {
		job.Attempts = f.Attempts
	}
	switch to {
	case domain.JobStatusRunning:
		job.StartedAt = &now
		job.Progress = 0
	case domain.JobStatusPending:
		job.Requeues++
		job.Progress = 0
		job.StartedAt = nil
	case domain.JobStatusCompleted:
		job.Progress = 100
		job.ResultAssetID = f.ResultAssetID
		job.ErrorKind, job.ErrorMessage = "", ""
	case domain.JobStatusFailed, domain.JobStatusCancelled:
		job.ErrorKind = f.ErrorKind
		job.ErrorMessage = f.ErrorMessage
		if to == domain.JobStatusCancelled && job.ErrorKind == "" {
			job.ErrorKind = domain.ErrorKindCancelled
		}
	}
	releaseSlot := to.Terminal() && !job.SlotReleased
	if to.Terminal() {
		job.CompletedAt = &now
		job.SlotReleased = true
	}
	if err := m.store.Jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("jobs: persist transition %s -> %s: %w", prev, to, err)
	}

	if to.Terminal() || to == domain.JobStatusPending {
		m.dropRun(jobID)
	}
	if releaseSlot {
		m.ledger.Release(job.AccountID, job.ID)
		if to == domain.JobStatusCompleted {
			m.ledger.RecordCompletion(ctx, job.AccountID, job.CreatedAt)
		}
		var ran time.Duration
		if job.StartedAt != nil {
			ran = now.Sub(*job.StartedAt)
		}
		m.obs.Finished(job.Type, to, job.ErrorKind, ran)
	}
	m.log.Debug().Str("job_id", jobID).Str("from", string(prev)).Str("to", string(to)).Msg("jobs: transition")
	return job.Clone(), nil
}

// ReportProgress records percent for a running job. Reports that do not
// increase progress, or arrive after the job left running, are no-ops.
func (m *Manager) ReportProgress(ctx context.Context, jobID string, percent int) error {
	return m.reportProgress(ctx, jobID, percent, -1)
}

func (m *Manager) reportProgress(ctx context.Context, jobID string, percent, generation int) error {
	if percent > 100 {
		percent = 100
	}
	unlock := m.lock(jobID)
	defer unlock()
	job, err := m.store.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusRunning || percent <= job.Progress {
		return nil
	}
	if generation >= 0 && job.Requeues != generation {
		return nil
	}
	job.Progress = percent
	job.UpdatedAt = m.clock()
	return m.store.Jobs.Update(ctx, job)
}

// Get returns the job if it belongs to accountID.
func (m *Manager) Get(ctx context.Context, accountID, jobID string) (*domain.Job, error) {
	job, err := m.store.Jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		if m.purged(jobID) {
			return nil, domain.ErrGone
		}
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if accountID != "" && job.AccountID != accountID {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

// Status returns the read-only snapshot of jobID. Purged jobs report ErrGone.
func (m *Manager) Status(ctx context.Context, jobID string) (domain.JobView, error) {
	job, err := m.Get(ctx, "", jobID)
	if err != nil {
		return domain.JobView{}, err
	}
	return m.View(ctx, job), nil
}

// View builds the client view of job, resolving the result location while
// the result object is still retained.
func (m *Manager) View(ctx context.Context, job *domain.Job) domain.JobView {
	v := job.View()
	if job.Status == domain.JobStatusCompleted && job.ResultAssetID != "" {
		if asset, err := m.store.Assets.Get(ctx, job.ResultAssetID); err == nil && !asset.Expired(m.clock()) {
			v.ResultLocation = asset.StorageKey
		}
	}
	return v
}

// List returns the account's jobs, newest first.
func (m *Manager) List(ctx context.Context, accountID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return m.store.Jobs.ListByAccount(ctx, accountID, limit)
}

// Cancel stops a job. A pending job leaves the queue and is cancelled at once.
// A running job is signalled through its context; it turns cancelled when the
// worker observes the signal, or when it finishes and its result is discarded.
func (m *Manager) Cancel(ctx context.Context, accountID, jobID string) (*domain.Job, error) {
	unlock := m.lock(jobID)
	defer unlock()

	job, err := m.store.Jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) && m.purged(jobID) {
		return nil, domain.ErrGone
	}
	if err != nil {
		return nil, err
	}
	if accountID != "" && job.AccountID != accountID {
		return nil, domain.ErrForbidden
	}
	switch job.Status {
	case domain.JobStatusPending:
		m.queue.Remove(jobID)
		return m.transitionLocked(ctx, jobID, domain.JobStatusCancelled, TransitionFields{ErrorMessage: "cancelled by user"}, -1)
	case domain.JobStatusRunning:
		if m.signalRun(jobID) {
			m.log.Info().Str("job_id", jobID).Msg("jobs: cancellation requested")
			return job.Clone(), nil
		}
		// No live run in this process: the worker that owned it is gone.
		return m.transitionLocked(ctx, jobID, domain.JobStatusCancelled, TransitionFields{ErrorMessage: "cancelled by user"}, -1)
	default:
		return nil, &domain.IllegalTransitionError{JobID: jobID, From: job.Status, To: domain.JobStatusCancelled}
	}
}

// Recover rebuilds in-memory state after a restart: active jobs get their
// ledger slot back and pending jobs return to the queue in their original
// order. Running jobs are left to the reaper.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	active, err := m.store.Jobs.ListByStatus(ctx, domain.JobStatusPending, domain.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("jobs: recover: %w", err)
	}
	queued := 0
	for _, job := range active {
		if !job.SlotReleased {
			m.ledger.Reserve(job.AccountID, job.ID)
		}
		if job.Status != domain.JobStatusPending {
			continue
		}
		if _, err := m.queue.Push(scheduler.Item{JobID: job.ID, AccountID: job.AccountID, Priority: job.Priority, Seq: job.Seq}); err != nil {
			return queued, fmt.Errorf("jobs: recover enqueue %s: %w", job.ID, err)
		}
		queued++
	}
	m.log.Info().Int("active", len(active)).Int("queued", queued).Msg("jobs: recovered state")
	return queued, nil
}

// Forget records that jobID was purged so later lookups report ErrGone.
func (m *Manager) Forget(jobID string) {
	now := m.clock()
	m.tombMu.Lock()
	defer m.tombMu.Unlock()
	m.tombstones[jobID] = now.Add(tombstoneTTL)
	for id, until := range m.tombstones {
		if now.After(until) {
			delete(m.tombstones, id)
		}
	}
}

func (m *Manager) purged(jobID string) bool {
	m.tombMu.Lock()
	defer m.tombMu.Unlock()
	until, ok := m.tombstones[jobID]
	return ok && m.clock().Before(until)
}

// Usage reports the caller's ledger usage.
func (m *Manager) Usage(accountID string) quota.Usage {
	return m.ledger.Snapshot(accountID)
}
