// Package memrepo provides in-memory repositories for tests and the
// single-process development profile.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"mediaflow/internal/domain"
)

// New returns a domain.Store backed by process memory.
func New() domain.Store {
	return domain.Store{
		Accounts: NewAccounts(),
		Jobs:     NewJobs(),
		Assets:   NewAssets(),
		Close:    func() error { return nil },
	}
}

// Accounts is an in-memory domain.AccountRepository.
type Accounts struct {
	mu   sync.RWMutex
	rows map[string]domain.Account
}

func NewAccounts() *Accounts {
	return &Accounts{rows: make(map[string]domain.Account)}
}

func (r *Accounts) Get(ctx context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *Accounts) Upsert(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	a := *account
	if existing, ok := r.rows[a.ID]; ok {
		a.CreatedAt = existing.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.rows[a.ID] = a
	return nil
}

func (r *Accounts) SetPlan(ctx context.Context, id string, plan domain.Plan, limits domain.PlanLimits) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Plan = plan
	a.DailyQuota = limits.DailyQuota
	a.MaxConcurrent = limits.MaxConcurrent
	a.UpdatedAt = time.Now().UTC()
	r.rows[id] = a
	return nil
}

// Jobs is an in-memory domain.JobRepository.
type Jobs struct {
	mu   sync.RWMutex
	rows map[string]*domain.Job
}

func NewJobs() *Jobs {
	return &Jobs{rows: make(map[string]*domain.Job)}
}

func (r *Jobs) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[job.ID]; exists {
		return domain.NewValidationError("id", "duplicate job id")
	}
	r.rows[job.ID] = job.Clone()
	return nil
}

func (r *Jobs) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (r *Jobs) Update(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[job.ID]; !ok {
		return domain.ErrNotFound
	}
	r.rows[job.ID] = job.Clone()
	return nil
}

func (r *Jobs) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *Jobs) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Job, error) {
	r.mu.RLock()
	var out []*domain.Job
	for _, j := range r.rows {
		if j.AccountID == accountID {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].Seq > out[k].Seq
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Jobs) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	want := make(map[domain.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	r.mu.RLock()
	var out []*domain.Job
	for _, j := range r.rows {
		if want[j.Status] {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out, nil
}

func (r *Jobs) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	r.mu.RLock()
	var out []*domain.Job
	for _, j := range r.rows {
		if j.Expired(now) {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].ExpiresAt.Before(out[k].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Jobs) CountCompleted(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, j := range r.rows {
		if j.AccountID == accountID && j.Status == domain.JobStatusCompleted &&
			!j.CreatedAt.Before(from) && j.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// Assets is an in-memory domain.AssetRepository.
type Assets struct {
	mu   sync.RWMutex
	rows map[string]domain.Asset
}

func NewAssets() *Assets {
	return &Assets{rows: make(map[string]domain.Asset)}
}

func (r *Assets) Create(ctx context.Context, asset *domain.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[asset.ID] = *asset
	return nil
}

func (r *Assets) Get(ctx context.Context, id string) (*domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *Assets) UpdateStatus(ctx context.Context, id string, status domain.AssetStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	r.rows[id] = a
	return nil
}

func (r *Assets) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *Assets) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Asset, error) {
	r.mu.RLock()
	var out []*domain.Asset
	for _, a := range r.rows {
		if a.Expired(now) {
			a := a
			out = append(out, &a)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].ExpiresAt.Before(out[k].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
