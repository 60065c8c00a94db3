package domain

import (
	"context"
	"time"
)

// AccountRepository defines access methods for accounts.
type AccountRepository interface {
	Get(ctx context.Context, id string) (*Account, error)
	Upsert(ctx context.Context, account *Account) error
	SetPlan(ctx context.Context, id string, plan Plan, limits PlanLimits) error
}

// JobRepository defines persistence for job records. Implementations store and
// return copies; the caller serializes writes per job.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	Delete(ctx context.Context, id string) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Job, error)
	ListByStatus(ctx context.Context, statuses ...JobStatus) ([]*Job, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// CountCompleted counts completed jobs of accountID created in [from, to).
	CountCompleted(ctx context.Context, accountID string, from, to time.Time) (int, error)
}

// AssetRepository handles persistence for uploaded and produced assets.
type AssetRepository interface {
	Create(ctx context.Context, asset *Asset) error
	Get(ctx context.Context, id string) (*Asset, error)
	UpdateStatus(ctx context.Context, id string, status AssetStatus) error
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Asset, error)
}

// Store bundles the repositories a persistence backend provides.
type Store struct {
	Accounts AccountRepository
	Jobs     JobRepository
	Assets   AssetRepository
	Close    func() error
}
