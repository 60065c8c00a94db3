// Package pebblerepo persists accounts, jobs and assets in an embedded Pebble
// database. Records are JSON values under "<kind>/<id>" keys.
package pebblerepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"mediaflow/internal/domain"
)

const (
	prefixAccount = "account/"
	prefixJob     = "job/"
	prefixAsset   = "asset/"
)

// DB wraps a Pebble instance shared by the repositories.
type DB struct {
	db       *pebble.DB
	DataFile string
}

// Open opens (or creates) the database directory at dataFile.
func Open(dataFile string) (*DB, error) {
	db, err := pebble.Open(dataFile, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblerepo: open %s: %w", dataFile, err)
	}
	return &DB{db: db, DataFile: dataFile}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Store returns the repositories backed by d.
func (d *DB) Store() domain.Store {
	return domain.Store{
		Accounts: &Accounts{db: d},
		Jobs:     &Jobs{db: d},
		Assets:   &Assets{db: d},
		Close:    d.Close,
	}
}

func (d *DB) put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("pebblerepo: encode %s: %w", key, err)
	}
	return d.db.Set([]byte(key), raw, pebble.Sync)
}

func (d *DB) get(key string, v any) error {
	value, closer, err := d.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("pebblerepo: get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(value, v); err != nil {
		return fmt.Errorf("pebblerepo: decode %s: %w", key, err)
	}
	return nil
}

func (d *DB) has(key string) (bool, error) {
	_, closer, err := d.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (d *DB) delete(key string) error {
	return d.db.Delete([]byte(key), pebble.Sync)
}

// scan calls fn with the raw value of every key under prefix.
func (d *DB) scan(prefix string, fn func(value []byte) error) error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebblerepo: iterate %s: %w", prefix, err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func upperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}

// Accounts implements domain.AccountRepository.
type Accounts struct{ db *DB }

func (r *Accounts) Get(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	if err := r.db.get(prefixAccount+id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Accounts) Upsert(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	a := *account
	var existing domain.Account
	if err := r.db.get(prefixAccount+a.ID, &existing); err == nil {
		a.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return r.db.put(prefixAccount+a.ID, a)
}

func (r *Accounts) SetPlan(ctx context.Context, id string, plan domain.Plan, limits domain.PlanLimits) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	a.Plan = plan
	a.DailyQuota = limits.DailyQuota
	a.MaxConcurrent = limits.MaxConcurrent
	a.UpdatedAt = time.Now().UTC()
	return r.db.put(prefixAccount+id, a)
}

// Jobs implements domain.JobRepository.
type Jobs struct{ db *DB }

func (r *Jobs) Create(ctx context.Context, job *domain.Job) error {
	exists, err := r.db.has(prefixJob + job.ID)
	if err != nil {
		return fmt.Errorf("pebblerepo: check job: %w", err)
	}
	if exists {
		return domain.NewValidationError("id", "duplicate job id")
	}
	return r.db.put(prefixJob+job.ID, job)
}

func (r *Jobs) Get(ctx context.Context, id string) (*domain.Job, error) {
	var j domain.Job
	if err := r.db.get(prefixJob+id, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Jobs) Update(ctx context.Context, job *domain.Job) error {
	exists, err := r.db.has(prefixJob + job.ID)
	if err != nil {
		return fmt.Errorf("pebblerepo: check job: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return r.db.put(prefixJob+job.ID, job)
}

func (r *Jobs) Delete(ctx context.Context, id string) error {
	return r.db.delete(prefixJob + id)
}

func (r *Jobs) filter(keep func(*domain.Job) bool) ([]*domain.Job, error) {
	var out []*domain.Job
	err := r.db.scan(prefixJob, func(value []byte) error {
		var j domain.Job
		if err := json.Unmarshal(value, &j); err != nil {
			return fmt.Errorf("pebblerepo: decode job: %w", err)
		}
		if keep(&j) {
			out = append(out, &j)
		}
		return nil
	})
	return out, err
}

func (r *Jobs) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Job, error) {
	out, err := r.filter(func(j *domain.Job) bool { return j.AccountID == accountID })
	if err != nil {
		return nil, err
	}
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
	out, err := r.filter(func(j *domain.Job) bool { return want[j.Status] })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out, nil
}

func (r *Jobs) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	out, err := r.filter(func(j *domain.Job) bool { return j.Expired(now) })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ExpiresAt.Before(out[k].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Jobs) CountCompleted(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	out, err := r.filter(func(j *domain.Job) bool {
		return j.AccountID == accountID && j.Status == domain.JobStatusCompleted &&
			!j.CreatedAt.Before(from) && j.CreatedAt.Before(to)
	})
	return len(out), err
}

// Assets implements domain.AssetRepository.
type Assets struct{ db *DB }

func (r *Assets) Create(ctx context.Context, asset *domain.Asset) error {
	return r.db.put(prefixAsset+asset.ID, asset)
}

func (r *Assets) Get(ctx context.Context, id string) (*domain.Asset, error) {
	var a domain.Asset
	if err := r.db.get(prefixAsset+id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Assets) UpdateStatus(ctx context.Context, id string, status domain.AssetStatus) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	a.Status = status
	return r.db.put(prefixAsset+id, a)
}

func (r *Assets) Delete(ctx context.Context, id string) error {
	return r.db.delete(prefixAsset + id)
}

func (r *Assets) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Asset, error) {
	var out []*domain.Asset
	err := r.db.scan(prefixAsset, func(value []byte) error {
		var a domain.Asset
		if err := json.Unmarshal(value, &a); err != nil {
			return fmt.Errorf("pebblerepo: decode asset: %w", err)
		}
		if a.Expired(now) {
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ExpiresAt.Before(out[k].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
