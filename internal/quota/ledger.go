// Package quota implements the admission ledger: per-account daily job counts
// and reserved concurrency slots.
package quota

import (
	"context"
	"sync"
	"time"

	"mediaflow/internal/domain"
)

// UsageCounter seeds the completed-today count the first time an account is
// seen for a given UTC day.
type UsageCounter interface {
	CountCompleted(ctx context.Context, accountID string, from, to time.Time) (int, error)
}

// Usage is a point-in-time view of an account's ledger entry.
type Usage struct {
	Active         int `json:"active"`
	CompletedToday int `json:"completed_today"`
}

type entry struct {
	mu     sync.Mutex
	slots  map[string]struct{}
	day    time.Time
	seeded bool
	// completed counts completions per UTC creation day.
	completed map[time.Time]int
}

// Ledger is the sole authority for admission decisions. Each account has its
// own critical section; the ledger-wide mutex only guards entry lookup.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
	usage   UsageCounter
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithUsageCounter seeds daily counts from persisted jobs.
func WithUsageCounter(c UsageCounter) Option {
	return func(l *Ledger) { l.usage = c }
}

// NewLedger constructs an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{entries: make(map[string]*entry), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DayOf returns the UTC calendar day containing t.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (l *Ledger) entry(accountID string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[accountID]
	if !ok {
		e = &entry{slots: make(map[string]struct{}), completed: make(map[time.Time]int)}
		l.entries[accountID] = e
	}
	return e
}

// rollover must be called with e.mu held.
func (l *Ledger) rollover(ctx context.Context, accountID string, e *entry) error {
	today := DayOf(l.now())
	if e.seeded && e.day.Equal(today) {
		return nil
	}
	for day := range e.completed {
		if day.Before(today) {
			delete(e.completed, day)
		}
	}
	e.day = today
	e.seeded = false
	if l.usage != nil {
		n, err := l.usage.CountCompleted(ctx, accountID, today, today.Add(24*time.Hour))
		if err != nil {
			return err
		}
		if n > e.completed[today] {
			e.completed[today] = n
		}
	}
	e.seeded = true
	return nil
}

// TryAdmit reserves a concurrency slot for jobID or returns a
// *domain.QuotaExceededError. Daily quota is consumed only on completion.
func (l *Ledger) TryAdmit(ctx context.Context, account domain.Account, jobID string) error {
	e := l.entry(account.ID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.rollover(ctx, account.ID, e); err != nil {
		return err
	}
	if _, held := e.slots[jobID]; held {
		return nil
	}
	limited := !account.Unlimited()
	if limited && e.completed[e.day] >= account.DailyQuota {
		return &domain.QuotaExceededError{AccountID: account.ID, Reason: domain.ReasonDailyQuota, Limit: account.DailyQuota}
	}
	if account.MaxConcurrent > 0 && len(e.slots) >= account.MaxConcurrent {
		return &domain.QuotaExceededError{AccountID: account.ID, Reason: domain.ReasonConcurrency, Limit: account.MaxConcurrent}
	}
	// In-flight jobs may all complete today, so they spend the daily budget too.
	if limited && e.completed[e.day]+len(e.slots) >= account.DailyQuota {
		return &domain.QuotaExceededError{AccountID: account.ID, Reason: domain.ReasonDailyQuota, Limit: account.DailyQuota}
	}
	e.slots[jobID] = struct{}{}
	return nil
}

// Reserve records a slot without checking limits. Used when rebuilding state
// from persisted active jobs.
func (l *Ledger) Reserve(accountID, jobID string) {
	e := l.entry(accountID)
	e.mu.Lock()
	e.slots[jobID] = struct{}{}
	e.mu.Unlock()
}

// Release frees the slot held by jobID. It reports whether a slot was freed;
// repeated calls are no-ops.
func (l *Ledger) Release(accountID, jobID string) bool {
	e := l.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.slots[jobID]; !held {
		return false
	}
	delete(e.slots, jobID)
	return true
}

// RecordCompletion counts a completed job against the UTC day it was created.
// Callers persist the completed status first, so a fresh seed from the usage
// counter already includes this job.
func (l *Ledger) RecordCompletion(ctx context.Context, accountID string, createdAt time.Time) {
	e := l.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	day := DayOf(createdAt)
	today := DayOf(l.now())
	if day.Before(today) {
		return
	}
	if !e.seeded || !e.day.Equal(today) {
		if err := l.rollover(ctx, accountID, e); err == nil && l.usage != nil {
			return
		}
	}
	e.completed[day]++
}

// Snapshot returns the current usage for accountID.
func (l *Ledger) Snapshot(accountID string) Usage {
	e := l.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return Usage{Active: len(e.slots), CompletedToday: e.completed[DayOf(l.now())]}
}
