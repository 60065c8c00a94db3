package memrepo

import (
	"context"
	"testing"
	"time"

	"mediaflow/internal/domain"
)

func TestJobsAreStoredAsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	job := &domain.Job{ID: "j1", AccountID: "acc", Status: domain.JobStatusPending, InputAssetIDs: []string{"a1"}}
	if err := store.Jobs.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	job.Status = domain.JobStatusRunning
	job.InputAssetIDs[0] = "changed"

	got, err := store.Jobs.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobStatusPending || got.InputAssetIDs[0] != "a1" {
		t.Fatalf("stored job changed through caller pointer: %+v", got)
	}
	got.Status = domain.JobStatusCancelled
	again, _ := store.Jobs.Get(ctx, "j1")
	if again.Status != domain.JobStatusPending {
		t.Fatalf("returned job aliases storage")
	}
	if err := store.Jobs.Create(ctx, &domain.Job{ID: "j1"}); err == nil {
		t.Fatal("duplicate id accepted")
	}
}

func TestJobQueries(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, j := range []*domain.Job{
		{ID: "a", AccountID: "acc", Status: domain.JobStatusPending, Seq: 2, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "b", AccountID: "acc", Status: domain.JobStatusPending, Seq: 1, CreatedAt: now.Add(time.Minute), ExpiresAt: now},
		{ID: "c", AccountID: "acc", Status: domain.JobStatusCompleted, Seq: 3, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)},
		{ID: "d", AccountID: "acc", Status: domain.JobStatusCompleted, Seq: 4, CreatedAt: now.Add(-48 * time.Hour)},
	} {
		if err := store.Jobs.Create(ctx, j); err != nil {
			t.Fatalf("create %s: %v", j.ID, err)
		}
	}

	pending, _ := store.Jobs.ListByStatus(ctx, domain.JobStatusPending)
	if len(pending) != 2 || pending[0].ID != "b" {
		t.Fatalf("pending should be in seq order, got %v", ids(pending))
	}
	recent, _ := store.Jobs.ListByAccount(ctx, "acc", 2)
	if len(recent) != 2 || recent[0].ID != "b" || recent[1].ID != "a" {
		t.Fatalf("list by account = %v, want [b a]", ids(recent))
	}
	expired, _ := store.Jobs.ListExpired(ctx, now, 0)
	if len(expired) != 2 || expired[0].ID != "c" || expired[1].ID != "b" {
		t.Fatalf("expired = %v, want [c b] (expiry at now counts, zero expiry never does)", ids(expired))
	}
	day := now.Truncate(24 * time.Hour)
	if n, _ := store.Jobs.CountCompleted(ctx, "acc", day, day.Add(24*time.Hour)); n != 1 {
		t.Fatalf("completed today = %d, want 1", n)
	}

	if err := store.Jobs.Update(ctx, &domain.Job{ID: "missing"}); err != domain.ErrNotFound {
		t.Fatalf("update missing = %v", err)
	}
}

func TestAccountPlanChange(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.Accounts.SetPlan(ctx, "nobody", domain.PlanPro, domain.PlanLimits{}); err != domain.ErrNotFound {
		t.Fatalf("set plan on missing account = %v", err)
	}
	if err := store.Accounts.Upsert(ctx, &domain.Account{ID: "acc", Plan: domain.PlanFree, DailyQuota: 3, MaxConcurrent: 1}); err != nil {
		t.Fatal(err)
	}
	first, _ := store.Accounts.Get(ctx, "acc")
	if err := store.Accounts.SetPlan(ctx, "acc", domain.PlanPro, domain.PlanLimits{MaxConcurrent: 5}); err != nil {
		t.Fatal(err)
	}
	acc, _ := store.Accounts.Get(ctx, "acc")
	if acc.Plan != domain.PlanPro || acc.DailyQuota != 0 || acc.MaxConcurrent != 5 {
		t.Fatalf("account after upgrade = %+v", acc)
	}
	if !acc.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("plan change must keep created_at")
	}
}

func ids(jobs []*domain.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
