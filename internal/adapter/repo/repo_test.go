package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mediaflow/internal/domain"
	"mediaflow/internal/sqlinline"
)

type stubExecutor struct {
	tag     pgconn.CommandTag
	err     error
	row     pgx.Row
	queries []string
	args    [][]any
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	return s.tag, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	if s.row != nil {
		return s.row
	}
	return stubRow{err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	scan func(dest ...any) error
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.scan(dest...)
}

func TestJobCreatePassesEveryColumn(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := NewJobRepository(exec)
	job := &domain.Job{
		ID:            "job-1",
		AccountID:     "acc",
		InputAssetIDs: []string{"a1"},
		Type:          domain.JobTypeConvert,
		Params:        domain.Parameters{Convert: &domain.ConvertParams{OutputFormat: "png"}},
		Status:        domain.JobStatusPending,
		Priority:      domain.PriorityPro,
		Seq:           7,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if exec.queries[0] != sqlinline.QInsertJob {
		t.Fatalf("unexpected query %q", exec.queries[0])
	}
	if got := len(exec.args[0]); got != 19 {
		t.Fatalf("expected 19 args, got %d", got)
	}
	if v, ok := exec.args[0][8].(int64); !ok || v != 7 {
		t.Fatalf("expected seq 7, got %T %v", exec.args[0][8], exec.args[0][8])
	}
}

func TestJobCreateDuplicate(t *testing.T) {
	exec := &stubExecutor{err: &pgconn.PgError{Code: "23505"}}
	err := NewJobRepository(exec).Create(context.Background(), &domain.Job{ID: "dup"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestJobGetNotFound(t *testing.T) {
	exec := &stubExecutor{err: pgx.ErrNoRows}
	_, err := NewJobRepository(exec).Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobUpdateMissingRow(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 0")}
	err := NewJobRepository(exec).Update(context.Background(), &domain.Job{ID: "gone", Status: domain.JobStatusFailed})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountGetScansPlan(t *testing.T) {
	now := time.Now()
	exec := &stubExecutor{row: stubRow{scan: func(dest ...any) error {
		if len(dest) != 6 {
			return errors.New("unexpected column count")
		}
		*dest[0].(*string) = "acc"
		*dest[1].(*string) = "pro"
		*dest[2].(*int) = 0
		*dest[3].(*int) = 5
		*dest[4].(*time.Time) = now
		*dest[5].(*time.Time) = now
		return nil
	}}}
	account, err := NewAccountRepository(exec).Get(context.Background(), "acc")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if account.Plan != domain.PlanPro || account.MaxConcurrent != 5 {
		t.Fatalf("unexpected account %+v", account)
	}
}

func TestAccountSetPlanMissing(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 0")}
	err := NewAccountRepository(exec).SetPlan(context.Background(), "nobody", domain.PlanPro, domain.PlanLimits{MaxConcurrent: 5})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssetUpdateStatusArgs(t *testing.T) {
	exec := &stubExecutor{tag: pgconn.NewCommandTag("UPDATE 1")}
	if err := NewAssetRepository(exec).UpdateStatus(context.Background(), "asset-1", domain.AssetStatusInUse); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	if v, ok := exec.args[0][1].(string); !ok || v != "in_use" {
		t.Fatalf("expected in_use argument, got %T %v", exec.args[0][1], exec.args[0][1])
	}
}

func TestMigrateRunsSchema(t *testing.T) {
	exec := &stubExecutor{}
	if err := Migrate(context.Background(), exec); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	if len(exec.queries) != 1 || exec.queries[0] != sqlinline.QSchema {
		t.Fatalf("expected the schema query, got %v", exec.queries)
	}

	boom := errors.New("permission denied")
	if err := Migrate(context.Background(), &stubExecutor{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}
