package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediaflow/internal/domain"
	"mediaflow/internal/middleware"
	"mediaflow/internal/retention"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanSetAndShow(t *testing.T) {
	store := []string{"--store.backend", "pebble", "--store.pebble_path", filepath.Join(t.TempDir(), "db")}

	out, err := run(t, append([]string{"plan", "set", "acct-1", "pro"}, store...)...)
	require.NoError(t, err)
	var acc domain.Account
	require.NoError(t, json.Unmarshal([]byte(out), &acc))
	require.Equal(t, domain.PlanPro, acc.Plan)
	require.Equal(t, 5, acc.MaxConcurrent)
	require.Equal(t, 0, acc.DailyQuota)

	_, err = run(t, append([]string{"plan", "set", "acct-1", "free"}, store...)...)
	require.NoError(t, err)
	out, err = run(t, append([]string{"plan", "show", "acct-1"}, store...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &acc))
	require.Equal(t, domain.PlanFree, acc.Plan)
	require.Equal(t, 3, acc.DailyQuota)

	_, err = run(t, append([]string{"plan", "set", "acct-1", "gold"}, store...)...)
	require.ErrorContains(t, err, "unsupported plan")

	out, err = run(t, append([]string{"jobs", "list", "acct-1", "-o", "json"}, store...)...)
	require.NoError(t, err)
	require.Equal(t, "[]", strings.TrimSpace(out))

	out, err = run(t, append([]string{"jobs", "list", "acct-1"}, store...)...)
	require.NoError(t, err)
	require.Equal(t, "No jobs found.", strings.TrimSpace(out))

	_, err = run(t, append([]string{"jobs", "list", "acct-1", "-o", "yaml"}, store...)...)
	require.ErrorContains(t, err, "unknown output")

	_, err = run(t, append([]string{"jobs", "status", "missing"}, store...)...)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweepDryRun(t *testing.T) {
	out, err := run(t, "sweep", "--dry-run",
		"--store.backend", "pebble", "--store.pebble_path", filepath.Join(t.TempDir(), "db"),
		"--blob.backend", "memory")
	require.NoError(t, err)
	var res retention.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, retention.Result{}, res)
}

func TestPostgresOnlyCommands(t *testing.T) {
	_, err := run(t, "migrate", "--store.backend", "memory")
	require.ErrorIs(t, err, errNeedsPostgres)
	_, err = run(t, "token", "set", "removebg", "secret", "--store.backend", "memory")
	require.ErrorIs(t, err, errNeedsPostgres)
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("MEDIAFLOW_AUTH_JWT_SECRET", "s3cret")
	out, err := run(t, "token", "issue", "acct-9", "--plan", "pro")
	require.NoError(t, err)

	claims, err := middleware.VerifyJWT("s3cret", strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "acct-9", claims.Sub)
	require.Equal(t, "pro", claims.Plan)
}

func TestRenderJobTable(t *testing.T) {
	var buf bytes.Buffer
	renderJobTable(&buf, []domain.JobView{{
		ID:           "job-1",
		Type:         domain.JobTypeTrim,
		Status:       domain.JobStatusFailed,
		Progress:     20,
		ErrorKind:    domain.ErrorKindTimeout,
		ErrorMessage: "deadline exceeded",
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	out := buf.String()
	for _, want := range []string{"JOB ID", "job-1", "failed", "20%", "2026-01-02T03:04:05Z", "timeout: deadline exceeded"} {
		require.Contains(t, out, want)
	}
}
