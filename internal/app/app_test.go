package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/domain"
	"mediaflow/internal/infra"
	"mediaflow/internal/jobs"
	"mediaflow/internal/processing"
)

func testConfig(t *testing.T) *infra.Config {
	t.Helper()
	cfg := infra.DefaultConfig()
	cfg.HTTP.Port = "0"
	cfg.HTTP.ShutdownTimeout = time.Second
	cfg.Store.Backend = "memory"
	cfg.Blob.Backend = "memory"
	cfg.Worker.Size = 2
	return &cfg
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "mysql"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unknown store backend")

	cfg = testConfig(t)
	cfg.Blob.Backend = "ftp"
	_, err = New(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unknown blob backend")
}

func TestPlanLimitsFromConfig(t *testing.T) {
	limits := planLimits(infra.QuotaConfig{
		Free: infra.PlanQuota{Daily: 3, Concurrent: 1},
		Pro:  infra.PlanQuota{Daily: 0, Concurrent: 5},
	})
	require.Equal(t, domain.PlanLimits{DailyQuota: 3, MaxConcurrent: 1}, limits[domain.PlanFree])
	require.Equal(t, domain.PlanLimits{DailyQuota: 0, MaxConcurrent: 5}, limits[domain.PlanPro])
}

func TestHandlerServesHealth(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, a.Tokens)
}

func TestRunProcessesJobsUntilCancelled(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.Registry = processing.NewRegistry()
	a.Registry.Register(domain.JobTypeConvert, func(ctx context.Context, in processing.Input) (processing.Output, error) {
		return processing.Output{Data: []byte("converted"), MIME: "image/png", Ext: ".png"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	bg := context.Background()
	_, err = a.Jobs.EnsureAccount(bg, "acct", domain.PlanPro)
	require.NoError(t, err)
	asset, err := a.Jobs.Upload(bg, jobs.UploadRequest{AccountID: "acct", Filename: "photo.png", Data: []byte("png")})
	require.NoError(t, err)
	params, err := domain.DecodeParameters(domain.JobTypeConvert, []byte(`{"output_format":"png"}`))
	require.NoError(t, err)
	job, err := a.Jobs.Create(bg, jobs.CreateRequest{
		AccountID:     "acct",
		InputAssetIDs: []string{asset.ID},
		Type:          domain.JobTypeConvert,
		Params:        params,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := a.Jobs.Status(bg, job.ID)
		return err == nil && v.Status == domain.JobStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
