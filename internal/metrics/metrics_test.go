package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediaflow/internal/domain"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorExposesLifecycle(t *testing.T) {
	depth := 4
	c := New(func() int { return depth })

	c.Admitted(domain.JobTypeConvert, domain.PriorityPro)
	c.Admitted(domain.JobTypeConvert, domain.PriorityPro)
	c.Denied(domain.ReasonDailyQuota)
	c.Started(domain.JobTypeConvert, 200*time.Millisecond)
	c.Finished(domain.JobTypeConvert, domain.JobStatusFailed, domain.ErrorKindTimeout, time.Second)
	c.Requeued(domain.JobTypeTrim)

	body := scrape(t, c)
	require.Contains(t, body, `mediaflow_jobs_admitted_total{priority="10",type="convert"} 2`)
	require.Contains(t, body, `mediaflow_jobs_denied_total{reason="`+string(domain.ReasonDailyQuota)+`"} 1`)
	require.Contains(t, body, `mediaflow_jobs_finished_total{error_kind="timeout",status="failed",type="convert"} 1`)
	require.Contains(t, body, `mediaflow_jobs_requeued_total{type="trim"} 1`)
	require.Contains(t, body, `mediaflow_job_queue_wait_seconds_count{type="convert"} 1`)
	require.Contains(t, body, "mediaflow_queue_depth 4")

	depth = 1
	require.Contains(t, scrape(t, c), "mediaflow_queue_depth 1")
}
