// Package metrics exposes job lifecycle counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaflow/internal/domain"
	"mediaflow/internal/jobs"
)

const namespace = "mediaflow"

var _ jobs.Observer = (*Collector)(nil)

// Collector records lifecycle events reported by jobs.Manager.
type Collector struct {
	registry *prometheus.Registry

	admitted *prometheus.CounterVec
	denied   *prometheus.CounterVec
	waited   *prometheus.HistogramVec
	finished *prometheus.CounterVec
	ran      *prometheus.HistogramVec
	requeued *prometheus.CounterVec
}

// New registers the collectors on a private registry. depth reports the
// number of queued jobs at scrape time and may be nil.
func New(depth func() int) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_admitted_total",
			Help: "Jobs accepted by admission control.",
		}, []string{"type", "priority"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_denied_total",
			Help: "Submissions rejected by the quota ledger.",
		}, []string{"reason"}),
		waited: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_queue_wait_seconds",
			Help:    "Time from creation to dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_finished_total",
			Help: "Jobs that reached a terminal state.",
		}, []string{"type", "status", "error_kind"}),
		ran: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_run_seconds",
			Help:    "Running time of jobs that reached a terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"type"}),
		requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_requeued_total",
			Help: "Stalled jobs returned to the queue.",
		}, []string{"type"}),
	}
	c.registry.MustRegister(
		c.admitted, c.denied, c.waited, c.finished, c.ran, c.requeued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if depth != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Jobs waiting for a worker.",
		}, func() float64 { return float64(depth()) }))
	}
	return c
}

func (c *Collector) Admitted(t domain.JobType, p domain.Priority) {
	c.admitted.WithLabelValues(string(t), strconv.Itoa(int(p))).Inc()
}

func (c *Collector) Denied(reason domain.QuotaReason) {
	c.denied.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) Started(t domain.JobType, waited time.Duration) {
	c.waited.WithLabelValues(string(t)).Observe(waited.Seconds())
}

func (c *Collector) Finished(t domain.JobType, status domain.JobStatus, kind domain.ErrorKind, ran time.Duration) {
	c.finished.WithLabelValues(string(t), string(status), string(kind)).Inc()
	if ran > 0 {
		c.ran.WithLabelValues(string(t)).Observe(ran.Seconds())
	}
}

func (c *Collector) Requeued(t domain.JobType) {
	c.requeued.WithLabelValues(string(t)).Inc()
}

// Handler serves the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
