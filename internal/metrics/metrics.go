// Package metrics exposes Prometheus collectors for every ingest-plane
// component. Registry registers the collectors and exposes them through
// Handler, which cmd/streamcored serves on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every Prometheus collector streamcore registers.
type Registry struct {
	// C2 connection pool
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal     prometheus.Counter
	PoolAcquireLatency   prometheus.Histogram
	PoolExhaustedTotal   prometheus.Counter

	// C1 rate limiter
	RateLimiterWaitSeconds prometheus.Histogram
	RateLimiterRejected    prometheus.Counter

	// C4 load balancer
	RebalancesTotal   prometheus.Counter
	MigrationsTotal   prometheus.Counter
	LoadSpread        prometheus.Gauge

	// C7 block tracker
	SlotGapsTotal           prometheus.Counter
	ForksTotal              prometheus.Counter
	CurrentSlot             prometheus.Gauge
	StatusRegressionsTotal  prometheus.Counter

	// C9/C10 job system
	JobQueueDepth    *prometheus.GaugeVec
	JobsCompleted    prometheus.Counter
	JobsFailed       prometheus.Counter
	WorkersBusy      prometheus.Gauge

	// C12 holder analysis
	HolderFetchLatency *prometheus.HistogramVec
	SnapshotsWritten   prometheus.Counter
}

// NewRegistry constructs and registers every collector against the default
// registerer.
func NewRegistry() *Registry {
	return &Registry{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_connections_active",
			Help: "Number of non-disconnected streaming connections held by the pool",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_connections_created_total",
			Help: "Total streaming connections ever created by the pool",
		}),
		PoolAcquireLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamcore_pool_acquire_seconds",
			Help:    "Time spent scoring and acquiring a connection",
			Buckets: prometheus.DefBuckets,
		}),
		PoolExhaustedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_pool_exhausted_total",
			Help: "Total acquire calls that failed with PoolExhausted",
		}),
		RateLimiterWaitSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamcore_ratelimiter_wait_seconds",
			Help:    "Time callers spent blocked in waitForSlot",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimiterRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_ratelimiter_rejected_total",
			Help: "Total canSubscribe checks that returned false",
		}),
		RebalancesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_rebalances_total",
			Help: "Total rebalance cycles that produced a migration plan",
		}),
		MigrationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_migrations_total",
			Help: "Total subscription-group migrations executed",
		}),
		LoadSpread: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_load_spread",
			Help: "maxLoad - minLoad across connections at last calculation",
		}),
		SlotGapsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_slot_gaps_total",
			Help: "Total slot gaps appended by the block tracker",
		}),
		ForksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_forks_total",
			Help: "Total fork events detected by the block tracker",
		}),
		CurrentSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_current_slot",
			Help: "Highest slot observed by the block tracker",
		}),
		StatusRegressionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_status_regressions_total",
			Help: "Total slot updates rejected for attempting to downgrade status",
		}),
		JobQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamcore_job_queue_depth",
			Help: "Jobs waiting, by priority; the \"delayed\" label counts delayed jobs",
		}, []string{"priority"}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_jobs_completed_total",
			Help: "Total jobs completed",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_jobs_failed_total",
			Help: "Total jobs terminally failed",
		}),
		WorkersBusy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_workers_busy",
			Help: "Number of worker-pool workers currently processing a job",
		}),
		HolderFetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamcore_holder_fetch_seconds",
			Help:    "Holder-source fetch latency by source tier",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		SnapshotsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "streamcore_snapshots_written_total",
			Help: "Total holder snapshots persisted (post hash-dedup)",
		}),
	}
}

// Handler returns an HTTP handler exposing the default Prometheus registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
