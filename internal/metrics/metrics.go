package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// UploadsTotal counts completed file uploads.
	UploadsTotal prometheus.Counter
	// QuotaRejections counts uploads rejected by the quota ledger.
	QuotaRejections prometheus.Counter
	// SweepRuns counts reconciliation sweep passes.
	SweepRuns prometheus.Counter
	// SweepReservationsReleased counts expired reservations dropped by the sweep.
	SweepReservationsReleased prometheus.Counter
	// SweepBucketsResumed counts interrupted bucket deletions the sweep finished.
	SweepBucketsResumed prometheus.Counter
	// SweepOrphansRemoved counts orphan blobs removed by the sweep.
	SweepOrphansRemoved prometheus.Counter
	// SweepFilesFlagged counts file records flagged for a missing blob.
	SweepFilesFlagged prometheus.Counter
)

// InitMetrics registers the collectors. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucketd_http_requests_total",
			Help: "HTTP requests processed, partitioned by method, route, and status.",
		}, []string{"method", "route", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bucketd_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		UploadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketd_uploads_total",
			Help: "Completed file uploads.",
		})
		QuotaRejections = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketd_quota_rejections_total",
			Help: "Uploads rejected because the reservation would breach the limit.",
		})
		SweepRuns = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketd_sweep_runs_total",
			Help: "Reconciliation sweep passes.",
		})
		SweepReservationsReleased = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketd_sweep_reservations_released_total",
			Help: "Expired quota reservations released by the sweep.",
		})
		SweepBucketsResumed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketd_sweep_buckets_resumed_total",
			Help: "Interrupted bucket deletions finished by the sweep.",
		})
		SweepOrphansRemoved = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketd_sweep_orphan_blobs_removed_total",
			Help: "Orphan blobs removed by the sweep.",
		})
		SweepFilesFlagged = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketd_sweep_files_flagged_total",
			Help: "File records flagged inconsistent for a missing blob.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			UploadsTotal,
			QuotaRejections,
			SweepRuns,
			SweepReservationsReleased,
			SweepBucketsResumed,
			SweepOrphansRemoved,
			SweepFilesFlagged,
		)
	})
}

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	InitMetrics()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	InitMetrics()
	router.GET(path, gin.WrapH(promhttp.Handler()))
}
