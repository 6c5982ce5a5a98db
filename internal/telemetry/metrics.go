package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arbfinder"

// metrics is the process-wide Prometheus metric set for the refresh
// pipeline. Registered once against prometheus.DefaultRegisterer so
// cmd/server only has to mount promhttp.Handler().
var metrics = struct {
	EventsFetched       prometheus.Counter
	OpportunitiesFound  prometheus.Counter
	RefreshRuns         *prometheus.CounterVec
	RefreshDuration     prometheus.Histogram
	SportFetchErrors    *prometheus.CounterVec
	StoreErrors         prometheus.Counter
	QuotaRemaining      prometheus.Gauge
	RefreshInFlight     prometheus.Gauge
}{
	EventsFetched: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_fetched_total",
		Help: "Total normalised events parsed from the upstream odds feed.",
	}),
	OpportunitiesFound: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "opportunities_found_total",
		Help: "Total arbitrage opportunities emitted by the detector.",
	}),
	RefreshRuns: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "refresh_runs_total",
		Help: "Refresh cycles by terminal status.",
	}, []string{"status"}),
	RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "refresh_duration_seconds",
		Help:    "Wall-clock duration of a full refresh cycle.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}),
	SportFetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "sport_fetch_errors_total",
		Help: "Per-sport fetch errors by error kind.",
	}, []string{"sport", "kind"}),
	StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "store_errors_total",
		Help: "Store write failures (latest-events replace or opportunity append).",
	}),
	QuotaRemaining: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "quota_requests_remaining",
		Help: "Most recently observed upstream quota remaining.",
	}),
	RefreshInFlight: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "refresh_in_flight",
		Help: "1 while a refresh is running, 0 when idle.",
	}),
}

// Metrics is the package-level handle used by other packages to record
// observations without importing prometheus directly.
var Metrics = metricsRecorder{}

type metricsRecorder struct{}

func (metricsRecorder) EventsFetched(n int) { metrics.EventsFetched.Add(float64(n)) }

func (metricsRecorder) OpportunitiesFound(n int) { metrics.OpportunitiesFound.Add(float64(n)) }

func (metricsRecorder) RefreshCompleted(status string, d time.Duration) {
	metrics.RefreshRuns.WithLabelValues(status).Inc()
	metrics.RefreshDuration.Observe(d.Seconds())
}

func (metricsRecorder) SportFetchError(sport, kind string) {
	metrics.SportFetchErrors.WithLabelValues(sport, kind).Inc()
}

func (metricsRecorder) StoreError() { metrics.StoreErrors.Inc() }

func (metricsRecorder) QuotaRemaining(n int) { metrics.QuotaRemaining.Set(float64(n)) }

func (metricsRecorder) RefreshInFlight(inFlight bool) {
	if inFlight {
		metrics.RefreshInFlight.Set(1)
		return
	}
	metrics.RefreshInFlight.Set(0)
}
