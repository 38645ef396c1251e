// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperPagesTotal       prometheus.Counter
	scraperListingsSaved    prometheus.Counter
	scraperFetchErrors      *prometheus.CounterVec
	scraperSessionRotations prometheus.Counter
	scraperRunsTotal        *prometheus.CounterVec
	scraperRunSeconds       prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_pages_processed_total",
				Help: "Total number of catalog pages processed.",
			},
		)

		scraperListingsSaved = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_listings_saved_total",
				Help: "Total number of new listings persisted.",
			},
		)

		scraperFetchErrors = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_errors_total",
				Help: "Total fetch/render failures, labeled by pipeline stage.",
			},
			[]string{"stage"},
		)

		scraperSessionRotations = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_session_rotations_total",
				Help: "Total browser identity rotations performed.",
			},
		)

		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total crawl runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		scraperRunSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_run_duration_seconds",
				Help:    "Histogram of whole-run durations.",
				Buckets: []float64{30, 60, 120, 300, 600, 1800, 3600},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the processed-pages counter.
func ObservePage() {
	Init()
	scraperPagesTotal.Inc()
}

// ObserveListingSaved increments the saved-listings counter.
func ObserveListingSaved() {
	Init()
	scraperListingsSaved.Inc()
}

// ObserveFetchError increments the fetch error counter for the given stage.
func ObserveFetchError(stage string) {
	Init()
	scraperFetchErrors.WithLabelValues(stage).Inc()
}

// ObserveSessionRotation increments the rotation counter.
func ObserveSessionRotation() {
	Init()
	scraperSessionRotations.Inc()
}

// ObserveRun records the outcome and duration of one crawl run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	scraperRunsTotal.WithLabelValues(status).Inc()
	scraperRunSeconds.Observe(duration.Seconds())
}
