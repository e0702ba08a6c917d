package ops

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hpungsan/claimdesk/internal/errors"
)

var (
	proposalsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimdesk_proposals_generated_total",
			Help: "Proposals returned by chat and generate-summary.",
		},
		[]string{"operation", "type"},
	)

	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimdesk_generation_duration_seconds",
			Help:    "Time spent in the proposal generator.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation", "generator", "outcome"},
	)

	acceptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimdesk_accepts_total",
			Help: "Accept attempts by proposal type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	artifactCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimdesk_artifact_cache_hits_total",
		Help: "Artifact listing cache hits.",
	})
	artifactCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimdesk_artifact_cache_misses_total",
		Help: "Artifact listing cache misses.",
	})
)

// outcome labels a result for metrics: "ok" or the lowercased error code.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(errors.As(err).Code))
}

func observeGeneration(operation, generator string, start time.Time, err error) {
	generationDuration.WithLabelValues(operation, generator, outcome(err)).Observe(time.Since(start).Seconds())
}
