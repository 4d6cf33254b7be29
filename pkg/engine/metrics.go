package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	challengesIssued prometheus.Counter
	responses        *prometheus.CounterVec
	flags            *prometheus.CounterVec
	riskScores       prometheus.Histogram
}

var sharedMetrics = &engineMetrics{
	challengesIssued: promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_challenges_issued_total",
		Help: "Number of challenges issued.",
	}),
	responses: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_responses_total",
		Help: "Number of responses processed, by outcome.",
	}, []string{"outcome"}),
	flags: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_flags_total",
		Help: "Number of anti-proxy flags tripped, by flag.",
	}, []string{"flag"}),
	riskScores: promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presence_risk_score",
		Help:    "Distribution of risk scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	}),
}

// newEngineMetrics returns the process-wide metric set. Prometheus collectors
// are global; registering per-engine would panic on duplicate names.
func newEngineMetrics() *engineMetrics {
	return sharedMetrics
}

func (m *engineMetrics) observe(record *AttendanceRecord) {
	m.responses.WithLabelValues(string(record.Outcome)).Inc()
	for _, name := range record.Flags.Tripped() {
		m.flags.WithLabelValues(name).Inc()
	}
	m.riskScores.Observe(float64(record.RiskScore))
}
