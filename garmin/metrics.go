package garmin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts fetch attempts and session refreshes. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Attempts  *prometheus.CounterVec
	Refreshes prometheus.Counter
}

// NewMetrics registers the client collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garminconnect_fetch_attempts_total",
				Help: "Total number of HTTP attempts by resource and outcome",
			},
			[]string{"resource", "outcome"},
		),
		Refreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "garminconnect_session_refreshes_total",
				Help: "Total number of re-authentications triggered by rejected sessions",
			},
		),
	}
}

func (m *Metrics) observeAttempt(resource string, outcome Outcome) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(resource, outcome.String()).Inc()
}

func (m *Metrics) observeRefresh() {
	if m == nil {
		return
	}
	m.Refreshes.Inc()
}
