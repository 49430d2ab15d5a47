package telemetry

import (
	"net/http"
	"time"

	apperrors "github.com/ricesearch/receval/internal/pkg/errors"
)

// Metrics holds the service metrics.
type Metrics struct {
	Evaluations        *Counter
	EvaluationErrors   *CounterVec
	EvaluationDuration *Histogram
	RateLimited        *Counter

	startTime time.Time
}

// New creates the service metrics.
func New() *Metrics {
	return &Metrics{
		Evaluations: NewCounter(
			"receval_evaluations_total",
			"Total number of evaluation requests",
			nil,
		),
		EvaluationErrors: NewCounterVec(
			"receval_evaluation_errors_total",
			"Total number of failed evaluation requests by error code",
			[]string{"code"},
		),
		EvaluationDuration: NewHistogram(
			"receval_evaluation_duration_seconds",
			"Evaluation request duration in seconds",
			DefaultDurationBuckets,
		),
		RateLimited: NewCounter(
			"receval_rate_limited_total",
			"Total number of requests rejected by the rate limiter",
			nil,
		),
		startTime: time.Now(),
	}
}

// ObserveEvaluation records the outcome of one evaluation request.
func (m *Metrics) ObserveEvaluation(elapsed time.Duration, err error) {
	m.Evaluations.Inc()
	m.EvaluationDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.EvaluationErrors.WithLabels(apperrors.CodeOf(err)).Inc()
	}
}

// ObserveRateLimited records a rejected request.
func (m *Metrics) ObserveRateLimited(string) {
	m.RateLimited.Inc()
}

// Uptime returns the time since the metrics were created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Handler serves the metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(m.PrometheusFormat()))
	})
}
