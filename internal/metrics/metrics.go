package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for predictions and explanations
type Metrics struct {
	// Prediction path
	Predictions   *prometheus.CounterVec
	PredictErrors *prometheus.CounterVec
	PredLogErrors prometheus.Counter
	RateLimited   prometheus.Counter

	// Explanations
	Explanations        *prometheus.CounterVec
	ExplainLatency      *prometheus.HistogramVec
	StrategyAttempts    *prometheus.CounterVec
	MappingSources      *prometheus.CounterVec
	BackgroundFallbacks prometheus.Counter
}

// New creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer in the server, a fresh registry in tests).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthxai_predictions_total",
				Help: "Predictions served, by model",
			},
			[]string{"model"},
		),
		PredictErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthxai_predict_errors_total",
				Help: "Prediction failures, by model",
			},
			[]string{"model"},
		),
		PredLogErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthxai_predlog_errors_total",
			Help: "Prediction log writes that failed",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthxai_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),

		Explanations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthxai_explanations_total",
				Help: "Explanations produced, by method (additive|local) and outcome (ok|error)",
			},
			[]string{"method", "outcome"},
		),
		ExplainLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "healthxai_explain_latency_ms",
				Help:    "Explanation latency in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"method"},
		),
		StrategyAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthxai_strategy_attempts_total",
				Help: "Additive strategy attempts, by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		MappingSources: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthxai_feature_mapping_total",
				Help: "Feature mappings built, by the strategy that produced them",
			},
			[]string{"source"},
		),
		BackgroundFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthxai_background_fallbacks_total",
			Help: "Explanations that used the replicated query row as background",
		}),
	}
}
