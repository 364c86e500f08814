package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_turns_total",
			Help: "Total number of pipeline invocations by terminal state.",
		},
		[]string{"state"},
	)
	modelCallDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querychat_model_call_duration_ms",
			Help:    "Text generation call latency in milliseconds by pipeline stage.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 30000, 60000},
		},
		[]string{"stage", "result"},
	)
	executionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querychat_execution_outcomes_total",
			Help: "Total number of executed statements by outcome and statement kind.",
		},
		[]string{"outcome", "kind"},
	)
	executionDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querychat_execution_duration_ms",
			Help:    "Target database execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 15000},
		},
	)
	recordWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querychat_query_record_write_failures_total",
			Help: "Total number of query audit records that could not be persisted.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		turnsTotal,
		modelCallDurationMs,
		executionOutcomesTotal,
		executionDurationMs,
		recordWriteFailuresTotal,
	)
}

func ObserveTurn(state string) {
	turnsTotal.WithLabelValues(state).Inc()
}

func ObserveModelCall(stage string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	modelCallDurationMs.WithLabelValues(stage, result).Observe(float64(elapsed.Milliseconds()))
}

func ObserveExecution(outcome, kind string, elapsed time.Duration) {
	executionOutcomesTotal.WithLabelValues(outcome, kind).Inc()
	executionDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementRecordWriteFailure() {
	recordWriteFailuresTotal.Inc()
}
