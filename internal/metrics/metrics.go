// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ticks counts tick executions by result: predicted, skipped, error.
	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predictor",
		Name:      "ticks_total",
		Help:      "Tick executions by result.",
	}, []string{"result"})

	// TickSkips breaks skipped ticks down by the skip reason.
	TickSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predictor",
		Name:      "tick_skips_total",
		Help:      "Skipped ticks by reason.",
	}, []string{"reason"})

	// TickDuration observes wall time per tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "predictor",
		Name:      "tick_duration_seconds",
		Help:      "Tick wall time.",
		Buckets:   prometheus.DefBuckets,
	})

	// Predictions counts persisted predictions by source (local, ai).
	Predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predictor",
		Name:      "predictions_total",
		Help:      "Persisted predictions by source.",
	}, []string{"source"})

	// Escalations counts admission decisions that selected the external
	// model, by trigger reason.
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predictor",
		Name:      "ai_escalations_total",
		Help:      "Admission decisions escalated to the external model, by trigger.",
	}, []string{"trigger"})

	// Fallbacks counts escalations that fell back to the local path after
	// an inference failure.
	Fallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "predictor",
		Name:      "ai_fallbacks_total",
		Help:      "Escalated ticks that fell back to the local strategy.",
	})

	// Evaluations counts prediction evaluations by result (correct, wrong).
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predictor",
		Name:      "evaluations_total",
		Help:      "Evaluated predictions by result.",
	}, []string{"result"})

	// Pauses counts windows paused after a wrong streak.
	Pauses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "predictor",
		Name:      "window_pauses_total",
		Help:      "Windows paused after a wrong streak.",
	})
)
