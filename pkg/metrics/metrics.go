// Package metrics provides Prometheus metrics for the specimen processor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTotal tracks processed batches by outcome
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specimen_processor",
			Subsystem: "batch",
			Name:      "batches_total",
			Help:      "Total number of processed batches by outcome",
		},
		[]string{"outcome"},
	)

	// BatchDuration tracks end-to-end batch processing duration in seconds
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "specimen_processor",
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "End-to-end batch processing duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// EntitiesProcessedTotal tracks classified entities by kind and classification
	EntitiesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specimen_processor",
			Subsystem: "batch",
			Name:      "entities_total",
			Help:      "Total number of classified entities by kind and classification",
		},
		[]string{"kind", "classification"},
	)

	// DeadLettersTotal tracks dead-lettered events by reason
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specimen_processor",
			Subsystem: "broker",
			Name:      "dead_letters_total",
			Help:      "Total number of dead-lettered events by reason",
		},
		[]string{"reason"},
	)

	// RollbacksTotal tracks compensation runs by failure class
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specimen_processor",
			Subsystem: "saga",
			Name:      "rollbacks_total",
			Help:      "Total number of compensation runs by failure class",
		},
		[]string{"kind", "failure"},
	)

	// PidRequestsTotal tracks identifier service round trips
	PidRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specimen_processor",
			Subsystem: "pid",
			Name:      "requests_total",
			Help:      "Total number of identifier service round trips",
		},
		[]string{"operation", "status"},
	)

	// MasJobsScheduledTotal tracks scheduled enrichment jobs
	MasJobsScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "specimen_processor",
			Subsystem: "mas",
			Name:      "jobs_scheduled_total",
			Help:      "Total number of scheduled enrichment jobs",
		},
	)
)
