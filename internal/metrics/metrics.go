package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState tracks the current state per breaker (0=closed, 1=open, 2=half-open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reportpipe_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	// BreakerTrips tracks transitions into the open state per breaker
	BreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportpipe_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"breaker"},
	)

	// BreakerRequests tracks guarded calls per breaker and outcome
	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportpipe_breaker_requests_total",
			Help: "Total number of calls through a circuit breaker",
		},
		[]string{"breaker", "outcome"},
	)

	// CostEventsRecorded tracks cost events per type and provider
	CostEventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportpipe_cost_events_total",
			Help: "Total number of cost events recorded",
		},
		[]string{"event_type", "provider"},
	)

	// CostRecorded tracks total spend recorded per event type
	CostRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportpipe_cost_recorded_total",
			Help: "Total cost recorded in currency units",
		},
		[]string{"event_type"},
	)

	// JobsCancelledOverBudget tracks jobs cancelled by the budget governor
	JobsCancelledOverBudget = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportpipe_jobs_cancelled_over_budget_total",
			Help: "Total number of jobs cancelled for exceeding budget policy",
		},
	)

	// PipelineStageDuration tracks stage execution time
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportpipe_pipeline_stage_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// DBConnectionPoolUsage tracks database connection pool utilization
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportpipe_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
