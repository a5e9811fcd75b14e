package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_started_total",
			Help: "Total number of deep research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_completed_total",
			Help: "Total number of deep research runs by outcome",
		},
		[]string{"outcome"}, // report, clarifying_question, problem, cancelled
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	RunCostCents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_cost_cents",
			Help:    "Total cost per run in cents",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// Research unit metrics
	UnitsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_units_in_flight",
			Help: "Research units currently executing",
		},
	)

	UnitsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_units_completed_total",
			Help: "Research units by terminal status",
		},
		[]string{"status"}, // completed, failed, aborted
	)

	UnitIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_unit_iterations",
			Help:    "Iterations performed per research unit",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		},
	)

	// Model call metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_model_calls_total",
			Help: "Model calls by function and status",
		},
		[]string{"function", "model", "status"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_model_call_duration_seconds",
			Help:    "Model call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"function", "model"},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_model_tokens_total",
			Help: "Tokens consumed by model and direction",
		},
		[]string{"model", "direction"}, // input, output, cached
	)

	StructuredRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_structured_output_retries_total",
			Help: "Structured output retries by function",
		},
		[]string{"function"},
	)

	// Search metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_search_requests_total",
			Help: "Search provider requests by provider and status",
		},
		[]string{"provider", "status"},
	)

	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_search_duration_seconds",
			Help:    "Search provider latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	SearchCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_search_cache_total",
			Help: "Search cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	// Pricing
	PricingMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_pricing_misses_total",
			Help: "Cost lookups without a configured price",
		},
		[]string{"reason"},
	)

	// Streaming
	StreamEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stream_events_total",
			Help: "Progress updates published by kind",
		},
		[]string{"kind"},
	)

	StreamEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stream_events_dropped_total",
			Help: "Progress updates dropped before delivery",
		},
		[]string{"reason"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deepresearch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// Documents
	DocumentsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_documents_stored_total",
			Help: "Report documents persisted by backend and status",
		},
		[]string{"backend", "status"},
	)
)
