package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insightsboard_stage_duration_seconds",
			Help:    "Duration of each dashboard pipeline stage in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	DashboardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsboard_dashboards_total",
			Help: "Total number of dashboard requests by outcome",
		},
		[]string{"status"},
	)

	DataLoadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsboard_data_load_failures_total",
			Help: "Data loads that produced no dataset",
		},
		[]string{"source"},
	)

	DatasetRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insightsboard_dataset_rows",
			Help:    "Rows per loaded dataset",
			Buckets: prometheus.ExponentialBuckets(1, 10, 7),
		},
	)

	InsightLines = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insightsboard_insight_lines",
			Help:    "Lines of insight text returned by the model",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)

	ChartsRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsboard_charts_rendered_total",
			Help: "Charts rendered by kind",
		},
		[]string{"kind"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsboard_llm_requests_total",
			Help: "Calls to the text-generation endpoint",
		},
		[]string{"status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsboard_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insightsboard_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsboard_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightsboard_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	WebSocketSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "insightsboard_websocket_sessions",
			Help: "Open dashboard streaming sessions",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(DashboardsTotal)
		prometheus.MustRegister(DataLoadFailures)
		prometheus.MustRegister(DatasetRows)
		prometheus.MustRegister(InsightLines)
		prometheus.MustRegister(ChartsRendered)
		prometheus.MustRegister(LLMRequests)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CircuitState)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(WebSocketSessions)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
