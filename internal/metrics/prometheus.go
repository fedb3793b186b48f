package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medcode_stage_duration_seconds",
			Help:    "Pipeline stage processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcode_runs_total",
			Help: "Total number of coding runs processed",
		},
		[]string{"status"},
	)

	CodesAssigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcode_codes_assigned_total",
			Help: "Total billing codes assigned",
		},
		[]string{"space"},
	)

	RetrievalCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medcode_retrieval_candidates_count",
			Help:    "Number of reference candidates returned per retrieval call",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"space"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcode_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"stage", "type"},
	)

	JudgeScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medcode_judge_overall_score",
			Help:    "Overall judge scores per evaluated run",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ComplianceRisk = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcode_compliance_risk_total",
			Help: "Evaluated runs by compliance risk level",
		},
		[]string{"risk"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcode_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcode_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CatalogEntriesLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcode_catalog_entries_loaded_total",
			Help: "Total reference catalog entries ingested",
		},
		[]string{"catalog"},
	)
)

func Init() {
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(CodesAssigned)
	prometheus.MustRegister(RetrievalCandidates)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(JudgeScore)
	prometheus.MustRegister(ComplianceRisk)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CatalogEntriesLoaded)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
