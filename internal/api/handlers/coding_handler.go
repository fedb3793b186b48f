package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/internal/document"
	"github.com/medcode-agent/backend/internal/judge"
	"github.com/medcode-agent/backend/internal/llm"
	"github.com/medcode-agent/backend/internal/metrics"
	"github.com/medcode-agent/backend/internal/pipeline"
	"github.com/medcode-agent/backend/pkg/logger"
	"github.com/medcode-agent/backend/pkg/utils"
)

// ResponseCache memoizes completed responses keyed by document hash. Cache
// failures are non-fatal; the run simply recomputes.
type ResponseCache interface {
	GetResponse(ctx context.Context, docHash string, response interface{}) (bool, error)
	SetResponse(ctx context.Context, docHash string, response interface{}, ttl time.Duration) error
}

type CodingHandler struct {
	pipeline *pipeline.Service
	cache    ResponseCache
	cacheTTL time.Duration
}

func NewCodingHandler(p *pipeline.Service, cache ResponseCache, cacheTTL time.Duration) *CodingHandler {
	return &CodingHandler{
		pipeline: p,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

type codingResponse struct {
	Success         bool                   `json:"success"`
	TraceID         string                 `json:"trace_id,omitempty"`
	CodingResult    *coding.CodingResult   `json:"coding_result,omitempty"`
	Evaluation      *judge.JudgementRecord `json:"evaluation,omitempty"`
	TokenUsage      *llm.Usage             `json:"token_usage,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ErrorKind       string                 `json:"error_kind,omitempty"`
	EvaluationError string                 `json:"evaluation_error,omitempty"`
	Cached          bool                   `json:"cached,omitempty"`
}

// HandleProcess runs one clinical document through the coding pipeline.
func (h *CodingHandler) HandleProcess(c *fiber.Ctx) error {
	var req struct {
		Text              string `json:"text"`
		HTML              string `json:"html"`
		IncludeEvaluation bool   `json:"include_evaluation"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Text == "" && req.HTML == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Document text is required",
		})
	}

	var doc *document.Document
	var err error
	if req.HTML != "" {
		doc, err = document.FromHTML(req.HTML)
	} else {
		doc, err = document.FromText(req.Text)
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(codingResponse{
			Success:   false,
			Error:     err.Error(),
			ErrorKind: pipeline.ErrorKind(err),
		})
	}

	cacheKey := h.cacheKey(doc.Normalized, req.IncludeEvaluation)
	if h.cache != nil {
		var cached codingResponse
		hit, err := h.cache.GetResponse(c.Context(), cacheKey, &cached)
		if err != nil {
			logger.Warn("Response cache read failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("response").Inc()
			cached.Cached = true
			return c.JSON(cached)
		}
		metrics.CacheMisses.WithLabelValues("response").Inc()
	}

	run, err := h.pipeline.Process(c.Context(), doc.Normalized, req.IncludeEvaluation)
	if err != nil {
		logger.Error("Coding run failed",
			zap.String("trace_id", run.TraceID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(codingResponse{
			Success:   false,
			TraceID:   run.TraceID,
			Error:     err.Error(),
			ErrorKind: pipeline.ErrorKind(err),
		})
	}

	resp := codingResponse{
		Success:      true,
		TraceID:      run.TraceID,
		CodingResult: run.Result,
		Evaluation:   run.Evaluation,
		TokenUsage:   &run.TokenUsage,
	}
	if run.EvaluationErr != nil {
		resp.EvaluationError = run.EvaluationErr.Error()
	}

	if h.cache != nil && run.EvaluationErr == nil {
		if err := h.cache.SetResponse(c.Context(), cacheKey, resp, h.cacheTTL); err != nil {
			logger.Warn("Response cache write failed", zap.Error(err))
		}
	}

	return c.JSON(resp)
}

func (h *CodingHandler) cacheKey(normalizedText string, includeEvaluation bool) string {
	key := utils.HashString(normalizedText)
	if includeEvaluation {
		return key + ":judged"
	}
	return key
}
