package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/storage/models"
	"github.com/medcode-agent/backend/pkg/logger"
)

// AuditStore reads back persisted run snapshots and their scores.
type AuditStore interface {
	GetRun(ctx context.Context, traceID string) (*models.RunRecord, error)
	ListScores(ctx context.Context, traceID string) ([]models.ScoreRecord, error)
}

type AuditHandler struct {
	store AuditStore
}

func NewAuditHandler(store AuditStore) *AuditHandler {
	return &AuditHandler{store: store}
}

// HandleGetRun returns the stored audit snapshot and evaluation scores for
// one trace id.
func (h *AuditHandler) HandleGetRun(c *fiber.Ctx) error {
	traceID := c.Params("trace_id")
	if traceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Trace id is required",
		})
	}

	run, err := h.store.GetRun(c.Context(), traceID)
	if err != nil {
		logger.Error("Failed to read run snapshot",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read run",
		})
	}
	if run == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}

	scores, err := h.store.ListScores(c.Context(), traceID)
	if err != nil {
		logger.Error("Failed to read run scores",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read scores",
		})
	}

	return c.JSON(fiber.Map{
		"run":    run,
		"scores": scores,
	})
}
