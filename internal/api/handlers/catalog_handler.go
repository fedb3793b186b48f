package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/catalog"
	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/internal/vector/milvus"
	"github.com/medcode-agent/backend/pkg/logger"
)

type CatalogHandler struct {
	loader      *catalog.Loader
	collections map[coding.CodeSpace]string
}

func NewCatalogHandler(loader *catalog.Loader, collections map[coding.CodeSpace]string) *CatalogHandler {
	return &CatalogHandler{
		loader:      loader,
		collections: collections,
	}
}

// HandleLoad ingests reference entries into one code space's collection.
// The space path parameter is icd, cpt or hcpcs.
func (h *CatalogHandler) HandleLoad(c *fiber.Ctx) error {
	space := coding.CodeSpace(c.Params("space"))
	collection, ok := h.collections[space]
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown code space",
		})
	}

	var req struct {
		Entries []milvus.CatalogEntry `json:"entries"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse catalog request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(req.Entries) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Entries are required",
		})
	}

	loaded, err := h.loader.LoadEntries(c.Context(), collection, req.Entries)
	if err != nil {
		logger.Error("Catalog load failed",
			zap.String("collection", collection),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Failed to load catalog entries",
			"loaded": loaded,
		})
	}

	return c.JSON(fiber.Map{
		"space":      string(space),
		"collection": collection,
		"loaded":     loaded,
	})
}
