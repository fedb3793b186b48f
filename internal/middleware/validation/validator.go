package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/pkg/logger"
)

type Config struct {
	MinDocumentLength   int
	MaxDocumentLength   int
	AllowedContentTypes []string
}

// Middleware validates coding requests before they reach the pipeline.
// Clinical notes legitimately contain words like "insert" and "drop", so no
// keyword blocklists are applied; only shape and size are checked here.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MinDocumentLength == 0 {
		cfg.MinDocumentLength = 10
	}
	if cfg.MaxDocumentLength == 0 {
		cfg.MaxDocumentLength = 100000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if strings.Contains(c.Path(), "/api/v1/coding/process") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			// A request carries either plain text or an HTML document.
			text, _ := req["text"].(string)
			html, _ := req["html"].(string)
			document := text
			if strings.TrimSpace(document) == "" {
				document = html
			}
			if strings.TrimSpace(document) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Document text or html is required",
				})
			}

			if len(strings.TrimSpace(document)) < cfg.MinDocumentLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Document text is too short to code",
				})
			}

			if len(document) > cfg.MaxDocumentLength {
				logger.Warn("Oversized coding request rejected",
					zap.String("ip", c.IP()),
					zap.Int("length", len(document)),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document text exceeds maximum length",
				})
			}
		}

		return c.Next()
	}
}
