package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"stockcast-api/internal/services"
)

const (
	ServiceName = "stockcast-api"
	Version     = "1.0.0"
)

type HealthHandler struct {
	startTime time.Time
	cache     *services.CacheService
	providers []string
}

func NewHealthHandler(cache *services.CacheService, providers []string) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		cache:     cache,
		providers: providers,
	}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": ServiceName,
		"version": Version,
		"status":  "running",
	})
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   ServiceName,
		"version":   Version,
		"uptime":    time.Since(h.startTime).String(),
		"time":      time.Now().UTC(),
		"providers": h.providers,
	})
}

// Ready handles GET /health/ready
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := h.cache.Check(ctx)

	status, code := "ready", fiber.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status, code = "degraded", fiber.StatusServiceUnavailable
			break
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}
