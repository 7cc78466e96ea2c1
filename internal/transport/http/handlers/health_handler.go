package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/stats"
)

// HealthHandler reports liveness, the host's load and, when a scheduler runs
// in this process, its pool counters.
type HealthHandler struct {
	stats func() interface{}
}

func NewHealthHandler(source func() interface{}) *HealthHandler {
	return &HealthHandler{stats: source}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	body := fiber.Map{
		"status": "ok",
		"host":   stats.Collect(),
	}
	if h.stats != nil {
		body["scheduler"] = h.stats()
	}
	return c.JSON(body)
}
