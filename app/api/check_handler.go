package api

import (
	"github.com/gofiber/fiber/v2"

	"docqa/index"
)

type CheckHandler struct {
	backend index.Backend
}

func NewCheckHandler(backend index.Backend) *CheckHandler {
	return &CheckHandler{
		backend: backend,
	}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady reports whether the index accepts queries.
func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	if r, ok := h.backend.(index.Readier); ok && !r.Ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"result": "building"})
	}

	n, err := h.backend.Len(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"result": "ready",
		"chunks": n,
		"model":  h.backend.EmbeddingModel(),
	})
}
