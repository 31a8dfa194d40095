package api

import (
	"github.com/gofiber/fiber/v2"

	"docqa/config"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		cfg: cfg,
	}
}

// HandleGetConfig shows the effective pipeline settings. Credentials are not serialized.
func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	return c.JSON(h.cfg)
}
