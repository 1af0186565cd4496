package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/utils"
)

// PresenceLookup answers whether a user is online and when they were last seen.
type PresenceLookup interface {
	Presence(ctx context.Context, userID string) (dto.PresenceResponse, error)
}

// PresenceHandler serves presence queries.
type PresenceHandler struct {
	lookup PresenceLookup
	logger zerolog.Logger
}

// NewPresenceHandler constructs a presence handler.
func NewPresenceHandler(lookup PresenceLookup, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{
		lookup: lookup,
		logger: logger.With().Str("component", "presence_handler").Logger(),
	}
}

// Register binds the presence routes.
func (h *PresenceHandler) Register(router fiber.Router) {
	router.Get("/:userId", h.get)
}

func (h *PresenceHandler) get(c *fiber.Ctx) error {
	target := strings.TrimSpace(c.Params("userId"))
	if target == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "user id required")
	}

	presence, err := h.lookup.Presence(requestContext(c), target)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "presence", presence)
}
