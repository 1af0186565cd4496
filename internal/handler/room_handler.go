package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/realtime"
	"github.com/monsc/zouxianba-api/internal/service"
	"github.com/monsc/zouxianba-api/internal/utils"
)

// RoomHandler exposes voice room lifecycle endpoints. In-room actions happen over the websocket.
type RoomHandler struct {
	service  service.RoomService
	executor DeliveryExecutor
	logger   zerolog.Logger
}

// NewRoomHandler constructs a room handler.
func NewRoomHandler(service service.RoomService, executor DeliveryExecutor, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		service:  service,
		executor: executor,
		logger:   logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds the room routes.
func (h *RoomHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/", h.create)
	router.Get("/:id", h.get)
	router.Post("/:id/start", h.start)
	router.Post("/:id/end", h.end)
}

func (h *RoomHandler) list(c *fiber.Ctx) error {
	var query dto.RoomListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}
	if query.Status == "" {
		query.Status = "active"
	}

	rooms, err := h.service.List(requestContext(c), query)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "rooms", rooms)
}

func (h *RoomHandler) create(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	var payload dto.RoomCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	room, err := h.service.Create(requestContext(c), userID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().Uint("room_id", room.ID).Str("host_id", userID).Msg("room created")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "room created", room)
}

func (h *RoomHandler) get(c *fiber.Ctx) error {
	roomID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid room id")
	}

	room, err := h.service.Get(requestContext(c), roomID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "room", room)
}

func (h *RoomHandler) start(c *fiber.Ctx) error {
	return h.transition(c, "room started", func(ctx context.Context, roomID uint, userID string) (dto.RoomResponse, []service.Delivery, error) {
		return h.service.Start(ctx, roomID, userID)
	})
}

func (h *RoomHandler) end(c *fiber.Ctx) error {
	return h.transition(c, "room ended", func(ctx context.Context, roomID uint, userID string) (dto.RoomResponse, []service.Delivery, error) {
		return h.service.End(ctx, roomID, userID)
	})
}

func (h *RoomHandler) transition(c *fiber.Ctx, message string, op func(ctx context.Context, roomID uint, userID string) (dto.RoomResponse, []service.Delivery, error)) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	roomID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid room id")
	}

	var room dto.RoomResponse
	err = h.executor.Execute(requestContext(c), realtime.RoomKey(roomID), func(ctx context.Context) ([]service.Delivery, error) {
		updated, deliveries, err := op(ctx, roomID, userID)
		room = updated
		return deliveries, err
	})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, message, room)
}
