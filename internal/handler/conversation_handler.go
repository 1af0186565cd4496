package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/realtime"
	"github.com/monsc/zouxianba-api/internal/service"
	"github.com/monsc/zouxianba-api/internal/utils"
)

// ConversationHandler exposes conversations and messages over HTTP. Mutations go through the
// same executor as websocket events so connected members see them live.
type ConversationHandler struct {
	service   service.ConversationService
	executor  DeliveryExecutor
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewConversationHandler constructs a conversation handler.
func NewConversationHandler(service service.ConversationService, executor DeliveryExecutor, validate *validator.Validate, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		service:   service,
		executor:  executor,
		validator: validate,
		logger:    logger.With().Str("component", "conversation_handler").Logger(),
	}
}

// Register binds the conversation routes.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/direct", h.direct)
	router.Post("/group", h.group)
	router.Get("/:id/messages", h.history)
	router.Post("/:id/messages", h.send)
	router.Post("/:id/read", h.markRead)
	router.Delete("/:id", h.leave)
}

// RegisterMessages binds routes addressed by message id.
func (h *ConversationHandler) RegisterMessages(router fiber.Router) {
	router.Post("/:id/recall", h.recall)
}

func (h *ConversationHandler) list(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	conversations, err := h.service.List(requestContext(c), userID, limit, offset)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "conversations", conversations)
}

func (h *ConversationHandler) direct(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	var payload dto.DirectConversationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendServiceError(c, h.logger, err)
	}

	conversation, err := h.service.CreateOrGetDirect(requestContext(c), userID, payload.UserID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "direct conversation", conversation)
}

func (h *ConversationHandler) group(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	var payload dto.GroupConversationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	conversation, err := h.service.CreateGroup(requestContext(c), userID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group conversation created", conversation)
}

func (h *ConversationHandler) history(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	var query dto.MessageHistoryQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	messages, err := h.service.History(requestContext(c), conversationID, userID, query)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "messages", messages)
}

func (h *ConversationHandler) send(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	var payload dto.SendMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	payload.ConversationID = conversationID

	var message dto.MessageResponse
	err = h.executor.Execute(requestContext(c), realtime.ConversationKey(conversationID), func(ctx context.Context) ([]service.Delivery, error) {
		sent, deliveries, err := h.service.SendMessage(ctx, userID, payload)
		message = sent
		return deliveries, err
	})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ConversationHandler) markRead(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	var result dto.MarkReadResponse
	err = h.executor.Execute(requestContext(c), realtime.ConversationKey(conversationID), func(ctx context.Context) ([]service.Delivery, error) {
		marked, deliveries, err := h.service.MarkRead(ctx, conversationID, userID)
		result = marked
		return deliveries, err
	})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "messages marked read", result)
}

func (h *ConversationHandler) leave(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	if err := h.service.Leave(requestContext(c), conversationID, userID); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "left conversation", nil)
}

func (h *ConversationHandler) recall(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	messageID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid message id")
	}

	var event dto.MessageRecalledEvent
	err = h.executor.Execute(requestContext(c), realtime.MessageKey(messageID), func(ctx context.Context) ([]service.Delivery, error) {
		recalled, deliveries, err := h.service.RecallMessage(ctx, messageID, userID)
		event = recalled
		return deliveries, err
	})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "message recalled", event)
}
