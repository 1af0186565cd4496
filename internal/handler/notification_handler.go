package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/service"
	"github.com/monsc/zouxianba-api/internal/utils"
)

// NotificationHandler manages a user's notifications.
type NotificationHandler struct {
	service  service.NotificationService
	executor DeliveryExecutor
	logger   zerolog.Logger
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(service service.NotificationService, executor DeliveryExecutor, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service:  service,
		executor: executor,
		logger:   logger.With().Str("component", "notification_handler").Logger(),
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/unread-count", h.unreadCount)
	router.Post("/", h.create)
	router.Patch("/read-all", h.markAllRead)
	router.Patch("/:id/read", h.markRead)
	router.Delete("/", h.deleteAll)
	router.Delete("/:id", h.delete)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	var query dto.NotificationListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	notifications, err := h.service.List(requestContext(c), userID, query)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications", notifications)
}

func (h *NotificationHandler) unreadCount(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	count, err := h.service.UnreadCount(requestContext(c), userID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "unread notifications", fiber.Map{"count": count})
}

// create lets one user's action notify another, e.g. a like or a follow. The caller is the actor.
func (h *NotificationHandler) create(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	var payload dto.NotificationCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	payload.ActorID = userID

	var notification dto.NotificationResponse
	err := h.executor.Execute(requestContext(c), "", func(ctx context.Context) ([]service.Delivery, error) {
		created, deliveries, err := h.service.Notify(ctx, payload)
		notification = created
		return deliveries, err
	})
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	if notification.ID == 0 {
		return utils.SendSuccess(c, "notification skipped", nil)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "notification created", notification)
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid notification id")
	}

	notification, err := h.service.MarkRead(requestContext(c), id, userID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notification marked as read", notification)
}

func (h *NotificationHandler) markAllRead(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	updated, err := h.service.MarkAllRead(requestContext(c), userID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications marked as read", fiber.Map{"updated": updated})
}

func (h *NotificationHandler) delete(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid notification id")
	}

	if err := h.service.Delete(requestContext(c), id, userID); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notification deleted", nil)
}

func (h *NotificationHandler) deleteAll(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthenticated(c)
	}

	deleted, err := h.service.DeleteAll(requestContext(c), userID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications deleted", fiber.Map{"deleted": deleted})
}
