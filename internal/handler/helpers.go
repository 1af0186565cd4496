package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/monsc/zouxianba-api/internal/middleware"
	"github.com/monsc/zouxianba-api/internal/service"
	"github.com/monsc/zouxianba-api/internal/utils"
)

// DeliveryExecutor runs a mutation under its entity lock and pushes the resulting frames.
type DeliveryExecutor interface {
	Execute(ctx context.Context, key string, op func(ctx context.Context) ([]service.Delivery, error)) error
}

var errInvalidID = errors.New("invalid id")

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(c.Params(key)), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errInvalidID
	}
	return uint(parsed), nil
}

func userIDStringFromContext(c *fiber.Ctx) string {
	if id, ok := c.Locals(middleware.LocalUserID).(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func statusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindAuthentication:
		return fiber.StatusUnauthorized
	case service.KindPermission:
		return fiber.StatusForbidden
	case service.KindNotFound:
		return fiber.StatusNotFound
	case service.KindStateConflict:
		return fiber.StatusConflict
	case service.KindValidation:
		return fiber.StatusUnprocessableEntity
	case service.KindRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// sendServiceError answers with the status of the error's kind. Unclassified errors are logged
// and hidden behind internal_error.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	svcErr, ok := service.AsError(err)
	if !ok {
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("request failed")
		svcErr = service.ErrInternal
	}
	return utils.SendErrorCode(c, statusForKind(svcErr.Kind), svcErr.Code, svcErr.Message)
}

func unauthenticated(c *fiber.Ctx) error {
	return utils.SendErrorCode(c, fiber.StatusUnauthorized, service.ErrUnauthenticated.Code, service.ErrUnauthenticated.Message)
}
