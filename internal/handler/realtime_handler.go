package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/monsc/zouxianba-api/internal/middleware"
	"github.com/monsc/zouxianba-api/internal/realtime"
)

// ConnectionServer runs an authenticated websocket session to completion.
type ConnectionServer interface {
	ServeConnection(ctx context.Context, conn realtime.Conn, identity middleware.Identity)
}

// RealtimeHandler upgrades authenticated requests to websocket sessions.
type RealtimeHandler struct {
	server ConnectionServer
	logger zerolog.Logger
}

// NewRealtimeHandler creates a realtime handler instance.
func NewRealtimeHandler(server ConnectionServer, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		server: server,
		logger: logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register binds the upgrade route at the group root. The identity gate must run before it.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use(func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if _, ok := middleware.AsIdentity(c.Locals(middleware.LocalIdentity)); !ok {
			return unauthenticated(c)
		}
		return c.Next()
	})

	router.Get("/", websocket.New(h.handleConnection))
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	identity, ok := middleware.AsIdentity(conn.Locals(middleware.LocalIdentity))
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication_failed"))
		_ = conn.Close()
		return
	}

	correlation, _ := conn.Locals("correlation_id").(string)
	ctx := middleware.ContextWithCorrelation(context.Background(), correlation)

	h.logger.Info().Str("user_id", identity.UserID).Str("correlation_id", correlation).Msg("websocket connected")
	h.server.ServeConnection(ctx, conn, identity)
	h.logger.Info().Str("user_id", identity.UserID).Msg("websocket disconnected")
}
