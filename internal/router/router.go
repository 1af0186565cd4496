package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/monsc/zouxianba-api/internal/config"
	"github.com/monsc/zouxianba-api/internal/handler"
	"github.com/monsc/zouxianba-api/internal/middleware"
	"github.com/monsc/zouxianba-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ConversationHandler *handler.ConversationHandler
	RoomHandler         *handler.RoomHandler
	NotificationHandler *handler.NotificationHandler
	PresenceHandler     *handler.PresenceHandler
	RealtimeHandler     *handler.RealtimeHandler
	OnlineCounter       handler.OnlineCounter
	IdentityGate        fiber.Handler
	WriteLimiter        fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler(deps.OnlineCounter))

	api := app.Group("/api/v1")
	api.Get("/health", handler.HealthCheck(cfg, deps.OnlineCounter))

	gate := deps.IdentityGate
	if gate == nil {
		gate = middleware.IdentityGate(cfg.JWTSecret)
	}
	writes := deps.WriteLimiter
	if writes == nil {
		writes = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Browsers connect to /ws with ?access_token=...; the gate rejects them before the upgrade.
	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.Register(app.Group("/ws", gate))
	}

	if deps.ConversationHandler != nil {
		deps.ConversationHandler.Register(api.Group("/conversations", gate, writes))
		deps.ConversationHandler.RegisterMessages(api.Group("/messages", gate, writes))
	}

	if deps.RoomHandler != nil {
		deps.RoomHandler.Register(api.Group("/rooms", gate, writes))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications", gate, writes))
	}

	if deps.PresenceHandler != nil {
		deps.PresenceHandler.Register(api.Group("/presence", gate))
	}
}
