package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/monsc/zouxianba-api/internal/config"
	"github.com/monsc/zouxianba-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	OnlineUsers int       `json:"onlineUsers"`
}

// OnlineCounter reports how many users currently hold a live connection.
type OnlineCounter interface {
	OnlineUsers() []string
}

// HealthCheck returns a handler that reports application health information.
func HealthCheck(cfg config.Config, online OnlineCounter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if online != nil {
			payload.OnlineUsers = len(online.OnlineUsers())
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
