package observability

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OnlineUsers reports the users holding at least one realtime connection.
type OnlineUsers interface {
	OnlineUsers() []string
}

// MetricsHandler serves the scrape endpoint. When presence is given, the number of online
// users is sampled from it on every scrape.
func MetricsHandler(presence OnlineUsers) fiber.Handler {
	RegisterMetrics()
	if presence != nil {
		registerOnlineUsers(prometheus.DefaultRegisterer, presence)
	}
	return adaptor.HTTPHandler(promhttp.Handler())
}

func registerOnlineUsers(registerer prometheus.Registerer, presence OnlineUsers) {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "realtime_online_users",
		Help: "Users with at least one open realtime connection.",
	}, func() float64 {
		return float64(len(presence.OnlineUsers()))
	})

	var already prometheus.AlreadyRegisteredError
	if err := registerer.Register(gauge); err != nil && !errors.As(err, &already) {
		panic(err)
	}
}
