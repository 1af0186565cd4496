package observability

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fixedOnline []string

func (f fixedOnline) OnlineUsers() []string { return f }

func TestOnlineUsersGaugeSamplesPresence(t *testing.T) {
	registry := prometheus.NewRegistry()
	registerOnlineUsers(registry, fixedOnline{"alice", "bob"})
	// A second registration, e.g. from a rebuilt router, is tolerated.
	registerOnlineUsers(registry, fixedOnline{"carol"})

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Equal(t, "realtime_online_users", families[0].GetName())
	require.Len(t, families[0].GetMetric(), 1)
	require.Equal(t, 2.0, families[0].GetMetric()[0].GetGauge().GetValue())
}

func TestMetricsHandlerServesScrape(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", MetricsHandler(fixedOnline{"alice"}))
	ConnectionsActive().Inc()
	defer ConnectionsActive().Dec()

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "realtime_connections_active")
	require.Contains(t, string(body), "realtime_online_users")
}
