package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/monsc/zouxianba-api/internal/middleware"
	"github.com/monsc/zouxianba-api/internal/service"
)

const testUserHeader = "X-Test-User"

type apiBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

// recordingExecutor runs operations inline and keeps what they asked to deliver.
type recordingExecutor struct {
	mu         sync.Mutex
	keys       []string
	deliveries []service.Delivery
}

func (e *recordingExecutor) Execute(ctx context.Context, key string, op func(ctx context.Context) ([]service.Delivery, error)) error {
	deliveries, err := op(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys = append(e.keys, key)
	if err == nil {
		e.deliveries = append(e.deliveries, deliveries...)
	}
	return err
}

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if user := c.Get(testUserHeader); user != "" {
			c.Locals(middleware.LocalUserID, user)
			c.Locals(middleware.LocalIdentity, middleware.Identity{UserID: user})
		}
		return c.Next()
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, target, user string, payload interface{}) (*http.Response, apiBody) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded apiBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func decodeData(t *testing.T, body apiBody, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body.Data, target))
}
