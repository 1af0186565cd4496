package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/handler"
	"github.com/monsc/zouxianba-api/internal/service"
)

type mockRoomService struct {
	service.RoomService

	lastQuery   dto.RoomListQuery
	lastCreate  dto.RoomCreateRequest
	lastHost    string
	transitions []string
}

func (m *mockRoomService) List(_ context.Context, query dto.RoomListQuery) ([]dto.RoomResponse, error) {
	m.lastQuery = query
	return []dto.RoomResponse{{ID: 1, Status: query.Status}}, nil
}

func (m *mockRoomService) Create(_ context.Context, hostID string, payload dto.RoomCreateRequest) (dto.RoomResponse, error) {
	m.lastHost = hostID
	m.lastCreate = payload
	return dto.RoomResponse{ID: 5, HostID: hostID, Title: payload.Title, Status: "active"}, nil
}

func (m *mockRoomService) Get(_ context.Context, roomID uint) (dto.RoomResponse, error) {
	if roomID != 5 {
		return dto.RoomResponse{}, service.ErrRoomNotFound
	}
	return dto.RoomResponse{ID: 5, Status: "active"}, nil
}

func (m *mockRoomService) Start(_ context.Context, roomID uint, requesterID string) (dto.RoomResponse, []service.Delivery, error) {
	m.transitions = append(m.transitions, "start:"+requesterID)
	return dto.RoomResponse{}, nil, service.ErrRoomAlreadyActive
}

func (m *mockRoomService) End(_ context.Context, roomID uint, requesterID string) (dto.RoomResponse, []service.Delivery, error) {
	m.transitions = append(m.transitions, "end:"+requesterID)
	if requesterID != "host" {
		return dto.RoomResponse{}, nil, service.ErrNotHost
	}
	room := dto.RoomResponse{ID: roomID, Status: "ended"}
	return room, []service.Delivery{{Event: service.EventRoomEnded, Recipients: []string{"host", "guest"}}}, nil
}

func setupRoomHandler(svc *mockRoomService) (*fiber.App, *recordingExecutor) {
	executor := &recordingExecutor{}
	app := newTestApp()
	handler.NewRoomHandler(svc, executor, zerolog.Nop()).Register(app.Group("/api/v1/rooms"))
	return app, executor
}

func TestRoomHandler_ListDefaultsToActive(t *testing.T) {
	svc := &mockRoomService{}
	app, _ := setupRoomHandler(svc)

	resp, _ := doRequest(t, app, http.MethodGet, "/api/v1/rooms", "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "active", svc.lastQuery.Status)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/rooms?status=scheduled&limit=5", "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "scheduled", svc.lastQuery.Status)
	require.Equal(t, 5, svc.lastQuery.Limit)
}

func TestRoomHandler_CreateAndGet(t *testing.T) {
	svc := &mockRoomService{}
	app, _ := setupRoomHandler(svc)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/rooms", "host", fiber.Map{
		"title":    "Morning chat",
		"settings": fiber.Map{"maxParticipants": 12, "allowReactions": false},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var room dto.RoomResponse
	decodeData(t, body, &room)
	require.EqualValues(t, 5, room.ID)
	require.Equal(t, "host", svc.lastHost)
	require.Equal(t, 12, svc.lastCreate.Settings.MaxParticipants)
	require.NotNil(t, svc.lastCreate.Settings.AllowReactions)
	require.False(t, *svc.lastCreate.Settings.AllowReactions)
	require.Nil(t, svc.lastCreate.Settings.AllowChat)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/rooms/5", "guest", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/rooms/6", "guest", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, "room_not_found", body.Code)
}

func TestRoomHandler_TransitionsUseRoomLock(t *testing.T) {
	svc := &mockRoomService{}
	app, executor := setupRoomHandler(svc)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/rooms/5/end", "guest", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Equal(t, "not_host", body.Code)

	resp, body = doRequest(t, app, http.MethodPost, "/api/v1/rooms/5/end", "host", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var room dto.RoomResponse
	decodeData(t, body, &room)
	require.Equal(t, "ended", room.Status)

	resp, body = doRequest(t, app, http.MethodPost, "/api/v1/rooms/5/start", "host", nil)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.Equal(t, "room_already_active", body.Code)

	require.Equal(t, []string{"room:5", "room:5", "room:5"}, executor.keys)
	require.Equal(t, []string{"end:guest", "end:host", "start:host"}, svc.transitions)
	require.Len(t, executor.deliveries, 1)

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/rooms/0/start", "host", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
