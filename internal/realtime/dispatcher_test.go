package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/middleware"
	"github.com/monsc/zouxianba-api/internal/service"
)

type recordingNotifier struct {
	mu       sync.Mutex
	requests []dto.NotificationCreateRequest
}

func (n *recordingNotifier) Notify(_ context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, []service.Delivery, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, payload)
	response := dto.NotificationResponse{ID: uint(len(n.requests)), RecipientID: payload.RecipientID, Type: payload.Type}
	return response, []service.Delivery{{Event: service.EventNewNotification, Payload: response, Recipients: []string{payload.RecipientID}}}, nil
}

func TestDispatcherPushesOnlineAndNotifiesOffline(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(hub, notifier, zerolog.Nop())

	aliceConn := newFakeConn()
	alice := newSession(aliceConn, middleware.Identity{UserID: "alice"}, 8)
	hub.Register(alice)

	conversationID := uint(9)
	delivery := service.Delivery{
		Event:      service.EventNewMessage,
		Payload:    dto.MessageResponse{ID: 1, ConversationID: conversationID, SenderID: "alice", Content: "hi"},
		Recipients: []string{"alice", "bob"},
		Offline:    &dto.NotificationCreateRequest{Type: "message", ActorID: "alice", ConversationID: &conversationID},
	}

	require.NoError(t, dispatcher.Apply(context.Background(), delivery))

	require.Len(t, alice.send, 1)
	require.Len(t, notifier.requests, 1)
	require.Equal(t, "bob", notifier.requests[0].RecipientID)
	require.Equal(t, "message", notifier.requests[0].Type)
}

func TestDispatcherReportsDroppedFrames(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	dispatcher := NewDispatcher(hub, nil, zerolog.Nop())

	session := newSession(newFakeConn(), middleware.Identity{UserID: "alice"}, 1)
	hub.Register(session)

	first := service.Delivery{Event: service.EventTyping, Payload: dto.TypingEvent{ConversationID: 1, UserID: "bob"}, Recipients: []string{"alice"}}
	require.NoError(t, dispatcher.Apply(context.Background(), first))

	err := dispatcher.Apply(context.Background(), first, first)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dropped typing")
	require.Len(t, session.send, 1)
}

func TestDispatcherWithoutNotifierSkipsOffline(t *testing.T) {
	dispatcher := NewDispatcher(NewHub(zerolog.Nop()), nil, zerolog.Nop())
	delivery := service.Delivery{
		Event:      service.EventNewMessage,
		Payload:    dto.MessageResponse{ID: 1},
		Recipients: []string{"bob"},
		Offline:    &dto.NotificationCreateRequest{Type: "message"},
	}
	require.NoError(t, dispatcher.Apply(context.Background(), delivery))
}
