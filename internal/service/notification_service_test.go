package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/models"
	"github.com/monsc/zouxianba-api/internal/repository"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

func setupNotificationService(t *testing.T, publisher NotificationPublisher) *notificationService {
	t.Helper()
	db := setupServiceTestDB(t)
	return newNotificationService(repository.NewNotificationRepository(db), "zxb:realtime", publisher, newTestValidator(), zerolog.Nop())
}

func TestNotifyPersistsAndExports(t *testing.T) {
	publisher := &recordingPublisher{}
	svc := setupNotificationService(t, publisher)
	ctx := context.Background()

	conversationID := uint(7)
	notification, deliveries, err := svc.Notify(ctx, dto.NotificationCreateRequest{
		RecipientID:    " bob ",
		Type:           models.NotificationTypeMessage,
		ActorID:        "alice",
		ConversationID: &conversationID,
	})
	require.NoError(t, err)
	require.NotZero(t, notification.ID)
	require.Equal(t, "bob", notification.RecipientID)
	require.False(t, notification.Read)

	require.Len(t, deliveries, 1)
	require.Equal(t, EventNewNotification, deliveries[0].Event)
	require.Equal(t, []string{"bob"}, deliveries[0].Recipients)
	require.Nil(t, deliveries[0].Offline)

	require.Equal(t, []string{"zxb.realtime.notifications.created"}, publisher.subjects)
	var exported struct {
		Notification dto.NotificationResponse `json:"notification"`
	}
	require.NoError(t, json.Unmarshal(publisher.payloads[0], &exported))
	require.Equal(t, notification.ID, exported.Notification.ID)
}

func TestNotifySkipsSelfAndSurvivesExportFailure(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("nats down")}
	svc := setupNotificationService(t, publisher)
	ctx := context.Background()

	skipped, deliveries, err := svc.Notify(ctx, dto.NotificationCreateRequest{RecipientID: "alice", ActorID: "alice", Type: models.NotificationTypeLike})
	require.NoError(t, err)
	require.Zero(t, skipped.ID)
	require.Empty(t, deliveries)
	require.Empty(t, publisher.subjects)

	created, deliveries, err := svc.Notify(ctx, dto.NotificationCreateRequest{RecipientID: "alice", ActorID: "bob", Type: models.NotificationTypeFollow})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Len(t, deliveries, 1)

	_, _, err = svc.Notify(ctx, dto.NotificationCreateRequest{RecipientID: "alice", Type: "poke"})
	require.Error(t, err)
	require.Equal(t, KindValidation, KindOf(err))
}

func TestNotificationInboxOperations(t *testing.T) {
	svc := setupNotificationService(t, nil)
	ctx := context.Background()

	var ids []uint
	for _, kind := range []string{models.NotificationTypeLike, models.NotificationTypeComment, models.NotificationTypeMention} {
		created, _, err := svc.Notify(ctx, dto.NotificationCreateRequest{RecipientID: "bob", ActorID: "alice", Type: kind, PostID: "p-1"})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}
	_, _, err := svc.Notify(ctx, dto.NotificationCreateRequest{RecipientID: "carol", ActorID: "alice", Type: models.NotificationTypeLike})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	read, err := svc.MarkRead(ctx, ids[0], "bob")
	require.NoError(t, err)
	require.True(t, read.Read)

	_, err = svc.MarkRead(ctx, ids[0], "carol")
	require.ErrorIs(t, err, ErrNotificationNotFound)

	unread, err := svc.List(ctx, "bob", dto.NotificationListQuery{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 2)

	all, err := svc.List(ctx, "bob", dto.NotificationListQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)

	_, err = svc.List(ctx, "", dto.NotificationListQuery{})
	require.ErrorIs(t, err, ErrUnauthenticated)

	updated, err := svc.MarkAllRead(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 2, updated)

	require.ErrorIs(t, svc.Delete(ctx, ids[1], "carol"), ErrNotificationNotFound)
	require.NoError(t, svc.Delete(ctx, ids[1], "bob"))
	require.ErrorIs(t, svc.Delete(ctx, ids[1], "bob"), ErrNotificationNotFound)

	removed, err := svc.DeleteAll(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	count, err = svc.UnreadCount(ctx, "carol")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
