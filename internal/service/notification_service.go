package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/models"
	"github.com/monsc/zouxianba-api/internal/observability"
	"github.com/monsc/zouxianba-api/internal/repository"
)

// NotificationService persists notifications and describes their live delivery.
type NotificationService interface {
	Notify(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, []Delivery, error)
	List(ctx context.Context, recipientID string, query dto.NotificationListQuery) ([]dto.NotificationResponse, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, id uint, recipientID string) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, id uint, recipientID string) error
	DeleteAll(ctx context.Context, recipientID string) (int64, error)
}

// NotificationPublisher exports persisted notifications to external consumers.
type NotificationPublisher interface {
	Publish(subject string, data []byte) error
}

type notificationService struct {
	repo        repository.NotificationRepository
	publisher   NotificationPublisher
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
}

type notificationEvent struct {
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

// NewNotificationService constructs a notification service. A nil NATS connection disables the export.
func NewNotificationService(repo repository.NotificationRepository, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	var publisher NotificationPublisher
	if natsConn != nil {
		publisher = natsConn
	}
	return newNotificationService(repo, channelBase, publisher, validate, logger)
}

func newNotificationService(repo repository.NotificationRepository, channelBase string, publisher NotificationPublisher, validate *validator.Validate, logger zerolog.Logger) *notificationService {
	subject := ""
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".notifications.created"
	}

	return &notificationService{
		repo:        repo,
		publisher:   publisher,
		natsSubject: subject,
		validator:   validate,
		logger:      logger.With().Str("component", "notification_service").Logger(),
		tracer:      otel.Tracer("github.com/monsc/zouxianba-api/internal/service/notification"),
	}
}

// Notify always persists the record and returns a live delivery for the recipient.
// Notifying users about their own actions is skipped.
func (s *notificationService) Notify(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, []Delivery, error) {
	payload.RecipientID = strings.TrimSpace(payload.RecipientID)
	payload.ActorID = strings.TrimSpace(payload.ActorID)
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, nil, err
	}

	if payload.ActorID != "" && payload.ActorID == payload.RecipientID {
		return dto.NotificationResponse{}, nil, nil
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.notify", trace.WithAttributes(
		attribute.String("notification.recipient_id", payload.RecipientID),
		attribute.String("notification.type", payload.Type),
	))
	defer span.End()

	model := models.Notification{
		RecipientID:    payload.RecipientID,
		Type:           payload.Type,
		ActorID:        payload.ActorID,
		PostID:         strings.TrimSpace(payload.PostID),
		CommentID:      strings.TrimSpace(payload.CommentID),
		MessageID:      payload.MessageID,
		ConversationID: payload.ConversationID,
	}
	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, nil, err
	}

	observability.NotificationsCreated().WithLabelValues(model.Type).Inc()

	response := dto.NewNotificationResponse(model)
	if err := s.export(response); err != nil {
		s.logger.Warn().Err(err).Uint("notification_id", response.ID).Msg("failed to export notification")
	}

	return response, []Delivery{deliver(EventNewNotification, response, response.RecipientID)}, nil
}

func (s *notificationService) export(notification dto.NotificationResponse) error {
	if s.publisher == nil || s.natsSubject == "" {
		return nil
	}

	payload, err := json.Marshal(notificationEvent{Notification: notification, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.publisher.Publish(s.natsSubject, payload)
}

func (s *notificationService) List(ctx context.Context, recipientID string, query dto.NotificationListQuery) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, ErrUnauthenticated
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	notifications, err := s.repo.ListByRecipient(ctx, recipientID, query.UnreadOnly, query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return s.repo.CountUnread(ctx, recipientID)
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, recipientID string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.recipient_id", recipientID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, recipientID)
	if err != nil {
		if isNotFound(err) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, recipientID)
}

func (s *notificationService) Delete(ctx context.Context, id uint, recipientID string) error {
	if err := s.repo.Delete(ctx, id, recipientID); err != nil {
		if isNotFound(err) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

func (s *notificationService) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	return s.repo.DeleteAll(ctx, recipientID)
}
