package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/models"
	"github.com/monsc/zouxianba-api/internal/observability"
	"github.com/monsc/zouxianba-api/internal/repository"
)

// DefaultRecallWindow bounds how long after sending a message may be recalled.
const DefaultRecallWindow = 2 * time.Minute

// ConversationService coordinates conversations, messages, unread counters and recall.
// Mutations return the deliveries the caller must dispatch once they have committed.
type ConversationService interface {
	CreateOrGetDirect(ctx context.Context, userID, peerID string) (dto.ConversationResponse, error)
	CreateGroup(ctx context.Context, creatorID string, payload dto.GroupConversationRequest) (dto.ConversationResponse, error)
	List(ctx context.Context, userID string, limit, offset int) ([]dto.ConversationResponse, error)
	History(ctx context.Context, conversationID uint, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error)
	SendMessage(ctx context.Context, senderID string, payload dto.SendMessageRequest) (dto.MessageResponse, []Delivery, error)
	MarkRead(ctx context.Context, conversationID uint, userID string) (dto.MarkReadResponse, []Delivery, error)
	RecallMessage(ctx context.Context, messageID uint, requesterID string) (dto.MessageRecalledEvent, []Delivery, error)
	Typing(ctx context.Context, conversationID uint, userID string, typing bool) ([]Delivery, error)
	Leave(ctx context.Context, conversationID uint, userID string) error
}

type conversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	resolver      MediaResolver
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	recallWindow  time.Duration
	logger        zerolog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewConversationService creates the conversation coordinator.
func NewConversationService(conversations repository.ConversationRepository, messages repository.MessageRepository, resolver MediaResolver, validate *validator.Validate, recallWindow time.Duration, logger zerolog.Logger) ConversationService {
	if recallWindow <= 0 {
		recallWindow = DefaultRecallWindow
	}

	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	return &conversationService{
		conversations: conversations,
		messages:      messages,
		resolver:      resolver,
		validator:     validate,
		sanitizer:     sanitizer,
		recallWindow:  recallWindow,
		logger:        logger.With().Str("component", "conversation_service").Logger(),
		tracer:        otel.Tracer("github.com/monsc/zouxianba-api/internal/service/conversation"),
		now:           time.Now,
	}
}

func (s *conversationService) CreateOrGetDirect(ctx context.Context, userID, peerID string) (dto.ConversationResponse, error) {
	userID = strings.TrimSpace(userID)
	peerID = strings.TrimSpace(peerID)
	if userID == "" || peerID == "" {
		return dto.ConversationResponse{}, ErrValidation
	}
	if userID == peerID {
		return dto.ConversationResponse{}, ErrSelfConversation
	}

	key := models.DirectPeerKey(userID, peerID)
	spanCtx, span := s.tracer.Start(ctx, "conversations.create_or_get_direct", trace.WithAttributes(
		attribute.String("conversation.peer_key", key),
	))
	defer span.End()

	existing, err := s.conversations.FindByPeerKey(spanCtx, key)
	if err == nil {
		return s.reuseDirect(spanCtx, existing, userID, peerID)
	}
	if !isNotFound(err) {
		span.RecordError(err)
		return dto.ConversationResponse{}, err
	}

	now := s.now().UTC()
	conversation := models.Conversation{
		Kind:      models.ConversationKindDirect,
		PeerKey:   &key,
		IsActive:  true,
		CreatedBy: userID,
		Members: []models.ConversationMember{
			{UserID: userID, JoinedAt: now},
			{UserID: peerID, JoinedAt: now},
		},
	}

	if err := s.conversations.Create(spanCtx, &conversation); err != nil {
		// A concurrent creator won the unique peer key; the stored row is the answer.
		existing, findErr := s.conversations.FindByPeerKey(spanCtx, key)
		if findErr == nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				s.logger.Warn().Err(err).Str("peer_key", key).Msg("direct conversation insert failed but row exists")
			}
			return s.reuseDirect(spanCtx, existing, userID, peerID)
		}
		span.RecordError(err)
		return dto.ConversationResponse{}, err
	}

	return dto.NewConversationResponse(conversation), nil
}

// reuseDirect returns a stored direct conversation only when both users are its members.
func (s *conversationService) reuseDirect(ctx context.Context, conversation models.Conversation, userID, peerID string) (dto.ConversationResponse, error) {
	if !conversation.HasMember(userID) || !conversation.HasMember(peerID) {
		s.logger.Error().Uint("conversation_id", conversation.ID).Strs("users", []string{userID, peerID}).Msg("direct conversation members do not match its peer key")
		return dto.ConversationResponse{}, fmt.Errorf("direct conversation %d does not belong to %s and %s", conversation.ID, userID, peerID)
	}
	return s.reactivate(ctx, conversation)
}

func (s *conversationService) reactivate(ctx context.Context, conversation models.Conversation) (dto.ConversationResponse, error) {
	if !conversation.IsActive {
		if err := s.conversations.SetActive(ctx, conversation.ID, true); err != nil {
			return dto.ConversationResponse{}, err
		}
		conversation.IsActive = true
	}
	return dto.NewConversationResponse(conversation), nil
}

func (s *conversationService) CreateGroup(ctx context.Context, creatorID string, payload dto.GroupConversationRequest) (dto.ConversationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ConversationResponse{}, err
	}

	name := strings.TrimSpace(s.sanitizer.Sanitize(payload.Name))
	if name == "" {
		return dto.ConversationResponse{}, ErrValidation
	}

	now := s.now().UTC()
	seen := map[string]struct{}{creatorID: {}}
	members := []models.ConversationMember{{UserID: creatorID, JoinedAt: now}}
	for _, id := range payload.MemberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, models.ConversationMember{UserID: id, JoinedAt: now})
	}
	if len(members) < 2 {
		return dto.ConversationResponse{}, ErrValidation
	}

	conversation := models.Conversation{
		Kind:      models.ConversationKindGroup,
		Name:      name,
		Avatar:    strings.TrimSpace(payload.Avatar),
		IsActive:  true,
		CreatedBy: creatorID,
		Members:   members,
	}
	if err := s.conversations.Create(ctx, &conversation); err != nil {
		return dto.ConversationResponse{}, err
	}

	return dto.NewConversationResponse(conversation), nil
}

func (s *conversationService) List(ctx context.Context, userID string, limit, offset int) ([]dto.ConversationResponse, error) {
	conversations, err := s.conversations.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return dto.NewConversationResponseSlice(conversations), nil
}

func (s *conversationService) History(ctx context.Context, conversationID uint, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}
	if _, err := s.memberConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	messages, err := s.messages.ListByConversation(ctx, conversationID, query.BeforeID, query.Limit)
	if err != nil {
		return nil, err
	}
	return dto.NewMessageResponseSlice(messages), nil
}

func (s *conversationService) SendMessage(ctx context.Context, senderID string, payload dto.SendMessageRequest) (dto.MessageResponse, []Delivery, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, nil, err
	}

	conversation, err := s.memberConversation(ctx, payload.ConversationID, senderID)
	if err != nil {
		return dto.MessageResponse{}, nil, err
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if content == "" && len(payload.Attachments) == 0 {
		return dto.MessageResponse{}, nil, ErrEmptyMessage
	}

	attachments, err := resolveAttachments(ctx, s.resolver, payload.Attachments)
	if err != nil {
		return dto.MessageResponse{}, nil, err
	}

	spanCtx, span := s.tracer.Start(ctx, "conversations.send_message", trace.WithAttributes(
		attribute.Int64("conversation.id", int64(conversation.ID)),
		attribute.String("conversation.sender_id", senderID),
		attribute.Int("conversation.attachments", len(attachments)),
	))
	defer span.End()

	message := models.Message{
		ConversationID: conversation.ID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.messages.Create(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, nil, err
	}

	if err := s.conversations.TouchLastMessage(spanCtx, conversation.ID, message.ID); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, nil, err
	}
	if err := s.conversations.IncrementUnread(spanCtx, conversation.ID, senderID); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, nil, err
	}

	observability.MessagesSent().WithLabelValues(conversation.Kind).Inc()

	response := dto.NewMessageResponse(message)
	conversationID := conversation.ID
	messageID := message.ID
	delivery := Delivery{
		Event:      EventNewMessage,
		Payload:    response,
		Recipients: conversation.MemberIDs(),
		Offline: &dto.NotificationCreateRequest{
			Type:           models.NotificationTypeMessage,
			ActorID:        senderID,
			MessageID:      &messageID,
			ConversationID: &conversationID,
		},
	}

	return response, []Delivery{delivery}, nil
}

func (s *conversationService) MarkRead(ctx context.Context, conversationID uint, userID string) (dto.MarkReadResponse, []Delivery, error) {
	conversation, err := s.memberConversation(ctx, conversationID, userID)
	if err != nil {
		return dto.MarkReadResponse{}, nil, err
	}

	spanCtx, span := s.tracer.Start(ctx, "conversations.mark_read", trace.WithAttributes(
		attribute.Int64("conversation.id", int64(conversationID)),
		attribute.String("conversation.reader_id", userID),
	))
	defer span.End()

	ids, err := s.messages.UnreadIDs(spanCtx, conversationID, userID)
	if err != nil {
		span.RecordError(err)
		return dto.MarkReadResponse{}, nil, err
	}

	readAt := s.now().UTC()
	reads := make([]models.MessageRead, 0, len(ids))
	for _, id := range ids {
		reads = append(reads, models.MessageRead{MessageID: id, UserID: userID, ConversationID: conversationID, ReadAt: readAt})
	}

	inserted, err := s.messages.InsertReads(spanCtx, reads)
	if err != nil {
		span.RecordError(err)
		return dto.MarkReadResponse{}, nil, err
	}
	if _, err := s.conversations.ResetUnread(spanCtx, conversationID, userID); err != nil {
		span.RecordError(err)
		return dto.MarkReadResponse{}, nil, err
	}

	response := dto.MarkReadResponse{ConversationID: conversationID, MessageIDs: ids}
	if response.MessageIDs == nil {
		response.MessageIDs = []uint{}
	}
	if inserted == 0 {
		return response, nil, nil
	}

	event := dto.MessagesReadEvent{
		ConversationID: conversationID,
		UserID:         userID,
		MessageIDs:     response.MessageIDs,
		ReadAt:         readAt,
	}
	return response, []Delivery{deliver(EventMessagesRead, event, without(conversation.MemberIDs(), userID)...)}, nil
}

func (s *conversationService) RecallMessage(ctx context.Context, messageID uint, requesterID string) (dto.MessageRecalledEvent, []Delivery, error) {
	message, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if isNotFound(err) {
			return dto.MessageRecalledEvent{}, nil, ErrMessageNotFound
		}
		return dto.MessageRecalledEvent{}, nil, err
	}

	if message.SenderID != requesterID {
		return dto.MessageRecalledEvent{}, nil, ErrNotSender
	}

	if message.Recalled {
		event := dto.MessageRecalledEvent{ConversationID: message.ConversationID, MessageID: message.ID}
		if message.RecalledAt != nil {
			event.RecalledAt = *message.RecalledAt
		}
		return event, nil, nil
	}

	now := s.now().UTC()
	if now.Sub(message.CreatedAt) > s.recallWindow {
		return dto.MessageRecalledEvent{}, nil, ErrRecallWindowExpired
	}

	spanCtx, span := s.tracer.Start(ctx, "conversations.recall_message", trace.WithAttributes(
		attribute.Int64("message.id", int64(messageID)),
	))
	defer span.End()

	changed, err := s.messages.MarkRecalled(spanCtx, messageID, now)
	if err != nil {
		span.RecordError(err)
		return dto.MessageRecalledEvent{}, nil, err
	}

	event := dto.MessageRecalledEvent{ConversationID: message.ConversationID, MessageID: message.ID, RecalledAt: now}
	if !changed {
		return event, nil, nil
	}

	conversation, err := s.conversations.FindByID(spanCtx, message.ConversationID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("message_id", messageID).Msg("recalled message has no readable conversation")
		return event, nil, nil
	}

	return event, []Delivery{deliver(EventMessageRecalled, event, conversation.MemberIDs()...)}, nil
}

func (s *conversationService) Typing(ctx context.Context, conversationID uint, userID string, typing bool) ([]Delivery, error) {
	conversation, err := s.memberConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	event := EventStopTyping
	if typing {
		event = EventTyping
	}
	payload := dto.TypingEvent{ConversationID: conversationID, UserID: userID}
	return []Delivery{deliver(event, payload, without(conversation.MemberIDs(), userID)...)}, nil
}

// Leave drops a group member; a direct conversation is deactivated instead and returns on the next message.
func (s *conversationService) Leave(ctx context.Context, conversationID uint, userID string) error {
	conversation, err := s.memberConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	if conversation.Kind == models.ConversationKindDirect {
		return s.conversations.SetActive(ctx, conversationID, false)
	}
	return s.conversations.RemoveMember(ctx, conversationID, userID)
}

func (s *conversationService) memberConversation(ctx context.Context, conversationID uint, userID string) (models.Conversation, error) {
	conversation, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return models.Conversation{}, ErrConversationNotFound
		}
		return models.Conversation{}, err
	}
	if !conversation.HasMember(userID) {
		return models.Conversation{}, ErrNotParticipant
	}
	return conversation, nil
}
