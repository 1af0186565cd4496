package dto

import (
	"time"

	"github.com/monsc/zouxianba-api/internal/models"
)

// AttachmentInput describes media a client attaches to a message. Either URL or PublicID must be set.
type AttachmentInput struct {
	URL      string `json:"url" validate:"omitempty,url,max=1024"`
	PublicID string `json:"publicId" validate:"omitempty,max=255"`
	MimeType string `json:"mimeType" validate:"required,max=127"`
	Name     string `json:"name" validate:"omitempty,max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
}

// SendMessageRequest is the payload of a new conversation message.
type SendMessageRequest struct {
	ConversationID uint              `json:"conversationId" validate:"required"`
	Content        string            `json:"content" validate:"max=4000"`
	Attachments    []AttachmentInput `json:"attachments" validate:"max=10,dive"`
}

// DirectConversationRequest asks for the direct conversation with another user.
type DirectConversationRequest struct {
	UserID string `json:"userId" validate:"required,max=64"`
}

// GroupConversationRequest creates a named group conversation.
type GroupConversationRequest struct {
	Name      string   `json:"name" validate:"required,min=1,max=128"`
	Avatar    string   `json:"avatar" validate:"omitempty,url,max=512"`
	MemberIDs []string `json:"memberIds" validate:"required,min=1,max=255,dive,required,max=64"`
}

// MessageHistoryQuery pages backwards through a conversation.
type MessageHistoryQuery struct {
	BeforeID uint `query:"before"`
	Limit    int  `query:"limit" validate:"omitempty,min=1,max=100"`
}

// ReadReceipt records who read a message and when.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// MessageResponse is the client view of a message. Recalled messages carry no content.
type MessageResponse struct {
	ID             uint                `json:"id"`
	ConversationID uint                `json:"conversationId"`
	SenderID       string              `json:"senderId"`
	Content        string              `json:"content"`
	Attachments    []models.Attachment `json:"attachments"`
	ReadBy         []ReadReceipt       `json:"readBy"`
	Recalled       bool                `json:"recalled"`
	RecalledAt     *time.Time          `json:"recalledAt,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// NewMessageResponse converts a model into a DTO, suppressing recalled content.
func NewMessageResponse(message models.Message) MessageResponse {
	response := MessageResponse{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Content:        message.Content,
		Attachments:    []models.Attachment(message.Attachments),
		ReadBy:         make([]ReadReceipt, 0, len(message.Reads)),
		Recalled:       message.Recalled,
		RecalledAt:     message.RecalledAt,
		CreatedAt:      message.CreatedAt,
	}
	if response.Attachments == nil {
		response.Attachments = []models.Attachment{}
	}
	for _, read := range message.Reads {
		response.ReadBy = append(response.ReadBy, ReadReceipt{UserID: read.UserID, ReadAt: read.ReadAt})
	}
	if message.Recalled {
		response.Content = ""
		response.Attachments = []models.Attachment{}
	}
	return response
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// ConversationResponse is the client view of a conversation.
type ConversationResponse struct {
	ID             uint           `json:"id"`
	Kind           string         `json:"kind"`
	Name           string         `json:"name,omitempty"`
	Avatar         string         `json:"avatar,omitempty"`
	ParticipantIDs []string       `json:"participantIds"`
	UnreadCount    map[string]int `json:"unreadCount"`
	LastMessageID  *uint          `json:"lastMessageId,omitempty"`
	IsActive       bool           `json:"isActive"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// NewConversationResponse converts a model into a DTO.
func NewConversationResponse(conversation models.Conversation) ConversationResponse {
	unread := make(map[string]int, len(conversation.Members))
	for _, member := range conversation.Members {
		unread[member.UserID] = member.UnreadCount
	}

	return ConversationResponse{
		ID:             conversation.ID,
		Kind:           conversation.Kind,
		Name:           conversation.Name,
		Avatar:         conversation.Avatar,
		ParticipantIDs: conversation.MemberIDs(),
		UnreadCount:    unread,
		LastMessageID:  conversation.LastMessageID,
		IsActive:       conversation.IsActive,
		CreatedAt:      conversation.CreatedAt,
		UpdatedAt:      conversation.UpdatedAt,
	}
}

// NewConversationResponseSlice converts a slice of models into DTOs.
func NewConversationResponseSlice(conversations []models.Conversation) []ConversationResponse {
	out := make([]ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		out = append(out, NewConversationResponse(conversation))
	}
	return out
}

// MessagesReadEvent tells other participants that a user caught up.
type MessagesReadEvent struct {
	ConversationID uint      `json:"conversationId"`
	UserID         string    `json:"userId"`
	MessageIDs     []uint    `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

// MarkReadResponse reports what a read acknowledgement changed.
type MarkReadResponse struct {
	ConversationID uint   `json:"conversationId"`
	MessageIDs     []uint `json:"messageIds"`
}

// MessageRecalledEvent announces a recalled message.
type MessageRecalledEvent struct {
	ConversationID uint      `json:"conversationId"`
	MessageID      uint      `json:"messageId"`
	RecalledAt     time.Time `json:"recalledAt"`
}

// TypingEvent signals typing activity in a conversation.
type TypingEvent struct {
	ConversationID uint   `json:"conversationId"`
	UserID         string `json:"userId"`
}

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	RecipientID    string `json:"recipientId" validate:"required,max=64"`
	Type           string `json:"type" validate:"required,oneof=like comment follow mention message"`
	ActorID        string `json:"actorId" validate:"omitempty,max=64"`
	PostID         string `json:"postId" validate:"omitempty,max=64"`
	CommentID      string `json:"commentId" validate:"omitempty,max=64"`
	MessageID      *uint  `json:"messageId"`
	ConversationID *uint  `json:"conversationId"`
}

// NotificationListQuery filters a recipient's notifications.
type NotificationListQuery struct {
	UnreadOnly bool `query:"unread"`
	Limit      int  `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset     int  `query:"offset" validate:"omitempty,min=0"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID             uint      `json:"id"`
	RecipientID    string    `json:"recipientId"`
	Type           string    `json:"type"`
	ActorID        string    `json:"actorId,omitempty"`
	PostID         string    `json:"postId,omitempty"`
	CommentID      string    `json:"commentId,omitempty"`
	MessageID      *uint     `json:"messageId,omitempty"`
	ConversationID *uint     `json:"conversationId,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:             model.ID,
		RecipientID:    model.RecipientID,
		Type:           model.Type,
		ActorID:        model.ActorID,
		PostID:         model.PostID,
		CommentID:      model.CommentID,
		MessageID:      model.MessageID,
		ConversationID: model.ConversationID,
		Read:           model.Read,
		CreatedAt:      model.CreatedAt,
	}
}

// NewNotificationResponseSlice converts notification models to DTOs.
func NewNotificationResponseSlice(notifications []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(notifications))
	for _, model := range notifications {
		out = append(out, NewNotificationResponse(model))
	}
	return out
}

// PresenceResponse reports a user's live presence and last activity.
type PresenceResponse struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// UserPresenceEvent is pushed when a user comes online or goes offline.
type UserPresenceEvent struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
