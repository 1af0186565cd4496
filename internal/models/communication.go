package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Conversation kinds.
const (
	ConversationKindDirect = "direct"
	ConversationKindGroup  = "group"
)

// Notification types.
const (
	NotificationTypeLike    = "like"
	NotificationTypeComment = "comment"
	NotificationTypeFollow  = "follow"
	NotificationTypeMention = "mention"
	NotificationTypeMessage = "message"
)

// Conversation groups participants and the messages they exchange.
// Direct conversations carry a PeerKey so at most one exists per unordered pair.
type Conversation struct {
	ID            uint                 `gorm:"primaryKey" json:"id"`
	Kind          string               `gorm:"size:16;not null;index" json:"kind"`
	Name          string               `gorm:"size:128" json:"name"`
	Avatar        string               `gorm:"size:512" json:"avatar"`
	PeerKey       *string              `gorm:"size:160;uniqueIndex" json:"-"`
	LastMessageID *uint                `json:"last_message_id"`
	IsActive      bool                 `gorm:"not null;default:true" json:"is_active"`
	CreatedBy     string               `gorm:"size:64" json:"created_by"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	Members       []ConversationMember `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"members"`
}

// MemberIDs lists the user ids of every participant.
func (c Conversation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, member := range c.Members {
		ids = append(ids, member.UserID)
	}
	return ids
}

// HasMember reports whether the user participates in the conversation.
func (c Conversation) HasMember(userID string) bool {
	for _, member := range c.Members {
		if member.UserID == userID {
			return true
		}
	}
	return false
}

// ConversationMember stores a participant and their unread counter.
type ConversationMember struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;uniqueIndex:idx_conversation_member" json:"conversation_id"`
	UserID         string    `gorm:"size:64;not null;uniqueIndex:idx_conversation_member;index" json:"user_id"`
	UnreadCount    int       `gorm:"not null;default:0" json:"unread_count"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Attachment references media stored by the external upload facility.
type Attachment struct {
	URL       string `json:"url"`
	PublicID  string `json:"public_id,omitempty"`
	MimeType  string `json:"mime_type"`
	Extension string `json:"extension,omitempty"`
	Name      string `json:"name,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// Message is a single conversation entry. Content is never edited; recall only hides it.
type Message struct {
	ID             uint                            `gorm:"primaryKey" json:"id"`
	ConversationID uint                            `gorm:"not null;index" json:"conversation_id"`
	SenderID       string                          `gorm:"size:64;not null;index" json:"sender_id"`
	Content        string                          `gorm:"type:text" json:"content"`
	Attachments    datatypes.JSONSlice[Attachment] `json:"attachments"`
	Recalled       bool                            `gorm:"not null;default:false" json:"recalled"`
	RecalledAt     *time.Time                      `json:"recalled_at"`
	CreatedAt      time.Time                       `gorm:"index" json:"created_at"`
	Reads          []MessageRead                   `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reads"`
}

// MessageRead is a read receipt; the composite key keeps one receipt per reader.
type MessageRead struct {
	MessageID      uint      `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID         string    `gorm:"primaryKey;size:64" json:"user_id"`
	ConversationID uint      `gorm:"not null;index" json:"conversation_id"`
	ReadAt         time.Time `json:"read_at"`
}

// Notification is a durable record addressed to one recipient.
type Notification struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	RecipientID    string    `gorm:"size:64;not null;index:idx_notification_recipient" json:"recipient_id"`
	Type           string    `gorm:"size:32;not null" json:"type"`
	ActorID        string    `gorm:"size:64" json:"actor_id"`
	PostID         string    `gorm:"size:64" json:"post_id"`
	CommentID      string    `gorm:"size:64" json:"comment_id"`
	MessageID      *uint     `json:"message_id"`
	ConversationID *uint     `json:"conversation_id"`
	Read           bool      `gorm:"not null;default:false;index:idx_notification_recipient" json:"read"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MaxUserIDLength bounds every user id column.
const MaxUserIDLength = 64

// DirectPeerKey builds the order-independent key of a direct conversation.
// Each id is length-prefixed so ids containing the separator cannot collide.
func DirectPeerKey(userA, userB string) string {
	pair := []string{strings.TrimSpace(userA), strings.TrimSpace(userB)}
	sort.Strings(pair)
	return fmt.Sprintf("%d:%s|%d:%s", len(pair[0]), pair[0], len(pair[1]), pair[1])
}
