package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/monsc/zouxianba-api/internal/models"
)

// ConversationRepository persists conversations and their member rows.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	FindByID(ctx context.Context, id uint) (models.Conversation, error)
	FindByPeerKey(ctx context.Context, peerKey string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, error)
	FindMember(ctx context.Context, conversationID uint, userID string) (models.ConversationMember, error)
	IncrementUnread(ctx context.Context, conversationID uint, exceptUserID string) error
	ResetUnread(ctx context.Context, conversationID uint, userID string) (int64, error)
	TouchLastMessage(ctx context.Context, conversationID, messageID uint) error
	SetActive(ctx context.Context, conversationID uint, active bool) error
	RemoveMember(ctx context.Context, conversationID uint, userID string) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository constructs a conversation repository backed by GORM.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create inserts the conversation together with its members in one transaction.
func (r *conversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(conversation).Error
	})
}

func (r *conversationRepository) FindByID(ctx context.Context, id uint) (models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Preload("Members").First(&conversation, id).Error
	if err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) FindByPeerKey(ctx context.Context, peerKey string) (models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Preload("Members").Where("peer_key = ?", peerKey).First(&conversation).Error
	if err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	member := r.db.Model(&models.ConversationMember{}).Select("conversation_id").Where("user_id = ?", userID)

	var conversations []models.Conversation
	if err := r.db.WithContext(ctx).
		Preload("Members").
		Where("id IN (?)", member).
		Where("is_active = ?", true).
		Order("updated_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&conversations).Error; err != nil {
		return nil, err
	}

	return conversations, nil
}

func (r *conversationRepository) FindMember(ctx context.Context, conversationID uint, userID string) (models.ConversationMember, error) {
	var member models.ConversationMember
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&member).Error
	if err != nil {
		return models.ConversationMember{}, err
	}
	return member, nil
}

// IncrementUnread bumps every member's counter except the sender's in a single statement.
func (r *conversationRepository) IncrementUnread(ctx context.Context, conversationID uint, exceptUserID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id <> ?", conversationID, exceptUserID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error
}

// ResetUnread zeroes the member's counter and reports whether a non-zero value was cleared.
func (r *conversationRepository) ResetUnread(ctx context.Context, conversationID uint, userID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND unread_count <> 0", conversationID, userID).
		UpdateColumn("unread_count", 0)
	return result.RowsAffected, result.Error
}

// TouchLastMessage records the latest message and re-activates the conversation.
func (r *conversationRepository) TouchLastMessage(ctx context.Context, conversationID, messageID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"is_active":       true,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *conversationRepository) SetActive(ctx context.Context, conversationID uint, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *conversationRepository) RemoveMember(ctx context.Context, conversationID uint, userID string) error {
	return r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&models.ConversationMember{}).Error
}
