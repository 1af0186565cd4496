package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/monsc/zouxianba-api/internal/models"
)

// MessageRepository persists conversation messages and their read receipts.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id uint) (models.Message, error)
	ListByConversation(ctx context.Context, conversationID, beforeID uint, limit int) ([]models.Message, error)
	UnreadIDs(ctx context.Context, conversationID uint, userID string) ([]uint, error)
	InsertReads(ctx context.Context, reads []models.MessageRead) (int64, error)
	MarkRecalled(ctx context.Context, id uint, at time.Time) (bool, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Omit("Reads").Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id uint) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ListByConversation returns a page of messages older than beforeID in ascending id order.
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID, beforeID uint, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Preload("Reads").Where("conversation_id = ?", conversationID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}

	var messages []models.Message
	if err := query.Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// UnreadIDs lists messages from other senders that the user has no receipt for.
func (r *messageRepository) UnreadIDs(ctx context.Context, conversationID uint, userID string) ([]uint, error) {
	read := r.db.Model(&models.MessageRead{}).Select("message_id").Where("user_id = ? AND conversation_id = ?", userID, conversationID)

	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, userID).
		Where("id NOT IN (?)", read).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// InsertReads stores receipts, skipping ones that already exist.
func (r *messageRepository) InsertReads(ctx context.Context, reads []models.MessageRead) (int64, error) {
	if len(reads) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&reads)
	return result.RowsAffected, result.Error
}

// MarkRecalled flips the recalled flag once; it reports false when the message was already recalled.
func (r *messageRepository) MarkRecalled(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND recalled = ?", id, false).
		Updates(map[string]interface{}{
			"recalled":    true,
			"recalled_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
