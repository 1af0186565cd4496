package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/monsc/zouxianba-api/internal/models"
)

// ErrVersionConflict signals that a room changed between load and save.
var ErrVersionConflict = errors.New("voice room version conflict")

// VoiceRoomRepository persists voice rooms with optimistic versioning.
type VoiceRoomRepository interface {
	Create(ctx context.Context, room *models.VoiceRoom) error
	FindByID(ctx context.Context, id uint) (models.VoiceRoom, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.VoiceRoom, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.VoiceRoom, error)
	Save(ctx context.Context, room *models.VoiceRoom, expectedVersion int64) error
}

type voiceRoomRepository struct {
	db *gorm.DB
}

// NewVoiceRoomRepository constructs a room repository backed by GORM.
func NewVoiceRoomRepository(db *gorm.DB) VoiceRoomRepository {
	return &voiceRoomRepository{db: db}
}

func (r *voiceRoomRepository) Create(ctx context.Context, room *models.VoiceRoom) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *voiceRoomRepository) FindByID(ctx context.Context, id uint) (models.VoiceRoom, error) {
	var room models.VoiceRoom
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return models.VoiceRoom{}, err
	}
	return room, nil
}

func (r *voiceRoomRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.VoiceRoom, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx).Model(&models.VoiceRoom{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var rooms []models.VoiceRoom
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListDue returns scheduled rooms whose start time has passed.
func (r *voiceRoomRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.VoiceRoom, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var rooms []models.VoiceRoom
	if err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.RoomStatusScheduled, now).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// Save writes the mutable room state only if nobody else saved since expectedVersion was read.
func (r *voiceRoomRepository) Save(ctx context.Context, room *models.VoiceRoom, expectedVersion int64) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.VoiceRoom{}).
		Where("id = ? AND version = ?", room.ID, expectedVersion).
		Updates(map[string]interface{}{
			"participants":         room.Participants,
			"is_recording":         room.IsRecording,
			"recording_started_at": room.RecordingStartedAt,
			"recordings":           room.Recordings,
			"status":               room.Status,
			"started_at":           room.StartedAt,
			"ended_at":             room.EndedAt,
			"version":              expectedVersion + 1,
			"updated_at":           now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	room.Version = expectedVersion + 1
	room.UpdatedAt = now
	return nil
}
