package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/monsc/zouxianba-api/internal/dto"
)

const presenceTTL = 30 * 24 * time.Hour

// PresenceService mirrors presence transitions into Redis so last-seen survives restarts.
// Live presence always comes from the in-process tracker; the mirror is best effort.
type PresenceService interface {
	MarkOnline(ctx context.Context, userID string, at time.Time)
	MarkOffline(ctx context.Context, userID string, at time.Time)
	LastSeen(ctx context.Context, userID string) (*time.Time, error)
	Lookup(ctx context.Context, userID string, online bool) (dto.PresenceResponse, error)
}

type presenceService struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewPresenceService constructs the presence mirror. A nil client turns every call into a no-op.
func NewPresenceService(redisClient *redis.Client, channelBase string, logger zerolog.Logger) PresenceService {
	prefix := "presence"
	if channelBase != "" {
		prefix = channelBase + ":presence"
	}
	return &presenceService{
		redis:  redisClient,
		prefix: prefix,
		logger: logger.With().Str("component", "presence_service").Logger(),
	}
}

func (s *presenceService) key(userID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, userID)
}

func (s *presenceService) MarkOnline(ctx context.Context, userID string, at time.Time) {
	s.write(ctx, userID, map[string]interface{}{
		"status": "online",
		"since":  at.UTC().Format(time.RFC3339Nano),
	})
}

func (s *presenceService) MarkOffline(ctx context.Context, userID string, at time.Time) {
	s.write(ctx, userID, map[string]interface{}{
		"status":    "offline",
		"last_seen": at.UTC().Format(time.RFC3339Nano),
	})
}

func (s *presenceService) write(ctx context.Context, userID string, fields map[string]interface{}) {
	if s.redis == nil || strings.TrimSpace(userID) == "" {
		return
	}

	key := s.key(userID)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to mirror presence")
	}
}

func (s *presenceService) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	if s.redis == nil {
		return nil, nil
	}

	value, err := s.redis.HGet(ctx, s.key(userID), "last_seen").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("invalid last seen for %s: %w", userID, err)
	}
	return &parsed, nil
}

func (s *presenceService) Lookup(ctx context.Context, userID string, online bool) (dto.PresenceResponse, error) {
	response := dto.PresenceResponse{UserID: userID, Online: online}
	if online {
		return response, nil
	}

	lastSeen, err := s.LastSeen(ctx, userID)
	if err != nil {
		return dto.PresenceResponse{}, err
	}
	response.LastSeen = lastSeen
	return response, nil
}
