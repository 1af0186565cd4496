package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/models"
	"github.com/monsc/zouxianba-api/internal/observability"
	"github.com/monsc/zouxianba-api/internal/repository"
)

const (
	// DefaultRoomCapacity applies when a room is created without a participant limit.
	DefaultRoomCapacity = 100
	roomSaveAttempts    = 3
)

// RoomService drives the voice room state machine.
type RoomService interface {
	Create(ctx context.Context, hostID string, payload dto.RoomCreateRequest) (dto.RoomResponse, error)
	Get(ctx context.Context, roomID uint) (dto.RoomResponse, error)
	List(ctx context.Context, query dto.RoomListQuery) ([]dto.RoomResponse, error)
	Start(ctx context.Context, roomID uint, requesterID string) (dto.RoomResponse, []Delivery, error)
	ActivateDue(ctx context.Context) ([]Delivery, error)
	Join(ctx context.Context, roomID uint, userID string) (dto.RoomResponse, []Delivery, error)
	Leave(ctx context.Context, roomID uint, userID string) ([]Delivery, error)
	SetRole(ctx context.Context, roomID uint, requesterID, targetID, role string) ([]Delivery, error)
	SetMuted(ctx context.Context, roomID uint, userID string, muted *bool) ([]Delivery, error)
	ModerateMute(ctx context.Context, roomID uint, requesterID, targetID string, muted bool) ([]Delivery, error)
	SetRaisedHand(ctx context.Context, roomID uint, userID string, raised *bool) ([]Delivery, error)
	StartRecording(ctx context.Context, roomID uint, requesterID string) ([]Delivery, error)
	StopRecording(ctx context.Context, roomID uint, requesterID string, payload dto.RoomRecordingStop) ([]Delivery, error)
	SendReaction(ctx context.Context, roomID uint, userID, emoji string) ([]Delivery, error)
	PublishTranscript(ctx context.Context, roomID uint, userID, text string) ([]Delivery, error)
	ControlBackgroundMusic(ctx context.Context, roomID uint, requesterID string, payload dto.BackgroundMusicRequest) ([]Delivery, error)
	End(ctx context.Context, roomID uint, requesterID string) (dto.RoomResponse, []Delivery, error)
}

type roomService struct {
	repo            repository.VoiceRoomRepository
	resolver        MediaResolver
	validator       *validator.Validate
	sanitizer       *bluemonday.Policy
	defaultCapacity int
	logger          zerolog.Logger
	tracer          trace.Tracer
	now             func() time.Time
}

// NewRoomService creates the voice room coordinator.
func NewRoomService(repo repository.VoiceRoomRepository, resolver MediaResolver, validate *validator.Validate, defaultCapacity int, logger zerolog.Logger) RoomService {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultRoomCapacity
	}

	return &roomService{
		repo:            repo,
		resolver:        resolver,
		validator:       validate,
		sanitizer:       bluemonday.StrictPolicy(),
		defaultCapacity: defaultCapacity,
		logger:          logger.With().Str("component", "room_service").Logger(),
		tracer:          otel.Tracer("github.com/monsc/zouxianba-api/internal/service/room"),
		now:             time.Now,
	}
}

func (s *roomService) Create(ctx context.Context, hostID string, payload dto.RoomCreateRequest) (dto.RoomResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.RoomResponse{}, err
	}

	title := strings.TrimSpace(s.sanitizer.Sanitize(payload.Title))
	if title == "" {
		return dto.RoomResponse{}, ErrValidation
	}

	capacity := payload.Settings.MaxParticipants
	if capacity <= 0 {
		capacity = s.defaultCapacity
	}

	settings := models.RoomSettings{
		IsPrivate:            payload.Settings.IsPrivate,
		AllowRaiseHand:       boolOrDefault(payload.Settings.AllowRaiseHand, true),
		AllowChat:            boolOrDefault(payload.Settings.AllowChat, true),
		AllowReactions:       boolOrDefault(payload.Settings.AllowReactions, true),
		AllowBackgroundMusic: boolOrDefault(payload.Settings.AllowBackgroundMusic, true),
		MaxParticipants:      capacity,
	}

	room := models.NewVoiceRoom(hostID, title, settings, payload.ScheduledFor, s.now().UTC())
	room.Description = strings.TrimSpace(s.sanitizer.Sanitize(payload.Description))

	if err := s.repo.Create(ctx, &room); err != nil {
		return dto.RoomResponse{}, err
	}

	observability.RoomEvents().WithLabelValues("created").Inc()
	s.logger.Info().Uint("room_id", room.ID).Str("host_id", hostID).Str("status", room.Status).Msg("voice room created")

	return dto.NewRoomResponse(room), nil
}

func (s *roomService) Get(ctx context.Context, roomID uint) (dto.RoomResponse, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return dto.RoomResponse{}, err
	}
	return dto.NewRoomResponse(room), nil
}

func (s *roomService) List(ctx context.Context, query dto.RoomListQuery) ([]dto.RoomResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	rooms, err := s.repo.ListByStatus(ctx, query.Status, query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}
	return dto.NewRoomResponseSlice(rooms), nil
}

func (s *roomService) Start(ctx context.Context, roomID uint, requesterID string) (dto.RoomResponse, []Delivery, error) {
	now := s.now().UTC()
	room, err := s.mutate(ctx, roomID, "room.start", func(room *models.VoiceRoom) error {
		return room.Start(requesterID, now)
	})
	if err != nil {
		return dto.RoomResponse{}, nil, err
	}

	return dto.NewRoomResponse(room), []Delivery{s.startedDelivery(room)}, nil
}

// ActivateDue moves scheduled rooms whose start time passed into the active state on the host's behalf.
func (s *roomService) ActivateDue(ctx context.Context) ([]Delivery, error) {
	now := s.now().UTC()
	due, err := s.repo.ListDue(ctx, now, 0)
	if err != nil {
		return nil, err
	}

	var deliveries []Delivery
	for _, candidate := range due {
		room, err := s.mutate(ctx, candidate.ID, "room.activate", func(room *models.VoiceRoom) error {
			return room.Start(room.HostID, now)
		})
		if err != nil {
			if errors.Is(err, ErrRoomAlreadyActive) || errors.Is(err, ErrRoomEnded) {
				continue
			}
			s.logger.Warn().Err(err).Uint("room_id", candidate.ID).Msg("failed to activate scheduled room")
			continue
		}
		deliveries = append(deliveries, s.startedDelivery(room))
	}
	return deliveries, nil
}

func (s *roomService) startedDelivery(room models.VoiceRoom) Delivery {
	observability.RoomEvents().WithLabelValues("started").Inc()
	return deliver(EventRoomStarted, dto.RoomLifecycleEvent{RoomID: room.ID, Status: room.Status, At: room.StartedAt}, room.ParticipantIDs()...)
}

func (s *roomService) Join(ctx context.Context, roomID uint, userID string) (dto.RoomResponse, []Delivery, error) {
	now := s.now().UTC()
	var joined models.RoomParticipant
	room, err := s.mutate(ctx, roomID, "room.join", func(room *models.VoiceRoom) error {
		p, err := room.Join(userID, now)
		joined = p
		return err
	})
	if err != nil {
		return dto.RoomResponse{}, nil, err
	}

	observability.RoomEvents().WithLabelValues(EventParticipantJoined).Inc()
	event := dto.RoomParticipantEvent{RoomID: room.ID, Participant: dto.NewRoomParticipantResponse(joined)}
	return dto.NewRoomResponse(room), []Delivery{deliver(EventParticipantJoined, event, room.ParticipantIDs()...)}, nil
}

func (s *roomService) Leave(ctx context.Context, roomID uint, userID string) ([]Delivery, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	left, ok := room.Participant(userID)
	if !ok {
		if room.IsEnded() {
			return nil, ErrRoomEnded
		}
		return nil, nil
	}
	recipients := room.ParticipantIDs()

	removed := false
	room, err = s.mutate(ctx, roomID, "room.leave", func(room *models.VoiceRoom) error {
		var err error
		removed, err = room.Leave(userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, nil
	}

	observability.RoomEvents().WithLabelValues(EventParticipantLeft).Inc()
	event := dto.RoomParticipantEvent{RoomID: room.ID, Participant: dto.NewRoomParticipantResponse(left)}
	return []Delivery{deliver(EventParticipantLeft, event, recipients...)}, nil
}

func (s *roomService) SetRole(ctx context.Context, roomID uint, requesterID, targetID, role string) ([]Delivery, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	return s.participantChange(ctx, roomID, "room.set_role", EventParticipantRoleChanged, func(room *models.VoiceRoom) (models.RoomParticipant, error) {
		return room.SetRole(requesterID, targetID, role)
	})
}

func (s *roomService) SetMuted(ctx context.Context, roomID uint, userID string, muted *bool) ([]Delivery, error) {
	return s.participantChange(ctx, roomID, "room.mute", EventParticipantMuted, func(room *models.VoiceRoom) (models.RoomParticipant, error) {
		return room.SetMuted(userID, muted)
	})
}

func (s *roomService) ModerateMute(ctx context.Context, roomID uint, requesterID, targetID string, muted bool) ([]Delivery, error) {
	return s.participantChange(ctx, roomID, "room.moderate_mute", EventParticipantMuted, func(room *models.VoiceRoom) (models.RoomParticipant, error) {
		return room.ModerateMute(requesterID, targetID, muted)
	})
}

func (s *roomService) SetRaisedHand(ctx context.Context, roomID uint, userID string, raised *bool) ([]Delivery, error) {
	return s.participantChange(ctx, roomID, "room.raise_hand", EventParticipantRaisedHand, func(room *models.VoiceRoom) (models.RoomParticipant, error) {
		return room.SetRaisedHand(userID, raised)
	})
}

func (s *roomService) participantChange(ctx context.Context, roomID uint, span, event string, apply func(room *models.VoiceRoom) (models.RoomParticipant, error)) ([]Delivery, error) {
	var changed models.RoomParticipant
	room, err := s.mutate(ctx, roomID, span, func(room *models.VoiceRoom) error {
		p, err := apply(room)
		changed = p
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.RoomEvents().WithLabelValues(event).Inc()
	payload := dto.RoomParticipantEvent{RoomID: room.ID, Participant: dto.NewRoomParticipantResponse(changed)}
	return []Delivery{deliver(event, payload, room.ParticipantIDs()...)}, nil
}

func (s *roomService) StartRecording(ctx context.Context, roomID uint, requesterID string) ([]Delivery, error) {
	now := s.now().UTC()
	room, err := s.mutate(ctx, roomID, "room.start_recording", func(room *models.VoiceRoom) error {
		return room.StartRecording(requesterID, now)
	})
	if err != nil {
		return nil, err
	}

	observability.RoomEvents().WithLabelValues(EventRecordingStarted).Inc()
	event := dto.RoomRecordingEvent{RoomID: room.ID, StartedAt: room.RecordingStartedAt}
	return []Delivery{deliver(EventRecordingStarted, event, room.ParticipantIDs()...)}, nil
}

func (s *roomService) StopRecording(ctx context.Context, roomID uint, requesterID string, payload dto.RoomRecordingStop) ([]Delivery, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, err
	}

	url := resolveRecordingURL(ctx, s.resolver, payload.URL, payload.PublicID)
	now := s.now().UTC()
	var recording models.RoomRecording
	room, err := s.mutate(ctx, roomID, "room.stop_recording", func(room *models.VoiceRoom) error {
		r, err := room.StopRecording(requesterID, url, payload.Duration, now)
		recording = r
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.RoomEvents().WithLabelValues(EventRecordingStopped).Inc()
	event := dto.RoomRecordingEvent{
		RoomID: room.ID,
		Recording: &dto.RoomRecordingResponse{
			URL:       recording.URL,
			Duration:  recording.Duration,
			StartedAt: recording.StartedAt,
			EndedAt:   recording.EndedAt,
		},
	}
	return []Delivery{deliver(EventRecordingStopped, event, room.ParticipantIDs()...)}, nil
}

func (s *roomService) SendReaction(ctx context.Context, roomID uint, userID, emoji string) ([]Delivery, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > 32 {
		return nil, ErrValidation
	}

	room, err := s.guard(ctx, roomID, func(room *models.VoiceRoom) error { return room.CanReact(userID) })
	if err != nil {
		return nil, err
	}

	observability.RoomEvents().WithLabelValues(EventReaction).Inc()
	event := dto.RoomReactionEvent{RoomID: room.ID, UserID: userID, Emoji: emoji, SentAt: s.now().UTC()}
	return []Delivery{deliver(EventReaction, event, room.ParticipantIDs()...)}, nil
}

func (s *roomService) PublishTranscript(ctx context.Context, roomID uint, userID, text string) ([]Delivery, error) {
	text = strings.TrimSpace(s.sanitizer.Sanitize(text))
	if text == "" || len(text) > 4000 {
		return nil, ErrValidation
	}

	room, err := s.guard(ctx, roomID, func(room *models.VoiceRoom) error { return room.CanPublishTranscript(userID) })
	if err != nil {
		return nil, err
	}

	observability.RoomEvents().WithLabelValues(EventTranscript).Inc()
	event := dto.RoomTranscriptEvent{RoomID: room.ID, UserID: userID, Text: text, SentAt: s.now().UTC()}
	return []Delivery{deliver(EventTranscript, event, room.ParticipantIDs()...)}, nil
}

func (s *roomService) ControlBackgroundMusic(ctx context.Context, roomID uint, requesterID string, payload dto.BackgroundMusicRequest) ([]Delivery, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, err
	}
	if payload.Action == "play" && strings.TrimSpace(payload.Track) == "" {
		return nil, ErrValidation
	}
	if payload.Action == "volume" && payload.Volume == nil {
		return nil, ErrValidation
	}

	room, err := s.guard(ctx, roomID, func(room *models.VoiceRoom) error { return room.CanControlMusic(requesterID) })
	if err != nil {
		return nil, err
	}

	observability.RoomEvents().WithLabelValues(EventBackgroundMusic).Inc()
	event := dto.RoomMusicEvent{
		RoomID: room.ID,
		UserID: requesterID,
		Action: payload.Action,
		Track:  strings.TrimSpace(payload.Track),
		Volume: payload.Volume,
	}
	return []Delivery{deliver(EventBackgroundMusic, event, room.ParticipantIDs()...)}, nil
}

func (s *roomService) End(ctx context.Context, roomID uint, requesterID string) (dto.RoomResponse, []Delivery, error) {
	now := s.now().UTC()
	room, err := s.mutate(ctx, roomID, "room.end", func(room *models.VoiceRoom) error {
		return room.End(requesterID, now)
	})
	if err != nil {
		return dto.RoomResponse{}, nil, err
	}

	observability.RoomEvents().WithLabelValues(EventRoomEnded).Inc()
	s.logger.Info().Uint("room_id", room.ID).Msg("voice room ended")
	event := dto.RoomLifecycleEvent{RoomID: room.ID, Status: room.Status, At: room.EndedAt}
	return dto.NewRoomResponse(room), []Delivery{deliver(EventRoomEnded, event, room.ParticipantIDs()...)}, nil
}

func (s *roomService) load(ctx context.Context, roomID uint) (models.VoiceRoom, error) {
	room, err := s.repo.FindByID(ctx, roomID)
	if err != nil {
		if isNotFound(err) {
			return models.VoiceRoom{}, ErrRoomNotFound
		}
		return models.VoiceRoom{}, err
	}
	return room, nil
}

// guard checks a broadcast-only signal against the current room without writing it.
func (s *roomService) guard(ctx context.Context, roomID uint, check func(room *models.VoiceRoom) error) (models.VoiceRoom, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return models.VoiceRoom{}, err
	}
	if err := check(&room); err != nil {
		return models.VoiceRoom{}, roomError(err)
	}
	return room, nil
}

// mutate applies one aggregate operation and saves it conditioned on the version it read,
// reloading and re-applying when another writer got there first.
func (s *roomService) mutate(ctx context.Context, roomID uint, name string, apply func(room *models.VoiceRoom) error) (models.VoiceRoom, error) {
	spanCtx, span := s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("room.id", int64(roomID)),
	))
	defer span.End()

	for attempt := 0; attempt < roomSaveAttempts; attempt++ {
		room, err := s.load(spanCtx, roomID)
		if err != nil {
			return models.VoiceRoom{}, err
		}

		if err := apply(&room); err != nil {
			return models.VoiceRoom{}, roomError(err)
		}

		err = s.repo.Save(spanCtx, &room, room.Version)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			span.RecordError(err)
			return models.VoiceRoom{}, err
		}
		s.logger.Debug().Uint("room_id", roomID).Int("attempt", attempt+1).Msg("voice room version conflict, retrying")
	}

	return models.VoiceRoom{}, ErrRoomBusy
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
