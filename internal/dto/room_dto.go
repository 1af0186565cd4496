package dto

import (
	"time"

	"github.com/monsc/zouxianba-api/internal/models"
)

// RoomSettingsInput configures a new voice room. Omitted permissions default to enabled.
type RoomSettingsInput struct {
	IsPrivate            bool  `json:"isPrivate"`
	AllowRaiseHand       *bool `json:"allowRaiseHand"`
	AllowChat            *bool `json:"allowChat"`
	AllowReactions       *bool `json:"allowReactions"`
	AllowBackgroundMusic *bool `json:"allowBackgroundMusic"`
	MaxParticipants      int   `json:"maxParticipants" validate:"omitempty,min=2,max=10000"`
}

// RoomCreateRequest is the payload to open or schedule a room.
type RoomCreateRequest struct {
	Title        string            `json:"title" validate:"required,min=1,max=200"`
	Description  string            `json:"description" validate:"omitempty,max=2000"`
	Settings     RoomSettingsInput `json:"settings"`
	ScheduledFor *time.Time        `json:"scheduledFor"`
}

// RoomListQuery filters rooms by status.
type RoomListQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=scheduled active ended"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `query:"offset" validate:"omitempty,min=0"`
}

// RoomRecordingStop carries the optional result of a finished recording.
type RoomRecordingStop struct {
	URL      string `json:"url" validate:"omitempty,max=1024"`
	PublicID string `json:"publicId" validate:"omitempty,max=255"`
	Duration int    `json:"duration" validate:"gte=0"`
}

// BackgroundMusicRequest controls room background music.
type BackgroundMusicRequest struct {
	Action string `json:"action" validate:"required,oneof=play pause resume stop volume"`
	Track  string `json:"track" validate:"omitempty,max=512"`
	Volume *int   `json:"volume" validate:"omitempty,min=0,max=100"`
}

// RoomParticipantResponse is the client view of a roster entry.
type RoomParticipantResponse struct {
	UserID        string    `json:"userId"`
	Role          string    `json:"role"`
	IsMuted       bool      `json:"isMuted"`
	HasRaisedHand bool      `json:"hasRaisedHand"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// NewRoomParticipantResponse converts a participant value.
func NewRoomParticipantResponse(p models.RoomParticipant) RoomParticipantResponse {
	return RoomParticipantResponse{
		UserID:        p.UserID,
		Role:          p.Role,
		IsMuted:       p.IsMuted,
		HasRaisedHand: p.HasRaisedHand,
		JoinedAt:      p.JoinedAt,
	}
}

// RoomSettingsResponse mirrors the stored settings.
type RoomSettingsResponse struct {
	IsPrivate            bool `json:"isPrivate"`
	AllowRaiseHand       bool `json:"allowRaiseHand"`
	AllowChat            bool `json:"allowChat"`
	AllowReactions       bool `json:"allowReactions"`
	AllowBackgroundMusic bool `json:"allowBackgroundMusic"`
	MaxParticipants      int  `json:"maxParticipants"`
}

// RoomRecordingResponse is the client view of a finished recording.
type RoomRecordingResponse struct {
	URL       string    `json:"url"`
	Duration  int       `json:"duration"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// RoomResponse is the client view of a voice room.
type RoomResponse struct {
	ID           uint                      `json:"id"`
	HostID       string                    `json:"hostId"`
	Title        string                    `json:"title"`
	Description  string                    `json:"description,omitempty"`
	Participants []RoomParticipantResponse `json:"participants"`
	IsRecording  bool                      `json:"isRecording"`
	Recordings   []RoomRecordingResponse   `json:"recordings"`
	Settings     RoomSettingsResponse      `json:"settings"`
	Status       string                    `json:"status"`
	ScheduledFor *time.Time                `json:"scheduledFor,omitempty"`
	StartedAt    *time.Time                `json:"startedAt,omitempty"`
	EndedAt      *time.Time                `json:"endedAt,omitempty"`
}

// NewRoomResponse converts the room aggregate into a DTO.
func NewRoomResponse(room models.VoiceRoom) RoomResponse {
	participants := make([]RoomParticipantResponse, 0, len(room.Participants))
	for _, p := range room.Participants {
		participants = append(participants, NewRoomParticipantResponse(p))
	}
	recordings := make([]RoomRecordingResponse, 0, len(room.Recordings))
	for _, r := range room.Recordings {
		recordings = append(recordings, RoomRecordingResponse{URL: r.URL, Duration: r.Duration, StartedAt: r.StartedAt, EndedAt: r.EndedAt})
	}

	return RoomResponse{
		ID:           room.ID,
		HostID:       room.HostID,
		Title:        room.Title,
		Description:  room.Description,
		Participants: participants,
		IsRecording:  room.IsRecording,
		Recordings:   recordings,
		Settings: RoomSettingsResponse{
			IsPrivate:            room.Settings.IsPrivate,
			AllowRaiseHand:       room.Settings.AllowRaiseHand,
			AllowChat:            room.Settings.AllowChat,
			AllowReactions:       room.Settings.AllowReactions,
			AllowBackgroundMusic: room.Settings.AllowBackgroundMusic,
			MaxParticipants:      room.Settings.MaxParticipants,
		},
		Status:       room.Status,
		ScheduledFor: room.ScheduledFor,
		StartedAt:    room.StartedAt,
		EndedAt:      room.EndedAt,
	}
}

// NewRoomResponseSlice converts rooms into DTOs.
func NewRoomResponseSlice(rooms []models.VoiceRoom) []RoomResponse {
	out := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, NewRoomResponse(room))
	}
	return out
}

// RoomParticipantEvent is pushed for roster changes (join, leave, mute, hand, role).
type RoomParticipantEvent struct {
	RoomID      uint                    `json:"roomId"`
	Participant RoomParticipantResponse `json:"participant"`
}

// RoomRecordingEvent is pushed when recording starts or stops.
type RoomRecordingEvent struct {
	RoomID    uint                   `json:"roomId"`
	StartedAt *time.Time             `json:"startedAt,omitempty"`
	Recording *RoomRecordingResponse `json:"recording,omitempty"`
}

// RoomReactionEvent carries a live reaction.
type RoomReactionEvent struct {
	RoomID uint      `json:"roomId"`
	UserID string    `json:"userId"`
	Emoji  string    `json:"emoji"`
	SentAt time.Time `json:"sentAt"`
}

// RoomTranscriptEvent carries a live transcript line.
type RoomTranscriptEvent struct {
	RoomID uint      `json:"roomId"`
	UserID string    `json:"userId"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// RoomMusicEvent carries a background music command.
type RoomMusicEvent struct {
	RoomID uint   `json:"roomId"`
	UserID string `json:"userId"`
	Action string `json:"action"`
	Track  string `json:"track,omitempty"`
	Volume *int   `json:"volume,omitempty"`
}

// RoomLifecycleEvent is pushed when a room starts or ends.
type RoomLifecycleEvent struct {
	RoomID uint       `json:"roomId"`
	Status string     `json:"status"`
	At     *time.Time `json:"at,omitempty"`
}
