package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Room statuses. Transitions only move forward: scheduled -> active -> ended.
const (
	RoomStatusScheduled = "scheduled"
	RoomStatusActive    = "active"
	RoomStatusEnded     = "ended"
)

// Participant roles.
const (
	RoomRoleHost     = "host"
	RoomRoleSpeaker  = "speaker"
	RoomRoleListener = "listener"
)

var (
	ErrRoomEnded         = errors.New("room has ended")
	ErrRoomNotOpen       = errors.New("room is not open")
	ErrRoomAlreadyActive = errors.New("room is already active")
	ErrRoomFull          = errors.New("room is full")
	ErrNotRoomHost       = errors.New("only the host may do this")
	ErrNotInRoom         = errors.New("user is not a room participant")
	ErrInvalidRoomRole   = errors.New("invalid participant role")
	ErrAlreadyRecording  = errors.New("room is already recording")
	ErrNotRecording      = errors.New("room is not recording")
	ErrFeatureDisabled   = errors.New("feature disabled for this room")
)

// RoomSettings configure what participants may do in a room.
type RoomSettings struct {
	IsPrivate            bool `json:"is_private"`
	AllowRaiseHand       bool `json:"allow_raise_hand"`
	AllowChat            bool `json:"allow_chat"`
	AllowReactions       bool `json:"allow_reactions"`
	AllowBackgroundMusic bool `json:"allow_background_music"`
	MaxParticipants      int  `gorm:"not null" json:"max_participants"`
}

// RoomParticipant is owned by its VoiceRoom and only changed through room methods.
type RoomParticipant struct {
	UserID        string    `json:"user_id"`
	Role          string    `json:"role"`
	IsMuted       bool      `json:"is_muted"`
	HasRaisedHand bool      `json:"has_raised_hand"`
	JoinedAt      time.Time `json:"joined_at"`
}

// RoomRecording describes a finished recording.
type RoomRecording struct {
	URL       string    `json:"url"`
	Duration  int       `json:"duration"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// VoiceRoom is the aggregate holding room metadata and its roster.
type VoiceRoom struct {
	ID                 uint                                 `gorm:"primaryKey" json:"id"`
	HostID             string                               `gorm:"size:64;not null;index" json:"host_id"`
	Title              string                               `gorm:"size:200;not null" json:"title"`
	Description        string                               `gorm:"type:text" json:"description"`
	Participants       datatypes.JSONSlice[RoomParticipant] `json:"participants"`
	IsRecording        bool                                 `gorm:"not null" json:"is_recording"`
	RecordingStartedAt *time.Time                           `json:"recording_started_at"`
	Recordings         datatypes.JSONSlice[RoomRecording]   `json:"recordings"`
	Settings           RoomSettings                         `gorm:"embedded;embeddedPrefix:setting_" json:"settings"`
	Status             string                               `gorm:"size:16;not null;index" json:"status"`
	ScheduledFor       *time.Time                           `gorm:"index" json:"scheduled_for"`
	StartedAt          *time.Time                           `json:"started_at"`
	EndedAt            *time.Time                           `json:"ended_at"`
	Version            int64                                `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time                            `json:"created_at"`
	UpdatedAt          time.Time                            `json:"updated_at"`
}

// NewVoiceRoom builds a room with the host seated. A scheduledFor after now yields a scheduled room.
func NewVoiceRoom(hostID, title string, settings RoomSettings, scheduledFor *time.Time, now time.Time) VoiceRoom {
	room := VoiceRoom{
		HostID:   hostID,
		Title:    title,
		Settings: settings,
		Status:   RoomStatusActive,
		Version:  1,
		Participants: datatypes.JSONSlice[RoomParticipant]{{
			UserID:   hostID,
			Role:     RoomRoleHost,
			JoinedAt: now,
		}},
	}

	if scheduledFor != nil && scheduledFor.After(now) {
		at := scheduledFor.UTC()
		room.Status = RoomStatusScheduled
		room.ScheduledFor = &at
		return room
	}

	started := now
	room.StartedAt = &started
	return room
}

// IsEnded reports whether the room reached its terminal state.
func (r *VoiceRoom) IsEnded() bool {
	return r.Status == RoomStatusEnded
}

// ParticipantIDs returns the user ids currently in the roster.
func (r *VoiceRoom) ParticipantIDs() []string {
	ids := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Participant looks up a roster entry.
func (r *VoiceRoom) Participant(userID string) (RoomParticipant, bool) {
	if idx := r.indexOf(userID); idx >= 0 {
		return r.Participants[idx], true
	}
	return RoomParticipant{}, false
}

// Start activates a scheduled room.
func (r *VoiceRoom) Start(requesterID string, now time.Time) error {
	if r.IsEnded() {
		return ErrRoomEnded
	}
	if requesterID != r.HostID {
		return ErrNotRoomHost
	}
	if r.Status == RoomStatusActive {
		return ErrRoomAlreadyActive
	}
	r.Status = RoomStatusActive
	r.StartedAt = &now
	return nil
}

// Join seats a user as a listener. Re-joining refreshes joinedAt and keeps the prior role.
// A full roster rejects the join without touching it.
func (r *VoiceRoom) Join(userID string, now time.Time) (RoomParticipant, error) {
	if err := r.requireActive(); err != nil {
		return RoomParticipant{}, err
	}

	if idx := r.indexOf(userID); idx >= 0 {
		r.Participants[idx].JoinedAt = now
		return r.Participants[idx], nil
	}

	limit := r.Settings.MaxParticipants
	if limit > 0 && len(r.Participants) >= limit {
		return RoomParticipant{}, ErrRoomFull
	}

	role := RoomRoleListener
	if userID == r.HostID {
		role = RoomRoleHost
	}

	participant := RoomParticipant{UserID: userID, Role: role, JoinedAt: now}
	r.Participants = append(r.Participants, participant)
	return participant, nil
}

// Leave removes the user from the roster; it reports false when they were not seated.
func (r *VoiceRoom) Leave(userID string) (bool, error) {
	if r.IsEnded() {
		return false, ErrRoomEnded
	}

	idx := r.indexOf(userID)
	if idx < 0 {
		return false, nil
	}

	r.Participants = append(r.Participants[:idx], r.Participants[idx+1:]...)
	return true, nil
}

// SetRole changes a participant's role. The host seat cannot be granted or taken away.
func (r *VoiceRoom) SetRole(requesterID, targetID, role string) (RoomParticipant, error) {
	if r.IsEnded() {
		return RoomParticipant{}, ErrRoomEnded
	}
	if requesterID != r.HostID {
		return RoomParticipant{}, ErrNotRoomHost
	}
	if role != RoomRoleSpeaker && role != RoomRoleListener {
		return RoomParticipant{}, ErrInvalidRoomRole
	}
	if targetID == r.HostID {
		return RoomParticipant{}, ErrInvalidRoomRole
	}

	idx := r.indexOf(targetID)
	if idx < 0 {
		return RoomParticipant{}, ErrNotInRoom
	}

	r.Participants[idx].Role = role
	return r.Participants[idx], nil
}

// SetMuted updates the caller's own mute flag; a nil value toggles it.
func (r *VoiceRoom) SetMuted(userID string, value *bool) (RoomParticipant, error) {
	if err := r.requireActive(); err != nil {
		return RoomParticipant{}, err
	}

	idx := r.indexOf(userID)
	if idx < 0 {
		return RoomParticipant{}, ErrNotInRoom
	}

	p := &r.Participants[idx]
	p.IsMuted = resolveFlag(p.IsMuted, value)
	return *p, nil
}

// ModerateMute lets the host force another participant's mute flag.
func (r *VoiceRoom) ModerateMute(requesterID, targetID string, muted bool) (RoomParticipant, error) {
	if r.IsEnded() {
		return RoomParticipant{}, ErrRoomEnded
	}
	if requesterID != r.HostID {
		return RoomParticipant{}, ErrNotRoomHost
	}
	return r.SetMuted(targetID, &muted)
}

// SetRaisedHand updates the caller's own raised-hand flag; a nil value toggles it.
func (r *VoiceRoom) SetRaisedHand(userID string, value *bool) (RoomParticipant, error) {
	if err := r.requireActive(); err != nil {
		return RoomParticipant{}, err
	}
	if !r.Settings.AllowRaiseHand {
		return RoomParticipant{}, ErrFeatureDisabled
	}

	idx := r.indexOf(userID)
	if idx < 0 {
		return RoomParticipant{}, ErrNotInRoom
	}

	p := &r.Participants[idx]
	p.HasRaisedHand = resolveFlag(p.HasRaisedHand, value)
	return *p, nil
}

// StartRecording flags the room as recording.
func (r *VoiceRoom) StartRecording(requesterID string, now time.Time) error {
	if err := r.requireActive(); err != nil {
		return err
	}
	if requesterID != r.HostID {
		return ErrNotRoomHost
	}
	if r.IsRecording {
		return ErrAlreadyRecording
	}

	r.IsRecording = true
	r.RecordingStartedAt = &now
	return nil
}

// StopRecording clears the recording flag and appends the finished recording.
// A non-positive duration is derived from the recording start time.
func (r *VoiceRoom) StopRecording(requesterID, url string, duration int, now time.Time) (RoomRecording, error) {
	if err := r.requireActive(); err != nil {
		return RoomRecording{}, err
	}
	if requesterID != r.HostID {
		return RoomRecording{}, ErrNotRoomHost
	}
	if !r.IsRecording {
		return RoomRecording{}, ErrNotRecording
	}

	startedAt := now
	if r.RecordingStartedAt != nil {
		startedAt = *r.RecordingStartedAt
	}
	if duration <= 0 {
		duration = int(now.Sub(startedAt).Seconds())
	}

	recording := RoomRecording{URL: url, Duration: duration, StartedAt: startedAt, EndedAt: now}
	r.Recordings = append(r.Recordings, recording)
	r.IsRecording = false
	r.RecordingStartedAt = nil
	return recording, nil
}

// CanReact checks a live reaction from the user.
func (r *VoiceRoom) CanReact(userID string) error {
	return r.requireFeature(userID, r.Settings.AllowReactions, false)
}

// CanPublishTranscript checks a transcript line from the user.
func (r *VoiceRoom) CanPublishTranscript(userID string) error {
	return r.requireFeature(userID, r.Settings.AllowChat, false)
}

// CanControlMusic checks background music control; only the host drives playback.
func (r *VoiceRoom) CanControlMusic(userID string) error {
	return r.requireFeature(userID, r.Settings.AllowBackgroundMusic, true)
}

// End closes the room for good. Any recording in progress and every raised hand are discarded.
func (r *VoiceRoom) End(requesterID string, now time.Time) error {
	if r.IsEnded() {
		return ErrRoomEnded
	}
	if requesterID != r.HostID {
		return ErrNotRoomHost
	}

	r.Status = RoomStatusEnded
	r.EndedAt = &now
	r.IsRecording = false
	r.RecordingStartedAt = nil
	for i := range r.Participants {
		r.Participants[i].HasRaisedHand = false
	}
	return nil
}

func (r *VoiceRoom) requireActive() error {
	switch r.Status {
	case RoomStatusActive:
		return nil
	case RoomStatusEnded:
		return ErrRoomEnded
	default:
		return ErrRoomNotOpen
	}
}

func (r *VoiceRoom) requireFeature(userID string, enabled, hostOnly bool) error {
	if err := r.requireActive(); err != nil {
		return err
	}
	if !enabled {
		return ErrFeatureDisabled
	}
	if hostOnly && userID != r.HostID {
		return ErrNotRoomHost
	}
	if r.indexOf(userID) < 0 {
		return ErrNotInRoom
	}
	return nil
}

func (r *VoiceRoom) indexOf(userID string) int {
	for i, p := range r.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func resolveFlag(current bool, value *bool) bool {
	if value == nil {
		return !current
	}
	return *value
}
