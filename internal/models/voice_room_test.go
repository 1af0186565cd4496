package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRoom(capacity int) VoiceRoom {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return NewVoiceRoom("host", "Evening chat", RoomSettings{
		AllowRaiseHand:       true,
		AllowChat:            true,
		AllowReactions:       true,
		AllowBackgroundMusic: true,
		MaxParticipants:      capacity,
	}, nil, now)
}

func TestNewVoiceRoomSeatsHost(t *testing.T) {
	room := newTestRoom(10)

	require.Equal(t, RoomStatusActive, room.Status)
	require.NotNil(t, room.StartedAt)
	require.Len(t, room.Participants, 1)
	require.Equal(t, RoomRoleHost, room.Participants[0].Role)
}

func TestNewVoiceRoomScheduledForFuture(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Hour)

	room := NewVoiceRoom("host", "Later", RoomSettings{MaxParticipants: 5}, &later, now)
	require.Equal(t, RoomStatusScheduled, room.Status)
	require.Nil(t, room.StartedAt)

	_, err := room.Join("u1", now)
	require.ErrorIs(t, err, ErrRoomNotOpen)

	require.ErrorIs(t, room.Start("u1", now), ErrNotRoomHost)
	require.NoError(t, room.Start("host", now))
	require.ErrorIs(t, room.Start("host", now), ErrRoomAlreadyActive)
}

func TestJoinCapacityNeverExceeded(t *testing.T) {
	room := newTestRoom(2)
	now := time.Now()

	_, err := room.Join("l1", now)
	require.NoError(t, err)

	_, err = room.Join("l2", now)
	require.ErrorIs(t, err, ErrRoomFull)
	require.Equal(t, []string{"host", "l1"}, room.ParticipantIDs())

	rejoined, err := room.Join("l1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), rejoined.JoinedAt)
	require.Len(t, room.Participants, 2)
}

func TestRejoinKeepsRole(t *testing.T) {
	room := newTestRoom(5)
	now := time.Now()

	_, err := room.Join("l1", now)
	require.NoError(t, err)
	_, err = room.SetRole("host", "l1", RoomRoleSpeaker)
	require.NoError(t, err)

	p, err := room.Join("l1", now)
	require.NoError(t, err)
	require.Equal(t, RoomRoleSpeaker, p.Role)
}

func TestSetRoleRules(t *testing.T) {
	room := newTestRoom(5)
	_, err := room.Join("l1", time.Now())
	require.NoError(t, err)

	_, err = room.SetRole("l1", "l1", RoomRoleSpeaker)
	require.ErrorIs(t, err, ErrNotRoomHost)

	_, err = room.SetRole("host", "l1", RoomRoleHost)
	require.ErrorIs(t, err, ErrInvalidRoomRole)

	_, err = room.SetRole("host", "host", RoomRoleListener)
	require.ErrorIs(t, err, ErrInvalidRoomRole)

	_, err = room.SetRole("host", "ghost", RoomRoleSpeaker)
	require.ErrorIs(t, err, ErrNotInRoom)
}

func TestMuteAndRaiseHandToggle(t *testing.T) {
	room := newTestRoom(5)
	_, err := room.Join("l1", time.Now())
	require.NoError(t, err)

	p, err := room.SetMuted("l1", nil)
	require.NoError(t, err)
	require.True(t, p.IsMuted)

	off := false
	p, err = room.SetMuted("l1", &off)
	require.NoError(t, err)
	require.False(t, p.IsMuted)

	p, err = room.SetRaisedHand("l1", nil)
	require.NoError(t, err)
	require.True(t, p.HasRaisedHand)

	_, err = room.ModerateMute("l1", "host", true)
	require.ErrorIs(t, err, ErrNotRoomHost)

	p, err = room.ModerateMute("host", "l1", true)
	require.NoError(t, err)
	require.True(t, p.IsMuted)

	room.Settings.AllowRaiseHand = false
	_, err = room.SetRaisedHand("l1", nil)
	require.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestRecordingLifecycle(t *testing.T) {
	room := newTestRoom(5)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.ErrorIs(t, room.StartRecording("l1", start), ErrNotRoomHost)
	require.NoError(t, room.StartRecording("host", start))
	require.ErrorIs(t, room.StartRecording("host", start), ErrAlreadyRecording)
	require.True(t, room.IsRecording)

	rec, err := room.StopRecording("host", "https://cdn.example.com/r.mp3", 0, start.Add(90*time.Second))
	require.NoError(t, err)
	require.Equal(t, 90, rec.Duration)
	require.Len(t, room.Recordings, 1)
	require.False(t, room.IsRecording)

	_, err = room.StopRecording("host", "", 0, start)
	require.ErrorIs(t, err, ErrNotRecording)
}

func TestFeatureGates(t *testing.T) {
	room := newTestRoom(5)
	_, err := room.Join("l1", time.Now())
	require.NoError(t, err)

	require.NoError(t, room.CanReact("l1"))
	require.ErrorIs(t, room.CanReact("stranger"), ErrNotInRoom)
	require.ErrorIs(t, room.CanControlMusic("l1"), ErrNotRoomHost)
	require.NoError(t, room.CanControlMusic("host"))

	room.Settings.AllowChat = false
	require.ErrorIs(t, room.CanPublishTranscript("l1"), ErrFeatureDisabled)
}

func TestEndIsTerminalAndClearsPendingFlags(t *testing.T) {
	room := newTestRoom(5)
	now := time.Now()
	_, err := room.Join("l1", now)
	require.NoError(t, err)
	_, err = room.SetRaisedHand("l1", nil)
	require.NoError(t, err)
	require.NoError(t, room.StartRecording("host", now))

	require.ErrorIs(t, room.End("l1", now), ErrNotRoomHost)
	require.NoError(t, room.End("host", now))
	require.False(t, room.IsRecording)
	p, _ := room.Participant("l1")
	require.False(t, p.HasRaisedHand)

	require.ErrorIs(t, room.End("host", now), ErrRoomEnded)
	_, err = room.Join("l2", now)
	require.ErrorIs(t, err, ErrRoomEnded)
	_, err = room.SetMuted("l1", nil)
	require.ErrorIs(t, err, ErrRoomEnded)
	require.ErrorIs(t, room.StartRecording("host", now), ErrRoomEnded)
	_, err = room.Leave("l1")
	require.ErrorIs(t, err, ErrRoomEnded)
	require.ErrorIs(t, room.CanReact("l1"), ErrRoomEnded)
	require.ErrorIs(t, room.Start("host", now), ErrRoomEnded)
}

func TestDirectPeerKeyIsOrderIndependent(t *testing.T) {
	require.Equal(t, DirectPeerKey("b", "a"), DirectPeerKey("a", "b"))
	require.Equal(t, "1:a|1:b", DirectPeerKey("a", "b"))
	require.NotEqual(t, DirectPeerKey("a:b", "c"), DirectPeerKey("a", "b:c"))
	require.NotEqual(t, DirectPeerKey("a|1:b", "c"), DirectPeerKey("a", "b|1:c"))
}
