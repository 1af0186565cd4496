package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/models"
	"github.com/monsc/zouxianba-api/internal/repository"
)

type roomFixture struct {
	repo     repository.VoiceRoomRepository
	service  *roomService
	resolver *stubResolver
	clock    time.Time
}

func setupRoomService(t *testing.T) *roomFixture {
	t.Helper()

	db := setupServiceTestDB(t)
	fixture := &roomFixture{repo: repository.NewVoiceRoomRepository(db), resolver: &stubResolver{}, clock: fixedNow}
	fixture.service = fixture.newService(fixture.repo)
	return fixture
}

func (f *roomFixture) newService(repo repository.VoiceRoomRepository) *roomService {
	svc := NewRoomService(repo, f.resolver, newTestValidator(), 0, zerolog.Nop()).(*roomService)
	svc.now = func() time.Time { return f.clock }
	return svc
}

func (f *roomFixture) createRoom(t *testing.T, payload dto.RoomCreateRequest) dto.RoomResponse {
	t.Helper()
	if payload.Title == "" {
		payload.Title = "Friday listening party"
	}
	room, err := f.service.Create(context.Background(), "host", payload)
	require.NoError(t, err)
	return room
}

// conflictingRoomRepo rejects the first n saves as if another writer had won.
type conflictingRoomRepo struct {
	repository.VoiceRoomRepository
	conflicts int
	saves     int
}

func (r *conflictingRoomRepo) Save(ctx context.Context, room *models.VoiceRoom, expectedVersion int64) error {
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		return repository.ErrVersionConflict
	}
	return r.VoiceRoomRepository.Save(ctx, room, expectedVersion)
}

func TestCreateRoomAppliesDefaults(t *testing.T) {
	f := setupRoomService(t)

	room := f.createRoom(t, dto.RoomCreateRequest{Description: "<i>bring</i> snacks"})
	require.Equal(t, models.RoomStatusActive, room.Status)
	require.Equal(t, DefaultRoomCapacity, room.Settings.MaxParticipants)
	require.True(t, room.Settings.AllowRaiseHand)
	require.True(t, room.Settings.AllowReactions)
	require.Equal(t, "bring snacks", room.Description)
	require.Len(t, room.Participants, 1)
	require.Equal(t, models.RoomRoleHost, room.Participants[0].Role)
	require.NotNil(t, room.StartedAt)

	_, err := f.service.Create(context.Background(), "host", dto.RoomCreateRequest{Title: "<script></script>"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestJoinRespectsCapacity(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	room := f.createRoom(t, dto.RoomCreateRequest{Settings: dto.RoomSettingsInput{MaxParticipants: 2}})

	joined, deliveries, err := f.service.Join(ctx, room.ID, "guest")
	require.NoError(t, err)
	require.Len(t, joined.Participants, 2)
	require.Equal(t, models.RoomRoleListener, joined.Participants[1].Role)
	require.ElementsMatch(t, []string{"host", "guest"}, recipientsOf(deliveries, EventParticipantJoined))

	_, _, err = f.service.Join(ctx, room.ID, "latecomer")
	require.ErrorIs(t, err, ErrRoomFull)

	// Re-joining never counts against the capacity.
	f.clock = fixedNow.Add(time.Minute)
	again, _, err := f.service.Join(ctx, room.ID, "guest")
	require.NoError(t, err)
	require.Len(t, again.Participants, 2)
	require.Equal(t, f.clock, again.Participants[1].JoinedAt.UTC())

	_, _, err = f.service.Join(ctx, 9999, "guest")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestLeaveNotifiesRemainingAndLeaver(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	room := f.createRoom(t, dto.RoomCreateRequest{})
	_, _, err := f.service.Join(ctx, room.ID, "guest")
	require.NoError(t, err)

	deliveries, err := f.service.Leave(ctx, room.ID, "guest")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"host", "guest"}, recipientsOf(deliveries, EventParticipantLeft))

	deliveries, err = f.service.Leave(ctx, room.ID, "guest")
	require.NoError(t, err)
	require.Empty(t, deliveries)

	current, err := f.service.Get(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, current.Participants, 1)
}

func TestScheduledRoomLifecycle(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	at := fixedNow.Add(time.Hour)
	room := f.createRoom(t, dto.RoomCreateRequest{ScheduledFor: &at})
	require.Equal(t, models.RoomStatusScheduled, room.Status)

	_, _, err := f.service.Join(ctx, room.ID, "guest")
	require.ErrorIs(t, err, ErrRoomNotOpen)

	_, _, err = f.service.Start(ctx, room.ID, "guest")
	require.ErrorIs(t, err, ErrNotHost)

	deliveries, err := f.service.ActivateDue(ctx)
	require.NoError(t, err)
	require.Empty(t, deliveries)

	f.clock = at.Add(time.Second)
	deliveries, err = f.service.ActivateDue(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"host"}, recipientsOf(deliveries, EventRoomStarted))

	current, err := f.service.Get(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoomStatusActive, current.Status)

	_, _, err = f.service.Start(ctx, room.ID, "host")
	require.ErrorIs(t, err, ErrRoomAlreadyActive)
}

func TestScheduledRoomCanBeEnded(t *testing.T) {
	f := setupRoomService(t)

	at := fixedNow.Add(time.Hour)
	room := f.createRoom(t, dto.RoomCreateRequest{ScheduledFor: &at})

	ended, _, err := f.service.End(context.Background(), room.ID, "host")
	require.NoError(t, err)
	require.Equal(t, models.RoomStatusEnded, ended.Status)

	f.clock = at.Add(time.Minute)
	deliveries, err := f.service.ActivateDue(context.Background())
	require.NoError(t, err)
	require.Empty(t, deliveries)
}

func TestParticipantControls(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	disabled := false
	room := f.createRoom(t, dto.RoomCreateRequest{Settings: dto.RoomSettingsInput{AllowRaiseHand: &disabled}})
	_, _, err := f.service.Join(ctx, room.ID, "guest")
	require.NoError(t, err)

	deliveries, err := f.service.SetMuted(ctx, room.ID, "guest", nil)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	event := deliveries[0].Payload.(dto.RoomParticipantEvent)
	require.True(t, event.Participant.IsMuted)

	deliveries, err = f.service.SetMuted(ctx, room.ID, "guest", nil)
	require.NoError(t, err)
	require.False(t, deliveries[0].Payload.(dto.RoomParticipantEvent).Participant.IsMuted)

	_, err = f.service.SetMuted(ctx, room.ID, "stranger", nil)
	require.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.service.SetRaisedHand(ctx, room.ID, "guest", nil)
	require.ErrorIs(t, err, ErrFeatureDisabled)

	_, err = f.service.ModerateMute(ctx, room.ID, "guest", "host", true)
	require.ErrorIs(t, err, ErrNotHost)

	deliveries, err = f.service.ModerateMute(ctx, room.ID, "host", "guest", true)
	require.NoError(t, err)
	require.True(t, deliveries[0].Payload.(dto.RoomParticipantEvent).Participant.IsMuted)

	deliveries, err = f.service.SetRole(ctx, room.ID, "host", "guest", " Speaker ")
	require.NoError(t, err)
	require.Equal(t, EventParticipantRoleChanged, deliveries[0].Event)
	require.Equal(t, models.RoomRoleSpeaker, deliveries[0].Payload.(dto.RoomParticipantEvent).Participant.Role)

	_, err = f.service.SetRole(ctx, room.ID, "host", "guest", models.RoomRoleHost)
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.service.SetRole(ctx, room.ID, "host", "host", models.RoomRoleListener)
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.service.SetRole(ctx, room.ID, "guest", "guest", models.RoomRoleSpeaker)
	require.ErrorIs(t, err, ErrNotHost)
}

func TestRecordingTransitions(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	room := f.createRoom(t, dto.RoomCreateRequest{})

	_, err := f.service.StopRecording(ctx, room.ID, "host", dto.RoomRecordingStop{})
	require.ErrorIs(t, err, ErrNotRecording)

	_, err = f.service.StartRecording(ctx, room.ID, "guest")
	require.ErrorIs(t, err, ErrNotHost)

	deliveries, err := f.service.StartRecording(ctx, room.ID, "host")
	require.NoError(t, err)
	require.Equal(t, EventRecordingStarted, deliveries[0].Event)

	_, err = f.service.StartRecording(ctx, room.ID, "host")
	require.ErrorIs(t, err, ErrAlreadyRecording)

	f.clock = fixedNow.Add(90 * time.Second)
	deliveries, err = f.service.StopRecording(ctx, room.ID, "host", dto.RoomRecordingStop{PublicID: "rooms/rec-1"})
	require.NoError(t, err)
	event := deliveries[0].Payload.(dto.RoomRecordingEvent)
	require.NotNil(t, event.Recording)
	require.Equal(t, 90, event.Recording.Duration)
	require.Equal(t, "https://cdn.example.com/video/rooms/rec-1", event.Recording.URL)

	current, err := f.service.Get(ctx, room.ID)
	require.NoError(t, err)
	require.False(t, current.IsRecording)
	require.Len(t, current.Recordings, 1)
}

func TestBroadcastSignals(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	room := f.createRoom(t, dto.RoomCreateRequest{})
	_, _, err := f.service.Join(ctx, room.ID, "guest")
	require.NoError(t, err)

	deliveries, err := f.service.SendReaction(ctx, room.ID, "guest", "🔥")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"host", "guest"}, recipientsOf(deliveries, EventReaction))

	_, err = f.service.SendReaction(ctx, room.ID, "stranger", "🔥")
	require.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.service.SendReaction(ctx, room.ID, "guest", "   ")
	require.ErrorIs(t, err, ErrValidation)

	deliveries, err = f.service.PublishTranscript(ctx, room.ID, "guest", "welcome <b>all</b>")
	require.NoError(t, err)
	require.Equal(t, "welcome all", deliveries[0].Payload.(dto.RoomTranscriptEvent).Text)

	volume := 40
	_, err = f.service.ControlBackgroundMusic(ctx, room.ID, "guest", dto.BackgroundMusicRequest{Action: "volume", Volume: &volume})
	require.ErrorIs(t, err, ErrNotHost)

	_, err = f.service.ControlBackgroundMusic(ctx, room.ID, "host", dto.BackgroundMusicRequest{Action: "play"})
	require.ErrorIs(t, err, ErrValidation)

	deliveries, err = f.service.ControlBackgroundMusic(ctx, room.ID, "host", dto.BackgroundMusicRequest{Action: "play", Track: "lofi.mp3"})
	require.NoError(t, err)
	require.Equal(t, "lofi.mp3", deliveries[0].Payload.(dto.RoomMusicEvent).Track)
}

func TestEndedRoomIsTerminal(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	room := f.createRoom(t, dto.RoomCreateRequest{})
	_, _, err := f.service.Join(ctx, room.ID, "guest")
	require.NoError(t, err)
	_, err = f.service.SetRaisedHand(ctx, room.ID, "guest", nil)
	require.NoError(t, err)
	_, err = f.service.StartRecording(ctx, room.ID, "host")
	require.NoError(t, err)

	_, _, err = f.service.End(ctx, room.ID, "guest")
	require.ErrorIs(t, err, ErrNotHost)

	ended, deliveries, err := f.service.End(ctx, room.ID, "host")
	require.NoError(t, err)
	require.Equal(t, models.RoomStatusEnded, ended.Status)
	require.False(t, ended.IsRecording)
	for _, p := range ended.Participants {
		require.False(t, p.HasRaisedHand)
	}
	require.ElementsMatch(t, []string{"host", "guest"}, recipientsOf(deliveries, EventRoomEnded))

	_, _, err = f.service.End(ctx, room.ID, "host")
	require.ErrorIs(t, err, ErrRoomEnded)
	_, _, err = f.service.Join(ctx, room.ID, "newcomer")
	require.ErrorIs(t, err, ErrRoomEnded)
	_, err = f.service.Leave(ctx, room.ID, "newcomer")
	require.ErrorIs(t, err, ErrRoomEnded)
	_, err = f.service.SendReaction(ctx, room.ID, "guest", "👋")
	require.ErrorIs(t, err, ErrRoomEnded)
	_, _, err = f.service.Start(ctx, room.ID, "host")
	require.ErrorIs(t, err, ErrRoomEnded)
}

func TestRoomMutationRetriesVersionConflicts(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	room := f.createRoom(t, dto.RoomCreateRequest{})

	flaky := &conflictingRoomRepo{VoiceRoomRepository: f.repo, conflicts: 1}
	_, _, err := f.newService(flaky).Join(ctx, room.ID, "guest")
	require.NoError(t, err)
	require.Equal(t, 2, flaky.saves)

	stuck := &conflictingRoomRepo{VoiceRoomRepository: f.repo, conflicts: roomSaveAttempts}
	_, _, err = f.newService(stuck).Join(ctx, room.ID, "other")
	require.ErrorIs(t, err, ErrRoomBusy)
	require.Equal(t, roomSaveAttempts, stuck.saves)
}

func TestVersionedSaveRejectsStaleWrites(t *testing.T) {
	f := setupRoomService(t)
	ctx := context.Background()

	created := f.createRoom(t, dto.RoomCreateRequest{})
	first, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	stale, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)

	_, err = first.Join("guest", fixedNow)
	require.NoError(t, err)
	require.NoError(t, f.repo.Save(ctx, &first, first.Version))

	_, err = stale.Join("other", fixedNow)
	require.NoError(t, err)
	require.ErrorIs(t, f.repo.Save(ctx, &stale, stale.Version), repository.ErrVersionConflict)
}
