package service

import (
	"github.com/monsc/zouxianba-api/internal/dto"
)

// Server-to-client event names.
const (
	EventConnected              = "connected"
	EventPong                   = "pong"
	EventError                  = "error"
	EventUserOnline             = "user_online"
	EventUserOffline            = "user_offline"
	EventNewMessage             = "new_message"
	EventMessagesRead           = "messages_read"
	EventMessageRecalled        = "message_recalled"
	EventTyping                 = "typing"
	EventStopTyping             = "stop_typing"
	EventParticipantJoined      = "participantJoined"
	EventParticipantLeft        = "participantLeft"
	EventParticipantMuted       = "participantMuted"
	EventParticipantRaisedHand  = "participantRaisedHand"
	EventParticipantRoleChanged = "participantRoleChanged"
	EventRecordingStarted       = "recordingStarted"
	EventRecordingStopped       = "recordingStopped"
	EventReaction               = "reaction"
	EventTranscript             = "transcript"
	EventBackgroundMusic        = "backgroundMusic"
	EventRoomStarted            = "roomStarted"
	EventRoomEnded              = "roomEnded"
	EventNewNotification        = "new_notification"
)

// Delivery describes who should receive an event after a mutation committed.
// Recipients without a live connection get Offline, when set, persisted as a notification instead.
type Delivery struct {
	Event      string
	Payload    interface{}
	Recipients []string
	Offline    *dto.NotificationCreateRequest
}

func deliver(event string, payload interface{}, recipients ...string) Delivery {
	return Delivery{Event: event, Payload: payload, Recipients: recipients}
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
