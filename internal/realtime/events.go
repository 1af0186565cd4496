package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/service"
)

// Client-to-server event names.
const (
	ClientSendMessage     = "send_message"
	ClientMarkRead        = "mark_messages_read"
	ClientRecallMessage   = "recall_message"
	ClientTyping          = "typing"
	ClientStopTyping      = "stop_typing"
	ClientJoinRoom        = "join_room"
	ClientLeaveRoom       = "leave_room"
	ClientMute            = "mute"
	ClientRaiseHand       = "raiseHand"
	ClientStartRecording  = "startRecording"
	ClientStopRecording   = "stopRecording"
	ClientReaction        = "reaction"
	ClientTranscript      = "transcript"
	ClientBackgroundMusic = "backgroundMusic"
	ClientSetRole         = "setRole"
	ClientModerateMute    = "moderateMute"
	ClientEndRoom         = "endRoom"
	ClientPing            = "ping"
)

// inboundFrame is the envelope every client frame arrives in.
type inboundFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is the envelope every server frame is written in.
type Frame struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data"`
}

// ErrorPayload is the data of an error frame. Ref echoes the id of the failed client frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// ConnectedPayload is the first frame on every connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// ClientEvent is one of the event types below. The set is closed.
type ClientEvent interface {
	Name() string
	// entityKey names the conversation or room the event mutates, or "" when it touches neither.
	entityKey() string
}

type SendMessage struct {
	dto.SendMessageRequest
}

type MarkRead struct {
	ConversationID uint `json:"conversationId" validate:"required"`
}

type RecallMessage struct {
	MessageID uint `json:"messageId" validate:"required"`
}

// Typing covers both typing and stop_typing.
type Typing struct {
	ConversationID uint `json:"conversationId" validate:"required"`
	Stop           bool `json:"-"`
}

type JoinRoom struct {
	RoomID uint `json:"roomId" validate:"required"`
}

type LeaveRoom struct {
	RoomID uint `json:"roomId" validate:"required"`
}

// Mute sets the caller's own mute flag, toggling it when IsMuted is omitted.
type Mute struct {
	RoomID  uint   `json:"roomId" validate:"required"`
	UserID  string `json:"userId" validate:"omitempty,max=64"`
	IsMuted *bool  `json:"isMuted"`
}

// RaiseHand sets the caller's own hand, toggling it when HasRaisedHand is omitted.
type RaiseHand struct {
	RoomID        uint   `json:"roomId" validate:"required"`
	UserID        string `json:"userId" validate:"omitempty,max=64"`
	HasRaisedHand *bool  `json:"hasRaisedHand"`
}

type StartRecording struct {
	RoomID uint `json:"roomId" validate:"required"`
}

type StopRecording struct {
	RoomID uint `json:"roomId" validate:"required"`
	dto.RoomRecordingStop
}

type Reaction struct {
	RoomID uint   `json:"roomId" validate:"required"`
	Emoji  string `json:"emoji" validate:"required,max=32"`
}

type Transcript struct {
	RoomID uint   `json:"roomId" validate:"required"`
	Text   string `json:"text" validate:"required,max=2000"`
}

type BackgroundMusic struct {
	RoomID uint `json:"roomId" validate:"required"`
	dto.BackgroundMusicRequest
}

type SetRole struct {
	RoomID uint   `json:"roomId" validate:"required"`
	UserID string `json:"userId" validate:"required,max=64"`
	Role   string `json:"role" validate:"required"`
}

type ModerateMute struct {
	RoomID  uint   `json:"roomId" validate:"required"`
	UserID  string `json:"userId" validate:"required,max=64"`
	IsMuted bool   `json:"isMuted"`
}

type EndRoom struct {
	RoomID uint `json:"roomId" validate:"required"`
}

type Ping struct{}

func (*SendMessage) Name() string     { return ClientSendMessage }
func (*MarkRead) Name() string        { return ClientMarkRead }
func (*RecallMessage) Name() string   { return ClientRecallMessage }
func (*JoinRoom) Name() string        { return ClientJoinRoom }
func (*LeaveRoom) Name() string       { return ClientLeaveRoom }
func (*Mute) Name() string            { return ClientMute }
func (*RaiseHand) Name() string       { return ClientRaiseHand }
func (*StartRecording) Name() string  { return ClientStartRecording }
func (*StopRecording) Name() string   { return ClientStopRecording }
func (*Reaction) Name() string        { return ClientReaction }
func (*Transcript) Name() string      { return ClientTranscript }
func (*BackgroundMusic) Name() string { return ClientBackgroundMusic }
func (*SetRole) Name() string         { return ClientSetRole }
func (*ModerateMute) Name() string    { return ClientModerateMute }
func (*EndRoom) Name() string         { return ClientEndRoom }
func (*Ping) Name() string            { return ClientPing }

func (e *Typing) Name() string {
	if e.Stop {
		return ClientStopTyping
	}
	return ClientTyping
}

func (e *SendMessage) entityKey() string     { return ConversationKey(e.ConversationID) }
func (e *MarkRead) entityKey() string        { return ConversationKey(e.ConversationID) }
func (e *RecallMessage) entityKey() string   { return MessageKey(e.MessageID) }
func (e *Typing) entityKey() string          { return ConversationKey(e.ConversationID) }
func (e *JoinRoom) entityKey() string        { return RoomKey(e.RoomID) }
func (e *LeaveRoom) entityKey() string       { return RoomKey(e.RoomID) }
func (e *Mute) entityKey() string            { return RoomKey(e.RoomID) }
func (e *RaiseHand) entityKey() string       { return RoomKey(e.RoomID) }
func (e *StartRecording) entityKey() string  { return RoomKey(e.RoomID) }
func (e *StopRecording) entityKey() string   { return RoomKey(e.RoomID) }
func (e *Reaction) entityKey() string        { return RoomKey(e.RoomID) }
func (e *Transcript) entityKey() string      { return RoomKey(e.RoomID) }
func (e *BackgroundMusic) entityKey() string { return RoomKey(e.RoomID) }
func (e *SetRole) entityKey() string         { return RoomKey(e.RoomID) }
func (e *ModerateMute) entityKey() string    { return RoomKey(e.RoomID) }
func (e *EndRoom) entityKey() string         { return RoomKey(e.RoomID) }
func (*Ping) entityKey() string              { return "" }

// ConversationKey is the lock key for a conversation.
func ConversationKey(id uint) string {
	return fmt.Sprintf("conversation:%d", id)
}

// MessageKey is the lock key for a single message.
func MessageKey(id uint) string {
	return fmt.Sprintf("message:%d", id)
}

// RoomKey is the lock key for a voice room.
func RoomKey(id uint) string {
	return fmt.Sprintf("room:%d", id)
}

var clientEvents = map[string]func() ClientEvent{
	ClientSendMessage:     func() ClientEvent { return &SendMessage{} },
	ClientMarkRead:        func() ClientEvent { return &MarkRead{} },
	ClientRecallMessage:   func() ClientEvent { return &RecallMessage{} },
	ClientTyping:          func() ClientEvent { return &Typing{} },
	ClientStopTyping:      func() ClientEvent { return &Typing{Stop: true} },
	ClientJoinRoom:        func() ClientEvent { return &JoinRoom{} },
	ClientLeaveRoom:       func() ClientEvent { return &LeaveRoom{} },
	ClientMute:            func() ClientEvent { return &Mute{} },
	ClientRaiseHand:       func() ClientEvent { return &RaiseHand{} },
	ClientStartRecording:  func() ClientEvent { return &StartRecording{} },
	ClientStopRecording:   func() ClientEvent { return &StopRecording{} },
	ClientReaction:        func() ClientEvent { return &Reaction{} },
	ClientTranscript:      func() ClientEvent { return &Transcript{} },
	ClientBackgroundMusic: func() ClientEvent { return &BackgroundMusic{} },
	ClientSetRole:         func() ClientEvent { return &SetRole{} },
	ClientModerateMute:    func() ClientEvent { return &ModerateMute{} },
	ClientEndRoom:         func() ClientEvent { return &EndRoom{} },
	ClientPing:            func() ClientEvent { return &Ping{} },
}

// ParseClientEvent decodes one raw client frame. The returned ref is the frame's id, when the
// envelope could be read, so errors can point back at the request.
func ParseClientEvent(raw []byte) (ClientEvent, string, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, "", service.ErrInvalidPayload
	}

	factory, ok := clientEvents[frame.Event]
	if !ok {
		return nil, frame.ID, service.ErrUnknownEvent
	}

	event := factory()
	data := bytes.TrimSpace(frame.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return event, frame.ID, nil
	}
	if err := json.Unmarshal(data, event); err != nil {
		return nil, frame.ID, service.ErrInvalidPayload
	}
	return event, frame.ID, nil
}
