package service

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/monsc/zouxianba-api/internal/models"
)

// ErrorKind classifies failures surfaced to clients.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindPermission     ErrorKind = "permission"
	KindNotFound       ErrorKind = "not_found"
	KindStateConflict  ErrorKind = "state_conflict"
	KindValidation     ErrorKind = "validation"
	KindRateLimited    ErrorKind = "rate_limited"
	KindInternal       ErrorKind = "internal"
)

// Error is a client-facing failure with a stable code.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches errors of the same code so wrapped sentinels compare equal.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrUnauthenticated       = newError(KindAuthentication, "authentication_failed", "authentication required")
	ErrConversationNotFound  = newError(KindNotFound, "conversation_not_found", "conversation not found")
	ErrMessageNotFound       = newError(KindNotFound, "message_not_found", "message not found")
	ErrRoomNotFound          = newError(KindNotFound, "room_not_found", "room not found")
	ErrNotificationNotFound  = newError(KindNotFound, "notification_not_found", "notification not found")
	ErrNotParticipant        = newError(KindPermission, "not_participant", "user is not a participant")
	ErrNotSender             = newError(KindPermission, "not_sender", "only the sender may recall a message")
	ErrNotHost               = newError(KindPermission, "not_host", "only the host may do this")
	ErrNotSelf               = newError(KindPermission, "not_self", "participants may only change their own state")
	ErrRecallWindowExpired   = newError(KindStateConflict, "recall_window_expired", "recall window has expired")
	ErrRoomFull              = newError(KindStateConflict, "room_full", "room is full")
	ErrRoomNotOpen           = newError(KindStateConflict, "room_not_open", "room is not open")
	ErrRoomEnded             = newError(KindStateConflict, "room_ended", "room has ended")
	ErrRoomAlreadyActive     = newError(KindStateConflict, "room_already_active", "room is already active")
	ErrRoomBusy              = newError(KindStateConflict, "room_busy", "room is being updated, retry")
	ErrAlreadyRecording      = newError(KindStateConflict, "already_recording", "room is already recording")
	ErrNotRecording          = newError(KindStateConflict, "not_recording", "room is not recording")
	ErrFeatureDisabled       = newError(KindStateConflict, "feature_disabled", "feature is disabled for this room")
	ErrValidation            = newError(KindValidation, "validation_failed", "payload failed validation")
	ErrInvalidRole           = newError(KindValidation, "invalid_role", "role must be speaker or listener")
	ErrSelfConversation      = newError(KindValidation, "self_conversation", "cannot open a conversation with yourself")
	ErrEmptyMessage          = newError(KindValidation, "empty_message", "message needs content or attachments")
	ErrUnsupportedAttachment = newError(KindValidation, "unsupported_attachment", "attachment type is not supported")
	ErrAttachmentURLRequired = newError(KindValidation, "attachment_url_required", "attachment url could not be resolved")
	ErrUnknownEvent          = newError(KindValidation, "unknown_event", "unknown event")
	ErrInvalidPayload        = newError(KindValidation, "invalid_payload", "event payload is malformed")
	ErrRateLimited           = newError(KindRateLimited, "rate_limited", "too many events, slow down")
	ErrInternal              = newError(KindInternal, "internal_error", "internal error")
)

// AsError extracts the client-facing error, classifying validator failures as validation errors.
// Anything else is reported as ok=false so callers can log it and answer with ErrInternal.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}

	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return &Error{Kind: KindValidation, Code: ErrValidation.Code, Message: validationErrors.Error()}, true
	}

	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified failures.
func KindOf(err error) ErrorKind {
	if svcErr, ok := AsError(err); ok {
		return svcErr.Kind
	}
	return KindInternal
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func roomError(err error) error {
	switch {
	case errors.Is(err, models.ErrRoomEnded):
		return ErrRoomEnded
	case errors.Is(err, models.ErrRoomNotOpen):
		return ErrRoomNotOpen
	case errors.Is(err, models.ErrRoomAlreadyActive):
		return ErrRoomAlreadyActive
	case errors.Is(err, models.ErrRoomFull):
		return ErrRoomFull
	case errors.Is(err, models.ErrNotRoomHost):
		return ErrNotHost
	case errors.Is(err, models.ErrNotInRoom):
		return ErrNotParticipant
	case errors.Is(err, models.ErrInvalidRoomRole):
		return ErrInvalidRole
	case errors.Is(err, models.ErrAlreadyRecording):
		return ErrAlreadyRecording
	case errors.Is(err, models.ErrNotRecording):
		return ErrNotRecording
	case errors.Is(err, models.ErrFeatureDisabled):
		return ErrFeatureDisabled
	default:
		return err
	}
}
