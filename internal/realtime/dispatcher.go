package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/observability"
	"github.com/monsc/zouxianba-api/internal/service"
)

// Notifier persists a notification for a recipient and describes its live delivery.
type Notifier interface {
	Notify(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, []service.Delivery, error)
}

// Dispatcher pushes committed deliveries to live sessions and falls back to persisted
// notifications for recipients that are offline.
type Dispatcher struct {
	hub      *Hub
	notifier Notifier
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil notifier disables the offline fallback.
func NewDispatcher(hub *Hub, notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		hub:      hub,
		notifier: notifier,
		logger:   logger.With().Str("component", "realtime_dispatcher").Logger(),
	}
}

// Apply delivers every frame it can. Push failures never undo persisted state; they are
// aggregated into the returned error for logging.
func (d *Dispatcher) Apply(ctx context.Context, deliveries ...service.Delivery) error {
	var errs error
	for _, delivery := range deliveries {
		errs = multierr.Append(errs, d.apply(ctx, delivery))
	}
	return errs
}

func (d *Dispatcher) apply(ctx context.Context, delivery service.Delivery) error {
	frame, err := encodeFrame(delivery.Event, "", delivery.Payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", delivery.Event, err)
	}

	var errs error
	for _, recipient := range delivery.Recipients {
		sessions := d.hub.sessionsFor(recipient)
		if len(sessions) == 0 {
			if delivery.Offline != nil {
				errs = multierr.Append(errs, d.notifyOffline(ctx, recipient, *delivery.Offline))
			}
			continue
		}

		for _, session := range sessions {
			if !session.enqueue(frame) {
				observability.DroppedFrames().Inc()
				errs = multierr.Append(errs, fmt.Errorf("dropped %s for connection %s", delivery.Event, session.id))
			}
		}
	}
	return errs
}

func (d *Dispatcher) notifyOffline(ctx context.Context, recipient string, template dto.NotificationCreateRequest) error {
	if d.notifier == nil {
		return nil
	}

	template.RecipientID = recipient
	_, followUp, err := d.notifier.Notify(ctx, template)
	if err != nil {
		return fmt.Errorf("offline notification for %s: %w", recipient, err)
	}
	// The recipient may have connected meanwhile.
	return d.Apply(ctx, followUp...)
}

// reply sends a frame to a single session, outside any delivery.
func (d *Dispatcher) reply(session *Session, event, ref string, payload interface{}) {
	frame, err := encodeFrame(event, ref, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Msg("failed to encode reply")
		return
	}
	if !session.enqueue(frame) {
		observability.DroppedFrames().Inc()
		d.logger.Warn().Str("event", event).Str("connection_id", session.id).Msg("dropping reply for slow connection")
	}
}

func encodeFrame(event, ref string, payload interface{}) ([]byte, error) {
	return json.Marshal(Frame{Event: event, ID: ref, Data: payload})
}
