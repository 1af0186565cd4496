package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/monsc/zouxianba-api/internal/dto"
	"github.com/monsc/zouxianba-api/internal/middleware"
	"github.com/monsc/zouxianba-api/internal/observability"
	"github.com/monsc/zouxianba-api/internal/ratelimit"
	"github.com/monsc/zouxianba-api/internal/service"
)

// Options tunes connection liveness and event handling.
type Options struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	EventTimeout time.Duration
	EventLimit   int
	LimitWindow  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 5 * time.Second
	}
	if o.LimitWindow <= 0 {
		o.LimitWindow = 10 * time.Second
	}
	return o
}

// Dependencies wires the gateway to the domain services.
type Dependencies struct {
	Hub           *Hub
	Dispatcher    *Dispatcher
	Conversations service.ConversationService
	Rooms         service.RoomService
	Presence      service.PresenceService
	Limiter       *ratelimit.Limiter
	Validator     *validator.Validate
	Logger        zerolog.Logger
	Options       Options
}

// Gateway runs websocket sessions and routes their events to the services.
type Gateway struct {
	hub           *Hub
	dispatcher    *Dispatcher
	conversations service.ConversationService
	rooms         service.RoomService
	presence      service.PresenceService
	limiter       *ratelimit.Limiter
	validator     *validator.Validate
	locks         stripedLocks
	opts          Options
	logger        zerolog.Logger
	now           func() time.Time
}

// NewGateway creates a gateway.
func NewGateway(deps Dependencies) *Gateway {
	validate := deps.Validator
	if validate == nil {
		validate = validator.New()
	}

	return &Gateway{
		hub:           deps.Hub,
		dispatcher:    deps.Dispatcher,
		conversations: deps.Conversations,
		rooms:         deps.Rooms,
		presence:      deps.Presence,
		limiter:       deps.Limiter,
		validator:     validate,
		opts:          deps.Options.withDefaults(),
		logger:        deps.Logger.With().Str("component", "realtime_gateway").Logger(),
		now:           time.Now,
	}
}

// Execute runs op while holding the lock for key and pushes the deliveries it returns before
// releasing it, so frames about one conversation or room leave in commit order.
func (g *Gateway) Execute(ctx context.Context, key string, op func(ctx context.Context) ([]service.Delivery, error)) error {
	unlock := g.locks.lock(key)
	defer unlock()

	deliveries, err := op(ctx)
	if err != nil {
		return err
	}
	if pushErr := g.dispatcher.Apply(ctx, deliveries...); pushErr != nil {
		g.logger.Warn().Err(pushErr).Str("key", key).Msg("some frames were not delivered")
	}
	return nil
}

// Presence answers who is online right now, with the mirrored last seen time otherwise.
func (g *Gateway) Presence(ctx context.Context, userID string) (dto.PresenceResponse, error) {
	online := g.hub.IsOnline(userID)
	if g.presence == nil {
		return dto.PresenceResponse{UserID: userID, Online: online}, nil
	}
	return g.presence.Lookup(ctx, userID, online)
}

// ServeConnection owns conn until the client disconnects or stops answering pings.
func (g *Gateway) ServeConnection(ctx context.Context, conn Conn, identity middleware.Identity) {
	if ctx == nil {
		ctx = context.Background()
	}

	session := newSession(conn, identity, g.opts.SendBuffer)
	logger := g.logger.With().Str("user_id", identity.UserID).Str("connection_id", session.id).Logger()

	first := g.hub.Register(session)
	observability.ConnectionsActive().Inc()
	logger.Info().Bool("first", first).Msg("realtime connection opened")

	g.dispatcher.reply(session, service.EventConnected, "", ConnectedPayload{ConnectionID: session.id, UserID: identity.UserID})
	if first {
		g.announceOnline(ctx, identity.UserID)
	}

	go session.writer(g.opts.PingInterval)
	g.readLoop(ctx, session, logger)
	g.disconnect(ctx, session, logger)
}

func (g *Gateway) readLoop(ctx context.Context, session *Session, logger zerolog.Logger) {
	defer session.close()

	extend := func() {
		_ = session.conn.SetReadDeadline(g.now().Add(g.opts.PongWait))
	}
	extend()
	session.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, raw, err := session.conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("realtime read loop ended")
			return
		}
		extend()
		g.handle(ctx, session, raw, logger)
	}
}

func (g *Gateway) handle(ctx context.Context, session *Session, raw []byte, logger zerolog.Logger) {
	event, ref, err := ParseClientEvent(raw)
	if err != nil {
		observability.ClientEvents().WithLabelValues("unparsed", outcome(err)).Inc()
		g.replyError(session, ref, err, logger)
		return
	}

	if err := g.validator.Struct(event); err != nil {
		observability.ClientEvents().WithLabelValues(event.Name(), outcome(err)).Inc()
		g.replyError(session, ref, err, logger)
		return
	}

	eventCtx, cancel := context.WithTimeout(ctx, g.opts.EventTimeout)
	defer cancel()

	err = g.Execute(eventCtx, event.entityKey(), func(ctx context.Context) ([]service.Delivery, error) {
		return g.route(ctx, session, ref, event)
	})
	observability.ClientEvents().WithLabelValues(event.Name(), outcome(err)).Inc()
	if err != nil {
		g.replyError(session, ref, err, logger.With().Str("event", event.Name()).Logger())
	}
}

func (g *Gateway) route(ctx context.Context, session *Session, ref string, event ClientEvent) ([]service.Delivery, error) {
	userID := session.UserID()

	switch e := event.(type) {
	case *SendMessage:
		if err := g.allow(ctx, userID, "msg:"); err != nil {
			return nil, err
		}
		_, deliveries, err := g.conversations.SendMessage(ctx, userID, e.SendMessageRequest)
		return deliveries, err
	case *MarkRead:
		_, deliveries, err := g.conversations.MarkRead(ctx, e.ConversationID, userID)
		return deliveries, err
	case *RecallMessage:
		_, deliveries, err := g.conversations.RecallMessage(ctx, e.MessageID, userID)
		return deliveries, err
	case *Typing:
		return g.conversations.Typing(ctx, e.ConversationID, userID, !e.Stop)
	case *JoinRoom:
		_, deliveries, err := g.rooms.Join(ctx, e.RoomID, userID)
		if err == nil {
			session.joinedRoom(e.RoomID)
		}
		return deliveries, err
	case *LeaveRoom:
		deliveries, err := g.rooms.Leave(ctx, e.RoomID, userID)
		if err == nil || errors.Is(err, service.ErrRoomEnded) {
			session.leftRoom(e.RoomID)
		}
		return deliveries, err
	case *Mute:
		if e.UserID != "" && e.UserID != userID {
			return nil, service.ErrNotSelf
		}
		return g.rooms.SetMuted(ctx, e.RoomID, userID, e.IsMuted)
	case *RaiseHand:
		if e.UserID != "" && e.UserID != userID {
			return nil, service.ErrNotSelf
		}
		return g.rooms.SetRaisedHand(ctx, e.RoomID, userID, e.HasRaisedHand)
	case *StartRecording:
		return g.rooms.StartRecording(ctx, e.RoomID, userID)
	case *StopRecording:
		return g.rooms.StopRecording(ctx, e.RoomID, userID, e.RoomRecordingStop)
	case *Reaction:
		if err := g.allow(ctx, userID, "reaction:"); err != nil {
			return nil, err
		}
		return g.rooms.SendReaction(ctx, e.RoomID, userID, e.Emoji)
	case *Transcript:
		if err := g.allow(ctx, userID, "transcript:"); err != nil {
			return nil, err
		}
		return g.rooms.PublishTranscript(ctx, e.RoomID, userID, e.Text)
	case *BackgroundMusic:
		return g.rooms.ControlBackgroundMusic(ctx, e.RoomID, userID, e.BackgroundMusicRequest)
	case *SetRole:
		return g.rooms.SetRole(ctx, e.RoomID, userID, e.UserID, e.Role)
	case *ModerateMute:
		return g.rooms.ModerateMute(ctx, e.RoomID, userID, e.UserID, e.IsMuted)
	case *EndRoom:
		_, deliveries, err := g.rooms.End(ctx, e.RoomID, userID)
		return deliveries, err
	case *Ping:
		g.dispatcher.reply(session, service.EventPong, ref, struct {
			At time.Time `json:"at"`
		}{At: g.now().UTC()})
		return nil, nil
	default:
		return nil, service.ErrUnknownEvent
	}
}

func (g *Gateway) allow(ctx context.Context, userID, key string) error {
	rule := ratelimit.Rule{Key: key, Limit: g.opts.EventLimit, Window: g.opts.LimitWindow}
	if !g.limiter.Allow(ctx, userID, rule) {
		return service.ErrRateLimited
	}
	return nil
}

func (g *Gateway) replyError(session *Session, ref string, err error, logger zerolog.Logger) {
	if kind := service.KindOf(err); kind == service.KindInternal {
		logger.Error().Err(err).Msg("realtime event failed")
	} else {
		logger.Debug().Err(err).Str("kind", string(kind)).Msg("realtime event rejected")
	}
	svcErr, ok := service.AsError(err)
	if !ok {
		svcErr = service.ErrInternal
	}
	g.dispatcher.reply(session, service.EventError, "", ErrorPayload{Code: svcErr.Code, Message: svcErr.Message, Ref: ref})
}

// disconnect runs once per session after its read loop ends.
func (g *Gateway) disconnect(ctx context.Context, session *Session, logger zerolog.Logger) {
	userID, last := g.hub.Unregister(session.id)
	observability.ConnectionsActive().Dec()
	logger.Info().Bool("last", last).Msg("realtime connection closed")
	if !last {
		// Another connection of the same user inherits the rooms so they are left on its close.
		if heirs := g.hub.sessionsFor(userID); len(heirs) > 0 {
			for _, roomID := range session.joinedRooms() {
				heirs[0].joinedRoom(roomID)
			}
		}
		return
	}

	for _, roomID := range session.joinedRooms() {
		leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.EventTimeout)
		err := g.Execute(leaveCtx, RoomKey(roomID), func(ctx context.Context) ([]service.Delivery, error) {
			return g.rooms.Leave(ctx, roomID, userID)
		})
		cancel()
		if err != nil && !errors.Is(err, service.ErrRoomEnded) && !errors.Is(err, service.ErrRoomNotFound) {
			logger.Warn().Err(err).Uint("room_id", roomID).Msg("failed to leave room on disconnect")
		}
	}

	g.announceOffline(context.WithoutCancel(ctx), userID)
}

func (g *Gateway) announceOnline(ctx context.Context, userID string) {
	if g.presence != nil {
		g.presence.MarkOnline(ctx, userID, g.now())
	}
	delivery := service.Delivery{
		Event:      service.EventUserOnline,
		Payload:    dto.UserPresenceEvent{UserID: userID},
		Recipients: othersOnline(g.hub, userID),
	}
	if err := g.dispatcher.Apply(ctx, delivery); err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("user_online not delivered to everyone")
	}
}

func (g *Gateway) announceOffline(ctx context.Context, userID string) {
	// A new connection may have arrived while rooms were being left.
	if g.hub.IsOnline(userID) {
		return
	}

	lastSeen := g.now().UTC()
	if g.presence != nil {
		g.presence.MarkOffline(ctx, userID, lastSeen)
	}
	delivery := service.Delivery{
		Event:      service.EventUserOffline,
		Payload:    dto.UserPresenceEvent{UserID: userID, LastSeen: &lastSeen},
		Recipients: othersOnline(g.hub, userID),
	}
	if err := g.dispatcher.Apply(ctx, delivery); err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("user_offline not delivered to everyone")
	}
}

// ActivateDueRooms starts scheduled rooms whose time has come, every interval until ctx ends.
func (g *Gateway) ActivateDueRooms(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, g.opts.EventTimeout)
			deliveries, err := g.rooms.ActivateDue(runCtx)
			if err != nil {
				g.logger.Warn().Err(err).Msg("scheduled room activation failed")
			} else if err := g.dispatcher.Apply(runCtx, deliveries...); err != nil {
				g.logger.Warn().Err(err).Msg("room start frames were not delivered")
			}
			cancel()
		}
	}
}

func othersOnline(hub *Hub, userID string) []string {
	users := hub.OnlineUsers()
	out := users[:0]
	for _, id := range users {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if svcErr, ok := service.AsError(err); ok {
		return svcErr.Code
	}
	return service.ErrInternal.Code
}
