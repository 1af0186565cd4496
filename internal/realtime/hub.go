package realtime

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks live sessions per user. It is the source of truth for presence.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
	log      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		log:      logger.With().Str("component", "realtime_hub").Logger(),
	}
}

// Register adds a session and reports whether it is the user's first live connection.
func (h *Hub) Register(session *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := session.UserID()
	h.sessions[session.id] = session
	conns, exists := h.byUser[userID]
	if !exists {
		conns = make(map[string]*Session)
		h.byUser[userID] = conns
	}
	conns[session.id] = session

	h.log.Debug().Str("user_id", userID).Str("connection_id", session.id).Int("connections", len(conns)).Msg("session registered")
	return len(conns) == 1
}

// Unregister removes a session and reports its user and whether that was the user's last
// connection. Unknown ids return ("", false), so repeated calls are harmless.
func (h *Hub) Unregister(connectionID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessions[connectionID]
	if !ok {
		return "", false
	}
	delete(h.sessions, connectionID)

	userID := session.UserID()
	conns := h.byUser[userID]
	delete(conns, connectionID)
	last := len(conns) == 0
	if last {
		delete(h.byUser, userID)
	}

	h.log.Debug().Str("user_id", userID).Str("connection_id", connectionID).Bool("last", last).Msg("session unregistered")
	return userID, last
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// ConnectionsFor lists the user's connection ids in sorted order.
func (h *Hub) ConnectionsFor(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.byUser[userID]))
	for id := range h.byUser[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnlineUsers lists every user with a live connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.byUser))
	for userID := range h.byUser {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (h *Hub) sessionsFor(userID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Session, 0, len(h.byUser[userID]))
	for _, session := range h.byUser[userID] {
		out = append(out, session)
	}
	return out
}
