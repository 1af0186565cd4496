package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/monsc/zouxianba-api/internal/middleware"
)

// Conn is the part of a websocket connection a Session drives. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one live websocket connection of an authenticated user.
type Session struct {
	id       string
	identity middleware.Identity
	conn     Conn
	send     chan []byte
	closed   chan struct{}
	once     sync.Once

	mu    sync.Mutex
	rooms map[uint]struct{}
}

func newSession(conn Conn, identity middleware.Identity, buffer int) *Session {
	if buffer <= 0 {
		buffer = 32
	}
	return &Session{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, buffer),
		closed:   make(chan struct{}),
		rooms:    make(map[uint]struct{}),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user behind the connection.
func (s *Session) UserID() string { return s.identity.UserID }

// enqueue hands a frame to the writer without blocking. It reports false when the buffer is
// full or the session is closed.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) writer(pingInterval time.Duration) {
	defer s.close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *Session) joinedRoom(roomID uint) {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) leftRoom(roomID uint) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// joinedRooms returns the rooms joined through this connection, in id order.
func (s *Session) joinedRooms() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
