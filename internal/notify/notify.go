// Package notify delivers per-user messages to live websocket sessions.
// Delivery is best effort: a user with no open session, or a session whose
// buffer is full, simply misses the message.
package notify

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gigboard/internal/domain"
)

const (
	defaultSessionBuffer = 16
	defaultPingInterval  = 30 * time.Second
	writeTimeout         = 10 * time.Second
)

// Hub tracks the open sessions of each user. One user may hold several
// sessions at once; Dispatch fans a message out to all of them.
type Hub struct {
	buffer int
	ping   time.Duration

	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
}

type Options struct {
	SessionBuffer int
	PingInterval  time.Duration
}

func NewHub(opts Options) *Hub {
	if opts.SessionBuffer <= 0 {
		opts.SessionBuffer = defaultSessionBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Hub{
		buffer:   opts.SessionBuffer,
		ping:     opts.PingInterval,
		sessions: make(map[string]map[*Session]struct{}),
	}
}

// Session is a single registered websocket connection.
type Session struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	out    chan domain.Notification
	once   sync.Once
}

// Register adds a connection for the given user and starts its read and
// write pumps. The hub owns the connection from here on and closes it when
// the session ends.
func (h *Hub) Register(userID string, conn *websocket.Conn) *Session {
	s := &Session{
		hub:    h,
		userID: userID,
		conn:   conn,
		out:    make(chan domain.Notification, h.buffer),
	}
	h.mu.Lock()
	set, ok := h.sessions[userID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go s.writePump()
	go s.readPump()
	return s
}

func (h *Hub) deregister(s *Session) {
	h.mu.Lock()
	if set, ok := h.sessions[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.userID)
		}
	}
	h.mu.Unlock()
}

// Dispatch sends a notification to every open session of one user. It
// never blocks: a session that cannot keep up drops the message.
func (h *Hub) Dispatch(userID string, n domain.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[userID] {
		select {
		case s.out <- n:
		default:
			log.Printf("notify: dropping %s for %s, session buffer full", n.Type, userID)
		}
	}
}

// Connections reports how many sessions a user currently holds.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Close ends one session. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.hub.deregister(s)
		s.conn.Close()
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.ping)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case n := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains inbound frames. Clients have nothing to say on this
// channel; reading is only how we notice the peer going away.
func (s *Session) readPump() {
	defer s.Close()
	s.conn.SetPongHandler(func(string) error { return nil })
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
