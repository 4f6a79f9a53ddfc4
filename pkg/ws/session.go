// Package ws owns the realtime transport: one session per websocket
// connection, a hub that routes inbound frames, and the keepalive reaper.
package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

// wsconn is the subset of *websocket.Conn the session touches. Tests
// substitute an in-memory implementation.
type wsconn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

const (
	// writeWait bounds a single outbound write, close frames included.
	writeWait = 10 * time.Second
	// maxFrameBytes caps inbound frames; client frames are small JSON
	// objects, so anything larger is abuse.
	maxFrameBytes = 4096
	// sendBuffer is the handoff depth between the broadcast tick and the
	// session writer. A full buffer means the peer cannot keep up with
	// the tick rate and gets dropped by the engine.
	sendBuffer = 16
)

// Session is one realtime connection. All outbound frames pass through
// the send channel to a single writer goroutine: writes are serialized
// per session while distinct sessions write in parallel.
type Session struct {
	ID          string
	connectedAt time.Time

	// cookieID is the directory id presented in the upgrade request
	// cookie; empty for anonymous visitors.
	cookieID string
	// userID is resolved on the first draw and cached. Owned by the read
	// loop; nothing else may touch it.
	userID string

	conn wsconn
	send chan []byte

	closed    chan struct{}
	closeOnce sync.Once
	alive     atomic.Bool
}

func newSession(conn wsconn, cookieID string) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		connectedAt: time.Now(),
		cookieID:    cookieID,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		closed:      make(chan struct{}),
	}
	s.alive.Store(true)
	return s
}

// Deliver hands a frame to the session writer without blocking. False
// means the session is closing or its writer is backed up; the caller
// decides what that implies.
func (s *Session) Deliver(frame []byte) bool {
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

// Open reports whether the transport still accepts deliveries.
func (s *Session) Open() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// markAlive records proof of life: any inbound frame or protocol pong.
func (s *Session) markAlive() {
	s.alive.Store(true)
}

// swapAlive clears the liveness flag and returns its previous value. The
// keepalive sweep uses this as an atomic read-and-arm.
func (s *Session) swapAlive() bool {
	return s.alive.Swap(false)
}

// writePump drains the send channel onto the wire. It is the only
// goroutine that writes data frames. A failed write tears the session
// down; the read loop notices the closed transport and finishes cleanup.
func (s *Session) writePump() {
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.terminate()
				return
			}
		}
	}
}

// Close shuts the session down gracefully: a best-effort close frame,
// then the transport is torn down. Idempotent.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
}

// terminate tears the transport down without a close frame. Used for
// peers that are gone anyway: broken reads and dead keepalives.
func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}
