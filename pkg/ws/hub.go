package ws

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/pixelwall/pixelwall/pkg/broadcast"
	"github.com/pixelwall/pixelwall/pkg/log"
	"github.com/pixelwall/pixelwall/pkg/metrics"
	"github.com/pixelwall/pixelwall/pkg/types"
)

// Recorder is the write path for accepted draws. Satisfied by
// *pixel.Repo.
type Recorder interface {
	Record(ctx context.Context, x, y int, red, green, blue uint8, userID string) (types.Pixel, error)
}

// Registry is the part of the broadcast engine the hub drives.
type Registry interface {
	Register(s broadcast.Subscriber)
	Unregister(s broadcast.Subscriber)
}

// Attributor resolves the user a draw is attributed to. Satisfied by
// *users.Directory.
type Attributor interface {
	Resolve(ctx context.Context, cookieID, sessionID string) (string, error)
}

// Hub accepts upgraded connections, runs their read loops, and reaps
// peers that stop answering keepalives.
type Hub struct {
	repo         Recorder
	engine       Registry
	users        Attributor
	m            *metrics.Metrics
	pingInterval time.Duration
	upgrader     websocket.FastHTTPUpgrader

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewHub(repo Recorder, engine Registry, users Attributor, pingInterval time.Duration, m *metrics.Metrics) *Hub {
	return &Hub{
		repo:         repo,
		engine:       engine,
		users:        users,
		m:            m,
		pingInterval: pingInterval,
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
		},
		sessions: make(map[*Session]struct{}),
	}
}

// UpgradeContext hijacks the request into a realtime session. The session
// cookie must be read before this call: the connection handler runs after
// the handshake response is sent and the request context is recycled.
func (h *Hub) UpgradeContext(ctx *fasthttp.RequestCtx, cookieID string) error {
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		h.serve(conn, cookieID)
	})
	if err != nil {
		// The upgrader already wrote the handshake rejection.
		log.Logger.Warn().Err(err).Msg("websocket upgrade failed")
	}
	return nil
}

// serve owns the connection from accept to cleanup. It registers the
// session for broadcasts, starts the writer, and runs the read loop on
// the calling goroutine.
func (h *Hub) serve(conn wsconn, cookieID string) {
	s := newSession(conn, cookieID)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.engine.Register(s)
	h.m.SessionOpened()
	log.Logger.Info().Str("session", s.ID).Int("sessions", n).Msg("session connected")

	go s.writePump()

	conn.SetReadLimit(maxFrameBytes)
	conn.SetPongHandler(func(string) error {
		s.markAlive()
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Logger.Warn().Err(err).Str("session", s.ID).Msg("session read failed")
			}
			break
		}
		s.markAlive()
		h.handleFrame(s, data)
	}

	s.terminate()
	if h.remove(s) {
		log.Logger.Info().
			Str("session", s.ID).
			Dur("connected", time.Since(s.connectedAt)).
			Msg("session disconnected")
	}
}

// remove deletes the session from the hub and the broadcast registry.
// Returns false if another path already removed it.
func (h *Hub) remove(s *Session) bool {
	h.mu.Lock()
	_, ok := h.sessions[s]
	if ok {
		delete(h.sessions, s)
	}
	h.mu.Unlock()
	if ok {
		h.engine.Unregister(s)
		h.m.SessionClosed()
	}
	return ok
}

// Len reports the number of attached sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	n := len(h.sessions)
	h.mu.Unlock()
	return n
}

// handleFrame routes one inbound message. Rejections answer with an ERROR
// frame and leave the session open.
func (h *Hub) handleFrame(s *Session, data []byte) {
	frame, err := types.DecodeClientFrame(data)
	if err != nil {
		h.reject(s, err.Error())
		return
	}
	switch frame.Type {
	case types.FrameKeepalivePong:
		// Liveness was already noted for the inbound frame itself.
	case types.FrameDrawPixel:
		h.handleDraw(s, frame.Payload)
	default:
		h.reject(s, "unknown frame type "+strconv.Quote(frame.Type))
	}
}

func (h *Hub) handleDraw(s *Session, payload json.RawMessage) {
	p, err := types.DecodeDrawPixel(payload)
	if err != nil {
		h.reject(s, err.Error())
		return
	}
	if err := types.ValidateCoords(p.X, p.Y); err != nil {
		h.reject(s, err.Error())
		return
	}
	red, green, blue, err := types.ParseColor(p.Color)
	if err != nil {
		h.reject(s, err.Error())
		return
	}

	if s.userID == "" {
		id, err := h.users.Resolve(context.Background(), s.cookieID, s.ID)
		if err != nil {
			log.Logger.Error().Err(err).Str("session", s.ID).Msg("draw attribution failed")
			s.Deliver(types.EncodeError("could not attribute draw, try again"))
			return
		}
		s.userID = id
	}

	rec, err := h.repo.Record(context.Background(), p.X, p.Y, red, green, blue, s.userID)
	if err != nil {
		if types.IsRejection(err) {
			h.reject(s, err.Error())
			return
		}
		log.Logger.Error().Err(err).Str("session", s.ID).Msg("draw persistence failed")
		s.Deliver(types.EncodeError("draw could not be stored, try again"))
		return
	}
	h.m.DrawAccepted()
	log.Logger.Debug().
		Str("session", s.ID).
		Int("x", rec.X).
		Int("y", rec.Y).
		Str("color", rec.Color()).
		Str("user", rec.UserID).
		Msg("pixel drawn")
}

// reject answers a client-caused failure. The ERROR frame takes the
// normal write path; if the writer is backed up it is simply lost.
func (h *Hub) reject(s *Session, reason string) {
	h.m.DrawRejected()
	s.Deliver(types.EncodeError(reason))
}

// RunKeepalive sweeps every interval until ctx is cancelled.
func (h *Hub) RunKeepalive(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep is one keepalive pass. A session that showed no liveness since
// the previous pass is reaped; everyone else has its flag cleared and
// gets a KEEPALIVE_PING, leaving one full interval to answer.
func (h *Hub) sweep() {
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		if !s.swapAlive() {
			s.terminate()
			if h.remove(s) {
				log.Logger.Info().
					Str("session", s.ID).
					Dur("connected", time.Since(s.connectedAt)).
					Msg("reaped dead peer")
			}
			continue
		}
		// A refused ping is not fatal; the alive flag decides next pass.
		s.Deliver(types.KeepalivePingFrame)
	}
}

// CloseAll closes every session with a close frame carrying reason. Used
// at shutdown, after the listener has stopped accepting upgrades.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.Close(websocket.CloseGoingAway, reason)
		h.remove(s)
	}
	if len(targets) > 0 {
		log.Logger.Info().Int("sessions", len(targets)).Msg("closed all sessions")
	}
}
