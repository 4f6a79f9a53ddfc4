// Package server wires the HTTP surface: snapshot endpoints served from
// the canvas cache, the user directory endpoints, the realtime upgrade,
// and operational routes.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	fiber "github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	corsmiddleware "github.com/gofiber/fiber/v3/middleware/cors"
	recovermiddleware "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixelwall/pixelwall/pkg/broadcast"
	"github.com/pixelwall/pixelwall/pkg/canvas"
	"github.com/pixelwall/pixelwall/pkg/log"
	"github.com/pixelwall/pixelwall/pkg/types"
	"github.com/pixelwall/pixelwall/pkg/users"
	"github.com/pixelwall/pixelwall/pkg/ws"
)

// Config carries the runtime knobs the server itself needs. Component
// construction happens in the composition root; this is what remains.
type Config struct {
	Env            string
	ReloadInterval time.Duration
}

// Server encapsulates the Fiber app and the components behind it. It is
// safe for concurrent use.
type Server struct {
	app    *fiber.App
	cfg    Config
	cache  *canvas.Cache
	users  *users.Directory
	hub    *ws.Hub
	engine *broadcast.Engine
}

func New(cfg Config, cache *canvas.Cache, dir *users.Directory, hub *ws.Hub, engine *broadcast.Engine, reg *prometheus.Registry) *Server {
	s := &Server{
		cfg:    cfg,
		cache:  cache,
		users:  dir,
		hub:    hub,
		engine: engine,
	}

	app := fiber.New(fiber.Config{
		ServerHeader: "pixelwall",
	})
	app.Use(recovermiddleware.New())
	app.Use(corsmiddleware.New())

	app.Get("/health", s.handleHealth)
	app.Get("/api/pixels", s.handlePixels)
	app.Get("/api/pixels/region", s.handleRegion)
	app.Get("/api/pixels/binary", s.handleBinary)
	app.Post("/api/users", s.handleCreateUser)
	app.Get("/api/users/me", s.handleMe)
	app.Get("/ws", s.handleWS)
	if reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	s.app = app
	return s
}

// Run starts the background loops and serves until ctx is cancelled.
// Shutdown is ordered: stop accepting, close every session with a close
// frame, then drain the broadcast queue once.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.cache.Run(ctx, s.cfg.ReloadInterval)
	go s.engine.Run(ctx)
	go s.hub.RunKeepalive(ctx)
	go func() {
		<-ctx.Done()
		_ = s.app.Shutdown()
	}()

	log.Logger.Info().
		Str("addr", addr).
		Str("env", s.cfg.Env).
		Dur("reload_interval", s.cfg.ReloadInterval).
		Msg("listening")
	err := s.app.Listen(addr)

	s.hub.CloseAll("server shutting down")
	s.engine.Stop()
	return err
}

type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func httpError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(errorResponse{
		Error:      http.StatusText(status),
		Message:    message,
		StatusCode: status,
	})
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(healthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: s.cfg.Env,
	})
}

func (s *Server) handlePixels(c fiber.Ctx) error {
	pixels := s.cache.GetAll()
	types.SortCanonical(pixels)
	c.Set("Content-Type", "application/json; charset=utf-8")
	return c.Send(types.EncodePixelList(pixels))
}

func (s *Server) handleRegion(c fiber.Ctx) error {
	box, err := parseRegion(c.Query("minX"), c.Query("minY"), c.Query("maxX"), c.Query("maxY"))
	if err != nil {
		return httpError(c, fiber.StatusBadRequest, err.Error())
	}
	pixels := s.cache.GetRegion(box.minX, box.minY, box.maxX, box.maxY)
	types.SortCanonical(pixels)
	c.Set("Content-Type", "application/json; charset=utf-8")
	return c.Send(types.EncodePixelList(pixels))
}

func (s *Server) handleBinary(c fiber.Ctx) error {
	pixels := s.cache.GetAll()
	types.SortCanonical(pixels)
	c.Set("Content-Type", "application/octet-stream")
	c.Set("X-Pixel-Count", strconv.Itoa(len(pixels)))
	return c.Send(encodeBinary(pixels))
}

func (s *Server) handleCreateUser(c fiber.Ctx) error {
	u, err := s.users.Create(c.RequestCtx())
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			return httpError(c, fiber.StatusConflict, "user id already exists")
		}
		log.Logger.Error().Err(err).Msg("user creation failed")
		return httpError(c, fiber.StatusInternalServerError, "could not create user")
	}
	c.Cookie(&fiber.Cookie{
		Name:     users.SessionCookie,
		Value:    u.ID,
		Path:     "/",
		MaxAge:   int(users.CookieTTL.Seconds()),
		Expires:  time.Now().Add(users.CookieTTL),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (s *Server) handleMe(c fiber.Ctx) error {
	id := c.Cookies(users.SessionCookie)
	if id == "" {
		return httpError(c, fiber.StatusUnauthorized, "no session cookie")
	}
	u, ok, err := s.users.Get(c.RequestCtx(), id)
	if err != nil {
		log.Logger.Error().Err(err).Msg("user lookup failed")
		return httpError(c, fiber.StatusInternalServerError, "could not look up user")
	}
	if !ok {
		return httpError(c, fiber.StatusUnauthorized, "unknown session")
	}
	return c.JSON(u)
}

// handleWS upgrades into a realtime session. The cookie is read here
// because the connection handler runs after the request context has been
// hijacked and recycled.
func (s *Server) handleWS(c fiber.Ctx) error {
	cookieID := c.Cookies(users.SessionCookie)
	return s.hub.UpgradeContext(c.RequestCtx(), cookieID)
}

type region struct {
	minX, minY, maxX, maxY int
}

// parseRegion validates the four bounds: each an integer on the canvas,
// and min ≤ max per axis.
func parseRegion(minXs, minYs, maxXs, maxYs string) (region, error) {
	parse := func(name, v string) (int, error) {
		if v == "" {
			return 0, fmt.Errorf("%s is required", name)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
		}
		if n < types.CanvasMin || n > types.CanvasMax {
			return 0, fmt.Errorf("%s must be between %d and %d, got %d", name, types.CanvasMin, types.CanvasMax, n)
		}
		return n, nil
	}

	var (
		box region
		err error
	)
	if box.minX, err = parse("minX", minXs); err != nil {
		return region{}, err
	}
	if box.minY, err = parse("minY", minYs); err != nil {
		return region{}, err
	}
	if box.maxX, err = parse("maxX", maxXs); err != nil {
		return region{}, err
	}
	if box.maxY, err = parse("maxY", maxYs); err != nil {
		return region{}, err
	}
	if box.minX > box.maxX {
		return region{}, fmt.Errorf("minX %d exceeds maxX %d", box.minX, box.maxX)
	}
	if box.minY > box.maxY {
		return region{}, fmt.Errorf("minY %d exceeds maxY %d", box.minY, box.maxY)
	}
	return box, nil
}

// encodeBinary packs each pixel into a fixed 8-byte little-endian record:
// uint16 x, uint16 y, then r, g, b, and a reserved zero byte.
func encodeBinary(pixels []types.Pixel) []byte {
	buf := make([]byte, 8*len(pixels))
	for i, p := range pixels {
		off := i * 8
		binary.LittleEndian.PutUint16(buf[off:], uint16(p.X))
		binary.LittleEndian.PutUint16(buf[off+2:], uint16(p.Y))
		buf[off+4] = p.R
		buf[off+5] = p.G
		buf[off+6] = p.B
	}
	return buf
}
