package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pixelwall/pixelwall/pkg/broadcast"
	"github.com/pixelwall/pixelwall/pkg/canvas"
	"github.com/pixelwall/pixelwall/pkg/log"
	"github.com/pixelwall/pixelwall/pkg/metrics"
	"github.com/pixelwall/pixelwall/pkg/pixel"
	"github.com/pixelwall/pixelwall/pkg/server"
	"github.com/pixelwall/pixelwall/pkg/store"
	"github.com/pixelwall/pixelwall/pkg/users"
	"github.com/pixelwall/pixelwall/pkg/ws"
)

// Version is overridden at build-time.
var Version = "dev"

func main() {
	host := flag.String("host", "0.0.0.0", "bind address")
	port := flag.Int("port", envInt("PIXELWALL_PORT", 3001), "TCP port (env PIXELWALL_PORT)")
	dbPath := flag.String("db", os.Getenv("PIXELWALL_DB"), "SQLite database path, required (env PIXELWALL_DB)")
	env := flag.String("env", envStr("PIXELWALL_ENV", "development"), "environment name reported by /health (env PIXELWALL_ENV)")
	reload := flag.Duration("reload-interval", envDuration("PIXELWALL_RELOAD_INTERVAL", 15*time.Minute), "canvas reload interval (env PIXELWALL_RELOAD_INTERVAL)")
	tick := flag.Duration("broadcast-tick", envDuration("PIXELWALL_BROADCAST_TICK", 100*time.Millisecond), "broadcast batch interval (env PIXELWALL_BROADCAST_TICK)")
	ping := flag.Duration("ping-interval", envDuration("PIXELWALL_PING_INTERVAL", 30*time.Second), "keepalive sweep interval (env PIXELWALL_PING_INTERVAL)")
	showVer := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pixelwall %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("pixelwall %s\n", Version)
		os.Exit(0)
	}

	level := zerolog.InfoLevel
	if *env == "development" {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Logger.Level(level).With().Str("version", Version).Logger()

	if *dbPath == "" {
		log.Logger.Fatal().Msg("database path is required: set PIXELWALL_DB or pass -db")
	}
	addr := fmt.Sprintf("%s:%d", *host, *port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, *dbPath)
	if err != nil {
		log.Logger.Fatal().Err(err).Str("db", *dbPath).Msg("could not open event store")
	}
	defer st.Close()

	cache := canvas.New(st)
	// Startup is the one moment a reload failure is fatal: without a
	// first snapshot there is nothing to serve.
	if err := cache.Reload(ctx); err != nil {
		log.Logger.Fatal().Err(err).Msg("initial canvas load failed")
	}
	events, err := st.CountEvents(ctx)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("event store unreadable")
	}
	log.Logger.Info().
		Int64("events", events).
		Int("cells", cache.Len()).
		Str("db", *dbPath).
		Msg("canvas loaded")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	metrics.RegisterCanvasSize(reg, cache.Len)

	engine := broadcast.New(*tick, m)
	repo := pixel.NewRepo(st, cache, engine)
	dir := users.NewDirectory(st)
	hub := ws.NewHub(repo, engine, dir, *ping, m)

	srv := server.New(server.Config{Env: *env, ReloadInterval: *reload}, cache, dir, hub, engine, reg)
	if err := srv.Run(ctx, addr); err != nil {
		log.Logger.Fatal().Err(err).Msg("fatal")
	}
	log.Logger.Info().Msg("shutdown complete")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Logger.Warn().Str("key", key).Str("value", v).Msg("ignoring malformed integer in environment")
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Logger.Warn().Str("key", key).Str("value", v).Msg("ignoring malformed duration in environment")
		return fallback
	}
	return d
}
