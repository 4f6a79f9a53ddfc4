// Package canvas holds the in-memory materialized view of the pixel log.
// Reads never touch the database; they are served from an active buffer
// that a periodic reload swaps out wholesale.
package canvas

import (
	"context"
	"sync"
	"time"

	"github.com/pixelwall/pixelwall/pkg/log"
	"github.com/pixelwall/pixelwall/pkg/types"
)

// Loader produces the authoritative latest-per-coordinate view. Satisfied
// by *store.Store.
type Loader interface {
	SnapshotLatest(ctx context.Context) ([]types.Pixel, error)
}

// reloadTimeout bounds one snapshot load. A reload that exceeds it is
// abandoned and the cache keeps serving the stale buffer.
const reloadTimeout = 60 * time.Second

// Cache is a double-buffered map keyed by packed coordinate. One buffer is
// active and serves all reads; reloads build the standby buffer off-lock
// and swap it in atomically. Writes applied while a reload is in flight
// are kept in a pending list and replayed onto the fresh buffer before the
// swap, so they can never be lost to an older database snapshot.
type Cache struct {
	loader  Loader
	timeout time.Duration

	mu      sync.RWMutex
	buffers [2]map[uint32]types.Pixel
	active  int
	loading bool
	pending []types.Pixel
}

func New(loader Loader) *Cache {
	c := &Cache{loader: loader, timeout: reloadTimeout}
	c.buffers[0] = make(map[uint32]types.Pixel)
	c.buffers[1] = make(map[uint32]types.Pixel)
	return c
}

// ApplyUpdate overlays one accepted write onto the active buffer. While a
// reload is in flight the write is also queued for replay onto the
// incoming buffer. The critical section is O(1).
func (c *Cache) ApplyUpdate(p types.Pixel) {
	c.mu.Lock()
	c.buffers[c.active][p.Key()] = p
	if c.loading {
		c.pending = append(c.pending, p)
	}
	c.mu.Unlock()
}

// Get returns the cell at (x, y) if it has ever been drawn.
func (c *Cache) Get(x, y int) (types.Pixel, bool) {
	c.mu.RLock()
	p, ok := c.buffers[c.active][types.CoordKey(x, y)]
	c.mu.RUnlock()
	return p, ok
}

// GetAll copies every occupied cell out of the active buffer. Order is
// unspecified; callers sort as needed.
func (c *Cache) GetAll() []types.Pixel {
	c.mu.RLock()
	buf := c.buffers[c.active]
	out := make([]types.Pixel, 0, len(buf))
	for _, p := range buf {
		out = append(out, p)
	}
	c.mu.RUnlock()
	return out
}

// GetRegion copies the cells inside the inclusive bounding box.
func (c *Cache) GetRegion(minX, minY, maxX, maxY int) []types.Pixel {
	c.mu.RLock()
	buf := c.buffers[c.active]
	var out []types.Pixel
	for _, p := range buf {
		if p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY {
			out = append(out, p)
		}
	}
	c.mu.RUnlock()
	return out
}

// Len reports the number of occupied cells in the active buffer.
func (c *Cache) Len() int {
	c.mu.RLock()
	n := len(c.buffers[c.active])
	c.mu.RUnlock()
	return n
}

// Reload rebuilds the standby buffer from the loader and swaps it in. At
// most one reload runs at a time; a call that finds one in flight returns
// immediately. On loader failure the active buffer is left untouched and
// the error is returned.
func (c *Cache) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	pixels, err := c.loader.SnapshotLatest(ctx)
	if err != nil {
		c.mu.Lock()
		c.loading = false
		c.pending = nil
		c.mu.Unlock()
		return err
	}

	standby := make(map[uint32]types.Pixel, len(pixels))
	for _, p := range pixels {
		standby[p.Key()] = p
	}

	// Capture-replay-swap happens under one lock acquisition so no write
	// can slip between the replay and the buffer flip.
	c.mu.Lock()
	for _, p := range c.pending {
		standby[p.Key()] = p
	}
	replayed := len(c.pending)
	c.pending = nil
	c.buffers[1-c.active] = standby
	c.active = 1 - c.active
	c.loading = false
	c.mu.Unlock()

	log.Logger.Debug().
		Int("pixels", len(standby)).
		Int("replayed", replayed).
		Dur("took", time.Since(started)).
		Msg("canvas reloaded")
	return nil
}

// Run reloads the cache every interval until ctx is cancelled. Failures
// are logged and the cache keeps serving the previous buffer.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Reload(ctx); err != nil {
				log.Logger.Error().Err(err).Msg("periodic canvas reload failed; serving stale buffer")
			}
		}
	}
}
