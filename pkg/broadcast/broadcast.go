// Package broadcast batches accepted draws and fans them out to all
// registered subscribers on a fixed tick.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/pixelwall/pixelwall/pkg/log"
	"github.com/pixelwall/pixelwall/pkg/metrics"
	"github.com/pixelwall/pixelwall/pkg/types"
)

// Subscriber is one delivery target. Deliver must not block: it hands the
// frame to the subscriber's own writer and reports false when it cannot
// (closed transport or a full handoff buffer). Open reports whether the
// transport still accepts deliveries at all.
type Subscriber interface {
	Deliver(frame []byte) bool
	Open() bool
}

// Engine owns the pending-update queue. Draws are enqueued in accept
// order and flushed at most once per tick as a single PIXEL_UPDATE frame
// shared by every subscriber. A subscriber that refuses a delivery is
// unregistered on the spot; there are no retries and no per-subscriber
// queues here.
type Engine struct {
	tick time.Duration
	m    *metrics.Metrics

	mu    sync.Mutex
	queue []types.Pixel
	subs  map[Subscriber]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

func New(tick time.Duration, m *metrics.Metrics) *Engine {
	return &Engine{
		tick: tick,
		m:    m,
		subs: make(map[Subscriber]struct{}),
		stop: make(chan struct{}),
	}
}

// Register adds a subscriber to the fan-out set. Registration is
// idempotent.
func (e *Engine) Register(s Subscriber) {
	e.mu.Lock()
	e.subs[s] = struct{}{}
	e.mu.Unlock()
}

// Unregister removes a subscriber. Unknown subscribers are ignored.
func (e *Engine) Unregister(s Subscriber) {
	e.mu.Lock()
	delete(e.subs, s)
	e.mu.Unlock()
}

// Enqueue appends one accepted draw to the pending queue. The queue is
// unbounded; it empties every tick.
func (e *Engine) Enqueue(p types.Pixel) {
	e.mu.Lock()
	e.queue = append(e.queue, p)
	e.mu.Unlock()
}

// Subscribers reports the current fan-out set size.
func (e *Engine) Subscribers() int {
	e.mu.Lock()
	n := len(e.subs)
	e.mu.Unlock()
	return n
}

// FlushNow performs one flush outside the tick schedule. Used by the
// shutdown drain; harmless when the queue is empty.
func (e *Engine) FlushNow() {
	e.flush()
}

// flush drains the queue, encodes the batch once, and offers the shared
// frame to every subscriber. The queue is handed off under the lock and
// replaced with a fresh one, so enqueue order within the batch is exactly
// delivery order.
func (e *Engine) flush() {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.queue
	e.queue = nil
	targets := make([]Subscriber, 0, len(e.subs))
	for s := range e.subs {
		targets = append(targets, s)
	}
	e.mu.Unlock()

	frame := types.EncodePixelUpdate(batch)
	dropped := 0
	for _, s := range targets {
		if !s.Open() || !s.Deliver(frame) {
			e.Unregister(s)
			e.m.SubscriberDropped()
			dropped++
		}
	}
	e.m.BatchFlushed(len(batch))
	if dropped > 0 {
		log.Logger.Info().
			Int("dropped", dropped).
			Int("subscribers", len(targets)-dropped).
			Msg("unregistered unreachable subscribers")
	}
	log.Logger.Debug().
		Int("pixels", len(batch)).
		Int("subscribers", len(targets)).
		Msg("broadcast flushed")
}

// Run flushes every tick until Stop is called or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

// Stop halts the tick loop after draining the queue once. Pending updates
// enqueued after Stop are never delivered.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.flush()
	})
}
