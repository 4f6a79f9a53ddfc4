// Package pixel coordinates one accepted draw across the event store, the
// canvas cache, and the broadcast queue, in that order.
package pixel

import (
	"context"
	"time"

	"github.com/pixelwall/pixelwall/pkg/types"
)

// Appender durably records pixel events. Satisfied by *store.Store.
type Appender interface {
	Append(ctx context.Context, p types.Pixel) error
}

// Mirror applies accepted writes to the in-memory view. Satisfied by
// *canvas.Cache.
type Mirror interface {
	ApplyUpdate(p types.Pixel)
}

// Enqueuer hands accepted writes to the broadcast engine. Satisfied by
// *broadcast.Engine.
type Enqueuer interface {
	Enqueue(p types.Pixel)
}

// Repo is the single write path for draws. Persistence comes first; the
// cache and queue are only touched once the event is durable, so a
// storage failure leaves all three stores unchanged.
type Repo struct {
	events Appender
	cache  Mirror
	queue  Enqueuer
}

func NewRepo(events Appender, cache Mirror, queue Enqueuer) *Repo {
	return &Repo{events: events, cache: cache, queue: queue}
}

// Record validates and persists one draw, stamps it with the current
// time, mirrors it into the cache, and queues it for broadcast. The
// returned Pixel carries the stamped timestamp and is what subscribers
// will eventually see.
func (r *Repo) Record(ctx context.Context, x, y int, red, green, blue uint8, userID string) (types.Pixel, error) {
	p := types.Pixel{
		X: x, Y: y,
		R: red, G: green, B: blue,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if err := r.events.Append(ctx, p); err != nil {
		return types.Pixel{}, err
	}
	r.cache.ApplyUpdate(p)
	r.queue.Enqueue(p)
	return p, nil
}
