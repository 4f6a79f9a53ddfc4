// Package metrics holds the Prometheus collectors for the server. A nil
// *Metrics disables instrumentation, so library packages can call the
// recording methods unconditionally.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pixelwall"

type Metrics struct {
	pixelsDrawn      prometheus.Counter
	framesRejected   prometheus.Counter
	sessionsActive   prometheus.Gauge
	broadcastFlushes prometheus.Counter
	batchSize        prometheus.Histogram
	subsDropped      prometheus.Counter
}

// New builds and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pixelsDrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pixels_drawn_total",
			Help:      "Draw events accepted and persisted.",
		}),
		framesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Inbound frames rejected for decoding or validation reasons.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Currently open realtime sessions.",
		}),
		broadcastFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_flushes_total",
			Help:      "Broadcast ticks that delivered a non-empty batch.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_batch_pixels",
			Help:      "Pixels per delivered broadcast batch.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		subsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_subscribers_dropped_total",
			Help:      "Subscribers unregistered because a delivery failed.",
		}),
	}
	reg.MustRegister(m.pixelsDrawn, m.framesRejected, m.sessionsActive,
		m.broadcastFlushes, m.batchSize, m.subsDropped)
	return m
}

// RegisterCanvasSize exposes the occupied cell count of the active canvas
// buffer as a gauge.
func RegisterCanvasSize(reg prometheus.Registerer, size func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "canvas_cells",
		Help:      "Occupied cells in the active canvas buffer.",
	}, func() float64 { return float64(size()) }))
}

func (m *Metrics) DrawAccepted() {
	if m == nil {
		return
	}
	m.pixelsDrawn.Inc()
}

func (m *Metrics) DrawRejected() {
	if m == nil {
		return
	}
	m.framesRejected.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) BatchFlushed(pixels int) {
	if m == nil {
		return
	}
	m.broadcastFlushes.Inc()
	m.batchSize.Observe(float64(pixels))
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.subsDropped.Inc()
}
