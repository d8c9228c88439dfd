// Package metrics exposes netsync counters to Prometheus.
//
// A Metrics value owns one set of collectors registered with one registry.
// All Record methods are safe on a nil *Metrics, so callers can leave
// metrics unconfigured without guarding each call.
//
// Collected metrics (with the default "netsync" namespace):
//   - netsync_packets_received_total: datagrams handled, by source
//   - netsync_packets_sent_total / netsync_bytes_sent_total / netsync_bytes_received_total
//   - netsync_channel_drops_total: packets the channel refused, by reason
//   - netsync_clients: connected clients
//   - netsync_connects_total / netsync_timeouts_total / netsync_resyncs_total
//   - netsync_snapshots_total: snapshots built, by kind (delta or full)
//   - netsync_snapshot_bytes: snapshot message size
//   - netsync_tick_duration_seconds: server tick duration
//   - netsync_zpackets_total / netsync_compression_saved_bytes_total
//   - netsync_prediction_misses_total / netsync_prediction_replayed_total / netsync_prediction_teleports_total
//   - netsync_queue_depth / netsync_queue_dropped_total (after WatchQueue)
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/prediction"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "netsync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for tick duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer

	// Gatherer serves Handler. It defaults to Registry when that is also a
	// Gatherer, else prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the tick duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "netsync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors.
type Metrics struct {
	cfg     Config
	factory promauto.Factory

	packetsReceived *prometheus.CounterVec
	packetsSent     prometheus.Counter
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	channelDrops    *prometheus.CounterVec
	clients         prometheus.Gauge
	connects        prometheus.Counter
	timeouts        prometheus.Counter
	resyncs         prometheus.Counter
	snapshots       *prometheus.CounterVec
	snapshotBytes   prometheus.Histogram
	tickDuration    prometheus.Histogram
	zpackets        prometheus.Counter
	savedBytes      prometheus.Counter
	misses          prometheus.Counter
	replayed        prometheus.Counter
	teleports       prometheus.Counter
}

// New registers a fresh set of collectors. It panics if they are already
// registered with the same registry, like promauto does.
func New(opts ...Option) *Metrics {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Gatherer == nil {
		if g, ok := cfg.Registry.(prometheus.Gatherer); ok {
			cfg.Gatherer = g
		} else {
			cfg.Gatherer = prometheus.DefaultGatherer
		}
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}

	return &Metrics{
		cfg:     cfg,
		factory: factory,

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "packets_received_total",
			Help:        "Datagrams handled by the simulation, by transport",
			ConstLabels: cfg.ConstLabels,
		}, []string{"source"}),
		packetsSent:   counter("packets_sent_total", "Datagrams written by channels"),
		bytesSent:     counter("bytes_sent_total", "Bytes of channel payload sent"),
		bytesReceived: counter("bytes_received_total", "Bytes of datagrams received"),

		channelDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "channel_drops_total",
			Help:        "Packets lost or refused by channels, by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),

		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "clients",
			Help:        "Number of connected clients",
			ConstLabels: cfg.ConstLabels,
		}),
		connects: counter("connects_total", "Client connections accepted"),
		timeouts: counter("timeouts_total", "Clients dropped for silence"),
		resyncs:  counter("resyncs_total", "Full snapshots requested by clients"),

		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "snapshots_total",
			Help:        "Snapshots built, by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
		snapshotBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "snapshot_bytes",
			Help:        "Snapshot message size in bytes",
			ConstLabels: cfg.ConstLabels,
			Buckets:     []float64{16, 64, 256, 512, 1024, 1400, 4096},
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "tick_duration_seconds",
			Help:        "Server tick duration in seconds",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}),

		zpackets:   counter("zpackets_total", "Messages sent compressed"),
		savedBytes: counter("compression_saved_bytes_total", "Bytes saved by compression"),

		misses:    counter("prediction_misses_total", "Predictions that disagreed with the server"),
		replayed:  counter("prediction_replayed_total", "Commands replayed after misses"),
		teleports: counter("prediction_teleports_total", "Corrections too large to smooth"),
	}
}

// Handler serves the configured gatherer in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.cfg.Gatherer, promhttp.HandlerOpts{})
}

// WatchQueue exports the depth and drop count of q. Call it once per queue.
func (m *Metrics) WatchQueue(q *ingress.Queue) {
	if m == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   m.cfg.Namespace,
		Subsystem:   m.cfg.Subsystem,
		Name:        "queue_depth",
		Help:        "Packets waiting for the simulation",
		ConstLabels: m.cfg.ConstLabels,
	}, func() float64 { return float64(q.Len()) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   m.cfg.Namespace,
		Subsystem:   m.cfg.Subsystem,
		Name:        "queue_dropped_total",
		Help:        "Packets refused because the ingress queue was full",
		ConstLabels: m.cfg.ConstLabels,
	}, func() float64 { return float64(q.Dropped()) })
}

// RecordPacket counts one received datagram.
func (m *Metrics) RecordPacket(p ingress.Packet) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(p.Source.String()).Inc()
	m.bytesReceived.Add(float64(len(p.Data)))
}

// RecordChannel adds the growth from prev to cur of one channel's stats.
func (m *Metrics) RecordChannel(prev, cur netchan.Stats) {
	if m == nil {
		return
	}
	add := func(c prometheus.Counter, a, b uint64) {
		if b > a {
			c.Add(float64(b - a))
		}
	}
	add(m.packetsSent, prev.Sent, cur.Sent)
	add(m.channelDrops.WithLabelValues("gap"), prev.Dropped, cur.Dropped)
	add(m.channelDrops.WithLabelValues("duplicate"), prev.Duplicates, cur.Duplicates)
	add(m.channelDrops.WithLabelValues("malformed"), prev.Malformed, cur.Malformed)
	add(m.channelDrops.WithLabelValues("unreliable_dumped"), prev.UnreliableDumped, cur.UnreliableDumped)
}

// RecordSent counts payload bytes handed to a channel.
func (m *Metrics) RecordSent(bytes int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(bytes))
}

// SetClients sets the connected client gauge.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

// RecordConnect counts an accepted connection.
func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.connects.Inc()
}

// RecordTimeout counts a client dropped for silence.
func (m *Metrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

// RecordResync counts a client's request for a full snapshot.
func (m *Metrics) RecordResync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

// RecordSnapshot counts a built snapshot of size bytes. full is true when
// it was not delta-compressed.
func (m *Metrics) RecordSnapshot(size int, full bool) {
	if m == nil {
		return
	}
	kind := "delta"
	if full {
		kind = "full"
	}
	m.snapshots.WithLabelValues(kind).Inc()
	m.snapshotBytes.Observe(float64(size))
}

// RecordCompression counts a message sent as a zpacket.
func (m *Metrics) RecordCompression(original, compressed int) {
	if m == nil {
		return
	}
	m.zpackets.Inc()
	if original > compressed {
		m.savedBytes.Add(float64(original - compressed))
	}
}

// RecordTick observes one server tick's duration.
func (m *Metrics) RecordTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

// RecordReconcile counts the outcome of a prediction reconcile.
func (m *Metrics) RecordReconcile(res prediction.Result) {
	if m == nil {
		return
	}
	if res.Miss {
		m.misses.Inc()
		m.replayed.Add(float64(res.Replayed))
	}
	if res.Teleport {
		m.teleports.Inc()
	}
}
