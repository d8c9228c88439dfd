package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-dev/netsync/pkg/compress"
	"github.com/vango-dev/netsync/pkg/demo"
	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/master"
	"github.com/vango-dev/netsync/pkg/metrics"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/telemetry"
	"github.com/vango-dev/netsync/pkg/transport"
)

const (
	// DefaultTickRate is the simulation and snapshot rate in Hz.
	DefaultTickRate = 10

	// DefaultMaxClients is the number of player slots.
	DefaultMaxClients = 8

	// MaxChallenges bounds the outstanding challenges. The oldest is
	// forgotten when a new address asks for one.
	MaxChallenges = 1024

	// KeepaliveInterval is how often a client that has not entered the game
	// yet is sent an empty packet so its channel does not time out.
	KeepaliveInterval = time.Second

	// MaxSnapshotOverflows is how many snapshots in a row may overflow for
	// one client before it is dropped.
	MaxSnapshotOverflows = 8
)

// Config configures a Server.
type Config struct {
	// Name is reported by status queries and the master heartbeat.
	Name string

	// Addr is the UDP address to bind, such as ":27910". Empty disables UDP
	// so the server is reachable only through loopback or WebSocket.
	Addr string

	// DSCP marks outgoing UDP packets. Zero leaves them unmarked.
	DSCP int

	// TickRate is the frame rate in Hz. Default: 10.
	TickRate int

	// MaxClients is the number of player slots. Default: 8.
	MaxClients int

	// LevelName is sent to clients in serverdata.
	LevelName string

	// QueueCapacity sizes the ingress queue. Default: ingress.DefaultCapacity.
	QueueCapacity int

	// DrainPerTick caps the packets handled per tick.
	// Default: ingress.DefaultDrainPerTick.
	DrainPerTick int

	// Channel configures every client channel. Nil uses
	// netchan.DefaultConfig.
	Channel *netchan.Config

	// Compression decides when snapshots are sent as svc_zpacket.
	Compression compress.Options

	// WebSocket enables the WebSocket transport on Router's /ws.
	WebSocket bool

	// CheckOrigin validates WebSocket upgrades. Nil rejects cross-origin
	// requests.
	CheckOrigin func(r *http.Request) bool

	// Logger is the server logger. Nil uses slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:          "netsync",
		Addr:          ":27910",
		TickRate:      DefaultTickRate,
		MaxClients:    DefaultMaxClients,
		LevelName:     "base1",
		QueueCapacity: ingress.DefaultCapacity,
		DrainPerTick:  ingress.DefaultDrainPerTick,
		Channel:       netchan.DefaultConfig(),
		Compression:   compress.DefaultOptions(),
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Channel != nil {
		ch := *c.Channel
		clone.Channel = &ch
	}
	return &clone
}

// WithAddr sets the UDP address and returns the config for chaining.
func (c *Config) WithAddr(addr string) *Config {
	c.Addr = addr
	return c
}

// WithTickRate sets the tick rate and returns the config for chaining.
func (c *Config) WithTickRate(hz int) *Config {
	c.TickRate = hz
	return c
}

// WithMaxClients sets the slot count and returns the config for chaining.
func (c *Config) WithMaxClients(n int) *Config {
	c.MaxClients = n
	return c
}

// WithLogger sets the logger and returns the config for chaining.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// TickInterval is the duration of one frame.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// fill replaces zero values with defaults.
func (c *Config) fill() {
	d := DefaultConfig()
	if c.TickRate <= 0 {
		c.TickRate = d.TickRate
	}
	if c.MaxClients <= 0 {
		c.MaxClients = d.MaxClients
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.DrainPerTick <= 0 {
		c.DrainPerTick = d.DrainPerTick
	}
	if c.Channel == nil {
		c.Channel = d.Channel
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Channel.Logger == nil {
		c.Channel.Logger = c.Logger
	}
}

// Option attaches an optional collaborator to a Server.
type Option func(*Server)

// WithMetrics records server activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracer traces snapshot builds with t.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithLoopback attaches the server to an in-process network at index, so
// clients on the same network can connect to netchan.LoopbackAddr(index).
func WithLoopback(l *transport.Loopback, index uint32) Option {
	return func(s *Server) {
		s.loopback = l
		s.loopbackIndex = index
	}
}

// WithHeartbeat announces the server to the masters in cfg while Serve runs.
func WithHeartbeat(cfg master.Config) Option {
	return func(s *Server) {
		if cfg.Logger == nil {
			cfg.Logger = s.logger
		}
		s.heartbeat = master.New(cfg, s.masterStatus)
	}
}

// WithDemo records what the player in slot sees into rec. Recording starts
// when the slot enters the game and rec is closed with the server.
func WithDemo(rec *demo.Recorder, slot int) Option {
	return func(s *Server) {
		s.demo = &demoRecording{rec: rec}
		s.demo.view.Viewer = slot
	}
}
