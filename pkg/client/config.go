package client

import (
	"log/slog"
	"time"

	"github.com/vango-dev/netsync/pkg/demo"
	"github.com/vango-dev/netsync/pkg/interp"
	"github.com/vango-dev/netsync/pkg/metrics"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/pmove"
	"github.com/vango-dev/netsync/pkg/telemetry"
)

const (
	// ConnectRetry is how often an unanswered getchallenge or connect is
	// sent again.
	ConnectRetry = time.Second

	// DefaultConnectTimeout bounds the whole handshake.
	DefaultConnectTimeout = 10 * time.Second

	// SignonAckInterval is the longest the client stays silent while
	// receiving signon data, so the server learns what arrived.
	SignonAckInterval = 100 * time.Millisecond

	// DefaultPollInterval is how often Connect checks for replies.
	DefaultPollInterval = 10 * time.Millisecond
)

// Config configures a Client.
type Config struct {
	// Name is sent in the userinfo.
	Name string

	// Userinfo holds extra userinfo keys.
	Userinfo map[string]string

	// Qport identifies the client across NAT port changes. Zero picks a
	// random one.
	Qport uint16

	// Channel configures the channel to the server. Nil uses
	// netchan.DefaultConfig.
	Channel *netchan.Config

	// Predict enables client-side prediction of the local player.
	Predict bool

	// Tracer is the collision world for prediction. It must answer the
	// same as the server's or every command is a miss. Nil collides with
	// nothing.
	Tracer pmove.Tracer

	// Epsilon is the per-axis prediction tolerance in 1/8 units.
	Epsilon int16

	// ErrorDecay is how long a prediction correction takes to fade. Zero
	// snaps to corrections.
	ErrorDecay time.Duration

	// InterpMode selects how remote entities are placed between snapshots.
	InterpMode interp.Mode

	// Window tunes the jitter-driven interpolation delay.
	Window interp.WindowConfig

	// ExtrapolateMax is how far past the newest snapshot entities keep
	// moving when the next one is late.
	ExtrapolateMax time.Duration

	// NetworkRate caps clc_move packets per second. Zero sends one per
	// sampled command. A move carries three commands, so at most two
	// commands should be sampled between sends.
	NetworkRate float64

	// ConnectTimeout bounds Connect. Default: DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Logger is the client logger. Nil uses slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with prediction on and linear
// interpolation.
func DefaultConfig() *Config {
	return &Config{
		Name:           "player",
		Predict:        true,
		ErrorDecay:     interp.DefaultErrorDecay,
		InterpMode:     interp.ModeLerp,
		Window:         interp.DefaultWindowConfig(),
		ExtrapolateMax: 50 * time.Millisecond,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Clone returns a copy of the config. Userinfo is copied; Channel, Tracer
// and Logger are shared.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Userinfo != nil {
		clone.Userinfo = make(map[string]string, len(c.Userinfo))
		for k, v := range c.Userinfo {
			clone.Userinfo[k] = v
		}
	}
	return &clone
}

// WithName returns a copy of the config with Name set.
func (c *Config) WithName(name string) *Config {
	clone := c.Clone()
	clone.Name = name
	return clone
}

// WithTracer returns a copy of the config predicting against tr.
func (c *Config) WithTracer(tr pmove.Tracer) *Config {
	clone := c.Clone()
	clone.Tracer = tr
	return clone
}

// WithLogger returns a copy of the config with Logger set.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	clone := c.Clone()
	clone.Logger = logger
	return clone
}

func (c *Config) fill() {
	if c.Name == "" {
		c.Name = "player"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ExtrapolateMax < 0 {
		c.ExtrapolateMax = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Channel == nil {
		c.Channel = netchan.DefaultConfig()
	}
	if c.Channel.Logger == nil {
		c.Channel.Logger = c.Logger
	}
}

// Option attaches an optional collaborator to a Client.
type Option func(*Client)

// WithMetrics records reconciliation outcomes and received packets in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTelemetry traces snapshot application and reconciliation.
func WithTelemetry(t *telemetry.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithDemo records every server message into rec from the start of the
// connection. rec is closed by Disconnect.
func WithDemo(rec *demo.Recorder) Option {
	return func(c *Client) {
		c.demo = rec
	}
}
