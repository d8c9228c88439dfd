package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/demo"
	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/interp"
	"github.com/vango-dev/netsync/pkg/metrics"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/prediction"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/snapshot"
	"github.com/vango-dev/netsync/pkg/telemetry"
)

// ErrDisconnected is returned by Err after the server sent svc_disconnect.
var ErrDisconnected = errors.New("client: disconnected by server")

// State is where the client is in the connection sequence.
type State uint8

const (
	// StateDisconnected means there is no connection.
	StateDisconnected State = iota
	// StateChallenging means getchallenge was sent.
	StateChallenging
	// StateConnecting means connect was sent.
	StateConnecting
	// StateConnected means the channel is up and signon data is arriving.
	StateConnected
	// StateActive means snapshots are arriving and commands are sent.
	StateActive
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateChallenging:
		return "challenging"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Client is the player side of a netsync connection.
//
// A Client is owned by one goroutine, the one running the game loop. The
// transport only feeds its ingress queue.
type Client struct {
	cfg    *Config
	logger *slog.Logger
	w      netchan.PacketWriter
	queue  *ingress.Queue

	state        State
	err          error
	server       netchan.Addr
	qport        uint16
	challenge    int32
	connectStart time.Time
	lastRequest  time.Time

	ch         *netchan.Channel
	serverData protocol.ServerData
	baselines  *snapshot.Baselines
	parser     *snapshot.Parser
	predictor  *prediction.Predictor
	smoother   *interp.ErrorSmoother
	window     *interp.AdaptiveWindow
	buffer     *interp.SnapshotBuffer
	network    interp.Accumulator
	stats      interp.NetStats

	// The two newest valid frames, copied out of the parser ring.
	cur, prev  frameCopy
	curAt      time.Time
	haveFrame  bool
	tracks     map[uint16]*track
	noLerp     map[uint16]bool
	lastSample time.Time

	configStrings map[uint16]string

	nextSeq      int32
	sent         [protocol.CmdBackup]sentCommand
	lastIncoming uint32
	needAck      bool
	resync       bool
	awaitFull    bool

	demo        *demo.Recorder
	demoWaiting bool

	metrics *metrics.Metrics
	tracer  *telemetry.Tracer
}

// New creates a disconnected client that sends through w and reads the
// packets its transport delivers to q.
func New(cfg *Config, w netchan.PacketWriter, q *ingress.Queue, opts ...Option) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.Clone()
	}
	cfg.fill()

	c := &Client{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "client"),
		w:         w,
		queue:     q,
		baselines: snapshot.NewBaselines(),
		window:    interp.NewAdaptiveWindow(cfg.Window),
		tracks:    make(map[uint16]*track),
		noLerp:    make(map[uint16]bool),
		network:   interp.Accumulator{Kind: interp.Network, Rate: cfg.NetworkRate},
	}
	c.configStrings = make(map[uint16]string)
	c.parser = snapshot.NewParser(c.baselines, cfg.Logger)
	c.buffer = interp.NewSnapshotBuffer(interp.DefaultBufferSize, c.window.Delay())
	if cfg.ErrorDecay > 0 {
		c.smoother = interp.NewErrorSmoother(cfg.ErrorDecay)
	}
	c.predictor = prediction.New(prediction.Config{
		Disabled: !cfg.Predict,
		Tracer:   cfg.Tracer,
		Epsilon:  cfg.Epsilon,
		Smoother: c.smoother,
		Logger:   cfg.Logger,
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the connection state.
func (c *Client) State() State {
	return c.state
}

// Err returns why the client last disconnected, or nil.
func (c *Client) Err() error {
	return c.err
}

// Server returns the server address.
func (c *Client) Server() netchan.Addr {
	return c.server
}

// ServerData returns what the server sent at signon.
func (c *Client) ServerData() protocol.ServerData {
	return c.serverData
}

// ConfigString returns the server's configstring at index, or "".
func (c *Client) ConfigString(index uint16) string {
	return c.configStrings[index]
}

// PlayerName returns the name of the player in slot, or "" when the slot
// is empty.
func (c *Client) PlayerName(slot int) string {
	if slot < 0 || slot >= protocol.MaxConfigStrings-protocol.CsPlayers {
		return ""
	}
	return c.configStrings[uint16(protocol.CsPlayers+slot)]
}

// ServerFrame returns the newest valid server frame number, or -1.
func (c *Client) ServerFrame() int32 {
	return c.parser.LatestAcked()
}

// NetStats returns link statistics.
func (c *Client) NetStats() interp.NetStats {
	s := c.stats
	s.Interp = c.window.Delay()
	return s
}

// PredictionStats returns the predictor's counters.
func (c *Client) PredictionStats() prediction.Stats {
	return c.predictor.Stats()
}

// ChannelStats returns the channel counters, or zero before connecting.
func (c *Client) ChannelStats() netchan.Stats {
	if c.ch == nil {
		return netchan.Stats{}
	}
	return c.ch.Stats()
}

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// BeginConnect starts the handshake with server. Frame drives it from
// there.
func (c *Client) BeginConnect(server netchan.Addr, now time.Time) {
	c.reset()
	c.server = server
	c.qport = c.cfg.Qport
	if c.qport == 0 {
		c.qport = uint16(rand.IntN(0xffff) + 1)
	}
	c.err = nil
	c.state = StateChallenging
	c.connectStart = now
	c.sendRequest(now)
	c.logger.Info("connecting", "server", server.String(), "qport", c.qport)
}

// Connect performs the handshake with server and returns once the channel
// is up. Signon continues in Frame.
func (c *Client) Connect(ctx context.Context, server netchan.Addr) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	c.BeginConnect(server, time.Now())
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()
	for {
		c.Frame(time.Now())
		switch c.state {
		case StateConnected, StateActive:
			return nil
		case StateDisconnected:
			return c.err
		}
		select {
		case <-ctx.Done():
			c.fail(neterrors.New("E021").WithSubject(server.String()).Wrap(ctx.Err()))
			return c.err
		case <-ticker.C:
		}
	}
}

// Frame handles every queued packet and does the periodic work of the
// current state: handshake retries, signon acknowledgements, resync
// requests and timeouts.
func (c *Client) Frame(now time.Time) {
	c.queue.Drain(c.queue.Cap(), func(p ingress.Packet) {
		c.HandlePacket(p, now)
	})

	switch c.state {
	case StateChallenging, StateConnecting:
		if now.Sub(c.connectStart) > c.cfg.ConnectTimeout {
			c.fail(neterrors.New("E021").WithSubject(c.server.String()))
			return
		}
		if now.Sub(c.lastRequest) >= ConnectRetry {
			c.sendRequest(now)
		}
		return
	case StateConnected:
		if c.needAck || now.Sub(c.ch.LastSent()) >= SignonAckInterval {
			c.transmit(nil, now)
			c.needAck = false
		}
	case StateActive:
		c.flushResync()
		if now.Sub(c.ch.LastSent()) >= time.Second {
			c.transmit(nil, now)
		}
	default:
		return
	}

	if c.ch.TimedOut(now) {
		c.fail(neterrors.New("E021").WithSubject(c.server.String()))
	}
}

// Disconnect tells the server the client is leaving and stops any demo.
func (c *Client) Disconnect(now time.Time) error {
	if c.state >= StateConnected {
		msg := protocol.NewMessage(protocol.MaxMessageLen)
		msg.WriteStringCmd(protocol.CmdDisconnect)
		// Nothing resends it, so it goes out three times.
		for range 3 {
			c.transmit(msg.Bytes(), now)
		}
		c.logger.Info("disconnected", "server", c.server.String())
	}
	c.state = StateDisconnected
	return c.StopDemo()
}

func (c *Client) fail(err error) {
	c.logger.Warn("connection lost", "server", c.server.String(), "error", err)
	c.err = err
	c.state = StateDisconnected
	if derr := c.StopDemo(); derr != nil {
		c.logger.Warn("demo close failed", "error", derr)
	}
}

// reset forgets everything learned from the previous server.
func (c *Client) reset() {
	c.ch = nil
	c.serverData = protocol.ServerData{}
	clear(c.configStrings)
	c.baselines.Reset()
	c.parser.Reset()
	c.predictor.Reset(protocol.PmoveState{})
	c.window.Reset()
	c.buffer.Reset()
	c.network.Reset()
	c.stats.Reset()
	c.cur, c.prev = frameCopy{}, frameCopy{}
	c.haveFrame = false
	clear(c.tracks)
	clear(c.noLerp)
	c.nextSeq = 0
	c.sent = [protocol.CmdBackup]sentCommand{}
	c.lastIncoming = 0
	c.needAck = false
	c.resync = false
	c.awaitFull = false
}

// userinfo renders the backslash-separated userinfo string.
func (c *Client) userinfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, `\name\%s`, c.cfg.Name)
	for _, k := range slices.Sorted(maps.Keys(c.cfg.Userinfo)) {
		if k == "name" {
			continue
		}
		fmt.Fprintf(&b, `\%s\%s`, k, c.cfg.Userinfo[k])
	}
	return b.String()
}

// sendRequest sends the connectionless packet for the handshake step.
func (c *Client) sendRequest(now time.Time) {
	var text string
	switch c.state {
	case StateChallenging:
		text = protocol.OOBGetChallenge
	case StateConnecting:
		text = fmt.Sprintf("%s %d %d %d %s", protocol.OOBConnect,
			protocol.ProtocolVersion, c.qport, c.challenge, c.userinfo())
	default:
		return
	}
	c.lastRequest = now
	if err := netchan.SendOutOfBand(c.w, c.server, []byte(text)); err != nil {
		c.logger.Debug("connectionless send failed", "server", c.server.String(), "error", err)
	}
}

// handleOutOfBand handles handshake replies from the server.
func (c *Client) handleOutOfBand(p ingress.Packet, now time.Time) {
	if !p.From.Equal(c.server) {
		c.logger.Debug("connectionless packet from stranger", "from", p.From.String())
		return
	}
	data, _ := netchan.OutOfBandData(p.Data)
	text := string(data)
	verb, args := protocol.SplitCommand(text)
	switch verb {
	case protocol.OOBChallenge:
		if c.state != StateChallenging || len(args) < 1 {
			return
		}
		n, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			c.logger.Debug("bad challenge", "text", text)
			return
		}
		c.challenge = int32(n)
		c.state = StateConnecting
		c.sendRequest(now)
	case protocol.OOBClientConnect:
		if c.state != StateConnecting {
			return
		}
		c.ch = netchan.New(netchan.SideClient, c.w, c.cfg.Channel)
		c.ch.Setup(c.server, c.qport, now)
		c.state = StateConnected
		c.logger.Info("connected", "server", c.server.String())
	case protocol.OOBReject:
		if c.state != StateChallenging && c.state != StateConnecting {
			return
		}
		reason := strings.TrimSpace(strings.TrimPrefix(text, protocol.OOBReject))
		c.fail(neterrors.New("E022").WithSubject(c.server.String()).Wrap(errors.New(reason)))
	case protocol.OOBPrint:
		c.logger.Info("server message", "text", strings.TrimSpace(strings.TrimPrefix(text, protocol.OOBPrint)))
	default:
		c.logger.Debug("unknown connectionless command", "command", verb)
	}
}

// transmit sends data, plus any pending reliable data, on the channel.
func (c *Client) transmit(data []byte, now time.Time) {
	if c.ch == nil {
		return
	}
	if err := c.ch.Transmit(data, now); err != nil {
		c.logger.Debug("transmit failed", "error", err)
	}
}

// sendStringCmd queues a reliable clc_stringcmd. It reports false when the
// channel has no room, so the caller can retry later.
func (c *Client) sendStringCmd(text string) bool {
	msg := protocol.NewMessage(protocol.MaxMessageLen)
	msg.WriteStringCmd(text)
	if err := c.ch.SendReliable(msg.Bytes()); err != nil {
		c.logger.Debug("string command deferred", "command", text, "error", err)
		return false
	}
	return true
}

// requestFull asks for a snapshot with full states. Moves stop
// acknowledging frames until one arrives, so the server cannot delta
// against anything, and a nodelta command is sent as well.
func (c *Client) requestFull() {
	c.resync = true
	c.awaitFull = true
}

// flushResync sends the nodelta command as soon as the reliable channel has
// room for it.
func (c *Client) flushResync() {
	if c.resync && c.sendStringCmd(protocol.CmdNoDelta) {
		c.resync = false
	}
}
