package server

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/compress"
	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/master"
	"github.com/vango-dev/netsync/pkg/metrics"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/snapshot"
	"github.com/vango-dev/netsync/pkg/telemetry"
	"github.com/vango-dev/netsync/pkg/transport"
)

// World is the game the server runs. Client slots are numbered from 0 and
// slot n controls entity n+1.
type World interface {
	snapshot.World

	// ClientBegin spawns the player for slot.
	ClientBegin(slot int, name string)

	// ClientDisconnect removes slot's player.
	ClientDisconnect(slot int)

	// RunCommand applies one user command to slot's player.
	RunCommand(slot int, cmd protocol.UserCmd)

	// RunFrame advances everything not driven by user commands.
	RunFrame(frame int32, dt time.Duration)
}

// BaselineSource is implemented by worlds that know the spawn state of
// their entities. Other worlds get baselines from the entities present when
// the server starts.
type BaselineSource interface {
	Baselines() []protocol.EntityState
}

// SlotCounter is implemented by worlds with a fixed number of player
// slots. Entity numbers 1..MaxClients belong to players, so the server
// uses the world's count when the two disagree.
type SlotCounter interface {
	MaxClients() int
}

// Server runs the simulation side of the protocol.
type Server struct {
	cfg    *Config
	world  World
	logger *slog.Logger

	queue    *ingress.Queue
	udp      *transport.UDP
	ws       *transport.WebSocket
	loop     *transport.LoopbackEndpoint
	mux      *transport.Mux
	interval time.Duration

	loopback      *transport.Loopback
	loopbackIndex uint32

	baselines    *snapshot.Baselines
	baselineList []protocol.EntityState
	builder      *snapshot.Builder
	codec        *compress.Codec
	challenges   *challenges

	metrics   *metrics.Metrics
	tracer    *telemetry.Tracer
	heartbeat *master.Heartbeat
	demo      *demoRecording

	clients       []*client
	configStrings []string
	pendingLevel  atomic.Pointer[string]
	frame         int32
	serverCount   int32
	started       time.Time
	msg           *protocol.Message
	zmsg          *protocol.Message

	// Published copies for the admin endpoints.
	mu        sync.RWMutex
	status    Status
	infos     []ClientInfo
	closeOnce sync.Once
}

// New creates a server for world. The UDP socket is bound here so address
// errors surface before Serve.
func New(cfg *Config, world World, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.Clone()
	}
	cfg.fill()
	if sc, ok := world.(SlotCounter); ok {
		if n := sc.MaxClients(); n > 0 && n != cfg.MaxClients {
			cfg.Logger.Info("max clients taken from world", "config", cfg.MaxClients, "world", n)
			cfg.MaxClients = n
		}
	}

	s := &Server{
		cfg:           cfg,
		world:         world,
		logger:        cfg.Logger.With("component", "server"),
		queue:         ingress.NewQueue(cfg.QueueCapacity),
		interval:      cfg.TickInterval(),
		baselines:     snapshot.NewBaselines(),
		codec:         compress.New(cfg.Compression),
		challenges:    newChallenges(MaxChallenges),
		clients:       make([]*client, cfg.MaxClients),
		configStrings: make([]string, protocol.MaxConfigStrings),
		serverCount:   int32(time.Now().Unix() & 0x7fffffff),
		started:       time.Now(),
		msg:           protocol.NewMessage(netchan.MaxMessageSize),
		zmsg:          protocol.NewMessage(netchan.MaxMessageSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.configStrings[protocol.CsName] = cfg.Name
	s.configStrings[protocol.CsLevelName] = cfg.LevelName
	s.configStrings[protocol.CsMaxClients] = strconv.Itoa(cfg.MaxClients)

	s.builder = snapshot.NewBuilder(world, s.baselines, snapshot.BuilderConfig{
		MaxClients: cfg.MaxClients,
		Logger:     cfg.Logger,
	})
	s.loadBaselines()

	s.mux = &transport.Mux{}
	if cfg.Addr != "" {
		udp, err := transport.ListenUDP(transport.UDPConfig{
			Addr:   cfg.Addr,
			DSCP:   cfg.DSCP,
			Logger: cfg.Logger,
		}, s.queue)
		if err != nil {
			return nil, neterrors.New("E060").WithSubject(cfg.Addr).Wrap(err)
		}
		s.udp = udp
		s.mux.UDP = udp
	}
	if cfg.WebSocket {
		s.ws = transport.NewWebSocket(transport.WebSocketConfig{
			CheckOrigin: cfg.CheckOrigin,
			Logger:      cfg.Logger,
		}, s.queue)
		s.mux.WebSocket = s.ws
	}
	if s.loopback != nil {
		s.loop = s.loopback.Attach(s.loopbackIndex, s.queue)
		s.mux.Loopback = s.loop
	}

	s.metrics.WatchQueue(s.queue)
	s.publish(s.started)
	return s, nil
}

func (s *Server) loadBaselines() {
	var states []protocol.EntityState
	if bs, ok := s.world.(BaselineSource); ok {
		states = bs.Baselines()
	} else {
		for _, e := range s.world.Entities() {
			states = append(states, e.State)
		}
	}
	for _, es := range states {
		if es.Number == 0 || int(es.Number) >= protocol.MaxEdicts {
			continue
		}
		s.baselines.Set(es)
	}
	s.baselines.Each(func(es *protocol.EntityState) {
		s.baselineList = append(s.baselineList, *es)
	})
	slices.SortFunc(s.baselineList, func(a, b protocol.EntityState) int {
		return cmp.Compare(a.Number, b.Number)
	})
}

// Addr returns the bound UDP address, or the loopback address when UDP is
// disabled.
func (s *Server) Addr() netchan.Addr {
	switch {
	case s.udp != nil:
		return s.udp.LocalAddr()
	case s.loop != nil:
		return s.loop.Addr()
	}
	return netchan.Addr{}
}

// Frame returns the current frame number.
func (s *Server) Frame() int32 {
	return s.frame
}

// Queue returns the ingress queue transports deliver to.
func (s *Server) Queue() *ingress.Queue {
	return s.queue
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Tick runs one frame. It must be called from a single goroutine.
func (s *Server) Tick(now time.Time) {
	start := time.Now()
	if name := s.pendingLevel.Swap(nil); name != nil {
		s.changeLevel(*name)
	}

	s.queue.Drain(s.cfg.DrainPerTick, func(p ingress.Packet) {
		s.handlePacket(p, now)
	})

	s.frame++
	s.world.RunFrame(s.frame, s.interval)

	for _, c := range s.clients {
		if c == nil {
			continue
		}
		s.flushConfigStrings(c)
		switch c.state {
		case StateActive:
			s.sendSnapshot(c, now)
		case StateConnected:
			s.continueSignon(c)
			if c.ch.ReliablePending() || now.Sub(c.ch.LastSent()) >= KeepaliveInterval {
				s.transmit(c, nil, now)
			}
		}
		st := c.ch.Stats()
		s.metrics.RecordChannel(c.prevStats, st)
		c.prevStats = st
	}
	s.recordDemo(now)

	for _, c := range s.clients {
		if c != nil && c.ch.TimedOut(now) {
			s.metrics.RecordTimeout()
			s.logger.Info("client timed out",
				"slot", c.slot,
				"name", c.name,
				"addr", c.ch.Remote().String())
			s.removeClient(c)
		}
	}

	s.publish(now)
	s.metrics.RecordTick(time.Since(start))
}

func (s *Server) transmit(c *client, data []byte, now time.Time) {
	if err := c.ch.Transmit(data, now); err != nil {
		s.logger.Debug("transmit failed", "slot", c.slot, "error", err)
		return
	}
	s.metrics.RecordSent(len(data))
}

// Serve runs the I/O goroutines and ticks at the configured rate until ctx
// is cancelled, then disconnects every client and closes the transports.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 1)
	if s.udp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.udp.Run(ctx); err != nil {
				errc <- neterrors.New("E060").WithSubject(s.cfg.Addr).Wrap(err)
				cancel()
			}
		}()
	}
	if s.heartbeat != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.heartbeat.Run(ctx)
		}()
	}

	s.logger.Info("server started",
		"name", s.cfg.Name,
		"addr", s.Addr().String(),
		"map", s.cfg.LevelName,
		"tickRate", s.cfg.TickRate,
		"maxClients", s.cfg.MaxClients)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			err := s.Close()
			wg.Wait()
			select {
			case runErr := <-errc:
				return runErr
			default:
			}
			return err
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Close disconnects every client, stops demo recording and closes the
// transports. It must not run concurrently with Tick.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		now := time.Now()
		for _, c := range s.clients {
			if c != nil {
				s.dropClient(c, "server shutting down", now)
			}
		}
		s.stopDemo()
		err = s.mux.Close()
		s.queue.Close()
		s.publish(now)
		s.logger.Info("server stopped", "frames", s.frame)
	})
	return err
}

// dropClient tells the client it is being disconnected and frees its slot.
func (s *Server) dropClient(c *client, reason string, now time.Time) {
	msg := protocol.NewMessage(protocol.MaxMessageLen)
	msg.WritePrint(reason + "\n")
	msg.WriteUint8(uint8(protocol.SvcDisconnect))
	// Sent twice since nothing will resend it.
	s.transmit(c, msg.Bytes(), now)
	s.transmit(c, msg.Bytes(), now)
	s.logger.Info("client dropped", "slot", c.slot, "name", c.name, "reason", reason)
	s.removeClient(c)
}

func (s *Server) removeClient(c *client) {
	if c.state == StateActive {
		s.world.ClientDisconnect(c.slot)
	}
	c.state = StateFree
	s.clients[c.slot] = nil
	s.setConfigString(protocol.CsPlayers+c.slot, "")
}

// clientCount returns the number of occupied slots.
func (s *Server) clientCount() int {
	n := 0
	for _, c := range s.clients {
		if c != nil {
			n++
		}
	}
	return n
}
