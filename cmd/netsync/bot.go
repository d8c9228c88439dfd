package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/netsync/internal/arena"
	"github.com/vango-dev/netsync/internal/config"
	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/client"
	"github.com/vango-dev/netsync/pkg/demo"
	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/transport"
)

type botOptions struct {
	server   string
	name     string
	duration time.Duration
	rate     int
	netRate  float64
	turnRate float64
	record   bool
}

func botCmd(g *globals) *cobra.Command {
	var opts botOptions

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run a headless client that walks in a circle",
		Long: `Connect a headless client to a server and walk in a circle.

Every command is predicted locally and checked against the server's
snapshots, so the prediction miss count shows whether both sides simulate
movement identically. Statistics are logged every few seconds and printed
when the bot stops.

Examples:
  netsync bot
  netsync bot --server=10.0.0.5:27910 --duration=1m
  netsync bot --rate=125 --net-rate=30 --record
  netsync bot --server=ws://localhost:27911/ws`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.server, "server", "s", "127.0.0.1:27910", "Server address, or a ws:// URL of its /ws endpoint")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "bot", "Player name")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVar(&opts.rate, "rate", 60, "Commands sampled per second")
	cmd.Flags().Float64Var(&opts.netRate, "net-rate", 0, "Move packets per second (0 sends one per command)")
	cmd.Flags().Float64Var(&opts.turnRate, "turn-rate", 45, "Degrees turned per second")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Record a demo of the session")

	return cmd
}

// clientConfig maps the file settings onto a client config.
func clientConfig(cfg *config.Config, logger *slog.Logger) *client.Config {
	cc := client.DefaultConfig().WithTracer(arena.Floor).WithLogger(logger)
	cc.Channel = cfg.NetchanConfig(logger)
	cc.Predict = cfg.Prediction.Enabled
	cc.ErrorDecay = cfg.ErrorDecay()
	cc.InterpMode = cfg.InterpMode()
	cc.Window = cfg.WindowConfig()
	cc.ExtrapolateMax = cfg.ExtrapolateMax()
	return cc
}

func runBot(ctx context.Context, g *globals, opts botOptions) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(g, cfg)
	if err != nil {
		return err
	}
	defer flush()

	if opts.rate <= 0 || opts.rate > 1000 {
		return neterrors.New("E120").WithSubject(fmt.Sprintf("--rate %d", opts.rate)).
			WithDetail("The command rate must be between 1 and 1000.")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	q := ingress.NewQueue(cfg.Queue.Capacity)
	w, addr, closeTransport, err := dialServer(ctx, cfg, opts.server, q, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	cc := clientConfig(cfg, logger).WithName(opts.name)
	cc.NetworkRate = opts.netRate
	var copts []client.Option
	if opts.record {
		rec, err := demo.Create(cfg.DemoDir(), demo.Options{Compress: cfg.Demo.Compress})
		if err != nil {
			return neterrors.New("E100").WithSubject(cfg.DemoDir()).Wrap(err)
		}
		copts = append(copts, client.WithDemo(rec))
		info("Recording to %s", rec.Path())
	}
	c := client.New(cc, w, q, copts...)

	if err := c.Connect(ctx, addr); err != nil {
		if derr := c.StopDemo(); derr != nil {
			logger.Warn("demo close failed", "error", derr)
		}
		return err
	}
	success("Connected to %s as %s", addr, opts.name)

	b := &bot{c: c, turnRate: opts.turnRate, logger: logger}
	err = b.run(ctx, time.Second/time.Duration(opts.rate))
	if derr := c.Disconnect(time.Now()); derr != nil {
		logger.Warn("demo close failed", "error", derr)
	}
	b.summary()
	return err
}

// dialServer opens the transport to server: a WebSocket for ws:// and
// wss:// URLs, otherwise a UDP socket on an ephemeral port.
func dialServer(ctx context.Context, cfg *config.Config, server string, q *ingress.Queue, logger *slog.Logger) (netchan.PacketWriter, netchan.Addr, func(), error) {
	if strings.HasPrefix(server, "ws://") || strings.HasPrefix(server, "wss://") {
		ws := transport.NewWebSocket(transport.WebSocketConfig{Logger: logger}, q)
		addr, err := ws.Dial(ctx, server)
		if err != nil {
			return nil, netchan.Addr{}, nil, neterrors.New("E120").WithSubject("--server " + server).Wrap(err)
		}
		return ws, addr, func() { _ = ws.Close() }, nil
	}

	addr, err := netchan.ParseAddr(server)
	if err != nil {
		return nil, netchan.Addr{}, nil, neterrors.New("E120").WithSubject("--server " + server).Wrap(err)
	}
	udp, err := transport.ListenUDP(transport.UDPConfig{
		Addr:   ":0",
		DSCP:   cfg.Server.DSCP,
		Logger: logger,
	}, q)
	if err != nil {
		return nil, netchan.Addr{}, nil, neterrors.New("E060").WithSubject(":0").Wrap(err)
	}
	go func() {
		if err := udp.Run(ctx); err != nil {
			logger.Warn("socket reader stopped", "error", err)
		}
	}()
	return udp, addr, func() { _ = udp.Close() }, nil
}

// bot drives a connected client.
type bot struct {
	c        *client.Client
	turnRate float64
	logger   *slog.Logger

	yaw     float64
	last    time.Time
	visible int
}

// run samples a command every interval until ctx is done or the connection
// drops.
func (b *bot) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	b.last = time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-report.C:
			ps := b.c.PredictionStats()
			ns := b.c.NetStats()
			b.logger.Info("bot stats",
				"frame", b.c.ServerFrame(),
				"predicted", ps.Predicted,
				"misses", ps.Misses,
				"ping", ns.Ping,
				"loss", ns.Loss,
				"visible", b.visible)
		case now := <-ticker.C:
			b.c.Frame(now)
			if b.c.State() == client.StateDisconnected {
				return b.c.Err()
			}
			b.c.SampleCommand(b.command(now), now)
			if v, ok := b.c.RenderState(now); ok {
				b.visible = len(v.Entities)
			}
		}
	}
}

// command walks forward while turning at turnRate.
func (b *bot) command(now time.Time) protocol.UserCmd {
	dt := now.Sub(b.last)
	b.last = now
	b.yaw = math.Mod(b.yaw+b.turnRate*dt.Seconds(), 360)
	return protocol.UserCmd{
		Msec:    uint8(min(dt.Milliseconds(), 250)),
		Angles:  [3]int16{0, protocol.AngleToShort(float32(b.yaw)), 0},
		Forward: 200,
	}
}

func (b *bot) summary() {
	ps := b.c.PredictionStats()
	ns := b.c.NetStats()
	cs := b.c.ChannelStats()
	fmt.Println()
	info("Prediction: %d predicted, %d reconciled, %d misses, %d replayed, %d teleports",
		ps.Predicted, ps.Reconciled, ps.Misses, ps.Replayed, ps.Teleports)
	info("Network:    %s", ns.String())
	info("Channel:    %d sent, %d received, %d dropped, %d resends",
		cs.Sent, cs.Received, cs.Dropped, cs.ReliableResends)
	if ps.Reconciled > 0 && ps.Misses == 0 {
		success("No prediction misses")
	} else if ps.Misses > 0 {
		warn("%.1f%% of reconciled snapshots missed", 100*float64(ps.Misses)/float64(max(ps.Reconciled, 1)))
	}
}
