package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/netsync/internal/arena"
	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/demo"
	"github.com/vango-dev/netsync/pkg/master"
	"github.com/vango-dev/netsync/pkg/metrics"
	"github.com/vango-dev/netsync/pkg/server"
	"github.com/vango-dev/netsync/pkg/telemetry"
)

type serveOptions struct {
	addr         string
	admin        string
	adminSet     bool
	props        int
	viewDistance float32
	record       bool
	websocket    bool
}

func serveCmd(g *globals) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a game server",
		Long: `Run a game server on the built-in arena: a flat floor with players
and props circling the origin.

The admin listener serves Prometheus metrics on /metrics, the server
status on /status and the connected clients on /clients.

Examples:
  netsync serve
  netsync serve --addr=:27920 --props=64
  netsync serve --record --admin=""`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.adminSet = cmd.Flags().Changed("admin")
			return runServe(cmd.Context(), g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "UDP address to bind (default from netsync.json)")
	cmd.Flags().StringVar(&opts.admin, "admin", "", "Admin HTTP address; empty disables it (default from netsync.json)")
	cmd.Flags().IntVar(&opts.props, "props", 16, "Number of moving props")
	cmd.Flags().Float32Var(&opts.viewDistance, "view-distance", 0, "Hide entities farther than this from each player (0 shows all)")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Record a demo of what slot 0 sees")
	cmd.Flags().BoolVar(&opts.websocket, "websocket", false, "Accept clients over /ws on the admin listener")

	return cmd
}

func runServe(ctx context.Context, g *globals, opts serveOptions) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(g, cfg)
	if err != nil {
		return err
	}
	defer flush()

	scfg := server.DefaultConfig()
	scfg.Name = cfg.Server.Name
	scfg.Addr = cfg.ServerAddress()
	if opts.addr != "" {
		scfg.Addr = opts.addr
	}
	scfg.DSCP = cfg.Server.DSCP
	scfg.TickRate = cfg.Server.TickRate
	scfg.MaxClients = cfg.Server.MaxClients
	scfg.LevelName = cfg.Server.Map
	scfg.QueueCapacity = cfg.Queue.Capacity
	scfg.DrainPerTick = cfg.Queue.DrainPerTick
	scfg.Channel = cfg.NetchanConfig(logger)
	scfg.Compression = cfg.CompressOptions()
	scfg.WebSocket = cfg.Server.WebSocket || opts.websocket
	scfg.Logger = logger

	adminAddr := cfg.Admin.Addr
	if opts.adminSet {
		adminAddr = opts.admin
	}
	if scfg.WebSocket && adminAddr == "" {
		warn("WebSocket clients need the admin listener; only UDP is reachable")
	}

	world := arena.New(arena.Config{
		MaxClients:   cfg.Server.MaxClients,
		Props:        opts.props,
		ViewDistance: opts.viewDistance,
	})
	srvOpts := []server.Option{
		server.WithMetrics(metrics.New()),
		server.WithTracer(telemetry.New()),
	}
	if len(cfg.Master.URLs) > 0 {
		srvOpts = append(srvOpts, server.WithHeartbeat(master.Config{
			URLs:     cfg.Master.URLs,
			Interval: cfg.MasterInterval(),
			Logger:   logger,
		}))
	}
	if opts.record {
		rec, err := demo.Create(cfg.DemoDir(), demo.Options{Compress: cfg.Demo.Compress})
		if err != nil {
			return neterrors.New("E100").WithSubject(cfg.DemoDir()).Wrap(err)
		}
		srvOpts = append(srvOpts, server.WithDemo(rec, 0))
		info("Recording slot 0 to %s", rec.Path())
	}

	srv, err := server.New(scfg, world, srvOpts...)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner()
	success("Serving %s on %s (%d Hz, %d slots)", scfg.LevelName, srv.Addr(), scfg.TickRate, scfg.MaxClients)
	if adminAddr != "" {
		info("Admin: http://%s/status", adminAddr)
		go func() {
			if err := srv.ServeAdmin(ctx, adminAddr); err != nil {
				logger.Warn("admin listener stopped", "error", err)
			}
		}()
	}
	if len(cfg.Master.URLs) > 0 {
		info("Announcing to %d master servers", len(cfg.Master.URLs))
	}
	info("Press Ctrl+C to stop")

	return srv.Serve(ctx)
}
