package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/netchan"
)

const (
	// DefaultReadBuffer is the socket receive buffer requested at listen.
	DefaultReadBuffer = 128 * 1024

	// DefaultReadTimeout bounds each blocking read so shutdown is noticed.
	DefaultReadTimeout = 10 * time.Millisecond

	// DefaultMaxPerIteration caps the datagrams read between shutdown checks.
	DefaultMaxPerIteration = 32

	// DSCPAF31 is assured forwarding class 3, low drop.
	DSCPAF31 = 26
)

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	// Addr is the local address to bind, such as ":27910".
	Addr string

	// ReadBuffer is the socket receive buffer size. Zero uses
	// DefaultReadBuffer.
	ReadBuffer int

	// DSCP marks outgoing packets with this code point. Zero leaves them
	// unmarked.
	DSCP int

	// ReadTimeout is the deadline for each read. Zero uses
	// DefaultReadTimeout.
	ReadTimeout time.Duration

	// MaxPerIteration is how many datagrams Run reads before checking for
	// shutdown again. Zero uses DefaultMaxPerIteration.
	MaxPerIteration int

	// Logger is the transport logger. Nil uses slog.Default.
	Logger *slog.Logger
}

// UDP reads datagrams from one socket into a queue and writes channel
// output back out of it.
type UDP struct {
	conn   *net.UDPConn
	queue  *ingress.Queue
	cfg    UDPConfig
	logger *slog.Logger

	closed   atomic.Bool
	received atomic.Uint64
	oversize atomic.Uint64
}

// ListenUDP binds the socket described by cfg. Datagrams are delivered to
// q once Run is called.
func ListenUDP(cfg UDPConfig, q *ingress.Queue) (*UDP, error) {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultReadBuffer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MaxPerIteration <= 0 {
		cfg.MaxPerIteration = DefaultMaxPerIteration
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "udp")

	laddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", cfg.Addr, err)
	}

	if err := conn.SetReadBuffer(cfg.ReadBuffer); err != nil {
		logger.Warn("could not set read buffer", "size", cfg.ReadBuffer, "error", err)
	}
	if cfg.DSCP > 0 {
		// One of these fails depending on the socket family.
		tos := cfg.DSCP << 2
		if err := ipv4.NewConn(conn).SetTOS(tos); err != nil {
			logger.Debug("could not set IPv4 TOS", "dscp", cfg.DSCP, "error", err)
		}
		if err := ipv6.NewConn(conn).SetTrafficClass(tos); err != nil {
			logger.Debug("could not set IPv6 traffic class", "dscp", cfg.DSCP, "error", err)
		}
	}

	u := &UDP{conn: conn, queue: q, cfg: cfg, logger: logger}
	logger.Info("listening", "addr", u.LocalAddr().String())
	return u, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() netchan.Addr {
	if a, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
		return netchan.AddrFromUDP(a)
	}
	return netchan.Addr{}
}

// Run reads datagrams into the queue until ctx is done, Close is called or
// the queue is closed. It returns nil on an orderly shutdown.
func (u *UDP) Run(ctx context.Context) error {
	buf := make([]byte, MaxDatagram+1)
	for {
		if ctx.Err() != nil || u.closed.Load() || u.queue.Closed() {
			return nil
		}

	batch:
		for range u.cfg.MaxPerIteration {
			if err := u.conn.SetReadDeadline(time.Now().Add(u.cfg.ReadTimeout)); err != nil {
				if u.closed.Load() {
					return nil
				}
				return fmt.Errorf("transport: set deadline: %w", err)
			}
			n, from, err := u.conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				var ne net.Error
				switch {
				case errors.As(err, &ne) && ne.Timeout():
				case errors.Is(err, net.ErrClosed):
					return nil
				default:
					// ICMP unreachable and similar surface here on some systems.
					u.logger.Debug("read failed", "error", err)
				}
				break batch
			}
			u.deliver(buf[:n], from)
		}
	}
}

func (u *UDP) deliver(data []byte, from netip.AddrPort) {
	if len(data) == 0 {
		return
	}
	if len(data) > MaxDatagram {
		u.oversize.Add(1)
		u.logger.Debug("oversize datagram dropped", "from", from.String(), "size", len(data))
		return
	}
	u.received.Add(1)
	u.queue.TrySend(ingress.Packet{
		Source:    ingress.SourceUDP,
		From:      netchan.AddrFromAddrPort(from),
		Data:      slices.Clone(data),
		Timestamp: time.Now(),
	})
}

// WritePacket sends data to an IP address. It implements
// netchan.PacketWriter.
func (u *UDP) WritePacket(data []byte, to netchan.Addr) error {
	if u.closed.Load() {
		return ErrClosed
	}
	if to.Kind == netchan.AddrLoopback {
		return ErrUnroutable
	}
	_, err := u.conn.WriteToUDPAddrPort(data, netip.AddrPortFrom(to.IP, to.Port))
	return err
}

// Received returns how many datagrams were handed to the queue.
func (u *UDP) Received() uint64 {
	return u.received.Load()
}

// Oversize returns how many datagrams were dropped for length.
func (u *UDP) Oversize() uint64 {
	return u.oversize.Load()
}

// Close stops Run and releases the socket.
func (u *UDP) Close() error {
	if u.closed.Swap(true) {
		return nil
	}
	return u.conn.Close()
}
