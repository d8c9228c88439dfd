package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/netchan"
)

// WebSocketIndexBase is the first loopback index given to a WebSocket
// connection. Lower indexes are left to the in-process Loopback.
const WebSocketIndexBase = 1 << 16

// DefaultWriteTimeout bounds a single WebSocket write.
const DefaultWriteTimeout = 5 * time.Second

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	// CheckOrigin validates the Origin header of incoming upgrades. Nil
	// uses the gorilla default, which rejects cross-origin requests.
	CheckOrigin func(r *http.Request) bool

	// ReadBufferSize and WriteBufferSize size the connection buffers. Zero
	// uses the gorilla defaults.
	ReadBufferSize  int
	WriteBufferSize int

	// WriteTimeout bounds each write. Zero uses DefaultWriteTimeout.
	WriteTimeout time.Duration

	// Logger is the transport logger. Nil uses slog.Default.
	Logger *slog.Logger
}

// WebSocket carries one datagram per binary message. It accepts
// connections through Handler and opens them through Dial; both kinds are
// addressed by the loopback-kind Addr assigned when they connect.
type WebSocket struct {
	queue    *ingress.Queue
	cfg      WebSocketConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[uint32]*wsConn
	next  uint32

	closed   atomic.Bool
	received atomic.Uint64
	oversize atomic.Uint64
}

type wsConn struct {
	conn *websocket.Conn
	addr netchan.Addr
	wmu  sync.Mutex // gorilla allows one concurrent writer
}

// NewWebSocket returns a transport delivering received datagrams to q.
func NewWebSocket(cfg WebSocketConfig, q *ingress.Queue) *WebSocket {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		queue:  q,
		cfg:    cfg,
		logger: logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		conns: make(map[uint32]*wsConn),
		next:  WebSocketIndexBase,
	}
}

// Handler upgrades requests and serves each connection until it closes.
func (w *WebSocket) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if w.closed.Load() {
			http.Error(rw, "shutting down", http.StatusServiceUnavailable)
			return
		}
		conn, err := w.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			w.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		c := w.add(conn)
		w.logger.Info("connection opened", "remote", r.RemoteAddr, "addr", c.addr.String())
		w.readLoop(c)
	})
}

// Dial connects to a WebSocket transport at url and returns the address to
// write to it through. Reads run on a new goroutine until the connection
// closes.
func (w *WebSocket) Dial(ctx context.Context, url string) (netchan.Addr, error) {
	if w.closed.Load() {
		return netchan.Addr{}, ErrClosed
	}
	dialer := websocket.Dialer{
		ReadBufferSize:   w.cfg.ReadBufferSize,
		WriteBufferSize:  w.cfg.WriteBufferSize,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return netchan.Addr{}, fmt.Errorf("transport: dial %s: %s: %w", url, resp.Status, err)
		}
		return netchan.Addr{}, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	c := w.add(conn)
	go w.readLoop(c)
	return c.addr, nil
}

func (w *WebSocket) add(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(2 * MaxDatagram) // Longer messages close the connection

	w.mu.Lock()
	defer w.mu.Unlock()
	c := &wsConn{conn: conn, addr: netchan.LoopbackAddr(w.next)}
	w.conns[w.next] = c
	w.next++
	return c
}

func (w *WebSocket) remove(c *wsConn) {
	w.mu.Lock()
	delete(w.conns, c.addr.Index)
	w.mu.Unlock()
	_ = c.conn.Close()
}

func (w *WebSocket) readLoop(c *wsConn) {
	defer w.remove(c)

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) && !w.closed.Load() {
				w.logger.Debug("read error", "addr", c.addr.String(), "error", err)
			}
			return
		}
		if w.closed.Load() || w.queue.Closed() {
			return
		}
		if kind != websocket.BinaryMessage || len(msg) == 0 {
			continue
		}
		if len(msg) > MaxDatagram {
			w.oversize.Add(1)
			continue
		}
		w.received.Add(1)
		w.queue.TrySend(ingress.Packet{
			Source:    ingress.SourceWebSocket,
			From:      c.addr,
			Data:      msg,
			Timestamp: time.Now(),
		})
	}
}

// Owns reports whether to names an open connection of this transport.
func (w *WebSocket) Owns(to netchan.Addr) bool {
	if to.Kind != netchan.AddrLoopback {
		return false
	}
	w.mu.Lock()
	_, ok := w.conns[to.Index]
	w.mu.Unlock()
	return ok
}

// WritePacket sends data as one binary message. It implements
// netchan.PacketWriter.
func (w *WebSocket) WritePacket(data []byte, to netchan.Addr) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if to.Kind != netchan.AddrLoopback {
		return ErrUnroutable
	}
	w.mu.Lock()
	c, ok := w.conns[to.Index]
	w.mu.Unlock()
	if !ok {
		return ErrUnroutable
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Conns returns the number of open connections.
func (w *WebSocket) Conns() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.conns)
}

// Received returns how many messages were handed to the queue.
func (w *WebSocket) Received() uint64 {
	return w.received.Load()
}

// Oversize returns how many messages were dropped for length.
func (w *WebSocket) Oversize() uint64 {
	return w.oversize.Load()
}

// Close closes every connection. Handlers already running return once
// their connection's read fails.
func (w *WebSocket) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.mu.Lock()
	conns := make([]*wsConn, 0, len(w.conns))
	for _, c := range w.conns {
		conns = append(conns, c)
	}
	w.mu.Unlock()

	for _, c := range conns {
		c.wmu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		_ = c.conn.Close()
	}
	return nil
}
