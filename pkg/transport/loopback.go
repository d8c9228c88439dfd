package transport

import (
	"slices"
	"sync"
	"time"

	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/netchan"
)

// Loopback delivers datagrams between queues in the same process. Each
// attached endpoint is addressed by netchan.LoopbackAddr(index).
type Loopback struct {
	mu    sync.RWMutex
	peers map[uint32]*ingress.Queue
}

// NewLoopback returns an empty loopback network.
func NewLoopback() *Loopback {
	return &Loopback{peers: make(map[uint32]*ingress.Queue)}
}

// Attach registers q under index and returns the writer that endpoint
// sends with. Packets it writes arrive from LoopbackAddr(index).
func (l *Loopback) Attach(index uint32, q *ingress.Queue) *LoopbackEndpoint {
	l.mu.Lock()
	l.peers[index] = q
	l.mu.Unlock()
	return &LoopbackEndpoint{net: l, addr: netchan.LoopbackAddr(index)}
}

// Detach removes the endpoint at index.
func (l *Loopback) Detach(index uint32) {
	l.mu.Lock()
	delete(l.peers, index)
	l.mu.Unlock()
}

// Owns reports whether to names an attached endpoint.
func (l *Loopback) Owns(to netchan.Addr) bool {
	if to.Kind != netchan.AddrLoopback {
		return false
	}
	l.mu.RLock()
	_, ok := l.peers[to.Index]
	l.mu.RUnlock()
	return ok
}

// LoopbackEndpoint is one attached peer.
type LoopbackEndpoint struct {
	net  *Loopback
	addr netchan.Addr
}

// Addr returns the endpoint's own address.
func (e *LoopbackEndpoint) Addr() netchan.Addr {
	return e.addr
}

// WritePacket queues a copy of data at the destination endpoint. A full
// destination queue drops the packet like a congested link would.
func (e *LoopbackEndpoint) WritePacket(data []byte, to netchan.Addr) error {
	if to.Kind != netchan.AddrLoopback {
		return ErrUnroutable
	}
	e.net.mu.RLock()
	q, ok := e.net.peers[to.Index]
	e.net.mu.RUnlock()
	if !ok {
		return ErrUnroutable
	}
	q.TrySend(ingress.Packet{
		Source:    ingress.SourceLoopback,
		From:      e.addr,
		Data:      slices.Clone(data),
		Timestamp: time.Now(),
	})
	return nil
}

// Close detaches the endpoint.
func (e *LoopbackEndpoint) Close() error {
	e.net.Detach(e.addr.Index)
	return nil
}
