// Package ingress is the bounded hand-off between network I/O goroutines and
// the simulation loop.
//
// Producers call TrySend and the single consumer calls TryReceive or Drain.
// Neither side ever blocks: a full queue drops the newest packet and counts
// it. The queue is the only state shared across the I/O boundary.
package ingress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/netsync/pkg/netchan"
)

const (
	// DefaultCapacity is used when NewQueue is given a non-positive size.
	DefaultCapacity = 256

	// MaxQueueCapacity caps the queue size.
	MaxQueueCapacity = 4096

	// DefaultDrainPerTick bounds how many packets one simulation tick handles.
	DefaultDrainPerTick = 64
)

// Source identifies which transport produced a packet.
type Source uint8

const (
	SourceUDP Source = iota
	SourceWebSocket
	SourceLoopback
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceUDP:
		return "udp"
	case SourceWebSocket:
		return "websocket"
	case SourceLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// Packet is one received datagram.
type Packet struct {
	Source    Source
	From      netchan.Addr
	Data      []byte
	Timestamp time.Time
}

// Queue is a bounded multi-producer, single-consumer FIFO.
type Queue struct {
	ch       chan Packet
	closed   atomic.Bool
	sent     atomic.Uint64
	dropped  atomic.Uint64
	capacity int

	// mu orders sends against Close so nothing is queued after it drains.
	mu sync.RWMutex
}

// NewQueue creates a queue holding at most capacity packets. The capacity is
// clamped to [1, MaxQueueCapacity]; non-positive values use DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	capacity = min(capacity, MaxQueueCapacity)
	return &Queue{
		ch:       make(chan Packet, capacity),
		capacity: capacity,
	}
}

// TrySend enqueues p without blocking. It returns false and counts a drop
// when the queue is full, and returns false without counting after Close.
func (q *Queue) TrySend(p Packet) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return false
	}
	select {
	case q.ch <- p:
		q.sent.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// TryReceive dequeues the oldest packet without blocking.
func (q *Queue) TryReceive() (Packet, bool) {
	select {
	case p := <-q.ch:
		return p, true
	default:
		return Packet{}, false
	}
}

// Drain hands at most max queued packets to fn, oldest first, and returns how
// many were handled. A non-positive max uses DefaultDrainPerTick.
func (q *Queue) Drain(max int, fn func(Packet)) int {
	if max <= 0 {
		max = DefaultDrainPerTick
	}
	n := 0
	for n < max {
		p, ok := q.TryReceive()
		if !ok {
			break
		}
		fn(p)
		n++
	}
	return n
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Dropped returns how many packets were refused because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Sent returns how many packets were accepted.
func (q *Queue) Sent() uint64 {
	return q.sent.Load()
}

// Closed reports whether Close was called. I/O goroutines poll it between
// reads.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}

// Close stops accepting packets and discards anything still queued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed.Store(true)
	for {
		if _, ok := q.TryReceive(); !ok {
			return
		}
	}
}
