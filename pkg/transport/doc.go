// Package transport moves datagrams between sockets and the simulation.
//
// Each transport runs its reads on its own goroutine and hands every
// datagram to an ingress.Queue without blocking. Sending goes the other
// way: a transport is a netchan.PacketWriter, so channels write straight to
// the socket from the simulation goroutine.
//
// Three transports are provided:
//
//   - UDP, the game socket, optionally DSCP-marked.
//   - WebSocket, binary messages over HTTP for clients that cannot reach
//     the UDP port. Each connection gets a loopback-kind address.
//   - Loopback, in-process delivery between queues, used by listen
//     servers and tests.
//
// Mux routes a write to whichever transport owns the destination address.
package transport

import (
	"errors"

	"github.com/vango-dev/netsync/pkg/netchan"
)

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrUnroutable is returned when no transport owns the destination.
	ErrUnroutable = errors.New("transport: no route to address")
)

// MaxDatagram is the largest datagram accepted from the network. Longer
// ones are counted and dropped.
const MaxDatagram = netchan.MaxPacketSize

// Sender is a transport that channels can write through.
type Sender interface {
	netchan.PacketWriter
	Close() error
}
