package transport

import (
	"errors"

	"github.com/vango-dev/netsync/pkg/netchan"
)

// Mux routes writes to the transport owning the destination: IP addresses
// go to UDP and loopback-kind addresses to whichever of WebSocket or
// Loopback has that index. Nil members are skipped.
type Mux struct {
	UDP       *UDP
	WebSocket *WebSocket
	Loopback  *LoopbackEndpoint
}

// WritePacket implements netchan.PacketWriter.
func (m *Mux) WritePacket(data []byte, to netchan.Addr) error {
	switch {
	case to.Kind != netchan.AddrLoopback:
		if m.UDP != nil {
			return m.UDP.WritePacket(data, to)
		}
	case m.WebSocket != nil && m.WebSocket.Owns(to):
		return m.WebSocket.WritePacket(data, to)
	case m.Loopback != nil:
		return m.Loopback.WritePacket(data, to)
	}
	return ErrUnroutable
}

// Close closes every member transport and returns their joined errors.
func (m *Mux) Close() error {
	var errs []error
	if m.UDP != nil {
		errs = append(errs, m.UDP.Close())
	}
	if m.WebSocket != nil {
		errs = append(errs, m.WebSocket.Close())
	}
	if m.Loopback != nil {
		errs = append(errs, m.Loopback.Close())
	}
	return errors.Join(errs...)
}

var (
	_ Sender = (*UDP)(nil)
	_ Sender = (*WebSocket)(nil)
	_ Sender = (*LoopbackEndpoint)(nil)
	_ Sender = (*Mux)(nil)
)
