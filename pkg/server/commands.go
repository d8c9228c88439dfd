package server

import (
	"time"

	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/protocol"
)

// handlePacket routes one received datagram.
func (s *Server) handlePacket(p ingress.Packet, now time.Time) {
	s.metrics.RecordPacket(p)
	if netchan.IsOutOfBand(p.Data) {
		s.handleOutOfBand(p, now)
		return
	}

	qport, ok := netchan.PeekQport(p.Data)
	if !ok {
		s.logger.Debug("runt packet", "from", p.From.String(), "size", len(p.Data))
		return
	}
	c := s.clientFor(p.From, qport)
	if c == nil {
		s.logger.Debug("packet from unknown client", "from", p.From.String())
		return
	}

	data, ok := c.ch.Process(p.Data, now)
	if !ok {
		return
	}
	if remote := c.ch.Remote(); !remote.Equal(p.From) {
		s.logger.Info("client port changed",
			"slot", c.slot,
			"from", remote.String(),
			"to", p.From.String())
		c.ch.SetRemote(p.From)
	}
	s.parseClientMessage(c, data, now)
}

// clientFor finds the client a sequenced packet belongs to by address
// without port plus qport.
func (s *Server) clientFor(from netchan.Addr, qport uint16) *client {
	for _, c := range s.clients {
		if c != nil && c.ch.Remote().EqualBase(from) && c.ch.Qport() == qport {
			return c
		}
	}
	return nil
}

// parseClientMessage runs every op in one client message. Parsing stops at
// the first unknown op or truncation; what ran before it stands.
func (s *Server) parseClientMessage(c *client, data []byte, now time.Time) {
	msg := protocol.NewReader(data)
	for msg.Remaining() > 0 {
		op := protocol.ClientOp(msg.ReadUint8())
		switch op {
		case protocol.ClcNop:
		case protocol.ClcMove:
			mv := msg.ReadMove()
			if msg.Overflowed() {
				break
			}
			s.clientMove(c, &mv, now)
		case protocol.ClcUserInfo:
			c.setUserinfo(msg.ReadString())
			s.setConfigString(protocol.CsPlayers+c.slot, c.name)
		case protocol.ClcStringCmd:
			text := msg.ReadString()
			if msg.Overflowed() {
				break
			}
			s.clientCommand(c, text, now)
		default:
			s.logger.Debug("bad client op", "slot", c.slot, "op", op.String(), "offset", msg.ReadCount()-1)
			return
		}
		if msg.Overflowed() {
			s.logger.Debug("truncated client message", "slot", c.slot, "size", len(data))
			return
		}
		if c.state == StateFree {
			return
		}
	}
}

// clientMove records the frame the client acknowledged and runs the user
// commands the server has not seen yet. Each clc_move repeats the previous
// two commands so a single lost packet costs nothing.
func (s *Server) clientMove(c *client, mv *protocol.MoveCommand, now time.Time) {
	if rtt, ok := c.view.Ack(mv.LastFrame, now); ok {
		c.ping = rtt
	}
	if c.state != StateActive {
		return
	}
	for i := range mv.Cmds {
		seq := mv.CommandSeq - int32(protocol.MoveCommands-1-i)
		if seq <= c.lastCmd {
			continue
		}
		s.world.RunCommand(c.slot, mv.Cmds[i])
		c.lastCmd = seq
	}
	c.view.CommandAck = c.lastCmd
}

// clientCommand runs a clc_stringcmd.
func (s *Server) clientCommand(c *client, text string, now time.Time) {
	verb, _ := protocol.SplitCommand(text)
	switch verb {
	case protocol.CmdNoDelta:
		c.view.RequestFull()
		s.metrics.RecordResync()
		s.logger.Debug("client requested full snapshot", "slot", c.slot)
	case protocol.CmdBegin:
		s.begin(c)
	case protocol.CmdDisconnect:
		s.logger.Info("client disconnected", "slot", c.slot, "name", c.name)
		s.removeClient(c)
	default:
		s.logger.Debug("unknown client command", "slot", c.slot, "command", verb)
	}
}

// begin puts a client that holds every baseline into the game.
func (s *Server) begin(c *client) {
	if c.state == StateActive {
		return
	}
	if !c.signonDone {
		s.logger.Debug("begin before signon finished", "slot", c.slot)
		return
	}
	c.state = StateActive
	c.view.RequestFull()
	s.world.ClientBegin(c.slot, c.name)
	s.logger.Info("client entered the game", "slot", c.slot, "name", c.name)
}
