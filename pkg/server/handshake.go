package server

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/protocol"
)

// challenge is the number an address must echo in its connect.
type challenge struct {
	value  int32
	issued time.Time
}

// challenges tracks outstanding challenges by address without port, so a
// client whose NAT remaps the port between packets still matches.
type challenges struct {
	byAddr map[netchan.Addr]challenge
	max    int
}

func newChallenges(max int) *challenges {
	return &challenges{byAddr: make(map[netchan.Addr]challenge), max: max}
}

func challengeKey(a netchan.Addr) netchan.Addr {
	a.Port = 0
	return a
}

// issue returns the challenge for addr, creating one if needed. The oldest
// entry is forgotten when the table is full.
func (c *challenges) issue(addr netchan.Addr, now time.Time) int32 {
	key := challengeKey(addr)
	if ch, ok := c.byAddr[key]; ok {
		return ch.value
	}
	if len(c.byAddr) >= c.max {
		var oldest netchan.Addr
		var oldestAt time.Time
		first := true
		for k, v := range c.byAddr {
			if first || v.issued.Before(oldestAt) {
				oldest, oldestAt, first = k, v.issued, false
			}
		}
		delete(c.byAddr, oldest)
	}
	ch := challenge{value: rand.Int32N(1<<30) + 1, issued: now}
	c.byAddr[key] = ch
	return ch.value
}

// check consumes the challenge for addr when value matches it.
func (c *challenges) check(addr netchan.Addr, value int32) bool {
	key := challengeKey(addr)
	ch, ok := c.byAddr[key]
	if !ok || ch.value != value {
		return false
	}
	delete(c.byAddr, key)
	return true
}

func (c *challenges) len() int {
	return len(c.byAddr)
}

// handleOutOfBand answers a connectionless packet.
func (s *Server) handleOutOfBand(p ingress.Packet, now time.Time) {
	data, _ := netchan.OutOfBandData(p.Data)
	verb, args := protocol.SplitCommand(string(data))
	switch verb {
	case protocol.OOBGetChallenge:
		n := s.challenges.issue(p.From, now)
		s.sendOutOfBand(p.From, fmt.Sprintf("%s %d", protocol.OOBChallenge, n))
	case protocol.OOBConnect:
		s.connect(p, args, now)
	case protocol.OOBStatus:
		s.sendOutOfBand(p.From, s.statusText())
	default:
		s.logger.Debug("unknown connectionless command", "from", p.From.String(), "command", verb)
	}
}

func (s *Server) sendOutOfBand(to netchan.Addr, text string) {
	if err := netchan.SendOutOfBand(s.mux, to, []byte(text)); err != nil {
		s.logger.Debug("connectionless send failed", "to", to.String(), "error", err)
	}
}

func (s *Server) reject(to netchan.Addr, reason string) {
	s.logger.Debug("connect rejected", "from", to.String(), "reason", reason)
	s.sendOutOfBand(to, protocol.OOBReject+" "+reason)
}

// connect handles `connect <protocol> <qport> <challenge> <userinfo>`.
// Packets from the in-process loopback skip the challenge.
func (s *Server) connect(p ingress.Packet, args []string, now time.Time) {
	if len(args) < 3 {
		s.reject(p.From, "Malformed connect")
		return
	}
	version, err := strconv.Atoi(args[0])
	if err != nil || version != protocol.ProtocolVersion {
		s.reject(p.From, fmt.Sprintf("Server is protocol version %d", protocol.ProtocolVersion))
		return
	}
	qport, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		s.reject(p.From, "Malformed connect")
		return
	}
	value, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil {
		s.reject(p.From, "Malformed connect")
		return
	}
	if p.Source != ingress.SourceLoopback && !s.challenges.check(p.From, int32(value)) {
		s.reject(p.From, "Bad challenge")
		return
	}
	userinfo := strings.Join(args[3:], " ")

	slot := -1
	for i, c := range s.clients {
		if c != nil && c.ch.Remote().EqualBase(p.From) && c.ch.Qport() == uint16(qport) {
			// The same client again, probably after losing client_connect.
			s.logger.Info("client reconnected", "slot", i, "addr", p.From.String())
			s.removeClient(c)
			slot = i
			break
		}
	}
	if slot < 0 {
		for i, c := range s.clients {
			if c == nil {
				slot = i
				break
			}
		}
	}
	if slot < 0 {
		s.reject(p.From, "Server is full")
		return
	}

	ch := netchan.New(netchan.SideServer, s.mux, s.cfg.Channel)
	ch.Setup(p.From, uint16(qport), now)
	c := newClient(slot, ch, userinfo, now)
	s.clients[slot] = c
	s.setConfigString(protocol.CsPlayers+slot, c.name)

	s.sendOutOfBand(p.From, protocol.OOBClientConnect)
	s.continueSignon(c)
	s.metrics.RecordConnect()
	s.logger.Info("client connected",
		"slot", slot,
		"name", c.name,
		"addr", p.From.String(),
		"source", p.Source.String())
}

// continueSignon queues the next part of the signon data once nothing is
// waiting on the channel: serverdata, then as many configstrings and
// baselines as fit, and after the last baseline the precache command the
// client answers with begin.
func (s *Server) continueSignon(c *client) {
	if c.signonDone || c.ch.ReliablePending() {
		return
	}
	msg := protocol.NewMessage(netchan.MaxReliableSize)
	if !c.sentServerData {
		msg.WriteServerData(protocol.ServerData{
			Protocol:    protocol.ProtocolVersion,
			ServerCount: s.serverCount,
			PlayerNum:   int16(c.slot),
			TickRate:    uint8(min(s.cfg.TickRate, 255)),
			LevelName:   s.cfg.LevelName,
		})
		c.sentServerData = true
	}

	// Room left for the precache command at the end.
	reserve := 2 + len(protocol.CmdPrecache) + 1
	one := protocol.NewMessage(protocol.MaxMessageLen)
	for ; c.nextString < len(s.configStrings); c.nextString++ {
		v := s.configStrings[c.nextString]
		if v == "" {
			continue
		}
		one.Reset()
		one.WriteConfigString(uint16(c.nextString), v)
		if msg.Space() < one.Len()+reserve {
			break
		}
		msg.WriteData(one.Bytes())
	}
	for c.nextString == len(s.configStrings) && c.nextBaseline < len(s.baselineList) {
		one.Reset()
		one.WriteBaseline(&s.baselineList[c.nextBaseline])
		if msg.Space() < one.Len()+reserve {
			break
		}
		msg.WriteData(one.Bytes())
		c.nextBaseline++
	}
	if c.nextString == len(s.configStrings) && c.nextBaseline == len(s.baselineList) {
		msg.WriteStuffText(protocol.CmdPrecache + "\n")
		c.signonDone = true
	}
	if err := c.ch.SendReliable(msg.Bytes()); err != nil {
		s.logger.Warn("signon did not fit", "slot", c.slot, "size", msg.Len(), "error", err)
	}
}

// setConfigString changes one configstring. Clients whose signon already
// passed index are sent the new value reliably.
func (s *Server) setConfigString(index int, value string) {
	if index < 0 || index >= len(s.configStrings) || s.configStrings[index] == value {
		return
	}
	s.configStrings[index] = value
	for _, c := range s.clients {
		if c != nil && c.sentServerData && c.nextString > index && !slices.Contains(c.pendingStrings, uint16(index)) {
			c.pendingStrings = append(c.pendingStrings, uint16(index))
		}
	}
}

// flushConfigStrings queues c's changed configstrings on the reliable
// channel. They stay pending while the channel has no room.
func (s *Server) flushConfigStrings(c *client) {
	if len(c.pendingStrings) == 0 {
		return
	}
	msg := protocol.NewMessage(netchan.MaxReliableSize)
	for _, i := range c.pendingStrings {
		msg.WriteConfigString(i, s.configStrings[i])
	}
	if msg.Overflowed() {
		s.logger.Warn("configstring update overflowed", "slot", c.slot, "count", len(c.pendingStrings))
		c.pendingStrings = c.pendingStrings[:0]
		return
	}
	if err := c.ch.SendReliable(msg.Bytes()); err != nil {
		s.logger.Debug("configstring update deferred", "slot", c.slot, "error", err)
		return
	}
	c.pendingStrings = c.pendingStrings[:0]
}

// ChangeLevel switches to a new level name. Every client is sent through
// signon again with fresh serverdata and re-enters the game when it answers
// with begin. It is safe to call from any goroutine; the change happens at
// the start of the next Tick.
func (s *Server) ChangeLevel(name string) {
	s.pendingLevel.Store(&name)
}

func (s *Server) changeLevel(name string) {
	prev := s.cfg.LevelName
	s.cfg.LevelName = name
	s.configStrings[protocol.CsLevelName] = name
	s.serverCount++
	for _, c := range s.clients {
		if c == nil {
			continue
		}
		if c.state == StateActive {
			s.world.ClientDisconnect(c.slot)
		}
		c.restartSignon()
	}
	if s.demo != nil {
		s.demo.started = false
	}
	s.logger.Info("level changed", "from", prev, "to", name, "clients", s.clientCount())
}

// statusText is the reply to a connectionless status query: a print with
// the server info line followed by one line per client.
func (s *Server) statusText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\\hostname\\%s\\mapname\\%s\\maxclients\\%d\\protocol\\%d\n",
		protocol.OOBPrint, s.cfg.Name, s.cfg.LevelName, s.cfg.MaxClients, protocol.ProtocolVersion)
	for _, c := range s.clients {
		if c != nil {
			fmt.Fprintf(&b, "%d %d %q\n", c.slot, c.ping.Milliseconds(), c.name)
		}
	}
	return b.String()
}
