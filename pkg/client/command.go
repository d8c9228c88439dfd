package client

import (
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// SampleCommand takes the player's input for this frame. The command is
// predicted at once and goes to the server in the next clc_move, which the
// network accumulator releases at NetworkRate. It returns the sequence the
// command was given, or -1 when the client is not in the game.
func (c *Client) SampleCommand(cmd protocol.UserCmd, now time.Time) int32 {
	if c.state != StateActive {
		return -1
	}
	seq := c.nextSeq
	c.nextSeq++
	c.predictor.Predict(seq, cmd)

	if !c.lastSample.IsZero() {
		c.network.Add(now.Sub(c.lastSample))
	}
	c.lastSample = now
	if c.network.Fire() > 0 {
		c.sendMove(now)
	}
	return seq
}

// sentCommand remembers when a command first went out.
type sentCommand struct {
	seq   int32
	at    time.Time
	timed bool // Round trip already recorded
}

// sendMove transmits the newest commands. Each clc_move carries the last
// MoveCommands of them so one lost packet loses nothing.
func (c *Client) sendMove(now time.Time) {
	newest := c.nextSeq - 1
	if newest < 0 {
		return
	}
	mv := protocol.MoveCommand{
		LastFrame:  c.parser.LatestAcked(),
		CommandSeq: newest,
	}
	if c.awaitFull {
		mv.LastFrame = -1
	}
	for i := range mv.Cmds {
		seq := newest - int32(protocol.MoveCommands-1-i)
		if cmd, ok := c.predictor.Command(seq); ok {
			mv.Cmds[i] = cmd
		}
	}
	// Only the first send of a command times the round trip.
	for seq := newest - protocol.MoveCommands + 1; seq <= newest; seq++ {
		if seq < 0 {
			continue
		}
		if e := &c.sent[seq&protocol.CmdMask]; e.seq != seq || e.at.IsZero() {
			*e = sentCommand{seq: seq, at: now}
		}
	}

	c.flushResync()
	msg := protocol.NewMessage(protocol.MaxMessageLen)
	msg.WriteMove(&mv)
	c.transmit(msg.Bytes(), now)
}
