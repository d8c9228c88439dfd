package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/compress"
	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/interp"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/snapshot"
	"github.com/vango-dev/netsync/pkg/telemetry"
)

var errNestedZPacket = errors.New("client: svc_zpacket inside svc_zpacket")

// HandlePacket processes one datagram from the transport: handshake replies
// out of band, everything else through the channel and on to the server
// message parser.
func (c *Client) HandlePacket(p ingress.Packet, now time.Time) {
	c.metrics.RecordPacket(p)
	if netchan.IsOutOfBand(p.Data) {
		c.handleOutOfBand(p, now)
		return
	}
	if c.state < StateConnected || !p.From.Equal(c.server) {
		c.logger.Debug("sequenced packet outside a connection", "from", p.From.String())
		return
	}

	data, ok := c.ch.Process(p.Data, now)
	if !ok {
		return
	}
	c.stats.RecordPacket(len(p.Data), now)
	seq := c.ch.IncomingSequence()
	if c.lastIncoming != 0 {
		c.stats.RecordSequence(int32(c.lastIncoming+1), int32(seq))
	}
	c.lastIncoming = seq
	if c.state == StateConnected {
		c.needAck = true
	}

	full, err := c.parseMessage(data, now, false)
	if err != nil {
		c.logger.Warn("bad server message", "size", len(data), "error", err)
		if c.state == StateActive {
			c.requestFull()
		}
	}
	c.recordDemo(data, full)
}

// parseMessage runs every op in a server message. It reports whether the
// message held a full (non-delta) snapshot.
func (c *Client) parseMessage(data []byte, now time.Time, nested bool) (full bool, err error) {
	msg := protocol.NewReader(data)
	for msg.Remaining() > 0 && c.state >= StateConnected {
		op := protocol.ServerOp(msg.ReadUint8())
		switch op {
		case protocol.SvcNop:
		case protocol.SvcDisconnect:
			c.fail(ErrDisconnected)
			return full, nil
		case protocol.SvcReconnect:
			c.logger.Info("server asked to reconnect")
			c.BeginConnect(c.server, now)
			return full, nil
		case protocol.SvcPrint:
			c.logger.Info("server message", "text", strings.TrimRight(msg.ReadString(), "\n"))
		case protocol.SvcStuffText:
			c.stuffText(msg.ReadString())
		case protocol.SvcServerData:
			if err := c.serverDataReceived(msg.ReadServerData()); err != nil {
				c.fail(err)
				return full, nil
			}
		case protocol.SvcConfigString:
			c.setConfigString(msg.ReadConfigString())
		case protocol.SvcSpawnBaseline:
			c.baselines.Set(msg.ReadBaseline())
		case protocol.SvcZPacket:
			if nested {
				return full, neterrors.New("E001").Wrap(errNestedZPacket)
			}
			deflated, size, ok := msg.ReadZPacket()
			if !ok {
				return full, neterrors.New("E001").Wrap(protocol.ErrMalformed)
			}
			inflated, err := compress.DecompressKnownSize(deflated, size)
			if err != nil {
				return full, neterrors.New("E001").Wrap(err)
			}
			f, err := c.parseMessage(inflated, now, true)
			full = full || f
			if err != nil {
				return full, err
			}
		case protocol.SvcFrame:
			f, err := c.frameReceived(msg, now)
			full = full || f
			if err != nil {
				return full, err
			}
		default:
			return full, neterrors.New("E003").WithSubject(op.String())
		}
		if msg.Overflowed() {
			return full, neterrors.New("E001").WithSubject(op.String())
		}
	}
	return full, nil
}

// serverDataReceived starts a new level: everything learned from the
// previous one is dropped.
func (c *Client) serverDataReceived(sd protocol.ServerData) error {
	if sd.Protocol != protocol.ProtocolVersion {
		return neterrors.New("E002").WithSubject(fmt.Sprintf("server %d, client %d", sd.Protocol, protocol.ProtocolVersion))
	}
	c.serverData = sd
	clear(c.configStrings)
	c.baselines.Reset()
	c.parser.Reset()
	c.buffer.Reset()
	c.window.Reset()
	c.haveFrame = false
	clear(c.tracks)
	if c.state == StateActive {
		c.state = StateConnected
	}
	c.logger.Info("server data",
		"level", sd.LevelName,
		"slot", sd.PlayerNum,
		"tickRate", sd.TickRate)
	return nil
}

func (c *Client) setConfigString(index uint16, value string) {
	if index >= protocol.MaxConfigStrings {
		return
	}
	if value == "" {
		delete(c.configStrings, index)
	} else {
		c.configStrings[index] = value
	}
	if index >= protocol.CsPlayers {
		c.logger.Debug("player info", "slot", int(index)-protocol.CsPlayers, "name", value)
	}
}

// stuffText runs the console commands the server sent. Only precache is
// understood; it means signon is complete.
func (c *Client) stuffText(text string) {
	for _, line := range strings.Split(text, "\n") {
		verb, _ := protocol.SplitCommand(line)
		switch verb {
		case "":
		case protocol.CmdPrecache:
			c.sendStringCmd(protocol.CmdBegin)
			c.logger.Debug("signon complete", "baselines", c.baselineCount())
		default:
			c.logger.Debug("ignored server command", "command", verb)
		}
	}
}

func (c *Client) baselineCount() int {
	n := 0
	c.baselines.Each(func(*protocol.EntityState) { n++ })
	return n
}

// frameReceived applies a snapshot, updates timing and interpolation state
// and reconciles the prediction. It reports whether the frame was full.
func (c *Client) frameReceived(msg *protocol.Message, now time.Time) (bool, error) {
	ctx, span := c.tracer.StartApply(context.Background())
	res, err := c.parser.ApplySnapshot(msg)
	if err != nil {
		telemetry.End(span, err)
		return false, neterrors.New("E001").Wrap(err)
	}
	telemetry.End(span, nil, telemetry.ApplyAttributes(&res)...)

	f := res.Frame
	if res.NeedResync {
		c.requestFull()
		return false, nil
	}
	if c.haveFrame && f.ServerFrame <= c.cur.serverFrame {
		return false, nil
	}

	c.window.Record(now)
	c.buffer.Delay = c.window.Delay()
	c.buffer.Add(interp.Snapshot{Frame: f.ServerFrame, Time: now})
	if ack := f.CommandAck; ack >= 0 {
		if e := &c.sent[ack&protocol.CmdMask]; e.seq == ack && !e.at.IsZero() && !e.timed {
			c.stats.RecordPing(now.Sub(e.at))
			e.timed = true
		}
	}
	c.storeFrame(f, res.NoLerp, now)
	full := f.DeltaFrame <= 0
	if full {
		c.awaitFull = false
	}

	if c.state == StateConnected {
		c.state = StateActive
		c.predictor.Reset(f.PlayerState.Pmove)
		c.nextSeq = 0
		c.logger.Info("entered the game", "frame", f.ServerFrame)
	} else {
		c.reconcile(ctx, f, now)
	}
	return full, nil
}

// reconcile checks the prediction against the server's state after the
// newest command it ran.
func (c *Client) reconcile(ctx context.Context, f *snapshot.Frame, now time.Time) {
	ack := f.CommandAck
	if ack < 0 {
		// The server has not run any of our commands yet.
		if c.predictor.Current() < 0 {
			c.predictor.Reset(f.PlayerState.Pmove)
		}
		return
	}
	_, span := c.tracer.StartReconcile(ctx, ack)
	res := c.predictor.Reconcile(ack, f.PlayerState.Pmove, now)
	c.metrics.RecordReconcile(res)
	telemetry.End(span, nil, telemetry.ReconcileAttributes(res)...)
}
