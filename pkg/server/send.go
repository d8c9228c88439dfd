package server

import (
	"context"
	"errors"
	"time"

	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/demo"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/snapshot"
	"github.com/vango-dev/netsync/pkg/telemetry"
)

var errSnapshotOverflow = errors.New("server: snapshot overflowed")

// sendSnapshot builds this frame's snapshot for c and transmits it along
// with any pending reliable data.
func (s *Server) sendSnapshot(c *client, now time.Time) {
	_, span := s.tracer.StartBuild(context.Background(), c.slot, s.frame, c.view.LastFrame)

	s.msg.Reset()
	stats := s.builder.BuildSnapshot(&c.view, s.frame, now, s.msg)
	if s.msg.Overflowed() {
		telemetry.End(span, errSnapshotOverflow, telemetry.BuildAttributes(stats)...)
		c.overflows++
		if c.overflows >= MaxSnapshotOverflows {
			s.dropClient(c, "snapshot overflow", now)
			return
		}
		s.logger.Warn("snapshot overflowed",
			"slot", c.slot,
			"frame", s.frame,
			"entities", stats.Entities,
			"consecutive", c.overflows)
		// The next attempt starts from full states so one oversized
		// delta cannot wedge the client.
		c.view.RequestFull()
		s.transmit(c, nil, now)
		return
	}
	c.overflows = 0

	payload := s.msg.Bytes()
	if z := s.zpacket(payload); z != nil {
		payload = z
	}
	s.transmit(c, payload, now)
	c.snapshots++
	s.metrics.RecordSnapshot(stats.Bytes, stats.DeltaFrame < 0)
	telemetry.End(span, nil, telemetry.BuildAttributes(stats)...)
}

// zpacket returns data wrapped in an svc_zpacket when that is smaller, or
// nil when it is not worth it.
func (s *Server) zpacket(data []byte) []byte {
	if len(data) > protocol.MaxZPacketLen {
		return nil
	}
	deflated := s.codec.Compress(data)
	if deflated == nil {
		return nil
	}
	s.zmsg.Reset()
	s.zmsg.WriteZPacket(deflated, len(data))
	if s.zmsg.Len() >= len(data) {
		return nil
	}
	s.metrics.RecordCompression(len(data), s.zmsg.Len())
	return s.zmsg.Bytes()
}

// demoRecording follows one slot's view into a demo file. The file never
// loses a frame, so each snapshot deltas from the one before it.
type demoRecording struct {
	rec     *demo.Recorder
	view    snapshot.ClientView
	msg     *protocol.Message
	started bool
}

func (s *Server) recordDemo(now time.Time) {
	d := s.demo
	if d == nil {
		return
	}
	slot := d.view.Viewer
	if slot < 0 || slot >= len(s.clients) {
		return
	}
	c := s.clients[slot]
	if c == nil || c.state != StateActive {
		return
	}
	if d.msg == nil {
		d.msg = protocol.NewMessage(demo.MaxBlockSize)
	}

	if !d.started {
		d.msg.Reset()
		d.msg.WriteServerData(protocol.ServerData{
			Protocol:    protocol.ProtocolVersion,
			ServerCount: s.serverCount,
			PlayerNum:   int16(slot),
			TickRate:    uint8(min(s.cfg.TickRate, 255)),
			LevelName:   s.cfg.LevelName,
		})
		for i, v := range s.configStrings {
			if v != "" {
				d.msg.WriteConfigString(uint16(i), v)
			}
		}
		for i := range s.baselineList {
			d.msg.WriteBaseline(&s.baselineList[i])
		}
		if !s.writeDemo(d.msg) {
			return
		}
		d.view.RequestFull()
		d.started = true
		s.logger.Info("demo recording started", "slot", slot, "path", d.rec.Path())
	}

	d.msg.Reset()
	d.view.CommandAck = c.view.CommandAck
	s.builder.BuildSnapshot(&d.view, s.frame, now, d.msg)
	if s.writeDemo(d.msg) {
		d.view.LastFrame = s.frame
	}
}

func (s *Server) writeDemo(msg *protocol.Message) bool {
	if msg.Overflowed() {
		s.logger.Warn("demo message overflowed", "frame", s.frame)
		return false
	}
	if err := s.demo.rec.Write(msg.Bytes()); err != nil {
		s.logger.Warn("demo recording stopped", "error", neterrors.New("E103").Wrap(err))
		s.stopDemo()
		return false
	}
	return true
}

func (s *Server) stopDemo() {
	d := s.demo
	if d == nil {
		return
	}
	s.demo = nil
	if err := d.rec.Close(); err != nil {
		s.logger.Warn("demo close failed", "error", err)
	}
	msgs, _, size := d.rec.Stats()
	s.logger.Info("demo recording finished", "path", d.rec.Path(), "messages", msgs, "bytes", size)
}
