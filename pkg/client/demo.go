package client

import (
	"maps"
	"slices"

	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/demo"
	"github.com/vango-dev/netsync/pkg/protocol"
)

// StartDemo records the rest of the connection into rec. When the client
// is already in the game a header with the serverdata, the configstrings
// and every baseline is written first, and recording of snapshots waits for a full one, which
// is requested from the server.
func (c *Client) StartDemo(rec *demo.Recorder) error {
	if err := c.StopDemo(); err != nil {
		c.logger.Warn("previous demo close failed", "error", err)
	}
	c.demo = rec
	c.demoWaiting = false
	if c.state < StateConnected || c.serverData.Protocol == 0 {
		return nil
	}

	msg := protocol.NewMessage(demo.MaxBlockSize)
	msg.WriteServerData(c.serverData)
	for _, i := range slices.Sorted(maps.Keys(c.configStrings)) {
		msg.WriteConfigString(i, c.configStrings[i])
	}
	c.baselines.Each(func(es *protocol.EntityState) {
		msg.WriteBaseline(es)
	})
	if msg.Overflowed() {
		c.demo = nil
		return neterrors.New("E103").WithSubject(rec.Path())
	}
	if err := rec.Write(msg.Bytes()); err != nil {
		c.demo = nil
		return neterrors.New("E103").WithSubject(rec.Path()).Wrap(err)
	}
	if c.state == StateActive {
		c.demoWaiting = true
		c.requestFull()
	}
	c.logger.Info("demo recording started", "path", rec.Path())
	return nil
}

// StopDemo finishes the current recording, if any.
func (c *Client) StopDemo() error {
	rec := c.demo
	if rec == nil {
		return nil
	}
	c.demo = nil
	if err := rec.Close(); err != nil {
		return neterrors.New("E103").WithSubject(rec.Path()).Wrap(err)
	}
	msgs, _, size := rec.Stats()
	c.logger.Info("demo recording finished", "path", rec.Path(), "messages", msgs, "bytes", size)
	return nil
}

// Recording reports whether a demo is being written.
func (c *Client) Recording() bool {
	return c.demo != nil
}

// recordDemo appends a server message. While waiting for a full snapshot
// nothing is written, since deltas would refer to frames the demo lacks.
func (c *Client) recordDemo(data []byte, full bool) {
	if c.demo == nil {
		return
	}
	if c.demoWaiting {
		if !full {
			return
		}
		c.demoWaiting = false
	}
	if err := c.demo.Write(data); err != nil {
		c.logger.Warn("demo recording stopped", "error", neterrors.New("E103").Wrap(err))
		if cerr := c.StopDemo(); cerr != nil {
			c.logger.Warn("demo close failed", "error", cerr)
		}
	}
}
