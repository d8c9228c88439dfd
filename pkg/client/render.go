package client

import (
	"maps"
	"slices"
	"time"

	"github.com/vango-dev/netsync/pkg/interp"
	"github.com/vango-dev/netsync/pkg/pmove"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/snapshot"
)

// frameCopy holds a frame outside the parser ring, which overwrites its
// slots as new snapshots arrive.
type frameCopy struct {
	serverFrame int32
	ps          protocol.PlayerState
	entities    []protocol.EntityState
}

func (f *frameCopy) set(src *snapshot.Frame) {
	f.serverFrame = src.ServerFrame
	f.ps = src.PlayerState
	f.entities = append(f.entities[:0], src.Entities...)
}

func (f *frameCopy) entity(number uint16) (*protocol.EntityState, bool) {
	i, ok := slices.BinarySearchFunc(f.entities, number, func(es protocol.EntityState, n uint16) int {
		return int(es.Number) - int(n)
	})
	if !ok {
		return nil, false
	}
	return &f.entities[i], true
}

// track is the motion history of one remote entity.
type track struct {
	spline *interp.SplineHistory
	dr     *interp.DeadReckoning
	seen   int32
}

func newTrack() *track {
	return &track{
		spline: interp.NewSplineHistory(0),
		dr:     interp.NewDeadReckoning(),
	}
}

// storeFrame makes f the current frame. The old current frame becomes the
// one rendering lerps from.
func (c *Client) storeFrame(f *snapshot.Frame, noLerp []int, now time.Time) {
	c.prev, c.cur = c.cur, c.prev
	c.cur.set(f)
	if !c.haveFrame {
		c.prev.set(f)
	}
	c.curAt = now
	c.haveFrame = true

	clear(c.noLerp)
	for _, n := range noLerp {
		c.noLerp[uint16(n)] = true
	}
	c.updateTracks(now)
}

// updateTracks feeds the new positions to each entity's history. A track is
// restarted when its entity teleported, and dropped once it leaves the
// frame.
func (c *Client) updateTracks(now time.Time) {
	for i := range c.cur.entities {
		es := &c.cur.entities[i]
		t, ok := c.tracks[es.Number]
		if !ok {
			t = newTrack()
			c.tracks[es.Number] = t
		} else if c.noLerp[es.Number] {
			t.spline.Reset()
			t.dr = interp.NewDeadReckoning()
		}
		t.spline.Add(now, es.Origin)
		t.dr.Update(es.Origin, now)
		t.seen = c.cur.serverFrame
	}
	maps.DeleteFunc(c.tracks, func(_ uint16, t *track) bool {
		return t.seen != c.cur.serverFrame
	})
}

// View is what the renderer draws for one frame.
type View struct {
	// Frame is the newest server frame the view is built from.
	Frame int32

	// Origin is the local player's origin. It comes from the
	// predictor, minus any correction still being smoothed away, when
	// prediction is active.
	Origin     protocol.Vec3
	ViewAngles protocol.Vec3
	Predicted  bool

	// Lerp is how far between the previous and current frames remote
	// entities were placed, after the jitter delay. Past 1 they are
	// extrapolated.
	Lerp float32

	// Entities holds every visible entity except the local player, sorted
	// by number.
	Entities []protocol.EntityState
}

// RenderState builds the view for a frame rendered at now. ok is false
// until the first snapshot arrives.
func (c *Client) RenderState(now time.Time) (View, bool) {
	if c.state != StateActive || !c.haveFrame {
		return View{}, false
	}

	expected := c.window.Expected()
	frac := interp.ExtrapolateFraction(now, c.curAt, expected, c.cfg.ExtrapolateMax)
	before, after, bufFrac, bracketed := c.buffer.Bracket(now)
	if bracketed {
		// Drawn Delay behind the clock. Only the two newest frames are
		// kept, so a target older than that pair holds at the previous one.
		frac = 0
		if before.Frame == c.prev.serverFrame && after.Frame == c.cur.serverFrame {
			frac = bufFrac
		}
	}
	lerp := min(frac, 1)
	v := View{
		Frame:    c.cur.serverFrame,
		Lerp:     frac,
		Entities: make([]protocol.EntityState, 0, len(c.cur.entities)),
	}

	if c.predictor.Active() && c.predictor.Current() >= 0 {
		v.Origin = c.predictor.SmoothedOrigin(now)
		v.ViewAngles = c.predictor.Pmove().ViewAngles
		v.Predicted = true
	} else {
		v.Origin = interp.LerpVec(
			pmove.FixedToVec(c.prev.ps.Pmove.Origin),
			pmove.FixedToVec(c.cur.ps.Pmove.Origin), lerp)
		for i := range v.ViewAngles {
			v.ViewAngles[i] = interp.LerpAngle(c.prev.ps.ViewAngles[i], c.cur.ps.ViewAngles[i], lerp)
		}
	}

	self := uint16(c.serverData.PlayerNum + 1)
	for i := range c.cur.entities {
		cur := &c.cur.entities[i]
		if cur.Number == self {
			continue
		}
		prev, _ := c.prev.entity(cur.Number)
		noLerp := c.noLerp[cur.Number]
		es := interp.BlendEntity(prev, cur, lerp, noLerp)

		if t := c.tracks[cur.Number]; t != nil && !noLerp {
			switch {
			case c.cfg.InterpMode == interp.ModeCubic && bracketed:
				if pos, ok := t.spline.At(now.Add(-c.buffer.Delay)); ok {
					es.Origin = pos
				}
			case frac > 1:
				late := now.Sub(c.curAt) - expected
				es.Origin = interp.Extrapolate(cur.Origin, t.dr.Velocity, late, c.cfg.ExtrapolateMax)
			}
		}
		v.Entities = append(v.Entities, es)
	}
	return v, true
}
