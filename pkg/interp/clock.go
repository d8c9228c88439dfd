package interp

import "time"

// Kind selects how an Accumulator fires.
type Kind uint8

const (
	// Render fires at most once per call.
	Render Kind = iota
	// Physics fires once per whole frame accrued, up to MaxPhysicsSteps.
	Physics
	// Network fires like Render.
	Network
)

// MaxPhysicsSteps bounds the catch-up steps one Fire call may return.
const MaxPhysicsSteps = 5

// Accumulator converts elapsed real time into a fixed-rate cadence. Time
// left over after firing carries to the next call.
type Accumulator struct {
	Kind Kind
	// Rate is the target frequency in Hz. Zero or less fires every call.
	Rate float64

	acc float64 // Microseconds
}

// Add accrues elapsed time.
func (a *Accumulator) Add(d time.Duration) {
	if d > 0 {
		a.acc += float64(d.Microseconds())
	}
}

// Fire returns how many times the associated action should run now. It is
// 0 or 1 for Render and Network.
func (a *Accumulator) Fire() int {
	if a.Rate <= 0 {
		a.acc = 0
		return 1
	}
	frame := 1e6 / a.Rate

	if a.Kind == Physics {
		n := 0
		for a.acc >= frame && n < MaxPhysicsSteps {
			a.acc -= frame
			n++
		}
		// Drop what could not be caught up instead of bursting later.
		if a.acc > 2*frame {
			a.acc = 0
		}
		return n
	}

	if a.acc < frame {
		return 0
	}
	a.acc -= frame
	if a.acc > 2*frame {
		a.acc = frame
	}
	return 1
}

// Pending returns the accrued time not yet consumed.
func (a *Accumulator) Pending() time.Duration {
	return time.Duration(a.acc) * time.Microsecond
}

// Reset drops accrued time.
func (a *Accumulator) Reset() {
	a.acc = 0
}

// Clock drives the render, physics and network cadences from one stream of
// frame times.
type Clock struct {
	Render  Accumulator
	Physics Accumulator
	Network Accumulator

	last time.Time
}

// NewClock returns a clock firing at the given rates.
func NewClock(renderHz, physicsHz, networkHz float64) *Clock {
	return &Clock{
		Render:  Accumulator{Kind: Render, Rate: renderHz},
		Physics: Accumulator{Kind: Physics, Rate: physicsHz},
		Network: Accumulator{Kind: Network, Rate: networkHz},
	}
}

// Advance accrues the time since the previous call into every accumulator
// and returns it. The first call accrues nothing.
func (c *Clock) Advance(now time.Time) time.Duration {
	var d time.Duration
	if !c.last.IsZero() {
		d = now.Sub(c.last)
	}
	c.last = now
	c.Render.Add(d)
	c.Physics.Add(d)
	c.Network.Add(d)
	return d
}

// Reset drops all accrued time.
func (c *Clock) Reset() {
	c.Render.Reset()
	c.Physics.Reset()
	c.Network.Reset()
	c.last = time.Time{}
}
