package interp

import (
	"time"
)

// WindowConfig tunes the jitter-driven interpolation delay.
type WindowConfig struct {
	// Initial is the delay before any jitter has been measured.
	Initial time.Duration
	// Min and Max bound the delay.
	Min, Max time.Duration
	// Expected is the initial guess of the interval between snapshots.
	Expected time.Duration
	// Smoothing is how much of each new ideal delay is taken, in (0,1].
	Smoothing float64
	// AvgWeight and MaxWeight scale the average and worst jitter in
	// ideal = expected + AvgWeight*avg + MaxWeight*max.
	AvgWeight float64
	MaxWeight float64
	// History is the number of jitter samples kept.
	History int
}

// DefaultWindowConfig returns the tuning for a 10 Hz server.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Initial:   100 * time.Millisecond,
		Min:       50 * time.Millisecond,
		Max:       200 * time.Millisecond,
		Expected:  100 * time.Millisecond,
		Smoothing: 0.1,
		AvgWeight: 2,
		MaxWeight: 0.5,
		History:   32,
	}
}

// withDefaults fills zero fields from DefaultWindowConfig.
func (c WindowConfig) withDefaults() WindowConfig {
	d := DefaultWindowConfig()
	if c.Initial <= 0 {
		c.Initial = d.Initial
	}
	if c.Min <= 0 {
		c.Min = d.Min
	}
	if c.Max < c.Min {
		c.Max = max(d.Max, c.Min)
	}
	if c.Expected <= 0 {
		c.Expected = d.Expected
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = d.Smoothing
	}
	if c.AvgWeight == 0 && c.MaxWeight == 0 {
		c.AvgWeight = d.AvgWeight
		c.MaxWeight = d.MaxWeight
	}
	if c.History <= 0 {
		c.History = d.History
	}
	return c
}

// AdaptiveWindow widens the interpolation delay when snapshot arrival is
// jittery and narrows it again when the link settles.
type AdaptiveWindow struct {
	cfg WindowConfig

	target   time.Duration
	expected time.Duration
	last     time.Time

	jitter []time.Duration // Ring of the last cfg.History samples
	next   int
}

// NewAdaptiveWindow returns a window tuned by cfg. Zero fields take their
// defaults.
func NewAdaptiveWindow(cfg WindowConfig) *AdaptiveWindow {
	cfg = cfg.withDefaults()
	w := &AdaptiveWindow{
		cfg:    cfg,
		jitter: make([]time.Duration, 0, cfg.History),
	}
	w.Reset()
	return w
}

// Record notes the arrival of a snapshot.
func (w *AdaptiveWindow) Record(arrival time.Time) {
	if !w.last.IsZero() {
		interval := arrival.Sub(w.last)
		j := interval - w.expected
		if j < 0 {
			j = -j
		}
		w.push(j)
		w.expected = mix(w.expected, interval, 0.1)
	}
	w.last = arrival
	w.update()
}

func (w *AdaptiveWindow) push(j time.Duration) {
	if len(w.jitter) < w.cfg.History {
		w.jitter = append(w.jitter, j)
		return
	}
	w.jitter[w.next] = j
	w.next = (w.next + 1) % w.cfg.History
}

func (w *AdaptiveWindow) update() {
	if len(w.jitter) == 0 {
		return
	}
	avg, worst := w.stats()
	ideal := w.expected +
		time.Duration(w.cfg.AvgWeight*float64(avg)) +
		time.Duration(w.cfg.MaxWeight*float64(worst))

	w.target = mix(w.target, ideal, w.cfg.Smoothing)
	w.target = max(w.cfg.Min, min(w.target, w.cfg.Max))
}

func (w *AdaptiveWindow) stats() (avg, worst time.Duration) {
	var sum time.Duration
	for _, j := range w.jitter {
		sum += j
		worst = max(worst, j)
	}
	return sum / time.Duration(len(w.jitter)), worst
}

// Delay is the current interpolation delay.
func (w *AdaptiveWindow) Delay() time.Duration {
	return w.target
}

// Jitter is the average deviation of recent arrivals from the expected
// interval.
func (w *AdaptiveWindow) Jitter() time.Duration {
	if len(w.jitter) == 0 {
		return 0
	}
	avg, _ := w.stats()
	return avg
}

// Expected is the smoothed interval between snapshots.
func (w *AdaptiveWindow) Expected() time.Duration {
	return w.expected
}

// Reset forgets all samples, as after a reconnect.
func (w *AdaptiveWindow) Reset() {
	w.target = w.cfg.Initial
	w.expected = w.cfg.Expected
	w.last = time.Time{}
	w.jitter = w.jitter[:0]
	w.next = 0
}

// mix returns a*(1-f) + b*f.
func mix(a, b time.Duration, f float64) time.Duration {
	return time.Duration(float64(a)*(1-f) + float64(b)*f)
}
