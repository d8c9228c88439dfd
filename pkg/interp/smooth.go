package interp

import (
	"math"
	"time"
)

// CatmullRom evaluates the Catmull-Rom spline through p1 and p2 at t in
// [0,1], using p0 and p3 as the outer control points.
func CatmullRom(p0, p1, p2, p3 float32, t float32) float32 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * (2*p1 +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

// CatmullRomVec is CatmullRom per axis.
func CatmullRomVec(p0, p1, p2, p3 Vec3, t float32) Vec3 {
	return Vec3{
		CatmullRom(p0[0], p1[0], p2[0], p3[0], t),
		CatmullRom(p0[1], p1[1], p2[1], p3[1], t),
		CatmullRom(p0[2], p1[2], p2[2], p3[2], t),
	}
}

type sample struct {
	at  time.Time
	pos Vec3
}

// DefaultSplineHistory is the number of samples a SplineHistory keeps.
const DefaultSplineHistory = 8

// SplineHistory keeps timestamped positions of one entity and reconstructs
// a position between them. It needs four samples for a spline and falls
// back to linear blending with fewer.
type SplineHistory struct {
	samples []sample // Oldest first
	size    int
}

// NewSplineHistory returns a history of size samples. A size below four
// means DefaultSplineHistory.
func NewSplineHistory(size int) *SplineHistory {
	if size < 4 {
		size = DefaultSplineHistory
	}
	return &SplineHistory{samples: make([]sample, 0, size), size: size}
}

// Add appends a sample, evicting the oldest when full.
func (h *SplineHistory) Add(at time.Time, pos Vec3) {
	if len(h.samples) == h.size {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, sample{at, pos})
}

// Len returns the number of samples.
func (h *SplineHistory) Len() int {
	return len(h.samples)
}

// Reset drops every sample.
func (h *SplineHistory) Reset() {
	h.samples = h.samples[:0]
}

// bracket returns the index of the last sample not after at, or -1 when
// at precedes every sample.
func (h *SplineHistory) bracket(at time.Time) int {
	i := -1
	for j, s := range h.samples {
		if s.at.After(at) {
			break
		}
		i = j
	}
	return i
}

// At reconstructs the position at the given time. ok is false when the
// history is empty.
func (h *SplineHistory) At(at time.Time) (Vec3, bool) {
	n := len(h.samples)
	if n == 0 {
		return Vec3{}, false
	}
	i := h.bracket(at)
	if n < 4 || i < 1 || i+2 >= n {
		return h.LinearAt(at)
	}

	p1, p2 := h.samples[i], h.samples[i+1]
	span := p2.at.Sub(p1.at)
	if span <= 0 {
		return p1.pos, true
	}
	t := clamp01(float32(at.Sub(p1.at)) / float32(span))
	return CatmullRomVec(h.samples[i-1].pos, p1.pos, p2.pos, h.samples[i+2].pos, t), true
}

// hold returns the end sample nearest to bracket index i.
func (h *SplineHistory) hold(i int) Vec3 {
	if i < 0 {
		return h.samples[0].pos
	}
	return h.samples[len(h.samples)-1].pos
}

// LinearAt is At without the spline.
func (h *SplineHistory) LinearAt(at time.Time) (Vec3, bool) {
	n := len(h.samples)
	if n == 0 {
		return Vec3{}, false
	}
	i := h.bracket(at)
	if i < 0 || i+1 >= n {
		return h.hold(i), true
	}
	p1, p2 := h.samples[i], h.samples[i+1]
	span := p2.at.Sub(p1.at)
	if span <= 0 {
		return p1.pos, true
	}
	return LerpVec(p1.pos, p2.pos, clamp01(float32(at.Sub(p1.at))/float32(span))), true
}

// Pattern classifies how a remote player is moving.
type Pattern uint8

const (
	PatternUnknown Pattern = iota
	PatternStanding
	PatternWalking
	PatternRunning
	PatternJumping
	PatternFalling
)

// String returns the string representation of the pattern.
func (p Pattern) String() string {
	switch p {
	case PatternStanding:
		return "standing"
	case PatternWalking:
		return "walking"
	case PatternRunning:
		return "running"
	case PatternJumping:
		return "jumping"
	case PatternFalling:
		return "falling"
	default:
		return "unknown"
	}
}

// DefaultMaxPrediction bounds how far DeadReckoning runs past an update.
const DefaultMaxPrediction = 200 * time.Millisecond

// DeadReckoning estimates a remote entity's position from its last known
// velocity and acceleration while no update arrives.
type DeadReckoning struct {
	Position     Vec3
	Velocity     Vec3
	Acceleration Vec3
	Pattern      Pattern

	// MaxPrediction is the longest gap that is predicted across. Past it
	// the last known position is held.
	MaxPrediction time.Duration

	last time.Time
}

// NewDeadReckoning returns a predictor with DefaultMaxPrediction.
func NewDeadReckoning() *DeadReckoning {
	return &DeadReckoning{MaxPrediction: DefaultMaxPrediction}
}

// Update records an authoritative position.
func (d *DeadReckoning) Update(pos Vec3, at time.Time) {
	if !d.last.IsZero() {
		dt := float32(at.Sub(d.last).Seconds())
		if dt > 0 && dt < 1 {
			old := d.Velocity
			for i := range pos {
				d.Velocity[i] = (pos[i] - d.Position[i]) / dt
				d.Acceleration[i] = (d.Velocity[i] - old[i]) / dt
			}
		}
	}
	d.Position = pos
	d.last = at
	d.Pattern = classify(d.Velocity)
}

func classify(v Vec3) Pattern {
	speed := float32(math.Hypot(float64(v[0]), float64(v[1])))
	switch {
	case v[2] > 200:
		return PatternJumping
	case v[2] < -200:
		return PatternFalling
	case speed < 10:
		return PatternStanding
	case speed < 200:
		return PatternWalking
	default:
		return PatternRunning
	}
}

// Predict returns the estimated position at now under the given gravity.
func (d *DeadReckoning) Predict(now time.Time, gravity float32) Vec3 {
	since := now.Sub(d.last)
	if d.last.IsZero() || since <= 0 || since > d.MaxPrediction {
		return d.Position
	}
	dt := float32(since.Seconds())

	p := d.Position
	for i := range p {
		p[i] += d.Velocity[i] * dt
	}
	// Horizontal acceleration fades out over the first second.
	damp := max(1-dt, 0)
	for i := 0; i < 2; i++ {
		p[i] += 0.5 * d.Acceleration[i] * damp * dt * dt
	}
	if d.Pattern == PatternJumping || d.Pattern == PatternFalling {
		p[2] -= 0.5 * gravity * dt * dt
	}
	return p
}

// Confidence falls from 1 at an update to 0 half a second later.
func (d *DeadReckoning) Confidence(now time.Time) float32 {
	if d.last.IsZero() {
		return 0
	}
	return clamp01(1 - 2*float32(now.Sub(d.last).Seconds()))
}

// PredictBlended is Predict pulled toward the last known position as
// confidence drops.
func (d *DeadReckoning) PredictBlended(now time.Time, gravity float32) Vec3 {
	c := d.Confidence(now)
	return LerpVec(d.Position, d.Predict(now, gravity), c)
}

// DefaultErrorDecay is how long a prediction correction takes to fade.
const DefaultErrorDecay = 150 * time.Millisecond

// ErrorSmoother spreads a prediction correction over time. The renderer
// subtracts Error from the predicted origin, so the view moves to the
// corrected position gradually instead of snapping.
type ErrorSmoother struct {
	// Decay is the time a correction takes to fade to zero. Zero or less
	// applies corrections at once.
	Decay time.Duration

	start Vec3
	at    time.Time
}

// NewErrorSmoother returns a smoother that fades over decay.
func NewErrorSmoother(decay time.Duration) *ErrorSmoother {
	return &ErrorSmoother{Decay: decay}
}

// Add folds a new correction into whatever is still fading.
func (s *ErrorSmoother) Add(err Vec3, now time.Time) {
	if s.Decay <= 0 {
		return
	}
	cur := s.Error(now)
	s.start = Vec3{cur[0] + err[0], cur[1] + err[1], cur[2] + err[2]}
	s.at = now
}

// Error returns the part of the corrections not yet applied.
func (s *ErrorSmoother) Error(now time.Time) Vec3 {
	if s.Decay <= 0 || s.at.IsZero() {
		return Vec3{}
	}
	elapsed := now.Sub(s.at)
	if elapsed >= s.Decay {
		return Vec3{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	f := 1 - float32(elapsed)/float32(s.Decay)
	return Vec3{s.start[0] * f, s.start[1] * f, s.start[2] * f}
}

// Clear drops any pending correction, as after a teleport.
func (s *ErrorSmoother) Clear() {
	s.start = Vec3{}
	s.at = time.Time{}
}
