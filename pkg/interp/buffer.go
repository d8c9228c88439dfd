package interp

import "time"

// DefaultBufferSize is the number of snapshots a SnapshotBuffer keeps.
const DefaultBufferSize = 8

// Snapshot identifies one received server frame.
type Snapshot struct {
	Frame int32
	Time  time.Time // Arrival on the client clock
}

// SnapshotBuffer keeps recent snapshot arrivals and picks the pair to draw
// between at a delayed render time.
type SnapshotBuffer struct {
	snaps []Snapshot // Oldest first
	size  int

	// Delay is how far behind the render clock the buffer presents.
	Delay time.Duration
}

// NewSnapshotBuffer returns a buffer of size entries presenting delay
// behind the render clock. A non-positive size means DefaultBufferSize.
func NewSnapshotBuffer(size int, delay time.Duration) *SnapshotBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &SnapshotBuffer{
		snaps: make([]Snapshot, 0, size),
		size:  size,
		Delay: delay,
	}
}

// Add appends a snapshot, evicting the oldest when full. Snapshots that
// arrive out of frame order are ignored.
func (b *SnapshotBuffer) Add(s Snapshot) {
	if n := len(b.snaps); n > 0 && s.Frame <= b.snaps[n-1].Frame {
		return
	}
	if len(b.snaps) == b.size {
		copy(b.snaps, b.snaps[1:])
		b.snaps = b.snaps[:len(b.snaps)-1]
	}
	b.snaps = append(b.snaps, s)
}

// Bracket returns the snapshots either side of render-Delay and the
// fraction between them. ok is false until two snapshots bracket the
// target time.
func (b *SnapshotBuffer) Bracket(render time.Time) (before, after Snapshot, frac float32, ok bool) {
	if len(b.snaps) < 2 {
		return Snapshot{}, Snapshot{}, 0, false
	}
	target := render.Add(-b.Delay)

	var haveBefore, haveAfter bool
	for _, s := range b.snaps {
		if !s.Time.After(target) {
			before, haveBefore = s, true
		} else if !haveAfter {
			after, haveAfter = s, true
		}
	}
	if !haveBefore || !haveAfter {
		return Snapshot{}, Snapshot{}, 0, false
	}

	if total := after.Time.Sub(before.Time); total > 0 {
		frac = clamp01(float32(target.Sub(before.Time)) / float32(total))
	}
	return before, after, frac, true
}

// Newest returns the most recent snapshot.
func (b *SnapshotBuffer) Newest() (Snapshot, bool) {
	if len(b.snaps) == 0 {
		return Snapshot{}, false
	}
	return b.snaps[len(b.snaps)-1], true
}

// Len returns the number of buffered snapshots.
func (b *SnapshotBuffer) Len() int {
	return len(b.snaps)
}

// Reset drops every snapshot.
func (b *SnapshotBuffer) Reset() {
	b.snaps = b.snaps[:0]
}
