// Package interp turns a stream of discrete snapshots into smooth motion.
//
// Remote entities are drawn between the two newest confirmed snapshots,
// never at the newest one. The fraction between them comes from wall-clock
// time since the older snapshot, optionally stretched by an AdaptiveWindow
// when packet arrival is jittery. Discontinuities snap instead of blend.
//
// Nothing in this package is safe for concurrent use. It is owned by the
// client's simulation goroutine like the rest of the client state.
package interp

import (
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// Vec3 is a world-space vector.
type Vec3 = protocol.Vec3

// Mode selects how remote entity origins are reconstructed.
type Mode uint8

const (
	// ModeLerp blends linearly between the two newest snapshots.
	ModeLerp Mode = iota
	// ModeCubic runs a Catmull-Rom spline through the snapshot history.
	ModeCubic
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLerp:
		return "lerp"
	case ModeCubic:
		return "cubic"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration name to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "lerp", "":
		return ModeLerp, true
	case "cubic":
		return ModeCubic, true
	}
	return ModeLerp, false
}

// LerpFraction returns how far now lies between a snapshot taken at older
// and the next one expected interval later, clamped to [0,1].
func LerpFraction(now, older time.Time, interval time.Duration) float32 {
	if interval <= 0 {
		return 1
	}
	f := float32(now.Sub(older)) / float32(interval)
	return clamp01(f)
}

// ExtrapolateFraction is LerpFraction that may run past 1 by at most
// maxExtra, for use while the next snapshot is late.
func ExtrapolateFraction(now, older time.Time, interval, maxExtra time.Duration) float32 {
	if interval <= 0 {
		return 1
	}
	f := float32(now.Sub(older)) / float32(interval)
	limit := 1 + float32(max(maxExtra, 0))/float32(interval)
	return max(0, min(f, limit))
}

// LerpAngle blends two angles in degrees along the shorter arc.
func LerpAngle(from, to, frac float32) float32 {
	if to-from > 180 {
		to -= 360
	}
	if to-from < -180 {
		to += 360
	}
	return from + frac*(to-from)
}

// LerpVec blends a toward b.
func LerpVec(a, b Vec3, frac float32) Vec3 {
	return Vec3{
		a[0] + frac*(b[0]-a[0]),
		a[1] + frac*(b[1]-a[1]),
		a[2] + frac*(b[2]-a[2]),
	}
}

// BlendEntity returns cur with its origin and angles placed frac of the way
// from the previous snapshot. The origin runs from cur.OldOrigin, which the
// snapshot parser sets to the previous origin. prev may be nil for an entity
// that just appeared. With noLerp set, cur is returned unchanged.
func BlendEntity(prev, cur *protocol.EntityState, frac float32, noLerp bool) protocol.EntityState {
	out := *cur
	if noLerp {
		out.OldOrigin = cur.Origin
		return out
	}
	out.Origin = LerpVec(cur.OldOrigin, cur.Origin, frac)
	if prev != nil {
		for i := range out.Angles {
			out.Angles[i] = LerpAngle(prev.Angles[i], cur.Angles[i], frac)
		}
	}
	return out
}

// Extrapolate moves origin along velocity for the time since the last
// update, capped at limit.
func Extrapolate(origin, velocity Vec3, since, limit time.Duration) Vec3 {
	if since <= 0 {
		return origin
	}
	dt := float32(min(since, limit).Seconds())
	if dt <= 0 {
		return origin
	}
	return Vec3{
		origin[0] + velocity[0]*dt,
		origin[1] + velocity[1]*dt,
		origin[2] + velocity[2]*dt,
	}
}

func clamp01(f float32) float32 {
	return max(0, min(f, 1))
}
