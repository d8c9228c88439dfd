package pmove

import "github.com/vango-dev/netsync/pkg/protocol"

// Vec3 is a world-space vector.
type Vec3 = protocol.Vec3

// Content flags returned by PointContents and Trace.
const (
	ContentsSolid  int32 = 1
	ContentsWindow int32 = 2
	ContentsLava   int32 = 8
	ContentsSlime  int32 = 16
	ContentsWater  int32 = 32

	ContentsCurrent0    int32 = 0x40000
	ContentsCurrent90   int32 = 0x80000
	ContentsCurrent180  int32 = 0x100000
	ContentsCurrent270  int32 = 0x200000
	ContentsCurrentUp   int32 = 0x400000
	ContentsCurrentDown int32 = 0x800000

	ContentsLadder int32 = 0x20000000

	MaskWater   = ContentsWater | ContentsLava | ContentsSlime
	MaskCurrent = ContentsCurrent0 | ContentsCurrent90 | ContentsCurrent180 |
		ContentsCurrent270 | ContentsCurrentUp | ContentsCurrentDown
)

// SurfSlick marks a surface without ground friction.
const SurfSlick int32 = 0x2

// Surface describes what a trace hit.
type Surface struct {
	Name  string
	Flags int32
}

// Trace is the result of sweeping a box through the world.
type Trace struct {
	AllSolid   bool // The whole sweep was inside a solid
	StartSolid bool // The start point was inside a solid
	Fraction   float32
	EndPos     Vec3
	Normal     Vec3     // Plane normal at the impact point
	Surface    *Surface // Nil when nothing was hit
	Contents   int32
	Entity     int // Entity hit, or -1
}

// Tracer is the collision query movement runs against. The caller binds the
// entity to ignore and the content mask, so the same world query serves
// both the server and client prediction.
type Tracer interface {
	Trace(start, mins, maxs, end Vec3) Trace
	PointContents(point Vec3) int32
}

// TracerFuncs adapts a pair of functions to Tracer.
type TracerFuncs struct {
	TraceFunc    func(start, mins, maxs, end Vec3) Trace
	ContentsFunc func(point Vec3) int32
}

// Trace calls t.TraceFunc.
func (t TracerFuncs) Trace(start, mins, maxs, end Vec3) Trace {
	return t.TraceFunc(start, mins, maxs, end)
}

// PointContents calls t.ContentsFunc, or returns 0 when it is nil.
func (t TracerFuncs) PointContents(point Vec3) int32 {
	if t.ContentsFunc == nil {
		return 0
	}
	return t.ContentsFunc(point)
}

// EmptyWorld is a Tracer with nothing to collide with.
var EmptyWorld Tracer = emptyWorld{}

type emptyWorld struct{}

func (emptyWorld) Trace(start, mins, maxs, end Vec3) Trace {
	return Trace{Fraction: 1, EndPos: end, Entity: -1}
}

func (emptyWorld) PointContents(Vec3) int32 { return 0 }
