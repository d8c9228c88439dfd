package arena

import "github.com/vango-dev/netsync/pkg/pmove"

// floorEpsilon keeps a box that lands on the floor just above it.
const floorEpsilon = 0.03125

var floorSurface = pmove.Surface{Name: "floor"}

// Floor is the arena's collision: a solid half-space below height zero.
var Floor pmove.Tracer = floor{}

type floor struct{}

func (floor) Trace(start, mins, maxs, end pmove.Vec3) pmove.Trace {
	tr := pmove.Trace{Fraction: 1, EndPos: end, Entity: -1}
	s := start[2] + mins[2]
	e := end[2] + mins[2]
	switch {
	case s < 0:
		tr.StartSolid = true
		if e >= 0 {
			return tr
		}
		tr.AllSolid = true
		tr.Fraction = 0
		tr.EndPos = start
	case e >= 0:
		return tr
	default:
		f := max((s-floorEpsilon)/(s-e), 0)
		tr.Fraction = f
		for i := range tr.EndPos {
			tr.EndPos[i] = start[i] + f*(end[i]-start[i])
		}
	}
	tr.Normal = pmove.Vec3{0, 0, 1}
	tr.Surface = &floorSurface
	tr.Contents = pmove.ContentsSolid
	tr.Entity = 0
	return tr
}

func (floor) PointContents(p pmove.Vec3) int32 {
	if p[2] < 0 {
		return pmove.ContentsSolid
	}
	return 0
}
