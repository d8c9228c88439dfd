package pmove

import "math"

// Angle indexes.
const (
	Pitch = 0
	Yaw   = 1
	Roll  = 2
)

func dot(a, b Vec3) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func scale(v Vec3, s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

func length(v Vec3) float32 {
	return float32(math.Sqrt(float64(dot(v, v))))
}

// normalize scales v to unit length in place and returns the old length.
func normalize(v *Vec3) float32 {
	l := length(*v)
	if l != 0 {
		inv := 1 / l
		v[0] *= inv
		v[1] *= inv
		v[2] *= inv
	}
	return l
}

// AngleVectors returns the forward, right and up vectors for angles in
// degrees.
func AngleVectors(angles Vec3) (forward, right, up Vec3) {
	const toRad = math.Pi * 2 / 360

	sy, cy := math.Sincos(float64(angles[Yaw]) * toRad)
	sp, cp := math.Sincos(float64(angles[Pitch]) * toRad)
	sr, cr := math.Sincos(float64(angles[Roll]) * toRad)

	forward = Vec3{
		float32(cp * cy),
		float32(cp * sy),
		float32(-sp),
	}
	right = Vec3{
		float32(-sr*sp*cy + cr*sy),
		float32(-sr*sp*sy - cr*cy),
		float32(-sr * cp),
	}
	up = Vec3{
		float32(cr*sp*cy + sr*sy),
		float32(cr*sp*sy - sr*cy),
		float32(cr * cp),
	}
	return forward, right, up
}

// ToFixed converts a world value to 12.3 fixed point, truncating toward
// zero and saturating at the int16 range.
func ToFixed(f float32) int16 {
	v := f * 8
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// FromFixed converts 12.3 fixed point back to world units.
func FromFixed(v int16) float32 {
	return float32(v) * 0.125
}

// FixedToVec converts a fixed point vector to world units.
func FixedToVec(v [3]int16) Vec3 {
	return Vec3{FromFixed(v[0]), FromFixed(v[1]), FromFixed(v[2])}
}

// VecToFixed converts world units to a fixed point vector.
func VecToFixed(v Vec3) [3]int16 {
	return [3]int16{ToFixed(v[0]), ToFixed(v[1]), ToFixed(v[2])}
}
