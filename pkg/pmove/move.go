// Package pmove is the deterministic player movement shared by the server
// and client prediction.
//
// Move must produce the same PmoveState on both sides for the same input,
// so all state that survives a call is kept in 12.3 fixed point and every
// floating point step runs in the same order.
package pmove

import (
	"github.com/vango-dev/netsync/pkg/protocol"
)

const (
	StepSize      = 18
	StopEpsilon   = 0.1
	MinStepNormal = 0.7

	StopSpeed       = 100
	MaxSpeed        = 300
	DuckSpeed       = 100
	Accelerate      = 10
	AirAccelerate   = 0
	WaterAccelerate = 10
	Friction        = 6
	WaterFriction   = 1
	WaterSpeed      = 400

	// MaxTouch bounds the entities recorded in Pmove.Touch.
	MaxTouch = 32

	maxClipPlanes = 5
)

// Pmove is the input and output of one Move call.
type Pmove struct {
	// State is read and updated in place.
	State protocol.PmoveState

	Cmd protocol.UserCmd

	// SnapInitial nudges a stuck starting position into open space.
	SnapInitial bool

	// Results.
	Touch        []int
	ViewAngles   Vec3
	ViewHeight   float32
	Mins, Maxs   Vec3
	GroundEntity int
	WaterType    int32
	WaterLevel   int
}

// OnGround reports whether the last move ended standing on something.
func (pm *Pmove) OnGround() bool {
	return pm.GroundEntity >= 0
}

type mover struct {
	pm *Pmove
	tr Tracer

	origin   Vec3
	velocity Vec3

	forward, right, up Vec3
	frametime          float32

	groundSurface  *Surface
	groundContents int32

	previousOrigin [3]int16
	ladder         bool
}

// Move runs one user command against pm.State.
func Move(pm *Pmove, tr Tracer) {
	pm.Touch = pm.Touch[:0]
	pm.ViewAngles = Vec3{}
	pm.ViewHeight = 0
	pm.GroundEntity = -1
	pm.WaterType = 0
	pm.WaterLevel = 0

	m := mover{pm: pm, tr: tr}
	m.origin = FixedToVec(pm.State.Origin)
	m.velocity = FixedToVec(pm.State.Velocity)
	m.previousOrigin = pm.State.Origin
	m.frametime = float32(pm.Cmd.Msec) * 0.001

	m.clampAngles()

	s := &pm.State
	if s.PmType == protocol.PmSpectator {
		m.flyMove(false)
		m.snapPosition()
		return
	}

	if s.PmType >= protocol.PmDead {
		pm.Cmd.Forward = 0
		pm.Cmd.Side = 0
		pm.Cmd.Up = 0
	}
	if s.PmType == protocol.PmFreeze {
		return
	}

	m.checkDuck()
	if pm.SnapInitial {
		m.initialSnapPosition()
	}
	m.categorizePosition()

	if s.PmType == protocol.PmDead {
		m.deadMove()
	}
	m.checkSpecialMovement()

	if s.PmTime != 0 {
		msec := int(pm.Cmd.Msec >> 3)
		if msec == 0 {
			msec = 1
		}
		if msec >= int(s.PmTime) {
			s.PmFlags &^= protocol.PmfTimeWaterJump | protocol.PmfTimeLand | protocol.PmfTimeTeleport
			s.PmTime = 0
		} else {
			s.PmTime -= uint8(msec)
		}
	}

	switch {
	case s.PmFlags.Has(protocol.PmfTimeTeleport):
		// Hold still for the teleport pause.
	case s.PmFlags.Has(protocol.PmfTimeWaterJump):
		// No control, but gravity still applies.
		m.velocity[2] -= float32(s.Gravity) * m.frametime
		if m.velocity[2] < 0 {
			s.PmFlags &^= protocol.PmfTimeWaterJump | protocol.PmfTimeLand | protocol.PmfTimeTeleport
			s.PmTime = 0
		}
		m.stepSlideMove()
	default:
		m.checkJump()
		m.friction()
		if pm.WaterLevel >= 2 {
			m.waterMove()
		} else {
			angles := pm.ViewAngles
			if angles[Pitch] > 180 {
				angles[Pitch] -= 360
			}
			angles[Pitch] /= 3
			m.forward, m.right, m.up = AngleVectors(angles)
			m.airMove()
		}
	}

	m.categorizePosition()
	m.snapPosition()
}

func (m *mover) touch(ent int) {
	if ent >= 0 && len(m.pm.Touch) < MaxTouch {
		m.pm.Touch = append(m.pm.Touch, ent)
	}
}

// clipVelocity slides in off a plane with the given normal.
func clipVelocity(in, normal Vec3, overbounce float32) Vec3 {
	backoff := dot(in, normal) * overbounce
	var out Vec3
	for i := range out {
		out[i] = in[i] - normal[i]*backoff
		if out[i] > -StopEpsilon && out[i] < StopEpsilon {
			out[i] = 0
		}
	}
	return out
}

func (m *mover) slideMove() {
	const bumps = 4
	primal := m.velocity
	var planes [maxClipPlanes]Vec3
	numPlanes := 0
	timeLeft := m.frametime

	for range bumps {
		end := Vec3{
			m.origin[0] + timeLeft*m.velocity[0],
			m.origin[1] + timeLeft*m.velocity[1],
			m.origin[2] + timeLeft*m.velocity[2],
		}
		tr := m.tr.Trace(m.origin, m.pm.Mins, m.pm.Maxs, end)

		if tr.AllSolid {
			// Trapped in a solid.
			m.velocity[2] = 0
			return
		}
		if tr.Fraction > 0 {
			m.origin = tr.EndPos
			numPlanes = 0
		}
		if tr.Fraction == 1 {
			break
		}

		m.touch(tr.Entity)
		timeLeft -= timeLeft * tr.Fraction

		if numPlanes >= maxClipPlanes {
			m.velocity = Vec3{}
			break
		}
		planes[numPlanes] = tr.Normal
		numPlanes++

		// Find a velocity parallel to every clip plane.
		found := false
		for i := 0; i < numPlanes; i++ {
			m.velocity = clipVelocity(m.velocity, planes[i], 1.01)
			ok := true
			for j := 0; j < numPlanes; j++ {
				if j != i && dot(m.velocity, planes[j]) < 0 {
					ok = false
					break
				}
			}
			if ok {
				found = true
				break
			}
		}

		if !found {
			if numPlanes != 2 {
				m.velocity = Vec3{}
				break
			}
			// Run along the crease.
			dir := cross(planes[0], planes[1])
			m.velocity = scale(dir, dot(dir, m.velocity))
		}

		if dot(m.velocity, primal) <= 0 {
			m.velocity = Vec3{}
			break
		}
	}

	if m.pm.State.PmTime != 0 {
		m.velocity = primal
	}
}

func (m *mover) stepSlideMove() {
	startO, startV := m.origin, m.velocity

	m.slideMove()
	downO, downV := m.origin, m.velocity

	up := startO
	up[2] += StepSize
	if tr := m.tr.Trace(up, m.pm.Mins, m.pm.Maxs, up); tr.AllSolid {
		return
	}

	// Try the same move from StepSize higher.
	m.origin = up
	m.velocity = startV
	m.slideMove()

	down := m.origin
	down[2] -= StepSize
	tr := m.tr.Trace(m.origin, m.pm.Mins, m.pm.Maxs, down)
	if !tr.AllSolid {
		m.origin = tr.EndPos
	}

	upO := m.origin
	downDist := (downO[0]-startO[0])*(downO[0]-startO[0]) + (downO[1]-startO[1])*(downO[1]-startO[1])
	upDist := (upO[0]-startO[0])*(upO[0]-startO[0]) + (upO[1]-startO[1])*(upO[1]-startO[1])

	if downDist > upDist || tr.Normal[2] < MinStepNormal {
		m.origin = downO
		m.velocity = downV
		return
	}
	// Walking along a plane keeps the lower move's vertical speed.
	m.velocity[2] = downV[2]
}

func (m *mover) friction() {
	speed := length(m.velocity)
	if speed < 1 {
		m.velocity[0] = 0
		m.velocity[1] = 0
		return
	}

	var drop float32
	slick := m.groundSurface != nil && m.groundSurface.Flags&SurfSlick != 0
	if (m.pm.GroundEntity >= 0 && m.groundSurface != nil && !slick) || m.ladder {
		control := max(speed, StopSpeed)
		drop += control * Friction * m.frametime
	}
	if m.pm.WaterLevel != 0 && !m.ladder {
		drop += speed * WaterFriction * float32(m.pm.WaterLevel) * m.frametime
	}

	newSpeed := max(speed-drop, 0) / speed
	m.velocity = scale(m.velocity, newSpeed)
}

func (m *mover) accelerate(wishDir Vec3, wishSpeed, accel float32) {
	addSpeed := wishSpeed - dot(m.velocity, wishDir)
	if addSpeed <= 0 {
		return
	}
	accelSpeed := min(accel*m.frametime*wishSpeed, addSpeed)
	for i := range m.velocity {
		m.velocity[i] += accelSpeed * wishDir[i]
	}
}

func (m *mover) airAccelerate(wishDir Vec3, wishSpeed, accel float32) {
	addSpeed := min(wishSpeed, 30) - dot(m.velocity, wishDir)
	if addSpeed <= 0 {
		return
	}
	accelSpeed := min(accel*wishSpeed*m.frametime, addSpeed)
	for i := range m.velocity {
		m.velocity[i] += accelSpeed * wishDir[i]
	}
}

func currentDir(contents int32) Vec3 {
	var v Vec3
	if contents&ContentsCurrent0 != 0 {
		v[0]++
	}
	if contents&ContentsCurrent90 != 0 {
		v[1]++
	}
	if contents&ContentsCurrent180 != 0 {
		v[0]--
	}
	if contents&ContentsCurrent270 != 0 {
		v[1]--
	}
	if contents&ContentsCurrentUp != 0 {
		v[2]++
	}
	if contents&ContentsCurrentDown != 0 {
		v[2]--
	}
	return v
}

func (m *mover) addCurrents(wishVel *Vec3) {
	pm := m.pm

	if m.ladder && abs(m.velocity[2]) <= 200 {
		switch {
		case pm.ViewAngles[Pitch] <= -15 && pm.Cmd.Forward > 0:
			wishVel[2] = 200
		case pm.ViewAngles[Pitch] >= 15 && pm.Cmd.Forward > 0:
			wishVel[2] = -200
		case pm.Cmd.Up > 0:
			wishVel[2] = 200
		case pm.Cmd.Up < 0:
			wishVel[2] = -200
		default:
			wishVel[2] = 0
		}
		wishVel[0] = clamp(wishVel[0], -25, 25)
		wishVel[1] = clamp(wishVel[1], -25, 25)
	}

	if pm.WaterType&MaskCurrent != 0 {
		v := currentDir(pm.WaterType)
		s := float32(WaterSpeed)
		if pm.WaterLevel == 1 && pm.GroundEntity >= 0 {
			s /= 2
		}
		for i := range wishVel {
			wishVel[i] += s * v[i]
		}
	}

	// Conveyor belts.
	if pm.GroundEntity >= 0 {
		v := currentDir(m.groundContents)
		for i := range wishVel {
			wishVel[i] += 100 * v[i]
		}
	}
}

func (m *mover) waterMove() {
	cmd := &m.pm.Cmd
	var wishVel Vec3
	for i := range wishVel {
		wishVel[i] = m.forward[i]*float32(cmd.Forward) + m.right[i]*float32(cmd.Side)
	}
	if cmd.Forward == 0 && cmd.Side == 0 && cmd.Up == 0 {
		wishVel[2] -= 60 // Sink
	} else {
		wishVel[2] += float32(cmd.Up)
	}
	m.addCurrents(&wishVel)

	wishDir := wishVel
	wishSpeed := normalize(&wishDir)
	if wishSpeed > MaxSpeed {
		wishSpeed = MaxSpeed
	}
	wishSpeed *= 0.5

	m.accelerate(wishDir, wishSpeed, WaterAccelerate)
	m.stepSlideMove()
}

func (m *mover) airMove() {
	pm := m.pm
	fmove, smove := float32(pm.Cmd.Forward), float32(pm.Cmd.Side)

	var wishVel Vec3
	for i := 0; i < 2; i++ {
		wishVel[i] = m.forward[i]*fmove + m.right[i]*smove
	}
	m.addCurrents(&wishVel)

	wishDir := wishVel
	wishSpeed := normalize(&wishDir)

	maxSpeed := float32(MaxSpeed)
	if pm.State.PmFlags.Has(protocol.PmfDucked) {
		maxSpeed = DuckSpeed
	}
	if wishSpeed > maxSpeed {
		wishVel = scale(wishVel, maxSpeed/wishSpeed)
		wishSpeed = maxSpeed
	}

	gravity := float32(pm.State.Gravity)

	switch {
	case m.ladder:
		m.accelerate(wishDir, wishSpeed, Accelerate)
		if wishVel[2] == 0 {
			if m.velocity[2] > 0 {
				m.velocity[2] = max(m.velocity[2]-gravity*m.frametime, 0)
			} else {
				m.velocity[2] = min(m.velocity[2]+gravity*m.frametime, 0)
			}
		}
		m.stepSlideMove()

	case pm.GroundEntity >= 0:
		m.velocity[2] = 0
		m.accelerate(wishDir, wishSpeed, Accelerate)
		if gravity > 0 {
			m.velocity[2] = 0
		} else {
			m.velocity[2] -= gravity * m.frametime
		}
		if m.velocity[0] == 0 && m.velocity[1] == 0 {
			return
		}
		m.stepSlideMove()

	default:
		if AirAccelerate != 0 {
			m.airAccelerate(wishDir, wishSpeed, Accelerate)
		} else {
			m.accelerate(wishDir, wishSpeed, 1)
		}
		m.velocity[2] -= gravity * m.frametime
		m.stepSlideMove()
	}
}

// categorizePosition sets the ground entity, water type and water level.
func (m *mover) categorizePosition() {
	pm := m.pm
	s := &pm.State

	point := m.origin
	point[2] -= 0.25

	if m.velocity[2] > 180 {
		s.PmFlags &^= protocol.PmfOnGround
		pm.GroundEntity = -1
	} else {
		tr := m.tr.Trace(m.origin, pm.Mins, pm.Maxs, point)
		m.groundSurface = tr.Surface
		m.groundContents = tr.Contents

		if tr.Entity < 0 || (tr.Normal[2] < 0.7 && !tr.StartSolid) {
			pm.GroundEntity = -1
			s.PmFlags &^= protocol.PmfOnGround
		} else {
			pm.GroundEntity = tr.Entity

			// Landing ends a water jump.
			if s.PmFlags.Has(protocol.PmfTimeWaterJump) {
				s.PmFlags &^= protocol.PmfTimeWaterJump | protocol.PmfTimeLand | protocol.PmfTimeTeleport
				s.PmTime = 0
			}

			if !s.PmFlags.Has(protocol.PmfOnGround) {
				s.PmFlags |= protocol.PmfOnGround
				// No landing pause when just walking down a slope.
				if m.velocity[2] < -200 {
					s.PmFlags |= protocol.PmfTimeLand
					if m.velocity[2] < -400 {
						s.PmTime = 25
					} else {
						s.PmTime = 18
					}
				}
			}
		}
		m.touch(tr.Entity)
	}

	pm.WaterLevel = 0
	pm.WaterType = 0

	sample2 := int(pm.ViewHeight - pm.Mins[2])
	sample1 := sample2 / 2

	point = Vec3{m.origin[0], m.origin[1], m.origin[2] + pm.Mins[2] + 1}
	cont := m.tr.PointContents(point)
	if cont&MaskWater == 0 {
		return
	}
	pm.WaterType = cont
	pm.WaterLevel = 1

	point[2] = m.origin[2] + pm.Mins[2] + float32(sample1)
	if m.tr.PointContents(point)&MaskWater == 0 {
		return
	}
	pm.WaterLevel = 2

	point[2] = m.origin[2] + pm.Mins[2] + float32(sample2)
	if m.tr.PointContents(point)&MaskWater != 0 {
		pm.WaterLevel = 3
	}
}

func (m *mover) checkJump() {
	pm := m.pm
	s := &pm.State

	if s.PmFlags.Has(protocol.PmfTimeLand) {
		return
	}
	if pm.Cmd.Up < 10 {
		s.PmFlags &^= protocol.PmfJumpHeld
		return
	}
	// Jump must be released before the next one.
	if s.PmFlags.Has(protocol.PmfJumpHeld) {
		return
	}
	if s.PmType == protocol.PmDead {
		return
	}

	if pm.WaterLevel >= 2 {
		// Swimming, not jumping.
		pm.GroundEntity = -1
		if m.velocity[2] <= -300 {
			return
		}
		switch pm.WaterType {
		case ContentsWater:
			m.velocity[2] = 100
		case ContentsSlime:
			m.velocity[2] = 80
		default:
			m.velocity[2] = 50
		}
		return
	}

	if pm.GroundEntity < 0 {
		return
	}

	s.PmFlags |= protocol.PmfJumpHeld
	pm.GroundEntity = -1
	m.velocity[2] = max(m.velocity[2]+270, 270)
}

func (m *mover) checkSpecialMovement() {
	pm := m.pm
	if pm.State.PmTime != 0 {
		return
	}

	m.ladder = false

	flatForward := Vec3{m.forward[0], m.forward[1], 0}
	normalize(&flatForward)

	spot := Vec3{
		m.origin[0] + flatForward[0],
		m.origin[1] + flatForward[1],
		m.origin[2] + flatForward[2],
	}
	tr := m.tr.Trace(m.origin, pm.Mins, pm.Maxs, spot)
	if tr.Fraction < 1 && tr.Contents&ContentsLadder != 0 {
		m.ladder = true
	}

	if pm.WaterLevel != 2 {
		return
	}

	// Look for a ledge to climb out of the water onto.
	spot = Vec3{
		m.origin[0] + 30*flatForward[0],
		m.origin[1] + 30*flatForward[1],
		m.origin[2] + 30*flatForward[2] + 4,
	}
	if m.tr.PointContents(spot)&ContentsSolid == 0 {
		return
	}
	spot[2] += 16
	if m.tr.PointContents(spot) != 0 {
		return
	}

	m.velocity = scale(flatForward, 50)
	m.velocity[2] = 350
	pm.State.PmFlags |= protocol.PmfTimeWaterJump
	pm.State.PmTime = 255
}

func (m *mover) flyMove(clip bool) {
	pm := m.pm
	pm.ViewHeight = 22

	speed := length(m.velocity)
	if speed < 1 {
		m.velocity = Vec3{}
	} else {
		const friction = Friction * 1.5
		control := max(speed, StopSpeed)
		newSpeed := max(speed-control*friction*m.frametime, 0) / speed
		m.velocity = scale(m.velocity, newSpeed)
	}

	normalize(&m.forward)
	normalize(&m.right)

	var wishVel Vec3
	for i := range wishVel {
		wishVel[i] = m.forward[i]*float32(pm.Cmd.Forward) + m.right[i]*float32(pm.Cmd.Side)
	}
	wishVel[2] += float32(pm.Cmd.Up)

	wishDir := wishVel
	wishSpeed := min(normalize(&wishDir), MaxSpeed)

	addSpeed := wishSpeed - dot(m.velocity, wishDir)
	if addSpeed <= 0 {
		return
	}
	accelSpeed := min(Accelerate*m.frametime*wishSpeed, addSpeed)
	for i := range m.velocity {
		m.velocity[i] += accelSpeed * wishDir[i]
	}

	end := Vec3{
		m.origin[0] + m.frametime*m.velocity[0],
		m.origin[1] + m.frametime*m.velocity[1],
		m.origin[2] + m.frametime*m.velocity[2],
	}
	if clip {
		m.origin = m.tr.Trace(m.origin, pm.Mins, pm.Maxs, end).EndPos
	} else {
		m.origin = end
	}
}

// checkDuck sets the bounding box and view height.
func (m *mover) checkDuck() {
	pm := m.pm
	s := &pm.State

	pm.Mins[0], pm.Mins[1] = -16, -16
	pm.Maxs[0], pm.Maxs[1] = 16, 16

	if s.PmType == protocol.PmGib {
		pm.Mins[2] = 0
		pm.Maxs[2] = 16
		pm.ViewHeight = 8
		return
	}

	pm.Mins[2] = -24

	switch {
	case s.PmType == protocol.PmDead:
		s.PmFlags |= protocol.PmfDucked
	case pm.Cmd.Up < 0 && s.PmFlags.Has(protocol.PmfOnGround):
		s.PmFlags |= protocol.PmfDucked
	case s.PmFlags.Has(protocol.PmfDucked):
		// Stand up if there is room.
		pm.Maxs[2] = 32
		if tr := m.tr.Trace(m.origin, pm.Mins, pm.Maxs, m.origin); !tr.AllSolid {
			s.PmFlags &^= protocol.PmfDucked
		}
	}

	if s.PmFlags.Has(protocol.PmfDucked) {
		pm.Maxs[2] = 4
		pm.ViewHeight = -2
	} else {
		pm.Maxs[2] = 32
		pm.ViewHeight = 22
	}
}

func (m *mover) deadMove() {
	if m.pm.GroundEntity < 0 {
		return
	}
	// Extra friction.
	forward := length(m.velocity) - 20
	if forward <= 0 {
		m.velocity = Vec3{}
		return
	}
	normalize(&m.velocity)
	m.velocity = scale(m.velocity, forward)
}

func (m *mover) goodPosition() bool {
	if m.pm.State.PmType == protocol.PmSpectator {
		return true
	}
	origin := FixedToVec(m.pm.State.Origin)
	return !m.tr.Trace(origin, m.pm.Mins, m.pm.Maxs, origin).AllSolid
}

// jitterBits is the order in which rounding directions are tried.
var jitterBits = [8]int{0, 4, 1, 2, 3, 5, 6, 7}

// snapPosition stores the float position back into fixed point, nudging by
// one unit where truncation would leave the player inside a solid.
func (m *mover) snapPosition() {
	s := &m.pm.State
	s.Velocity = VecToFixed(m.velocity)

	var sign [3]int16
	for i := range sign {
		if m.origin[i] >= 0 {
			sign[i] = 1
		} else {
			sign[i] = -1
		}
		s.Origin[i] = ToFixed(m.origin[i])
		if FromFixed(s.Origin[i]) == m.origin[i] {
			sign[i] = 0
		}
	}
	base := s.Origin

	for _, bits := range jitterBits {
		s.Origin = base
		for i := range s.Origin {
			if bits&(1<<i) != 0 {
				s.Origin[i] += sign[i]
			}
		}
		if m.goodPosition() {
			return
		}
	}

	// Nowhere fits; stay put.
	s.Origin = m.previousOrigin
}

func (m *mover) initialSnapPosition() {
	offset := [3]int16{0, -1, 1}
	s := &m.pm.State
	base := s.Origin

	for _, z := range offset {
		s.Origin[2] = base[2] + z
		for _, y := range offset {
			s.Origin[1] = base[1] + y
			for _, x := range offset {
				s.Origin[0] = base[0] + x
				if m.goodPosition() {
					m.origin = FixedToVec(s.Origin)
					m.previousOrigin = s.Origin
					return
				}
			}
		}
	}
}

func (m *mover) clampAngles() {
	pm := m.pm
	s := &pm.State

	if s.PmFlags.Has(protocol.PmfTimeTeleport) {
		pm.ViewAngles[Yaw] = protocol.ShortToAngle(pm.Cmd.Angles[Yaw] + s.DeltaAngles[Yaw])
		pm.ViewAngles[Pitch] = 0
		pm.ViewAngles[Roll] = 0
	} else {
		for i := range pm.ViewAngles {
			pm.ViewAngles[i] = protocol.ShortToAngle(pm.Cmd.Angles[i] + s.DeltaAngles[i])
		}
		// No looking further than straight up or down.
		switch p := pm.ViewAngles[Pitch]; {
		case p > 89 && p < 180:
			pm.ViewAngles[Pitch] = 89
		case p < 271 && p >= 180:
			pm.ViewAngles[Pitch] = 271
		}
	}
	m.forward, m.right, m.up = AngleVectors(pm.ViewAngles)
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp(f, lo, hi float32) float32 {
	return max(lo, min(f, hi))
}
