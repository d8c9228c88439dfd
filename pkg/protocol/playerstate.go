package protocol

// PmType selects the movement rules applied to a player.
type PmType uint8

const (
	PmNormal    PmType = 0
	PmSpectator PmType = 1 // Flies through walls
	PmDead      PmType = 2 // No acceleration or turning
	PmGib       PmType = 3 // Different bounding box
	PmFreeze    PmType = 4 // Intermission and demo playback
)

// String returns the string representation of the movement type.
func (t PmType) String() string {
	switch t {
	case PmNormal:
		return "normal"
	case PmSpectator:
		return "spectator"
	case PmDead:
		return "dead"
	case PmGib:
		return "gib"
	case PmFreeze:
		return "freeze"
	default:
		return "unknown"
	}
}

// PmFlags is the movement flag byte carried in PmoveState.
type PmFlags uint8

const (
	PmfDucked        PmFlags = 1 << 0
	PmfJumpHeld      PmFlags = 1 << 1
	PmfOnGround      PmFlags = 1 << 2
	PmfTimeWaterJump PmFlags = 1 << 3 // PmTime is waterjump
	PmfTimeLand      PmFlags = 1 << 4 // PmTime is time before rejump
	PmfTimeTeleport  PmFlags = 1 << 5 // PmTime is non-moving time
	PmfNoPrediction  PmFlags = 1 << 6 // Temporarily disables prediction
)

// Has returns true if the flags contain flag.
func (f PmFlags) Has(flag PmFlags) bool {
	return f&flag != 0
}

// PmoveState is everything the movement code needs to be bit-exact between
// client and server. Origin and Velocity are 12.3 fixed point.
type PmoveState struct {
	PmType      PmType
	Origin      [3]int16
	Velocity    [3]int16
	PmFlags     PmFlags
	PmTime      uint8 // Each unit is 8 ms
	Gravity     int16
	DeltaAngles [3]int16 // Added to command angles to get view direction
}

// PlayerState is the state sent only to the client controlling the player.
type PlayerState struct {
	Pmove      PmoveState
	ViewAngles Vec3
	ViewOffset Vec3
	KickAngles Vec3
	GunAngles  Vec3
	GunOffset  Vec3
	GunIndex   uint8
	GunFrame   uint8
	Blend      [4]float32
	Fov        float32
	RdFlags    uint8
	Stats      [MaxStats]int16
}

// PlayerBits selects which PlayerState fields follow in svc_playerinfo.
type PlayerBits uint16

const (
	PSMType        PlayerBits = 1 << 0
	PSMOrigin      PlayerBits = 1 << 1
	PSMVelocity    PlayerBits = 1 << 2
	PSMTime        PlayerBits = 1 << 3
	PSMFlags       PlayerBits = 1 << 4
	PSMGravity     PlayerBits = 1 << 5
	PSMDeltaAngles PlayerBits = 1 << 6
	PSViewOffset   PlayerBits = 1 << 7
	PSViewAngles   PlayerBits = 1 << 8
	PSKickAngles   PlayerBits = 1 << 9
	PSBlend        PlayerBits = 1 << 10
	PSFov          PlayerBits = 1 << 11
	PSWeaponIndex  PlayerBits = 1 << 12
	PSWeaponFrame  PlayerBits = 1 << 13
	PSRdFlags      PlayerBits = 1 << 14
)

func playerDeltaBits(ops, ps *PlayerState) PlayerBits {
	var bits PlayerBits
	if ps.Pmove.PmType != ops.Pmove.PmType {
		bits |= PSMType
	}
	if ps.Pmove.Origin != ops.Pmove.Origin {
		bits |= PSMOrigin
	}
	if ps.Pmove.Velocity != ops.Pmove.Velocity {
		bits |= PSMVelocity
	}
	if ps.Pmove.PmTime != ops.Pmove.PmTime {
		bits |= PSMTime
	}
	if ps.Pmove.PmFlags != ops.Pmove.PmFlags {
		bits |= PSMFlags
	}
	if ps.Pmove.Gravity != ops.Pmove.Gravity {
		bits |= PSMGravity
	}
	if ps.Pmove.DeltaAngles != ops.Pmove.DeltaAngles {
		bits |= PSMDeltaAngles
	}
	if ps.ViewOffset != ops.ViewOffset {
		bits |= PSViewOffset
	}
	if ps.ViewAngles != ops.ViewAngles {
		bits |= PSViewAngles
	}
	if ps.KickAngles != ops.KickAngles {
		bits |= PSKickAngles
	}
	if ps.Blend != ops.Blend {
		bits |= PSBlend
	}
	if ps.Fov != ops.Fov {
		bits |= PSFov
	}
	if ps.RdFlags != ops.RdFlags {
		bits |= PSRdFlags
	}
	if ps.GunFrame != ops.GunFrame {
		bits |= PSWeaponFrame
	}
	// The gun index is cheap and lets a client that lost its view weapon
	// recover on the next frame.
	bits |= PSWeaponIndex
	return bits
}

// WriteDeltaPlayerState writes an svc_playerinfo for ps. A nil from encodes
// against a zero state.
func (m *Message) WriteDeltaPlayerState(from, ps *PlayerState) {
	var zero PlayerState
	if from == nil {
		from = &zero
	}
	bits := playerDeltaBits(from, ps)

	m.WriteUint8(uint8(SvcPlayerInfo))
	m.WriteUint16(uint16(bits))

	pm := &ps.Pmove
	if bits&PSMType != 0 {
		m.WriteUint8(uint8(pm.PmType))
	}
	if bits&PSMOrigin != 0 {
		m.writeShorts(pm.Origin)
	}
	if bits&PSMVelocity != 0 {
		m.writeShorts(pm.Velocity)
	}
	if bits&PSMTime != 0 {
		m.WriteUint8(pm.PmTime)
	}
	if bits&PSMFlags != 0 {
		m.WriteUint8(uint8(pm.PmFlags))
	}
	if bits&PSMGravity != 0 {
		m.WriteInt16(pm.Gravity)
	}
	if bits&PSMDeltaAngles != 0 {
		m.writeShorts(pm.DeltaAngles)
	}

	if bits&PSViewOffset != 0 {
		m.writeQuarters(ps.ViewOffset)
	}
	if bits&PSViewAngles != 0 {
		m.WriteAngle16(ps.ViewAngles[0])
		m.WriteAngle16(ps.ViewAngles[1])
		m.WriteAngle16(ps.ViewAngles[2])
	}
	if bits&PSKickAngles != 0 {
		m.writeQuarters(ps.KickAngles)
	}
	if bits&PSWeaponIndex != 0 {
		m.WriteUint8(ps.GunIndex)
	}
	if bits&PSWeaponFrame != 0 {
		m.WriteUint8(ps.GunFrame)
		m.writeQuarters(ps.GunOffset)
		m.writeQuarters(ps.GunAngles)
	}
	if bits&PSBlend != 0 {
		for _, c := range ps.Blend {
			m.WriteUint8(uint8(c * 255))
		}
	}
	if bits&PSFov != 0 {
		m.WriteUint8(uint8(ps.Fov))
	}
	if bits&PSRdFlags != 0 {
		m.WriteUint8(ps.RdFlags)
	}

	var statBits uint32
	for i := range ps.Stats {
		if ps.Stats[i] != from.Stats[i] {
			statBits |= 1 << i
		}
	}
	m.WriteUint32(statBits)
	for i := range ps.Stats {
		if statBits&(1<<i) != 0 {
			m.WriteInt16(ps.Stats[i])
		}
	}
}

// ReadDeltaPlayerState reads the body following an svc_playerinfo op on top
// of from. A nil from decodes against a zero state.
func (m *Message) ReadDeltaPlayerState(from *PlayerState) PlayerState {
	var ps PlayerState
	if from != nil {
		ps = *from
	}
	bits := PlayerBits(m.ReadUint16())

	pm := &ps.Pmove
	if bits&PSMType != 0 {
		pm.PmType = PmType(m.ReadUint8())
		if pm.PmType > PmFreeze {
			pm.PmType = PmNormal
		}
	}
	if bits&PSMOrigin != 0 {
		pm.Origin = m.readShorts()
	}
	if bits&PSMVelocity != 0 {
		pm.Velocity = m.readShorts()
	}
	if bits&PSMTime != 0 {
		pm.PmTime = m.ReadUint8()
	}
	if bits&PSMFlags != 0 {
		pm.PmFlags = PmFlags(m.ReadUint8())
	}
	if bits&PSMGravity != 0 {
		pm.Gravity = m.ReadInt16()
	}
	if bits&PSMDeltaAngles != 0 {
		pm.DeltaAngles = m.readShorts()
	}

	if bits&PSViewOffset != 0 {
		ps.ViewOffset = m.readQuarters()
	}
	if bits&PSViewAngles != 0 {
		ps.ViewAngles = Vec3{m.ReadAngle16(), m.ReadAngle16(), m.ReadAngle16()}
	}
	if bits&PSKickAngles != 0 {
		ps.KickAngles = m.readQuarters()
	}
	if bits&PSWeaponIndex != 0 {
		ps.GunIndex = m.ReadUint8()
	}
	if bits&PSWeaponFrame != 0 {
		ps.GunFrame = m.ReadUint8()
		ps.GunOffset = m.readQuarters()
		ps.GunAngles = m.readQuarters()
	}
	if bits&PSBlend != 0 {
		for i := range ps.Blend {
			ps.Blend[i] = float32(m.ReadUint8()) / 255
		}
	}
	if bits&PSFov != 0 {
		ps.Fov = float32(m.ReadUint8())
	}
	if bits&PSRdFlags != 0 {
		ps.RdFlags = m.ReadUint8()
	}

	statBits := m.ReadUint32()
	for i := range ps.Stats {
		if statBits&(1<<i) != 0 {
			ps.Stats[i] = m.ReadInt16()
		}
	}
	return ps
}

func (m *Message) writeShorts(v [3]int16) {
	m.WriteInt16(v[0])
	m.WriteInt16(v[1])
	m.WriteInt16(v[2])
}

func (m *Message) readShorts() [3]int16 {
	return [3]int16{m.ReadInt16(), m.ReadInt16(), m.ReadInt16()}
}

// writeQuarters writes a vector as signed bytes at 1/4 unit precision.
func (m *Message) writeQuarters(v Vec3) {
	m.WriteInt8(int8(int32(v[0] * 4)))
	m.WriteInt8(int8(int32(v[1] * 4)))
	m.WriteInt8(int8(int32(v[2] * 4)))
}

func (m *Message) readQuarters() Vec3 {
	return Vec3{
		float32(m.ReadInt8()) * 0.25,
		float32(m.ReadInt8()) * 0.25,
		float32(m.ReadInt8()) * 0.25,
	}
}
