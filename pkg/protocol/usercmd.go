package protocol

// Vec3 is a world-space vector.
type Vec3 [3]float32

// UserCmd is one input sample. Angles are absolute view angles in 16-bit
// binary angle units; movement intents are in units per second.
type UserCmd struct {
	Msec       uint8
	Buttons    uint8
	Angles     [3]int16
	Forward    int16
	Side       int16
	Up         int16
	Impulse    uint8
	LightLevel uint8
}

// Button bits in UserCmd.Buttons.
const (
	ButtonAttack uint8 = 1 << 0
	ButtonUse    uint8 = 1 << 1
	ButtonAny    uint8 = 1 << 7
)

// UserCmd delta bits.
const (
	cmAngle1  = 1 << 0
	cmAngle2  = 1 << 1
	cmAngle3  = 1 << 2
	cmForward = 1 << 3
	cmSide    = 1 << 4
	cmUp      = 1 << 5
	cmButtons = 1 << 6
	cmImpulse = 1 << 7
)

// WriteDeltaUserCmd writes to as a difference from from. Msec and LightLevel
// are always present.
func (m *Message) WriteDeltaUserCmd(from, to *UserCmd) {
	var bits uint8
	if to.Angles[0] != from.Angles[0] {
		bits |= cmAngle1
	}
	if to.Angles[1] != from.Angles[1] {
		bits |= cmAngle2
	}
	if to.Angles[2] != from.Angles[2] {
		bits |= cmAngle3
	}
	if to.Forward != from.Forward {
		bits |= cmForward
	}
	if to.Side != from.Side {
		bits |= cmSide
	}
	if to.Up != from.Up {
		bits |= cmUp
	}
	if to.Buttons != from.Buttons {
		bits |= cmButtons
	}
	if to.Impulse != from.Impulse {
		bits |= cmImpulse
	}

	m.WriteUint8(bits)
	if bits&cmAngle1 != 0 {
		m.WriteInt16(to.Angles[0])
	}
	if bits&cmAngle2 != 0 {
		m.WriteInt16(to.Angles[1])
	}
	if bits&cmAngle3 != 0 {
		m.WriteInt16(to.Angles[2])
	}
	if bits&cmForward != 0 {
		m.WriteInt16(to.Forward)
	}
	if bits&cmSide != 0 {
		m.WriteInt16(to.Side)
	}
	if bits&cmUp != 0 {
		m.WriteInt16(to.Up)
	}
	if bits&cmButtons != 0 {
		m.WriteUint8(to.Buttons)
	}
	if bits&cmImpulse != 0 {
		m.WriteUint8(to.Impulse)
	}
	m.WriteUint8(to.Msec)
	m.WriteUint8(to.LightLevel)
}

// ReadDeltaUserCmd reads a command written by WriteDeltaUserCmd against the
// same from.
func (m *Message) ReadDeltaUserCmd(from *UserCmd) UserCmd {
	to := *from
	bits := m.ReadUint8()
	if bits&cmAngle1 != 0 {
		to.Angles[0] = m.ReadInt16()
	}
	if bits&cmAngle2 != 0 {
		to.Angles[1] = m.ReadInt16()
	}
	if bits&cmAngle3 != 0 {
		to.Angles[2] = m.ReadInt16()
	}
	if bits&cmForward != 0 {
		to.Forward = m.ReadInt16()
	}
	if bits&cmSide != 0 {
		to.Side = m.ReadInt16()
	}
	if bits&cmUp != 0 {
		to.Up = m.ReadInt16()
	}
	if bits&cmButtons != 0 {
		to.Buttons = m.ReadUint8()
	}
	if bits&cmImpulse != 0 {
		to.Impulse = m.ReadUint8()
	}
	to.Msec = m.ReadUint8()
	to.LightLevel = m.ReadUint8()
	return to
}
