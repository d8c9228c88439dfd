package protocol

// EntityState is the networked portion of an entity.
type EntityState struct {
	Number      uint16
	Origin      Vec3
	Angles      Vec3
	OldOrigin   Vec3 // Used for lerping and beam endpoints
	ModelIndex  uint8
	ModelIndex2 uint8
	ModelIndex3 uint8
	ModelIndex4 uint8
	Frame       uint16
	SkinNum     uint32
	Effects     uint32
	RenderFx    uint32
	Solid       int16 // Packed bounding box for client-side collision
	Sound       uint8 // Looping sound index
	Event       uint8 // One-shot, cleared on every frame that does not carry it
}

// Equal reports whether two states carry the same field values.
func (e *EntityState) Equal(o *EntityState) bool {
	return *e == *o
}

// Entity events that must not be interpolated across.
const (
	EventNone           uint8 = 0
	EventItemRespawn    uint8 = 1
	EventFootstep       uint8 = 2
	EventFallShort      uint8 = 3
	EventFall           uint8 = 4
	EventFallFar        uint8 = 5
	EventPlayerTeleport uint8 = 6
	EventOtherTeleport  uint8 = 7
)

// RenderFxBeam marks entities whose OldOrigin is the beam end point and must
// always be sent.
const RenderFxBeam uint32 = 128

// EntityBits selects which EntityState fields follow in a delta.
//
// The mask is sent little-endian in 1 to 4 bytes. The top bit of each byte
// says whether another byte follows.
type EntityBits uint32

const (
	UOrigin1   EntityBits = 1 << 0
	UOrigin2   EntityBits = 1 << 1
	UAngle2    EntityBits = 1 << 2
	UAngle3    EntityBits = 1 << 3
	UFrame8    EntityBits = 1 << 4
	UEvent     EntityBits = 1 << 5
	URemove    EntityBits = 1 << 6
	UMoreBits1 EntityBits = 1 << 7

	UNumber16  EntityBits = 1 << 8
	UOrigin3   EntityBits = 1 << 9
	UAngle1    EntityBits = 1 << 10
	UModel     EntityBits = 1 << 11
	URenderFx8 EntityBits = 1 << 12
	UEffects8  EntityBits = 1 << 14
	UMoreBits2 EntityBits = 1 << 15

	USkin8      EntityBits = 1 << 16
	UFrame16    EntityBits = 1 << 17
	URenderFx16 EntityBits = 1 << 18
	UEffects16  EntityBits = 1 << 19
	UModel2     EntityBits = 1 << 20
	UModel3     EntityBits = 1 << 21
	UModel4     EntityBits = 1 << 22
	UMoreBits3  EntityBits = 1 << 23

	UOldOrigin EntityBits = 1 << 24
	USkin16    EntityBits = 1 << 25
	USound     EntityBits = 1 << 26
	USolid     EntityBits = 1 << 27
)

// Has returns true if the bits contain flag.
func (b EntityBits) Has(flag EntityBits) bool {
	return b&flag != 0
}

// entityDeltaBits computes the field mask for a from→to delta, without the
// morebits and number flags.
func entityDeltaBits(from, to *EntityState, newEntity bool) EntityBits {
	var bits EntityBits

	if CoordToShort(to.Origin[0]) != CoordToShort(from.Origin[0]) {
		bits |= UOrigin1
	}
	if CoordToShort(to.Origin[1]) != CoordToShort(from.Origin[1]) {
		bits |= UOrigin2
	}
	if CoordToShort(to.Origin[2]) != CoordToShort(from.Origin[2]) {
		bits |= UOrigin3
	}

	if to.Angles[0] != from.Angles[0] {
		bits |= UAngle1
	}
	if to.Angles[1] != from.Angles[1] {
		bits |= UAngle2
	}
	if to.Angles[2] != from.Angles[2] {
		bits |= UAngle3
	}

	if to.SkinNum != from.SkinNum {
		switch {
		case to.SkinNum < 256:
			bits |= USkin8
		case to.SkinNum < 0x10000:
			bits |= USkin16
		default:
			bits |= USkin8 | USkin16
		}
	}

	if to.Frame != from.Frame {
		if to.Frame < 256 {
			bits |= UFrame8
		} else {
			bits |= UFrame16
		}
	}

	if to.Effects != from.Effects {
		bits |= widthBits(to.Effects, UEffects8, UEffects16)
	}
	if to.RenderFx != from.RenderFx {
		bits |= widthBits(to.RenderFx, URenderFx8, URenderFx16)
	}

	if to.Solid != from.Solid {
		bits |= USolid
	}
	if to.Event != 0 {
		bits |= UEvent
	}
	if to.ModelIndex != from.ModelIndex {
		bits |= UModel
	}
	if to.ModelIndex2 != from.ModelIndex2 {
		bits |= UModel2
	}
	if to.ModelIndex3 != from.ModelIndex3 {
		bits |= UModel3
	}
	if to.ModelIndex4 != from.ModelIndex4 {
		bits |= UModel4
	}
	if to.Sound != from.Sound {
		bits |= USound
	}

	if newEntity || to.RenderFx&RenderFxBeam != 0 {
		bits |= UOldOrigin
	}
	return bits
}

// widthBits picks the 8, 16 or 32 bit encoding for an effects-style field.
// The 16-bit form is limited to values below 0x8000.
func widthBits(v uint32, b8, b16 EntityBits) EntityBits {
	switch {
	case v < 256:
		return b8
	case v < 0x8000:
		return b16
	default:
		return b8 | b16
	}
}

// writeEntityBits writes the progressive mask bytes and the entity number.
func (m *Message) writeEntityBits(bits EntityBits, number uint16) {
	if number >= 256 {
		bits |= UNumber16
	}
	switch {
	case bits&0xff000000 != 0:
		bits |= UMoreBits3 | UMoreBits2 | UMoreBits1
	case bits&0x00ff0000 != 0:
		bits |= UMoreBits2 | UMoreBits1
	case bits&0x0000ff00 != 0:
		bits |= UMoreBits1
	}

	m.WriteUint8(uint8(bits))
	if bits&UMoreBits1 != 0 {
		m.WriteUint8(uint8(bits >> 8))
	}
	if bits&UMoreBits2 != 0 {
		m.WriteUint8(uint8(bits >> 16))
	}
	if bits&UMoreBits3 != 0 {
		m.WriteUint8(uint8(bits >> 24))
	}

	if bits&UNumber16 != 0 {
		m.WriteUint16(number)
	} else {
		m.WriteUint8(uint8(number))
	}
}

// WriteDeltaEntity writes to as a difference from from.
//
// Nothing is written when no field changed, unless force is set. newEntity
// forces OldOrigin onto the wire so the client has a lerp start point for an
// entity it has not seen before.
func (m *Message) WriteDeltaEntity(from, to *EntityState, force, newEntity bool) {
	bits := entityDeltaBits(from, to, newEntity)
	if bits == 0 && !force {
		return
	}
	m.writeEntityBits(bits, to.Number)

	if bits&UModel != 0 {
		m.WriteUint8(to.ModelIndex)
	}
	if bits&UModel2 != 0 {
		m.WriteUint8(to.ModelIndex2)
	}
	if bits&UModel3 != 0 {
		m.WriteUint8(to.ModelIndex3)
	}
	if bits&UModel4 != 0 {
		m.WriteUint8(to.ModelIndex4)
	}

	if bits&UFrame8 != 0 {
		m.WriteUint8(uint8(to.Frame))
	}
	if bits&UFrame16 != 0 {
		m.WriteUint16(to.Frame)
	}

	m.writeWidth(to.SkinNum, bits, USkin8, USkin16)
	m.writeWidth(to.Effects, bits, UEffects8, UEffects16)
	m.writeWidth(to.RenderFx, bits, URenderFx8, URenderFx16)

	if bits&UOrigin1 != 0 {
		m.WriteCoord(to.Origin[0])
	}
	if bits&UOrigin2 != 0 {
		m.WriteCoord(to.Origin[1])
	}
	if bits&UOrigin3 != 0 {
		m.WriteCoord(to.Origin[2])
	}

	if bits&UAngle1 != 0 {
		m.WriteAngle(to.Angles[0])
	}
	if bits&UAngle2 != 0 {
		m.WriteAngle(to.Angles[1])
	}
	if bits&UAngle3 != 0 {
		m.WriteAngle(to.Angles[2])
	}

	if bits&UOldOrigin != 0 {
		m.WritePos(to.OldOrigin)
	}
	if bits&USound != 0 {
		m.WriteUint8(to.Sound)
	}
	if bits&UEvent != 0 {
		m.WriteUint8(to.Event)
	}
	if bits&USolid != 0 {
		m.WriteInt16(to.Solid)
	}
}

func (m *Message) writeWidth(v uint32, bits, b8, b16 EntityBits) {
	switch {
	case bits&b8 != 0 && bits&b16 != 0:
		m.WriteUint32(v)
	case bits&b8 != 0:
		m.WriteUint8(uint8(v))
	case bits&b16 != 0:
		m.WriteUint16(uint16(v))
	}
}

func (m *Message) readWidth(cur uint32, bits, b8, b16 EntityBits) uint32 {
	switch {
	case bits&b8 != 0 && bits&b16 != 0:
		return m.ReadUint32()
	case bits&b8 != 0:
		return uint32(m.ReadUint8())
	case bits&b16 != 0:
		return uint32(m.ReadUint16())
	}
	return cur
}

// WriteRemove writes a removal record for an entity number.
func (m *Message) WriteRemove(number uint16) {
	m.writeEntityBits(URemove, number)
}

// WriteEntitiesEnd terminates an svc_packetentities list.
func (m *Message) WriteEntitiesEnd() {
	m.WriteUint16(0)
}

// ReadEntityBits reads the mask and entity number that open a delta record.
// A zero number with no bits marks the end of the entity list.
func (m *Message) ReadEntityBits() (uint16, EntityBits) {
	bits := EntityBits(m.ReadUint8())
	if bits&UMoreBits1 != 0 {
		bits |= EntityBits(m.ReadUint8()) << 8
	}
	if bits&UMoreBits2 != 0 {
		bits |= EntityBits(m.ReadUint8()) << 16
	}
	if bits&UMoreBits3 != 0 {
		bits |= EntityBits(m.ReadUint8()) << 24
	}

	var number uint16
	if bits&UNumber16 != 0 {
		number = m.ReadUint16()
	} else {
		number = uint16(m.ReadUint8())
	}
	return number, bits
}

// ReadDeltaEntity applies the fields selected by bits on top of from.
// OldOrigin defaults to from's origin, which is where the entity was last seen.
func (m *Message) ReadDeltaEntity(from *EntityState, number uint16, bits EntityBits) EntityState {
	to := *from
	to.OldOrigin = from.Origin
	to.Number = number

	if bits&UModel != 0 {
		to.ModelIndex = m.ReadUint8()
	}
	if bits&UModel2 != 0 {
		to.ModelIndex2 = m.ReadUint8()
	}
	if bits&UModel3 != 0 {
		to.ModelIndex3 = m.ReadUint8()
	}
	if bits&UModel4 != 0 {
		to.ModelIndex4 = m.ReadUint8()
	}

	if bits&UFrame8 != 0 {
		to.Frame = uint16(m.ReadUint8())
	}
	if bits&UFrame16 != 0 {
		to.Frame = m.ReadUint16()
	}

	to.SkinNum = m.readWidth(to.SkinNum, bits, USkin8, USkin16)
	to.Effects = m.readWidth(to.Effects, bits, UEffects8, UEffects16)
	to.RenderFx = m.readWidth(to.RenderFx, bits, URenderFx8, URenderFx16)

	if bits&UOrigin1 != 0 {
		to.Origin[0] = m.ReadCoord()
	}
	if bits&UOrigin2 != 0 {
		to.Origin[1] = m.ReadCoord()
	}
	if bits&UOrigin3 != 0 {
		to.Origin[2] = m.ReadCoord()
	}

	if bits&UAngle1 != 0 {
		to.Angles[0] = m.ReadAngle()
	}
	if bits&UAngle2 != 0 {
		to.Angles[1] = m.ReadAngle()
	}
	if bits&UAngle3 != 0 {
		to.Angles[2] = m.ReadAngle()
	}

	if bits&UOldOrigin != 0 {
		to.OldOrigin = m.ReadPos()
	}
	if bits&USound != 0 {
		to.Sound = m.ReadUint8()
	}
	if bits&UEvent != 0 {
		to.Event = m.ReadUint8()
	} else {
		to.Event = 0
	}
	if bits&USolid != 0 {
		to.Solid = m.ReadInt16()
	}
	return to
}
