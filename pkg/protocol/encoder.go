package protocol

import (
	"encoding/binary"
	"math"
)

// Message is a bounded byte buffer with a write cursor, a read cursor and a
// sticky overflow flag. It is used for both directions: the server and client
// write into a Message and the receiving side reads from one.
//
// Once a write or read would exceed the buffer, Overflowed reports true for the
// rest of the Message's life. Writes on an overflowed Message are dropped and
// reads return zero values, so a parse loop can run to completion and check
// Overflowed once at the end.
type Message struct {
	buf        []byte
	readPos    int
	maxSize    int
	overflowed bool
}

// NewMessage creates an empty Message that holds at most maxSize bytes.
func NewMessage(maxSize int) *Message {
	if maxSize <= 0 {
		maxSize = MaxMessageLen
	}
	return &Message{
		buf:     make([]byte, 0, min(maxSize, 256)),
		maxSize: maxSize,
	}
}

// NewReader wraps received bytes for reading. The slice is not copied.
func NewReader(data []byte) *Message {
	return &Message{
		buf:     data,
		maxSize: len(data),
	}
}

// Reset clears the message, reusing the underlying buffer.
func (m *Message) Reset() {
	m.buf = m.buf[:0]
	m.readPos = 0
	m.overflowed = false
}

// Bytes returns the written bytes. The slice is valid until the next write.
func (m *Message) Bytes() []byte {
	return m.buf
}

// Len returns the number of bytes currently in the message.
func (m *Message) Len() int {
	return len(m.buf)
}

// MaxSize returns the message capacity.
func (m *Message) MaxSize() int {
	return m.maxSize
}

// Space returns how many more bytes can be written.
func (m *Message) Space() int {
	return m.maxSize - len(m.buf)
}

// Overflowed reports whether any write or read ran past the buffer.
func (m *Message) Overflowed() bool {
	return m.overflowed
}

// grow reserves n bytes and returns the slice to fill, or nil on overflow.
func (m *Message) grow(n int) []byte {
	if m.overflowed {
		return nil
	}
	if len(m.buf)+n > m.maxSize {
		m.overflowed = true
		return nil
	}
	start := len(m.buf)
	m.buf = append(m.buf, make([]byte, n)...)
	return m.buf[start:]
}

// WriteUint8 appends an unsigned byte.
func (m *Message) WriteUint8(v uint8) {
	if b := m.grow(1); b != nil {
		b[0] = v
	}
}

// WriteInt8 appends a signed byte ("char").
func (m *Message) WriteInt8(v int8) {
	m.WriteUint8(uint8(v))
}

// WriteInt16 appends a little-endian short.
func (m *Message) WriteInt16(v int16) {
	if b := m.grow(2); b != nil {
		binary.LittleEndian.PutUint16(b, uint16(v))
	}
}

// WriteUint16 appends a little-endian unsigned short.
func (m *Message) WriteUint16(v uint16) {
	if b := m.grow(2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

// WriteInt32 appends a little-endian long.
func (m *Message) WriteInt32(v int32) {
	if b := m.grow(4); b != nil {
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}

// WriteUint32 appends a little-endian unsigned long.
func (m *Message) WriteUint32(v uint32) {
	if b := m.grow(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

// WriteFloat32 appends an IEEE-754 float in little-endian order.
func (m *Message) WriteFloat32(f float32) {
	m.WriteUint32(math.Float32bits(f))
}

// WriteData appends raw bytes. The write is all-or-nothing.
func (m *Message) WriteData(data []byte) {
	if b := m.grow(len(data)); b != nil {
		copy(b, data)
	}
}

// WriteLenData appends a short length followed by the bytes.
func (m *Message) WriteLenData(data []byte) {
	if len(data) > math.MaxUint16 {
		m.overflowed = true
		return
	}
	m.WriteUint16(uint16(len(data)))
	m.WriteData(data)
}

// WriteString appends s followed by a NUL terminator.
func (m *Message) WriteString(s string) {
	if b := m.grow(len(s) + 1); b != nil {
		copy(b, s)
		b[len(s)] = 0
	}
}

// WriteCoord appends a world coordinate at 1/8 unit precision.
func (m *Message) WriteCoord(f float32) {
	m.WriteInt16(CoordToShort(f))
}

// WritePos appends three coordinates.
func (m *Message) WritePos(v Vec3) {
	m.WriteCoord(v[0])
	m.WriteCoord(v[1])
	m.WriteCoord(v[2])
}

// WriteAngle appends an angle in degrees quantized to 1/256 of a turn.
func (m *Message) WriteAngle(f float32) {
	m.WriteUint8(uint8(int32(f*256/360) & 255))
}

// WriteAngle16 appends an angle in degrees quantized to 1/65536 of a turn.
func (m *Message) WriteAngle16(f float32) {
	m.WriteUint16(uint16(AngleToShort(f)))
}

// CoordToShort converts a world coordinate to 12.3 fixed point.
func CoordToShort(f float32) int16 {
	return int16(int32(f * 8))
}

// ShortToCoord converts 12.3 fixed point back to a world coordinate.
func ShortToCoord(v int16) float32 {
	return float32(v) * (1.0 / 8)
}

// AngleToShort converts degrees to a 16-bit binary angle.
func AngleToShort(f float32) int16 {
	return int16(int32(f*65536/360) & 65535)
}

// ShortToAngle converts a 16-bit binary angle to degrees.
func ShortToAngle(v int16) float32 {
	return float32(v) * (360.0 / 65536)
}
