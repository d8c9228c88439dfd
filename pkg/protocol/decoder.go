package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// Common decoding errors.
var (
	ErrMalformed  = errors.New("protocol: malformed message")
	ErrBadCommand = errors.New("protocol: unexpected command byte")
	ErrBadEntity  = errors.New("protocol: entity number out of range")
)

// BeginReading rewinds the read cursor to the start of the message.
func (m *Message) BeginReading() {
	m.readPos = 0
}

// ReadCount returns the current read position.
func (m *Message) ReadCount() int {
	return m.readPos
}

// Remaining returns the number of unread bytes.
func (m *Message) Remaining() int {
	if m.readPos >= len(m.buf) {
		return 0
	}
	return len(m.buf) - m.readPos
}

// take advances the read cursor by n and returns the consumed bytes, or nil
// after marking the message overflowed.
func (m *Message) take(n int) []byte {
	if m.overflowed || m.readPos+n > len(m.buf) {
		m.overflowed = true
		m.readPos = len(m.buf)
		return nil
	}
	b := m.buf[m.readPos : m.readPos+n]
	m.readPos += n
	return b
}

// ReadUint8 reads an unsigned byte.
func (m *Message) ReadUint8() uint8 {
	b := m.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadInt8 reads a signed byte.
func (m *Message) ReadInt8() int8 {
	return int8(m.ReadUint8())
}

// ReadInt16 reads a little-endian short.
func (m *Message) ReadInt16() int16 {
	return int16(m.ReadUint16())
}

// ReadUint16 reads a little-endian unsigned short.
func (m *Message) ReadUint16() uint16 {
	b := m.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadInt32 reads a little-endian long.
func (m *Message) ReadInt32() int32 {
	return int32(m.ReadUint32())
}

// ReadUint32 reads a little-endian unsigned long.
func (m *Message) ReadUint32() uint32 {
	b := m.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadFloat32 reads a little-endian IEEE-754 float.
func (m *Message) ReadFloat32() float32 {
	return math.Float32frombits(m.ReadUint32())
}

// ReadData reads exactly n bytes. The returned slice aliases the message.
func (m *Message) ReadData(n int) []byte {
	if n < 0 {
		m.overflowed = true
		return nil
	}
	return m.take(n)
}

// ReadLenData reads a short length followed by that many bytes.
func (m *Message) ReadLenData() []byte {
	n := int(m.ReadUint16())
	return m.ReadData(n)
}

// ReadString reads a NUL-terminated string. A missing terminator at the end of
// the buffer marks the message overflowed.
func (m *Message) ReadString() string {
	if m.overflowed {
		return ""
	}
	start := m.readPos
	for i := start; i < len(m.buf); i++ {
		if m.buf[i] == 0 {
			m.readPos = i + 1
			if i-start > MaxStringChars {
				return string(m.buf[start : start+MaxStringChars])
			}
			return string(m.buf[start:i])
		}
	}
	m.overflowed = true
	m.readPos = len(m.buf)
	return ""
}

// ReadCoord reads a 12.3 fixed point coordinate.
func (m *Message) ReadCoord() float32 {
	return ShortToCoord(m.ReadInt16())
}

// ReadPos reads three coordinates.
func (m *Message) ReadPos() Vec3 {
	return Vec3{m.ReadCoord(), m.ReadCoord(), m.ReadCoord()}
}

// ReadAngle reads an 8-bit angle in degrees, in the range [-180, 180).
func (m *Message) ReadAngle() float32 {
	return float32(m.ReadInt8()) * (360.0 / 256)
}

// ReadAngle16 reads a 16-bit angle in degrees, in the range [-180, 180).
func (m *Message) ReadAngle16() float32 {
	return ShortToAngle(m.ReadInt16())
}
