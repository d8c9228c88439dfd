package protocol

// WriteZPacket writes an SvcZPacket carrying deflated, the compressed form
// of size bytes of server ops.
//
// Wire format (after the SvcZPacket byte):
//
//	┌──────────────┬──────────────┬──────────────────┐
//	│ Compressed   │ Inflated     │ Deflate stream   │
//	│ (uint16)     │ (uint16)     │                  │
//	└──────────────┴──────────────┴──────────────────┘
func (m *Message) WriteZPacket(deflated []byte, size int) {
	m.WriteUint8(uint8(SvcZPacket))
	m.WriteUint16(uint16(len(deflated)))
	m.WriteUint16(uint16(size))
	m.WriteData(deflated)
}

// ReadZPacket reads the body following an SvcZPacket op. It returns the
// deflated bytes and the declared inflated size, or ok false when the
// header is truncated or the size exceeds MaxZPacketLen.
func (m *Message) ReadZPacket() (deflated []byte, size int, ok bool) {
	inLen := int(m.ReadUint16())
	outLen := int(m.ReadUint16())
	data := m.ReadData(inLen)
	if m.Overflowed() || outLen > MaxZPacketLen || outLen == 0 {
		return nil, 0, false
	}
	return data, outLen, true
}
