package netchan

import (
	"encoding/binary"
	"fmt"
)

// oobMarker is the first word of every connectionless packet. No sequenced
// packet can carry it because sequences are 31 bits.
const oobMarker = 0xffffffff

// IsOutOfBand reports whether packet is a connectionless packet.
func IsOutOfBand(packet []byte) bool {
	return len(packet) >= 4 && binary.LittleEndian.Uint32(packet) == oobMarker
}

// OutOfBand builds a connectionless packet carrying data.
func OutOfBand(data []byte) []byte {
	pkt := make([]byte, 4, 4+len(data))
	binary.LittleEndian.PutUint32(pkt, oobMarker)
	return append(pkt, data...)
}

// OutOfBandPrint builds a connectionless text packet.
func OutOfBandPrint(format string, args ...any) []byte {
	return OutOfBand([]byte(fmt.Sprintf(format, args...)))
}

// OutOfBandData returns the payload of a connectionless packet.
func OutOfBandData(packet []byte) ([]byte, bool) {
	if !IsOutOfBand(packet) {
		return nil, false
	}
	return packet[4:], true
}

// SendOutOfBand writes a connectionless packet to a peer with no channel.
func SendOutOfBand(w PacketWriter, to Addr, data []byte) error {
	return w.WritePacket(OutOfBand(data), to)
}
