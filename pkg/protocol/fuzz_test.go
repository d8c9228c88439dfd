package protocol

import (
	"testing"
)

// FuzzReadDeltaEntity tests that decoding arbitrary bytes doesn't panic.
func FuzzReadDeltaEntity(f *testing.F) {
	var zero EntityState
	to := EntityState{Number: 300, Origin: Vec3{1, 2, 3}, ModelIndex: 4, Effects: 0x10000}
	m := NewMessage(MaxMessageLen)
	m.WriteDeltaEntity(&zero, &to, true, true)
	f.Add(m.Bytes())
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Should not panic
		r := NewReader(data)
		num, bits := r.ReadEntityBits()
		_ = r.ReadDeltaEntity(&zero, num, bits)
	})
}

// FuzzReadDeltaPlayerState tests that decoding arbitrary bytes doesn't panic.
func FuzzReadDeltaPlayerState(f *testing.F) {
	ps := samplePlayerState()
	m := NewMessage(MaxMessageLen)
	m.WriteDeltaPlayerState(nil, &ps)
	f.Add(m.Bytes()[1:])
	f.Add([]byte{0xFF, 0x7F})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Should not panic
		_ = NewReader(data).ReadDeltaPlayerState(nil)
	})
}

// FuzzReadMove tests that decoding arbitrary bytes doesn't panic.
func FuzzReadMove(f *testing.F) {
	mv := MoveCommand{LastFrame: 1, CommandSeq: 2}
	m := NewMessage(MaxMessageLen)
	m.WriteMove(&mv)
	f.Add(m.Bytes()[1:])

	f.Fuzz(func(t *testing.T, data []byte) {
		// Should not panic
		_ = NewReader(data).ReadMove()
	})
}

// FuzzReadString tests that decoding arbitrary bytes doesn't panic.
func FuzzReadString(f *testing.F) {
	f.Add([]byte("hello\x00"))
	f.Add([]byte("no terminator"))

	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewReader(data)
		s := r.ReadString()
		if len(s) > MaxStringChars {
			t.Errorf("ReadString() returned %d bytes", len(s))
		}
	})
}
