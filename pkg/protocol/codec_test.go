package protocol

import (
	"math"
	"testing"
)

func TestMessagePrimitives(t *testing.T) {
	m := NewMessage(MaxMessageLen)

	m.WriteUint8(0x42)
	m.WriteInt8(-7)
	m.WriteInt16(-1234)
	m.WriteUint16(0xBEEF)
	m.WriteInt32(-12345678)
	m.WriteUint32(0xDEADBEEF)
	m.WriteFloat32(3.5)
	m.WriteString("hello world")
	m.WriteLenData([]byte{0x01, 0x02, 0x03})
	m.WriteData([]byte{0xFF})

	if m.Overflowed() {
		t.Fatal("Overflowed() = true after writes that fit")
	}

	r := NewReader(m.Bytes())
	if v := r.ReadUint8(); v != 0x42 {
		t.Errorf("ReadUint8() = %x, want 0x42", v)
	}
	if v := r.ReadInt8(); v != -7 {
		t.Errorf("ReadInt8() = %d, want -7", v)
	}
	if v := r.ReadInt16(); v != -1234 {
		t.Errorf("ReadInt16() = %d, want -1234", v)
	}
	if v := r.ReadUint16(); v != 0xBEEF {
		t.Errorf("ReadUint16() = %x, want 0xBEEF", v)
	}
	if v := r.ReadInt32(); v != -12345678 {
		t.Errorf("ReadInt32() = %d, want -12345678", v)
	}
	if v := r.ReadUint32(); v != 0xDEADBEEF {
		t.Errorf("ReadUint32() = %x, want 0xDEADBEEF", v)
	}
	if v := r.ReadFloat32(); v != 3.5 {
		t.Errorf("ReadFloat32() = %v, want 3.5", v)
	}
	if v := r.ReadString(); v != "hello world" {
		t.Errorf("ReadString() = %q, want %q", v, "hello world")
	}
	if v := r.ReadLenData(); string(v) != "\x01\x02\x03" {
		t.Errorf("ReadLenData() = %v, want [1 2 3]", v)
	}
	if v := r.ReadData(1); len(v) != 1 || v[0] != 0xFF {
		t.Errorf("ReadData(1) = %v, want [255]", v)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", r.Remaining())
	}
	if r.Overflowed() {
		t.Error("Overflowed() = true after exact read")
	}
}

func TestMessageLittleEndian(t *testing.T) {
	m := NewMessage(8)
	m.WriteInt32(0x01020304)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if string(m.Bytes()) != string(want) {
		t.Errorf("Bytes() = %v, want %v", m.Bytes(), want)
	}
}

func TestMessageWriteOverflow(t *testing.T) {
	m := NewMessage(4)
	m.WriteInt32(1)
	if m.Overflowed() {
		t.Fatal("Overflowed() = true at exact capacity")
	}

	m.WriteUint8(2)
	if !m.Overflowed() {
		t.Fatal("Overflowed() = false after writing past capacity")
	}
	if m.Len() != 4 {
		t.Errorf("Len() = %d, want 4", m.Len())
	}

	// Sticky: a write that would fit is still dropped.
	m.buf = m.buf[:0]
	m.WriteUint8(3)
	if m.Len() != 0 {
		t.Errorf("Len() = %d after write on overflowed message, want 0", m.Len())
	}

	m.Reset()
	if m.Overflowed() {
		t.Error("Overflowed() = true after Reset")
	}
}

func TestMessageReadPastEnd(t *testing.T) {
	r := NewReader([]byte{0x01})

	if v := r.ReadInt16(); v != 0 {
		t.Errorf("ReadInt16() past end = %d, want 0", v)
	}
	if !r.Overflowed() {
		t.Fatal("Overflowed() = false after short read")
	}
	// The unread byte is no longer available either.
	if v := r.ReadUint8(); v != 0 {
		t.Errorf("ReadUint8() after overflow = %d, want 0", v)
	}
	if v := r.ReadString(); v != "" {
		t.Errorf("ReadString() after overflow = %q, want empty", v)
	}
	if v := r.ReadData(1); v != nil {
		t.Errorf("ReadData() after overflow = %v, want nil", v)
	}
}

func TestReadStringUnterminated(t *testing.T) {
	r := NewReader([]byte("abc"))
	if v := r.ReadString(); v != "" {
		t.Errorf("ReadString() = %q, want empty", v)
	}
	if !r.Overflowed() {
		t.Error("Overflowed() = false for unterminated string")
	}
}

func TestCoordRoundTrip(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{0, 0},
		{1, 1},
		{100.125, 100.125},
		{-3.5, -3.5},
		{4095.875, 4095.875},
		{-4096, -4096},
		{10.06, 10}, // Truncated toward zero
		{-10.06, -10},
	}

	for _, tt := range tests {
		m := NewMessage(2)
		m.WriteCoord(tt.in)
		got := NewReader(m.Bytes()).ReadCoord()
		if got != tt.want {
			t.Errorf("Coord(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if d := math.Abs(float64(got - tt.in)); d >= 1.0/8 {
			t.Errorf("Coord(%v) error %v exceeds 1/8", tt.in, d)
		}
	}
}

func TestAngleRoundTrip(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{0, 0},
		{90, 90},
		{45, 45},
		{-90, -90},
		{270, -90}, // Wraps into [-180, 180)
		{1, 0},
	}

	for _, tt := range tests {
		m := NewMessage(1)
		m.WriteAngle(tt.in)
		got := NewReader(m.Bytes()).ReadAngle()
		if got != tt.want {
			t.Errorf("Angle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAngle16Precision(t *testing.T) {
	for _, in := range []float32{0, 0.5, 33.3, 90, -45.25, 179.9} {
		m := NewMessage(2)
		m.WriteAngle16(in)
		got := NewReader(m.Bytes()).ReadAngle16()
		if d := math.Abs(float64(got - in)); d > 360.0/65536 {
			t.Errorf("Angle16(%v) = %v, error %v exceeds 1/65536 turn", in, got, d)
		}
	}
}

func TestUserCmdDelta(t *testing.T) {
	from := UserCmd{Msec: 16, Forward: 200}
	to := UserCmd{
		Msec:       12,
		Buttons:    ButtonAttack,
		Angles:     [3]int16{100, -200, 0},
		Forward:    200,
		Side:       -100,
		Up:         0,
		Impulse:    3,
		LightLevel: 64,
	}

	m := NewMessage(64)
	m.WriteDeltaUserCmd(&from, &to)
	got := NewReader(m.Bytes()).ReadDeltaUserCmd(&from)
	if got != to {
		t.Errorf("ReadDeltaUserCmd() = %+v, want %+v", got, to)
	}
}

func TestUserCmdDeltaUnchanged(t *testing.T) {
	cmd := UserCmd{Msec: 16, Forward: 400, Angles: [3]int16{1, 2, 3}}
	m := NewMessage(64)
	m.WriteDeltaUserCmd(&cmd, &cmd)
	// Bits byte, msec and light level.
	if m.Len() != 3 {
		t.Errorf("unchanged command Len() = %d, want 3", m.Len())
	}
}

func TestMoveRoundTrip(t *testing.T) {
	mv := MoveCommand{
		LastFrame:  41,
		CommandSeq: 1000,
		Cmds: [MoveCommands]UserCmd{
			{Msec: 16, Forward: 400},
			{Msec: 16, Forward: 400, Side: 200},
			{Msec: 17, Forward: 0, Buttons: ButtonAttack},
		},
	}
	m := NewMessage(MaxMessageLen)
	m.WriteMove(&mv)

	r := NewReader(m.Bytes())
	if op := ClientOp(r.ReadUint8()); op != ClcMove {
		t.Fatalf("op = %v, want %v", op, ClcMove)
	}
	got := r.ReadMove()
	if got != mv {
		t.Errorf("ReadMove() = %+v, want %+v", got, mv)
	}
	if r.Overflowed() {
		t.Error("Overflowed() = true")
	}
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	h := FrameHeader{ServerFrame: 120, DeltaFrame: -1, SuppressCount: 2, CommandAck: 77}
	m := NewMessage(32)
	m.WriteFrameHeader(h)

	r := NewReader(m.Bytes())
	if op := ServerOp(r.ReadUint8()); op != SvcFrame {
		t.Fatalf("op = %v, want %v", op, SvcFrame)
	}
	if got := r.ReadFrameHeader(); got != h {
		t.Errorf("ReadFrameHeader() = %+v, want %+v", got, h)
	}
}

func TestServerDataRoundTrip(t *testing.T) {
	sd := ServerData{Protocol: ProtocolVersion, ServerCount: 3, PlayerNum: 4, TickRate: 10, LevelName: "q2dm1"}
	m := NewMessage(64)
	m.WriteServerData(sd)

	r := NewReader(m.Bytes())
	r.ReadUint8()
	if got := r.ReadServerData(); got != sd {
		t.Errorf("ReadServerData() = %+v, want %+v", got, sd)
	}
}

func TestConfigString(t *testing.T) {
	m := NewMessage(64)
	m.WriteConfigString(CsPlayers+3, "alice")
	m.WriteConfigString(MaxConfigStrings, "bad")

	r := NewReader(m.Bytes())
	if op := ServerOp(r.ReadUint8()); op != SvcConfigString {
		t.Fatalf("op = %s, want configstring", op)
	}
	if i, v := r.ReadConfigString(); i != CsPlayers+3 || v != "alice" {
		t.Errorf("ReadConfigString() = %d %q, want %d alice", i, v, CsPlayers+3)
	}
	if r.Overflowed() {
		t.Fatalf("Overflowed() after a valid configstring")
	}
	r.ReadUint8()
	r.ReadConfigString()
	if !r.Overflowed() {
		t.Errorf("Overflowed() = false for index %d", MaxConfigStrings)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantVerb string
		wantArgs int
	}{
		{"getchallenge\n", "getchallenge", 0},
		{"connect 36 1234 99 \"\\name\\bot\"", "connect", 4},
		{"", "", 0},
		{"   ", "", 0},
	}

	for _, tt := range tests {
		verb, args := SplitCommand(tt.in)
		if verb != tt.wantVerb || len(args) != tt.wantArgs {
			t.Errorf("SplitCommand(%q) = %q, %d args; want %q, %d args", tt.in, verb, len(args), tt.wantVerb, tt.wantArgs)
		}
	}
}

func TestOpStrings(t *testing.T) {
	if SvcZPacket.String() != "zpacket" {
		t.Errorf("SvcZPacket.String() = %q", SvcZPacket.String())
	}
	if ClcStringCmd.String() != "stringcmd" {
		t.Errorf("ClcStringCmd.String() = %q", ClcStringCmd.String())
	}
	if ServerOp(0xEE).String() != "unknown" {
		t.Errorf("unknown ServerOp String() = %q", ServerOp(0xEE).String())
	}
}

func TestZPacketRoundTrip(t *testing.T) {
	m := NewMessage(MaxMessageLen)
	m.WriteZPacket([]byte{1, 2, 3, 4}, 900)

	r := NewReader(m.Bytes())
	if op := ServerOp(r.ReadUint8()); op != SvcZPacket {
		t.Fatalf("op = %s, want zpacket", op)
	}
	data, size, ok := r.ReadZPacket()
	if !ok || size != 900 || len(data) != 4 {
		t.Errorf("ReadZPacket() = %v, %d, %v", data, size, ok)
	}
}

func TestZPacketRejects(t *testing.T) {
	tests := []struct {
		name  string
		write func(m *Message)
	}{
		{"truncated", func(m *Message) { m.WriteUint16(10); m.WriteUint16(100); m.WriteData([]byte{1}) }},
		{"too large", func(m *Message) { m.WriteUint16(1); m.WriteUint16(MaxZPacketLen + 1); m.WriteUint8(0) }},
		{"empty", func(m *Message) { m.WriteUint16(1); m.WriteUint16(0); m.WriteUint8(0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMessage(64)
			tt.write(m)
			if _, _, ok := NewReader(m.Bytes()).ReadZPacket(); ok {
				t.Error("ReadZPacket() ok = true, want false")
			}
		})
	}
}
