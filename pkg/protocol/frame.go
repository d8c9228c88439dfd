package protocol

// ServerOp is a command byte in a server-to-client message.
type ServerOp uint8

const (
	SvcBad           ServerOp = 0x00
	SvcNop           ServerOp = 0x01
	SvcDisconnect    ServerOp = 0x02
	SvcReconnect     ServerOp = 0x03
	SvcPrint         ServerOp = 0x04
	SvcStuffText     ServerOp = 0x05 // Server-issued client command
	SvcServerData    ServerOp = 0x06 // Sent once on connect
	SvcConfigString  ServerOp = 0x07
	SvcSpawnBaseline ServerOp = 0x08
	SvcFrame         ServerOp = 0x09 // Snapshot header
	SvcPlayerInfo    ServerOp = 0x0A
	SvcPacketEnts    ServerOp = 0x0B
	SvcZPacket       ServerOp = 0x0C // Deflated block of server ops
)

// String returns the string representation of the server op.
func (op ServerOp) String() string {
	switch op {
	case SvcBad:
		return "bad"
	case SvcNop:
		return "nop"
	case SvcDisconnect:
		return "disconnect"
	case SvcReconnect:
		return "reconnect"
	case SvcPrint:
		return "print"
	case SvcStuffText:
		return "stufftext"
	case SvcServerData:
		return "serverdata"
	case SvcConfigString:
		return "configstring"
	case SvcSpawnBaseline:
		return "spawnbaseline"
	case SvcFrame:
		return "frame"
	case SvcPlayerInfo:
		return "playerinfo"
	case SvcPacketEnts:
		return "packetentities"
	case SvcZPacket:
		return "zpacket"
	default:
		return "unknown"
	}
}

// ClientOp is a command byte in a client-to-server message.
type ClientOp uint8

const (
	ClcBad       ClientOp = 0x00
	ClcNop       ClientOp = 0x01
	ClcMove      ClientOp = 0x02 // Delta-compressed user commands
	ClcUserInfo  ClientOp = 0x03
	ClcStringCmd ClientOp = 0x04
)

// String returns the string representation of the client op.
func (op ClientOp) String() string {
	switch op {
	case ClcBad:
		return "bad"
	case ClcNop:
		return "nop"
	case ClcMove:
		return "move"
	case ClcUserInfo:
		return "userinfo"
	case ClcStringCmd:
		return "stringcmd"
	default:
		return "unknown"
	}
}

// FrameHeader opens every snapshot.
//
// Wire format (after the SvcFrame byte):
//
//	┌──────────────┬──────────────┬──────────┬──────────────┐
//	│ ServerFrame  │ DeltaFrame   │ Suppress │ CommandAck   │
//	│ (int32)      │ (int32)      │ (uint8)  │ (int32)      │
//	└──────────────┴──────────────┴──────────┴──────────────┘
//
// DeltaFrame is -1 when the snapshot carries full states. CommandAck is the
// last user command sequence the server ran for this client.
type FrameHeader struct {
	ServerFrame   int32
	DeltaFrame    int32
	SuppressCount uint8
	CommandAck    int32
}

// WriteFrameHeader writes the SvcFrame op followed by the header.
func (m *Message) WriteFrameHeader(h FrameHeader) {
	m.WriteUint8(uint8(SvcFrame))
	m.WriteInt32(h.ServerFrame)
	m.WriteInt32(h.DeltaFrame)
	m.WriteUint8(h.SuppressCount)
	m.WriteInt32(h.CommandAck)
}

// ReadFrameHeader reads the header that follows an SvcFrame op.
func (m *Message) ReadFrameHeader() FrameHeader {
	return FrameHeader{
		ServerFrame:   m.ReadInt32(),
		DeltaFrame:    m.ReadInt32(),
		SuppressCount: m.ReadUint8(),
		CommandAck:    m.ReadInt32(),
	}
}

// MoveCommands is the number of user commands carried by each clc_move.
// Sending the previous two again lets the server recover from a lost packet.
const MoveCommands = 3

// MoveCommand is the body of a clc_move.
type MoveCommand struct {
	// LastFrame is the newest server frame the client holds, or -1 to ask
	// for full states.
	LastFrame int32
	// CommandSeq is the sequence of Cmds[MoveCommands-1].
	CommandSeq int32
	// Cmds are oldest first.
	Cmds [MoveCommands]UserCmd
}

// WriteMove writes the ClcMove op and the commands, each delta-encoded
// against the one before it. The first is encoded against a zero command.
func (m *Message) WriteMove(mv *MoveCommand) {
	m.WriteUint8(uint8(ClcMove))
	m.WriteInt32(mv.LastFrame)
	m.WriteInt32(mv.CommandSeq)
	var from UserCmd
	for i := range mv.Cmds {
		m.WriteDeltaUserCmd(&from, &mv.Cmds[i])
		from = mv.Cmds[i]
	}
}

// ReadMove reads the body of a ClcMove.
func (m *Message) ReadMove() MoveCommand {
	var mv MoveCommand
	mv.LastFrame = m.ReadInt32()
	mv.CommandSeq = m.ReadInt32()
	var from UserCmd
	for i := range mv.Cmds {
		mv.Cmds[i] = m.ReadDeltaUserCmd(&from)
		from = mv.Cmds[i]
	}
	return mv
}
