package protocol

// ServerData is the first reliable message a client receives after
// client_connect. It tells the client which entity slot is its own and the
// nominal tick rate used for interpolation.
type ServerData struct {
	Protocol    int32
	ServerCount int32 // Changes on every level load
	PlayerNum   int16 // Entity number is PlayerNum+1
	TickRate    uint8 // Hz
	LevelName   string
}

// WriteServerData writes the SvcServerData op and body.
func (m *Message) WriteServerData(sd ServerData) {
	m.WriteUint8(uint8(SvcServerData))
	m.WriteInt32(sd.Protocol)
	m.WriteInt32(sd.ServerCount)
	m.WriteInt16(sd.PlayerNum)
	m.WriteUint8(sd.TickRate)
	m.WriteString(sd.LevelName)
}

// ReadServerData reads the body following an SvcServerData op.
func (m *Message) ReadServerData() ServerData {
	return ServerData{
		Protocol:    m.ReadInt32(),
		ServerCount: m.ReadInt32(),
		PlayerNum:   m.ReadInt16(),
		TickRate:    m.ReadUint8(),
		LevelName:   m.ReadString(),
	}
}

// Configstring indexes. Slot n's player name is at CsPlayers+n.
const (
	CsName           = 0
	CsLevelName      = 1
	CsMaxClients     = 2
	CsPlayers        = 32
	MaxConfigStrings = CsPlayers + MaxEdicts
)

// WriteConfigString writes an SvcConfigString setting index to value. An
// empty value clears the index.
func (m *Message) WriteConfigString(index uint16, value string) {
	m.WriteUint8(uint8(SvcConfigString))
	m.WriteUint16(index)
	m.WriteString(value)
}

// ReadConfigString reads the body following an SvcConfigString op.
func (m *Message) ReadConfigString() (index uint16, value string) {
	index = m.ReadUint16()
	value = m.ReadString()
	if index >= MaxConfigStrings {
		m.overflowed = true
	}
	return index, value
}

// WriteBaseline writes an SvcSpawnBaseline carrying a full entity state.
func (m *Message) WriteBaseline(es *EntityState) {
	m.WriteUint8(uint8(SvcSpawnBaseline))
	var zero EntityState
	m.WriteDeltaEntity(&zero, es, true, true)
}

// ReadBaseline reads the body following an SvcSpawnBaseline op.
func (m *Message) ReadBaseline() EntityState {
	var zero EntityState
	number, bits := m.ReadEntityBits()
	return m.ReadDeltaEntity(&zero, number, bits)
}
