package protocol

// Protocol-wide sizes. Both peers must agree on every value here; changing one
// requires a ProtocolVersion bump.
const (
	// ProtocolVersion is sent in the connect string and in svc_serverdata.
	// Bump it whenever a bitmask layout or field order changes.
	ProtocolVersion = 36

	// MaxMessageLen is the largest datagram the channel puts on the wire.
	MaxMessageLen = 1400

	// MaxZPacketLen bounds the inflated payload of an svc_zpacket.
	MaxZPacketLen = 4096

	// MaxEdicts is the number of addressable entity slots.
	MaxEdicts = 1024

	// MaxStats is the number of player stat slots carried in playerinfo.
	MaxStats = 32

	// UpdateBackup is the number of frames the server keeps per client.
	// Must be a power of two.
	UpdateBackup = 16
	UpdateMask   = UpdateBackup - 1

	// ParseBackup is the number of frames the client keeps.
	ParseBackup = 32
	ParseMask   = ParseBackup - 1

	// CmdBackup is the number of user commands the client keeps for replay.
	CmdBackup = 64
	CmdMask   = CmdBackup - 1

	// MaxStringChars bounds strings written by WriteString on the game path.
	MaxStringChars = 2048
)
