package protocol

import "strings"

// String commands carried in clc_stringcmd and svc_stufftext.
const (
	// CmdNoDelta asks the server to send the next snapshot with full states.
	// The client sends it when a snapshot references a frame it no longer holds.
	CmdNoDelta    = "nodelta"
	CmdDisconnect = "disconnect"
	CmdBegin      = "begin"

	// CmdPrecache follows the last baseline. The client answers with
	// CmdBegin once it holds every baseline.
	CmdPrecache = "precache"
)

// Connectionless commands carried in out-of-band packets.
const (
	OOBGetChallenge  = "getchallenge"
	OOBChallenge     = "challenge"
	OOBConnect       = "connect"
	OOBClientConnect = "client_connect"
	OOBReject        = "reject"
	OOBStatus        = "status"
	OOBPrint         = "print"
)

// WriteStringCmd writes a clc_stringcmd carrying s.
func (m *Message) WriteStringCmd(s string) {
	m.WriteUint8(uint8(ClcStringCmd))
	m.WriteString(s)
}

// WriteResyncRequest writes the command that makes the server drop delta
// compression for this client until the next acknowledged frame.
func (m *Message) WriteResyncRequest() {
	m.WriteStringCmd(CmdNoDelta)
}

// SplitCommand splits a connectionless text command into its verb and the
// whitespace-separated arguments.
func SplitCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimRight(text, "\x00\n"))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// WriteStuffText writes an svc_stufftext carrying a command for the client
// to run.
func (m *Message) WriteStuffText(s string) {
	m.WriteUint8(uint8(SvcStuffText))
	m.WriteString(s)
}

// WritePrint writes an svc_print with a message for the client console.
func (m *Message) WritePrint(s string) {
	m.WriteUint8(uint8(SvcPrint))
	m.WriteString(s)
}
