package server

import (
	"strings"
	"time"

	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/snapshot"
)

// ClientState is where a client slot is in the connection sequence.
type ClientState uint8

const (
	// StateFree means the slot is empty.
	StateFree ClientState = iota
	// StateConnected means the client has a channel and is receiving its
	// signon data.
	StateConnected
	// StateActive means the client entered the game and receives snapshots.
	StateActive
)

// String returns the string representation of the state.
func (s ClientState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// client is one occupied slot. It is owned by the tick goroutine.
type client struct {
	slot     int
	state    ClientState
	name     string
	userinfo string

	ch   *netchan.Channel
	view snapshot.ClientView

	// lastCmd is the newest user command sequence run, -1 before any.
	lastCmd int32

	// overflows counts consecutive snapshots that did not fit.
	overflows int

	// Signon progress.
	sentServerData bool
	nextString     int
	nextBaseline   int
	signonDone     bool

	// Configstrings changed after signon sent them.
	pendingStrings []uint16

	connected time.Time
	ping      time.Duration
	snapshots uint64
	prevStats netchan.Stats
}

func newClient(slot int, ch *netchan.Channel, userinfo string, now time.Time) *client {
	c := &client{
		slot:      slot,
		state:     StateConnected,
		ch:        ch,
		lastCmd:   -1,
		connected: now,
	}
	c.view.Viewer = slot
	c.view.CommandAck = -1
	c.view.RequestFull()
	c.setUserinfo(userinfo)
	return c
}

// restartSignon sends the client through signon again after a level
// change. Command numbering starts over with the new serverdata.
func (c *client) restartSignon() {
	c.state = StateConnected
	c.sentServerData = false
	c.nextString = 0
	c.nextBaseline = 0
	c.signonDone = false
	c.pendingStrings = c.pendingStrings[:0]
	c.lastCmd = -1
	c.overflows = 0
	c.view.CommandAck = -1
	c.view.RequestFull()
}

func (c *client) setUserinfo(info string) {
	c.userinfo = info
	c.name = InfoValue(info, "name")
	if c.name == "" {
		c.name = "player"
	}
}

// InfoValue returns the value for key in a backslash-separated info string
// such as `\name\alice\skin\male`.
func InfoValue(info, key string) string {
	parts := strings.Split(strings.TrimPrefix(info, `\`), `\`)
	for i := 0; i+1 < len(parts); i += 2 {
		if parts[i] == key {
			return parts[i+1]
		}
	}
	return ""
}

// ClientInfo describes one client for the admin endpoints.
type ClientInfo struct {
	Slot       int    `json:"slot"`
	Name       string `json:"name"`
	Addr       string `json:"addr"`
	State      string `json:"state"`
	PingMs     int64  `json:"pingMs"`
	LastFrame  int32  `json:"lastFrame"`
	CommandAck int32  `json:"commandAck"`
	Snapshots  uint64 `json:"snapshots"`
	Sent       uint64 `json:"sent"`
	Received   uint64 `json:"received"`
	Dropped    uint64 `json:"dropped"`
	Connected  string `json:"connected"`
}

func (c *client) info(now time.Time) ClientInfo {
	st := c.ch.Stats()
	return ClientInfo{
		Slot:       c.slot,
		Name:       c.name,
		Addr:       c.ch.Remote().String(),
		State:      c.state.String(),
		PingMs:     c.ping.Milliseconds(),
		LastFrame:  c.view.LastFrame,
		CommandAck: c.view.CommandAck,
		Snapshots:  c.snapshots,
		Sent:       st.Sent,
		Received:   st.Received,
		Dropped:    st.Dropped,
		Connected:  now.Sub(c.connected).Truncate(time.Second).String(),
	}
}
