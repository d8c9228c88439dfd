package snapshot

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// World is the game-side view the builder needs. Visibility is decided
// entirely by the world.
type World interface {
	// Entities returns every live entity. Order does not matter.
	Entities() []Entity

	// Visible reports whether viewer (a client slot) can see ent.
	Visible(viewer int, ent *Entity) bool

	// PlayerState returns the current state of viewer's player.
	PlayerState(viewer int) protocol.PlayerState
}

// ServerFrame is what was sent to one client on one tick.
type ServerFrame struct {
	Number      int32
	PlayerState protocol.PlayerState
	Entities    []Entity // Sorted by entity number
	SentTime    time.Time
}

// ClientFrames is the per-client history of sent frames that deltas are
// computed against.
type ClientFrames struct {
	frames [protocol.UpdateBackup]ServerFrame
}

// Get returns the frame recorded for number, if it is still in the ring.
func (r *ClientFrames) Get(number int32) (*ServerFrame, bool) {
	if number <= 0 {
		return nil, false
	}
	f := &r.frames[number&protocol.UpdateMask]
	return f, f.Number == number
}

func (r *ClientFrames) slot(number int32) *ServerFrame {
	return &r.frames[number&protocol.UpdateMask]
}

// Reset forgets every recorded frame.
func (r *ClientFrames) Reset() {
	for i := range r.frames {
		r.frames[i] = ServerFrame{Entities: r.frames[i].Entities[:0]}
	}
}

// ClientView is the per-client state the builder reads and updates.
type ClientView struct {
	// Viewer is the client slot passed to World.
	Viewer int

	// LastFrame is the newest frame the client acknowledged, or <= 0 when
	// the client wants full states.
	LastFrame int32

	// CommandAck is the last user command sequence run for this client.
	CommandAck int32

	// SuppressCount is the number of snapshots skipped for rate since the
	// last one sent. It is cleared by BuildSnapshot.
	SuppressCount uint8

	Frames ClientFrames
}

// Ack records the frame the client reports holding and returns the round
// trip time for it when the frame is still known.
func (c *ClientView) Ack(lastFrame int32, now time.Time) (time.Duration, bool) {
	if lastFrame == c.LastFrame {
		return 0, false
	}
	c.LastFrame = lastFrame
	f, ok := c.Frames.Get(lastFrame)
	if !ok || f.SentTime.IsZero() {
		return 0, false
	}
	return now.Sub(f.SentTime), true
}

// RequestFull makes the next snapshot carry full states.
func (c *ClientView) RequestFull() {
	c.LastFrame = -1
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// MaxClients is the number of player slots. Entities 1..MaxClients are
	// players and always carry their old origin.
	MaxClients int

	Logger *slog.Logger
}

// BuildStats describes one built snapshot.
type BuildStats struct {
	DeltaFrame int32
	Entities   int
	Added      int
	Removed    int
	Replaced   int
	Bytes      int
}

// Builder encodes per-client snapshots.
//
// A Builder is owned by the simulation goroutine and is not safe for
// concurrent use.
type Builder struct {
	world      World
	baselines  *Baselines
	maxClients int
	logger     *slog.Logger
}

// NewBuilder creates a builder reading from world.
func NewBuilder(world World, baselines *Baselines, config BuilderConfig) *Builder {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		world:      world,
		baselines:  baselines,
		maxClients: config.MaxClients,
		logger:     logger.With("component", "snapshot"),
	}
}

// deltaSource picks the frame to delta from, or nil for full states.
func deltaSource(c *ClientView, tick int32) *ServerFrame {
	if c.LastFrame <= 0 || c.LastFrame >= tick {
		return nil
	}
	if tick-c.LastFrame >= protocol.UpdateBackup-3 {
		return nil
	}
	f, ok := c.Frames.Get(c.LastFrame)
	if !ok {
		return nil
	}
	return f
}

// BuildSnapshot records what c can see on tick and writes svc_frame,
// svc_playerinfo and svc_packetentities for it into msg.
func (b *Builder) BuildSnapshot(c *ClientView, tick int32, now time.Time, msg *protocol.Message) BuildStats {
	old := deltaSource(c, tick)

	cur := c.Frames.slot(tick)
	cur.Number = tick
	cur.SentTime = now
	cur.PlayerState = b.world.PlayerState(c.Viewer)
	cur.Entities = cur.Entities[:0]
	for _, e := range b.world.Entities() {
		n := int(e.State.Number)
		if n == 0 || n >= protocol.MaxEdicts {
			continue
		}
		if !b.world.Visible(c.Viewer, &e) {
			continue
		}
		cur.Entities = append(cur.Entities, e)
	}
	slices.SortFunc(cur.Entities, func(a, b Entity) int {
		return cmp.Compare(a.State.Number, b.State.Number)
	})

	stats := BuildStats{DeltaFrame: -1, Entities: len(cur.Entities)}
	start := msg.Len()

	var fromPS *protocol.PlayerState
	if old != nil {
		stats.DeltaFrame = old.Number
		fromPS = &old.PlayerState
	}

	msg.WriteFrameHeader(protocol.FrameHeader{
		ServerFrame:   tick,
		DeltaFrame:    stats.DeltaFrame,
		SuppressCount: c.SuppressCount,
		CommandAck:    c.CommandAck,
	})
	c.SuppressCount = 0

	msg.WriteDeltaPlayerState(fromPS, &cur.PlayerState)

	msg.WriteUint8(uint8(protocol.SvcPacketEnts))
	var oldEnts []Entity
	if old != nil {
		oldEnts = old.Entities
	}
	b.emitEntities(msg, oldEnts, cur.Entities, &stats)
	msg.WriteEntitiesEnd()

	stats.Bytes = msg.Len() - start
	if msg.Overflowed() {
		b.logger.Warn("snapshot overflowed",
			"viewer", c.Viewer,
			"frame", tick,
			"entities", len(cur.Entities))
	}
	return stats
}

// sentinel sorts after every valid entity number.
const sentinel = protocol.MaxEdicts

func entityNumber(ents []Entity, i int) int {
	if i >= len(ents) {
		return sentinel
	}
	return int(ents[i].State.Number)
}

// emitEntities merges two sorted entity lists into delta records.
func (b *Builder) emitEntities(msg *protocol.Message, from, to []Entity, stats *BuildStats) {
	i, j := 0, 0
	for i < len(to) || j < len(from) {
		newNum := entityNumber(to, i)
		oldNum := entityNumber(from, j)

		switch {
		case newNum == oldNum:
			ne, oe := &to[i], &from[j]
			if ne.Kind != oe.Kind || ne.State.ModelIndex != oe.State.ModelIndex {
				// The slot was reused. Drop the old entity and add the new
				// one from its baseline so the client never blends the two.
				msg.WriteRemove(uint16(newNum))
				msg.WriteDeltaEntity(b.baselines.Get(uint16(newNum)), &ne.State, true, true)
				stats.Replaced++
			} else {
				// Players always resend their old origin so a missed frame
				// does not warp them.
				msg.WriteDeltaEntity(&oe.State, &ne.State, false, newNum <= b.maxClients)
			}
			i++
			j++

		case newNum < oldNum:
			msg.WriteDeltaEntity(b.baselines.Get(uint16(newNum)), &to[i].State, true, true)
			stats.Added++
			i++

		default:
			msg.WriteRemove(uint16(oldNum))
			stats.Removed++
			j++
		}
	}
}
