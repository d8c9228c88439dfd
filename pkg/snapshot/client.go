package snapshot

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// NoLerpDistance is the per-axis jump, in world units, beyond which an
// entity is snapped instead of blended.
const NoLerpDistance = 512

// Frame is one parsed snapshot on the client.
type Frame struct {
	ServerFrame   int32
	DeltaFrame    int32
	SuppressCount uint8
	CommandAck    int32

	// Valid is false when the frame was parsed against missing data. Its
	// contents must not be used.
	Valid bool

	PlayerState protocol.PlayerState
	Entities    []protocol.EntityState // Sorted by entity number
}

// Entity looks up an entity by number.
func (f *Frame) Entity(number uint16) (*protocol.EntityState, bool) {
	i, ok := slices.BinarySearchFunc(f.Entities, number, func(es protocol.EntityState, n uint16) int {
		return int(es.Number) - int(n)
	})
	if !ok {
		return nil, false
	}
	return &f.Entities[i], true
}

// FrameRing holds the last ParseBackup frames by server frame number.
type FrameRing struct {
	frames [protocol.ParseBackup]Frame
}

// Get returns the stored frame for serverFrame when it is still present.
// The frame may be invalid.
func (r *FrameRing) Get(serverFrame int32) (*Frame, bool) {
	if serverFrame <= 0 {
		return nil, false
	}
	f := &r.frames[serverFrame&protocol.ParseMask]
	return f, f.ServerFrame == serverFrame
}

// Reset forgets every stored frame.
func (r *FrameRing) Reset() {
	for i := range r.frames {
		r.frames[i] = Frame{Entities: r.frames[i].Entities[:0]}
	}
}

// Result is the outcome of applying one snapshot.
type Result struct {
	// Frame is the stored frame. It stays valid until the ring wraps.
	Frame *Frame

	Valid bool

	// NeedResync is set when the delta source was missing and the client
	// must ask for full states.
	NeedResync bool

	// NoLerp lists entity numbers that must snap to their new state. The
	// slice is reused by the next ApplySnapshot.
	NoLerp []int
}

// Parser applies snapshots to the client's frame history.
//
// A Parser is owned by the simulation goroutine and is not safe for
// concurrent use.
type Parser struct {
	ring      FrameRing
	baselines *Baselines
	logger    *slog.Logger

	latest      int32
	latestValid bool

	scratch  []protocol.EntityState
	replaced []uint16 // Removed and added again in the same snapshot
	noLerp   []int
}

// NewParser creates a parser that adds new entities from baselines.
func NewParser(baselines *Baselines, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		baselines: baselines,
		logger:    logger.With("component", "snapshot"),
		latest:    -1,
	}
}

// Baselines returns the table new entities are decoded against.
func (p *Parser) Baselines() *Baselines {
	return p.baselines
}

// LatestAcked returns the frame number the client should report back in
// its next move, or -1 to request full states.
func (p *Parser) LatestAcked() int32 {
	if !p.latestValid {
		return -1
	}
	return p.latest
}

// Latest returns the newest valid frame.
func (p *Parser) Latest() (*Frame, bool) {
	if !p.latestValid {
		return nil, false
	}
	return p.ring.Get(p.latest)
}

// Frame returns a stored valid frame by number.
func (p *Parser) Frame(serverFrame int32) (*Frame, bool) {
	f, ok := p.ring.Get(serverFrame)
	if !ok || !f.Valid {
		return nil, false
	}
	return f, true
}

// Reset drops all history, as on reconnect.
func (p *Parser) Reset() {
	p.ring.Reset()
	p.latest = -1
	p.latestValid = false
}

// ApplySnapshot parses the snapshot that follows an svc_frame op.
//
// A frame whose delta source is gone is still read to the end so the rest
// of the message stays aligned, but it is stored invalid and the result
// asks for a resync. A decode error or overflow leaves the history
// untouched.
func (p *Parser) ApplySnapshot(msg *protocol.Message) (Result, error) {
	h := msg.ReadFrameHeader()

	var old *Frame
	valid := true
	if h.DeltaFrame > 0 {
		f, ok := p.ring.Get(h.DeltaFrame)
		switch {
		case !ok:
			p.logger.Info("delta frame too old",
				"frame", h.ServerFrame,
				"delta", h.DeltaFrame)
			valid = false
		case !f.Valid:
			p.logger.Info("delta from invalid frame",
				"frame", h.ServerFrame,
				"delta", h.DeltaFrame)
			valid = false
		default:
			old = f
		}
	}

	if op := protocol.ServerOp(msg.ReadUint8()); op != protocol.SvcPlayerInfo {
		return Result{}, fmt.Errorf("%w: want %s, got %s", protocol.ErrBadCommand, protocol.SvcPlayerInfo, op)
	}
	var fromPS *protocol.PlayerState
	if old != nil {
		fromPS = &old.PlayerState
	}
	ps := msg.ReadDeltaPlayerState(fromPS)

	if op := protocol.ServerOp(msg.ReadUint8()); op != protocol.SvcPacketEnts {
		return Result{}, fmt.Errorf("%w: want %s, got %s", protocol.ErrBadCommand, protocol.SvcPacketEnts, op)
	}
	if err := p.parseEntities(msg, old); err != nil {
		return Result{}, err
	}
	if msg.Overflowed() {
		return Result{}, fmt.Errorf("%w: snapshot %d truncated", protocol.ErrMalformed, h.ServerFrame)
	}

	p.noLerp = p.noLerp[:0]
	if valid {
		p.detectNoLerp()
	}

	slot := &p.ring.frames[h.ServerFrame&protocol.ParseMask]
	*slot = Frame{
		ServerFrame:   h.ServerFrame,
		DeltaFrame:    h.DeltaFrame,
		SuppressCount: h.SuppressCount,
		CommandAck:    h.CommandAck,
		Valid:         valid,
		PlayerState:   ps,
		Entities:      append(slot.Entities[:0], p.scratch...),
	}

	p.latest = h.ServerFrame
	p.latestValid = valid

	return Result{
		Frame:      slot,
		Valid:      valid,
		NeedResync: !valid,
		NoLerp:     p.noLerp,
	}, nil
}

// parseEntities reads svc_packetentities into p.scratch, carrying over
// entities from old that the message does not mention.
func (p *Parser) parseEntities(msg *protocol.Message, old *Frame) error {
	p.scratch = p.scratch[:0]
	p.replaced = p.replaced[:0]

	var from []protocol.EntityState
	if old != nil {
		from = old.Entities
	}
	j := 0
	oldNum := func() int {
		if j >= len(from) {
			return sentinel
		}
		return int(from[j].Number)
	}
	last, removed := 0, 0
	carry := func() {
		p.scratch = append(p.scratch, msg.ReadDeltaEntity(&from[j], from[j].Number, 0))
		last = int(from[j].Number)
		j++
	}

	for {
		number, bits := msg.ReadEntityBits()
		if msg.Overflowed() {
			return fmt.Errorf("%w: entity list truncated", protocol.ErrMalformed)
		}
		if int(number) >= protocol.MaxEdicts {
			return fmt.Errorf("%w: %d", protocol.ErrBadEntity, number)
		}
		if number == 0 {
			break
		}

		for oldNum() < int(number) {
			carry()
		}

		if bits.Has(protocol.URemove) {
			if oldNum() == int(number) {
				j++
			}
			removed = int(number)
			continue
		}

		if int(number) <= last {
			return fmt.Errorf("%w: %d out of order", protocol.ErrBadEntity, number)
		}
		if int(number) == removed {
			p.replaced = append(p.replaced, number)
		}
		if oldNum() == int(number) {
			p.scratch = append(p.scratch, msg.ReadDeltaEntity(&from[j], number, bits))
			j++
		} else {
			p.scratch = append(p.scratch, msg.ReadDeltaEntity(p.baselines.Get(number), number, bits))
		}
		last = int(number)
	}

	for j < len(from) {
		carry()
	}
	return nil
}

// detectNoLerp compares the parsed entities with the previous valid frame
// and records the ones that must not be blended. A number that was removed
// and added again names a different entity and never blends.
func (p *Parser) detectNoLerp() {
	prev, ok := p.Latest()
	for i := range p.scratch {
		es := &p.scratch[i]
		if slices.Contains(p.replaced, es.Number) ||
			es.Event == protocol.EventPlayerTeleport || es.Event == protocol.EventOtherTeleport {
			p.noLerp = append(p.noLerp, int(es.Number))
			continue
		}
		if !ok {
			continue
		}
		pe, found := prev.Entity(es.Number)
		if !found {
			continue
		}
		if discontinuous(pe, es) {
			p.noLerp = append(p.noLerp, int(es.Number))
		}
	}
}

func discontinuous(prev, cur *protocol.EntityState) bool {
	if prev.ModelIndex != cur.ModelIndex ||
		prev.ModelIndex2 != cur.ModelIndex2 ||
		prev.ModelIndex3 != cur.ModelIndex3 ||
		prev.ModelIndex4 != cur.ModelIndex4 {
		return true
	}
	for i := range cur.Origin {
		d := cur.Origin[i] - prev.Origin[i]
		if d > NoLerpDistance || d < -NoLerpDistance {
			return true
		}
	}
	return false
}
