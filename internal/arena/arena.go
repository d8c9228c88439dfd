// Package arena is a small game world for running a server without a game:
// a flat floor at height zero, one player per client slot and a ring of
// props circling the map origin.
//
// It exists for the netsync binary, load testing and integration tests. A
// real game implements server.World itself.
package arena

import (
	"math"
	"time"

	"github.com/vango-dev/netsync/pkg/pmove"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/snapshot"
)

// Model indexes used by arena entities.
const (
	PlayerModel = 255
	PropModel   = 1
)

// Entity kinds.
const (
	KindPlayer uint16 = 1
	KindProp   uint16 = 2
)

const (
	// SpawnHeight puts a standing player's feet on the floor.
	SpawnHeight = 24

	// SpawnSpacing separates the spawn points of neighbouring slots.
	SpawnSpacing = 64

	// PropRadius is the radius of the circle props travel.
	PropRadius = 256

	// PropSpeed is the angular speed of the props in radians per second.
	PropSpeed = 0.5

	gravity    = 800
	viewHeight = 22
)

// Config configures a World.
type Config struct {
	// MaxClients is the number of player slots. Entity numbers
	// 1..MaxClients belong to players.
	MaxClients int

	// Props is the number of moving props.
	Props int

	// ViewDistance hides entities farther than this from a viewer. Zero
	// makes everything visible.
	ViewDistance float32
}

type player struct {
	active   bool
	name     string
	pm       pmove.Pmove
	commands uint64
}

// World implements server.World on a flat floor.
//
// A World is owned by the simulation goroutine and is not safe for
// concurrent use.
type World struct {
	cfg     Config
	players []player
	props   []snapshot.Entity
	ents    []snapshot.Entity
	elapsed time.Duration
}

// New returns a world with every slot empty and the props at their start
// positions.
func New(cfg Config) *World {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 1
	}
	w := &World{
		cfg:     cfg,
		players: make([]player, cfg.MaxClients),
		props:   make([]snapshot.Entity, cfg.Props),
	}
	for i := range w.props {
		w.props[i] = snapshot.Entity{
			State: protocol.EntityState{
				Number:     uint16(cfg.MaxClients + 1 + i),
				ModelIndex: PropModel,
			},
			Kind: KindProp,
		}
	}
	w.placeProps()
	for i := range w.props {
		w.props[i].State.OldOrigin = w.props[i].State.Origin
	}
	return w
}

// Spawn returns the spawn point of slot.
func Spawn(slot int) protocol.Vec3 {
	return protocol.Vec3{float32(slot * SpawnSpacing), 0, SpawnHeight}
}

// Entities implements snapshot.World.
func (w *World) Entities() []snapshot.Entity {
	w.ents = w.ents[:0]
	for i := range w.players {
		p := &w.players[i]
		if !p.active {
			continue
		}
		w.ents = append(w.ents, w.playerEntity(i))
	}
	w.ents = append(w.ents, w.props...)
	return w.ents
}

// Baselines returns the spawn state of every prop. Players get no baseline
// since they appear wherever they are when the slot fills.
func (w *World) Baselines() []protocol.EntityState {
	out := make([]protocol.EntityState, len(w.props))
	for i := range w.props {
		out[i] = w.props[i].State
	}
	return out
}

func (w *World) playerEntity(slot int) snapshot.Entity {
	p := &w.players[slot]
	origin := pmove.FixedToVec(p.pm.State.Origin)
	return snapshot.Entity{
		State: protocol.EntityState{
			Number:     uint16(slot + 1),
			Origin:     origin,
			OldOrigin:  origin,
			Angles:     protocol.Vec3{0, p.pm.ViewAngles[1], 0},
			ModelIndex: PlayerModel,
			SkinNum:    uint32(slot),
			Solid:      solidBox,
		},
		Kind: KindPlayer,
	}
}

// solidBox packs the player hull in 8 unit steps: half width, depth below
// the origin and height above it plus 32.
const solidBox = 8<<10 | 3<<5 | 2

// Visible implements snapshot.World.
func (w *World) Visible(viewer int, ent *snapshot.Entity) bool {
	if w.cfg.ViewDistance <= 0 || int(ent.State.Number) == viewer+1 {
		return true
	}
	if viewer < 0 || viewer >= len(w.players) {
		return true
	}
	eye := pmove.FixedToVec(w.players[viewer].pm.State.Origin)
	dx := ent.State.Origin[0] - eye[0]
	dy := ent.State.Origin[1] - eye[1]
	dz := ent.State.Origin[2] - eye[2]
	return dx*dx+dy*dy+dz*dz <= w.cfg.ViewDistance*w.cfg.ViewDistance
}

// PlayerState implements snapshot.World.
func (w *World) PlayerState(viewer int) protocol.PlayerState {
	if viewer < 0 || viewer >= len(w.players) {
		return protocol.PlayerState{}
	}
	p := &w.players[viewer]
	return protocol.PlayerState{
		Pmove:      p.pm.State,
		ViewAngles: p.pm.ViewAngles,
		ViewOffset: protocol.Vec3{0, 0, viewHeight},
		Fov:        90,
	}
}

// ClientBegin puts a player into slot at its spawn point.
func (w *World) ClientBegin(slot int, name string) {
	if slot < 0 || slot >= len(w.players) {
		return
	}
	w.players[slot] = player{
		active: true,
		name:   name,
		pm: pmove.Pmove{State: protocol.PmoveState{
			PmType:  protocol.PmNormal,
			Origin:  pmove.VecToFixed(Spawn(slot)),
			Gravity: gravity,
		}},
	}
}

// ClientDisconnect empties slot.
func (w *World) ClientDisconnect(slot int) {
	if slot < 0 || slot >= len(w.players) {
		return
	}
	w.players[slot] = player{}
}

// RunCommand moves slot's player by one user command.
func (w *World) RunCommand(slot int, cmd protocol.UserCmd) {
	if slot < 0 || slot >= len(w.players) || !w.players[slot].active {
		return
	}
	p := &w.players[slot]
	p.pm.Cmd = cmd
	pmove.Move(&p.pm, Floor)
	p.commands++
}

// RunFrame advances the props.
func (w *World) RunFrame(frame int32, dt time.Duration) {
	w.elapsed += dt
	for i := range w.props {
		w.props[i].State.OldOrigin = w.props[i].State.Origin
	}
	w.placeProps()
}

func (w *World) placeProps() {
	n := len(w.props)
	for i := range w.props {
		a := 2*math.Pi*float64(i)/float64(n) + PropSpeed*w.elapsed.Seconds()
		sin, cos := math.Sincos(a)
		s := &w.props[i].State
		s.Origin = protocol.Vec3{float32(PropRadius * cos), float32(PropRadius * sin), 16}
		s.Angles = protocol.Vec3{0, float32(math.Mod(a*180/math.Pi+90, 360)), 0}
	}
}

// Active reports whether slot holds a player.
func (w *World) Active(slot int) bool {
	return slot >= 0 && slot < len(w.players) && w.players[slot].active
}

// MaxClients returns the number of player slots.
func (w *World) MaxClients() int {
	return len(w.players)
}

// Players returns the number of occupied slots.
func (w *World) Players() int {
	n := 0
	for i := range w.players {
		if w.players[i].active {
			n++
		}
	}
	return n
}

// Commands returns the number of user commands run for slot.
func (w *World) Commands(slot int) uint64 {
	if slot < 0 || slot >= len(w.players) {
		return 0
	}
	return w.players[slot].commands
}

// Name returns the name slot joined with.
func (w *World) Name(slot int) string {
	if slot < 0 || slot >= len(w.players) {
		return ""
	}
	return w.players[slot].name
}
