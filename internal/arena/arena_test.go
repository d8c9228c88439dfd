package arena

import (
	"testing"
	"time"

	"github.com/vango-dev/netsync/pkg/pmove"
	"github.com/vango-dev/netsync/pkg/protocol"
)

func TestFloorTrace(t *testing.T) {
	mins := pmove.Vec3{-16, -16, -24}
	maxs := pmove.Vec3{16, 16, 32}

	tests := []struct {
		name       string
		start, end pmove.Vec3
		wantFrac   float32
		allSolid   bool
		startSolid bool
	}{
		{"level above floor", pmove.Vec3{0, 0, 24}, pmove.Vec3{100, 0, 24}, 1, false, false},
		{"standing ground check", pmove.Vec3{0, 0, 24}, pmove.Vec3{0, 0, 23.75}, 0, false, false},
		{"buried", pmove.Vec3{0, 0, 10}, pmove.Vec3{0, 0, 5}, 0, true, true},
		{"climbing out", pmove.Vec3{0, 0, 10}, pmove.Vec3{0, 0, 40}, 1, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Floor.Trace(tt.start, mins, maxs, tt.end)
			if tr.Fraction != tt.wantFrac {
				t.Errorf("Fraction = %v, want %v", tr.Fraction, tt.wantFrac)
			}
			if tr.AllSolid != tt.allSolid || tr.StartSolid != tt.startSolid {
				t.Errorf("AllSolid, StartSolid = %v, %v, want %v, %v",
					tr.AllSolid, tr.StartSolid, tt.allSolid, tt.startSolid)
			}
		})
	}
}

func TestFloorTraceLanding(t *testing.T) {
	mins := pmove.Vec3{-16, -16, -24}
	tr := Floor.Trace(pmove.Vec3{0, 0, 64}, mins, pmove.Vec3{16, 16, 32}, pmove.Vec3{0, 0, 0})
	if tr.Fraction <= 0 || tr.Fraction >= 1 {
		t.Fatalf("Fraction = %v, want between 0 and 1", tr.Fraction)
	}
	if bottom := tr.EndPos[2] + mins[2]; bottom < 0 || bottom > 0.1 {
		t.Errorf("landed with feet at %v, want just above 0", bottom)
	}
	if tr.Normal != (pmove.Vec3{0, 0, 1}) || tr.Surface == nil {
		t.Errorf("Normal = %v, Surface = %v", tr.Normal, tr.Surface)
	}
	if got := Floor.PointContents(pmove.Vec3{0, 0, -1}); got != pmove.ContentsSolid {
		t.Errorf("PointContents(below) = %d, want solid", got)
	}
	if got := Floor.PointContents(pmove.Vec3{0, 0, 1}); got != 0 {
		t.Errorf("PointContents(above) = %d, want 0", got)
	}
}

func TestPlayersJoinAndLeave(t *testing.T) {
	w := New(Config{MaxClients: 4, Props: 3})

	if n := len(w.Entities()); n != 3 {
		t.Fatalf("Entities() = %d before anyone joined, want 3", n)
	}
	w.ClientBegin(2, "alice")
	if !w.Active(2) || w.Players() != 1 || w.Name(2) != "alice" {
		t.Fatalf("slot 2 not active after ClientBegin")
	}

	ents := w.Entities()
	if len(ents) != 4 {
		t.Fatalf("Entities() = %d, want 4", len(ents))
	}
	p := ents[0]
	if p.State.Number != 3 || p.Kind != KindPlayer {
		t.Errorf("player entity = #%d kind %d, want #3 kind %d", p.State.Number, p.Kind, KindPlayer)
	}
	if p.State.Origin != Spawn(2) {
		t.Errorf("player origin = %v, want %v", p.State.Origin, Spawn(2))
	}
	if ps := w.PlayerState(2); ps.Pmove.Gravity != gravity || ps.Fov != 90 {
		t.Errorf("PlayerState() = %+v", ps.Pmove)
	}

	w.ClientDisconnect(2)
	if w.Active(2) || w.Players() != 0 {
		t.Error("slot 2 still active after ClientDisconnect")
	}
	// Out of range slots are ignored.
	w.ClientBegin(9, "x")
	w.RunCommand(-1, protocol.UserCmd{})
	if w.Players() != 0 {
		t.Error("out of range slot joined")
	}
}

func TestRunCommandMovesPlayer(t *testing.T) {
	w := New(Config{MaxClients: 1})
	w.ClientBegin(0, "runner")
	start := w.PlayerState(0).Pmove.Origin

	for range 20 {
		w.RunCommand(0, protocol.UserCmd{Msec: 50, Forward: 300})
	}
	end := w.PlayerState(0).Pmove.Origin

	if end[0] <= start[0] {
		t.Errorf("x = %d after running forward, want > %d", end[0], start[0])
	}
	if dz := end[2] - start[2]; dz < -2 || dz > 2 {
		t.Errorf("z moved by %d on flat ground", dz)
	}
	if w.Commands(0) != 20 {
		t.Errorf("Commands() = %d, want 20", w.Commands(0))
	}
}

func TestRunCommandIsDeterministic(t *testing.T) {
	a := New(Config{MaxClients: 1})
	b := New(Config{MaxClients: 1})
	a.ClientBegin(0, "")
	b.ClientBegin(0, "")

	cmds := []protocol.UserCmd{
		{Msec: 16, Forward: 300},
		{Msec: 16, Forward: 300, Side: -150, Angles: [3]int16{0, 4096, 0}},
		{Msec: 33, Up: 300},
		{Msec: 16, Side: 200},
	}
	for _, c := range cmds {
		a.RunCommand(0, c)
		b.RunCommand(0, c)
	}
	if a.PlayerState(0).Pmove != b.PlayerState(0).Pmove {
		t.Errorf("states diverged: %+v vs %+v", a.PlayerState(0).Pmove, b.PlayerState(0).Pmove)
	}
}

func TestPropsCircle(t *testing.T) {
	w := New(Config{MaxClients: 2, Props: 4})
	before := w.Entities()[0].State
	if before.Number != 3 {
		t.Fatalf("first prop = #%d, want #3", before.Number)
	}

	w.RunFrame(1, time.Second)
	after := w.Entities()[0].State
	if after.Origin == before.Origin {
		t.Error("prop did not move")
	}
	if after.OldOrigin != before.Origin {
		t.Errorf("OldOrigin = %v, want %v", after.OldOrigin, before.Origin)
	}
	r := after.Origin[0]*after.Origin[0] + after.Origin[1]*after.Origin[1]
	if r < PropRadius*PropRadius-1 || r > PropRadius*PropRadius+1 {
		t.Errorf("prop left its circle: r² = %v", r)
	}
	if len(w.Baselines()) != 4 {
		t.Errorf("Baselines() = %d, want 4", len(w.Baselines()))
	}
}

func TestVisibleDistance(t *testing.T) {
	w := New(Config{MaxClients: 2, Props: 1, ViewDistance: 100})
	w.ClientBegin(0, "")
	prop := w.Entities()[1]
	if w.Visible(0, &prop) {
		t.Error("distant prop visible")
	}
	self := w.Entities()[0]
	if !w.Visible(0, &self) {
		t.Error("own player hidden")
	}

	all := New(Config{MaxClients: 1, Props: 1})
	prop = all.Entities()[0]
	if !all.Visible(0, &prop) {
		t.Error("ViewDistance 0 hid a prop")
	}
}
