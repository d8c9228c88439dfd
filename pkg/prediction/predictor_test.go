package prediction

import (
	"testing"
	"time"

	"github.com/vango-dev/netsync/pkg/interp"
	"github.com/vango-dev/netsync/pkg/pmove"
	"github.com/vango-dev/netsync/pkg/protocol"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// floor is a solid plane at z=0.
var floor = pmove.TracerFuncs{
	TraceFunc: func(start, mins, maxs, end pmove.Vec3) pmove.Trace {
		top := -mins[2]
		if end[2] >= top {
			return pmove.Trace{Fraction: 1, EndPos: end, Entity: -1}
		}
		frac := float32(0)
		if d := start[2] - end[2]; d > 1e-6 {
			frac = max(0, min((start[2]-top)/d, 1))
		}
		return pmove.Trace{
			Fraction: frac,
			EndPos: pmove.Vec3{
				start[0] + frac*(end[0]-start[0]),
				start[1] + frac*(end[1]-start[1]),
				top,
			},
			Normal:   pmove.Vec3{0, 0, 1},
			Surface:  &pmove.Surface{},
			Contents: pmove.ContentsSolid,
			Entity:   0,
		}
	},
}

func standing() protocol.PmoveState {
	return protocol.PmoveState{
		Origin:  [3]int16{0, 0, 24 * 8},
		PmFlags: protocol.PmfOnGround,
		Gravity: 800,
	}
}

// command returns a varied but repeatable input for seq.
func command(seq int32) protocol.UserCmd {
	cmd := protocol.UserCmd{
		Msec:    16,
		Forward: 400,
		Angles:  [3]int16{0, int16(seq * 512), 0},
	}
	switch seq % 7 {
	case 2:
		cmd.Side = 200
	case 4:
		cmd.Up = 200
	case 5:
		cmd.Forward = -200
		cmd.Msec = 33
	}
	return cmd
}

// simulate runs cmds first..last from state without a Predictor.
func simulate(state protocol.PmoveState, first, last int32) protocol.PmoveState {
	var pm pmove.Pmove
	for seq := first; seq <= last; seq++ {
		pm.State = state
		pm.Cmd = command(seq)
		pmove.Move(&pm, floor)
		state = pm.State
	}
	return state
}

func TestPredictRunsMovement(t *testing.T) {
	p := New(Config{Tracer: floor})
	p.Reset(standing())

	for seq := int32(1); seq <= 10; seq++ {
		p.Predict(seq, command(seq))
	}

	if want := simulate(standing(), 1, 10); p.State() != want {
		t.Errorf("State() = %+v, want %+v", p.State(), want)
	}
	if p.Current() != 10 {
		t.Errorf("Current() = %d, want 10", p.Current())
	}
	if cmd, ok := p.Command(4); !ok || cmd != command(4) {
		t.Errorf("Command(4) = %+v, %v", cmd, ok)
	}
	if _, ok := p.Command(11); ok {
		t.Error("Command(11) ok = true before it was predicted")
	}
	if s := p.Stats(); s.Predicted != 10 {
		t.Errorf("Stats().Predicted = %d, want 10", s.Predicted)
	}
}

func TestReconcileMatchingState(t *testing.T) {
	p := New(Config{Tracer: floor})
	p.Reset(standing())
	for seq := int32(1); seq <= 5; seq++ {
		p.Predict(seq, command(seq))
	}
	before := p.State()

	res := p.Reconcile(3, simulate(standing(), 1, 3), t0)
	if res.Miss || res.Accepted || res.Replayed != 0 {
		t.Errorf("Reconcile() = %+v, want a silent hit", res)
	}
	if p.State() != before {
		t.Errorf("State() changed on a hit")
	}
}

// A correction followed by replay must land exactly where continuous
// prediction from the corrected state would have.
func TestReplayConverges(t *testing.T) {
	for n := int32(0); n < protocol.CmdBackup; n++ {
		p := New(Config{Tracer: floor})
		p.Reset(standing())
		for seq := int32(1); seq <= n+1; seq++ {
			p.Predict(seq, command(seq))
		}

		corrected := simulate(standing(), 1, 1)
		corrected.Origin[0] += 40
		corrected.Velocity[1] -= 96

		res := p.Reconcile(1, corrected, t0)
		if !res.Miss || int32(res.Replayed) != n {
			t.Fatalf("n=%d: Reconcile() = %+v, want a miss replaying %d", n, res, n)
		}
		if want := simulate(corrected, 2, n+1); p.State() != want {
			t.Fatalf("n=%d: State() = %+v, want %+v", n, p.State(), want)
		}

		// A second snapshot for a later command now agrees.
		if n > 0 {
			again := p.Reconcile(n+1, p.State(), t0)
			if again.Miss {
				t.Fatalf("n=%d: Reconcile() after replay missed: %+v", n, again)
			}
		}
	}
}

func TestReconcileAcceptsUnknownAck(t *testing.T) {
	server := standing()
	server.Origin = [3]int16{800, -800, 24 * 8}

	tests := []struct {
		name    string
		predict int32
		ack     int32
	}{
		{"evicted", 70, 3},
		{"never predicted", 5, 9},
		{"no history", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Config{Tracer: floor})
			p.Reset(standing())
			for seq := int32(1); seq <= tt.predict; seq++ {
				p.Predict(seq, command(seq))
			}

			res := p.Reconcile(tt.ack, server, t0)
			if !res.Accepted || res.Replayed != 0 {
				t.Errorf("Reconcile() = %+v, want accepted without replay", res)
			}
			if p.State() != server {
				t.Errorf("State() = %+v, want server state", p.State())
			}
		})
	}
}

func TestPredictionDisabled(t *testing.T) {
	server := standing()
	server.Origin[0] = 512

	tests := []struct {
		name  string
		cfg   Config
		mode  Mode
		flags protocol.PmFlags
	}{
		{"config", Config{Disabled: true}, ModeNormal, 0},
		{"spectate", Config{}, ModeSpectate, 0},
		{"dead", Config{}, ModeDead, 0},
		{"cinematic", Config{}, ModeCinematic, 0},
		{"no prediction flag", Config{}, ModeNormal, protocol.PmfNoPrediction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Tracer = floor
			p := New(tt.cfg)
			p.Reset(standing())
			p.SetMode(tt.mode)

			p.Predict(1, command(1))
			s := server
			s.PmFlags |= tt.flags

			res := p.Reconcile(1, s, t0)
			if !res.Accepted {
				t.Errorf("Reconcile() = %+v, want accepted", res)
			}
			if p.State() != s {
				t.Errorf("State() = %+v, want server state verbatim", p.State())
			}
			if p.Active() {
				t.Error("Active() = true")
			}

			// Commands no longer move the player.
			if got := p.Predict(2, command(2)); got != s {
				t.Errorf("Predict() = %+v, want unchanged %+v", got, s)
			}
		})
	}
}

func TestEpsilon(t *testing.T) {
	p := New(Config{Tracer: floor, Epsilon: 2})
	p.Reset(standing())
	p.Predict(1, command(1))
	p.Predict(2, command(2))
	before := p.State()

	near := simulate(standing(), 1, 1)
	near.Origin[0]++
	near.Velocity[2] -= 2

	if res := p.Reconcile(1, near, t0); res.Miss {
		t.Errorf("Reconcile() = %+v, want no miss within epsilon", res)
	}
	if p.State() != before {
		t.Error("State() replayed within epsilon")
	}

	far := simulate(standing(), 1, 1)
	far.Origin[0] += 5
	if res := p.Reconcile(1, far, t0); !res.Miss {
		t.Errorf("Reconcile() = %+v, want a miss beyond epsilon", res)
	}
}

func TestHitWithinEpsilonKeepsView(t *testing.T) {
	sm := interp.NewErrorSmoother(150 * time.Millisecond)
	p := New(Config{Tracer: floor, Smoother: sm, Epsilon: 8})
	p.Reset(standing())
	p.Predict(1, command(1))
	p.Predict(2, command(2))
	predicted := p.Origin()

	server := simulate(standing(), 1, 1)
	server.Origin[0] += 4 // half a unit

	res := p.Reconcile(1, server, t0)
	if res.Miss || res.Error != [3]int32{4, 0, 0} {
		t.Fatalf("Reconcile() = %+v, want a hit with error {4 0 0}", res)
	}
	if got := sm.Error(t0); got != (pmove.Vec3{}) {
		t.Errorf("smoother error = %v, want none after a hit", got)
	}
	if got := p.SmoothedOrigin(t0); got != predicted {
		t.Errorf("SmoothedOrigin() = %v, want predicted %v", got, predicted)
	}

	// Repeated hits leave the view where prediction put it.
	for range 5 {
		p.Reconcile(1, server, t0)
	}
	if got := p.SmoothedOrigin(t0.Add(10 * time.Millisecond)); got != predicted {
		t.Errorf("SmoothedOrigin() after hits = %v, want %v", got, predicted)
	}
}

func TestFlagMismatchIsMiss(t *testing.T) {
	p := New(Config{Tracer: floor})
	p.Reset(standing())
	p.Predict(1, command(1))

	s := simulate(standing(), 1, 1)
	s.PmFlags ^= protocol.PmfDucked
	if res := p.Reconcile(1, s, t0); !res.Miss {
		t.Errorf("Reconcile() = %+v, want a miss on differing flags", res)
	}
}

func TestErrorSmoothing(t *testing.T) {
	idle := protocol.UserCmd{Msec: 16}
	sm := interp.NewErrorSmoother(150 * time.Millisecond)
	p := New(Config{Tracer: floor, Smoother: sm})
	p.Reset(standing())
	p.Predict(1, idle)

	server := p.State()
	server.Origin[0] += 16 // 2 units

	res := p.Reconcile(1, server, t0)
	if !res.Miss || res.Teleport || res.Error != [3]int32{16, 0, 0} {
		t.Fatalf("Reconcile() = %+v", res)
	}
	if got := sm.Error(t0); got != (pmove.Vec3{2, 0, 0}) {
		t.Errorf("smoother error = %v, want {2 0 0}", got)
	}
	if got, want := p.SmoothedOrigin(t0), p.Origin(); got[0] != want[0]-2 {
		t.Errorf("SmoothedOrigin() = %v, want 2 units behind %v", got, want)
	}
	if got := p.SmoothedOrigin(t0.Add(150 * time.Millisecond)); got != p.Origin() {
		t.Errorf("SmoothedOrigin() after decay = %v, want %v", got, p.Origin())
	}

	p.Predict(2, idle)
	jump := p.State()
	jump.Origin[1] += 1000
	res = p.Reconcile(2, jump, t0.Add(10*time.Millisecond))
	if !res.Teleport {
		t.Errorf("Reconcile() = %+v, want teleport", res)
	}
	if got := sm.Error(t0.Add(10 * time.Millisecond)); got != (pmove.Vec3{}) {
		t.Errorf("smoother error after teleport = %v, want zero", got)
	}
	if p.Stats().Teleports != 1 {
		t.Errorf("Stats().Teleports = %d, want 1", p.Stats().Teleports)
	}
}

func TestCheckErrorCorrectsStoredOrigin(t *testing.T) {
	p := New(Config{Tracer: floor})
	p.Reset(standing())
	p.Predict(1, protocol.UserCmd{Msec: 16})

	origin := p.State().Origin
	origin[2] += 8
	if _, tele := p.CheckError(1, origin, t0); tele {
		t.Fatal("CheckError() teleport = true")
	}
	if d, _ := p.CheckError(1, origin, t0); d != [3]int32{} {
		t.Errorf("CheckError() second delta = %v, want zero after correction", d)
	}
}

func BenchmarkReplay(b *testing.B) {
	p := New(Config{Tracer: floor})
	for i := 0; i < b.N; i++ {
		p.Reset(standing())
		for seq := int32(1); seq < protocol.CmdBackup; seq++ {
			p.Predict(seq, command(seq))
		}
		s := simulate(standing(), 1, 1)
		s.Origin[0] += 8
		p.Reconcile(1, s, t0)
	}
}
