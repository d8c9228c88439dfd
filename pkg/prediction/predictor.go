// Package prediction runs the local player's movement ahead of the server
// and reconciles it when authoritative states arrive.
//
// Every command is simulated as soon as it is sampled and remembered with
// its sequence number. When a snapshot reports the last command the server
// ran, the prediction for that command is compared with the server's state.
// On a mismatch the server state replaces the prediction and every newer
// command is replayed on top of it. Movement is deterministic, so the
// replay reproduces exactly what continuous prediction from the corrected
// state would have produced.
package prediction

import (
	"log/slog"
	"time"

	"github.com/vango-dev/netsync/pkg/interp"
	"github.com/vango-dev/netsync/pkg/pmove"
	"github.com/vango-dev/netsync/pkg/protocol"
)

// TeleportDistance is the summed per-axis error, in 1/8 units, beyond which
// a correction is treated as a teleport and not smoothed.
const TeleportDistance = 640

// Mode is the client's view mode. Only ModeNormal is predicted.
type Mode uint8

const (
	ModeNormal    Mode = iota
	ModeSpectate       // Following another player
	ModeDead
	ModeCinematic
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSpectate:
		return "spectate"
	case ModeDead:
		return "dead"
	case ModeCinematic:
		return "cinematic"
	default:
		return "unknown"
	}
}

// Config configures a Predictor.
type Config struct {
	// Disabled turns prediction off. The player then moves only when
	// snapshots arrive.
	Disabled bool

	// Tracer is the world collision query. Nil collides with nothing.
	Tracer pmove.Tracer

	// Epsilon is the largest per-axis difference, in 1/8 units, between a
	// prediction and the server that is not a miss.
	Epsilon int16

	// Smoother receives corrections so the view eases onto them. Nil
	// applies corrections at once.
	Smoother *interp.ErrorSmoother

	// Logger receives prediction misses at Debug. Nil uses slog.Default.
	Logger *slog.Logger
}

// Stats counts reconciliation outcomes.
type Stats struct {
	Predicted  uint64 // Commands simulated by Predict
	Reconciled uint64 // Snapshots compared against a stored prediction
	Misses     uint64 // Comparisons beyond Epsilon
	Replayed   uint64 // Commands re-run after misses
	Accepted   uint64 // Server states taken without comparison
	Teleports  uint64 // Misses too large to smooth
}

// slot is one remembered command.
type slot struct {
	seq   int32
	cmd   protocol.UserCmd
	state protocol.PmoveState // Predicted state after cmd
}

// Predictor owns the command ring and the current predicted state. It is
// not safe for concurrent use.
type Predictor struct {
	cfg    Config
	tracer pmove.Tracer
	logger *slog.Logger

	ring    [protocol.CmdBackup]slot
	current int32 // Newest sequence passed to Predict
	state   protocol.PmoveState
	pm      pmove.Pmove
	mode    Mode

	stats Stats
}

// New returns a predictor with no history.
func New(cfg Config) *Predictor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = pmove.EmptyWorld
	}
	p := &Predictor{
		cfg:    cfg,
		tracer: tracer,
		logger: logger.With("component", "prediction"),
	}
	p.Reset(protocol.PmoveState{})
	return p
}

// Reset drops every remembered command and starts from state.
func (p *Predictor) Reset(state protocol.PmoveState) {
	for i := range p.ring {
		p.ring[i] = slot{seq: -1}
	}
	p.current = -1
	p.state = state
	p.pm = pmove.Pmove{State: state}
	if p.cfg.Smoother != nil {
		p.cfg.Smoother.Clear()
	}
}

// SetMode switches the view mode. Leaving ModeNormal stops prediction until
// it is entered again.
func (p *Predictor) SetMode(m Mode) {
	p.mode = m
}

// Mode returns the view mode.
func (p *Predictor) Mode() Mode {
	return p.mode
}

// Active reports whether commands are currently being predicted.
func (p *Predictor) Active() bool {
	return !p.cfg.Disabled && p.mode == ModeNormal && !p.state.PmFlags.Has(protocol.PmfNoPrediction)
}

// State returns the current predicted movement state.
func (p *Predictor) State() protocol.PmoveState {
	return p.state
}

// Origin returns the predicted origin in world units.
func (p *Predictor) Origin() pmove.Vec3 {
	return pmove.FixedToVec(p.state.Origin)
}

// Pmove returns the results of the last simulated command, such as view
// height and ground entity.
func (p *Predictor) Pmove() *pmove.Pmove {
	return &p.pm
}

// Current returns the newest predicted sequence, or -1.
func (p *Predictor) Current() int32 {
	return p.current
}

// Stats returns the reconciliation counters.
func (p *Predictor) Stats() Stats {
	return p.stats
}

func (p *Predictor) slot(seq int32) *slot {
	return &p.ring[seq&protocol.CmdMask]
}

// Command returns the command remembered for seq.
func (p *Predictor) Command(seq int32) (protocol.UserCmd, bool) {
	s := p.slot(seq)
	if seq < 0 || s.seq != seq {
		return protocol.UserCmd{}, false
	}
	return s.cmd, true
}

// Predict remembers cmd as sequence seq and, while prediction is active,
// simulates it from the current predicted state. It returns the new
// predicted state.
func (p *Predictor) Predict(seq int32, cmd protocol.UserCmd) protocol.PmoveState {
	s := p.slot(seq)
	s.seq = seq
	s.cmd = cmd
	p.current = seq

	if !p.Active() {
		s.state = p.state
		return p.state
	}

	p.state = p.run(p.state, cmd)
	s.state = p.state
	p.stats.Predicted++
	return p.state
}

func (p *Predictor) run(from protocol.PmoveState, cmd protocol.UserCmd) protocol.PmoveState {
	p.pm.State = from
	p.pm.Cmd = cmd
	pmove.Move(&p.pm, p.tracer)
	return p.pm.State
}

// Result describes what Reconcile did.
type Result struct {
	// Accepted is true when the server state was taken without comparing
	// it to a prediction.
	Accepted bool
	// Miss is true when the stored prediction differed from the server.
	Miss bool
	// Replayed is the number of commands re-run after a miss.
	Replayed int
	// Error is the server origin minus the predicted origin, in 1/8 units.
	Error [3]int32
	// Teleport is true when Error was too large to smooth.
	Teleport bool
}

// Reconcile applies the authoritative state the server reached after
// running command ackSeq. The prediction for ackSeq is compared against it
// and, on a mismatch, every newer command is replayed from it. now times
// the correction for the error smoother.
func (p *Predictor) Reconcile(ackSeq int32, server protocol.PmoveState, now time.Time) Result {
	if p.cfg.Disabled || p.mode != ModeNormal || server.PmFlags.Has(protocol.PmfNoPrediction) {
		p.accept(server)
		return Result{Accepted: true}
	}

	s := p.slot(ackSeq)
	if ackSeq < 0 || ackSeq > p.current || p.current-ackSeq >= protocol.CmdBackup || s.seq != ackSeq {
		// Too old to compare against. Take the server's word for it.
		p.accept(server)
		return Result{Accepted: true}
	}

	p.stats.Reconciled++
	hit := p.matches(&s.state, &server)

	res := Result{}
	if hit {
		// The view already shows the predicted path, so a sub-epsilon
		// error is reported but never eased in.
		res.Error = originDelta(server.Origin, s.state.Origin)
		return res
	}
	res.Error, res.Teleport = p.CheckError(ackSeq, server.Origin, now)

	res.Miss = true
	p.stats.Misses++
	p.logger.Debug("prediction miss",
		"seq", ackSeq,
		"dx", res.Error[0], "dy", res.Error[1], "dz", res.Error[2],
		"replay", p.current-ackSeq)

	s.state = server
	state := server
	for seq := ackSeq + 1; seq <= p.current; seq++ {
		r := p.slot(seq)
		state = p.run(state, r.cmd)
		r.state = state
		res.Replayed++
	}
	p.state = state
	p.stats.Replayed += uint64(res.Replayed)
	return res
}

// accept takes the server state as the present with nothing to replay.
func (p *Predictor) accept(server protocol.PmoveState) {
	p.state = server
	p.pm.State = server
	p.stats.Accepted++
}

// matches reports whether a prediction agrees with the server closely
// enough that replay would change nothing visible. Flags and timers must
// match exactly since they steer every later move.
func (p *Predictor) matches(pred, server *protocol.PmoveState) bool {
	if pred.PmType != server.PmType || pred.PmFlags != server.PmFlags ||
		pred.PmTime != server.PmTime || pred.Gravity != server.Gravity ||
		pred.DeltaAngles != server.DeltaAngles {
		return false
	}
	for i := range 3 {
		if diff16(pred.Origin[i], server.Origin[i]) > int32(p.cfg.Epsilon) ||
			diff16(pred.Velocity[i], server.Velocity[i]) > int32(p.cfg.Epsilon) {
			return false
		}
	}
	return true
}

// CheckError measures the server origin for ackSeq against the predicted
// one. A small error is handed to the smoother so the view eases onto the
// corrected path; a large one is a teleport and clears the smoother. The
// stored origin is corrected either way.
func (p *Predictor) CheckError(ackSeq int32, origin [3]int16, now time.Time) (delta [3]int32, teleport bool) {
	s := p.slot(ackSeq)
	if s.seq != ackSeq {
		return delta, false
	}

	delta = originDelta(origin, s.state.Origin)
	var sum int32
	for _, d := range delta {
		sum += abs32(d)
	}

	sm := p.cfg.Smoother
	if sum > TeleportDistance {
		p.stats.Teleports++
		if sm != nil {
			sm.Clear()
		}
		return delta, true
	}
	if sum != 0 && sm != nil {
		sm.Add(pmove.Vec3{
			float32(delta[0]) * 0.125,
			float32(delta[1]) * 0.125,
			float32(delta[2]) * 0.125,
		}, now)
	}
	s.state.Origin = origin
	return delta, false
}

// SmoothedOrigin is the predicted origin less any correction still being
// eased in.
func (p *Predictor) SmoothedOrigin(now time.Time) pmove.Vec3 {
	o := p.Origin()
	if p.cfg.Smoother == nil || !p.Active() {
		return o
	}
	e := p.cfg.Smoother.Error(now)
	return pmove.Vec3{o[0] - e[0], o[1] - e[1], o[2] - e[2]}
}

func originDelta(server, predicted [3]int16) (d [3]int32) {
	for i := range d {
		d[i] = int32(server[i]) - int32(predicted[i])
	}
	return d
}

func diff16(a, b int16) int32 {
	return abs32(int32(a) - int32(b))
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
