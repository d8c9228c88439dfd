package client

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/vango-dev/netsync/internal/arena"
	neterrors "github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/compress"
	"github.com/vango-dev/netsync/pkg/demo"
	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/interp"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/pmove"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/server"
	"github.com/vango-dev/netsync/pkg/snapshot"
	"github.com/vango-dev/netsync/pkg/transport"
)

const tick = 100 * time.Millisecond

var epoch = time.Unix(1_700_000_000, 0)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	return DefaultConfig().WithTracer(arena.Floor).WithLogger(quietLogger())
}

// rig is a real server and a client on one loopback network, stepped by
// the test.
type rig struct {
	t     *testing.T
	world *arena.World
	srv   *server.Server
	c     *Client
	now   time.Time
}

func newRig(t *testing.T, cfg *Config, sopts []server.Option, opts ...Option) *rig {
	t.Helper()
	world := arena.New(arena.Config{MaxClients: 4, Props: 2})
	scfg := server.DefaultConfig().WithMaxClients(4).WithLogger(quietLogger())
	scfg.Addr = ""
	lb := transport.NewLoopback()
	srv, err := server.New(scfg, world, append([]server.Option{server.WithLoopback(lb, 0)}, sopts...)...)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	if cfg == nil {
		cfg = testConfig()
	}
	q := ingress.NewQueue(256)
	c := New(cfg, lb.Attach(1, q), q, opts...)
	return &rig{t: t, world: world, srv: srv, c: c, now: epoch}
}

// step spreads cmds over one server tick, then runs the tick and lets the
// client handle what it sent.
func (r *rig) step(cmds ...protocol.UserCmd) {
	start := r.now
	r.now = r.now.Add(tick)
	for i, cmd := range cmds {
		r.c.SampleCommand(cmd, start.Add(tick*time.Duration(i)/time.Duration(len(cmds))))
	}
	r.srv.Tick(r.now)
	r.c.Frame(r.now)
}

func (r *rig) join() {
	r.t.Helper()
	r.c.BeginConnect(netchan.LoopbackAddr(0), r.now)
	for i := 0; i < 50 && r.c.State() != StateActive; i++ {
		r.step()
	}
	if r.c.State() != StateActive {
		r.t.Fatalf("State() = %s after joining, want active (err %v)", r.c.State(), r.c.Err())
	}
}

func walk(msec uint8) protocol.UserCmd {
	return protocol.UserCmd{Msec: msec, Forward: 200}
}

func TestJoinAndPredict(t *testing.T) {
	r := newRig(t, nil, nil)
	r.join()

	sd := r.c.ServerData()
	if sd.LevelName != "base1" {
		t.Errorf("LevelName = %q, want base1", sd.LevelName)
	}
	if sd.PlayerNum != 0 {
		t.Errorf("PlayerNum = %d, want 0", sd.PlayerNum)
	}
	if !r.world.Active(0) {
		t.Fatalf("world slot 0 not active")
	}

	for range 10 {
		r.step(walk(50), walk(50))
	}
	for range 3 {
		r.step()
	}

	stats := r.c.PredictionStats()
	if stats.Predicted != 20 {
		t.Errorf("Predicted = %d, want 20", stats.Predicted)
	}
	if stats.Reconciled == 0 {
		t.Errorf("Reconciled = 0, want some")
	}
	if stats.Misses != 0 {
		t.Errorf("Misses = %d, want 0", stats.Misses)
	}
	if got := r.world.Commands(0); got != 20 {
		t.Errorf("server ran %d commands, want 20", got)
	}

	v, ok := r.c.RenderState(r.now)
	if !ok {
		t.Fatalf("RenderState() not ok")
	}
	if !v.Predicted {
		t.Errorf("Predicted = false, want true")
	}
	want := pmove.FixedToVec(r.world.PlayerState(0).Pmove.Origin)
	if v.Origin != want {
		t.Errorf("Origin = %v, want server origin %v", v.Origin, want)
	}
	if v.Origin[0] <= arena.Spawn(0)[0] {
		t.Errorf("Origin = %v, want moved forward from %v", v.Origin, arena.Spawn(0))
	}
	if v.Frame != r.c.ServerFrame() {
		t.Errorf("Frame = %d, want %d", v.Frame, r.c.ServerFrame())
	}
	if r.c.NetStats().Ping <= 0 {
		t.Errorf("Ping = %v, want > 0", r.c.NetStats().Ping)
	}
}

func TestConfigStrings(t *testing.T) {
	r := newRig(t, testConfig().WithName("alice"), nil)
	r.join()

	if got := r.c.ConfigString(protocol.CsLevelName); got != "base1" {
		t.Errorf("ConfigString(CsLevelName) = %q, want base1", got)
	}
	if got := r.c.ConfigString(protocol.CsMaxClients); got != "4" {
		t.Errorf("ConfigString(CsMaxClients) = %q, want 4", got)
	}
	if got := r.c.PlayerName(0); got != "alice" {
		t.Errorf("PlayerName(0) = %q, want alice", got)
	}
	if got := r.c.PlayerName(1); got != "" {
		t.Errorf("PlayerName(1) = %q, want empty", got)
	}
}

func TestLevelChange(t *testing.T) {
	r := newRig(t, nil, nil)
	r.join()
	for range 5 {
		r.step(walk(50))
	}

	r.srv.ChangeLevel("base2")
	r.step()
	for i := 0; i < 50 && (r.c.State() != StateActive || r.c.ServerData().LevelName != "base2"); i++ {
		r.step()
	}
	if r.c.State() != StateActive || r.c.ServerData().LevelName != "base2" {
		t.Fatalf("State() = %s on %q, want active on base2", r.c.State(), r.c.ServerData().LevelName)
	}
	if got := r.c.ConfigString(protocol.CsLevelName); got != "base2" {
		t.Errorf("ConfigString(CsLevelName) = %q, want base2", got)
	}

	// Commands are numbered from zero on the new level and every one runs.
	for range 5 {
		r.step(walk(50))
	}
	for range 3 {
		r.step()
	}
	if got := r.world.Commands(0); got != 5 {
		t.Errorf("server ran %d commands on the new level, want 5", got)
	}
	if misses := r.c.PredictionStats().Misses; misses != 0 {
		t.Errorf("Misses = %d, want 0", misses)
	}
}

func TestRenderStateExcludesSelf(t *testing.T) {
	r := newRig(t, nil, nil)
	if _, ok := r.c.RenderState(r.now); ok {
		t.Errorf("RenderState() ok before connecting")
	}
	r.join()
	r.step()

	v, ok := r.c.RenderState(r.now)
	if !ok {
		t.Fatalf("RenderState() not ok")
	}
	// Two props; the local player is drawn from its own state.
	if len(v.Entities) != 2 {
		t.Fatalf("len(Entities) = %d, want 2", len(v.Entities))
	}
	for _, es := range v.Entities {
		if es.Number == 1 {
			t.Errorf("Entities include the local player")
		}
	}
	if v.Entities[0].Number > v.Entities[1].Number {
		t.Errorf("Entities not sorted: %d, %d", v.Entities[0].Number, v.Entities[1].Number)
	}
}

func TestRenderStateWithoutPrediction(t *testing.T) {
	cfg := testConfig()
	cfg.Predict = false
	r := newRig(t, cfg, nil)
	r.join()
	for range 4 {
		r.step(walk(50), walk(50))
	}
	r.step()

	// Far enough past the last snapshot to sit on it.
	v, ok := r.c.RenderState(r.now.Add(time.Second))
	if !ok {
		t.Fatalf("RenderState() not ok")
	}
	if v.Predicted {
		t.Errorf("Predicted = true with prediction off")
	}
	want := pmove.FixedToVec(r.world.PlayerState(0).Pmove.Origin)
	if v.Origin != want {
		t.Errorf("Origin = %v, want %v", v.Origin, want)
	}
	if r.c.PredictionStats().Predicted != 0 {
		t.Errorf("Predicted = %d, want 0", r.c.PredictionStats().Predicted)
	}
}

func TestLerpFollowsJitterDelay(t *testing.T) {
	cfg := testConfig()
	cfg.Predict = false
	r := newRig(t, cfg, nil)
	r.join()
	for range 4 {
		r.step(walk(50), walk(50))
	}
	prev := pmove.FixedToVec(r.c.prev.ps.Pmove.Origin)
	cur := pmove.FixedToVec(r.c.cur.ps.Pmove.Origin)
	if prev == cur {
		t.Fatalf("player did not move between the last two frames")
	}

	// Half a tick of delay puts the view halfway between the two frames.
	r.c.buffer.Delay = tick / 2
	v, ok := r.c.RenderState(r.now)
	if !ok {
		t.Fatalf("RenderState() not ok")
	}
	if v.Lerp != 0.5 {
		t.Errorf("Lerp = %v, want 0.5", v.Lerp)
	}
	if want := interp.LerpVec(prev, cur, 0.5); v.Origin != want {
		t.Errorf("Origin = %v, want %v", v.Origin, want)
	}

	// A delay reaching past the previous frame holds on it.
	r.c.buffer.Delay = tick * 3 / 2
	if v, _ := r.c.RenderState(r.now); v.Origin != prev {
		t.Errorf("Origin = %v, want previous frame %v", v.Origin, prev)
	}
}

func TestDisconnect(t *testing.T) {
	r := newRig(t, nil, nil)
	r.join()
	if err := r.c.Disconnect(r.now); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if r.c.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", r.c.State())
	}
	r.step()
	if r.world.Active(0) {
		t.Errorf("server kept the slot after disconnect")
	}
	if got := r.c.SampleCommand(walk(50), r.now); got != -1 {
		t.Errorf("SampleCommand() after disconnect = %d, want -1", got)
	}
}

// readDemo parses every message in a demo with a fresh parser and returns
// the ops of the first message and the frames seen.
func readDemo(t *testing.T, data []byte) (first []protocol.ServerOp, frames []int32) {
	t.Helper()
	parser := snapshot.NewParser(snapshot.NewBaselines(), quietLogger())
	var parse func(msg []byte, record bool)
	parse = func(msg []byte, record bool) {
		m := protocol.NewReader(msg)
		for m.Remaining() > 0 {
			op := protocol.ServerOp(m.ReadUint8())
			if record {
				first = append(first, op)
			}
			switch op {
			case protocol.SvcNop:
			case protocol.SvcServerData:
				m.ReadServerData()
			case protocol.SvcConfigString:
				m.ReadConfigString()
			case protocol.SvcSpawnBaseline:
				parser.Baselines().Set(m.ReadBaseline())
			case protocol.SvcStuffText, protocol.SvcPrint:
				m.ReadString()
			case protocol.SvcZPacket:
				deflated, size, ok := m.ReadZPacket()
				if !ok {
					t.Fatalf("bad zpacket in demo")
				}
				inflated, err := compress.DecompressKnownSize(deflated, size)
				if err != nil {
					t.Fatalf("DecompressKnownSize() error = %v", err)
				}
				parse(inflated, false)
			case protocol.SvcFrame:
				res, err := parser.ApplySnapshot(m)
				if err != nil {
					t.Fatalf("ApplySnapshot() error = %v", err)
				}
				if !res.Valid {
					t.Errorf("frame %d in demo is not valid", res.Frame.ServerFrame)
				}
				frames = append(frames, res.Frame.ServerFrame)
			default:
				t.Fatalf("unexpected op %s in demo", op)
			}
		}
	}

	r := demo.NewReader(bytes.NewReader(data))
	for n := 0; ; n++ {
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			return first, frames
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		parse(msg, n == 0)
	}
}

func TestDemoFromConnect(t *testing.T) {
	var buf bytes.Buffer
	rec := demo.NewRecorder(&buf, demo.Options{Compress: true})
	r := newRig(t, nil, nil, WithDemo(rec))
	r.join()
	for range 3 {
		r.step(walk(50))
	}
	if !r.c.Recording() {
		t.Fatalf("Recording() = false")
	}
	if err := r.c.Disconnect(r.now); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if r.c.Recording() {
		t.Errorf("Recording() = true after Disconnect")
	}

	first, frames := readDemo(t, buf.Bytes())
	if len(first) == 0 || first[0] != protocol.SvcServerData {
		t.Errorf("first message ops = %v, want serverdata first", first)
	}
	if len(frames) < 4 {
		t.Errorf("demo has %d frames, want at least 4", len(frames))
	}
}

func TestStartDemoInGame(t *testing.T) {
	r := newRig(t, nil, nil)
	r.join()
	for range 3 {
		r.step(walk(50))
	}

	var buf bytes.Buffer
	if err := r.c.StartDemo(demo.NewRecorder(&buf, demo.Options{})); err != nil {
		t.Fatalf("StartDemo() error = %v", err)
	}
	for range 4 {
		r.step(walk(50))
	}
	if err := r.c.StopDemo(); err != nil {
		t.Fatalf("StopDemo() error = %v", err)
	}

	// Every frame must parse from the demo alone, so recording starts at a
	// full snapshot.
	first, frames := readDemo(t, buf.Bytes())
	if len(first) < 3 || first[0] != protocol.SvcServerData || first[1] != protocol.SvcConfigString ||
		first[len(first)-1] != protocol.SvcSpawnBaseline {
		t.Errorf("header ops = %v, want serverdata, configstrings then baselines", first)
	}
	if len(frames) == 0 {
		t.Errorf("demo has no frames")
	}
}

// fakeServer answers the handshake by hand so tests can send anything.
type fakeServer struct {
	t      *testing.T
	q      *ingress.Queue
	ep     *transport.LoopbackEndpoint
	ch     *netchan.Channel
	reject string
}

func newFake(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	lb := transport.NewLoopback()
	f := &fakeServer{t: t, q: ingress.NewQueue(64)}
	f.ep = lb.Attach(0, f.q)
	cq := ingress.NewQueue(64)
	c := New(testConfig(), lb.Attach(1, cq), cq)
	return f, c
}

// poll answers handshake packets and returns the sequenced messages.
func (f *fakeServer) poll(now time.Time) [][]byte {
	var msgs [][]byte
	f.q.Drain(f.q.Cap(), func(p ingress.Packet) {
		data, ok := netchan.OutOfBandData(p.Data)
		if !ok {
			if f.ch == nil {
				return
			}
			if body, ok := f.ch.Process(p.Data, now); ok {
				msgs = append(msgs, body)
			}
			return
		}
		verb, args := protocol.SplitCommand(string(data))
		switch verb {
		case protocol.OOBGetChallenge:
			netchan.SendOutOfBand(f.ep, p.From, []byte(protocol.OOBChallenge+" 1234"))
		case protocol.OOBConnect:
			if f.reject != "" {
				netchan.SendOutOfBand(f.ep, p.From, []byte(protocol.OOBReject+" "+f.reject))
				return
			}
			if len(args) < 3 || args[2] != "1234" {
				f.t.Errorf("connect args = %q, want challenge 1234", args)
			}
			qport, _ := strconv.Atoi(args[1])
			f.ch = netchan.New(netchan.SideServer, f.ep, &netchan.Config{Logger: quietLogger()})
			f.ch.Setup(p.From, uint16(qport), now)
			netchan.SendOutOfBand(f.ep, p.From, []byte(protocol.OOBClientConnect))
		}
	})
	return msgs
}

func (f *fakeServer) send(now time.Time, fn func(msg *protocol.Message)) {
	msg := protocol.NewMessage(protocol.MaxMessageLen)
	fn(msg)
	if err := f.ch.SendReliable(msg.Bytes()); err != nil {
		f.t.Fatalf("SendReliable() error = %v", err)
	}
	if err := f.ch.Transmit(nil, now); err != nil {
		f.t.Fatalf("Transmit() error = %v", err)
	}
}

// handshake runs the connectionless exchange until the client is connected.
func (f *fakeServer) handshake(c *Client, now time.Time) {
	f.t.Helper()
	c.BeginConnect(netchan.LoopbackAddr(0), now)
	for range 3 {
		f.poll(now)
		c.Frame(now)
	}
	if c.State() != StateConnected {
		f.t.Fatalf("State() = %s, want connected (err %v)", c.State(), c.Err())
	}
}

func TestConnectRejected(t *testing.T) {
	f, c := newFake(t)
	f.reject = "Server is full"
	c.BeginConnect(netchan.LoopbackAddr(0), epoch)
	for range 3 {
		f.poll(epoch)
		c.Frame(epoch)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("State() = %s, want disconnected", c.State())
	}
	if !neterrors.HasCode(c.Err(), "E022") {
		t.Errorf("Err() = %v, want E022", c.Err())
	}
}

func TestConnectTimeout(t *testing.T) {
	lb := transport.NewLoopback()
	q := ingress.NewQueue(8)
	c := New(testConfig(), lb.Attach(1, q), q)
	c.BeginConnect(netchan.LoopbackAddr(0), epoch)

	now := epoch
	for now.Sub(epoch) <= DefaultConnectTimeout {
		now = now.Add(ConnectRetry)
		c.Frame(now)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("State() = %s, want disconnected", c.State())
	}
	if !neterrors.HasCode(c.Err(), "E021") {
		t.Errorf("Err() = %v, want E021", c.Err())
	}
}

func TestChallengeRetried(t *testing.T) {
	f, c := newFake(t)
	c.BeginConnect(netchan.LoopbackAddr(0), epoch)
	// The first getchallenge is lost.
	f.q.Drain(f.q.Cap(), func(ingress.Packet) {})

	c.Frame(epoch.Add(ConnectRetry / 2))
	if f.q.Len() != 0 {
		t.Fatalf("request resent before ConnectRetry")
	}
	now := epoch.Add(ConnectRetry)
	c.Frame(now)
	for range 3 {
		f.poll(now)
		c.Frame(now)
	}
	if c.State() != StateConnected {
		t.Errorf("State() = %s, want connected", c.State())
	}
}

func TestProtocolMismatch(t *testing.T) {
	f, c := newFake(t)
	f.handshake(c, epoch)
	f.send(epoch, func(msg *protocol.Message) {
		msg.WriteServerData(protocol.ServerData{Protocol: protocol.ProtocolVersion + 1, LevelName: "q2dm1"})
	})
	c.Frame(epoch)
	if c.State() != StateDisconnected {
		t.Fatalf("State() = %s, want disconnected", c.State())
	}
	if !neterrors.HasCode(c.Err(), "E002") {
		t.Errorf("Err() = %v, want E002", c.Err())
	}
}

func TestServerDisconnects(t *testing.T) {
	f, c := newFake(t)
	f.handshake(c, epoch)
	f.send(epoch, func(msg *protocol.Message) {
		msg.WriteUint8(uint8(protocol.SvcDisconnect))
	})
	c.Frame(epoch)
	if !errors.Is(c.Err(), ErrDisconnected) {
		t.Errorf("Err() = %v, want ErrDisconnected", c.Err())
	}
}

func TestSignonAnsweredWithBegin(t *testing.T) {
	f, c := newFake(t)
	f.handshake(c, epoch)
	f.send(epoch, func(msg *protocol.Message) {
		msg.WriteServerData(protocol.ServerData{Protocol: protocol.ProtocolVersion, PlayerNum: 2, LevelName: "q2dm1"})
		msg.WriteBaseline(&protocol.EntityState{Number: 7, ModelIndex: 3})
		msg.WriteStuffText(protocol.CmdPrecache + "\n")
	})
	c.Frame(epoch)

	var cmds []string
	for _, body := range f.poll(epoch) {
		m := protocol.NewReader(body)
		for m.Remaining() > 0 {
			if op := protocol.ClientOp(m.ReadUint8()); op != protocol.ClcStringCmd {
				t.Fatalf("op = %s, want stringcmd", op)
			}
			cmds = append(cmds, m.ReadString())
		}
	}
	if len(cmds) != 1 || cmds[0] != protocol.CmdBegin {
		t.Errorf("client sent %q, want [begin]", cmds)
	}
	if got := c.ServerData().LevelName; got != "q2dm1" {
		t.Errorf("LevelName = %q, want q2dm1", got)
	}
	if got := c.baselineCount(); got != 1 {
		t.Errorf("baselines = %d, want 1", got)
	}
}

func TestUserinfo(t *testing.T) {
	cfg := testConfig().WithName("alice")
	cfg.Userinfo = map[string]string{"skin": "female/athena", "name": "ignored", "hand": "2"}
	c := New(cfg, nil, ingress.NewQueue(1))
	want := `\name\alice\hand\2\skin\female/athena`
	if got := c.userinfo(); got != want {
		t.Errorf("userinfo() = %q, want %q", got, want)
	}
}

func TestConfigClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Userinfo = map[string]string{"skin": "male/grunt"}
	clone := cfg.WithName("bob")
	clone.Userinfo["skin"] = "female/athena"
	if cfg.Name != "player" {
		t.Errorf("Name = %q, want player", cfg.Name)
	}
	if cfg.Userinfo["skin"] != "male/grunt" {
		t.Errorf("original Userinfo changed to %q", cfg.Userinfo["skin"])
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateChallenging, "challenging"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateActive, "active"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
