package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vango-dev/netsync/pkg/ingress"
	"github.com/vango-dev/netsync/pkg/netchan"
	"github.com/vango-dev/netsync/pkg/prediction"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

// gathered returns the value of the single-series metric name from reg.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		switch {
		case m.Gauge != nil:
			return m.GetGauge().GetValue()
		case m.Counter != nil:
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestRecordPacketAndChannel(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.RecordPacket(ingress.Packet{Source: ingress.SourceUDP, Data: make([]byte, 100)})
	m.RecordPacket(ingress.Packet{Source: ingress.SourceUDP, Data: make([]byte, 20)})
	m.RecordPacket(ingress.Packet{Source: ingress.SourceWebSocket, Data: make([]byte, 5)})

	if got := counterValue(t, m.packetsReceived.WithLabelValues("udp")); got != 2 {
		t.Errorf("packets_received_total(udp) = %v, want 2", got)
	}
	if got := counterValue(t, m.packetsReceived.WithLabelValues("websocket")); got != 1 {
		t.Errorf("packets_received_total(websocket) = %v, want 1", got)
	}
	if got := counterValue(t, m.bytesReceived); got != 125 {
		t.Errorf("bytes_received_total = %v, want 125", got)
	}

	prev := netchan.Stats{Sent: 10, Dropped: 1, Malformed: 2}
	cur := netchan.Stats{Sent: 14, Dropped: 3, Malformed: 2, Duplicates: 1}
	m.RecordChannel(prev, cur)
	m.RecordChannel(cur, cur)

	tests := []struct {
		name string
		c    prometheus.Counter
		want float64
	}{
		{"packets_sent_total", m.packetsSent, 4},
		{"channel_drops_total(gap)", m.channelDrops.WithLabelValues("gap"), 2},
		{"channel_drops_total(duplicate)", m.channelDrops.WithLabelValues("duplicate"), 1},
		{"channel_drops_total(malformed)", m.channelDrops.WithLabelValues("malformed"), 0},
	}
	for _, tt := range tests {
		if got := counterValue(t, tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRecordSnapshotAndServer(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))

	m.RecordSnapshot(300, false)
	m.RecordSnapshot(900, true)
	m.RecordSnapshot(200, false)
	m.RecordCompression(1000, 600)
	m.RecordCompression(10, 20)
	m.RecordTick(3 * time.Millisecond)
	m.SetClients(4)
	m.RecordConnect()
	m.RecordTimeout()
	m.RecordResync()

	if got := counterValue(t, m.snapshots.WithLabelValues("delta")); got != 2 {
		t.Errorf("snapshots_total(delta) = %v, want 2", got)
	}
	if got := counterValue(t, m.snapshots.WithLabelValues("full")); got != 1 {
		t.Errorf("snapshots_total(full) = %v, want 1", got)
	}
	if got := histogramCount(t, m.snapshotBytes); got != 3 {
		t.Errorf("snapshot_bytes count = %v, want 3", got)
	}
	if got := counterValue(t, m.zpackets); got != 2 {
		t.Errorf("zpackets_total = %v, want 2", got)
	}
	if got := counterValue(t, m.savedBytes); got != 400 {
		t.Errorf("compression_saved_bytes_total = %v, want 400", got)
	}
	if got := histogramCount(t, m.tickDuration); got != 1 {
		t.Errorf("tick_duration_seconds count = %v, want 1", got)
	}
	if got := gaugeValue(t, m.clients); got != 4 {
		t.Errorf("clients = %v, want 4", got)
	}
	for name, c := range map[string]prometheus.Counter{
		"connects_total": m.connects,
		"timeouts_total": m.timeouts,
		"resyncs_total":  m.resyncs,
	} {
		if got := counterValue(t, c); got != 1 {
			t.Errorf("%s = %v, want 1", name, got)
		}
	}
}

func TestRecordReconcile(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.RecordReconcile(prediction.Result{})
	m.RecordReconcile(prediction.Result{Miss: true, Replayed: 5})
	m.RecordReconcile(prediction.Result{Miss: true, Replayed: 2, Teleport: true})
	m.RecordReconcile(prediction.Result{Accepted: true})

	if got := counterValue(t, m.misses); got != 2 {
		t.Errorf("prediction_misses_total = %v, want 2", got)
	}
	if got := counterValue(t, m.replayed); got != 7 {
		t.Errorf("prediction_replayed_total = %v, want 7", got)
	}
	if got := counterValue(t, m.teleports); got != 1 {
		t.Errorf("prediction_teleports_total = %v, want 1", got)
	}
}

func TestWatchQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg))
	q := ingress.NewQueue(2)
	m.WatchQueue(q)

	for range 3 {
		q.TrySend(ingress.Packet{})
	}
	if got := gathered(t, reg, "netsync_queue_depth"); got != 2 {
		t.Errorf("netsync_queue_depth = %v, want 2", got)
	}
	if got := gathered(t, reg, "netsync_queue_dropped_total"); got != 1 {
		t.Errorf("netsync_queue_dropped_total = %v, want 1", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))
	m.SetClients(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(string(body), "netsync_clients 3") {
		t.Errorf("body does not contain netsync_clients 3:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordPacket(ingress.Packet{})
	m.RecordChannel(netchan.Stats{}, netchan.Stats{Sent: 1})
	m.RecordSnapshot(1, true)
	m.RecordReconcile(prediction.Result{Miss: true})
	m.RecordTick(time.Millisecond)
	m.SetClients(1)
	m.WatchQueue(ingress.NewQueue(1))
	if m.Handler() == nil {
		t.Error("Handler() = nil")
	}
}
