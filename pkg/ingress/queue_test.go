package ingress

import (
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/netsync/pkg/netchan"
)

func packet(b byte) Packet {
	return Packet{
		Source:    SourceUDP,
		From:      netchan.LoopbackAddr(uint32(b)),
		Data:      []byte{b},
		Timestamp: time.Unix(0, int64(b)),
	}
}

func TestNewQueueCapacity(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultCapacity},
		{-5, DefaultCapacity},
		{1, 1},
		{100, 100},
		{MaxQueueCapacity + 1, MaxQueueCapacity},
	}
	for _, tt := range tests {
		if got := NewQueue(tt.in).Cap(); got != tt.want {
			t.Errorf("NewQueue(%d).Cap() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4)
	for i := byte(1); i <= 3; i++ {
		if !q.TrySend(packet(i)) {
			t.Fatalf("TrySend(%d) = false", i)
		}
	}
	for i := byte(1); i <= 3; i++ {
		p, ok := q.TryReceive()
		if !ok || p.Data[0] != i {
			t.Errorf("TryReceive() = %v, %v; want %d", p.Data, ok, i)
		}
	}
	if _, ok := q.TryReceive(); ok {
		t.Error("TryReceive() on empty queue ok = true")
	}
}

func TestQueueBounded(t *testing.T) {
	const k = 8
	q := NewQueue(k)
	for i := 0; i < k; i++ {
		if !q.TrySend(packet(byte(i))) {
			t.Fatalf("TrySend(%d) = false before capacity", i)
		}
	}
	if q.TrySend(packet(99)) {
		t.Fatal("TrySend() past capacity = true")
	}
	if q.Len() != k {
		t.Errorf("Len() = %d, want %d", q.Len(), k)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}

	// The first K are intact and in order.
	for i := 0; i < k; i++ {
		p, _ := q.TryReceive()
		if p.Data[0] != byte(i) {
			t.Errorf("packet %d = %d", i, p.Data[0])
		}
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	const (
		k         = 64
		producers = 8
		each      = 100
	)
	q := NewQueue(k)

	var wg sync.WaitGroup
	var accepted sync.Map
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			n := 0
			for i := 0; i < each; i++ {
				if q.TrySend(packet(byte(p))) {
					n++
				}
				if q.Len() > k {
					t.Errorf("Len() = %d exceeds capacity %d", q.Len(), k)
				}
			}
			accepted.Store(p, n)
		}(p)
	}
	wg.Wait()

	total := 0
	accepted.Range(func(_, v any) bool {
		total += v.(int)
		return true
	})
	if total != q.Len() {
		t.Errorf("accepted %d, Len() = %d", total, q.Len())
	}
	if uint64(total)+q.Dropped() != producers*each {
		t.Errorf("accepted %d + dropped %d != %d", total, q.Dropped(), producers*each)
	}
}

func TestQueueDrain(t *testing.T) {
	q := NewQueue(16)
	for i := 0; i < 10; i++ {
		q.TrySend(packet(byte(i)))
	}

	var got []byte
	n := q.Drain(4, func(p Packet) { got = append(got, p.Data[0]) })
	if n != 4 || string(got) != "\x00\x01\x02\x03" {
		t.Errorf("Drain(4) = %d, %v", n, got)
	}
	if q.Len() != 6 {
		t.Errorf("Len() after Drain = %d, want 6", q.Len())
	}

	n = q.Drain(100, func(Packet) {})
	if n != 6 {
		t.Errorf("Drain(100) = %d, want 6", n)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(4)
	q.TrySend(packet(1))
	q.TrySend(packet(2))
	q.Close()

	if !q.Closed() {
		t.Error("Closed() = false")
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", q.Len())
	}
	if q.TrySend(packet(3)) {
		t.Error("TrySend() after Close = true")
	}
	if q.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0 for refused-after-close", q.Dropped())
	}
}

func TestQueueCloseWithProducers(t *testing.T) {
	for range 50 {
		q := NewQueue(MaxQueueCapacity)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for range 200 {
					q.TrySend(packet(byte(i)))
				}
			}()
		}
		close(start)
		q.Close()
		wg.Wait()

		if n := q.Len(); n != 0 {
			t.Fatalf("Len() after Close = %d, want 0", n)
		}
		if _, ok := q.TryReceive(); ok {
			t.Fatalf("TryReceive() after Close returned a packet")
		}
	}
}

func BenchmarkQueue(b *testing.B) {
	q := NewQueue(MaxQueueCapacity)
	p := packet(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.TrySend(p)
		q.TryReceive()
	}
}
