package interp

import (
	"fmt"
	"time"
)

const pingHistory = 64

// NetStats summarizes link quality for diagnostics.
type NetStats struct {
	Ping    time.Duration
	AvgPing time.Duration
	MinPing time.Duration
	MaxPing time.Duration
	// Jitter is the mean absolute deviation of recent pings.
	Jitter time.Duration

	Received uint64
	Lost     uint64
	// Loss is the lost share of all packets, in percent.
	Loss float32

	// IncomingBps is the byte rate over the last full second.
	IncomingBps int

	Interp time.Duration // Current interpolation delay, for display

	pings       []time.Duration
	next        int
	bytes       int
	secondStart time.Time
}

// RecordPing adds a round-trip sample.
func (s *NetStats) RecordPing(rtt time.Duration) {
	s.Ping = rtt
	if len(s.pings) < pingHistory {
		s.pings = append(s.pings, rtt)
	} else {
		s.pings[s.next] = rtt
		s.next = (s.next + 1) % pingHistory
	}

	if s.MinPing == 0 || rtt < s.MinPing {
		s.MinPing = rtt
	}
	s.MaxPing = max(s.MaxPing, rtt)

	var sum time.Duration
	for _, p := range s.pings {
		sum += p
	}
	s.AvgPing = sum / time.Duration(len(s.pings))

	var dev time.Duration
	for _, p := range s.pings {
		d := p - s.AvgPing
		if d < 0 {
			d = -d
		}
		dev += d
	}
	s.Jitter = dev / time.Duration(len(s.pings))
}

// RecordPacket counts a received packet of size bytes.
func (s *NetStats) RecordPacket(size int, now time.Time) {
	s.Received++
	if s.secondStart.IsZero() {
		s.secondStart = now
	}
	if now.Sub(s.secondStart) >= time.Second {
		s.IncomingBps = s.bytes
		s.bytes = 0
		s.secondStart = now
	}
	s.bytes += size
}

// RecordSequence notes that received arrived when expected was due. Any
// gap is counted as lost.
func (s *NetStats) RecordSequence(expected, received int32) {
	if received > expected {
		s.Lost += uint64(received - expected)
	}
	if total := s.Received + s.Lost; total > 0 {
		s.Loss = float32(s.Lost) / float32(total) * 100
	}
}

// String formats the stats for a console line.
func (s *NetStats) String() string {
	return fmt.Sprintf("ping %dms (avg %d min %d max %d) jitter %dms loss %.1f%% interp %dms in %.1fKB/s",
		s.Ping.Milliseconds(), s.AvgPing.Milliseconds(), s.MinPing.Milliseconds(), s.MaxPing.Milliseconds(),
		s.Jitter.Milliseconds(), s.Loss, s.Interp.Milliseconds(), float64(s.IncomingBps)/1024)
}

// Reset clears every statistic.
func (s *NetStats) Reset() {
	*s = NetStats{pings: s.pings[:0]}
}
