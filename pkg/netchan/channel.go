package netchan

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// Wire sizes.
const (
	// MaxPacketSize is the largest datagram Transmit writes.
	MaxPacketSize = protocol.MaxMessageLen

	// MaxFragmentSize is the payload carried by every fragment but the last.
	// A fragment shorter than this ends the message.
	MaxFragmentSize = 1280

	// MaxMessageSize bounds a reassembled message.
	MaxMessageSize = 16384

	// MaxReliableSize bounds the queued reliable data.
	MaxReliableSize = 4096

	// DefaultTimeout is how long a channel may go without receiving.
	DefaultTimeout = 30 * time.Second

	// MaxDuplicates caps the extra copies sent per datagram.
	MaxDuplicates = 2

	headerSize         = 8
	qportSize          = 2
	fragmentHeaderSize = 4

	fragmentBit  = 1 << 31
	sequenceMask = 0x7fffffff
)

// Body flag bits.
const (
	flagReliable    = 1 << 0
	flagReliableSeq = 1 << 1
)

// Errors returned by SendReliable.
var (
	ErrReliablePending  = errors.New("netchan: reliable message pending")
	ErrReliableOverflow = errors.New("netchan: reliable message too large")
)

// Side says which end of the connection a channel is. Client channels send
// the qport; server channels expect it.
type Side uint8

const (
	SideClient Side = iota
	SideServer
)

// PacketWriter sends one datagram. Implementations must not retain data.
type PacketWriter interface {
	WritePacket(data []byte, to Addr) error
}

// PacketWriterFunc adapts a function to PacketWriter.
type PacketWriterFunc func(data []byte, to Addr) error

// WritePacket calls f.
func (f PacketWriterFunc) WritePacket(data []byte, to Addr) error {
	return f(data, to)
}

// Config configures a Channel.
type Config struct {
	// Timeout is how long the channel may go without a valid packet.
	// Default: 30s.
	Timeout time.Duration

	// MaxFragment overrides MaxFragmentSize. Both peers must agree.
	MaxFragment int

	// Duplicates is the number of extra copies of each unfragmented
	// datagram to send on lossy links. Clamped to [0, MaxDuplicates].
	Duplicates int

	// Logger receives debug-level drop diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:     DefaultTimeout,
		MaxFragment: MaxFragmentSize,
	}
}

// Stats are per-channel diagnostic counters.
type Stats struct {
	Sent              uint64 // Datagrams written, fragments and duplicates included
	Received          uint64 // Messages delivered by Process
	Dropped           uint64 // Sequence gaps
	Duplicates        uint64 // Stale or repeated sequences
	Malformed         uint64
	FragmentsSent     uint64
	FragmentsReceived uint64
	ReliableResends   uint64
	UnreliableDumped  uint64
}

// Channel sequences datagrams to one peer and carries a single in-flight
// reliable message that is resent on every packet until acknowledged.
//
// A Channel is owned by the simulation goroutine and is not safe for
// concurrent use.
type Channel struct {
	side       Side
	config     *Config
	baseLogger *slog.Logger
	logger     *slog.Logger
	writer     PacketWriter

	remote Addr
	qport  uint16

	incomingSequence     uint32
	incomingAcknowledged uint32
	// Reliable bit the peer last acknowledged.
	incomingReliableAcknowledged bool
	// Reliable bit of the last reliable message received from the peer.
	incomingReliableSequence bool

	outgoingSequence     uint32
	reliableSequence     bool
	lastReliableSequence uint32

	message       *protocol.Message // Queued reliable data
	reliable      []byte            // In flight, unacknowledged
	reliableSends int

	fragmentSequence uint32
	fragmentBuf      []byte

	lastReceived time.Time
	lastSent     time.Time

	stats Stats
}

// New creates a channel. Setup must be called before use. A nil config uses
// DefaultConfig.
func New(side Side, w PacketWriter, config *Config) *Channel {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxFragment <= 0 || config.MaxFragment > MaxPacketSize-headerSize-qportSize-fragmentHeaderSize {
		config.MaxFragment = MaxFragmentSize
	}
	config.Duplicates = min(max(config.Duplicates, 0), MaxDuplicates)

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("component", "netchan")
	return &Channel{
		side:       side,
		config:     config,
		baseLogger: logger,
		logger:     logger,
		writer:     w,
		message:    protocol.NewMessage(MaxReliableSize),
	}
}

// Setup resets the channel for a new connection to remote.
func (c *Channel) Setup(remote Addr, qport uint16, now time.Time) {
	c.remote = remote
	c.qport = qport
	c.incomingSequence = 0
	c.incomingAcknowledged = 0
	c.incomingReliableAcknowledged = false
	c.incomingReliableSequence = false
	c.outgoingSequence = 1
	c.reliableSequence = false
	c.lastReliableSequence = 0
	c.message.Reset()
	c.reliable = c.reliable[:0]
	c.reliableSends = 0
	c.fragmentSequence = 0
	c.fragmentBuf = c.fragmentBuf[:0]
	c.lastReceived = now
	c.lastSent = now
	c.stats = Stats{}
	c.logger = c.baseLogger.With("remote", remote.String())
}

// Remote returns the peer address.
func (c *Channel) Remote() Addr {
	return c.remote
}

// SetRemote updates the peer address after a NAT port change.
func (c *Channel) SetRemote(a Addr) {
	c.remote = a
}

// Qport returns the client's port-independent identifier.
func (c *Channel) Qport() uint16 {
	return c.qport
}

// OutgoingSequence returns the sequence the next Transmit will use.
func (c *Channel) OutgoingSequence() uint32 {
	return c.outgoingSequence
}

// IncomingSequence returns the newest sequence accepted from the peer.
func (c *Channel) IncomingSequence() uint32 {
	return c.incomingSequence
}

// IncomingAcknowledged returns the newest of our sequences the peer has seen.
func (c *Channel) IncomingAcknowledged() uint32 {
	return c.incomingAcknowledged
}

// LastReceived returns when the last valid packet arrived.
func (c *Channel) LastReceived() time.Time {
	return c.lastReceived
}

// LastSent returns when Transmit last ran.
func (c *Channel) LastSent() time.Time {
	return c.lastSent
}

// Stats returns a copy of the counters.
func (c *Channel) Stats() Stats {
	return c.stats
}

// CanReliable reports whether no reliable message is in flight.
func (c *Channel) CanReliable() bool {
	return len(c.reliable) == 0
}

// ReliablePending reports whether reliable data is queued or in flight.
func (c *Channel) ReliablePending() bool {
	return len(c.reliable) > 0 || c.message.Len() > 0
}

// NeedReliable reports whether the next Transmit will carry a reliable part.
func (c *Channel) NeedReliable() bool {
	return c.ReliablePending()
}

// SendReliable queues data for reliable delivery. Data queued while another
// reliable message is in flight goes out together once that one is
// acknowledged. It never replaces the in-flight message: when the queue has
// no room ErrReliablePending (or ErrReliableOverflow when nothing is in
// flight) is returned and nothing is queued.
func (c *Channel) SendReliable(data []byte) error {
	if len(data) > c.message.Space() {
		if len(c.reliable) > 0 {
			return ErrReliablePending
		}
		return ErrReliableOverflow
	}
	c.message.WriteData(data)
	return nil
}

// SendUnreliable transmits data with no delivery guarantee, piggy-backing
// any pending reliable data.
func (c *Channel) SendUnreliable(data []byte, now time.Time) error {
	return c.Transmit(data, now)
}

// Transmit builds and sends the next packet. The pending reliable message,
// if any, is included first; the unreliable data follows if it fits and is
// dropped otherwise. Messages larger than MaxPacketSize are fragmented.
func (c *Channel) Transmit(unreliable []byte, now time.Time) error {
	if len(c.reliable) == 0 && c.message.Len() > 0 {
		c.reliable = append(c.reliable[:0], c.message.Bytes()...)
		c.message.Reset()
		c.reliableSequence = !c.reliableSequence
		c.reliableSends = 0
	}
	sendReliable := len(c.reliable) > 0
	if sendReliable {
		if c.reliableSends > 0 {
			c.stats.ReliableResends++
		}
		c.reliableSends++
	}

	body := make([]byte, 0, 1+2+len(c.reliable)+len(unreliable))
	var flags byte
	if sendReliable {
		flags |= flagReliable
		if c.reliableSequence {
			flags |= flagReliableSeq
		}
	}
	body = append(body, flags)
	if sendReliable {
		body = binary.LittleEndian.AppendUint16(body, uint16(len(c.reliable)))
		body = append(body, c.reliable...)
		c.lastReliableSequence = c.outgoingSequence
	}
	if len(body)+len(unreliable) <= MaxMessageSize {
		body = append(body, unreliable...)
	} else {
		c.stats.UnreliableDumped++
		c.logger.Debug("dumped unreliable", "size", len(unreliable))
	}

	seq := c.outgoingSequence
	c.outgoingSequence = (c.outgoingSequence + 1) & sequenceMask
	c.lastSent = now

	if c.headerLen()+len(body) <= MaxPacketSize {
		pkt := c.appendHeader(make([]byte, 0, c.headerLen()+len(body)), seq, false)
		pkt = append(pkt, body...)
		return c.send(pkt, 1+c.config.Duplicates)
	}
	return c.sendFragments(seq, body)
}

func (c *Channel) sendFragments(seq uint32, body []byte) error {
	size := c.config.MaxFragment
	for offset := 0; ; offset += size {
		n := min(size, len(body)-offset)
		pkt := c.appendHeader(make([]byte, 0, c.headerLen()+fragmentHeaderSize+n), seq, true)
		pkt = binary.LittleEndian.AppendUint16(pkt, uint16(offset))
		pkt = binary.LittleEndian.AppendUint16(pkt, uint16(n))
		pkt = append(pkt, body[offset:offset+n]...)
		if err := c.send(pkt, 1); err != nil {
			return err
		}
		c.stats.FragmentsSent++
		// A full-size last fragment is followed by an empty one so the
		// receiver can tell the message ended.
		if n < size {
			return nil
		}
	}
}

func (c *Channel) headerLen() int {
	if c.side == SideClient {
		return headerSize + qportSize
	}
	return headerSize
}

func (c *Channel) appendHeader(pkt []byte, seq uint32, fragment bool) []byte {
	w1 := seq & sequenceMask
	if fragment {
		w1 |= fragmentBit
	}
	w2 := c.incomingSequence & sequenceMask
	if c.incomingReliableSequence {
		w2 |= 1 << 31
	}
	pkt = binary.LittleEndian.AppendUint32(pkt, w1)
	pkt = binary.LittleEndian.AppendUint32(pkt, w2)
	if c.side == SideClient {
		pkt = binary.LittleEndian.AppendUint16(pkt, c.qport)
	}
	return pkt
}

func (c *Channel) send(pkt []byte, copies int) error {
	if c.writer == nil {
		return nil
	}
	for i := 0; i < copies; i++ {
		if err := c.writer.WritePacket(pkt, c.remote); err != nil {
			return err
		}
		c.stats.Sent++
	}
	return nil
}

// Process validates an incoming datagram and returns its payload: the
// reliable part (when it is new) followed by the unreliable part. It returns
// false for stale, duplicate, malformed or incomplete fragmented packets,
// which are counted and otherwise ignored.
func (c *Channel) Process(packet []byte, now time.Time) ([]byte, bool) {
	hdr := c.peerHeaderLen()
	if len(packet) < hdr || IsOutOfBand(packet) {
		c.stats.Malformed++
		c.logger.Debug("short or out-of-band packet", "size", len(packet))
		return nil, false
	}

	w1 := binary.LittleEndian.Uint32(packet[0:4])
	w2 := binary.LittleEndian.Uint32(packet[4:8])
	seq := w1 & sequenceMask
	fragment := w1&fragmentBit != 0
	ack := w2 & sequenceMask
	reliableAck := w2&(1<<31) != 0
	body := packet[hdr:]

	if !sequenceNewer(seq, c.incomingSequence) {
		c.stats.Duplicates++
		c.logger.Debug("out of order packet", "sequence", seq, "incoming", c.incomingSequence)
		return nil, false
	}

	if fragment {
		assembled, ok := c.reassemble(seq, body)
		if !ok {
			return nil, false
		}
		body = assembled
	}

	payload, reliableBit, hasReliable, ok := splitBody(body)
	if !ok {
		c.stats.Malformed++
		c.logger.Debug("malformed packet body", "sequence", seq, "size", len(body))
		return nil, false
	}

	if gap := (seq - c.incomingSequence - 1) & sequenceMask; gap > 0 && c.incomingSequence != 0 {
		c.stats.Dropped += uint64(gap)
		c.logger.Debug("dropped packets", "count", gap, "at", seq)
	}

	c.incomingSequence = seq
	c.incomingAcknowledged = ack
	c.incomingReliableAcknowledged = reliableAck
	if reliableAck == c.reliableSequence {
		c.reliable = c.reliable[:0]
	}

	out := payload.unreliable
	if hasReliable {
		if reliableBit != c.incomingReliableSequence {
			c.incomingReliableSequence = reliableBit
			out = append(append(make([]byte, 0, len(payload.reliable)+len(payload.unreliable)),
				payload.reliable...), payload.unreliable...)
		}
	}

	c.lastReceived = now
	c.stats.Received++
	return out, true
}

func (c *Channel) peerHeaderLen() int {
	if c.side == SideServer {
		return headerSize + qportSize
	}
	return headerSize
}

// reassemble appends a fragment and returns the full body once the final
// fragment arrives. Fragments must arrive in order.
func (c *Channel) reassemble(seq uint32, data []byte) ([]byte, bool) {
	if len(data) < fragmentHeaderSize {
		c.stats.Malformed++
		return nil, false
	}
	offset := int(binary.LittleEndian.Uint16(data[0:2]))
	n := int(binary.LittleEndian.Uint16(data[2:4]))
	data = data[fragmentHeaderSize:]
	if n != len(data) || n > c.config.MaxFragment {
		c.stats.Malformed++
		c.logger.Debug("bad fragment length", "sequence", seq, "length", n, "size", len(data))
		return nil, false
	}

	if seq != c.fragmentSequence {
		c.fragmentSequence = seq
		c.fragmentBuf = c.fragmentBuf[:0]
	}
	if offset != len(c.fragmentBuf) || len(c.fragmentBuf)+n > MaxMessageSize {
		c.stats.Malformed++
		c.logger.Debug("fragment out of order", "sequence", seq, "offset", offset, "have", len(c.fragmentBuf))
		c.fragmentBuf = c.fragmentBuf[:0]
		return nil, false
	}

	c.fragmentBuf = append(c.fragmentBuf, data...)
	c.stats.FragmentsReceived++
	if n == c.config.MaxFragment {
		return nil, false
	}

	body := c.fragmentBuf
	c.fragmentBuf = nil
	c.fragmentSequence = 0
	return body, true
}

type bodyParts struct {
	reliable   []byte
	unreliable []byte
}

func splitBody(body []byte) (bodyParts, bool, bool, bool) {
	if len(body) < 1 {
		return bodyParts{}, false, false, false
	}
	flags := body[0]
	body = body[1:]
	if flags&flagReliable == 0 {
		return bodyParts{unreliable: body}, false, false, true
	}
	if len(body) < 2 {
		return bodyParts{}, false, false, false
	}
	n := int(binary.LittleEndian.Uint16(body))
	body = body[2:]
	if n > len(body) {
		return bodyParts{}, false, false, false
	}
	return bodyParts{reliable: body[:n], unreliable: body[n:]}, flags&flagReliableSeq != 0, true, true
}

// sequenceNewer reports whether a is after b in 31-bit sequence space.
func sequenceNewer(a, b uint32) bool {
	d := (a - b) & sequenceMask
	return d != 0 && d < 1<<30
}

// TimedOut reports whether nothing valid arrived within the timeout.
func (c *Channel) TimedOut(now time.Time) bool {
	return now.Sub(c.lastReceived) > c.config.Timeout
}

// PeekQport reads the qport from a client-to-server packet without
// processing it. Servers use it to match a client whose source port changed.
func PeekQport(packet []byte) (uint16, bool) {
	if len(packet) < headerSize+qportSize || IsOutOfBand(packet) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(packet[headerSize:]), true
}
