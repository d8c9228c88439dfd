package netchan

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// DefaultPort is used when a parsed address has no port.
const DefaultPort = 27910

// AddrKind tags the variant held by an Addr.
type AddrKind uint8

const (
	AddrLoopback AddrKind = iota // In-process or per-connection stream peer
	AddrIPv4
	AddrIPv6
)

// String returns the string representation of the address kind.
func (k AddrKind) String() string {
	switch k {
	case AddrLoopback:
		return "loopback"
	case AddrIPv4:
		return "ipv4"
	case AddrIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// ErrBadAddr is returned by ParseAddr.
var ErrBadAddr = errors.New("netchan: bad address")

// Addr identifies a peer. Loopback addresses compare by Index only; IP
// addresses compare by host bytes, zone and port.
type Addr struct {
	Kind  AddrKind
	IP    netip.Addr
	Port  uint16
	Index uint32
}

// LoopbackAddr returns the loopback address with the given index.
func LoopbackAddr(index uint32) Addr {
	return Addr{Kind: AddrLoopback, Index: index}
}

// Equal reports whether a and b name the same peer.
func (a Addr) Equal(b Addr) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == AddrLoopback {
		return a.Index == b.Index
	}
	return a.IP == b.IP && a.Port == b.Port
}

// EqualBase is Equal without comparing ports. Servers use it together with
// the qport to follow clients whose NAT remapped the source port.
func (a Addr) EqualBase(b Addr) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == AddrLoopback {
		return a.Index == b.Index
	}
	return a.IP == b.IP
}

// IsLoopback reports whether the address is a loopback-kind peer.
func (a Addr) IsLoopback() bool {
	return a.Kind == AddrLoopback
}

// String formats the address as host:port, [host]:port or loopback:N.
func (a Addr) String() string {
	switch a.Kind {
	case AddrLoopback:
		return "loopback:" + strconv.FormatUint(uint64(a.Index), 10)
	case AddrIPv4, AddrIPv6:
		return netip.AddrPortFrom(a.IP, a.Port).String()
	default:
		return "invalid"
	}
}

// UDPAddr converts an IP address to a *net.UDPAddr. It returns nil for
// loopback addresses.
func (a Addr) UDPAddr() *net.UDPAddr {
	if a.Kind == AddrLoopback {
		return nil
	}
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(a.IP, a.Port))
}

// AddrFromUDP converts a socket address.
func AddrFromUDP(u *net.UDPAddr) Addr {
	if u == nil {
		return Addr{}
	}
	return AddrFromAddrPort(u.AddrPort())
}

// AddrFromAddrPort converts a netip.AddrPort. IPv4-mapped IPv6 addresses are
// unmapped so a dual-stack socket reports the same Addr as an IPv4 one.
func AddrFromAddrPort(ap netip.AddrPort) Addr {
	ip := ap.Addr().Unmap()
	kind := AddrIPv6
	if ip.Is4() {
		kind = AddrIPv4
	}
	return Addr{Kind: kind, IP: ip, Port: ap.Port()}
}

// ParseAddr parses "loopback:N", "host", "host:port" and "[v6]:port". Host
// names are resolved. A missing port becomes DefaultPort.
func ParseAddr(s string) (Addr, error) {
	if rest, ok := strings.CutPrefix(s, "loopback"); ok {
		rest = strings.TrimPrefix(rest, ":")
		if rest == "" {
			return LoopbackAddr(0), nil
		}
		n, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return Addr{}, fmt.Errorf("%w: %q", ErrBadAddr, s)
		}
		return LoopbackAddr(uint32(n)), nil
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		return AddrFromAddrPort(ap), nil
	}
	if ip, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return AddrFromAddrPort(netip.AddrPortFrom(ip, DefaultPort)), nil
	}

	host, port := s, strconv.Itoa(DefaultPort)
	if h, p, err := net.SplitHostPort(s); err == nil {
		host, port = h, p
	}
	u, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %q: %v", ErrBadAddr, s, err)
	}
	return AddrFromUDP(u), nil
}
