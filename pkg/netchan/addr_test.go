package netchan

import (
	"net"
	"net/netip"
	"testing"
)

func TestAddrEqual(t *testing.T) {
	v4 := Addr{Kind: AddrIPv4, IP: netip.MustParseAddr("10.0.0.1"), Port: 27910}
	v4OtherPort := v4
	v4OtherPort.Port = 27911
	v6 := Addr{Kind: AddrIPv6, IP: netip.MustParseAddr("fe80::1"), Port: 27910}

	tests := []struct {
		name      string
		a, b      Addr
		equal     bool
		equalBase bool
	}{
		{"same ipv4", v4, v4, true, true},
		{"port differs", v4, v4OtherPort, false, true},
		{"kind differs", v4, v6, false, false},
		{"loopback index", LoopbackAddr(1), LoopbackAddr(1), true, true},
		{"loopback other index", LoopbackAddr(1), LoopbackAddr(2), false, false},
		{"loopback ignores port", Addr{Kind: AddrLoopback, Index: 3, Port: 1}, LoopbackAddr(3), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal() = %v, want %v", got, tt.equal)
			}
			if got := tt.a.EqualBase(tt.b); got != tt.equalBase {
				t.Errorf("EqualBase() = %v, want %v", got, tt.equalBase)
			}
		})
	}
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
		kind AddrKind
	}{
		{"192.168.1.5:27910", "192.168.1.5:27910", AddrIPv4},
		{"192.168.1.5", "192.168.1.5:27910", AddrIPv4},
		{"[::1]:27911", "[::1]:27911", AddrIPv6},
		{"::1", "[::1]:27910", AddrIPv6},
		{"loopback:7", "loopback:7", AddrLoopback},
		{"loopback", "loopback:0", AddrLoopback},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddr(tt.in)
			if err != nil {
				t.Fatalf("ParseAddr(%q) error = %v", tt.in, err)
			}
			if got.String() != tt.want || got.Kind != tt.kind {
				t.Errorf("ParseAddr(%q) = %s (%v), want %s (%v)", tt.in, got, got.Kind, tt.want, tt.kind)
			}
		})
	}

	if _, err := ParseAddr("loopback:x"); err == nil {
		t.Error("ParseAddr(loopback:x) error = nil")
	}
}

func TestAddrUDPRoundTrip(t *testing.T) {
	u := &net.UDPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5000}
	a := AddrFromUDP(u)
	if a.Kind != AddrIPv4 {
		t.Errorf("Kind = %v, want ipv4", a.Kind)
	}
	back := a.UDPAddr()
	if back.Port != 5000 || !back.IP.Equal(u.IP) {
		t.Errorf("UDPAddr() = %v, want %v", back, u)
	}
	if LoopbackAddr(1).UDPAddr() != nil {
		t.Error("loopback UDPAddr() != nil")
	}
}
