package inspector

import (
	"net"
	"net/netip"
	"strings"
)

// ParseAddress validates a socket address of the form ip:port or [ipv6]:port.
// Host names are rejected so that validation never touches the resolver.
func ParseAddress(raw string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(strings.TrimSpace(raw))
	if err != nil {
		return netip.AddrPort{}, &AddressError{Address: raw, Err: err}
	}
	return ap, nil
}

func addrPortOf(a net.Addr) (netip.AddrPort, bool) {
	switch v := a.(type) {
	case *net.TCPAddr:
		ap := v.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
	case nil:
		return netip.AddrPort{}, false
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.AddrPort{}, false
	}
	return ap, true
}

func addrString(a *netip.AddrPort) string {
	if a == nil {
		return ""
	}
	return a.String()
}
