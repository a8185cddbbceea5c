// Package outbound implements the server-side "where do accepted
// Trojan sessions actually go" connector: a direct TCP/UDP dialer
// filtered through an ACL, and (in trojan.go) the client-side Trojan
// upstream connector used by the SOCKS5 front-end.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/imgk/trojan-relay/internal/acl"
	"github.com/imgk/trojan-relay/internal/address"
)

// ErrNoAddress is returned when resolution itself returns no
// candidates. Candidates that all fail the ACL give ErrACLDenied
// instead.
var ErrNoAddress = errors.New("outbound: no usable address")

// ErrACLDenied is returned when every resolved candidate is blocked by
// the configured ACL.
var ErrACLDenied = errors.New("outbound: destination denied by acl")

// Outbound is the connector used once an inbound Trojan session has
// been authenticated and its target address decoded.
type Outbound interface {
	// DialTCP resolves addr, filters candidates through the ACL, and
	// dials the first one that succeeds.
	DialTCP(ctx context.Context, addr address.Address) (net.Conn, error)

	// ListenUDP opens a fresh UDP socket for a single UDP-associate
	// tunnel; the caller owns its lifetime.
	ListenUDP(ctx context.Context) (net.PacketConn, error)

	// ResolveUDP resolves and ACL-checks one UDP destination, used for
	// every datagram forwarded by the UDP relay's outbound direction.
	// Nothing is cached; the ACL is re-checked per datagram.
	ResolveUDP(ctx context.Context, addr address.Address) (*net.UDPAddr, error)
}

// Direct dials destinations directly from the machine trojan-relay
// runs on, filtered through an ACL block-list.
type Direct struct {
	acl      *acl.ACL
	resolver *net.Resolver
	dialer   net.Dialer
}

// NewDirect builds a Direct outbound using the system resolver.
func NewDirect(a *acl.ACL) *Direct {
	return &Direct{acl: a, resolver: net.DefaultResolver}
}

func (d *Direct) resolveCandidates(ctx context.Context, addr address.Address) ([]net.IP, error) {
	if !addr.IsDomain() {
		return []net.IP{addr.IP}, nil
	}
	ips, err := d.resolver.LookupIP(ctx, "ip", addr.Domain)
	if err != nil {
		return nil, fmt.Errorf("outbound: resolve %q: %w", addr.Domain, err)
	}
	return ips, nil
}

func (d *Direct) filterACL(ips []net.IP) []net.IP {
	if d.acl == nil {
		return ips
	}
	out := ips[:0]
	for _, ip := range ips {
		if !d.acl.HasMatch(ip) {
			out = append(out, ip)
		}
	}
	return out
}

// DialTCP implements Outbound.
func (d *Direct) DialTCP(ctx context.Context, addr address.Address) (net.Conn, error) {
	candidates, err := d.resolveCandidates(ctx, addr)
	if err != nil {
		return nil, err
	}
	allowed := d.filterACL(candidates)
	if len(allowed) == 0 {
		if len(candidates) == 0 {
			return nil, ErrNoAddress
		}
		return nil, ErrACLDenied
	}

	var lastErr error
	for _, ip := range allowed {
		conn, err := d.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), fmt.Sprint(addr.Port)))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("outbound: all candidates failed: %w", lastErr)
}

// ListenUDP implements Outbound.
func (d *Direct) ListenUDP(ctx context.Context) (net.PacketConn, error) {
	lc := net.ListenConfig{}
	return lc.ListenPacket(ctx, "udp", "0.0.0.0:0")
}

// ResolveUDP implements Outbound.
func (d *Direct) ResolveUDP(ctx context.Context, addr address.Address) (*net.UDPAddr, error) {
	candidates, err := d.resolveCandidates(ctx, addr)
	if err != nil {
		return nil, err
	}
	allowed := d.filterACL(candidates)
	if len(allowed) == 0 {
		if len(candidates) == 0 {
			return nil, ErrNoAddress
		}
		return nil, ErrACLDenied
	}
	return &net.UDPAddr{IP: allowed[0], Port: int(addr.Port)}, nil
}
