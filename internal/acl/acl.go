// Package acl implements the destination block-list consulted by the
// direct outbound before dialing a client-supplied address. It is a
// default-deny-to-match lookup: HasMatch reports whether an IP falls
// inside any blocked CIDR. The block list is small and static, so a
// linear scan over net.IPNet beats carrying a prefix-trie dependency.
package acl

import "net"

// ACL is an immutable set of blocked CIDR prefixes, safe for concurrent
// use by many connections.
type ACL struct {
	blocks []*net.IPNet
}

// New builds an ACL. When blockLocal is true the baseline set of
// private/loopback/link-local ranges is included.
func New(blockLocal bool, extra []string) (*ACL, error) {
	a := &ACL{}
	if blockLocal {
		for _, cidr := range baselineBlocks {
			_, ipnet, err := net.ParseCIDR(cidr)
			if err != nil {
				// baselineBlocks is a compile-time constant; a parse
				// failure here is a programming error.
				panic("acl: invalid baseline CIDR " + cidr + ": " + err.Error())
			}
			a.blocks = append(a.blocks, ipnet)
		}
	}
	for _, cidr := range extra {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		a.blocks = append(a.blocks, ipnet)
	}
	return a, nil
}

// baselineBlocks is the set applied when "block local" is enabled: the
// usual private, carrier-grade-NAT, loopback and link-local ranges for
// both address families.
var baselineBlocks = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"172.16.0.0/12",
	"198.18.0.0/15",
	"192.168.0.0/16",
	"192.0.0.0/24",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// HasMatch reports whether ip falls within any blocked prefix. A nil
// or empty ACL never matches (default allow when block_local is off
// and no extra blocks are configured).
func (a *ACL) HasMatch(ip net.IP) bool {
	if a == nil {
		return false
	}
	for _, ipnet := range a.blocks {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
