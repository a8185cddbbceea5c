// Package udprelay implements full-cone UDP forwarding between a
// framed Trojan UDP-over-TCP stream and a real UDP socket.
package udprelay

import (
	"context"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/imgk/trojan-relay/internal/address"
	"github.com/imgk/trojan-relay/internal/trojan"
)

// FullConeTimeout is the idle duration after which a UDP tunnel with
// no target-side traffic is torn down.
const FullConeTimeout = 30 * time.Second

const maxDatagramSize = 65535

// Resolver resolves and ACL-checks a UDP destination, called once per
// datagram (no caching, matching the server-side "resolve per
// datagram" design decision).
type Resolver interface {
	ResolveUDP(ctx context.Context, addr address.Address) (*net.UDPAddr, error)
}

// Relay pumps datagrams in both directions until either side ends:
// incoming carries Trojan-framed datagrams (usually the accepted TLS
// stream wrapped after a peekable drain), target is a bound UDP
// socket dedicated to this tunnel. Relay closes both incoming and
// target before returning.
func Relay(ctx context.Context, incoming io.ReadWriteCloser, target net.PacketConn, resolver Resolver, logger *zap.Logger) error {
	errc := make(chan error, 2)

	go func() {
		errc <- pumpInbound(ctx, incoming, target, resolver, logger)
	}()
	go func() {
		errc <- pumpOutbound(incoming, target, logger)
	}()

	first := <-errc
	incoming.Close()
	target.Close()
	<-errc
	return first
}

// pumpInbound reads frames sent by the client and forwards them to
// their resolved destination on target.
func pumpInbound(ctx context.Context, incoming io.Reader, target net.PacketConn, resolver Resolver, logger *zap.Logger) error {
	dec := trojan.NewDecoder(incoming)
	for {
		pkt, err := dec.Next()
		if err != nil {
			return err
		}
		udpAddr, err := resolver.ResolveUDP(ctx, pkt.Addr)
		if err != nil {
			if logger != nil {
				logger.Warn("udp relay: resolve destination", zap.Error(err))
			}
			continue
		}
		if _, err := target.WriteTo(pkt.Payload, udpAddr); err != nil {
			if logger != nil {
				logger.Warn("udp relay: write to target", zap.Error(err))
			}
			continue
		}
	}
}

// pumpOutbound reads replies from target and frames them back onto
// incoming, tearing the tunnel down after FullConeTimeout of silence.
func pumpOutbound(incoming io.Writer, target net.PacketConn, logger *zap.Logger) error {
	buf := make([]byte, maxDatagramSize)
	for {
		if err := target.SetReadDeadline(time.Now().Add(FullConeTimeout)); err != nil {
			return err
		}
		n, from, err := target.ReadFrom(buf)
		if err != nil {
			return err
		}
		udpAddr, ok := from.(*net.UDPAddr)
		if !ok {
			resolved, err := net.ResolveUDPAddr("udp", from.String())
			if err != nil {
				if logger != nil {
					logger.Warn("udp relay: unexpected source addr", zap.Error(err))
				}
				continue
			}
			udpAddr = resolved
		}
		addr := address.Address{IP: udpAddr.IP, Port: uint16(udpAddr.Port)}
		if err := trojan.Encode(incoming, addr, buf[:n]); err != nil {
			return err
		}
	}
}
