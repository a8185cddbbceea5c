package socks5

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/imgk/trojan-relay/internal/address"
	"github.com/imgk/trojan-relay/internal/trojan"
	"github.com/imgk/trojan-relay/internal/udprelay"
)

const maxUDPDatagram = 65535

// decodeUDPDatagram parses the SOCKS5 UDP request header
// RSV(2) | FRAG(1) | ATYP | addr | payload. Fragmentation is not
// supported: a nonzero FRAG is rejected.
func decodeUDPDatagram(b []byte) (address.Address, []byte, error) {
	if len(b) < 4 {
		return address.Address{}, nil, io.ErrUnexpectedEOF
	}
	if b[0] != 0 || b[1] != 0 {
		return address.Address{}, nil, fmt.Errorf("socks5: nonzero rsv in udp datagram")
	}
	if b[2] != 0 {
		return address.Address{}, nil, fmt.Errorf("socks5: fragmented udp datagrams not supported")
	}
	addr, n, err := address.DecodeBytes(b[3:])
	if err != nil {
		return address.Address{}, nil, err
	}
	return addr, b[3+n:], nil
}

// encodeUDPDatagram writes the SOCKS5 UDP reply header followed by
// payload.
func encodeUDPDatagram(addr address.Address, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, 3+addr.WireLen()+len(payload))
	buf = append(buf, 0x00, 0x00, 0x00)
	w := &sliceWriter{buf: &buf}
	if err := addr.Encode(w); err != nil {
		return nil, err
	}
	buf = append(buf, payload...)
	return buf, nil
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// handleUDPAssociate binds a local UDP relay socket, opens a Trojan
// UDP-associate tunnel upstream, and pumps datagrams between them
// until either the control connection closes or the tunnel goes idle.
// The SOCKS5 client's first datagram source is latched as the
// endpoint all upstream replies are addressed back to.
func (s *Server) handleUDPAssociate(ctx context.Context, control net.Conn, _ address.Address) {
	local, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		s.logger.Warn("socks5 udp-associate: bind failed", zap.Error(err))
		writeReply(control, replyGeneralFailure, zeroAddr)
		control.Close()
		return
	}

	localAddr := local.LocalAddr().(*net.UDPAddr)
	bindAddr := address.Address{IP: net.IPv4zero, Port: uint16(localAddr.Port)}
	if err := writeReply(control, replySuccess, bindAddr); err != nil {
		local.Close()
		control.Close()
		return
	}

	tunnel, err := s.upstream.DialUDPAssociate(ctx)
	if err != nil {
		s.logger.Warn("socks5 udp-associate: upstream dial failed", zap.Error(err))
		local.Close()
		control.Close()
		return
	}

	// The UDP-ASSOCIATE binding lives only as long as its control
	// connection stays open (RFC 1928 §7); block on it here and tear
	// the tunnel down the moment it closes for any reason.
	go func() {
		buf := make([]byte, 1)
		control.Read(buf)
		local.Close()
		tunnel.Close()
	}()
	defer control.Close()

	var endpoint atomic.Pointer[net.Addr]

	errc := make(chan error, 2)
	go func() { errc <- pumpClientToUpstream(local, tunnel, &endpoint) }()
	go func() { errc <- pumpUpstreamToClient(local, tunnel, &endpoint) }()

	err = <-errc
	local.Close()
	tunnel.Close()
	if err != nil && !isBenignError(err) {
		s.logger.Debug("socks5 udp-associate: tunnel ended", zap.Error(err))
	}
	<-errc
}

// pumpClientToUpstream forwards datagrams the local application sends
// to the Trojan UDP tunnel, latching the first sender as endpoint.
func pumpClientToUpstream(local net.PacketConn, tunnel net.Conn, endpoint *atomic.Pointer[net.Addr]) error {
	buf := make([]byte, maxUDPDatagram)
	for {
		n, from, err := local.ReadFrom(buf)
		if err != nil {
			return err
		}
		if endpoint.Load() == nil {
			endpoint.Store(&from)
		}
		addr, payload, err := decodeUDPDatagram(buf[:n])
		if err != nil {
			continue
		}
		if err := trojan.Encode(tunnel, addr, payload); err != nil {
			return err
		}
	}
}

// pumpUpstreamToClient forwards replies from the Trojan UDP tunnel
// back to the latched client endpoint, tearing the tunnel down after
// FullConeTimeout of upstream silence.
func pumpUpstreamToClient(local net.PacketConn, tunnel net.Conn, endpoint *atomic.Pointer[net.Addr]) error {
	dec := trojan.NewDecoder(tunnel)
	for {
		if tc, ok := tunnel.(interface{ SetReadDeadline(time.Time) error }); ok {
			tc.SetReadDeadline(time.Now().Add(udprelay.FullConeTimeout))
		}
		pkt, err := dec.Next()
		if err != nil {
			return err
		}
		dst := endpoint.Load()
		if dst == nil {
			continue // nothing to reply to yet
		}
		datagram, err := encodeUDPDatagram(pkt.Addr, pkt.Payload)
		if err != nil {
			return err
		}
		if _, err := local.WriteTo(datagram, *dst); err != nil {
			return err
		}
	}
}
