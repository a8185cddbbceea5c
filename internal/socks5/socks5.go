// Package socks5 implements a minimal RFC 1928 server subset for
// client mode: no-auth negotiation, CONNECT, and UDP-ASSOCIATE.
// It is the local front-end applications talk to; every accepted
// request is forwarded upstream through a Trojan server.
package socks5

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/imgk/trojan-relay/internal/address"
	"github.com/imgk/trojan-relay/internal/outbound"
)

const version5 = 0x05

const (
	cmdConnect      = 0x01
	cmdUDPAssociate = 0x03
)

const (
	replySuccess             = 0x00
	replyGeneralFailure      = 0x01
	replyCommandNotSupported = 0x07
)

const authNoAuth = 0x00
const authNoAcceptable = 0xff

var zeroAddr = address.Address{IP: net.IPv4zero, Port: 0}

// Server accepts local SOCKS5 connections and forwards their requests
// through a Trojan upstream.
type Server struct {
	upstream   *outbound.TrojanClient
	logger     *zap.Logger
	udpEnabled bool
	tcpNoDelay bool
}

// New builds a Server that forwards every accepted request through
// upstream. udpEnabled gates whether UDP-ASSOCIATE requests are
// honored or rejected as unsupported.
func New(upstream *outbound.TrojanClient, logger *zap.Logger, udpEnabled bool) *Server {
	return &Server{upstream: upstream, logger: logger, udpEnabled: udpEnabled}
}

// SetTCPNoDelay controls whether accepted local connections have
// TCP_NODELAY set, per the client's top-level tcp_nodelay option.
func (s *Server) SetTCPNoDelay(v bool) { s.tcpNoDelay = v }

// Serve runs the accept loop until ctx is canceled or the listener
// errors.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("socks5: accept: %w", err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(s.tcpNoDelay)
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in socks5 handler", zap.Any("panic", r))
		}
	}()

	if err := negotiateAuth(conn); err != nil {
		s.logger.Debug("socks5 auth negotiation failed", zap.Error(err))
		conn.Close()
		return
	}

	cmd, addr, err := readRequest(conn)
	if err != nil {
		s.logger.Debug("socks5 request parse failed", zap.Error(err))
		conn.Close()
		return
	}

	switch {
	case cmd == cmdConnect:
		s.handleConnect(ctx, conn, addr)
	case cmd == cmdUDPAssociate && s.udpEnabled:
		s.handleUDPAssociate(ctx, conn, addr)
	default:
		writeReply(conn, replyCommandNotSupported, zeroAddr)
		conn.Close()
	}
}

func negotiateAuth(conn net.Conn) error {
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return fmt.Errorf("socks5: read version/nmethods: %w", err)
	}
	if hdr[0] != version5 {
		return fmt.Errorf("socks5: unsupported version %#x", hdr[0])
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return fmt.Errorf("socks5: read methods: %w", err)
	}
	selected := byte(authNoAcceptable)
	for _, m := range methods {
		if m == authNoAuth {
			selected = authNoAuth
			break
		}
	}
	if _, err := conn.Write([]byte{version5, selected}); err != nil {
		return err
	}
	if selected == authNoAcceptable {
		return errors.New("socks5: no acceptable auth method offered")
	}
	return nil
}

func readRequest(conn net.Conn) (byte, address.Address, error) {
	var hdr [3]byte // VER CMD RSV
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return 0, address.Address{}, fmt.Errorf("socks5: read request header: %w", err)
	}
	if hdr[0] != version5 {
		return 0, address.Address{}, fmt.Errorf("socks5: unsupported version %#x", hdr[0])
	}
	addr, _, err := address.Decode(conn)
	if err != nil {
		return 0, address.Address{}, fmt.Errorf("socks5: decode address: %w", err)
	}
	return hdr[1], addr, nil
}

func writeReply(conn net.Conn, reply byte, addr address.Address) error {
	head := []byte{version5, reply, 0x00}
	if _, err := conn.Write(head); err != nil {
		return err
	}
	return addr.Encode(conn)
}

func (s *Server) handleConnect(ctx context.Context, conn net.Conn, addr address.Address) {
	defer conn.Close()
	target, err := s.upstream.DialConnect(ctx, addr)
	if err != nil {
		s.logger.Warn("socks5 connect: upstream dial failed", zap.Error(err))
		writeReply(conn, replyGeneralFailure, zeroAddr)
		return
	}
	defer target.Close()

	if err := writeReply(conn, replySuccess, zeroAddr); err != nil {
		return
	}

	if err := relayTCP(conn, target); err != nil && !isBenignError(err) {
		s.logger.Warn("socks5 connect: relay ended with error", zap.Error(err))
	}
}

// relayTCP is socks5's own copy of the half-close bidirectional copy
// pattern (see internal/relay for the server-side twin): one finished
// direction shuts down the write half it was feeding without forcing
// the still-active reverse direction closed.
func relayTCP(a, b net.Conn) error {
	errc := make(chan error, 2)
	go func() { errc <- copyAndCloseWrite(b, a) }()
	go func() { errc <- copyAndCloseWrite(a, b) }()
	err1 := <-errc
	err2 := <-errc
	if err1 != nil {
		return err1
	}
	return err2
}

func copyAndCloseWrite(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	return err
}

func isBenignError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
