// Package relay wires together every other component into the
// server-mode accept loop and per-connection pipeline: TLS
// termination, SNI routing to fallback, Trojan preamble acceptance,
// and the TCP/UDP relay itself.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/imgk/trojan-relay/internal/auth"
	"github.com/imgk/trojan-relay/internal/fallback"
	"github.com/imgk/trojan-relay/internal/outbound"
	"github.com/imgk/trojan-relay/internal/stream"
	"github.com/imgk/trojan-relay/internal/tlsutil"
	"github.com/imgk/trojan-relay/internal/trojan"
	"github.com/imgk/trojan-relay/internal/udprelay"
)

// IdleTimeout is the per-connection read deadline, reset on every
// successful read; a connection silent for this long is closed.
const IdleTimeout = 600 * time.Second

// statWorkers bounds how many goroutines may be inside
// Authenticator.Stat concurrently; a slow remote KV backend must never
// be able to stall more than this many in-flight stat posts.
const statWorkers = 10

// statQueueLen bounds the stat channel; once full, new stat records are
// dropped rather than blocking connection teardown.
const statQueueLen = 256

type statRecord struct {
	credential       string
	upload, download uint64
}

// Server owns everything needed to accept and serve Trojan connections
// on one listener.
type Server struct {
	tls        *tlsutil.Context
	authn      auth.Authenticator
	outbound   outbound.Outbound
	fallback   *fallback.Acceptor
	logger     *zap.Logger
	tcpNoDelay bool

	// idleTimeout is IdleTimeout in production; tests shorten it.
	idleTimeout time.Duration

	statCh chan statRecord
}

// NewServer builds a Server and starts its bounded stat-posting worker
// pool, which runs for the lifetime of the process.
func NewServer(tlsCtx *tlsutil.Context, authn auth.Authenticator, out outbound.Outbound, fb *fallback.Acceptor, logger *zap.Logger, tcpNoDelay bool) *Server {
	s := &Server{
		tls:         tlsCtx,
		authn:       authn,
		outbound:    out,
		fallback:    fb,
		logger:      logger,
		tcpNoDelay:  tcpNoDelay,
		idleTimeout: IdleTimeout,
		statCh:      make(chan statRecord, statQueueLen),
	}
	for i := 0; i < statWorkers; i++ {
		go s.runStatWorker()
	}
	return s
}

func (s *Server) runStatWorker() {
	for rec := range s.statCh {
		if err := s.authn.Stat(context.Background(), rec.credential, rec.upload, rec.download); err != nil {
			s.logger.Warn("stat post failed", zap.String("credential", rec.credential), zap.Error(err))
		}
	}
}

// enqueueStat posts a stat record on a best-effort, non-blocking basis:
// a full queue means the record is dropped, with a warning logged,
// rather than stalling the connection that produced it.
func (s *Server) enqueueStat(credential string, upload, download uint64) {
	select {
	case s.statCh <- statRecord{credential: credential, upload: upload, download: download}:
	default:
		s.logger.Warn("stat queue full, dropping record", zap.String("credential", credential))
	}
}

// Serve runs the accept loop until ctx is canceled or the listener
// errors. Each accepted connection is handled in its own goroutine and
// is fully isolated: a panic or error in one connection never affects
// another.
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
			return fmt.Errorf("relay: accept: %w", err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(s.tcpNoDelay)
		}
		go s.handle(ctx, conn)
	}
}

// handle runs one connection's whole pipeline end to end.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in connection handler", zap.Any("panic", r))
		}
	}()

	var credential string
	counted := stream.NewCounted(conn, func(read, written uint64) {
		if credential == "" {
			return
		}
		// Upload is what the client sent (bytes read from it),
		// download is what it received.
		s.enqueueStat(credential, read, written)
	})
	defer counted.Close()

	idled := stream.NewIdleTimeout(counted, s.idleTimeout)

	tlsConn, sniMatched, err := s.tls.Accept(idled)
	if err != nil {
		s.logger.Debug("tls handshake failed", zap.Error(err))
		return
	}

	if !sniMatched {
		s.logger.Debug("sni mismatch, handing to fallback")
		if err := s.fallback.Accept(tlsConn); err != nil {
			s.logger.Warn("fallback accept failed", zap.Error(err))
		}
		return
	}

	peek := stream.NewPeekable(tlsConn)
	req, err := trojan.Accept(ctx, peek, s.authn)
	if err != nil {
		// An idle-read deadline firing mid-preamble closes the
		// connection outright. Handing it to the fallback would grant a
		// fresh read window and defeat the resource bound the timeout
		// exists to enforce.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.logger.Debug("connection idled out during preamble", zap.Error(err))
			return
		}
		logPreambleRejection(s.logger, err)
		if err := s.fallback.Accept(peek); err != nil {
			s.logger.Warn("fallback accept failed", zap.Error(err))
		}
		return
	}
	credential = req.Credential

	s.logger.Info("accepted trojan session",
		zap.String("credential", credential),
		zap.Stringer("command", commandName(req.Command)),
		zap.String("addr", req.Addr.String()))

	switch req.Command {
	case trojan.CmdConnect:
		s.handleConnect(ctx, peek, req)
	case trojan.CmdUDPAssociate:
		s.handleUDPAssociate(ctx, peek)
	}
}

func (s *Server) handleConnect(ctx context.Context, peek *stream.Peekable, req trojan.Request) {
	target, err := s.outbound.DialTCP(ctx, req.Addr)
	if err != nil {
		s.logger.Warn("outbound dial failed", zap.Error(err), zap.String("addr", req.Addr.String()))
		return
	}
	defer target.Close()

	if err := relayTCP(peek, target); err != nil && !isBenignRelayError(err) {
		s.logger.Warn("tcp relay ended with error", zap.Error(err))
	}
}

func (s *Server) handleUDPAssociate(ctx context.Context, peek *stream.Peekable) {
	target, err := s.outbound.ListenUDP(ctx)
	if err != nil {
		s.logger.Warn("udp listen failed", zap.Error(err))
		return
	}

	if err := udprelay.Relay(ctx, peek, target, s.outbound, s.logger); err != nil && !isBenignRelayError(err) {
		s.logger.Warn("udp relay ended with error", zap.Error(err))
	}
}

// relayTCP copies bytes in both directions between a and b. When one
// direction hits EOF it shuts down the write half it was feeding,
// signalling the peer, then waits for the opposite direction to
// finish on its own — a stalled reverse direction can never wedge a
// completed forward direction.
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

func isBenignRelayError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func logPreambleRejection(logger *zap.Logger, err error) {
	var authErr *trojan.AuthBackendError
	switch {
	case errors.As(err, &authErr):
		logger.Warn("auth backend error", zap.Error(err))
	case errors.Is(err, trojan.ErrAuthFail):
		logger.Debug("authentication failed", zap.Error(err))
	case errors.Is(err, trojan.ErrNotTrojan), errors.Is(err, trojan.ErrBadAtyp), errors.Is(err, trojan.ErrBadCmd):
		logger.Debug("rejected non-trojan preamble", zap.Error(err))
	default:
		logger.Debug("preamble read failed", zap.Error(err))
	}
}

type cmdName trojan.Command

func commandName(c trojan.Command) fmt.Stringer { return cmdName(c) }

func (c cmdName) String() string {
	switch trojan.Command(c) {
	case trojan.CmdConnect:
		return "connect"
	case trojan.CmdUDPAssociate:
		return "udp-associate"
	default:
		return "unknown"
	}
}
