// Package server wires the server-mode pipeline: config -> ACL,
// Authenticator, Outbound, TLS context, fallback acceptor, and the
// relay engine that ties them together.
package server

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/imgk/trojan-relay/internal/acl"
	"github.com/imgk/trojan-relay/internal/auth"
	"github.com/imgk/trojan-relay/internal/config"
	"github.com/imgk/trojan-relay/internal/fallback"
	"github.com/imgk/trojan-relay/internal/outbound"
	"github.com/imgk/trojan-relay/internal/relay"
	"github.com/imgk/trojan-relay/internal/tlsutil"
)

// Run builds every server-mode component from cfg and serves until ctx
// is canceled or a fatal startup error occurs. Startup failures
// (config, bind, cert load) are returned; per-connection errors never
// reach this function's caller.
func Run(ctx context.Context, cfg *config.Root, logger *zap.Logger) error {
	authn, err := buildAuthenticator(cfg)
	if err != nil {
		return fmt.Errorf("server: build authenticator: %w", err)
	}

	blockList, err := acl.New(cfg.Outbound.BlockLocal, nil)
	if err != nil {
		return fmt.Errorf("server: build acl: %w", err)
	}
	out := outbound.NewDirect(blockList)

	fb, err := fallback.New(cfg.Trojan.Fallback)
	if err != nil {
		return fmt.Errorf("server: build fallback: %w", err)
	}

	tlsCtx, err := tlsutil.NewContext(cfg.TLS.Cert, cfg.TLS.Key, cfg.TLS.SNI)
	if err != nil {
		return fmt.Errorf("server: build tls context: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.TLS.Listen)
	if err != nil {
		return fmt.Errorf("server: listen on %q: %w", cfg.TLS.Listen, err)
	}
	defer ln.Close()

	srv := relay.NewServer(tlsCtx, authn, out, fb, logger, cfg.TLS.TCPNoDelay)

	logger.Info("server listening", zap.String("addr", cfg.TLS.Listen))
	return srv.Serve(ctx, ln)
}

func buildAuthenticator(cfg *config.Root) (auth.Authenticator, error) {
	var backends []auth.Authenticator
	if len(cfg.Trojan.Password) > 0 {
		backends = append(backends, auth.NewStatic(cfg.Trojan.Password))
	}
	if cfg.Redis != nil && cfg.Redis.Server != "" {
		backends = append(backends, auth.NewRedis(cfg.Redis.Server))
	}
	switch len(backends) {
	case 0:
		return nil, fmt.Errorf("no authenticator backend configured")
	case 1:
		return backends[0], nil
	default:
		return auth.NewComposite(backends...), nil
	}
}
