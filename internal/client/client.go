// Package client wires the client-mode pipeline: config -> Trojan
// upstream connector, SOCKS5 front-end, accept loop.
package client

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/imgk/trojan-relay/internal/config"
	"github.com/imgk/trojan-relay/internal/outbound"
	"github.com/imgk/trojan-relay/internal/socks5"
)

// Run builds the client-mode components from cfg and serves the local
// SOCKS5 front-end until ctx is canceled or a fatal startup error
// occurs.
func Run(ctx context.Context, cfg *config.Root, logger *zap.Logger) error {
	upstream := outbound.NewTrojanClient(
		cfg.Server.Server,
		cfg.Server.Password,
		cfg.Server.SNI,
		cfg.Server.SkipCertVerify,
	)

	ln, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return fmt.Errorf("client: listen on %q: %w", cfg.Bind, err)
	}
	defer ln.Close()

	srv := socks5.New(upstream, logger, cfg.Server.UDP)
	srv.SetTCPNoDelay(cfg.TCPNoDelay)
	logger.Info("socks5 front-end listening", zap.String("addr", cfg.Bind))
	return srv.Serve(ctx, ln)
}
