// Command trojan-relay runs a Trojan-protocol TLS-fronted proxy in
// either server or client mode, selected by its configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imgk/trojan-relay/internal/client"
	"github.com/imgk/trojan-relay/internal/config"
	"github.com/imgk/trojan-relay/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var logLevel string
	pflag.StringVar(&configPath, "config", "config.toml", "path to the TOML configuration file")
	pflag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	if env := os.Getenv("LOGLEVEL"); env != "" {
		logLevel = env
	}

	logger, err := newLogger(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trojan-relay: logger setup: %v\n", err)
		return 1
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config load failed", zap.Error(err))
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Mode {
	case config.ModeServer:
		err = server.Run(ctx, cfg, logger)
	case config.ModeClient:
		err = client.Run(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("fatal startup error", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}
