// Package main runs the promptloop control daemon: an HTTP surface that
// bridges start, signal and status requests onto the Temporal substrate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/promptloop/internal/config"
	"github.com/fyrsmithlabs/promptloop/internal/logging"
	"github.com/fyrsmithlabs/promptloop/internal/loop"
	"github.com/fyrsmithlabs/promptloop/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("promptloopd starting",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("temporal_host", cfg.Temporal.HostPort),
	)

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("dialing temporal: %w", err)
	}
	defer tc.Close()

	loops := loop.NewClient(tc, cfg.Temporal.TaskQueue)
	srv, err := server.New(loops, cfg.Server, cfg.Loop, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
