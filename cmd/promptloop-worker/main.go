// Package main runs the Temporal worker hosting the improvement loop
// workflow and its collaborator activities.
//
// Usage:
//
//	PROMPTLOOP_TEMPORAL_HOST_PORT=localhost:7233 \
//	PROMPTLOOP_NATS_URL=nats://localhost:4222 \
//	./promptloop-worker
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/promptloop/internal/config"
	"github.com/fyrsmithlabs/promptloop/internal/logging"
	"github.com/fyrsmithlabs/promptloop/internal/loop"
	"github.com/fyrsmithlabs/promptloop/internal/recorder"
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

	logger.Info("promptloop worker starting",
		zap.String("temporal_host", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("dialing temporal: %w", err)
	}
	defer tc.Close()

	var natsOpts []nats.Option
	if cfg.NATS.Credentials.IsSet() {
		natsOpts = append(natsOpts, nats.Token(cfg.NATS.Credentials.Value()))
	}
	nc, err := nats.Connect(cfg.NATS.URL, natsOpts...)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer nc.Close()

	store, err := recorder.NewStore(ctx, &recorder.Config{
		Stream:        cfg.NATS.Stream,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	}, nc, logger.Named("recorder"))
	if err != nil {
		return fmt.Errorf("creating recorder: %w", err)
	}
	defer func() { _ = store.Close() }()

	stubs := loop.NewStubCollaborators()
	activities, err := loop.NewActivities(stubs, stubs, stubs, stubs, stubs, stubs, store, logger.Named("activities"))
	if err != nil {
		return fmt.Errorf("creating activities: %w", err)
	}

	w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(loop.ImprovementLoopWorkflow)
	w.RegisterActivity(activities)

	stopCh := make(chan interface{})
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		close(stopCh)
	}()

	if err := w.Run(stopCh); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	logger.Info("worker stopped gracefully")
	return nil
}
