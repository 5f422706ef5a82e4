// Package recorder persists loop stage records to an append-only audit
// store. The store is write-only from the loop's perspective: entries are
// keyed by (loopId, iteration, stage) and never read back to drive logic.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/promptloop/internal/loop"
)

const instrumentationName = "github.com/fyrsmithlabs/promptloop/internal/recorder"

// Config configures the JetStream recorder.
type Config struct {
	// Stream is the JetStream stream name (default: LOOP_AUDIT).
	Stream string

	// SubjectPrefix prefixes every published subject (default: loops).
	SubjectPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Stream:        "LOOP_AUDIT",
		SubjectPrefix: "loops",
	}
}

// Store is a NATS JetStream implementation of loop.Recorder.
type Store struct {
	config *Config
	js     jetstream.JetStream
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	appendCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewStore creates a JetStream recorder and ensures the audit stream
// exists.
func NewStore(ctx context.Context, cfg *Config, nc *nats.Conn, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring audit stream %s: %w", cfg.Stream, err)
	}

	s := &Store{
		config: cfg,
		js:     js,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Store) initMetrics() {
	var err error
	s.appendCounter, err = s.meter.Int64Counter(
		"promptloop.recorder.appends_total",
		metric.WithDescription("Total number of stage records appended"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		s.logger.Warn("failed to create append counter", zap.Error(err))
	}
}

// Subject returns the publish subject for one iteration record.
func (s *Store) Subject(rec loop.IterationRecord) string {
	return fmt.Sprintf("%s.%s.%d.%s", s.config.SubjectPrefix, rec.LoopID, rec.Iteration, rec.Record.Stage)
}

// RecordLoopIteration appends one stage record to the audit stream.
func (s *Store) RecordLoopIteration(ctx context.Context, rec loop.IterationRecord) error {
	ctx, span := s.tracer.Start(ctx, "recorder.append")
	defer span.End()

	span.SetAttributes(
		attribute.String("loop_id", rec.LoopID),
		attribute.Int("iteration", rec.Iteration),
		attribute.String("stage", string(rec.Record.Stage)),
	)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errors.New("recorder is closed")
	}
	s.mu.RUnlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("encoding iteration record: %w", err)
	}

	if _, err := s.js.Publish(ctx, s.Subject(rec), payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("appending iteration record: %w", err)
	}

	if s.appendCounter != nil {
		s.appendCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", string(rec.Record.Stage)),
			attribute.String("status", string(rec.Record.Status)),
		))
	}

	s.logger.Debug("appended stage record",
		zap.String("loop_id", rec.LoopID),
		zap.Int("iteration", rec.Iteration),
		zap.String("stage", string(rec.Record.Stage)),
		zap.String("status", string(rec.Record.Status)),
	)
	return nil
}

// Close marks the store closed. The underlying NATS connection is owned
// by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
