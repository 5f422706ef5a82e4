package loop

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Collaborator interfaces. The loop consumes these as opaque operations;
// retry and cancellation semantics beyond the activity options belong to
// the implementations.

// SignalCollector gathers recent production feedback within a time window.
type SignalCollector interface {
	CollectSignals(ctx context.Context, projectID string, window TimeWindow, types []string) (*SignalBatch, error)
}

// DataCurator filters and cleans signals into training-ready examples.
type DataCurator interface {
	CurateTrainingData(ctx context.Context, signals []FeedbackSignal) (*CurationResult, error)
}

// Optimizer produces a candidate prompt from curated data.
type Optimizer interface {
	RunOptimization(ctx context.Context, data []TrainingExample, strategy string) (*OptimizationResult, error)
}

// Evaluator runs the eval suite against a candidate.
type Evaluator interface {
	Evaluate(ctx context.Context, candidate Candidate) (*EvalResult, error)
}

// RolloutManager progressively deploys a candidate across stages.
type RolloutManager interface {
	Rollout(ctx context.Context, candidate Candidate) (*RolloutResult, error)
}

// RegressionMonitor checks post-deploy health of a deployment.
type RegressionMonitor interface {
	CheckRegressionStatus(ctx context.Context, deploymentID string) (*RegressionStatus, error)
}

// Recorder persists stage outcomes to an append-only audit store. It is
// write-only from the loop's perspective: entries are never read back to
// drive logic, and failures never affect the loop outcome.
type Recorder interface {
	RecordLoopIteration(ctx context.Context, rec IterationRecord) error
}

// Activity input types. Contracts are co-located with the domain types
// they carry so workflow and worker share a single definition.

type CollectSignalsInput struct {
	ProjectID string     `json:"projectId"`
	Window    TimeWindow `json:"window"`
	Types     []string   `json:"types"`
}

type CurateInput struct {
	Signals []FeedbackSignal `json:"signals"`
}

type OptimizeInput struct {
	CuratedData []TrainingExample `json:"curatedData"`
	Strategy    string            `json:"strategy"`
}

type EvaluateInput struct {
	Candidate Candidate `json:"candidate"`
}

type RolloutInput struct {
	Candidate Candidate `json:"candidate"`
}

type CheckRegressionInput struct {
	DeploymentID string `json:"deploymentId"`
}

// Activities binds the collaborator set to Temporal activity methods.
// Register one instance per worker via worker.RegisterActivity.
type Activities struct {
	Collector SignalCollector
	Curator   DataCurator
	Optimizer Optimizer
	Evaluator Evaluator
	Rollout   RolloutManager
	Monitor   RegressionMonitor
	Recorder  Recorder
	Logger    *zap.Logger
}

// NewActivities validates the collaborator set and returns the activity
// bundle. The recorder may be nil; recording becomes a no-op then.
func NewActivities(collector SignalCollector, curator DataCurator, optimizer Optimizer, evaluator Evaluator, rollout RolloutManager, monitor RegressionMonitor, recorder Recorder, logger *zap.Logger) (*Activities, error) {
	if collector == nil || curator == nil || optimizer == nil || evaluator == nil || rollout == nil || monitor == nil {
		return nil, errors.New("all collaborators except the recorder are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		Collector: collector,
		Curator:   curator,
		Optimizer: optimizer,
		Evaluator: evaluator,
		Rollout:   rollout,
		Monitor:   monitor,
		Recorder:  recorder,
		Logger:    logger,
	}, nil
}

func (a *Activities) CollectSignals(ctx context.Context, in CollectSignalsInput) (*SignalBatch, error) {
	return a.Collector.CollectSignals(ctx, in.ProjectID, in.Window, in.Types)
}

func (a *Activities) CurateTrainingData(ctx context.Context, in CurateInput) (*CurationResult, error) {
	return a.Curator.CurateTrainingData(ctx, in.Signals)
}

func (a *Activities) RunOptimization(ctx context.Context, in OptimizeInput) (*OptimizationResult, error) {
	return a.Optimizer.RunOptimization(ctx, in.CuratedData, in.Strategy)
}

func (a *Activities) Evaluate(ctx context.Context, in EvaluateInput) (*EvalResult, error) {
	return a.Evaluator.Evaluate(ctx, in.Candidate)
}

func (a *Activities) RunRollout(ctx context.Context, in RolloutInput) (*RolloutResult, error) {
	return a.Rollout.Rollout(ctx, in.Candidate)
}

func (a *Activities) CheckRegressionStatus(ctx context.Context, in CheckRegressionInput) (*RegressionStatus, error) {
	return a.Monitor.CheckRegressionStatus(ctx, in.DeploymentID)
}

// RecordLoopIteration pushes one stage record to the audit store. The
// workflow invokes it with a single attempt and swallows any error.
func (a *Activities) RecordLoopIteration(ctx context.Context, rec IterationRecord) error {
	if a.Recorder == nil {
		return nil
	}
	if err := a.Recorder.RecordLoopIteration(ctx, rec); err != nil {
		a.Logger.Warn("iteration record failed",
			zap.String("loop_id", rec.LoopID),
			zap.Int("iteration", rec.Iteration),
			zap.String("stage", string(rec.Record.Stage)),
			zap.Error(err),
		)
		return err
	}
	return nil
}
