package loop

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the Temporal task queue the loop worker listens on.
const TaskQueue = "prompt-improvement"

// ImprovementLoopWorkflow runs the iterative prompt-improvement pipeline.
//
// Each iteration sequences collecting, curating, optimizing, evaluating,
// deploying and monitoring. A pause/abort checkpoint precedes every stage;
// an abort observed at a checkpoint wins over automatic continuation but
// never preempts an in-flight activity. When the regression monitor flags
// a regression below the iteration ceiling the pipeline re-enters at
// collecting; otherwise the loop terminates.
//
// The workflow is durable: worker crashes replay it deterministically from
// history, control commands arrive on the "control" signal channel, and
// the "status" query answers with a LoopState snapshot at any time.
func ImprovementLoopWorkflow(ctx workflow.Context, input LoopInput) (*LoopResult, error) {
	input = input.withDefaults()
	logger := workflow.GetLogger(ctx)
	logger.Info("starting improvement loop",
		"project", input.ProjectID,
		"prompt", input.PromptID,
		"strategy", input.Strategy,
		"trigger", input.Trigger,
		"max_iterations", input.MaxIterations,
	)

	state := &LoopState{
		LoopID:           workflow.GetInfo(ctx).WorkflowExecution.ID,
		CurrentIteration: 1,
		MaxIterations:    input.MaxIterations,
		Stage:            StageCollecting,
	}
	ctrl := &controller{}

	err := workflow.SetQueryHandler(ctx, StatusQueryName, func() (LoopState, error) {
		snap := state.Snapshot()
		snap.IsPaused = ctrl.paused
		snap.PendingApproval = ctrl.awaitingReview
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("registering status query: %w", err)
	}
	ctrl.pump(ctx, logger)

	r := &run{
		ctx: workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Minute,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:    time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    time.Minute,
				MaximumAttempts:    3,
			},
		}),
		// Audit records get a single attempt; failures are swallowed.
		recordCtx: workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Second,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
		}),
		state:  state,
		ctrl:   ctrl,
		logger: logger,
	}

	var a *Activities
	for {
		logger.Info("iteration starting", "iteration", state.CurrentIteration)

		// Collecting.
		proceed, err := r.enter(StageCollecting)
		if err != nil {
			return nil, err
		}
		if !proceed {
			return r.finish(LoopAborted), nil
		}
		var batch SignalBatch
		if ctrl.takeSkip() {
			r.pushSkipped(StageCollecting)
		} else {
			started := workflow.Now(ctx)
			var out *SignalBatch
			err := workflow.ExecuteActivity(r.ctx, a.CollectSignals, CollectSignalsInput{
				ProjectID: input.ProjectID,
				Window:    input.TimeWindow,
				Types:     input.SignalTypes,
			}).Get(ctx, &out)
			if err != nil {
				return nil, err
			}
			batch = *out
			r.push(StageCollecting, StatusCompleted, started, map[string]float64{
				MetricSignalCount: float64(batch.Count),
			})
		}

		// Curating.
		proceed, err = r.enter(StageCurating)
		if err != nil {
			return nil, err
		}
		if !proceed {
			return r.finish(LoopAborted), nil
		}
		var curated CurationResult
		if ctrl.takeSkip() {
			r.pushSkipped(StageCurating)
		} else {
			started := workflow.Now(ctx)
			var out *CurationResult
			err := workflow.ExecuteActivity(r.ctx, a.CurateTrainingData, CurateInput{
				Signals: batch.Signals,
			}).Get(ctx, &out)
			if err != nil {
				return nil, err
			}
			curated = *out
			metrics := map[string]float64{MetricQualityScore: curated.QualityScore}
			if curated.QualityScore < input.QualityFloor {
				logger.Warn("curation quality below floor",
					"quality", curated.QualityScore,
					"floor", input.QualityFloor,
				)
				r.push(StageCurating, StatusFailed, started, metrics)
				return r.finish(LoopFailed), nil
			}
			r.push(StageCurating, StatusCompleted, started, metrics)
		}

		// Optimizing.
		proceed, err = r.enter(StageOptimizing)
		if err != nil {
			return nil, err
		}
		if !proceed {
			return r.finish(LoopAborted), nil
		}
		candidate := Candidate{PromptID: input.PromptID, SuiteID: input.SuiteID}
		if ctrl.takeSkip() {
			r.pushSkipped(StageOptimizing)
		} else {
			started := workflow.Now(ctx)
			var out *OptimizationResult
			err := workflow.ExecuteActivity(r.ctx, a.RunOptimization, OptimizeInput{
				CuratedData: curated.CuratedData,
				Strategy:    input.Strategy,
			}).Get(ctx, &out)
			if err != nil {
				return nil, err
			}
			candidate.Prompt = out.CandidatePrompt
			candidate.Score = out.CandidateScore
			candidate.Metadata = out.Metadata
			r.push(StageOptimizing, StatusCompleted, started, map[string]float64{
				MetricCandidateScore: out.CandidateScore,
			})
		}

		// Evaluating.
		proceed, err = r.enter(StageEvaluating)
		if err != nil {
			return nil, err
		}
		if !proceed {
			return r.finish(LoopAborted), nil
		}
		if ctrl.takeSkip() {
			r.pushSkipped(StageEvaluating)
		} else {
			started := workflow.Now(ctx)
			var out *EvalResult
			err := workflow.ExecuteActivity(r.ctx, a.Evaluate, EvaluateInput{
				Candidate: candidate,
			}).Get(ctx, &out)
			if err != nil {
				return nil, err
			}
			avg := out.Summary.AvgScore
			if state.BaselineScore == nil {
				// First completed evaluation freezes the baseline; no gate runs.
				baseline := avg
				state.BaselineScore = &baseline
				logger.Info("baseline frozen", "avg_score", avg)
				r.push(StageEvaluating, StatusCompleted, started, map[string]float64{
					MetricAvgScore: avg,
				})
			} else {
				baseline := *state.BaselineScore
				decision := Decide(avg, baseline, input.ImprovementThreshold)
				metrics := map[string]float64{
					MetricAvgScore: avg,
					MetricRatio:    avg / baseline,
				}
				if decision == DecisionReview {
					logger.Info("decision gate requires review",
						"avg_score", avg,
						"baseline", baseline,
						"threshold", input.ImprovementThreshold,
					)
					resolved, err := r.awaitReview()
					if err != nil {
						return nil, err
					}
					if resolved == nil {
						// Abort resolved the wait; record the unresolved gate.
						metrics[MetricDecision] = float64(DecisionReview)
						r.push(StageEvaluating, StatusCompleted, started, metrics)
						return r.finish(LoopAborted), nil
					}
					decision = *resolved
				}
				metrics[MetricDecision] = float64(decision)
				if decision == DecisionReject {
					r.push(StageEvaluating, StatusFailed, started, metrics)
					return r.finish(LoopFailed), nil
				}
				r.push(StageEvaluating, StatusCompleted, started, metrics)
			}
		}

		// Deploying.
		proceed, err = r.enter(StageDeploying)
		if err != nil {
			return nil, err
		}
		if !proceed {
			return r.finish(LoopAborted), nil
		}
		deploymentID := fmt.Sprintf("%s-it%d", state.LoopID, state.CurrentIteration)
		if ctrl.takeSkip() {
			r.pushSkipped(StageDeploying)
		} else {
			started := workflow.Now(ctx)
			var out *RolloutResult
			err := workflow.ExecuteActivity(r.ctx, a.RunRollout, RolloutInput{
				Candidate: candidate,
			}).Get(ctx, &out)
			if err != nil {
				return nil, err
			}
			if !out.Completed {
				logger.Warn("rollout did not complete", "final_stage", out.FinalStage)
				r.push(StageDeploying, StatusFailed, started, map[string]float64{
					MetricCompleted: 0,
				})
				return r.finish(LoopFailed), nil
			}
			if out.DeploymentID != "" {
				deploymentID = out.DeploymentID
			}
			r.push(StageDeploying, StatusCompleted, started, map[string]float64{
				MetricCompleted: 1,
			})
		}

		// Monitoring.
		proceed, err = r.enter(StageMonitoring)
		if err != nil {
			return nil, err
		}
		if !proceed {
			return r.finish(LoopAborted), nil
		}
		if ctrl.takeSkip() {
			r.pushSkipped(StageMonitoring)
			return r.finish(LoopCompleted), nil
		}
		started := workflow.Now(ctx)
		var reg *RegressionStatus
		err = workflow.ExecuteActivity(r.ctx, a.CheckRegressionStatus, CheckRegressionInput{
			DeploymentID: deploymentID,
		}).Get(ctx, &reg)
		if err != nil {
			return nil, err
		}
		hasRegression := 0.0
		if reg.HasRegression {
			hasRegression = 1
		}
		r.push(StageMonitoring, StatusCompleted, started, map[string]float64{
			MetricHasRegression: hasRegression,
		})
		if reg.HasRegression && state.CurrentIteration < state.MaxIterations {
			logger.Info("regression detected, re-entering pipeline",
				"iteration", state.CurrentIteration,
			)
			state.CurrentIteration++
			continue
		}
		if reg.HasRegression {
			// Regression persists at the ceiling; the final monitoring record
			// carries hasRegression=1 so consumers can tell this apart.
			logger.Warn("regression persists at iteration ceiling",
				"iteration", state.CurrentIteration,
			)
		}
		return r.finish(LoopCompleted), nil
	}
}

// run carries the per-execution wiring the stage blocks share.
type run struct {
	ctx       workflow.Context
	recordCtx workflow.Context
	state     *LoopState
	ctrl      *controller
	logger    log.Logger
}

// enter is the checkpoint preceding every stage: it blocks while the loop
// is paused and reports whether execution may continue (false on abort).
func (r *run) enter(stage Stage) (bool, error) {
	r.state.Stage = stage
	err := workflow.Await(r.ctx, func() bool {
		return !r.ctrl.paused || r.ctrl.aborted
	})
	if err != nil {
		return false, err
	}
	if r.ctrl.aborted {
		r.logger.Info("abort observed at checkpoint", "stage", stage)
		return false, nil
	}
	return true, nil
}

// awaitReview blocks until a human approve/reject command or an abort
// arrives. It returns nil when abort resolved the wait.
func (r *run) awaitReview() (*Decision, error) {
	r.ctrl.awaitingReview = true
	r.ctrl.review = nil
	err := workflow.Await(r.ctx, func() bool {
		return r.ctrl.review != nil || r.ctrl.aborted
	})
	r.ctrl.awaitingReview = false
	if err != nil {
		return nil, err
	}
	resolved := r.ctrl.review
	r.ctrl.review = nil
	return resolved, nil
}

// push appends a stage record to the history and mirrors it to the audit
// store. Recorder failures are logged and never fail the stage.
func (r *run) push(stage Stage, status StageStatus, started time.Time, metrics map[string]float64) {
	rec := StageRecord{
		Stage:     stage,
		Status:    status,
		Metrics:   metrics,
		StartedAt: started,
		EndedAt:   workflow.Now(r.ctx),
	}
	r.state.History = append(r.state.History, rec)

	var a *Activities
	err := workflow.ExecuteActivity(r.recordCtx, a.RecordLoopIteration, IterationRecord{
		LoopID:    r.state.LoopID,
		Iteration: r.state.CurrentIteration,
		Record:    rec,
	}).Get(r.ctx, nil)
	if err != nil {
		r.logger.Warn("audit record failed", "stage", stage, "error", err)
	}
}

func (r *run) pushSkipped(stage Stage) {
	r.logger.Info("stage skipped by request", "stage", stage)
	r.push(stage, StatusSkipped, workflow.Now(r.ctx), nil)
}

// finish builds the terminal result. LoopState does not survive the run;
// only the result and its stage records do.
func (r *run) finish(status LoopStatus) *LoopResult {
	r.logger.Info("improvement loop finished",
		"status", status,
		"iterations", r.state.CurrentIteration,
		"stages", len(r.state.History),
	)
	return &LoopResult{
		LoopID:     r.state.LoopID,
		Status:     status,
		Iterations: r.state.CurrentIteration,
		Stages:     r.state.History,
	}
}
