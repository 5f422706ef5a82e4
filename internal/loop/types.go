package loop

import "time"

// Stage identifies one phase of the improvement pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageCollecting Stage = "collecting"
	StageCurating   Stage = "curating"
	StageOptimizing Stage = "optimizing"
	StageEvaluating Stage = "evaluating"
	StageDeploying  Stage = "deploying"
	StageMonitoring Stage = "monitoring"
)

// StageStatus is the outcome of a single stage attempt.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// LoopStatus is the terminal status of a loop run.
type LoopStatus string

const (
	LoopCompleted LoopStatus = "completed"
	LoopFailed    LoopStatus = "failed"
	LoopAborted   LoopStatus = "aborted"
)

// Metric keys recorded in StageRecord.Metrics. Consumers read these
// together with stage status to understand why a loop stopped.
const (
	MetricSignalCount    = "signalCount"
	MetricQualityScore   = "qualityScore"
	MetricCandidateScore = "candidateScore"
	MetricAvgScore       = "avgScore"
	MetricRatio          = "ratio"
	MetricDecision       = "decision"
	MetricCompleted      = "completed"
	MetricHasRegression  = "hasRegression"
)

// DefaultQualityFloor is the minimum curation quality score required to
// proceed past the curating stage.
const DefaultQualityFloor = 0.7

// TimeWindow bounds the feedback collection period.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LoopInput is the immutable configuration for one loop run.
type LoopInput struct {
	ProjectID            string     `json:"projectId"`
	SuiteID              string     `json:"suiteId"`
	PromptID             string     `json:"promptId"`
	Strategy             string     `json:"strategy"`
	Trigger              string     `json:"trigger"`
	MaxIterations        int        `json:"maxIterations"`
	ImprovementThreshold float64    `json:"improvementThreshold"`
	QualityFloor         float64    `json:"qualityFloor,omitempty"`
	SignalTypes          []string   `json:"signalTypes"`
	TimeWindow           TimeWindow `json:"timeWindow"`
}

// withDefaults normalizes zero-valued optional fields.
func (in LoopInput) withDefaults() LoopInput {
	if in.MaxIterations < 1 {
		in.MaxIterations = 1
	}
	if in.QualityFloor == 0 {
		in.QualityFloor = DefaultQualityFloor
	}
	return in
}

// StageRecord captures one stage attempt. Records are appended to the
// loop history in execution order and never mutated after append.
type StageRecord struct {
	Stage     Stage              `json:"stage"`
	Status    StageStatus        `json:"status"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	StartedAt time.Time          `json:"startedAt"`
	EndedAt   time.Time          `json:"endedAt"`
}

// LoopState is the mutable state of a running loop, exclusively owned by
// the workflow execution. External reads go through Snapshot.
type LoopState struct {
	LoopID           string        `json:"loopId"`
	CurrentIteration int           `json:"currentIteration"`
	MaxIterations    int           `json:"maxIterations"`
	Stage            Stage         `json:"stage"`
	IsPaused         bool          `json:"isPaused"`
	PendingApproval  bool          `json:"pendingApproval"`
	BaselineScore    *float64      `json:"baselineScore,omitempty"`
	History          []StageRecord `json:"history"`
}

// Snapshot returns a deep copy safe to hand to concurrent readers.
func (s *LoopState) Snapshot() LoopState {
	out := *s
	if s.BaselineScore != nil {
		b := *s.BaselineScore
		out.BaselineScore = &b
	}
	out.History = make([]StageRecord, len(s.History))
	for i, rec := range s.History {
		cp := rec
		if rec.Metrics != nil {
			cp.Metrics = make(map[string]float64, len(rec.Metrics))
			for k, v := range rec.Metrics {
				cp.Metrics[k] = v
			}
		}
		out.History[i] = cp
	}
	return out
}

// LoopResult is the immutable terminal outcome of a loop run. Only the
// result and its stage records survive the run; LoopState does not.
type LoopResult struct {
	LoopID     string        `json:"loopId"`
	Status     LoopStatus    `json:"status"`
	Iterations int           `json:"iterations"`
	Stages     []StageRecord `json:"stages"`
}

// FeedbackSignal is one unit of production feedback.
type FeedbackSignal struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Score      float64   `json:"score"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// SignalBatch is the output of the signal collector.
type SignalBatch struct {
	Signals []FeedbackSignal `json:"signals"`
	Count   int              `json:"count"`
}

// TrainingExample is one curated training-ready example.
type TrainingExample struct {
	Input  string  `json:"input"`
	Ideal  string  `json:"ideal"`
	Weight float64 `json:"weight"`
}

// CurationResult is the output of the data curator.
type CurationResult struct {
	CuratedData  []TrainingExample  `json:"curatedData"`
	QualityScore float64            `json:"qualityScore"`
	Stats        map[string]float64 `json:"stats,omitempty"`
}

// Candidate is an optimized prompt candidate under evaluation.
type Candidate struct {
	PromptID string            `json:"promptId"`
	SuiteID  string            `json:"suiteId"`
	Prompt   string            `json:"prompt"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OptimizationResult is the output of the optimizer.
type OptimizationResult struct {
	CandidatePrompt string            `json:"candidatePrompt"`
	CandidateScore  float64           `json:"candidateScore"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// EvalSummary aggregates an evaluation suite run.
type EvalSummary struct {
	AvgScore float64 `json:"avgScore"`
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
}

// EvalResult is the output of the evaluation runner.
type EvalResult struct {
	Summary EvalSummary `json:"summary"`
}

// RolloutResult is the output of the rollout manager.
type RolloutResult struct {
	Completed    bool   `json:"completed"`
	FinalStage   string `json:"finalStage"`
	Aborted      bool   `json:"aborted"`
	DeploymentID string `json:"deploymentId,omitempty"`
}

// RegressionStatus is the output of the regression monitor.
type RegressionStatus struct {
	HasRegression bool `json:"hasRegression"`
}

// IterationRecord is one audit entry pushed to the append-only store,
// keyed by (loopId, iteration, stage).
type IterationRecord struct {
	LoopID    string      `json:"loopId"`
	Iteration int         `json:"iteration"`
	Record    StageRecord `json:"record"`
}
