package loop

import (
	"context"
	"fmt"
	"time"
)

// StubCollaborators returns a deterministic collaborator set so the
// worker runs end-to-end without the surrounding product services.
// Deployments replace these with real implementations.
type StubCollaborators struct {
	Quality    float64
	EvalScore  float64
	Regression bool
}

// NewStubCollaborators returns stubs with passing defaults.
func NewStubCollaborators() *StubCollaborators {
	return &StubCollaborators{Quality: 0.9, EvalScore: 0.85}
}

func (s *StubCollaborators) CollectSignals(_ context.Context, projectID string, window TimeWindow, types []string) (*SignalBatch, error) {
	signals := make([]FeedbackSignal, 0, len(types))
	for i, t := range types {
		signals = append(signals, FeedbackSignal{
			ID:         fmt.Sprintf("%s-signal-%d", projectID, i),
			Type:       t,
			Content:    "stub feedback",
			Score:      0.5,
			ReceivedAt: window.End,
		})
	}
	return &SignalBatch{Signals: signals, Count: len(signals)}, nil
}

func (s *StubCollaborators) CurateTrainingData(_ context.Context, signals []FeedbackSignal) (*CurationResult, error) {
	examples := make([]TrainingExample, 0, len(signals))
	for _, sig := range signals {
		examples = append(examples, TrainingExample{Input: sig.Content, Ideal: sig.Content, Weight: 1})
	}
	return &CurationResult{
		CuratedData:  examples,
		QualityScore: s.Quality,
		Stats:        map[string]float64{"kept": float64(len(examples))},
	}, nil
}

func (s *StubCollaborators) RunOptimization(_ context.Context, data []TrainingExample, strategy string) (*OptimizationResult, error) {
	return &OptimizationResult{
		CandidatePrompt: fmt.Sprintf("optimized via %s over %d examples", strategy, len(data)),
		CandidateScore:  s.EvalScore,
		Metadata:        map[string]string{"strategy": strategy},
	}, nil
}

func (s *StubCollaborators) Evaluate(_ context.Context, _ Candidate) (*EvalResult, error) {
	return &EvalResult{Summary: EvalSummary{AvgScore: s.EvalScore, Total: 10, Passed: 9, Failed: 1}}, nil
}

func (s *StubCollaborators) Rollout(_ context.Context, candidate Candidate) (*RolloutResult, error) {
	return &RolloutResult{
		Completed:    true,
		FinalStage:   "full",
		DeploymentID: fmt.Sprintf("%s-%d", candidate.PromptID, time.Now().Unix()),
	}, nil
}

func (s *StubCollaborators) CheckRegressionStatus(_ context.Context, _ string) (*RegressionStatus, error) {
	return &RegressionStatus{HasRegression: s.Regression}, nil
}
