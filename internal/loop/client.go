package loop

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
)

// Handle identifies a started loop execution.
type Handle struct {
	LoopID string `json:"loopId"`
	RunID  string `json:"runId"`
}

// Client wraps the Temporal client with the loop's start, control and
// status surfaces. Signals are fire-and-forget; the status query never
// blocks on in-flight stage work.
type Client struct {
	temporal  client.Client
	taskQueue string
}

// NewClient returns a loop client on the given task queue. An empty task
// queue falls back to the default.
func NewClient(tc client.Client, taskQueue string) *Client {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	return &Client{temporal: tc, taskQueue: taskQueue}
}

// Start submits a loop run and returns its handle immediately. The
// LoopResult is obtained asynchronously via Result.
func (c *Client) Start(ctx context.Context, input LoopInput) (*Handle, error) {
	loopID := fmt.Sprintf("improvement-loop-%s-%s", input.PromptID, uuid.NewString())
	we, err := c.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        loopID,
		TaskQueue: c.taskQueue,
	}, ImprovementLoopWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("starting loop: %w", err)
	}
	return &Handle{LoopID: we.GetID(), RunID: we.GetRunID()}, nil
}

// Result blocks until the loop identified by loopID reaches a terminal
// status and returns its LoopResult.
func (c *Client) Result(ctx context.Context, loopID string) (*LoopResult, error) {
	var result LoopResult
	if err := c.temporal.GetWorkflow(ctx, loopID, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("awaiting loop result: %w", err)
	}
	return &result, nil
}

// Signal delivers a control command to a running loop.
func (c *Client) Signal(ctx context.Context, loopID string, kind CommandKind) error {
	if !ValidCommand(kind) {
		return fmt.Errorf("unknown control command %q", kind)
	}
	if err := c.temporal.SignalWorkflow(ctx, loopID, "", ControlSignalName, Command{Kind: kind}); err != nil {
		return fmt.Errorf("signaling loop %s: %w", loopID, err)
	}
	return nil
}

// Status returns the current LoopState snapshot of a running loop.
func (c *Client) Status(ctx context.Context, loopID string) (*LoopState, error) {
	resp, err := c.temporal.QueryWorkflow(ctx, loopID, "", StatusQueryName)
	if err != nil {
		return nil, fmt.Errorf("querying loop %s: %w", loopID, err)
	}
	var state LoopState
	if err := resp.Get(&state); err != nil {
		return nil, fmt.Errorf("decoding loop state: %w", err)
	}
	return &state, nil
}
