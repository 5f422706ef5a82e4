package loop

import (
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/workflow"
)

// ControlSignalName is the signal channel carrying loop control commands.
const ControlSignalName = "control"

// StatusQueryName is the query returning a LoopState snapshot.
const StatusQueryName = "status"

// CommandKind tags a control command. Delivery is at-least-once, so every
// command must be an idempotent no-op when not applicable.
type CommandKind string

const (
	CommandPause   CommandKind = "pause"
	CommandResume  CommandKind = "resume"
	CommandAbort   CommandKind = "abort"
	CommandSkip    CommandKind = "skip"
	CommandApprove CommandKind = "approve"
	CommandReject  CommandKind = "reject"
)

// ValidCommand reports whether kind is a recognized control command.
func ValidCommand(kind CommandKind) bool {
	switch kind {
	case CommandPause, CommandResume, CommandAbort, CommandSkip, CommandApprove, CommandReject:
		return true
	}
	return false
}

// Command is the payload of the control signal channel.
type Command struct {
	Kind CommandKind `json:"kind"`
}

// controller holds the control flags mutated by the signal pump and read
// by the workflow at checkpoints. All access happens on the single
// workflow execution context, so no locking is needed.
type controller struct {
	paused         bool
	aborted        bool
	skipPending    bool
	awaitingReview bool
	review         *Decision
}

// pump drains the control signal channel for the lifetime of the workflow.
func (c *controller) pump(ctx workflow.Context, logger log.Logger) {
	workflow.Go(ctx, func(gctx workflow.Context) {
		ch := workflow.GetSignalChannel(gctx, ControlSignalName)
		for {
			var cmd Command
			if more := ch.Receive(gctx, &cmd); !more {
				return
			}
			c.apply(cmd, logger)
		}
	})
}

func (c *controller) apply(cmd Command, logger log.Logger) {
	logger.Info("control command received", "kind", cmd.Kind)
	switch cmd.Kind {
	case CommandPause:
		if !c.aborted {
			c.paused = true
		}
	case CommandResume:
		c.paused = false
	case CommandAbort:
		c.aborted = true
		c.paused = false
	case CommandSkip:
		c.skipPending = true
	case CommandApprove:
		if c.awaitingReview && c.review == nil {
			d := DecisionApprove
			c.review = &d
		}
	case CommandReject:
		if c.awaitingReview && c.review == nil {
			d := DecisionReject
			c.review = &d
		}
	default:
		logger.Warn("unknown control command dropped", "kind", cmd.Kind)
	}
}

// takeSkip consumes a pending skip request.
func (c *controller) takeSkip() bool {
	if c.skipPending {
		c.skipPending = false
		return true
	}
	return false
}
