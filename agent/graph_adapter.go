package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/types"
	"github.com/BaSui01/resumeflow/workflow"
)

// GraphRun is what a GraphAdapter hands to its output projection.
type GraphRun struct {
	ThreadID   string
	StepCount  int
	Final      *workflow.Snapshot
	Interrupt  *workflow.PendingInterrupt
	ResumedRun bool
}

// GraphBinding maps a task's input and output onto a compiled graph.
type GraphBinding[In, Out any] struct {
	// Input builds the initial channel state and an optional resume value.
	// A non-nil resume value continues a thread parked on an interrupt.
	Input func(in In) (initial workflow.State, resume any)

	// Output projects the final graph state into the task output.
	Output func(run GraphRun) (Out, error)
}

// GraphAdapter drives a state graph and resumes it precisely: each node is
// one step and the snapshot id saved after it is the checkpoint handle.
type GraphAdapter[In, Out any] struct {
	graph   *workflow.CompiledGraph
	binding GraphBinding[In, Out]
	logger  *zap.Logger

	threadID  string
	steps     int
	resuming  bool
	parked    bool
	ready     bool
	interrupt *workflow.PendingInterrupt
	seq       sequence
}

// NewGraphAdapter creates a checkpoint-capable adapter for one attempt.
func NewGraphAdapter[In, Out any](graph *workflow.CompiledGraph, binding GraphBinding[In, Out], logger *zap.Logger) *GraphAdapter[In, Out] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphAdapter[In, Out]{
		graph:   graph,
		binding: binding,
		logger:  logger.With(zap.String("component", "graph_adapter")),
	}
}

func (a *GraphAdapter[In, Out]) SupportsCheckpointing() bool { return true }

// Setup restores the step counter from cp and inspects the thread's latest
// snapshot. With a checkpoint and a stored snapshot the attempt continues
// with no fresh input, whether or not work is pending.
func (a *GraphAdapter[In, Out]) Setup(ctx context.Context, threadID string, cp *types.Checkpoint) error {
	a.threadID = threadID
	a.steps = 0
	if cp != nil {
		a.steps = cp.ProgressCount
	}

	latest, err := a.graph.GetState(ctx, threadID)
	switch {
	case errors.Is(err, workflow.ErrSnapshotNotFound):
		latest = nil
	case err != nil:
		return fmt.Errorf("load graph state for %s: %w", threadID, err)
	}

	a.parked = latest.Interrupted()
	// 有检查点且存储中已有快照时不传新输入：已完成的图不会重跑
	a.resuming = cp != nil && latest != nil && !a.parked

	if cp.HasHandle() && latest != nil && latest.ID != cp.CheckpointID {
		a.logger.Info("graph advanced past last heartbeat",
			zap.String("thread_id", threadID),
			zap.String("heartbeat_handle", cp.CheckpointID),
			zap.String("latest_snapshot", latest.ID),
		)
	}
	a.ready = true
	return nil
}

func (a *GraphAdapter[In, Out]) Run(ctx context.Context, input In) iter.Seq2[types.StepResult, error] {
	if !a.ready {
		return failed(ErrNotSetup)
	}
	if !a.seq.begin() {
		return failed(ErrAlreadyRun)
	}

	initial, resume := a.binding.Input(input)
	var streamInput any
	switch {
	case a.parked && resume != nil:
		streamInput = workflow.Command{Resume: resume}
	case a.resuming:
		streamInput = nil
	default:
		streamInput = initial
	}

	return func(yield func(types.StepResult, error) bool) {
		for ev, err := range a.graph.Stream(ctx, a.threadID, streamInput) {
			if err != nil {
				yield(types.StepResult{}, err)
				return
			}
			if ev.Interrupt != nil {
				a.interrupt = ev.Interrupt
				continue
			}
			a.steps++
			if !yield(types.StepResult{StepNumber: a.steps, StepName: ev.Node, ExternalCheckpointID: ev.SnapshotID}, nil) {
				return
			}
		}
		a.seq.finish()
	}
}

func (a *GraphAdapter[In, Out]) FinalOutput(ctx context.Context) (Out, error) {
	var zero Out
	if !a.seq.done() {
		return zero, ErrNotFinished
	}
	final, err := a.graph.GetState(ctx, a.threadID)
	if err != nil && !errors.Is(err, workflow.ErrSnapshotNotFound) {
		return zero, fmt.Errorf("load final graph state: %w", err)
	}
	return a.binding.Output(GraphRun{
		ThreadID:   a.threadID,
		StepCount:  a.steps,
		Final:      final,
		Interrupt:  a.interrupt,
		ResumedRun: a.resuming,
	})
}
