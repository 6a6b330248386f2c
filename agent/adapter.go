package agent

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/BaSui01/resumeflow/types"
)

// Adapter is the contract a task body offers to the runner.
//
// The runner queries SupportsCheckpointing once per attempt, calls Setup
// with the restored checkpoint (nil when none applies), consumes Run to
// exhaustion, then reads FinalOutput. An adapter instance lives for exactly
// one attempt.
type Adapter[In, Out any] interface {
	// SupportsCheckpointing reports whether the adapter can resume precisely
	// from a checkpoint handle. It must not change during an attempt.
	SupportsCheckpointing() bool

	// Setup prepares the adapter for the thread. Checkpoint-capable adapters
	// restore their underlying state from cp; others reset to zero.
	Setup(ctx context.Context, threadID string, cp *types.Checkpoint) error

	// Run returns a lazy, finite, single-use sequence yielding one
	// StepResult after each completed unit of work.
	Run(ctx context.Context, input In) iter.Seq2[types.StepResult, error]

	// FinalOutput is valid only after Run has been exhausted.
	FinalOutput(ctx context.Context) (Out, error)
}

// HandleReporter is implemented by adapters that acquire an external handle
// during Setup, before the first step. The runner heartbeats the handle
// immediately so it survives a crash before step 1.
type HandleReporter interface {
	ExternalCheckpointID() string
}

// Factory builds a fresh adapter for each attempt.
type Factory[In, Out any] func() Adapter[In, Out]

// sequence guards the single-use and exhaustion rules shared by adapters.
type sequence struct {
	started  atomic.Bool
	finished atomic.Bool
}

// begin marks the sequence as consumed; it reports false on reuse.
func (s *sequence) begin() bool {
	return s.started.CompareAndSwap(false, true)
}

func (s *sequence) finish() {
	s.finished.Store(true)
}

func (s *sequence) done() bool {
	return s.finished.Load()
}

// failed returns a sequence that yields err once.
func failed(err error) iter.Seq2[types.StepResult, error] {
	return func(yield func(types.StepResult, error) bool) {
		yield(types.StepResult{}, err)
	}
}
