package agent

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/types"
)

// SleepingInput configures the sleeping demo task.
type SleepingInput struct {
	SleepSeconds float64 `json:"sleep_seconds"`
	NumSteps     int     `json:"num_steps"`
}

// WithDefaults fills zero fields with 30s x 4 steps.
func (in SleepingInput) WithDefaults() SleepingInput {
	if in.SleepSeconds <= 0 {
		in.SleepSeconds = 30
	}
	if in.NumSteps <= 0 {
		in.NumSteps = 4
	}
	return in
}

// SleepingOutput reports what one attempt executed.
type SleepingOutput struct {
	StepsCompleted int     `json:"steps_completed"`
	TotalSleepTime float64 `json:"total_sleep_time"`
}

// SleepingAdapter sleeps in fixed steps and cannot checkpoint: every retry
// starts again from step 1.
type SleepingAdapter struct {
	logger         *zap.Logger
	threadID       string
	stepsCompleted int
	totalSleep     float64
	ready          bool
	seq            sequence
}

// NewSleepingAdapter creates a sleeping adapter for one attempt.
func NewSleepingAdapter(logger *zap.Logger) *SleepingAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SleepingAdapter{logger: logger.With(zap.String("component", "sleeping_adapter"))}
}

// NewSleepingFactory returns a Factory producing fresh sleeping adapters.
func NewSleepingFactory(logger *zap.Logger) Factory[SleepingInput, SleepingOutput] {
	return func() Adapter[SleepingInput, SleepingOutput] {
		return NewSleepingAdapter(logger)
	}
}

func (a *SleepingAdapter) SupportsCheckpointing() bool { return false }

// Setup ignores cp; the adapter always starts from zero.
func (a *SleepingAdapter) Setup(ctx context.Context, threadID string, _ *types.Checkpoint) error {
	a.threadID = threadID
	a.stepsCompleted = 0
	a.totalSleep = 0
	a.ready = true
	return nil
}

func (a *SleepingAdapter) Run(ctx context.Context, input SleepingInput) iter.Seq2[types.StepResult, error] {
	if !a.ready {
		return failed(ErrNotSetup)
	}
	if !a.seq.begin() {
		return failed(ErrAlreadyRun)
	}
	in := input.WithDefaults()
	pause := time.Duration(in.SleepSeconds * float64(time.Second))

	return func(yield func(types.StepResult, error) bool) {
		timer := time.NewTimer(pause)
		defer timer.Stop()

		for step := 1; step <= in.NumSteps; step++ {
			if step > 1 {
				timer.Reset(pause)
			}
			select {
			case <-ctx.Done():
				yield(types.StepResult{}, ctx.Err())
				return
			case <-timer.C:
			}

			a.stepsCompleted = step
			a.totalSleep += in.SleepSeconds
			if !yield(types.StepResult{StepNumber: step, StepName: fmt.Sprintf("sleep_%d", step)}, nil) {
				return
			}
		}
		a.seq.finish()
		a.logger.Debug("sleeping run finished",
			zap.String("thread_id", a.threadID),
			zap.Int("steps", a.stepsCompleted),
		)
	}
}

func (a *SleepingAdapter) FinalOutput(ctx context.Context) (SleepingOutput, error) {
	if !a.seq.done() {
		return SleepingOutput{}, ErrNotFinished
	}
	return SleepingOutput{StepsCompleted: a.stepsCompleted, TotalSleepTime: a.totalSleep}, nil
}
