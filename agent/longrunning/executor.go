package longrunning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent"
	"github.com/BaSui01/resumeflow/internal/metrics"
	"github.com/BaSui01/resumeflow/types"
)

// DefaultHeartbeatInterval is the background keep-alive cadence.
const DefaultHeartbeatInterval = 5 * time.Second

// ActivityInfo identifies the running attempt.
type ActivityInfo struct {
	ThreadID     string
	ActivityName string
	Attempt      int
}

// ActivityEnv is the host liveness channel as seen by a task.
type ActivityEnv interface {
	Info() ActivityInfo
	// HeartbeatDetails returns the last payload recorded by a previous
	// attempt of the same activity.
	HeartbeatDetails() ([]byte, bool)
	RecordHeartbeat(details []byte)
}

// Option configures Execute.
type Option func(*options)

type options struct {
	heartbeatInterval time.Duration
	logger            *zap.Logger
	metrics           *metrics.Collector
	tracer            trace.Tracer
}

// WithHeartbeatInterval sets the background heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records heartbeats, steps and start modes.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithTracer sets the tracer used for the attempt span.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		heartbeatInterval: DefaultHeartbeatInterval,
		logger:            zap.NewNop(),
		tracer:            otel.Tracer("resumeflow/longrunning"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// checkpointCell is the single mutable checkpoint shared by the step loop
// and the background heartbeat. Every heartbeat is encoded and sent while
// holding the lock.
type checkpointCell struct {
	mu       sync.Mutex
	cp       *types.Checkpoint
	env      ActivityEnv
	activity string
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func (c *checkpointCell) heartbeat(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(kind)
}

func (c *checkpointCell) sendLocked(kind string) {
	data, err := c.cp.Encode()
	if err != nil {
		c.logger.Error("failed to encode checkpoint", zap.Error(err))
		return
	}
	c.env.RecordHeartbeat(data)
	if c.metrics != nil {
		c.metrics.RecordHeartbeat(c.activity, kind)
	}
}

// apply folds a step into the checkpoint and heartbeats it immediately.
func (c *checkpointCell) apply(step types.StepResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if step.StepNumber < c.cp.ProgressCount {
		return types.NewError(types.ErrInternal,
			fmt.Sprintf("step %d regresses progress %d", step.StepNumber, c.cp.ProgressCount))
	}
	c.cp.Apply(step)
	c.sendLocked(metrics.HeartbeatStep)
	return nil
}

// adopt records a handle acquired before the first step. It reports whether
// the handle changed.
func (c *checkpointCell) adopt(handle string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle == "" || handle == c.cp.CheckpointID {
		return false
	}
	c.cp.CheckpointID = handle
	c.sendLocked(metrics.HeartbeatHandle)
	return true
}

func (c *checkpointCell) snapshot() types.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.cp
}

// Execute runs one attempt of adapter under env.
//
// The checkpoint is restored from the host's last heartbeat payload. A
// checkpoint-capable adapter resumes from it; any other adapter has it
// discarded and restarts from step 1. Errors from the adapter are returned
// unchanged so the host can classify them.
func Execute[In, Out any](ctx context.Context, env ActivityEnv, adapter agent.Adapter[In, Out], input In, opts ...Option) (Out, error) {
	var zero Out
	o := newOptions(opts)
	info := env.Info()
	threadID := info.ThreadID

	logger := o.logger.With(
		zap.String("component", "runner"),
		zap.String("thread_id", threadID),
		zap.String("activity", info.ActivityName),
		zap.Int("attempt", info.Attempt),
	)

	ctx, span := o.tracer.Start(ctx, "activity "+info.ActivityName, trace.WithAttributes(
		attribute.String("resumeflow.thread_id", threadID),
		attribute.Int("resumeflow.attempt", info.Attempt),
	))
	defer span.End()

	restored := restoreCheckpoint(env, threadID, logger)
	capable := adapter.SupportsCheckpointing()

	cell := &checkpointCell{
		env:      env,
		activity: info.ActivityName,
		metrics:  o.metrics,
		logger:   logger,
	}
	var setupCP *types.Checkpoint
	mode := metrics.ModeFresh

	switch {
	case restored != nil && capable:
		mode = metrics.ModeResume
		cell.cp = restored.Clone()
		setupCP = restored.Clone()
		logger.Info("resuming from checkpoint",
			zap.Int("completed_steps", restored.ProgressCount),
			zap.String("last_unit", restored.LastUnitName),
			zap.String("handle", restored.CheckpointID),
			zap.Int("next_step", restored.ProgressCount+1),
		)
	case restored != nil:
		mode = metrics.ModeRestart
		cell.cp = types.NewCheckpoint(threadID)
		logger.Warn("restarting from step 1, adapter cannot resume from a checkpoint",
			zap.Int("discarded_progress", restored.ProgressCount),
			zap.String("discarded_unit", restored.LastUnitName),
		)
	default:
		cell.cp = types.NewCheckpoint(threadID)
		logger.Info("starting fresh")
	}
	span.SetAttributes(attribute.String("resumeflow.start_mode", mode))
	if o.metrics != nil {
		o.metrics.RecordStartMode(info.ActivityName, mode)
	}

	cell.heartbeat(metrics.HeartbeatInitial)

	if err := adapter.Setup(ctx, threadID, setupCP); err != nil {
		logger.Error("adapter setup failed", zap.Error(err))
		recordSpanError(span, err)
		return zero, err
	}
	if hr, ok := adapter.(agent.HandleReporter); ok {
		if cell.adopt(hr.ExternalCheckpointID()) {
			logger.Info("adopted handle acquired during setup", zap.String("handle", hr.ExternalCheckpointID()))
		}
	}

	hbCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeatLoop(hbCtx, cell, o.heartbeatInterval)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	last := time.Now()
	for step, err := range adapter.Run(ctx, input) {
		if err != nil {
			logger.Warn("attempt failed", zap.Error(err), zap.Int("progress", cell.snapshot().ProgressCount))
			recordSpanError(span, err)
			return zero, err
		}
		if err := step.Validate(); err != nil {
			err = types.NewError(types.ErrInternal, "adapter yielded an invalid step").WithCause(err)
			recordSpanError(span, err)
			return zero, err
		}
		if err := cell.apply(step); err != nil {
			recordSpanError(span, err)
			return zero, err
		}

		now := time.Now()
		if o.metrics != nil {
			o.metrics.RecordStep(info.ActivityName, now.Sub(last))
		}
		last = now

		span.AddEvent("step", trace.WithAttributes(
			attribute.Int("resumeflow.step", step.StepNumber),
			attribute.String("resumeflow.step_name", step.StepName),
		))
		fields := []zap.Field{
			zap.Int("step", step.StepNumber),
			zap.String("name", step.StepName),
		}
		if step.ExternalCheckpointID != "" {
			fields = append(fields, zap.String("checkpointed", shortID(step.ExternalCheckpointID)))
		}
		logger.Info("step completed", fields...)
	}

	out, err := adapter.FinalOutput(ctx)
	if err != nil {
		recordSpanError(span, err)
		return zero, err
	}

	logger.Info("activity complete", zap.Int("steps", cell.snapshot().ProgressCount))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func heartbeatLoop(ctx context.Context, cell *checkpointCell, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cell.heartbeat(metrics.HeartbeatBackground)
		}
	}
}

// restoreCheckpoint decodes the previous attempt's payload. Unreadable or
// foreign payloads are discarded so the attempt starts fresh instead of
// failing every retry on the same bytes.
func restoreCheckpoint(env ActivityEnv, threadID string, logger *zap.Logger) *types.Checkpoint {
	details, ok := env.HeartbeatDetails()
	if !ok || len(details) == 0 {
		return nil
	}
	cp, err := types.DecodeCheckpoint(details)
	if err != nil {
		logger.Warn("discarding unreadable heartbeat details", zap.Error(err))
		return nil
	}
	if cp.ThreadID != threadID {
		logger.Warn("discarding heartbeat details of another thread", zap.String("payload_thread", cp.ThreadID))
		return nil
	}
	return cp
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
