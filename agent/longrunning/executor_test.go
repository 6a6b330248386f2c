package longrunning_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/resumeflow/agent"
	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/internal/metrics"
	"github.com/BaSui01/resumeflow/testutil"
	"github.com/BaSui01/resumeflow/types"
)

// =============================================================================
// 🧪 测试适配器
// =============================================================================

// scriptedAdapter 按脚本产出步骤，可选在某一步失败
type scriptedAdapter struct {
	capable   bool
	steps     int
	failAt    int
	stepDelay time.Duration
	handle    string
	badStep   bool
	failFinal bool

	mu       sync.Mutex
	start    int
	last     int
	executed []int
}

func (a *scriptedAdapter) SupportsCheckpointing() bool { return a.capable }

func (a *scriptedAdapter) Setup(_ context.Context, _ string, cp *types.Checkpoint) error {
	a.start = 0
	if a.capable && cp != nil {
		a.start = cp.ProgressCount
	}
	a.last = a.start
	return nil
}

func (a *scriptedAdapter) ExternalCheckpointID() string { return a.handle }

func (a *scriptedAdapter) Run(ctx context.Context, _ struct{}) iter.Seq2[types.StepResult, error] {
	return func(yield func(types.StepResult, error) bool) {
		for i := a.start + 1; i <= a.steps; i++ {
			if a.stepDelay > 0 {
				select {
				case <-ctx.Done():
					yield(types.StepResult{}, ctx.Err())
					return
				case <-time.After(a.stepDelay):
				}
			}
			if i == a.failAt {
				yield(types.StepResult{}, types.NewTransient(fmt.Sprintf("unit_%d failed", i)))
				return
			}
			a.mu.Lock()
			a.executed = append(a.executed, i)
			a.last = i
			a.mu.Unlock()

			step := types.StepResult{StepNumber: i, StepName: fmt.Sprintf("unit_%d", i)}
			if a.badStep {
				step.StepName = ""
			}
			if a.capable {
				step.ExternalCheckpointID = fmt.Sprintf("snap-%d", i)
			}
			if !yield(step, nil) {
				return
			}
		}
	}
}

func (a *scriptedAdapter) FinalOutput(context.Context) (string, error) {
	if a.failFinal {
		return "", types.NewTransient("worker lost before reporting completion")
	}
	return fmt.Sprintf("completed %d of %d units", a.last, a.steps), nil
}

func (a *scriptedAdapter) Executed() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.executed...)
}

func quiet() longrunning.Option {
	return longrunning.WithHeartbeatInterval(time.Hour)
}

// =============================================================================
// 🎯 场景测试
// =============================================================================

func TestExecute_FreshThreadThreeSteps(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-1", "sleeping")
	adapter := agent.NewSleepingAdapter(zap.NewNop())

	out, err := longrunning.Execute(ctx, env, agent.Adapter[agent.SleepingInput, agent.SleepingOutput](adapter),
		agent.SleepingInput{SleepSeconds: 0.001, NumSteps: 3}, quiet())
	require.NoError(t, err)

	assert.Equal(t, 3, out.StepsCompleted)
	// initial + one per step
	hb := env.Heartbeats()
	require.Len(t, hb, 4)
	first, err := types.DecodeCheckpoint(hb[0])
	require.NoError(t, err)
	assert.Equal(t, "thread-1", first.ThreadID)
	assert.Equal(t, 0, first.ProgressCount)

	last := env.LastCheckpoint()
	assert.Equal(t, 3, last.ProgressCount)
	assert.Equal(t, "sleep_3", last.LastUnitName)
	testutil.AssertProgressMonotonic(t, hb)
}

func TestExecute_ResumesCapableAdapterAfterFailure(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-resume", "scripted")

	first := &scriptedAdapter{capable: true, steps: 3, failAt: 3}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](first), struct{}{}, quiet())
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, []int{1, 2}, first.Executed())
	assert.Equal(t, 2, env.LastCheckpoint().ProgressCount)
	assert.Equal(t, "snap-2", env.LastCheckpoint().CheckpointID)

	retry := env.NextAttempt()
	second := &scriptedAdapter{capable: true, steps: 3}
	out, err := longrunning.Execute(ctx, retry, agent.Adapter[struct{}, string](second), struct{}{}, quiet())
	require.NoError(t, err)

	assert.Equal(t, []int{3}, second.Executed())
	assert.Equal(t, 3, retry.LastCheckpoint().ProgressCount)

	clean := &scriptedAdapter{capable: true, steps: 3}
	want, err := longrunning.Execute(ctx, testutil.NewFakeActivityEnv("thread-clean", "scripted"),
		agent.Adapter[struct{}, string](clean), struct{}{}, quiet())
	require.NoError(t, err)
	assert.Equal(t, want, out)
}

func TestExecute_ResumesAfterFailureFollowingLastStep(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-finished", "scripted")

	first := &scriptedAdapter{capable: true, steps: 3, failFinal: true}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](first), struct{}{}, quiet())
	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, first.Executed())
	assert.Equal(t, 3, env.LastCheckpoint().ProgressCount)

	retry := env.NextAttempt()
	second := &scriptedAdapter{capable: true, steps: 3}
	out, err := longrunning.Execute(ctx, retry, agent.Adapter[struct{}, string](second), struct{}{}, quiet())
	require.NoError(t, err)

	assert.Empty(t, second.Executed())
	assert.Equal(t, "completed 3 of 3 units", out)
	// 重试只发出初始心跳
	require.Len(t, retry.Heartbeats(), 1)
	assert.Equal(t, 3, retry.LastCheckpoint().ProgressCount)
}

func TestExecute_RestartsNonCapableAdapter(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-restart", "scripted").
		WithDetails(testutil.MustCheckpoint(&types.Checkpoint{ThreadID: "thread-restart", ProgressCount: 2, LastUnitName: "unit_2"}))

	adapter := &scriptedAdapter{steps: 3}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{},
		quiet(), longrunning.WithLogger(zap.New(core)))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, adapter.Executed())
	first, err := types.DecodeCheckpoint(env.Heartbeats()[0])
	require.NoError(t, err)
	assert.Equal(t, 0, first.ProgressCount)
	assert.Equal(t, 1, logs.FilterMessageSnippet("restarting from step 1").Len())
}

func TestExecute_DiscardsUnreadableDetails(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-bad", "scripted").WithDetails([]byte("{not json"))

	adapter := &scriptedAdapter{capable: true, steps: 2}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{}, quiet())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, adapter.Executed())
}

func TestExecute_DiscardsForeignThreadDetails(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-a", "scripted").
		WithDetails(testutil.MustCheckpoint(&types.Checkpoint{ThreadID: "thread-b", ProgressCount: 5}))

	adapter := &scriptedAdapter{capable: true, steps: 2}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{}, quiet())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, adapter.Executed())
}

func TestExecute_RejectsInvalidStep(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-invalid", "scripted")

	adapter := &scriptedAdapter{steps: 2, badStep: true}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{}, quiet())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInternal))
	assert.Len(t, env.Heartbeats(), 1)
}

func TestExecute_AdoptsHandleBeforeFirstStep(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-handle", "scripted")

	adapter := &scriptedAdapter{steps: 1, handle: "slip:abc"}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{}, quiet())
	require.NoError(t, err)

	hb := env.Heartbeats()
	require.Len(t, hb, 3)
	second, err := types.DecodeCheckpoint(hb[1])
	require.NoError(t, err)
	assert.Equal(t, "slip:abc", second.CheckpointID)
	assert.Equal(t, 0, second.ProgressCount)
	assert.Equal(t, "slip:abc", env.LastCheckpoint().CheckpointID)
}

// =============================================================================
// 💓 双心跳测试
// =============================================================================

func TestExecute_BackgroundHeartbeatDuringLongStep(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-long", "scripted")

	adapter := &scriptedAdapter{steps: 2, stepDelay: 80 * time.Millisecond}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{},
		longrunning.WithHeartbeatInterval(10*time.Millisecond))
	require.NoError(t, err)

	hb := env.Heartbeats()
	assert.Greater(t, len(hb), 3, "background heartbeats must fire inside a step")
	testutil.AssertProgressMonotonic(t, hb)
}

func TestExecute_StepHeartbeatsMatchSteps(t *testing.T) {
	ctx := testutil.TestContext(t)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("runner_steps", reg, nil)
	env := testutil.NewFakeActivityEnv("thread-count", "scripted")

	adapter := &scriptedAdapter{steps: 5, stepDelay: 5 * time.Millisecond}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{},
		longrunning.WithHeartbeatInterval(2*time.Millisecond), longrunning.WithMetrics(collector))
	require.NoError(t, err)

	assert.Equal(t, 5.0, heartbeatCount(t, reg, metrics.HeartbeatStep))
	assert.Equal(t, 1.0, heartbeatCount(t, reg, metrics.HeartbeatInitial))
	assert.Greater(t, heartbeatCount(t, reg, metrics.HeartbeatBackground), 0.0)
}

func TestExecute_StopsHeartbeatOnFailure(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-stop", "scripted")

	adapter := &scriptedAdapter{steps: 3, failAt: 2, stepDelay: 20 * time.Millisecond}
	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{},
		longrunning.WithHeartbeatInterval(time.Millisecond))
	require.Error(t, err)

	n := len(env.Heartbeats())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(env.Heartbeats()), "no heartbeat may survive the attempt")
}

func TestExecute_StopsHeartbeatOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env := testutil.NewFakeActivityEnv("thread-cancel", "scripted")

	adapter := &scriptedAdapter{steps: 3, stepDelay: time.Second}
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](adapter), struct{}{},
		longrunning.WithHeartbeatInterval(time.Millisecond))
	require.ErrorIs(t, err, context.Canceled)

	n := len(env.Heartbeats())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(env.Heartbeats()))
	assert.Equal(t, 0, env.LastCheckpoint().ProgressCount)
}

func TestExecute_SetupFailurePropagates(t *testing.T) {
	ctx := testutil.TestContext(t)
	env := testutil.NewFakeActivityEnv("thread-setup", "broken")
	boom := errors.New("store unavailable")

	_, err := longrunning.Execute(ctx, env, agent.Adapter[struct{}, string](&failingSetup{err: boom}), struct{}{}, quiet())
	require.ErrorIs(t, err, boom)
	// the thread identity is persisted before setup runs
	assert.Len(t, env.Heartbeats(), 1)
}

type failingSetup struct {
	scriptedAdapter
	err error
}

func (f *failingSetup) Setup(context.Context, string, *types.Checkpoint) error { return f.err }

func heartbeatCount(t *testing.T, reg *prometheus.Registry, kind string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "runner_steps_heartbeats_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
