package hitl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/resumeflow/internal/metrics"
	"github.com/BaSui01/resumeflow/types"
)

// approvalTask 第一次调用中断，收到信号后完成
type approvalTask struct {
	mu      sync.Mutex
	signals []*types.ApprovalResponse
	onCall  func(call int)
}

func (a *approvalTask) invoke(ctx context.Context, input string, signal *types.ApprovalResponse) (Outcome[string], error) {
	a.mu.Lock()
	a.signals = append(a.signals, signal)
	call := len(a.signals)
	hook := a.onCall
	a.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if signal == nil {
		return Outcome[string]{Interrupted: true, InterruptValue: "approve " + input + "?", Value: "draft"}, nil
	}
	if signal.Approved {
		return Outcome[string]{Value: input + ": approved"}, nil
	}
	return Outcome[string]{Value: input + ": rejected (" + signal.Feedback + ")"}, nil
}

func (a *approvalTask) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.signals)
}

// pausedHandler 把暂停通知转发到通道
func pausedHandler() (CoordinatorOption, <-chan Interrupt) {
	ch := make(chan Interrupt, 4)
	return WithInterruptHandler(func(_ context.Context, i *Interrupt) error {
		ch <- *i
		return nil
	}), ch
}

func waitPaused(t *testing.T, ch <-chan Interrupt) Interrupt {
	t.Helper()
	select {
	case i := <-ch:
		return i
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator never paused")
		return Interrupt{}
	}
}

type runResult struct {
	res Result[string]
	err error
}

func runAsync(c *Coordinator[string, string], input string) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		res, err := c.Run(context.Background(), input)
		done <- runResult{res, err}
	}()
	return done
}

func TestCoordinator_CompletesWithoutInterrupt(t *testing.T) {
	c := NewCoordinator(func(ctx context.Context, input string, _ *types.ApprovalResponse) (Outcome[string], error) {
		return Outcome[string]{Value: "done " + input}, nil
	})

	res, err := c.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "done x", res.Value)
	assert.Equal(t, 0, res.Pauses)
	assert.Equal(t, StateDone, c.State())
}

func TestCoordinator_ResumesWithSignal(t *testing.T) {
	task := &approvalTask{}
	onPause, paused := pausedHandler()
	store := NewInMemoryInterruptStore()
	c := NewCoordinator(task.invoke, WithThreadID("thread-ok"), WithInterruptStore(store),
		WithApprovalTimeout(5*time.Second), onPause)

	done := runAsync(c, "report")
	rec := waitPaused(t, paused)
	assert.Equal(t, "approve report?", rec.Data)
	assert.Equal(t, StateAwaitingSignal, c.State())

	require.True(t, c.Signal(types.ApprovalResponse{Approved: true, Feedback: "ship it"}))

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, StatusCompleted, out.res.Status)
	assert.Equal(t, "report: approved", out.res.Value)
	assert.Equal(t, 1, out.res.Pauses)
	assert.Equal(t, "ship it", out.res.Decision.Feedback)
	assert.Equal(t, 2, task.calls())
	assert.Equal(t, StateDone, c.State())

	records, err := store.List(context.Background(), "thread-ok", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, InterruptStatusResolved, records[0].Status)
}

func TestCoordinator_RejectionIsRecorded(t *testing.T) {
	task := &approvalTask{}
	onPause, paused := pausedHandler()
	c := NewCoordinator(task.invoke, WithThreadID("thread-no"), WithApprovalTimeout(5*time.Second), onPause)

	done := runAsync(c, "report")
	waitPaused(t, paused)
	c.Signal(types.ApprovalResponse{Approved: false, Feedback: "needs sources"})

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "report: rejected (needs sources)", out.res.Value)

	records, err := c.Store().List(context.Background(), "thread-no", InterruptStatusRejected)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCoordinator_ExpiresWithoutSignal(t *testing.T) {
	task := &approvalTask{}
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("hitl_expire", reg, nil)
	c := NewCoordinator(task.invoke, WithThreadID("thread-exp"),
		WithApprovalTimeout(20*time.Millisecond), WithCoordinatorMetrics(collector))

	res, err := c.Run(context.Background(), "report")
	require.NoError(t, err, "expiry is a result, not an error")
	assert.True(t, res.Expired())
	assert.Equal(t, ExpiredMessage, res.Message)
	assert.Equal(t, StateExpired, c.State())
	assert.Equal(t, 1, task.calls())

	assert.False(t, c.Signal(types.ApprovalResponse{Approved: true}), "late signal must be discarded")

	records, err := c.Store().List(context.Background(), "thread-exp", InterruptStatusTimeout)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCoordinator_SignalRace(t *testing.T) {
	tests := []struct {
		name    string
		offset  time.Duration
		expired bool
	}{
		{name: "1ms before timeout resumes", offset: 199 * time.Millisecond},
		{name: "exactly at timeout expires", offset: 200 * time.Millisecond, expired: true},
		{name: "1ms after timeout expires", offset: 201 * time.Millisecond, expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			task := &approvalTask{}
			onPause, paused := pausedHandler()
			c := NewCoordinator(task.invoke, WithClock(clock.Now),
				WithApprovalTimeout(200*time.Millisecond), onPause)

			done := runAsync(c, "report")
			waitPaused(t, paused)

			clock.SetOffset(tt.offset)
			c.Signal(types.ApprovalResponse{Approved: true})

			out := <-done
			require.NoError(t, out.err)
			if tt.expired {
				assert.True(t, out.res.Expired())
				assert.Equal(t, 1, task.calls(), "the signal must be discarded")
				assert.Equal(t, StateExpired, c.State())
				return
			}
			assert.Equal(t, StatusCompleted, out.res.Status)
			assert.Equal(t, 2, task.calls())
		})
	}
}

func TestCoordinator_SignalWhileRunningIsQueued(t *testing.T) {
	task := &approvalTask{}
	var c *Coordinator[string, string]
	task.onCall = func(call int) {
		if call == 1 {
			assert.Equal(t, StateRunning, c.State())
			c.Signal(types.ApprovalResponse{Approved: true})
		}
	}
	c = NewCoordinator(task.invoke, WithApprovalTimeout(time.Second))

	res, err := c.Run(context.Background(), "early")
	require.NoError(t, err)
	assert.Equal(t, "early: approved", res.Value)
	assert.Equal(t, 2, task.calls())
}

func TestCoordinator_AttemptFailurePropagates(t *testing.T) {
	boom := types.NewNonRetryable("bad card")
	c := NewCoordinator(func(ctx context.Context, _ string, _ *types.ApprovalResponse) (Outcome[string], error) {
		return Outcome[string]{}, boom
	})

	_, err := c.Run(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}

func TestCoordinator_RunOnce(t *testing.T) {
	c := NewCoordinator(func(ctx context.Context, _ string, _ *types.ApprovalResponse) (Outcome[string], error) {
		return Outcome[string]{Value: "ok"}, nil
	})
	_, err := c.Run(context.Background(), "x")
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCoordinatorUsed)
}

func TestCoordinator_CancelDuringWait(t *testing.T) {
	task := &approvalTask{}
	onPause, paused := pausedHandler()
	c := NewCoordinator(task.invoke, WithThreadID("thread-cancel"), WithApprovalTimeout(time.Minute), onPause)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, "x")
		done <- err
	}()

	waitPaused(t, paused)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	records, lerr := c.Store().List(context.Background(), "thread-cancel", InterruptStatusCanceled)
	require.NoError(t, lerr)
	assert.Len(t, records, 1)
}

func TestCoordinator_MultiplePauses(t *testing.T) {
	var calls int
	onPause, paused := pausedHandler()
	c := NewCoordinator(func(ctx context.Context, _ string, signal *types.ApprovalResponse) (Outcome[string], error) {
		calls++
		if calls < 3 {
			return Outcome[string]{Interrupted: true}, nil
		}
		return Outcome[string]{Value: signal.Feedback}, nil
	}, WithApprovalTimeout(5*time.Second), onPause)

	done := runAsync(c, "x")
	waitPaused(t, paused)
	c.Signal(types.ApprovalResponse{Approved: true, Feedback: "first"})
	waitPaused(t, paused)
	c.Signal(types.ApprovalResponse{Approved: true, Feedback: "second"})

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "second", out.res.Value)
	assert.Equal(t, 2, out.res.Pauses)
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateAwaitingSignal.Terminal())
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateExpired.Terminal())
}
