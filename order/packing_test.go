package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/host"
	"github.com/BaSui01/resumeflow/testutil"
	"github.com/BaSui01/resumeflow/types"
)

// packLog 记录每件商品的装箱次数，可让指定的 (件序, 次数) 失败
type packLog struct {
	mu     sync.Mutex
	counts map[int]int
	failAt func(idx, call int) bool
}

func newPackLog(failAt func(idx, call int) bool) *packLog {
	return &packLog{counts: make(map[int]int), failAt: failAt}
}

func (l *packLog) pack(ctx context.Context, idx int, sku string) error {
	l.mu.Lock()
	l.counts[idx]++
	call := l.counts[idx]
	l.mu.Unlock()
	if l.failAt != nil && l.failAt(idx, call) {
		return types.NewTransient(fmt.Sprintf("dropped %s", sku))
	}
	return ctx.Err()
}

func (l *packLog) count(idx int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[idx]
}

func skus(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SKU-%03d", i+1)
	}
	return out
}

func quiet() longrunning.Option {
	return longrunning.WithHeartbeatInterval(time.Hour)
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestPackingAdapter_PacksAllItems(t *testing.T) {
	ctx := testutil.TestContext(t)
	issuer := NewMemorySlipIssuer()
	log := newPackLog(nil)
	env := testutil.NewFakeActivityEnv("order-1", ActivityPackItems)

	out, err := longrunning.Execute(ctx, env, NewPackingAdapter(issuer, "o-1", log.pack, nil),
		PackingInput{OrderID: "o-1", Items: skus(3)}, quiet())
	require.NoError(t, err)

	assert.Equal(t, 3, out.Packed)
	assert.Equal(t, "Packed 3 items", out.Summary)
	assert.Equal(t, []string{out.SlipID}, issuer.Issued("o-1"))

	cp := env.LastCheckpoint()
	require.NotNil(t, cp)
	assert.Equal(t, SlipHandle(out.SlipID), cp.CheckpointID)
	assert.Equal(t, 3, cp.ProgressCount)
	assert.Equal(t, "pack_SKU-003", cp.LastUnitName)
}

func TestPackingAdapter_SlipAcquiredOnceAcrossRetries(t *testing.T) {
	ctx := testutil.TestContext(t)
	issuer := NewMemorySlipIssuer()
	log := newPackLog(func(idx, call int) bool { return idx == 2 && call == 1 })
	h := host.NewLocalHost(nil, host.WithSleeper(noSleep))

	out, err := host.RunAdapter(ctx, h, "order-2", ActivityPackItems, PackingOptions(),
		NewPackingFactory(issuer, "o-2", log.pack, nil),
		PackingInput{OrderID: "o-2", Items: skus(4)}, quiet())
	require.NoError(t, err)

	assert.Equal(t, 1, issuer.Calls())
	assert.Equal(t, 4, out.Packed)
	assert.Equal(t, []string{out.SlipID}, issuer.Issued("o-2"))
	assert.Equal(t, 1, log.count(0))
	assert.Equal(t, 1, log.count(1))
	assert.Equal(t, 2, log.count(2))
	assert.Equal(t, 1, log.count(3))
}

func TestPackingAdapter_CrashBeforeFirstItemKeepsSlip(t *testing.T) {
	ctx := testutil.TestContext(t)
	issuer := NewMemorySlipIssuer()
	log := newPackLog(func(idx, call int) bool { return idx == 0 && call == 1 })

	env := testutil.NewFakeActivityEnv("order-3", ActivityPackItems)
	_, err := longrunning.Execute(ctx, env, NewPackingAdapter(issuer, "o-3", log.pack, nil),
		PackingInput{OrderID: "o-3", Items: skus(2)}, quiet())
	require.Error(t, err)

	cp := env.LastCheckpoint()
	require.NotNil(t, cp)
	assert.Equal(t, 0, cp.ProgressCount)
	slip, ok := ParseSlipHandle(cp.CheckpointID)
	require.True(t, ok, "handle must be heartbeated before the first item")

	out, err := longrunning.Execute(ctx, env.NextAttempt(), NewPackingAdapter(issuer, "o-3", log.pack, nil),
		PackingInput{OrderID: "o-3", Items: skus(2)}, quiet())
	require.NoError(t, err)
	assert.Equal(t, slip, out.SlipID)
	assert.Equal(t, 1, issuer.Calls())
}

func TestPackingAdapter_RejectsForeignHandle(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewPackingAdapter(NewMemorySlipIssuer(), "o-4", nil, nil)

	err := a.Setup(ctx, "order-4", &types.Checkpoint{ThreadID: "order-4", CheckpointID: "snap-1", ProgressCount: 1})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCheckpointDecode))
}

func TestPackingAdapter_ProgressBeyondItems(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewPackingAdapter(NewMemorySlipIssuer(), "o-5", nil, nil)
	require.NoError(t, a.Setup(ctx, "order-5", &types.Checkpoint{
		ThreadID: "order-5", CheckpointID: SlipHandle("s-1"), ProgressCount: 5,
	}))

	var runErr error
	for _, err := range a.Run(ctx, PackingInput{Items: skus(2)}) {
		runErr = err
	}
	require.Error(t, runErr)
	assert.False(t, types.IsRetryable(runErr))
}

func TestPackingAdapter_IssuerFailureIsTransient(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewPackingAdapter(failingIssuer{}, "o-6", nil, nil)

	err := a.Setup(ctx, "order-6", nil)
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Empty(t, a.ExternalCheckpointID())
}

type failingIssuer struct{}

func (failingIssuer) Acquire(context.Context, string) (string, error) {
	return "", errors.New("issuer offline")
}

func TestPackingAdapter_SequenceRules(t *testing.T) {
	ctx := testutil.TestContext(t)
	a := NewPackingAdapter(NewMemorySlipIssuer(), "o-7", func(context.Context, int, string) error { return nil }, nil)

	_, err := a.FinalOutput(ctx)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFinished))

	require.NoError(t, a.Setup(ctx, "order-7", nil))
	for _, err := range a.Run(ctx, PackingInput{Items: skus(1)}) {
		require.NoError(t, err)
	}
	for _, err := range a.Run(ctx, PackingInput{Items: skus(1)}) {
		assert.True(t, types.IsErrorCode(err, types.ErrAlreadyRun))
	}
}

func TestProperty_SlipIssuedOnceForAnyFailures(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "items")
		failures := rapid.SliceOfDistinct(rapid.IntRange(0, n-1), rapid.ID[int]).Draw(rt, "failures")
		failing := make(map[int]bool, len(failures))
		for _, idx := range failures {
			failing[idx] = true
		}

		ctx := context.Background()
		issuer := NewMemorySlipIssuer()
		log := newPackLog(func(idx, call int) bool { return failing[idx] && call == 1 })
		input := PackingInput{OrderID: "prop", Items: skus(n)}

		env := testutil.NewFakeActivityEnv("order-prop", ActivityPackItems)
		var (
			out PackingOutput
			err error
		)
		for attempt := 0; attempt <= len(failures); attempt++ {
			if attempt > 0 {
				env = env.NextAttempt()
			}
			out, err = longrunning.Execute(ctx, env, NewPackingAdapter(issuer, "prop", log.pack, nil), input, quiet())
			if err == nil {
				break
			}
		}
		if err != nil {
			rt.Fatalf("packing did not finish: %v", err)
		}
		if issuer.Calls() != 1 {
			rt.Fatalf("slip acquired %d times", issuer.Calls())
		}
		if out.Packed != n {
			rt.Fatalf("packed %d of %d", out.Packed, n)
		}
		for idx := 0; idx < n; idx++ {
			want := 1
			if failing[idx] {
				want = 2
			}
			if got := log.count(idx); got != want {
				rt.Fatalf("item %d packed %d times, want %d", idx, got, want)
			}
		}
	})
}

func TestRedisSlipIssuer(t *testing.T) {
	ctx := testutil.TestContext(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	issuer := NewRedisSlipIssuer(client, "test", time.Hour, nil)
	first, err := issuer.Acquire(ctx, "o-1")
	require.NoError(t, err)
	second, err := issuer.Acquire(ctx, "o-2")
	require.NoError(t, err)
	assert.Equal(t, "SLIP-000001", first)
	assert.Equal(t, "SLIP-000002", second)

	issued, err := issuer.Issued(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"SLIP-000001"}, issued)
	assert.Greater(t, mr.TTL("test:slip:order:o-1"), time.Duration(0))

	mr.Close()
	_, err = issuer.Acquire(ctx, "o-3")
	assert.Error(t, err)
}
