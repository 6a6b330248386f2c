package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/internal/metrics"
	"github.com/BaSui01/resumeflow/types"
)

// 尝试结果
const (
	OutcomeSuccess          = "success"
	OutcomeRetryableFailure = "retryable_failure"
	OutcomeNonRetryable     = "non_retryable_failure"
	OutcomeHeartbeatTimeout = "heartbeat_timeout"
	OutcomeCanceled         = "canceled"
)

// ActivityOptions 单个活动的执行选项
type ActivityOptions struct {
	StartToCloseTimeout time.Duration `json:"start_to_close_timeout" yaml:"start_to_close_timeout"`
	HeartbeatTimeout    time.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	RetryPolicy         RetryPolicy   `json:"retry_policy" yaml:"retry_policy"`
}

// ActivityFunc 活动函数，返回 JSON 编码的结果
type ActivityFunc func(ctx context.Context, env longrunning.ActivityEnv) ([]byte, error)

// HeartbeatEvent 推送给订阅者的心跳
type HeartbeatEvent struct {
	ThreadID   string            `json:"thread_id"`
	Activity   string            `json:"activity"`
	Attempt    int               `json:"attempt"`
	Checkpoint *types.Checkpoint `json:"checkpoint,omitempty"`
	Payload    json.RawMessage   `json:"payload"`
	At         time.Time         `json:"at"`
}

// Option 宿主选项
type Option func(*LocalHost)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(h *LocalHost) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(h *LocalHost) { h.metrics = c }
}

// WithStoreWriteRate 限制每个尝试写入心跳存储的频率；尝试结束时总会写入最新载荷
func WithStoreWriteRate(limit rate.Limit, burst int) Option {
	return func(h *LocalHost) {
		h.writeLimit = limit
		h.writeBurst = burst
	}
}

// WithSleeper 替换重试退避等待
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(h *LocalHost) {
		if sleep != nil {
			h.sleep = sleep
		}
	}
}

// LocalHost 进程内持久化执行宿主：按重试策略调度尝试，监控心跳，
// 并把最近一次心跳交给下一次尝试
type LocalHost struct {
	store   HeartbeatStore
	logger  *zap.Logger
	metrics *metrics.Collector
	sleep   func(ctx context.Context, d time.Duration) error

	writeLimit rate.Limit
	writeBurst int

	subMu sync.RWMutex
	subs  map[string]map[chan HeartbeatEvent]struct{}
}

// NewLocalHost 创建宿主。store 为 nil 时使用内存存储。
func NewLocalHost(store HeartbeatStore, opts ...Option) *LocalHost {
	if store == nil {
		store = NewMemoryHeartbeatStore()
	}
	h := &LocalHost{
		store:      store,
		logger:     zap.NewNop(),
		sleep:      sleepContext,
		writeLimit: rate.Inf,
		writeBurst: 1,
		subs:       make(map[string]map[chan HeartbeatEvent]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("component", "local_host"))
	return h
}

// Store 心跳存储
func (h *LocalHost) Store() HeartbeatStore {
	return h.store
}

// ExecuteActivity 执行活动直到成功、不可重试失败、次数耗尽或 ctx 取消
func (h *LocalHost) ExecuteActivity(ctx context.Context, threadID, name string, fn ActivityFunc, opts ActivityOptions) ([]byte, error) {
	policy := opts.RetryPolicy.normalized()
	logger := h.logger.With(zap.String("thread_id", threadID), zap.String("activity", name))

	for attempt := 1; ; attempt++ {
		details, ok, err := h.store.Load(ctx, threadID, name)
		if err != nil {
			return nil, fmt.Errorf("load heartbeat details: %w", err)
		}
		if !ok {
			details = nil
		}

		env := h.newEnv(ctx, longrunning.ActivityInfo{ThreadID: threadID, ActivityName: name, Attempt: attempt}, details)
		out, err := h.runAttempt(ctx, env, fn, opts)
		env.flush()

		if err == nil {
			if derr := h.store.Delete(context.WithoutCancel(ctx), threadID, name); derr != nil {
				logger.Warn("failed to clear heartbeat details", zap.Error(derr))
			}
			h.recordAttempt(name, OutcomeSuccess)
			logger.Debug("activity completed", zap.Int("attempt", attempt))
			return out, nil
		}

		if ctx.Err() != nil {
			h.recordAttempt(name, OutcomeCanceled)
			return nil, err
		}
		if !policy.Retryable(err) {
			h.recordAttempt(name, OutcomeNonRetryable)
			logger.Warn("activity failed with non-retryable error", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}

		outcome := OutcomeRetryableFailure
		if types.IsErrorCode(err, types.ErrHeartbeatTimeout) {
			outcome = OutcomeHeartbeatTimeout
		}
		h.recordAttempt(name, outcome)

		if policy.Exhausted(attempt) {
			logger.Warn("activity attempts exhausted", zap.Int("attempts", attempt), zap.Error(err))
			return nil, types.NewError(types.ErrAttemptsExceeded,
				fmt.Sprintf("activity %s failed after %d attempts", name, attempt)).WithCause(err)
		}

		delay := policy.Backoff(attempt)
		if h.metrics != nil {
			h.metrics.RecordRetryBackoff(name, delay)
		}
		logger.Info("retrying activity",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := h.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// runAttempt 运行一次尝试，并行运行心跳看门狗
func (h *LocalHost) runAttempt(ctx context.Context, env *activityEnv, fn ActivityFunc, opts ActivityOptions) ([]byte, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.StartToCloseTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(attemptCtx, opts.StartToCloseTimeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(attemptCtx)
	done := make(chan struct{})
	var out []byte

	g.Go(func() error {
		defer close(done)
		var err error
		out, err = fn(gctx, env)
		return err
	})
	if opts.HeartbeatTimeout > 0 {
		g.Go(func() error {
			return watchdog(gctx, env, opts.HeartbeatTimeout, done)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
		!types.IsErrorCode(err, types.ErrHeartbeatTimeout) {
		err = types.NewError(types.ErrAttemptTimeout,
			fmt.Sprintf("attempt exceeded start-to-close timeout %s", opts.StartToCloseTimeout)).
			WithCause(err).WithRetryable(true)
	}
	return out, err
}

// watchdog 超过 timeout 没有心跳时使尝试失败
func watchdog(ctx context.Context, env *activityEnv, timeout time.Duration, done <-chan struct{}) error {
	tick := timeout / 4
	if tick <= 0 {
		tick = timeout
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if since := time.Since(env.lastBeatAt()); since > timeout {
				return types.NewError(types.ErrHeartbeatTimeout,
					fmt.Sprintf("no heartbeat for %s (timeout %s)", since.Truncate(time.Millisecond), timeout)).
					WithRetryable(true)
			}
		}
	}
}

func (h *LocalHost) recordAttempt(activity, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordAttempt(activity, outcome)
	}
}

// =============================================================================
// 📡 心跳订阅
// =============================================================================

// Subscribe 订阅线程的心跳。返回的取消函数关闭通道。慢订阅者会丢失事件。
func (h *LocalHost) Subscribe(threadID string) (<-chan HeartbeatEvent, func()) {
	ch := make(chan HeartbeatEvent, 16)

	h.subMu.Lock()
	if h.subs[threadID] == nil {
		h.subs[threadID] = make(map[chan HeartbeatEvent]struct{})
	}
	h.subs[threadID][ch] = struct{}{}
	h.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.subMu.Lock()
			delete(h.subs[threadID], ch)
			if len(h.subs[threadID]) == 0 {
				delete(h.subs, threadID)
			}
			h.subMu.Unlock()
			close(ch)
		})
	}
}

func (h *LocalHost) publish(ev HeartbeatEvent) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for ch := range h.subs[ev.ThreadID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
