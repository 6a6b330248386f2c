package hitl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/internal/metrics"
	"github.com/BaSui01/resumeflow/types"
)

// State 协调器状态
type State string

const (
	StateRunning        State = "RUNNING"
	StateAwaitingSignal State = "AWAITING_SIGNAL"
	StateDone           State = "DONE"
	StateExpired        State = "EXPIRED"
)

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateDone || s == StateExpired
}

// Status 协调结果
type Status string

const (
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// ExpiredMessage 超时结果的说明
const ExpiredMessage = "expired, no decision received"

// DefaultApprovalTimeout 默认审批等待时长
const DefaultApprovalTimeout = 30 * time.Minute

// ErrCoordinatorUsed Run 只能调用一次
var ErrCoordinatorUsed = errors.New("coordinator already ran")

// Outcome 一次尝试的输出
type Outcome[Out any] struct {
	Interrupted    bool
	InterruptValue any
	Value          Out
}

// AttemptFunc 调用一次任务尝试。signal 在首次调用时为 nil，之后为上一次收到的信号。
type AttemptFunc[In, Out any] func(ctx context.Context, input In, signal *types.ApprovalResponse) (Outcome[Out], error)

// Result 协调器的终止结果
type Result[Out any] struct {
	Status   Status                  `json:"status"`
	Value    Out                     `json:"value"`
	Message  string                  `json:"message,omitempty"`
	Decision *types.ApprovalResponse `json:"decision,omitempty"`
	Pauses   int                     `json:"pauses"`
}

// Expired 是否为超时结果
func (r Result[Out]) Expired() bool {
	return r.Status == StatusExpired
}

// CoordinatorOption 协调器选项
type CoordinatorOption func(*coordinatorOptions)

type coordinatorOptions struct {
	threadID string
	timeout  time.Duration
	store    InterruptStore
	handlers []InterruptHandler
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// WithThreadID 设置线程 ID，用于中断记录与日志
func WithThreadID(id string) CoordinatorOption {
	return func(o *coordinatorOptions) { o.threadID = id }
}

// WithApprovalTimeout 设置审批等待时长
func WithApprovalTimeout(d time.Duration) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithInterruptStore 设置中断记录存储
func WithInterruptStore(store InterruptStore) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if store != nil {
			o.store = store
		}
	}
}

// WithInterruptHandler 注册暂停通知
func WithInterruptHandler(h InterruptHandler) CoordinatorOption {
	return func(o *coordinatorOptions) { o.handlers = append(o.handlers, h) }
}

// WithCoordinatorLogger 设置日志
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCoordinatorMetrics 记录暂停、恢复与超时
func WithCoordinatorMetrics(c *metrics.Collector) CoordinatorOption {
	return func(o *coordinatorOptions) { o.metrics = c }
}

// WithClock 替换信号时间戳与截止时间使用的时钟
func WithClock(now func() time.Time) CoordinatorOption {
	return func(o *coordinatorOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Coordinator 中断/恢复状态机
type Coordinator[In, Out any] struct {
	invoke AttemptFunc[In, Out]
	opts   coordinatorOptions
	logger *zap.Logger

	started atomic.Bool

	mu         sync.Mutex
	state      State
	pending    *types.ApprovalResponse
	receivedAt time.Time
	notify     chan struct{}
}

// NewCoordinator 创建协调器
func NewCoordinator[In, Out any](invoke AttemptFunc[In, Out], opts ...CoordinatorOption) *Coordinator[In, Out] {
	o := coordinatorOptions{
		timeout: DefaultApprovalTimeout,
		store:   NewInMemoryInterruptStore(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Coordinator[In, Out]{
		invoke: invoke,
		opts:   o,
		logger: o.logger.With(zap.String("component", "hitl_coordinator"), zap.String("thread_id", o.threadID)),
		state:  StateRunning,
		notify: make(chan struct{}, 1),
	}
}

// State 当前状态
func (c *Coordinator[In, Out]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Store 中断记录存储
func (c *Coordinator[In, Out]) Store() InterruptStore {
	return c.opts.store
}

// Signal 外部审批信号处理入口。
// RUNNING 期间到达的信号排队留给下一次等待；终止后到达的信号被丢弃并返回 false。
func (c *Coordinator[In, Out]) Signal(resp types.ApprovalResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		c.logger.Warn("signal discarded", zap.String("state", string(c.state)), zap.Bool("approved", resp.Approved))
		return false
	}

	c.pending = &resp
	c.receivedAt = c.opts.now()
	select {
	case c.notify <- struct{}{}:
	default:
	}

	c.logger.Info("signal received",
		zap.String("state", string(c.state)),
		zap.Bool("approved", resp.Approved),
	)
	return true
}

// Run 运行状态机直到 DONE 或 EXPIRED。尝试失败原样返回；超时是结果而不是错误。
func (c *Coordinator[In, Out]) Run(ctx context.Context, input In) (Result[Out], error) {
	if !c.started.CompareAndSwap(false, true) {
		return Result[Out]{}, ErrCoordinatorUsed
	}

	var (
		signal *types.ApprovalResponse
		pauses int
	)
	for {
		c.setState(StateRunning)
		outcome, err := c.invoke(ctx, input, signal)
		if err != nil {
			c.logger.Warn("attempt failed", zap.Error(err))
			return Result[Out]{}, err
		}

		if !outcome.Interrupted {
			c.setState(StateDone)
			c.logger.Info("done", zap.Int("pauses", pauses))
			return Result[Out]{Status: StatusCompleted, Value: outcome.Value, Decision: signal, Pauses: pauses}, nil
		}

		pauses++
		record, err := c.pause(ctx, outcome.InterruptValue)
		if err != nil {
			return Result[Out]{}, err
		}

		sig, err := c.wait(ctx, record.Deadline)
		if err != nil {
			c.finish(ctx, record, InterruptStatusCanceled, nil)
			return Result[Out]{}, err
		}
		if sig == nil {
			c.finish(ctx, record, InterruptStatusTimeout, nil)
			c.recordMetric("expired")
			c.logger.Warn("approval expired", zap.Duration("timeout", c.opts.timeout))
			return Result[Out]{Status: StatusExpired, Value: outcome.Value, Message: ExpiredMessage, Pauses: pauses}, nil
		}

		status := InterruptStatusResolved
		if !sig.Approved {
			status = InterruptStatusRejected
		}
		c.finish(ctx, record, status, sig)
		c.recordMetric("resumed")
		c.logger.Info("resuming with signal", zap.Bool("approved", sig.Approved))
		signal = sig
	}
}

func (c *Coordinator[In, Out]) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// pause 进入 AWAITING_SIGNAL 并记录中断
func (c *Coordinator[In, Out]) pause(ctx context.Context, value any) (*Interrupt, error) {
	c.mu.Lock()
	now := c.opts.now()
	record := newInterrupt(c.opts.threadID, value, now, c.opts.timeout)
	c.state = StateAwaitingSignal
	c.mu.Unlock()

	if err := c.opts.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save interrupt: %w", err)
	}
	c.recordMetric("paused")
	c.logger.Info("awaiting signal",
		zap.String("interrupt_id", record.ID),
		zap.Time("deadline", record.Deadline),
	)

	for _, h := range c.opts.handlers {
		go func(h InterruptHandler, rec Interrupt) {
			if err := h(ctx, &rec); err != nil {
				c.logger.Error("handler error", zap.Error(err))
			}
		}(h, *record)
	}
	return record, nil
}

// wait 阻塞到信号或超时。信号的时间戳严格早于截止时间才算胜出，
// 同时就绪时判为 EXPIRED。返回 nil 信号表示超时。
func (c *Coordinator[In, Out]) wait(ctx context.Context, deadline time.Time) (*types.ApprovalResponse, error) {
	timer := time.NewTimer(c.opts.timeout)
	defer timer.Stop()

	for {
		if sig, decided := c.consume(deadline, false); decided {
			return sig, nil
		}

		select {
		case <-c.notify:
		case <-timer.C:
			sig, _ := c.consume(deadline, true)
			return sig, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// consume 在锁内检查排队的信号并决定状态转移
func (c *Coordinator[In, Out]) consume(deadline time.Time, timedOut bool) (*types.ApprovalResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		sig, at := c.pending, c.receivedAt
		c.pending = nil
		if at.Before(deadline) {
			c.state = StateRunning
			return sig, true
		}
		c.logger.Warn("signal arrived at or after the deadline, discarded")
		c.state = StateExpired
		return nil, true
	}
	if timedOut {
		c.state = StateExpired
		return nil, true
	}
	return nil, false
}

func (c *Coordinator[In, Out]) finish(ctx context.Context, record *Interrupt, status InterruptStatus, resp *types.ApprovalResponse) {
	record.resolve(status, resp, c.opts.now())
	if err := c.opts.store.Update(ctx, record); err != nil {
		c.logger.Error("failed to update interrupt", zap.String("interrupt_id", record.ID), zap.Error(err))
	}
}

func (c *Coordinator[In, Out]) recordMetric(outcome string) {
	if c.opts.metrics != nil {
		c.opts.metrics.RecordInterrupt(outcome)
	}
}
