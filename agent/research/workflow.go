package research

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent/hitl"
	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/host"
	"github.com/BaSui01/resumeflow/internal/metrics"
	"github.com/BaSui01/resumeflow/types"
	"github.com/BaSui01/resumeflow/workflow"
)

// ActivityName 研究活动名
const ActivityName = "run_research_agent"

// DefaultActivityOptions 研究活动默认执行选项
func DefaultActivityOptions() host.ActivityOptions {
	return host.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: host.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []types.ErrorCode{types.ErrInvalidInput},
		},
	}
}

// WorkflowOption 研究工作流选项
type WorkflowOption func(*Workflow)

// WithApprovalTimeout 审批等待时长
func WithApprovalTimeout(d time.Duration) WorkflowOption {
	return func(w *Workflow) {
		if d > 0 {
			w.approvalTimeout = d
		}
	}
}

// WithActivityOptions 覆盖活动执行选项
func WithActivityOptions(opts host.ActivityOptions) WorkflowOption {
	return func(w *Workflow) { w.activity = opts }
}

// WithRunnerOptions 传给运行器的选项
func WithRunnerOptions(opts ...longrunning.Option) WorkflowOption {
	return func(w *Workflow) { w.runOpts = append(w.runOpts, opts...) }
}

// WithRegistry 把协调器注册到信号注册表
func WithRegistry(r *hitl.Registry) WorkflowOption {
	return func(w *Workflow) { w.registry = r }
}

// WithInterruptStore 中断记录存储
func WithInterruptStore(s hitl.InterruptStore) WorkflowOption {
	return func(w *Workflow) { w.interrupts = s }
}

// WithInterruptHandler 审批暂停时的通知
func WithInterruptHandler(h hitl.InterruptHandler) WorkflowOption {
	return func(w *Workflow) { w.handlers = append(w.handlers, h) }
}

// WithLogger 日志
func WithLogger(logger *zap.Logger) WorkflowOption {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics 指标
func WithMetrics(c *metrics.Collector) WorkflowOption {
	return func(w *Workflow) { w.metrics = c }
}

// Workflow 研究工作流：在宿主中运行研究活动，图挂起时等待审批信号后恢复
type Workflow struct {
	host            *host.LocalHost
	graph           *workflow.CompiledGraph
	registry        *hitl.Registry
	interrupts      hitl.InterruptStore
	handlers        []hitl.InterruptHandler
	approvalTimeout time.Duration
	activity        host.ActivityOptions
	runOpts         []longrunning.Option
	logger          *zap.Logger
	metrics         *metrics.Collector
}

// NewWorkflow 创建研究工作流
func NewWorkflow(h *host.LocalHost, graph *workflow.CompiledGraph, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		host:            h,
		graph:           graph,
		approvalTimeout: hitl.DefaultApprovalTimeout,
		activity:        DefaultActivityOptions(),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "research_workflow"))
	return w
}

// ExpiredMessage 审批过期时的结果
func (w *Workflow) ExpiredMessage() string {
	return fmt.Sprintf("Research expired: approval not received within %s", humanTimeout(w.approvalTimeout))
}

// humanTimeout 整分钟写作 "N minutes"，其余保留 Duration 格式
func humanTimeout(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 minute"
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}

// Run 执行研究，返回最终报告；审批过期时返回过期消息
func (w *Workflow) Run(ctx context.Context, threadID string, in Input) (string, error) {
	res, err := w.Execute(ctx, threadID, in)
	if err != nil {
		return "", err
	}
	if res.Expired() {
		return w.ExpiredMessage(), nil
	}
	return res.Value.FinalReport, nil
}

// Execute 执行研究并返回协调器结果
func (w *Workflow) Execute(ctx context.Context, threadID string, in Input) (hitl.Result[Output], error) {
	factory := NewFactory(w.graph, w.logger)
	runOpts := append([]longrunning.Option{longrunning.WithLogger(w.logger)}, w.runOpts...)
	if w.metrics != nil {
		runOpts = append(runOpts, longrunning.WithMetrics(w.metrics))
	}

	attempt := func(ctx context.Context, in Input, signal *types.ApprovalResponse) (hitl.Outcome[Output], error) {
		if signal != nil {
			in.ResumeValue = signal.AsResumeValue()
		}
		out, err := host.RunAdapter(ctx, w.host, threadID, ActivityName, w.activity, factory, in, runOpts...)
		if err != nil {
			return hitl.Outcome[Output]{}, err
		}
		return hitl.Outcome[Output]{Interrupted: out.Interrupted, InterruptValue: out.InterruptValue, Value: out}, nil
	}

	copts := []hitl.CoordinatorOption{
		hitl.WithThreadID(threadID),
		hitl.WithApprovalTimeout(w.approvalTimeout),
		hitl.WithCoordinatorLogger(w.logger),
		hitl.WithCoordinatorMetrics(w.metrics),
		hitl.WithInterruptStore(w.interrupts),
	}
	for _, h := range w.handlers {
		copts = append(copts, hitl.WithInterruptHandler(h))
	}
	coord := hitl.NewCoordinator(attempt, copts...)
	if w.registry != nil {
		unregister := w.registry.Register(threadID, coord)
		defer unregister()
	}

	w.logger.Info("research started",
		zap.String("thread_id", threadID),
		zap.Bool("needs_approval", in.NeedsApproval),
	)
	res, err := coord.Run(ctx, in)
	if err != nil {
		w.logger.Warn("research failed", zap.String("thread_id", threadID), zap.Error(err))
		return res, err
	}
	w.logger.Info("research finished",
		zap.String("thread_id", threadID),
		zap.String("status", string(res.Status)),
		zap.Int("pauses", res.Pauses),
	)
	return res, nil
}
