package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent/hitl"
	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/host"
	"github.com/BaSui01/resumeflow/internal/metrics"
	"github.com/BaSui01/resumeflow/types"
)

// 活动名
const (
	ActivityProcessPayment   = "process_payment"
	ActivityReserveInventory = "reserve_inventory"
	ActivityPackItems        = "pack_order_items"
	ActivityDeliverOrder     = "deliver_order"
)

// 工作流结果
const (
	ResultFulfilled = "Order fulfilled"
	ResultExpired   = "Order expired"
	ResultRejected  = "Order rejected"
)

// DefaultApprovalTimeout 发货审批默认等待时长
const DefaultApprovalTimeout = 30 * time.Second

// Receipt 订单工作流的执行记录
type Receipt struct {
	Result    string                  `json:"result"`
	Payment   string                  `json:"payment,omitempty"`
	Inventory string                  `json:"inventory,omitempty"`
	Packing   *PackingOutput          `json:"packing,omitempty"`
	Delivery  string                  `json:"delivery,omitempty"`
	Decision  *types.ApprovalResponse `json:"decision,omitempty"`
}

// WorkflowOption 订单工作流选项
type WorkflowOption func(*Workflow)

// WithApprovalTimeout 发货审批等待时长
func WithApprovalTimeout(d time.Duration) WorkflowOption {
	return func(w *Workflow) {
		if d > 0 {
			w.approvalTimeout = d
		}
	}
}

// WithActivities 替换活动实现
func WithActivities(a *Activities) WorkflowOption {
	return func(w *Workflow) {
		if a != nil {
			w.activities = a
		}
	}
}

// WithPacker 替换单件装箱逻辑
func WithPacker(pack PackFunc) WorkflowOption {
	return func(w *Workflow) { w.pack = pack }
}

// WithRegistry 把审批协调器注册到信号注册表
func WithRegistry(r *hitl.Registry) WorkflowOption {
	return func(w *Workflow) { w.registry = r }
}

// WithInterruptStore 中断记录存储
func WithInterruptStore(s hitl.InterruptStore) WorkflowOption {
	return func(w *Workflow) { w.interrupts = s }
}

// WithRunnerOptions 传给装箱运行器的选项
func WithRunnerOptions(opts ...longrunning.Option) WorkflowOption {
	return func(w *Workflow) { w.runOpts = append(w.runOpts, opts...) }
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

// Workflow 订单履约：扣款 → 预留库存 → 装箱 → 等待审批 → 发货
type Workflow struct {
	host            *host.LocalHost
	issuer          SlipIssuer
	activities      *Activities
	pack            PackFunc
	registry        *hitl.Registry
	interrupts      hitl.InterruptStore
	approvalTimeout time.Duration
	runOpts         []longrunning.Option
	logger          *zap.Logger
	metrics         *metrics.Collector
}

// NewWorkflow 创建订单工作流。issuer 为 nil 时使用内存签发器。
func NewWorkflow(h *host.LocalHost, issuer SlipIssuer, opts ...WorkflowOption) *Workflow {
	if issuer == nil {
		issuer = NewMemorySlipIssuer()
	}
	w := &Workflow{
		host:            h,
		issuer:          issuer,
		approvalTimeout: DefaultApprovalTimeout,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "order_workflow"))
	if w.activities == nil {
		w.activities = NewActivities(w.logger)
	}
	return w
}

// PaymentOptions 扣款只尝试一次
func PaymentOptions() host.ActivityOptions {
	return host.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         host.RetryPolicy{MaximumAttempts: 1},
	}
}

// InventoryOptions 库存故障时无限重试直到恢复，否则只尝试一次
func InventoryOptions(inventoryDown bool) host.ActivityOptions {
	policy := host.RetryPolicy{MaximumAttempts: 1}
	if inventoryDown {
		policy = host.DefaultRetryPolicy()
	}
	return host.ActivityOptions{StartToCloseTimeout: 15 * time.Second, RetryPolicy: policy}
}

// PackingOptions 装箱带心跳超时，最多 10 次尝试
func PackingOptions() host.ActivityOptions {
	return host.ActivityOptions{
		StartToCloseTimeout: 6 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: host.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    10,
		},
	}
}

// DeliveryOptions 发货使用默认重试
func DeliveryOptions() host.ActivityOptions {
	return host.ActivityOptions{StartToCloseTimeout: 10 * time.Second, RetryPolicy: host.DefaultRetryPolicy()}
}

// Run 执行订单工作流并返回结果文本
func (w *Workflow) Run(ctx context.Context, threadID string, o Order, inventoryDown bool) (string, error) {
	receipt, err := w.Execute(ctx, threadID, o, inventoryDown)
	if err != nil {
		return "", err
	}
	return receipt.Result, nil
}

// Execute 执行订单工作流并返回完整记录
func (w *Workflow) Execute(ctx context.Context, threadID string, o Order, inventoryDown bool) (*Receipt, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	logger := w.logger.With(zap.String("thread_id", threadID), zap.String("order_id", o.OrderID))
	receipt := &Receipt{}

	payment, err := host.Execute(ctx, w.host, threadID, ActivityProcessPayment, PaymentOptions(),
		func(ctx context.Context, env longrunning.ActivityEnv) (string, error) {
			return w.activities.ProcessPayment(ctx, env, o)
		})
	if err != nil {
		logger.Warn("payment failed", zap.Error(err))
		return nil, err
	}
	receipt.Payment = payment

	inventory, err := host.Execute(ctx, w.host, threadID, ActivityReserveInventory, InventoryOptions(inventoryDown),
		func(ctx context.Context, env longrunning.ActivityEnv) (string, error) {
			return w.activities.ReserveInventory(ctx, env, o, inventoryDown)
		})
	if err != nil {
		logger.Warn("inventory reservation failed", zap.Error(err))
		return nil, err
	}
	receipt.Inventory = inventory

	if len(o.ItemsToPack) > 0 {
		packing, err := host.RunAdapter(ctx, w.host, threadID, ActivityPackItems, PackingOptions(),
			NewPackingFactory(w.issuer, o.OrderID, w.pack, w.logger),
			PackingInput{OrderID: o.OrderID, Items: o.ItemsToPack},
			w.runnerOptions()...)
		if err != nil {
			logger.Warn("packing failed", zap.Error(err))
			return nil, err
		}
		receipt.Packing = &packing
	}

	res, err := w.awaitApproval(ctx, threadID, o, receipt)
	if err != nil {
		return nil, err
	}
	receipt.Decision = res.Decision
	switch {
	case res.Expired():
		receipt.Result = ResultExpired
	default:
		receipt.Result = res.Value
	}
	logger.Info("order workflow finished", zap.String("result", receipt.Result))
	return receipt, nil
}

// awaitApproval 暂停等待发货审批；批准后发货
func (w *Workflow) awaitApproval(ctx context.Context, threadID string, o Order, receipt *Receipt) (hitl.Result[string], error) {
	attempt := func(ctx context.Context, o Order, sig *types.ApprovalResponse) (hitl.Outcome[string], error) {
		if sig == nil {
			return hitl.Outcome[string]{
				Interrupted: true,
				InterruptValue: map[string]any{
					"message":  "Approve order for delivery",
					"order_id": o.OrderID,
				},
			}, nil
		}
		if !sig.Approved {
			result := ResultRejected
			if sig.Feedback != "" {
				result += ": " + sig.Feedback
			}
			return hitl.Outcome[string]{Value: result}, nil
		}
		delivery, err := host.Execute(ctx, w.host, threadID, ActivityDeliverOrder, DeliveryOptions(),
			func(ctx context.Context, env longrunning.ActivityEnv) (string, error) {
				return w.activities.DeliverOrder(ctx, env, o)
			})
		if err != nil {
			return hitl.Outcome[string]{}, err
		}
		receipt.Delivery = delivery
		return hitl.Outcome[string]{Value: ResultFulfilled}, nil
	}

	coord := hitl.NewCoordinator(attempt,
		hitl.WithThreadID(threadID),
		hitl.WithApprovalTimeout(w.approvalTimeout),
		hitl.WithInterruptStore(w.interrupts),
		hitl.WithCoordinatorLogger(w.logger),
		hitl.WithCoordinatorMetrics(w.metrics),
	)
	if w.registry != nil {
		unregister := w.registry.Register(threadID, coord)
		defer unregister()
	}
	return coord.Run(ctx, o)
}

func (w *Workflow) runnerOptions() []longrunning.Option {
	opts := []longrunning.Option{longrunning.WithLogger(w.logger)}
	if w.metrics != nil {
		opts = append(opts, longrunning.WithMetrics(w.metrics))
	}
	return append(opts, w.runOpts...)
}
