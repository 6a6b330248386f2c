package order

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent"
	"github.com/BaSui01/resumeflow/types"
)

// DefaultPackDuration 每件商品的模拟装箱耗时
const DefaultPackDuration = 10 * time.Second

// PackingInput 待装箱商品
type PackingInput struct {
	OrderID string   `json:"order_id"`
	Items   []string `json:"items"`
}

// PackingOutput 装箱结果
type PackingOutput struct {
	SlipID  string `json:"slip_id"`
	Packed  int    `json:"packed"`
	Summary string `json:"summary"`
}

// PackFunc 装一件商品
type PackFunc func(ctx context.Context, idx int, sku string) error

// SleepPacker 按固定耗时模拟装箱
func SleepPacker(d time.Duration) PackFunc {
	return func(ctx context.Context, _ int, _ string) error {
		return sleep(ctx, d)
	}
}

// PackingAdapter 可精确恢复的装箱适配器。
//
// 检查点句柄为 slip:<id>，进度为已装件数。首次尝试在 Setup 中签发装箱单，
// 之后的尝试从句柄取回同一单号，不再签发。
type PackingAdapter struct {
	issuer  SlipIssuer
	orderID string
	pack    PackFunc
	logger  *zap.Logger

	threadID string
	slipID   string
	packed   int
	total    int
	ready    bool
	started  atomic.Bool
	finished atomic.Bool
}

// NewPackingAdapter 创建一次尝试使用的装箱适配器。pack 为 nil 时按 DefaultPackDuration 休眠。
func NewPackingAdapter(issuer SlipIssuer, orderID string, pack PackFunc, logger *zap.Logger) *PackingAdapter {
	if pack == nil {
		pack = SleepPacker(DefaultPackDuration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PackingAdapter{
		issuer:  issuer,
		orderID: orderID,
		pack:    pack,
		logger:  logger.With(zap.String("component", "packing_adapter"), zap.String("order_id", orderID)),
	}
}

// NewPackingFactory 每次尝试返回新的装箱适配器
func NewPackingFactory(issuer SlipIssuer, orderID string, pack PackFunc, logger *zap.Logger) agent.Factory[PackingInput, PackingOutput] {
	return func() agent.Adapter[PackingInput, PackingOutput] {
		return NewPackingAdapter(issuer, orderID, pack, logger)
	}
}

func (a *PackingAdapter) SupportsCheckpointing() bool { return true }

// Setup 从句柄恢复单号与进度；没有句柄时签发新单
func (a *PackingAdapter) Setup(ctx context.Context, threadID string, cp *types.Checkpoint) error {
	a.threadID = threadID
	a.packed = 0

	if cp.HasHandle() {
		id, ok := ParseSlipHandle(cp.CheckpointID)
		if !ok {
			return types.NewError(types.ErrCheckpointDecode,
				fmt.Sprintf("checkpoint handle %q is not a packing slip", cp.CheckpointID))
		}
		a.slipID = id
		a.packed = cp.ProgressCount
		a.logger.Info("resuming packing",
			zap.String("slip_id", id),
			zap.Int("packed", a.packed),
		)
		a.ready = true
		return nil
	}

	id, err := a.issuer.Acquire(ctx, a.orderID)
	if err != nil {
		return types.NewTransient("acquire packing slip").WithCause(err)
	}
	a.slipID = id
	a.logger.Info("packing slip acquired", zap.String("slip_id", id))
	a.ready = true
	return nil
}

// ExternalCheckpointID 当前单号句柄
func (a *PackingAdapter) ExternalCheckpointID() string {
	if a.slipID == "" {
		return ""
	}
	return SlipHandle(a.slipID)
}

func (a *PackingAdapter) Run(ctx context.Context, input PackingInput) iter.Seq2[types.StepResult, error] {
	return func(yield func(types.StepResult, error) bool) {
		if !a.ready {
			yield(types.StepResult{}, agent.ErrNotSetup)
			return
		}
		if !a.started.CompareAndSwap(false, true) {
			yield(types.StepResult{}, agent.ErrAlreadyRun)
			return
		}

		a.total = len(input.Items)
		if a.packed > a.total {
			yield(types.StepResult{}, types.NewNonRetryable(
				fmt.Sprintf("checkpoint reports %d packed items but the order has %d", a.packed, a.total)))
			return
		}

		handle := SlipHandle(a.slipID)
		for idx := a.packed; idx < a.total; idx++ {
			sku := input.Items[idx]
			if err := a.pack(ctx, idx, sku); err != nil {
				yield(types.StepResult{}, err)
				return
			}
			a.packed = idx + 1
			a.logger.Info("item packed",
				zap.String("sku", sku),
				zap.Int("packed", a.packed),
				zap.Int("total", a.total),
				zap.String("progress", fmt.Sprintf("%.1f%%", float64(a.packed)/float64(a.total)*100)),
			)
			if !yield(types.StepResult{StepNumber: a.packed, StepName: "pack_" + sku, ExternalCheckpointID: handle}, nil) {
				return
			}
		}
		a.finished.Store(true)
	}
}

func (a *PackingAdapter) FinalOutput(ctx context.Context) (PackingOutput, error) {
	if !a.finished.Load() {
		return PackingOutput{}, agent.ErrNotFinished
	}
	return PackingOutput{
		SlipID:  a.slipID,
		Packed:  a.packed,
		Summary: fmt.Sprintf("Packed %d items", a.total),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
