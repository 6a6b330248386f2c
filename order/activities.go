package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/types"
)

// InventoryRecoveryAttempt 库存服务在此次尝试起恢复
const InventoryRecoveryAttempt = 5

// Activities 订单活动。Work 为每个活动的模拟耗时，OutageDelay 为库存故障时的等待。
type Activities struct {
	Work        time.Duration
	OutageDelay time.Duration
	Now         func() time.Time
	Logger      *zap.Logger
}

// NewActivities 默认耗时：活动 1s，库存故障 10s
func NewActivities(logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		Work:        time.Second,
		OutageDelay: 10 * time.Second,
		Now:         time.Now,
		Logger:      logger.With(zap.String("component", "order_activities")),
	}
}

// ProcessPayment 校验卡片有效期并模拟扣款。过期或格式错误不可重试。
func (a *Activities) ProcessPayment(ctx context.Context, _ longrunning.ActivityEnv, o Order) (string, error) {
	month, year, err := ParseExpiry(o.CreditCardExpiry)
	if err != nil {
		return "", err
	}
	if CardExpired(month, year, a.Now()) {
		return "", types.NewNonRetryable("Invalid credit card expiry")
	}
	if err := sleep(ctx, a.Work); err != nil {
		return "", err
	}
	return fmt.Sprintf("Payment processed for order %s", o.OrderID), nil
}

// ReserveInventory 预留库存。inventoryDown 时前四次尝试瞬时失败。
func (a *Activities) ReserveInventory(ctx context.Context, env longrunning.ActivityEnv, o Order, inventoryDown bool) (string, error) {
	if inventoryDown {
		attempt := env.Info().Attempt
		if attempt < InventoryRecoveryAttempt {
			a.Logger.Warn("inventory service down", zap.String("order_id", o.OrderID), zap.Int("attempt", attempt))
			if err := sleep(ctx, a.OutageDelay); err != nil {
				return "", err
			}
			return "", types.NewTransient(fmt.Sprintf("Inventory service down (attempt %d)", attempt))
		}
		a.Logger.Info("inventory service recovered", zap.String("order_id", o.OrderID), zap.Int("attempt", attempt))
		if err := sleep(ctx, a.Work); err != nil {
			return "", err
		}
		return fmt.Sprintf("Inventory reserved for order %s (recovered after %d attempts)", o.OrderID, attempt), nil
	}

	if err := sleep(ctx, a.Work); err != nil {
		return "", err
	}
	return fmt.Sprintf("Inventory reserved for order %s", o.OrderID), nil
}

// DeliverOrder 模拟发货
func (a *Activities) DeliverOrder(ctx context.Context, _ longrunning.ActivityEnv, o Order) (string, error) {
	if err := sleep(ctx, a.Work); err != nil {
		return "", err
	}
	return fmt.Sprintf("Order %s delivered", o.OrderID), nil
}
