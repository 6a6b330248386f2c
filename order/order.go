package order

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/resumeflow/types"
)

// Order 订单
type Order struct {
	OrderID          string   `json:"order_id"`
	Item             string   `json:"item"`
	Quantity         int      `json:"quantity"`
	CreditCardExpiry string   `json:"credit_card_expiry"` // MM/YY
	ItemsToPack      []string `json:"items_to_pack,omitempty"`
}

// Validate 检查订单字段
func (o Order) Validate() error {
	if strings.TrimSpace(o.OrderID) == "" {
		return types.NewNonRetryable("order id is required")
	}
	if o.Quantity <= 0 {
		return types.NewNonRetryable(fmt.Sprintf("order %s: quantity must be positive", o.OrderID))
	}
	return nil
}

// ParseExpiry 解析 MM/YY，返回月份与四位年份
func ParseExpiry(s string) (month, year int, err error) {
	mm, yy, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return 0, 0, types.NewNonRetryable(fmt.Sprintf("invalid credit card expiry %q, want MM/YY", s))
	}
	month, err = strconv.Atoi(mm)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, types.NewNonRetryable(fmt.Sprintf("invalid credit card expiry month %q", mm))
	}
	year, err = strconv.Atoi(yy)
	if err != nil || len(yy) != 2 {
		return 0, 0, types.NewNonRetryable(fmt.Sprintf("invalid credit card expiry year %q", yy))
	}
	return month, year + 2000, nil
}

// CardExpired 卡片在 now 所在月份之前过期时返回 true；当月仍有效
func CardExpired(month, year int, now time.Time) bool {
	return year < now.Year() || (year == now.Year() && month < int(now.Month()))
}
