package host

import (
	"math"
	"slices"
	"time"

	"github.com/BaSui01/resumeflow/types"
)

// RetryPolicy 活动重试策略
type RetryPolicy struct {
	InitialInterval        time.Duration     `json:"initial_interval" yaml:"initial_interval"`
	BackoffCoefficient     float64           `json:"backoff_coefficient" yaml:"backoff_coefficient"`
	MaximumInterval        time.Duration     `json:"maximum_interval" yaml:"maximum_interval"`
	MaximumAttempts        int               `json:"maximum_attempts" yaml:"maximum_attempts"` // 0 表示不限
	NonRetryableErrorTypes []types.ErrorCode `json:"non_retryable_error_types,omitempty" yaml:"non_retryable_error_types"`
}

// DefaultRetryPolicy 返回默认重试策略：1s 起步，2 倍退避，上限 100 倍初始间隔，不限次数
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
	}
}

// normalized 填充零值字段
func (p RetryPolicy) normalized() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.BackoffCoefficient < 1.0 {
		p.BackoffCoefficient = 2.0
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = 100 * p.InitialInterval
	}
	if p.MaximumAttempts < 0 {
		p.MaximumAttempts = 0
	}
	return p
}

// Backoff 计算第 attempt 次失败后的等待时间：initial * coefficient^(attempt-1)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(attempt-1))
	if delay > float64(p.MaximumInterval) {
		delay = float64(p.MaximumInterval)
	}
	return time.Duration(delay)
}

// Retryable 判断错误是否允许重试
func (p RetryPolicy) Retryable(err error) bool {
	if !types.IsRetryable(err) {
		return false
	}
	code := types.GetErrorCode(err)
	return code == "" || !slices.Contains(p.NonRetryableErrorTypes, code)
}

// Exhausted 是否已用完尝试次数
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaximumAttempts > 0 && attempt >= p.MaximumAttempts
}
