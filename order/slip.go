package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SlipHandlePrefix 装箱单句柄前缀
const SlipHandlePrefix = "slip:"

// SlipIssuer 签发装箱单。每次调用都会产生新单号，调用方负责只调用一次。
type SlipIssuer interface {
	Acquire(ctx context.Context, orderID string) (string, error)
}

// SlipHandle 把单号编码为检查点句柄
func SlipHandle(slipID string) string {
	return SlipHandlePrefix + slipID
}

// ParseSlipHandle 从检查点句柄解析单号
func ParseSlipHandle(handle string) (string, bool) {
	id, ok := strings.CutPrefix(handle, SlipHandlePrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// =============================================================================
// 🧠 内存实现
// =============================================================================

// MemorySlipIssuer 内存签发器，记录调用次数
type MemorySlipIssuer struct {
	mu     sync.Mutex
	calls  int
	issued map[string][]string
}

// NewMemorySlipIssuer 创建内存签发器
func NewMemorySlipIssuer() *MemorySlipIssuer {
	return &MemorySlipIssuer{issued: make(map[string][]string)}
}

func (m *MemorySlipIssuer) Acquire(ctx context.Context, orderID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "slip-" + uuid.NewString()[:8]

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.issued[orderID] = append(m.issued[orderID], id)
	return id, nil
}

// Calls 累计签发次数
func (m *MemorySlipIssuer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Issued 某订单签发过的单号
func (m *MemorySlipIssuer) Issued(orderID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.issued[orderID]...)
}

// =============================================================================
// 🗄️ Redis 实现
// =============================================================================

// RedisSlipIssuer 用 INCR 生成递增单号，并把签发记录追加到订单列表
type RedisSlipIssuer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSlipIssuer 创建 Redis 签发器
func NewRedisSlipIssuer(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisSlipIssuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "resumeflow"
	}
	return &RedisSlipIssuer{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "redis_slip_issuer")),
	}
}

func (r *RedisSlipIssuer) Acquire(ctx context.Context, orderID string) (string, error) {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("allocate slip number: %w", err)
	}
	id := fmt.Sprintf("SLIP-%06d", seq)

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.orderKey(orderID), id)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.orderKey(orderID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("record slip %s: %w", id, err)
	}

	r.logger.Info("slip issued", zap.String("order_id", orderID), zap.String("slip_id", id))
	return id, nil
}

// Issued 某订单签发过的单号
func (r *RedisSlipIssuer) Issued(ctx context.Context, orderID string) ([]string, error) {
	return r.client.LRange(ctx, r.orderKey(orderID), 0, -1).Result()
}

func (r *RedisSlipIssuer) seqKey() string {
	return r.prefix + ":slip:seq"
}

func (r *RedisSlipIssuer) orderKey(orderID string) string {
	return r.prefix + ":slip:order:" + orderID
}
