package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HeartbeatStore 保存每个 (线程, 活动) 最近一次心跳载荷。只保留最新一条，不保留历史。
type HeartbeatStore interface {
	Save(ctx context.Context, threadID, activity string, payload []byte) error
	Load(ctx context.Context, threadID, activity string) ([]byte, bool, error)
	Delete(ctx context.Context, threadID, activity string) error
}

type storeKey struct {
	thread   string
	activity string
}

// =============================================================================
// 🧠 内存存储
// =============================================================================

// MemoryHeartbeatStore 内存心跳存储
type MemoryHeartbeatStore struct {
	mu       sync.RWMutex
	payloads map[storeKey][]byte
}

// NewMemoryHeartbeatStore 创建内存心跳存储
func NewMemoryHeartbeatStore() *MemoryHeartbeatStore {
	return &MemoryHeartbeatStore{payloads: make(map[storeKey][]byte)}
}

func (s *MemoryHeartbeatStore) Save(ctx context.Context, threadID, activity string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[storeKey{threadID, activity}] = append([]byte(nil), payload...)
	return nil
}

func (s *MemoryHeartbeatStore) Load(ctx context.Context, threadID, activity string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payloads[storeKey{threadID, activity}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), p...), true, nil
}

func (s *MemoryHeartbeatStore) Delete(ctx context.Context, threadID, activity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, storeKey{threadID, activity})
	return nil
}

// =============================================================================
// 🔴 Redis 存储
// =============================================================================

// RedisHeartbeatStore Redis 心跳存储，进程重启后仍可恢复
type RedisHeartbeatStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisHeartbeatStore 创建 Redis 心跳存储。ttl 为 0 时不过期。
func NewRedisHeartbeatStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisHeartbeatStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "resumeflow"
	}
	return &RedisHeartbeatStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("store", "redis_heartbeat")),
	}
}

func (s *RedisHeartbeatStore) Save(ctx context.Context, threadID, activity string, payload []byte) error {
	if err := s.client.Set(ctx, s.key(threadID, activity), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save heartbeat: %w", err)
	}
	return nil
}

func (s *RedisHeartbeatStore) Load(ctx context.Context, threadID, activity string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(threadID, activity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load heartbeat: %w", err)
	}
	return data, true, nil
}

func (s *RedisHeartbeatStore) Delete(ctx context.Context, threadID, activity string) error {
	if err := s.client.Del(ctx, s.key(threadID, activity)).Err(); err != nil {
		return fmt.Errorf("delete heartbeat: %w", err)
	}
	s.logger.Debug("heartbeat cleared", zap.String("thread_id", threadID), zap.String("activity", activity))
	return nil
}

func (s *RedisHeartbeatStore) key(threadID, activity string) string {
	return fmt.Sprintf("%s:heartbeat:%s:%s", s.prefix, threadID, activity)
}
