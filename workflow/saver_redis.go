package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSaver stores snapshots in Redis.
//
// Keys:
//
//	{prefix}:snapshot:{id}   snapshot JSON
//	{prefix}:thread:{thread} sorted set of snapshot ids scored by version
//	{prefix}:threads         set of thread ids
type RedisSaver struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSaver creates a Redis snapshot saver. A zero ttl keeps keys forever.
func NewRedisSaver(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "resumeflow:graph"
	}
	return &RedisSaver{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("store", "redis_snapshot")),
	}
}

func (s *RedisSaver) Put(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.snapshotKey(snap.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.threadKey(snap.ThreadID), redis.Z{Score: float64(snap.Version), Member: snap.ID})
		pipe.SAdd(ctx, s.threadsKey(), snap.ThreadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}

	s.logger.Debug("snapshot saved to redis",
		zap.String("snapshot_id", snap.ID),
		zap.String("thread_id", snap.ThreadID),
	)
	return nil
}

func (s *RedisSaver) Get(ctx context.Context, threadID, snapshotID string) (*Snapshot, error) {
	snap, err := s.load(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.ThreadID != threadID {
		return nil, fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, threadID, snapshotID)
	}
	return snap, nil
}

func (s *RedisSaver) Latest(ctx context.Context, threadID string) (*Snapshot, error) {
	ids, err := s.client.ZRevRange(ctx, s.threadKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: thread %s", ErrSnapshotNotFound, threadID)
	}
	return s.load(ctx, ids[0])
}

func (s *RedisSaver) List(ctx context.Context, threadID string) ([]*Snapshot, error) {
	ids, err := s.client.ZRevRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.load(ctx, id)
		if err != nil {
			s.logger.Warn("failed to load snapshot", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *RedisSaver) Threads(ctx context.Context) ([]ThreadSummary, error) {
	threads, err := s.client.SMembers(ctx, s.threadsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ThreadSummary, 0, len(threads))
	for _, id := range threads {
		key := s.threadKey(id)
		count, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		top, err := s.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return nil, err
		}
		summary := ThreadSummary{ThreadID: id, Snapshots: int(count)}
		if len(top) > 0 {
			summary.LatestVersion = int(top[0].Score)
		}
		out = append(out, summary)
	}
	sortSummaries(out)
	return out, nil
}

func (s *RedisSaver) load(ctx context.Context, snapshotID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(snapshotID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisSaver) snapshotKey(id string) string {
	return fmt.Sprintf("%s:snapshot:%s", s.prefix, id)
}

func (s *RedisSaver) threadKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s", s.prefix, threadID)
}

func (s *RedisSaver) threadsKey() string {
	return s.prefix + ":threads"
}
