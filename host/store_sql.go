package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 🗄️ SQL 存储
// =============================================================================

// HeartbeatRecord 心跳载荷行，主键为 (thread_id, activity)
type HeartbeatRecord struct {
	ThreadID  string    `gorm:"primaryKey;size:255"`
	Activity  string    `gorm:"primaryKey;size:255"`
	Payload   string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName 指定表名
func (HeartbeatRecord) TableName() string {
	return "heartbeat_details"
}

// SQLHeartbeatStore 基于 gorm 的心跳存储（postgres、mysql、sqlite）
type SQLHeartbeatStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLHeartbeatStore 创建 SQL 心跳存储。表结构由迁移或 AutoMigrate 创建。
func NewSQLHeartbeatStore(db *gorm.DB, logger *zap.Logger) *SQLHeartbeatStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLHeartbeatStore{db: db, logger: logger.With(zap.String("store", "sql_heartbeat"))}
}

// AutoMigrate 创建 heartbeat_details 表
func (s *SQLHeartbeatStore) AutoMigrate() error {
	return s.db.AutoMigrate(&HeartbeatRecord{})
}

func (s *SQLHeartbeatStore) Save(ctx context.Context, threadID, activity string, payload []byte) error {
	rec := HeartbeatRecord{
		ThreadID:  threadID,
		Activity:  activity,
		Payload:   string(payload),
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}, {Name: "activity"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save heartbeat: %w", err)
	}
	return nil
}

func (s *SQLHeartbeatStore) Load(ctx context.Context, threadID, activity string) ([]byte, bool, error) {
	var rec HeartbeatRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND activity = ?", threadID, activity).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load heartbeat: %w", err)
	}
	return []byte(rec.Payload), true, nil
}

func (s *SQLHeartbeatStore) Delete(ctx context.Context, threadID, activity string) error {
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND activity = ?", threadID, activity).
		Delete(&HeartbeatRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete heartbeat: %w", err)
	}
	s.logger.Debug("heartbeat cleared", zap.String("thread_id", threadID), zap.String("activity", activity))
	return nil
}
