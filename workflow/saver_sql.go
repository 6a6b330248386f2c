package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SnapshotRecord is the gorm row of a graph snapshot.
type SnapshotRecord struct {
	ID         string    `gorm:"primaryKey;size:64"`
	ThreadID   string    `gorm:"size:255;not null;uniqueIndex:idx_graph_snapshots_thread_version,priority:1"`
	Version    int       `gorm:"not null;uniqueIndex:idx_graph_snapshots_thread_version,priority:2"`
	ParentID   string    `gorm:"size:64"`
	Step       int       `gorm:"not null"`
	Source     string    `gorm:"size:32;not null"`
	Values     string    `gorm:"column:state_values;type:text"`
	Next       string    `gorm:"column:next_nodes;type:text"`
	Writes     string    `gorm:"type:text"`
	Interrupts string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName 指定表名
func (SnapshotRecord) TableName() string {
	return "graph_snapshots"
}

// SQLSaver stores snapshots through gorm (postgres, mysql or sqlite).
type SQLSaver struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLSaver creates a saver on an opened gorm database. The schema is
// owned by internal/migration; call AutoMigrate for throwaway databases.
func NewSQLSaver(db *gorm.DB, logger *zap.Logger) (*SQLSaver, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLSaver{
		db:     db,
		logger: logger.With(zap.String("store", "sql_snapshot")),
	}, nil
}

// AutoMigrate creates the snapshot table from the gorm model.
func (s *SQLSaver) AutoMigrate() error {
	if err := s.db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

func (s *SQLSaver) Put(ctx context.Context, snap *Snapshot) error {
	rec, err := toRecord(snap)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	s.logger.Debug("snapshot saved",
		zap.String("thread_id", snap.ThreadID),
		zap.String("snapshot_id", snap.ID),
		zap.Int("version", snap.Version),
	)
	return nil
}

func (s *SQLSaver) Get(ctx context.Context, threadID, snapshotID string) (*Snapshot, error) {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND id = ?", threadID, snapshotID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, threadID, snapshotID)
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

func (s *SQLSaver) Latest(ctx context.Context, threadID string) (*Snapshot, error) {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("version DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: thread %s", ErrSnapshotNotFound, threadID)
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

func (s *SQLSaver) List(ctx context.Context, threadID string) ([]*Snapshot, error) {
	var recs []SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("version DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(recs))
	for i := range recs {
		snap, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *SQLSaver) Threads(ctx context.Context) ([]ThreadSummary, error) {
	var rows []struct {
		ThreadID      string
		Snapshots     int
		LatestVersion int
	}
	err := s.db.WithContext(ctx).
		Model(&SnapshotRecord{}).
		Select("thread_id, COUNT(*) AS snapshots, MAX(version) AS latest_version").
		Group("thread_id").
		Order("thread_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ThreadSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, ThreadSummary{ThreadID: r.ThreadID, Snapshots: r.Snapshots, LatestVersion: r.LatestVersion})
	}
	return out, nil
}

func toRecord(snap *Snapshot) (*SnapshotRecord, error) {
	values, err := json.Marshal(snap.Values)
	if err != nil {
		return nil, fmt.Errorf("marshal values: %w", err)
	}
	next, err := json.Marshal(snap.Next)
	if err != nil {
		return nil, fmt.Errorf("marshal next: %w", err)
	}
	writes, err := json.Marshal(snap.Writes)
	if err != nil {
		return nil, fmt.Errorf("marshal writes: %w", err)
	}
	interrupts, err := json.Marshal(snap.Interrupts)
	if err != nil {
		return nil, fmt.Errorf("marshal interrupts: %w", err)
	}
	return &SnapshotRecord{
		ID:         snap.ID,
		ThreadID:   snap.ThreadID,
		Version:    snap.Version,
		ParentID:   snap.ParentID,
		Step:       snap.Step,
		Source:     string(snap.Source),
		Values:     string(values),
		Next:       string(next),
		Writes:     string(writes),
		Interrupts: string(interrupts),
		CreatedAt:  snap.CreatedAt,
	}, nil
}

func fromRecord(rec *SnapshotRecord) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        rec.ID,
		ThreadID:  rec.ThreadID,
		ParentID:  rec.ParentID,
		Version:   rec.Version,
		Step:      rec.Step,
		Source:    Source(rec.Source),
		CreatedAt: rec.CreatedAt,
	}
	fields := []struct {
		raw string
		dst any
	}{
		{rec.Values, &snap.Values},
		{rec.Next, &snap.Next},
		{rec.Writes, &snap.Writes},
		{rec.Interrupts, &snap.Interrupts},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", rec.ID, err)
		}
	}
	if snap.Values == nil {
		snap.Values = State{}
	}
	return snap, nil
}
