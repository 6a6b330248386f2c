package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source records what produced a snapshot.
type Source string

const (
	SourceInput     Source = "input"
	SourceLoop      Source = "loop"
	SourceInterrupt Source = "interrupt"
)

// ErrSnapshotNotFound is returned when a thread or snapshot has no record.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the complete graph state after one superstep.
type Snapshot struct {
	ID         string              `json:"id"`
	ThreadID   string              `json:"thread_id"`
	ParentID   string              `json:"parent_id,omitempty"`
	Version    int                 `json:"version"`
	Step       int                 `json:"step"`
	Source     Source              `json:"source"`
	Values     State               `json:"values"`
	Next       []string            `json:"next,omitempty"`
	Writes     map[string][]string `json:"writes,omitempty"`
	Interrupts []PendingInterrupt  `json:"interrupts,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// PendingInterrupt is a pause raised by a node that awaits a resume value.
type PendingInterrupt struct {
	Node  string `json:"node"`
	Value any    `json:"value,omitempty"`
}

// Interrupted reports whether the snapshot is parked on an interrupt.
func (s *Snapshot) Interrupted() bool {
	return s != nil && len(s.Interrupts) > 0
}

// HasPendingWork reports whether nodes remain to be executed.
func (s *Snapshot) HasPendingWork() bool {
	return s != nil && len(s.Next) > 0
}

// child derives the next snapshot in the thread's chain.
func (s *Snapshot) child(source Source, values State, next []string) *Snapshot {
	step := s.Step
	if source == SourceLoop {
		step++
	}
	return &Snapshot{
		ID:        uuid.NewString(),
		ThreadID:  s.ThreadID,
		ParentID:  s.ID,
		Version:   s.Version + 1,
		Step:      step,
		Source:    source,
		Values:    values,
		Next:      next,
		CreatedAt: time.Now().UTC(),
	}
}

// ThreadSummary describes one thread in a saver.
type ThreadSummary struct {
	ThreadID      string `json:"thread_id"`
	Snapshots     int    `json:"snapshots"`
	LatestVersion int    `json:"latest_version"`
}

// Saver persists snapshots keyed by thread id.
type Saver interface {
	Put(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, threadID, snapshotID string) (*Snapshot, error)
	Latest(ctx context.Context, threadID string) (*Snapshot, error)
	// List returns the thread's snapshots, newest first.
	List(ctx context.Context, threadID string) ([]*Snapshot, error)
	Threads(ctx context.Context) ([]ThreadSummary, error)
}

// MemorySaver keeps snapshots in process memory.
type MemorySaver struct {
	threads map[string][]*Snapshot
	mu      sync.RWMutex
}

// NewMemorySaver creates an empty in-memory saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{threads: make(map[string][]*Snapshot)}
}

func (s *MemorySaver) Put(ctx context.Context, snap *Snapshot) error {
	if snap.ThreadID == "" {
		return fmt.Errorf("snapshot %s has no thread id", snap.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[snap.ThreadID] = append(s.threads[snap.ThreadID], snap)
	return nil
}

func (s *MemorySaver) Get(ctx context.Context, threadID, snapshotID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.threads[threadID] {
		if snap.ID == snapshotID {
			return snap, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, threadID, snapshotID)
}

func (s *MemorySaver) Latest(ctx context.Context, threadID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.threads[threadID]
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: thread %s", ErrSnapshotNotFound, threadID)
	}
	return snaps[len(snaps)-1], nil
}

func (s *MemorySaver) List(ctx context.Context, threadID string) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.threads[threadID])
	slices.Reverse(out)
	return out, nil
}

func (s *MemorySaver) Threads(ctx context.Context) ([]ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ThreadSummary, 0, len(s.threads))
	for id, snaps := range s.threads {
		out = append(out, ThreadSummary{
			ThreadID:      id,
			Snapshots:     len(snaps),
			LatestVersion: snaps[len(snaps)-1].Version,
		})
	}
	sortSummaries(out)
	return out, nil
}

func sortSummaries(out []ThreadSummary) {
	slices.SortFunc(out, func(a, b ThreadSummary) int {
		return strings.Compare(a.ThreadID, b.ThreadID)
	})
}
