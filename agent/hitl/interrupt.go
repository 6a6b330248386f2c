package hitl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/resumeflow/types"
)

// InterruptType 中断类型
type InterruptType string

const (
	InterruptTypeApproval InterruptType = "approval"
	InterruptTypeInput    InterruptType = "input"
)

// InterruptStatus 中断状态
type InterruptStatus string

const (
	InterruptStatusPending  InterruptStatus = "pending"
	InterruptStatusResolved InterruptStatus = "resolved"
	InterruptStatusRejected InterruptStatus = "rejected"
	InterruptStatusTimeout  InterruptStatus = "timeout"
	InterruptStatusCanceled InterruptStatus = "canceled"
)

// ErrInterruptNotFound 中断记录不存在
var ErrInterruptNotFound = errors.New("interrupt not found")

// Interrupt 一次暂停等待的记录
type Interrupt struct {
	ID         string                  `json:"id"`
	WorkflowID string                  `json:"workflow_id"`
	Type       InterruptType           `json:"type"`
	Status     InterruptStatus         `json:"status"`
	Data       any                     `json:"data,omitempty"`
	Response   *types.ApprovalResponse `json:"response,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	Deadline   time.Time               `json:"deadline"`
	ResolvedAt *time.Time              `json:"resolved_at,omitempty"`
	Timeout    time.Duration           `json:"timeout"`
}

// Pending 是否仍在等待
func (i *Interrupt) Pending() bool {
	return i.Status == InterruptStatusPending
}

func (i *Interrupt) resolve(status InterruptStatus, resp *types.ApprovalResponse, at time.Time) {
	i.Status = status
	i.Response = resp
	i.ResolvedAt = &at
}

func newInterrupt(workflowID string, data any, now time.Time, timeout time.Duration) *Interrupt {
	return &Interrupt{
		ID:         "int_" + uuid.NewString(),
		WorkflowID: workflowID,
		Type:       InterruptTypeApproval,
		Status:     InterruptStatusPending,
		Data:       data,
		CreatedAt:  now,
		Deadline:   now.Add(timeout),
		Timeout:    timeout,
	}
}

// InterruptStore 中断记录存储接口
type InterruptStore interface {
	Save(ctx context.Context, interrupt *Interrupt) error
	Load(ctx context.Context, interruptID string) (*Interrupt, error)
	List(ctx context.Context, workflowID string, status InterruptStatus) ([]*Interrupt, error)
	Update(ctx context.Context, interrupt *Interrupt) error
}

// InterruptHandler 中断事件处理器
type InterruptHandler func(ctx context.Context, interrupt *Interrupt) error

// InMemoryInterruptStore 内存中断存储
type InMemoryInterruptStore struct {
	interrupts map[string]*Interrupt
	mu         sync.RWMutex
}

// NewInMemoryInterruptStore 创建内存中断存储
func NewInMemoryInterruptStore() *InMemoryInterruptStore {
	return &InMemoryInterruptStore{
		interrupts: make(map[string]*Interrupt),
	}
}

func (s *InMemoryInterruptStore) Save(ctx context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *interrupt
	s.interrupts[interrupt.ID] = &cp
	return nil
}

func (s *InMemoryInterruptStore) Load(ctx context.Context, interruptID string) (*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	interrupt, ok := s.interrupts[interruptID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInterruptNotFound, interruptID)
	}
	cp := *interrupt
	return &cp, nil
}

// List 按创建时间升序返回
func (s *InMemoryInterruptStore) List(ctx context.Context, workflowID string, status InterruptStatus) ([]*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Interrupt
	for _, interrupt := range s.interrupts {
		if (workflowID == "" || interrupt.WorkflowID == workflowID) &&
			(status == "" || interrupt.Status == status) {
			cp := *interrupt
			results = append(results, &cp)
		}
	}
	slices.SortFunc(results, func(a, b *Interrupt) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return results, nil
}

func (s *InMemoryInterruptStore) Update(ctx context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.interrupts[interrupt.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrInterruptNotFound, interrupt.ID)
	}
	cp := *interrupt
	s.interrupts[interrupt.ID] = &cp
	return nil
}
