package hitl

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/types"
)

// ErrUnknownThread 线程没有已注册的协调器
var ErrUnknownThread = errors.New("no coordinator registered for thread")

// ErrSignalDiscarded 协调器已终止，信号被丢弃
var ErrSignalDiscarded = errors.New("signal discarded: coordinator already finished")

// Signaler 可接收外部信号的协调器
type Signaler interface {
	Signal(resp types.ApprovalResponse) bool
	State() State
}

// Registry 线程 ID 到协调器的路由表
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Signaler
	logger  *zap.Logger
}

// NewRegistry 创建路由表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]Signaler),
		logger:  logger.With(zap.String("component", "hitl_registry")),
	}
}

// Register 注册协调器，返回注销函数。同一线程重复注册时后者覆盖前者。
func (r *Registry) Register(threadID string, s Signaler) func() {
	r.mu.Lock()
	r.entries[threadID] = s
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.entries[threadID] == s {
			delete(r.entries, threadID)
		}
	}
}

// Signal 向线程投递审批信号
func (r *Registry) Signal(threadID string, resp types.ApprovalResponse) error {
	r.mu.RLock()
	s, ok := r.entries[threadID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	if !s.Signal(resp) {
		return ErrSignalDiscarded
	}
	r.logger.Info("signal routed", zap.String("thread_id", threadID), zap.Bool("approved", resp.Approved))
	return nil
}

// State 返回线程协调器的状态
func (r *Registry) State(threadID string) (State, bool) {
	r.mu.RLock()
	s, ok := r.entries[threadID]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return s.State(), true
}

// Threads 已注册的线程数
func (r *Registry) Threads() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
