package testutil

import (
	"sync"

	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/types"
)

// =============================================================================
// 💓 活动环境替身
// =============================================================================

// FakeActivityEnv 记录所有心跳的内存活动环境
type FakeActivityEnv struct {
	info longrunning.ActivityInfo

	mu         sync.Mutex
	details    []byte
	heartbeats [][]byte
	// OnHeartbeat 在每次心跳后调用（锁外）
	OnHeartbeat func(payload []byte)
}

// NewFakeActivityEnv 创建首次尝试的活动环境
func NewFakeActivityEnv(threadID, activity string) *FakeActivityEnv {
	return &FakeActivityEnv{info: longrunning.ActivityInfo{
		ThreadID:     threadID,
		ActivityName: activity,
		Attempt:      1,
	}}
}

// WithDetails 设置上一次尝试留下的心跳载荷
func (e *FakeActivityEnv) WithDetails(details []byte) *FakeActivityEnv {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.details = append([]byte(nil), details...)
	return e
}

// NextAttempt 模拟宿主重试：最后一次心跳成为新尝试的载荷
func (e *FakeActivityEnv) NextAttempt() *FakeActivityEnv {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := &FakeActivityEnv{info: e.info, OnHeartbeat: e.OnHeartbeat}
	next.info.Attempt++
	if n := len(e.heartbeats); n > 0 {
		next.details = append([]byte(nil), e.heartbeats[n-1]...)
	} else {
		next.details = append([]byte(nil), e.details...)
	}
	return next
}

func (e *FakeActivityEnv) Info() longrunning.ActivityInfo { return e.info }

func (e *FakeActivityEnv) HeartbeatDetails() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.details) == 0 {
		return nil, false
	}
	return append([]byte(nil), e.details...), true
}

func (e *FakeActivityEnv) RecordHeartbeat(details []byte) {
	e.mu.Lock()
	e.heartbeats = append(e.heartbeats, append([]byte(nil), details...))
	hook := e.OnHeartbeat
	e.mu.Unlock()

	if hook != nil {
		hook(details)
	}
}

// Heartbeats 返回所有心跳载荷副本
func (e *FakeActivityEnv) Heartbeats() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.heartbeats))
	copy(out, e.heartbeats)
	return out
}

// LastCheckpoint 解码最后一次心跳
func (e *FakeActivityEnv) LastCheckpoint() *types.Checkpoint {
	hb := e.Heartbeats()
	if len(hb) == 0 {
		return nil
	}
	cp, err := types.DecodeCheckpoint(hb[len(hb)-1])
	if err != nil {
		return nil
	}
	return cp
}
