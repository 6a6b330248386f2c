package host

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/types"
)

// activityEnv 一次尝试的存活通道
type activityEnv struct {
	ctx     context.Context
	host    *LocalHost
	info    longrunning.ActivityInfo
	details []byte
	limiter *rate.Limiter

	mu       sync.Mutex
	latest   []byte
	lastBeat time.Time
	dirty    bool
}

func (h *LocalHost) newEnv(ctx context.Context, info longrunning.ActivityInfo, details []byte) *activityEnv {
	return &activityEnv{
		ctx:      context.WithoutCancel(ctx),
		host:     h,
		info:     info,
		details:  details,
		limiter:  rate.NewLimiter(h.writeLimit, h.writeBurst),
		lastBeat: time.Now(),
	}
}

func (e *activityEnv) Info() longrunning.ActivityInfo { return e.info }

func (e *activityEnv) HeartbeatDetails() ([]byte, bool) {
	if len(e.details) == 0 {
		return nil, false
	}
	return append([]byte(nil), e.details...), true
}

// RecordHeartbeat 记录心跳；存储写入按速率节流，未写入的载荷在尝试结束时补写
func (e *activityEnv) RecordHeartbeat(details []byte) {
	payload := append([]byte(nil), details...)
	now := time.Now()

	e.mu.Lock()
	e.latest = payload
	e.lastBeat = now
	write := e.limiter.Allow()
	e.dirty = !write
	if write {
		e.save(payload)
	} else {
		e.host.recordWrite("throttled")
	}
	e.mu.Unlock()

	ev := HeartbeatEvent{
		ThreadID: e.info.ThreadID,
		Activity: e.info.ActivityName,
		Attempt:  e.info.Attempt,
		Payload:  payload,
		At:       now,
	}
	if cp, err := types.DecodeCheckpoint(payload); err == nil {
		ev.Checkpoint = cp
	}
	e.host.publish(ev)
}

// save 在持有 mu 时调用，保证写入顺序与心跳顺序一致
func (e *activityEnv) save(payload []byte) {
	result := "written"
	if err := e.host.store.Save(e.ctx, e.info.ThreadID, e.info.ActivityName, payload); err != nil {
		result = "failed"
		e.host.logger.Warn("failed to persist heartbeat",
			zap.String("thread_id", e.info.ThreadID),
			zap.String("activity", e.info.ActivityName),
			zap.Error(err),
		)
	}
	e.host.recordWrite(result)
}

// flush 写入被节流的最新载荷
func (e *activityEnv) flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dirty && e.latest != nil {
		e.save(e.latest)
		e.dirty = false
	}
}

func (e *activityEnv) lastBeatAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBeat
}

func (h *LocalHost) recordWrite(result string) {
	if h.metrics != nil {
		h.metrics.RecordHeartbeatWrite(result)
	}
}
