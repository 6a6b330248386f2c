package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/api"
	"github.com/BaSui01/resumeflow/types"
)

// =============================================================================
// 🏃 后台运行
// =============================================================================

// RunStatus 后台运行状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunFunc 在后台执行的工作流
type RunFunc func(ctx context.Context, threadID string) (any, error)

// RunRecord 一次后台运行
type RunRecord struct {
	ThreadID   string     `json:"thread_id"`
	Kind       string     `json:"kind"`
	Status     RunStatus  `json:"status"`
	Result     any        `json:"result,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunTracker 管理后台运行。每个线程同一时刻只允许一个运行。
type RunTracker struct {
	ctx    context.Context
	logger *zap.Logger

	mu   sync.RWMutex
	runs map[string]*RunRecord
	wg   sync.WaitGroup
}

// NewRunTracker 创建运行管理器，ctx 取消时所有运行随之取消
func NewRunTracker(ctx context.Context, logger *zap.Logger) *RunTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunTracker{
		ctx:    ctx,
		logger: logger.With(zap.String("component", "run_tracker")),
		runs:   make(map[string]*RunRecord),
	}
}

// Start 在后台启动运行；线程已有运行中的任务时返回 CONFLICT
func (t *RunTracker) Start(kind, threadID string, fn RunFunc) error {
	t.mu.Lock()
	if prev, ok := t.runs[threadID]; ok && prev.Status == RunRunning {
		t.mu.Unlock()
		return types.NewError(types.ErrConflict, "thread "+threadID+" already has a running workflow")
	}
	rec := &RunRecord{ThreadID: threadID, Kind: kind, Status: RunRunning, StartedAt: time.Now()}
	t.runs[threadID] = rec
	t.wg.Add(1)
	t.mu.Unlock()

	logger := t.logger.With(zap.String("thread_id", threadID), zap.String("kind", kind))
	logger.Info("run started")

	go func() {
		defer t.wg.Done()
		result, err := fn(t.ctx, threadID)

		t.mu.Lock()
		defer t.mu.Unlock()
		now := time.Now()
		rec.FinishedAt = &now
		if err != nil {
			rec.Status = RunFailed
			info := &ErrorInfo{Code: string(types.GetErrorCode(err)), Message: err.Error()}
			if info.Code == "" {
				info.Code = string(types.ErrInternal)
			}
			rec.Error = info
			logger.Warn("run failed", zap.Error(err))
			return
		}
		rec.Status = RunCompleted
		rec.Result = result
		logger.Info("run completed", zap.Duration("duration", now.Sub(rec.StartedAt)))
	}()
	return nil
}

// Get 返回运行记录的副本
func (t *RunTracker) Get(threadID string) (RunRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.runs[threadID]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// Wait 等待所有后台运行结束
func (t *RunTracker) Wait() {
	t.wg.Wait()
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// Launch 解析后的启动请求；ThreadID 为空时由处理器生成
type Launch struct {
	ThreadID string
	Run      RunFunc
}

// Launcher 解析请求体
type Launcher func(w http.ResponseWriter, r *http.Request) (Launch, error)

// RunHandler 启动后台运行并查询结果
type RunHandler struct {
	tracker   *RunTracker
	launchers map[string]Launcher
	logger    *zap.Logger
}

// NewRunHandler 创建运行处理器
func NewRunHandler(tracker *RunTracker, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		tracker:   tracker,
		launchers: make(map[string]Launcher),
		logger:    logger.With(zap.String("component", "run_handler")),
	}
}

// Register 注册一种运行
func (h *RunHandler) Register(kind string, l Launcher) {
	h.launchers[kind] = l
}

// Routes 注册路由
func (h *RunHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs/{kind}", h.HandleLaunch)
	mux.HandleFunc("GET /v1/threads/{id}/result", h.HandleResult)
}

// HandleLaunch 启动运行，返回 202 与线程 ID
func (h *RunHandler) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	launch, ok := h.launchers[kind]
	if !ok {
		WriteError(w, types.NewError(types.ErrNotFound, "unknown run kind "+kind), h.logger)
		return
	}

	l, err := launch(w, r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	threadID := l.ThreadID
	if threadID == "" {
		threadID = kind + "-" + uuid.NewString()
	}

	if err := h.tracker.Start(kind, threadID, l.Run); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, http.StatusAccepted, api.RunAccepted{ThreadID: threadID, Kind: kind})
}

// HandleResult 运行状态与结果
func (h *RunHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	rec, ok := h.tracker.Get(threadID)
	if !ok {
		WriteError(w, types.NewError(types.ErrNotFound, "no run for thread "+threadID), h.logger)
		return
	}
	WriteSuccess(w, http.StatusOK, rec)
}
