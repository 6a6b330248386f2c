package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent/hitl"
	"github.com/BaSui01/resumeflow/api"
	"github.com/BaSui01/resumeflow/types"
	"github.com/BaSui01/resumeflow/workflow"
)

// =============================================================================
// 🧵 线程接口
// =============================================================================

// SignalRouter 把审批信号投递到线程的协调器（*hitl.Registry）
type SignalRouter interface {
	Signal(threadID string, resp types.ApprovalResponse) error
	State(threadID string) (hitl.State, bool)
}

// CheckpointReader 读取宿主保存的心跳载荷（host.HeartbeatStore）
type CheckpointReader interface {
	Load(ctx context.Context, threadID, activity string) ([]byte, bool, error)
}

// ThreadHandler 线程信号、检查点与快照历史
type ThreadHandler struct {
	signals     SignalRouter
	checkpoints CheckpointReader
	snapshots   workflow.Saver
	logger      *zap.Logger
}

// NewThreadHandler 创建线程处理器。checkpoints 或 snapshots 为 nil 时对应接口返回 404。
func NewThreadHandler(signals SignalRouter, checkpoints CheckpointReader, snapshots workflow.Saver, logger *zap.Logger) *ThreadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadHandler{
		signals:     signals,
		checkpoints: checkpoints,
		snapshots:   snapshots,
		logger:      logger.With(zap.String("component", "thread_handler")),
	}
}

// Routes 注册路由
func (h *ThreadHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/threads", h.HandleListThreads)
	mux.HandleFunc("POST /v1/threads/{id}/approval", h.HandleApproval)
	mux.HandleFunc("GET /v1/threads/{id}/state", h.HandleState)
	mux.HandleFunc("GET /v1/threads/{id}/checkpoint", h.HandleCheckpoint)
	mux.HandleFunc("GET /v1/threads/{id}/history", h.HandleHistory)
}

// HandleApproval 投递审批信号。线程未在等待时返回 404，协调器已终止返回 409。
func (h *ThreadHandler) HandleApproval(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	var req api.ApprovalRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	err := h.signals.Signal(threadID, req.Response())
	switch {
	case errors.Is(err, hitl.ErrUnknownThread):
		WriteError(w, types.NewError(types.ErrNotFound, "no running workflow for thread "+threadID), h.logger)
		return
	case errors.Is(err, hitl.ErrSignalDiscarded):
		WriteError(w, types.NewError(types.ErrConflict, "workflow already finished; signal discarded"), h.logger)
		return
	case err != nil:
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("approval signal accepted",
		zap.String("thread_id", threadID),
		zap.Bool("approved", req.Approved),
	)
	WriteSuccess(w, http.StatusAccepted, api.SignalAccepted{ThreadID: threadID, Approved: req.Approved})
}

// HandleState 协调器状态
func (h *ThreadHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	state, ok := h.signals.State(threadID)
	if !ok {
		WriteError(w, types.NewError(types.ErrNotFound, "no running workflow for thread "+threadID), h.logger)
		return
	}
	WriteSuccess(w, http.StatusOK, api.ThreadState{ThreadID: threadID, State: string(state)})
}

// HandleCheckpoint 最近一次心跳检查点，?activity= 必填
func (h *ThreadHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	activity := r.URL.Query().Get("activity")
	if activity == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query parameter activity is required"), h.logger)
		return
	}
	if h.checkpoints == nil {
		WriteError(w, types.NewError(types.ErrNotFound, "checkpoint store not configured"), h.logger)
		return
	}

	payload, ok, err := h.checkpoints.Load(r.Context(), threadID, activity)
	if err != nil {
		WriteError(w, types.NewTransient("load checkpoint").WithCause(err), h.logger)
		return
	}
	if !ok {
		WriteError(w, types.NewError(types.ErrNotFound, "no checkpoint recorded"), h.logger)
		return
	}

	view := api.CheckpointView{ThreadID: threadID, Activity: activity}
	if cp, err := types.DecodeCheckpoint(payload); err == nil {
		view.Checkpoint = cp
	} else {
		view.Raw = string(payload)
	}
	WriteSuccess(w, http.StatusOK, view)
}

// HandleHistory 图快照历史，最新在前
func (h *ThreadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if h.snapshots == nil {
		WriteError(w, types.NewError(types.ErrNotFound, "snapshot store not configured"), h.logger)
		return
	}

	snaps, err := h.snapshots.List(r.Context(), threadID)
	if err != nil {
		WriteError(w, snapshotError(err), h.logger)
		return
	}
	if len(snaps) == 0 {
		WriteError(w, types.NewError(types.ErrNotFound, "no snapshots for thread "+threadID), h.logger)
		return
	}

	entries := make([]api.HistoryEntry, 0, len(snaps))
	for _, s := range snaps {
		entries = append(entries, api.NewHistoryEntry(s))
	}
	WriteSuccess(w, http.StatusOK, entries)
}

// HandleListThreads 已保存快照的线程
func (h *ThreadHandler) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		WriteSuccess(w, http.StatusOK, []workflow.ThreadSummary{})
		return
	}
	threads, err := h.snapshots.Threads(r.Context())
	if err != nil {
		WriteError(w, snapshotError(err), h.logger)
		return
	}
	if threads == nil {
		threads = []workflow.ThreadSummary{}
	}
	WriteSuccess(w, http.StatusOK, threads)
}

func snapshotError(err error) error {
	if errors.Is(err, workflow.ErrSnapshotNotFound) {
		return types.NewError(types.ErrNotFound, "snapshot not found").WithCause(err)
	}
	return types.NewTransient("snapshot store unavailable").WithCause(err)
}
