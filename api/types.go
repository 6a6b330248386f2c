package api

import (
	"slices"
	"time"

	"github.com/BaSui01/resumeflow/types"
	"github.com/BaSui01/resumeflow/workflow"
)

// =============================================================================
// ✋ 审批信号
// =============================================================================

// ApprovalRequest 审批信号请求体
type ApprovalRequest struct {
	// 是否批准
	Approved bool `json:"approved"`
	// 审批意见，拒绝时写入报告
	Feedback string `json:"feedback,omitempty"`
}

// Response 转换为协调器信号
func (r ApprovalRequest) Response() types.ApprovalResponse {
	return types.ApprovalResponse{Approved: r.Approved, Feedback: r.Feedback}
}

// SignalAccepted 信号已送达协调器
type SignalAccepted struct {
	ThreadID string `json:"thread_id"`
	Approved bool   `json:"approved"`
}

// =============================================================================
// 📍 线程状态与检查点
// =============================================================================

// ThreadState 协调器当前状态
type ThreadState struct {
	ThreadID string `json:"thread_id"`
	State    string `json:"state"`
}

// CheckpointView 宿主心跳存储中的检查点
type CheckpointView struct {
	ThreadID   string            `json:"thread_id"`
	Activity   string            `json:"activity"`
	Checkpoint *types.Checkpoint `json:"checkpoint,omitempty"`
	// 无法解析为检查点的载荷原样返回
	Raw string `json:"raw,omitempty"`
}

// HistoryEntry 一个图快照的摘要
type HistoryEntry struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Version     int       `json:"version"`
	Step        int       `json:"step"`
	Source      string    `json:"source"`
	Next        []string  `json:"next,omitempty"`
	Written     []string  `json:"written,omitempty"`
	Interrupted bool      `json:"interrupted"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewHistoryEntry 从快照构造摘要，Written 为本步写入的通道
func NewHistoryEntry(s *workflow.Snapshot) HistoryEntry {
	entry := HistoryEntry{
		ID:          s.ID,
		ParentID:    s.ParentID,
		Version:     s.Version,
		Step:        s.Step,
		Source:      string(s.Source),
		Next:        s.Next,
		Interrupted: s.Interrupted(),
		CreatedAt:   s.CreatedAt,
	}
	for _, channels := range s.Writes {
		entry.Written = append(entry.Written, channels...)
	}
	slices.Sort(entry.Written)
	entry.Written = slices.Compact(entry.Written)
	return entry
}

// =============================================================================
// 🚀 启动运行
// =============================================================================

// ResearchRequest 启动研究任务
type ResearchRequest struct {
	ThreadID      string `json:"thread_id,omitempty"`
	Query         string `json:"query"`
	NeedsApproval bool   `json:"needs_approval"`
}

// OrderRequest 启动订单履约
type OrderRequest struct {
	ThreadID         string   `json:"thread_id,omitempty"`
	OrderID          string   `json:"order_id"`
	Item             string   `json:"item"`
	Quantity         int      `json:"quantity"`
	CreditCardExpiry string   `json:"credit_card_expiry"`
	ItemsToPack      []string `json:"items_to_pack,omitempty"`
	// 模拟库存服务故障
	InventoryDown bool `json:"inventory_down,omitempty"`
}

// SleepRequest 启动不可检查点的演示任务
type SleepRequest struct {
	ThreadID     string  `json:"thread_id,omitempty"`
	SleepSeconds float64 `json:"sleep_seconds,omitempty"`
	NumSteps     int     `json:"num_steps,omitempty"`
}

// RunAccepted 运行已在后台启动
type RunAccepted struct {
	ThreadID string `json:"thread_id"`
	Kind     string `json:"kind"`
}
