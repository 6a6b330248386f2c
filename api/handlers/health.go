package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/host"
	"github.com/BaSui01/resumeflow/workflow"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// readyThread 就绪检查读取的线程；不存在也算通过，只要后端能应答
const readyThread = "__ready__"

// HealthHandler 存活与就绪检查。就绪检查逐个读取心跳存储与快照存储，
// 任一存储不可用时返回 503，宿主此时无法恢复任何检查点。
type HealthHandler struct {
	logger *zap.Logger
	mu     sync.RWMutex
	checks []HealthCheck
}

// HealthCheck 就绪检查项
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Backend string `json:"backend,omitempty"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger.With(zap.String("component", "health"))}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealth 存活检查（/health、/healthz），不访问任何存储
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady 就绪检查（/ready）
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	code := http.StatusOK
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if b, ok := check.(interface{ Backend() string }); ok {
			result.Backend = b.Backend()
		}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.String("backend", result.Backend),
				zap.Error(err),
			)
		}
		status.Checks[check.Name()] = result
	}
	WriteJSON(w, code, status)
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 检查项
// =============================================================================

// StoreCheck 对检查点存储做一次真实读取
type StoreCheck struct {
	name    string
	backend string
	read    func(ctx context.Context) error
}

// NewHeartbeatStoreCheck 检查心跳存储：下一次尝试要从这里取回检查点
func NewHeartbeatStoreCheck(store host.HeartbeatStore, backend string) *StoreCheck {
	return &StoreCheck{name: "heartbeats", backend: backend, read: func(ctx context.Context) error {
		_, _, err := store.Load(ctx, readyThread, readyThread)
		return err
	}}
}

// NewSnapshotStoreCheck 检查快照存储：检查点句柄指向这里的快照
func NewSnapshotStoreCheck(saver workflow.Saver, backend string) *StoreCheck {
	return &StoreCheck{name: "snapshots", backend: backend, read: func(ctx context.Context) error {
		_, err := saver.Latest(ctx, readyThread)
		if errors.Is(err, workflow.ErrSnapshotNotFound) {
			return nil
		}
		return err
	}}
}

func (c *StoreCheck) Name() string                    { return c.name }
func (c *StoreCheck) Backend() string                 { return c.backend }
func (c *StoreCheck) Check(ctx context.Context) error { return c.read(ctx) }

// PingCheck 以 ping 函数实现的连接检查
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建连接检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
