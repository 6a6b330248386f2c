package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/host"
)

// HeartbeatSubscriber 按线程订阅心跳事件（*host.LocalHost）
type HeartbeatSubscriber interface {
	Subscribe(threadID string) (<-chan host.HeartbeatEvent, func())
}

// WatchHandler 通过 WebSocket 推送线程心跳
type WatchHandler struct {
	subscriber     HeartbeatSubscriber
	originPatterns []string
	writeTimeout   time.Duration
	logger         *zap.Logger
}

// NewWatchHandler 创建心跳观察处理器。originPatterns 为空时只接受同源连接。
func NewWatchHandler(subscriber HeartbeatSubscriber, originPatterns []string, logger *zap.Logger) *WatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchHandler{
		subscriber:     subscriber,
		originPatterns: originPatterns,
		writeTimeout:   10 * time.Second,
		logger:         logger.With(zap.String("component", "watch_handler")),
	}
}

// Routes 注册路由
func (h *WatchHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/threads/{id}/watch", h.HandleWatch)
}

// HandleWatch 升级为 WebSocket，逐条以 JSON 写出心跳事件，直到客户端断开
func (h *WatchHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("thread_id", threadID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, cancel := h.subscriber.Subscribe(threadID)
	defer cancel()

	// 只写不读；CloseRead 处理控制帧并在客户端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	logger := h.logger.With(zap.String("thread_id", threadID))
	logger.Debug("watch started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("watch ended", zap.Error(ctx.Err()))
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription closed")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				logger.Debug("watch write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *WatchHandler) write(ctx context.Context, conn *websocket.Conn, ev host.HeartbeatEvent) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
