package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent"
	"github.com/BaSui01/resumeflow/agent/research"
	"github.com/BaSui01/resumeflow/api"
	"github.com/BaSui01/resumeflow/api/handlers"
	"github.com/BaSui01/resumeflow/internal/server"
	"github.com/BaSui01/resumeflow/order"
	"github.com/BaSui01/resumeflow/types"
)

// =============================================================================
// 🌐 HTTP 路由
// =============================================================================

// newHandler 组装路由与中间件链。ctx 控制限流器清理协程。
func newHandler(ctx context.Context, a *app, tracker *handlers.RunTracker) http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(a.logger)
	if a.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", a.pool.Ping))
	}
	if a.redis != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	health.RegisterCheck(handlers.NewHeartbeatStoreCheck(a.heartbeats, backendName(a.cfg.Store.Heartbeats)))
	health.RegisterCheck(handlers.NewSnapshotStoreCheck(a.snapshots, backendName(a.cfg.Store.Snapshots)))
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /metrics", promhttp.Handler())

	handlers.NewThreadHandler(a.registry, a.heartbeats, a.snapshots, a.logger).Routes(mux)
	handlers.NewWatchHandler(a.host, nil, a.logger).Routes(mux)

	runs := handlers.NewRunHandler(tracker, a.logger)
	registerLaunchers(runs, a)
	runs.Routes(mux)

	chain := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(a.logger),
		MetricsMiddleware(a.metrics),
		OTelTracing(),
		RateLimiter(ctx, a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst, a.logger),
	}
	if a.cfg.JWT.Enabled() {
		chain = append(chain, JWTAuth(a.cfg.JWT, a.logger))
	}
	return Chain(mux, chain...)
}

// registerLaunchers 注册可通过 POST /v1/runs/{kind} 启动的工作流
func registerLaunchers(h *handlers.RunHandler, a *app) {
	h.Register("research", func(w http.ResponseWriter, r *http.Request) (handlers.Launch, error) {
		var req api.ResearchRequest
		if err := handlers.DecodeJSONBody(w, r, &req); err != nil {
			return handlers.Launch{}, err
		}
		if strings.TrimSpace(req.Query) == "" {
			return handlers.Launch{}, types.NewError(types.ErrInvalidRequest, "query is required")
		}
		in := research.Input{Query: req.Query, NeedsApproval: req.NeedsApproval}
		return handlers.Launch{
			ThreadID: req.ThreadID,
			Run: func(ctx context.Context, threadID string) (any, error) {
				return a.research.Execute(ctx, threadID, in)
			},
		}, nil
	})

	h.Register("order", func(w http.ResponseWriter, r *http.Request) (handlers.Launch, error) {
		var req api.OrderRequest
		if err := handlers.DecodeJSONBody(w, r, &req); err != nil {
			return handlers.Launch{}, err
		}
		o := order.Order{
			OrderID:          req.OrderID,
			Item:             req.Item,
			Quantity:         req.Quantity,
			CreditCardExpiry: req.CreditCardExpiry,
			ItemsToPack:      req.ItemsToPack,
		}
		if err := o.Validate(); err != nil {
			return handlers.Launch{}, types.NewError(types.ErrInvalidRequest, err.Error())
		}
		threadID := req.ThreadID
		if threadID == "" {
			threadID = "order-" + o.OrderID
		}
		return handlers.Launch{
			ThreadID: threadID,
			Run: func(ctx context.Context, threadID string) (any, error) {
				return a.order.Execute(ctx, threadID, o, req.InventoryDown)
			},
		}, nil
	})

	h.Register("sleep", func(w http.ResponseWriter, r *http.Request) (handlers.Launch, error) {
		var req api.SleepRequest
		if err := handlers.DecodeJSONBody(w, r, &req); err != nil {
			return handlers.Launch{}, err
		}
		in := agent.SleepingInput{SleepSeconds: req.SleepSeconds, NumSteps: req.NumSteps}
		return handlers.Launch{
			ThreadID: req.ThreadID,
			Run: func(ctx context.Context, threadID string) (any, error) {
				return a.runSleeping(ctx, threadID, in)
			},
		}, nil
	})
}

// newServerManager 由 Server 配置创建 HTTP 管理器
func newServerManager(a *app, handler http.Handler, addr string) *server.Manager {
	if addr == "" {
		addr = fmt.Sprintf(":%d", a.cfg.Server.HTTPPort)
	}
	return server.NewManager(handler, server.Config{
		Addr:            addr,
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		IdleTimeout:     2 * a.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, a.logger)
}

// logStartup 输出装配结果
func logStartup(a *app, addr string) {
	a.logger.Info("resumeflow server ready",
		zap.String("addr", addr),
		zap.String("snapshots", a.cfg.Store.Snapshots),
		zap.String("heartbeats", a.cfg.Store.Heartbeats),
		zap.Bool("jwt", a.cfg.JWT.Enabled()),
		zap.Bool("telemetry", a.telemetry.Enabled()),
	)
}
