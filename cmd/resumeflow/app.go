package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/resumeflow/agent"
	"github.com/BaSui01/resumeflow/agent/hitl"
	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/agent/research"
	"github.com/BaSui01/resumeflow/config"
	"github.com/BaSui01/resumeflow/host"
	"github.com/BaSui01/resumeflow/internal/database"
	"github.com/BaSui01/resumeflow/internal/metrics"
	"github.com/BaSui01/resumeflow/internal/telemetry"
	"github.com/BaSui01/resumeflow/order"
	"github.com/BaSui01/resumeflow/types"
	"github.com/BaSui01/resumeflow/workflow"
)

// 活动名
const activitySleeping = "sleeping"

// =============================================================================
// 🧩 应用装配
// =============================================================================

// app 持有一次进程运行所需的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	pool      *database.PoolManager
	redis     *redis.Client
	telemetry *telemetry.Providers
	metrics   *metrics.Collector

	heartbeats host.HeartbeatStore
	snapshots  workflow.Saver
	host       *host.LocalHost
	registry   *hitl.Registry

	research *research.Workflow
	order    *order.Workflow
	runOpts  []longrunning.Option
}

// appOption 装配选项
type appOption func(*appOptions)

type appOptions struct {
	collector *metrics.Collector
	completer research.Completer
}

// withCollector 复用已注册的指标收集器
func withCollector(c *metrics.Collector) appOption {
	return func(o *appOptions) { o.collector = c }
}

// withCompleter 替换研究任务的补全实现
func withCompleter(c research.Completer) appOption {
	return func(o *appOptions) { o.completer = c }
}

// newApp 按配置装配存储、宿主与工作流。出错时已打开的资源会被关闭。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...appOption) (a *app, err error) {
	o := appOptions{completer: research.TemplateCompleter{Delay: 2 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}

	a = &app{cfg: cfg, logger: logger, registry: hitl.NewRegistry(logger)}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
		}
	}()

	a.metrics = o.collector
	if a.metrics == nil {
		a.metrics = metrics.NewCollector("resumeflow", logger)
	}

	a.telemetry, err = telemetry.Init(cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		logger.Warn("failed to initialize telemetry, continuing without tracing", zap.Error(err))
		a.telemetry, err = &telemetry.Providers{}, nil
	}

	if needs(cfg.Store, "sql") {
		if a.pool, err = database.Open(cfg.Database, logger); err != nil {
			return nil, err
		}
		a.pool.SetMetrics(a.metrics)
	}
	if needs(cfg.Store, "redis") {
		a.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err = a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
	}

	if a.heartbeats, err = a.openHeartbeatStore(); err != nil {
		return nil, err
	}
	if a.snapshots, err = a.openSaver(); err != nil {
		return nil, err
	}

	writeLimit := rate.Inf
	if cfg.Host.StoreWriteRate > 0 {
		writeLimit = rate.Limit(cfg.Host.StoreWriteRate)
	}
	a.host = host.NewLocalHost(a.heartbeats,
		host.WithLogger(logger),
		host.WithMetrics(a.metrics),
		host.WithStoreWriteRate(writeLimit, max(cfg.Host.StoreWriteBurst, 1)),
	)

	a.runOpts = []longrunning.Option{
		longrunning.WithHeartbeatInterval(cfg.Runner.HeartbeatInterval),
		longrunning.WithLogger(logger),
		longrunning.WithMetrics(a.metrics),
		longrunning.WithTracer(a.telemetry.Tracer("resumeflow/runner")),
	}

	graph, err := research.Compile(a.snapshots, o.completer, logger)
	if err != nil {
		return nil, fmt.Errorf("compile research graph: %w", err)
	}
	a.research = research.NewWorkflow(a.host, graph,
		research.WithApprovalTimeout(cfg.Approval.ResearchTimeout),
		research.WithActivityOptions(a.activityOptions()),
		research.WithRunnerOptions(a.runOpts...),
		research.WithRegistry(a.registry),
		research.WithLogger(logger),
		research.WithMetrics(a.metrics),
	)

	var issuer order.SlipIssuer = order.NewMemorySlipIssuer()
	if a.redis != nil {
		issuer = order.NewRedisSlipIssuer(a.redis, cfg.Store.KeyPrefix, cfg.Store.TTL, logger)
	}
	a.order = order.NewWorkflow(a.host, issuer,
		order.WithApprovalTimeout(cfg.Approval.OrderTimeout),
		order.WithRunnerOptions(a.runOpts...),
		order.WithRegistry(a.registry),
		order.WithLogger(logger),
		order.WithMetrics(a.metrics),
	)
	return a, nil
}

// needs 判断心跳或快照存储是否选择了 backend
func needs(s config.StoreConfig, backend string) bool {
	return s.Heartbeats == backend || s.Snapshots == backend
}

// backendName 未配置的存储默认为 memory
func backendName(backend string) string {
	if backend == "" {
		return "memory"
	}
	return backend
}

func (a *app) openHeartbeatStore() (host.HeartbeatStore, error) {
	switch a.cfg.Store.Heartbeats {
	case "", "memory":
		return host.NewMemoryHeartbeatStore(), nil
	case "redis":
		return host.NewRedisHeartbeatStore(a.redis, a.cfg.Store.KeyPrefix, a.cfg.Store.TTL, a.logger), nil
	case "sql":
		store := host.NewSQLHeartbeatStore(a.pool.DB(), a.logger)
		if err := store.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate heartbeat table: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported heartbeat store %q", a.cfg.Store.Heartbeats)
	}
}

func (a *app) openSaver() (workflow.Saver, error) {
	switch a.cfg.Store.Snapshots {
	case "", "memory":
		return workflow.NewMemorySaver(), nil
	case "redis":
		return workflow.NewRedisSaver(a.redis, a.cfg.Store.KeyPrefix, a.cfg.Store.TTL, a.logger), nil
	case "sql":
		return workflow.NewSQLSaver(a.pool.DB(), a.logger)
	default:
		return nil, fmt.Errorf("unsupported snapshot store %q", a.cfg.Store.Snapshots)
	}
}

// activityOptions 由 Host 配置生成活动选项
func (a *app) activityOptions() host.ActivityOptions {
	h := a.cfg.Host
	return host.ActivityOptions{
		StartToCloseTimeout: h.StartToCloseTimeout,
		HeartbeatTimeout:    h.HeartbeatTimeout,
		RetryPolicy: host.RetryPolicy{
			InitialInterval:        h.InitialInterval,
			BackoffCoefficient:     h.BackoffCoefficient,
			MaximumInterval:        h.MaximumInterval,
			MaximumAttempts:        h.MaximumAttempts,
			NonRetryableErrorTypes: []types.ErrorCode{types.ErrInvalidInput},
		},
	}
}

// runSleeping 运行不可检查点的演示任务
func (a *app) runSleeping(ctx context.Context, threadID string, in agent.SleepingInput) (agent.SleepingOutput, error) {
	return host.RunAdapter(ctx, a.host, threadID, activitySleeping, a.activityOptions(),
		agent.NewSleepingFactory(a.logger), in.WithDefaults(), a.runOpts...)
}

// close 释放资源，可重复调用
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
		a.telemetry = nil
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
		a.pool = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error while closing resources", zap.Error(err))
	}
}
