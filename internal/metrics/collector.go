// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// 心跳类型
const (
	HeartbeatInitial    = "initial"
	HeartbeatStep       = "step"
	HeartbeatBackground = "background"
	HeartbeatHandle     = "handle"
)

// 恢复模式
const (
	ModeResume  = "resume"
	ModeRestart = "restart"
	ModeFresh   = "fresh"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Runner 指标
	heartbeatsTotal *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	resumeModes     *prometheus.CounterVec

	// Host 指标
	attemptsTotal         *prometheus.CounterVec
	heartbeatStoreWrites  *prometheus.CounterVec
	activityRetryBackoffs *prometheus.HistogramVec

	// 中断指标
	interruptsTotal *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器，注册到指定 Registry
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Runner 指标
	c.heartbeatsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent to the host",
		},
		[]string{"activity", "kind"}, // kind: initial, step, background, handle
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Completed task steps",
		},
		[]string{"activity"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time between consecutive step results",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"activity"},
	)

	c.resumeModes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_start_mode_total",
			Help:      "How attempts started: resume, restart (checkpoint discarded) or fresh",
		},
		[]string{"activity", "mode"},
	)

	// Host 指标
	c.attemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_attempts_total",
			Help:      "Activity attempts by outcome",
		},
		[]string{"activity", "outcome"},
	)

	c.heartbeatStoreWrites = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_store_writes_total",
			Help:      "Heartbeat payload writes to the store",
		},
		[]string{"result"}, // result: written, throttled, failed
	)

	c.activityRetryBackoffs = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_retry_backoff_seconds",
			Help:      "Delay applied before retrying an activity",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"activity"},
	)

	// 中断指标
	c.interruptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Interrupt waits by outcome",
		},
		[]string{"outcome"}, // outcome: paused, resumed, expired
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Debug("metrics collector registered", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 💓 Runner 指标记录
// =============================================================================

// RecordHeartbeat 记录一次心跳
func (c *Collector) RecordHeartbeat(activity, kind string) {
	c.heartbeatsTotal.WithLabelValues(activity, kind).Inc()
}

// RecordStep 记录一个完成的步骤
func (c *Collector) RecordStep(activity string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(activity).Inc()
	c.stepDuration.WithLabelValues(activity).Observe(duration.Seconds())
}

// RecordStartMode 记录尝试的启动模式
func (c *Collector) RecordStartMode(activity, mode string) {
	c.resumeModes.WithLabelValues(activity, mode).Inc()
}

// =============================================================================
// 🏠 Host 指标记录
// =============================================================================

// RecordAttempt 记录一次活动尝试
func (c *Collector) RecordAttempt(activity, outcome string) {
	c.attemptsTotal.WithLabelValues(activity, outcome).Inc()
}

// RecordRetryBackoff 记录重试退避时长
func (c *Collector) RecordRetryBackoff(activity string, delay time.Duration) {
	c.activityRetryBackoffs.WithLabelValues(activity).Observe(delay.Seconds())
}

// RecordHeartbeatWrite 记录心跳存储写入结果
func (c *Collector) RecordHeartbeatWrite(result string) {
	c.heartbeatStoreWrites.WithLabelValues(result).Inc()
}

// =============================================================================
// ✋ 中断指标记录
// =============================================================================

// RecordInterrupt 记录中断等待结果
func (c *Collector) RecordInterrupt(outcome string) {
	c.interruptsTotal.WithLabelValues(outcome).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
