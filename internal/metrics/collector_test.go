package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.heartbeatsTotal)
	assert.NotNil(t, collector.stepsTotal)
	assert.NotNil(t, collector.attemptsTotal)
	assert.NotNil(t, collector.interruptsTotal)
}

func TestNewCollector_NilLogger(t *testing.T) {
	collector := NewCollectorWithRegistry("nil_logger", prometheus.NewRegistry(), nil)
	assert.NotNil(t, collector.logger)
}

func TestCollector_RecordHeartbeat(t *testing.T) {
	collector := NewCollectorWithRegistry("hb", prometheus.NewRegistry(), nil)

	collector.RecordHeartbeat("research", HeartbeatInitial)
	collector.RecordHeartbeat("research", HeartbeatStep)
	collector.RecordHeartbeat("research", HeartbeatStep)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.heartbeatsTotal.WithLabelValues("research", HeartbeatInitial)))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.heartbeatsTotal.WithLabelValues("research", HeartbeatStep)))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.heartbeatsTotal))
}

func TestCollector_RecordStepAndStartMode(t *testing.T) {
	collector := NewCollectorWithRegistry("steps", prometheus.NewRegistry(), nil)

	collector.RecordStep("sleeping", 20*time.Millisecond)
	collector.RecordStartMode("sleeping", ModeRestart)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("sleeping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.resumeModes.WithLabelValues("sleeping", ModeRestart)))
	assert.Greater(t, testutil.CollectAndCount(collector.stepDuration), 0)
}

func TestCollector_HostMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAttempt("reserve_inventory", "retryable_failure")
	collector.RecordAttempt("reserve_inventory", "success")
	collector.RecordRetryBackoff("reserve_inventory", time.Second)
	collector.RecordHeartbeatWrite("throttled")

	assert.Equal(t, 2, testutil.CollectAndCount(collector.attemptsTotal))
	assert.Greater(t, testutil.CollectAndCount(collector.activityRetryBackoffs), 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.heartbeatStoreWrites.WithLabelValues("throttled")))
}

func TestCollector_RecordHTTPAndDB(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/v1/threads/{id}/approval", 202, 5*time.Millisecond)
	collector.RecordDBConnections("postgres", 10, 5)
	collector.RecordInterrupt("expired")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/threads/{id}/approval", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.interruptsTotal.WithLabelValues("expired")))
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollectorWithRegistry("dup", reg, nil)
	require.Panics(t, func() { NewCollectorWithRegistry("dup", reg, nil) })
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollectorWithRegistry("concurrent", prometheus.NewRegistry(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHeartbeat("a", HeartbeatBackground)
			collector.RecordStep("a", time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.heartbeatsTotal.WithLabelValues("a", HeartbeatBackground)))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("a")))
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code))
	}
}
