package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector("test", logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.Registry())
	assert.NotNil(t, collector.rpcRequestsTotal)
	assert.NotNil(t, collector.rpcRequestDuration)
	assert.NotNil(t, collector.toolCallsTotal)
	assert.NotNil(t, collector.resourceReadsTotal)
}

// 每个 Collector 自带 Registry，多实例不冲突
func TestNewCollector_IndependentRegistries(t *testing.T) {
	logger := zap.NewNop()
	a := NewCollector("same_ns", logger)
	b := NewCollector("same_ns", logger)

	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestCollector_ObserveRequest(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.ObserveRequest("tools/call", true, 10*time.Millisecond)
	collector.ObserveRequest("tools/call", false, 5*time.Millisecond)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.rpcRequestsTotal.WithLabelValues("tools/call", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.rpcRequestsTotal.WithLabelValues("tools/call", "error")))
}

func TestCollector_ObserveToolCall(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.ObserveToolCall("echo")
	collector.ObserveToolCall("echo")
	collector.ObserveToolCall("query")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("echo")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("query")))
}

func TestCollector_ObserveResourceRead(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.ObserveResourceRead("mem://a")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.resourceReadsTotal.WithLabelValues("mem://a")))
}

func TestCollector_CacheMetrics(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordCacheHit("query")
	collector.RecordCacheHit("query")
	collector.RecordCacheMiss("query")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.cacheHits.WithLabelValues("query")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheMisses.WithLabelValues("query")))
}

func TestCollector_ConnectionGauge(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.ConnectionOpened()
	collector.ConnectionOpened()
	collector.ConnectionClosed()

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.activeConnections))
}

func TestCollector_RecordDBQuery(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordDBQuery("select", 3*time.Millisecond)
	count := testutil.CollectAndCount(collector.dbQueryDuration)
	assert.Greater(t, count, 0)
}
