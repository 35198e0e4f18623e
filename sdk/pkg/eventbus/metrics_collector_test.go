package eventbus

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNoOpMetricsCollector 所有方法都不应 panic
func TestNoOpMetricsCollector(t *testing.T) {
	var collector MetricsCollector = &NoOpMetricsCollector{}

	collector.RecordPublish("/k", true, time.Millisecond)
	collector.RecordConsume("/k")
	collector.RecordWorker("publisher", false, time.Second)
	collector.RecordResource(10, 1024, 0.5)
	collector.RecordError("publish", "/k")
}

func TestInMemoryMetricsCollector(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	collector.RecordPublish("/k", true, 10*time.Millisecond)
	collector.RecordPublish("/k", true, 15*time.Millisecond)
	collector.RecordPublish("/k", false, 20*time.Millisecond)
	assert.Equal(t, int64(3), collector.PublishTotal)
	assert.Equal(t, int64(2), collector.PublishSuccess)
	assert.Equal(t, int64(1), collector.PublishFailed)
	assert.Equal(t, 45*time.Millisecond, collector.PublishLatency)

	collector.RecordConsume("/a")
	collector.RecordConsume("/a")
	collector.RecordConsume("/b")
	assert.Equal(t, int64(3), collector.ConsumeTotal)
	assert.Equal(t, int64(2), collector.ConsumeByKey["/a"])

	collector.RecordWorker("subscriber", true, time.Second)
	collector.RecordWorker("subscriber", false, time.Second)
	assert.Equal(t, int64(2), collector.WorkersByRole["subscriber"])
	assert.Equal(t, int64(1), collector.WorkersFailed)

	collector.RecordResource(42, 2048, 1.5)
	collector.RecordError("publish", "/k")
	collector.RecordError("subscribe", "")

	metrics := collector.GetMetrics()
	assert.Equal(t, int64(3), metrics["publish_total"])
	assert.Equal(t, 42, metrics["goroutines"])
	assert.Equal(t, map[string]int64{"publish": 1, "subscribe": 1}, metrics["errors_by_type"])
	assert.Equal(t, map[string]int64{"/k": 1}, collector.ErrorsByKey)

	// 返回的是拷贝
	metrics["consume_by_key"].(map[string]int64)["/a"] = 100
	assert.Equal(t, int64(2), collector.ConsumeByKey["/a"])
}

func TestPrometheusMetricsCollector(t *testing.T) {
	collector := NewPrometheusMetricsCollector("bench_test")

	collector.RecordPublish("/k", true, time.Millisecond)
	collector.RecordPublish("/k", false, time.Millisecond)
	collector.RecordConsume("/k")
	collector.RecordWorker("publisher", true, time.Second)
	collector.RecordResource(7, 4096, 0.25)
	collector.RecordError("publish", "/k")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.publishTotal.WithLabelValues("/k")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.publishFailed.WithLabelValues("/k")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workerTotal.WithLabelValues("publisher", "success")))
	assert.Equal(t, 7.0, testutil.ToFloat64(collector.goroutines))

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bench_test_publish_total")
	assert.Contains(t, string(body), "bench_test_sampled_heap_bytes 4096")

	// 每个实例独立注册，重复创建不会 panic
	assert.NotPanics(t, func() { NewPrometheusMetricsCollector("bench_test") })
}
