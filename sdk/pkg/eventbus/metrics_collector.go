package eventbus

import (
	"sync"
	"time"
)

// MetricsCollector 指标收集器接口
// 压测 worker 只依赖这个接口，Prometheus 实现见 metrics_prometheus.go
type MetricsCollector interface {
	// RecordPublish 记录一次发布
	RecordPublish(keyExpr string, success bool, duration time.Duration)

	// RecordConsume 记录订阅端收到一条消息
	RecordConsume(keyExpr string)

	// RecordWorker 记录一个 worker 结束
	// role: publisher, subscriber, pubsub
	RecordWorker(role string, success bool, duration time.Duration)

	// RecordResource 记录一次资源采样
	RecordResource(goroutines int, heapBytes uint64, cpuSeconds float64)

	// RecordError 记录错误
	// errorType: publish, subscribe, connection 等
	RecordError(errorType string, keyExpr string)
}

// NoOpMetricsCollector 空操作指标收集器（默认实现）
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordPublish(keyExpr string, success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordConsume(keyExpr string) {}
func (n *NoOpMetricsCollector) RecordWorker(role string, success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordResource(goroutines int, heapBytes uint64, cpuSeconds float64) {}
func (n *NoOpMetricsCollector) RecordError(errorType string, keyExpr string) {}

// InMemoryMetricsCollector 内存指标收集器（用于测试和调试）
type InMemoryMetricsCollector struct {
	mu sync.RWMutex

	// 发布指标
	PublishTotal   int64
	PublishSuccess int64
	PublishFailed  int64
	PublishLatency time.Duration

	// 消费指标
	ConsumeTotal int64
	ConsumeByKey map[string]int64

	// worker 指标
	WorkersByRole map[string]int64
	WorkersFailed int64

	// 资源指标（最近一次采样）
	Goroutines int
	HeapBytes  uint64
	CPUSeconds float64

	// 错误指标
	ErrorsByType map[string]int64
	ErrorsByKey  map[string]int64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		ConsumeByKey:  make(map[string]int64),
		WorkersByRole: make(map[string]int64),
		ErrorsByType:  make(map[string]int64),
		ErrorsByKey:   make(map[string]int64),
	}
}

func (m *InMemoryMetricsCollector) RecordPublish(keyExpr string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishTotal++
	if success {
		m.PublishSuccess++
	} else {
		m.PublishFailed++
	}
	m.PublishLatency += duration
}

func (m *InMemoryMetricsCollector) RecordConsume(keyExpr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeTotal++
	m.ConsumeByKey[keyExpr]++
}

func (m *InMemoryMetricsCollector) RecordWorker(role string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.WorkersByRole[role]++
	if !success {
		m.WorkersFailed++
	}
}

func (m *InMemoryMetricsCollector) RecordResource(goroutines int, heapBytes uint64, cpuSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Goroutines = goroutines
	m.HeapBytes = heapBytes
	m.CPUSeconds = cpuSeconds
}

func (m *InMemoryMetricsCollector) RecordError(errorType string, keyExpr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ErrorsByType[errorType]++
	if keyExpr != "" {
		m.ErrorsByKey[keyExpr]++
	}
}

// GetMetrics 获取当前指标（线程安全）
func (m *InMemoryMetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	consumeByKey := make(map[string]int64, len(m.ConsumeByKey))
	for k, v := range m.ConsumeByKey {
		consumeByKey[k] = v
	}
	workersByRole := make(map[string]int64, len(m.WorkersByRole))
	for k, v := range m.WorkersByRole {
		workersByRole[k] = v
	}
	errorsByType := make(map[string]int64, len(m.ErrorsByType))
	for k, v := range m.ErrorsByType {
		errorsByType[k] = v
	}

	return map[string]interface{}{
		"publish_total":   m.PublishTotal,
		"publish_success": m.PublishSuccess,
		"publish_failed":  m.PublishFailed,
		"publish_latency": m.PublishLatency,

		"consume_total":  m.ConsumeTotal,
		"consume_by_key": consumeByKey,

		"workers_by_role": workersByRole,
		"workers_failed":  m.WorkersFailed,

		"goroutines":  m.Goroutines,
		"heap_bytes":  m.HeapBytes,
		"cpu_seconds": m.CPUSeconds,

		"errors_by_type": errorsByType,
	}
}
