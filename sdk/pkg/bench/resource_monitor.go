package bench

import (
	"context"
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
)

const cpuTotalMetric = "/cpu/classes/total:cpu-seconds"

// ResourceMonitor 压测期间周期性采样本进程的 goroutine 数、堆内存和累计 CPU 时间
type ResourceMonitor struct {
	interval  time.Duration
	collector eventbus.MetricsCollector

	mu      sync.Mutex
	samples []ResourceSample
}

// NewResourceMonitor interval <= 0 时 Run 直接返回
func NewResourceMonitor(interval time.Duration, collector eventbus.MetricsCollector) *ResourceMonitor {
	if collector == nil {
		collector = &eventbus.NoOpMetricsCollector{}
	}
	return &ResourceMonitor{interval: interval, collector: collector}
}

// Run 阻塞到 ctx 结束；开始和结束时各采样一次
func (m *ResourceMonitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}

	m.sample()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-ctx.Done():
			m.sample()
			return
		}
	}
}

// Samples 返回采样结果的拷贝
func (m *ResourceMonitor) Samples() []ResourceSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ResourceSample, len(m.samples))
	copy(out, m.samples)
	return out
}

func (m *ResourceMonitor) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := ResourceSample{
		At:         time.Now(),
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(mem.HeapAlloc) / (1024 * 1024),
		CPUSeconds: cpuSeconds(),
	}
	m.collector.RecordResource(s.Goroutines, mem.HeapAlloc, s.CPUSeconds)

	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
}

func cpuSeconds() float64 {
	sample := []metrics.Sample{{Name: cpuTotalMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindFloat64 {
		return 0
	}
	return sample[0].Value.Float64()
}
