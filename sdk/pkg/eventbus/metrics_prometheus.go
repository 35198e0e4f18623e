package eventbus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsCollector Prometheus 指标收集器
//
// 每个实例使用独立的 Registry，同一进程内多次压测（以及单元测试）不会重复注册：
//
//	collector := eventbus.NewPrometheusMetricsCollector("jxt_bench")
//	http.Handle("/metrics", collector.Handler())
type PrometheusMetricsCollector struct {
	namespace string
	registry  *prometheus.Registry

	// 发布指标
	publishTotal   *prometheus.CounterVec
	publishFailed  *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec

	// 消费指标
	consumeTotal *prometheus.CounterVec

	// worker 指标
	workerTotal    *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec

	// 资源指标
	goroutines prometheus.Gauge
	heapBytes  prometheus.Gauge
	cpuSeconds prometheus.Gauge

	// 错误指标
	errorsByType *prometheus.CounterVec
}

// NewPrometheusMetricsCollector 创建 Prometheus 指标收集器
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "jxt_bench"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &PrometheusMetricsCollector{
		namespace: namespace,
		registry:  registry,

		publishTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_total",
				Help:      "Total number of publish attempts",
			},
			[]string{"key_expr"},
		),
		publishFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failed_total",
				Help:      "Total number of failed publishes",
			},
			[]string{"key_expr"},
		),
		publishLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_latency_seconds",
				Help:      "Publish latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
			},
			[]string{"key_expr"},
		),

		consumeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consume_total",
				Help:      "Total number of messages delivered to subscribers",
			},
			[]string{"key_expr"},
		),

		workerTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_total",
				Help:      "Total number of finished workers",
			},
			[]string{"role", "status"},
		),
		workerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_duration_seconds",
				Help:      "Worker run time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"role"},
		),

		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampled_goroutines",
			Help:      "Goroutine count at the last resource sample",
		}),
		heapBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampled_heap_bytes",
			Help:      "Heap bytes in use at the last resource sample",
		}),
		cpuSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampled_cpu_seconds",
			Help:      "Cumulative process CPU seconds at the last resource sample",
		}),

		errorsByType: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by type",
			},
			[]string{"type"},
		),
	}
}

// Registry 返回私有 Registry
func (p *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler 返回 /metrics 使用的 http.Handler
func (p *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordPublish 记录一次发布
func (p *PrometheusMetricsCollector) RecordPublish(keyExpr string, success bool, duration time.Duration) {
	p.publishTotal.WithLabelValues(keyExpr).Inc()
	if !success {
		p.publishFailed.WithLabelValues(keyExpr).Inc()
	}
	p.publishLatency.WithLabelValues(keyExpr).Observe(duration.Seconds())
}

// RecordConsume 记录一条投递
func (p *PrometheusMetricsCollector) RecordConsume(keyExpr string) {
	p.consumeTotal.WithLabelValues(keyExpr).Inc()
}

// RecordWorker 记录 worker 结束
func (p *PrometheusMetricsCollector) RecordWorker(role string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failed"
	}
	p.workerTotal.WithLabelValues(role, status).Inc()
	p.workerDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordResource 记录资源采样
func (p *PrometheusMetricsCollector) RecordResource(goroutines int, heapBytes uint64, cpuSeconds float64) {
	p.goroutines.Set(float64(goroutines))
	p.heapBytes.Set(float64(heapBytes))
	p.cpuSeconds.Set(cpuSeconds)
}

// RecordError 记录错误
func (p *PrometheusMetricsCollector) RecordError(errorType string, keyExpr string) {
	p.errorsByType.WithLabelValues(errorType).Inc()
}
