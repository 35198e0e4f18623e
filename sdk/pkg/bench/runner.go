package bench

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCloseTimeout 等待共享连接的租约全部归还的最长时间
const DefaultCloseTimeout = 10 * time.Second

// Runner 编排一次压测：分配 peer id，启动全部 worker，汇总并写报告
// 单连接模式下 Runner 是共享连接唯一的关闭者
type Runner struct {
	bench     config.BenchConfig
	transport string
	opener    eventbus.Opener
	writer    *ReportWriter
	metrics   eventbus.MetricsCollector
	logger    *zap.Logger

	closeTimeout time.Duration
}

// Option Runner 可选项
type Option func(*Runner)

// WithTransport 报告中记录的传输类型
func WithTransport(name string) Option {
	return func(r *Runner) { r.transport = name }
}

// WithReportWriter 报告输出
func WithReportWriter(w *ReportWriter) Option {
	return func(r *Runner) { r.writer = w }
}

// WithMetrics 指标收集器
func WithMetrics(m eventbus.MetricsCollector) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithCloseTimeout 共享连接关闭等待时间
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Runner) { r.closeTimeout = d }
}

// NewRunner 创建 Runner，bench 会被拷贝
func NewRunner(bench *config.BenchConfig, opener eventbus.Opener, opts ...Option) (*Runner, error) {
	if bench == nil {
		return nil, fmt.Errorf("bench config is required")
	}
	if opener == nil {
		return nil, fmt.Errorf("eventbus opener is required")
	}

	r := &Runner{
		bench:        *bench,
		opener:       opener,
		writer:       &ReportWriter{},
		metrics:      &eventbus.NoOpMetricsCollector{},
		logger:       logger.Named("bench.runner"),
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type workerJob struct {
	peerID int
	role   Role
	run    func(ctx context.Context) error
}

type aggregateOutcome struct {
	result *TestResult
	err    error
}

// Run 执行一轮压测，返回报告及其路径
// 单个 worker 失败不会中止整轮，失败信息写进报告的 worker_failures
func (r *Runner) Run(ctx context.Context) (*TestResult, string, error) {
	cfg := r.bench
	runID := uuid.NewString()
	log := r.logger.With(zap.String("runId", runID))

	startedAt := time.Now()
	startUntil := startedAt.Add(cfg.InitTime)
	timeout := startUntil.Add(cfg.RoundTimeout)

	log.Info("Benchmark starting",
		zap.String("transport", r.transport),
		zap.Int("publishers", cfg.Publishers),
		zap.Int("subscribers", cfg.Subscribers),
		zap.Int("pubSubPeers", cfg.PubSubPeers),
		zap.Int("messagesPerPeer", cfg.MessagesPerPeer),
		zap.Int("payloadSize", cfg.PayloadSize),
		zap.Bool("multiPeer", cfg.MultiPeer),
		zap.Time("startUntil", startUntil),
		zap.Time("timeout", timeout))

	var shared *eventbus.SharedBus
	if !cfg.MultiPeer && cfg.Publishers+cfg.Subscribers > 0 {
		bus, err := r.openShared(ctx)
		if err != nil {
			return nil, "", err
		}
		shared = eventbus.NewSharedBus(bus)
	}

	channel := NewSampleChannel(cfg.TotalSubscribers())
	jobs, err := r.buildJobs(channel, shared, startUntil, timeout)
	if err != nil {
		if shared != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.closeTimeout)
			_ = shared.Close(closeCtx)
			cancel()
		}
		return nil, "", err
	}

	aggregator := &Aggregator{
		Receiver:             channel.Receiver(),
		TotalPublishers:      cfg.TotalPublishers(),
		AdditionalPublishers: cfg.AdditionalPublishers,
		TotalSubscribers:     cfg.TotalSubscribers(),
		MessagesPerPeer:      cfg.MessagesPerPeer,
		PayloadSize:          cfg.PayloadSize,
		RoundTimeout:         cfg.RoundTimeout,
		Config:               RunConfig{Transport: r.transport, BenchConfig: cfg},
		Writer:               r.writer,
	}
	aggregated := make(chan aggregateOutcome, 1)
	go func() {
		// 所有 Sender 都会在 worker 返回时释放，通道必然关闭；中断时也要产出部分报告
		result, err := aggregator.Aggregate(context.WithoutCancel(ctx))
		aggregated <- aggregateOutcome{result: result, err: err}
	}()

	monitor := NewResourceMonitor(cfg.ResourceSampleInterval, r.metrics)
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(monitorCtx)
	}()

	outcomes := r.runJobs(ctx, jobs)

	stopMonitor()
	<-monitorDone

	if shared != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.closeTimeout)
		if err := shared.Close(closeCtx); err != nil {
			log.Warn("Closing shared session failed", zap.Error(err))
		}
		cancel()
	}

	agg := <-aggregated
	if agg.err != nil {
		return nil, "", agg.err
	}

	result := agg.result
	finishedAt := time.Now()
	result.RunID = runID
	result.StartedAt = &startedAt
	result.FinishedAt = &finishedAt
	result.ResourceSamples = monitor.Samples()
	for _, o := range outcomes {
		if o.Failed() {
			result.WorkerFailures = append(result.WorkerFailures, o)
		}
	}
	if n := len(result.WorkerFailures); n > 0 {
		log.Warn("Some workers failed, their peers are missing from the aggregate", zap.Int("failures", n))
	}

	path, err := aggregator.Persist(ctx, result)
	if err != nil {
		return result, "", err
	}
	log.Info("Benchmark finished", zap.String("report", path), zap.Duration("elapsed", finishedAt.Sub(startedAt)))
	return result, path, nil
}

func (r *Runner) openShared(ctx context.Context) (eventbus.EventBus, error) {
	bus, err := r.opener(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("open shared session: %w", err)
	}

	hcCtx, cancel := context.WithTimeout(ctx, eventbus.DefaultConnectTimeout)
	defer cancel()
	if err := bus.HealthCheck(hcCtx); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("shared session health check: %w", err)
	}
	return bus, nil
}

// buildJobs 在启动任何 worker 之前创建全部 Sender 和租约，出错时全部释放
// peer id：订阅者 [o, o+N)，发布者 [o+N, o+N+M)，pub+sub 节点 [o+N+M, o+N+M+K)
func (r *Runner) buildJobs(channel *SampleChannel, shared *eventbus.SharedBus, startUntil, timeout time.Time) (_ []workerJob, err error) {
	cfg := r.bench
	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()
	expected := ExpectedMessages(cfg.TotalPublishers(), cfg.AdditionalPublishers, cfg.MessagesPerPeer)
	payload := make([]byte, cfg.PayloadSize)

	jobs := make([]workerJob, 0, cfg.Subscribers+cfg.Publishers+cfg.PubSubPeers)
	peerID := cfg.PeerIDOffset

	acquire := func() (eventbus.EventBus, func(), error) {
		if shared == nil {
			return nil, func() {}, nil
		}
		lease, err := shared.Acquire()
		if err != nil {
			return nil, nil, err
		}
		release := func() { _ = lease.Close() }
		undo = append(undo, release)
		return lease, release, nil
	}
	newSender := func(peerID int) (*Sender, error) {
		sender, err := channel.NewSender(peerID)
		if err != nil {
			return nil, err
		}
		undo = append(undo, sender.Close)
		return sender, nil
	}

	for i := 0; i < cfg.Subscribers; i++ {
		sender, err := newSender(peerID)
		if err != nil {
			return nil, err
		}
		bus, release, err := acquire()
		if err != nil {
			return nil, err
		}
		w := &SubscribeWorker{
			Bus:           bus,
			Opener:        r.opener,
			PeerID:        peerID,
			StartUntil:    startUntil,
			Timeout:       timeout,
			Sender:        sender,
			ExpectedCount: expected,
			KeyExpr:       cfg.SubscribeKeyExpr,
			MultiPeer:     cfg.MultiPeer,
			Locators:      cfg.Locators,
			StreamBuffer:  cfg.StreamBuffer,
			Metrics:       r.metrics,
		}
		jobs = append(jobs, workerJob{peerID: peerID, role: RoleSubscriber, run: func(ctx context.Context) error {
			defer release()
			return w.Run(ctx)
		}})
		peerID++
	}

	for i := 0; i < cfg.Publishers; i++ {
		bus, release, err := acquire()
		if err != nil {
			return nil, err
		}
		w := &PublishWorker{
			Bus:          bus,
			Opener:       r.opener,
			PeerID:       peerID,
			StartUntil:   startUntil,
			Timeout:      timeout,
			MessageCount: cfg.MessagesPerPeer,
			Payload:      payload,
			KeyExpr:      cfg.KeyExpr,
			MultiPeer:    cfg.MultiPeer,
			Locators:     cfg.Locators,
			RateLimiter:  eventbus.NewRateLimiter(eventbus.RateLimitConfig{RatePerSecond: cfg.PublishRate}),
			Metrics:      r.metrics,
		}
		jobs = append(jobs, workerJob{peerID: peerID, role: RolePublisher, run: func(ctx context.Context) error {
			defer release()
			_, err := w.Run(ctx)
			return err
		}})
		peerID++
	}

	for i := 0; i < cfg.PubSubPeers; i++ {
		sender, err := newSender(peerID)
		if err != nil {
			return nil, err
		}
		w := &PubSubWorker{
			Opener:           r.opener,
			PeerID:           peerID,
			StartUntil:       startUntil,
			Timeout:          timeout,
			MessageCount:     cfg.MessagesPerPeer,
			Payload:          payload,
			PublishKeyExpr:   cfg.KeyExpr,
			SubscribeKeyExpr: cfg.SubscribeKeyExpr,
			ExpectedCount:    expected,
			Sender:           sender,
			MultiPeer:        cfg.MultiPeer,
			Locators:         cfg.Locators,
			StreamBuffer:     cfg.StreamBuffer,
			RateLimiter:      eventbus.NewRateLimiter(eventbus.RateLimitConfig{RatePerSecond: cfg.PublishRate}),
			Metrics:          r.metrics,
		}
		jobs = append(jobs, workerJob{peerID: peerID, role: RolePubSub, run: w.Run})
		peerID++
	}

	return jobs, nil
}

// runJobs 并发运行全部 worker 并收集每个 worker 的结束状态，不做互相取消
func (r *Runner) runJobs(ctx context.Context, jobs []workerJob) []WorkerOutcome {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		outcomes = make([]WorkerOutcome, 0, len(jobs))
	)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			begin := time.Now()
			err := job.run(ctx)
			r.metrics.RecordWorker(string(job.role), err == nil, time.Since(begin))

			outcome := WorkerOutcome{PeerID: job.peerID, Role: job.role, Err: err}
			if err != nil {
				outcome.Error = err.Error()
				r.logger.Error("Worker failed",
					zap.Int("peerId", job.peerID),
					zap.String("role", string(job.role)),
					zap.Error(err))
			}

			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].PeerID < outcomes[j].PeerID
	})
	return outcomes
}
