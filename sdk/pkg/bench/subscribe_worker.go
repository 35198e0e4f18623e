package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"go.uber.org/zap"
)

// DefaultStreamBuffer 订阅回调与收集循环之间的缓冲长度
const DefaultStreamBuffer = 1024

var errStreamClosed = errors.New("sample stream closed")

// SubscribeWorker 订阅者：在截止时间前收集最多 ExpectedCount 条消息，通过 Sender 上报一次
type SubscribeWorker struct {
	Bus    eventbus.EventBus // 共享连接，MultiPeer 时忽略
	Opener eventbus.Opener   // MultiPeer 时建立私有连接

	PeerID        int
	StartUntil    time.Time
	Timeout       time.Time
	Sender        *Sender
	ExpectedCount int
	KeyExpr       string // 订阅的通配 key expression
	MultiPeer     bool
	Locators      []string
	StreamBuffer  int

	Metrics eventbus.MetricsCollector // 可选
}

// Run 结束时总会释放 Sender，保证聚合端不会一直等待
func (w *SubscribeWorker) Run(ctx context.Context) (err error) {
	if w.Sender == nil {
		return fmt.Errorf("peer %d: subscriber requires a sample sender", w.PeerID)
	}
	defer w.Sender.Close()

	log := logger.Named("bench.subscriber").With(zap.Int("peerId", w.PeerID))
	metrics := w.metrics()

	// 已经错过开始时刻，直接上报空结果
	if time.Now().After(w.StartUntil) {
		log.Warn("Subscriber started after the shared start instant, reporting empty result",
			zap.Time("startUntil", w.StartUntil))
		if err := w.Sender.Send(ctx, nil); err != nil {
			return fmt.Errorf("peer %d send empty result: %w", w.PeerID, err)
		}
		return nil
	}

	bus := w.Bus
	if w.MultiPeer {
		if w.Opener == nil {
			return fmt.Errorf("peer %d: multi-peer subscriber requires an opener", w.PeerID)
		}
		private, openErr := w.Opener(ctx, w.Locators)
		if openErr != nil {
			metrics.RecordError("connection", w.KeyExpr)
			return fmt.Errorf("peer %d open session: %w", w.PeerID, openErr)
		}
		defer func() {
			if closeErr := private.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("peer %d close session: %w", w.PeerID, closeErr))
			}
		}()
		bus = private
	}
	if bus == nil {
		return fmt.Errorf("peer %d: no session to subscribe on", w.PeerID)
	}

	stream, err := subscribeStream(ctx, bus, w.KeyExpr, w.StreamBuffer, metrics)
	if err != nil {
		metrics.RecordError("subscribe", w.KeyExpr)
		return fmt.Errorf("peer %d subscribe %s: %w", w.PeerID, w.KeyExpr, err)
	}

	samples := collectSamples(ctx, stream.C(), w.ExpectedCount, w.Timeout)
	if unsubErr := stream.Close(); unsubErr != nil {
		log.Warn("Unsubscribe failed", zap.Error(unsubErr))
	}

	log.Debug("Subscriber collected samples",
		zap.Int("received", len(samples)),
		zap.Int("expected", w.ExpectedCount))

	if err := w.Sender.Send(ctx, samples); err != nil {
		return fmt.Errorf("peer %d send result: %w", w.PeerID, err)
	}
	return nil
}

func (w *SubscribeWorker) metrics() eventbus.MetricsCollector {
	if w.Metrics == nil {
		return &eventbus.NoOpMetricsCollector{}
	}
	return w.Metrics
}

// collectSamples 按到达顺序收集，数量达到 max、截止时间到达或 ctx 结束，三者先到先停
func collectSamples(ctx context.Context, stream <-chan *eventbus.Sample, max int, deadline time.Time) []*eventbus.Sample {
	if max <= 0 {
		return nil
	}

	// 截止时间已过时计时器时长为 0，立即触发
	timer := time.NewTimer(untilDeadline(time.Now(), deadline))
	defer timer.Stop()

	initial := max
	if initial > DefaultStreamBuffer {
		initial = DefaultStreamBuffer
	}
	samples := make([]*eventbus.Sample, 0, initial)
	for len(samples) < max {
		select {
		case sample := <-stream:
			samples = append(samples, sample)
		case <-timer.C:
			return samples
		case <-ctx.Done():
			return samples
		}
	}
	return samples
}

// sampleStream 把回调式订阅转换为有缓冲的通道
type sampleStream struct {
	ch   chan *eventbus.Sample
	done chan struct{}
	once sync.Once
	sub  eventbus.Subscription
}

func subscribeStream(ctx context.Context, bus eventbus.EventBus, pattern string, buffer int, metrics eventbus.MetricsCollector) (*sampleStream, error) {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	s := &sampleStream{
		ch:   make(chan *eventbus.Sample, buffer),
		done: make(chan struct{}),
	}

	sub, err := bus.Subscribe(ctx, pattern, func(_ context.Context, sample *eventbus.Sample) error {
		metrics.RecordConsume(sample.KeyExpr)
		select {
		case s.ch <- sample:
			return nil
		case <-s.done:
			return errStreamClosed
		}
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

func (s *sampleStream) C() <-chan *eventbus.Sample {
	return s.ch
}

// Close 先解除阻塞中的回调，再取消订阅
func (s *sampleStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.sub.Unsubscribe()
	})
	return err
}
