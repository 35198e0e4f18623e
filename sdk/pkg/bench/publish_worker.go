package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"go.uber.org/zap"
)

// PublishWorker 发布者：等到统一开始时刻，然后向固定 key expression 逐条发布，
// 直到发完 MessageCount 条或越过截止时间
type PublishWorker struct {
	Bus    eventbus.EventBus // 共享连接，MultiPeer 时忽略
	Opener eventbus.Opener   // MultiPeer 时建立私有连接

	PeerID       int
	StartUntil   time.Time
	Timeout      time.Time
	MessageCount int
	Payload      []byte
	KeyExpr      string
	MultiPeer    bool
	Locators     []string

	RateLimiter *eventbus.RateLimiter     // 可选
	Metrics     eventbus.MetricsCollector // 可选
}

// Run 返回实际发布的消息数；截止时间到达不算错误，只记录告警
func (w *PublishWorker) Run(ctx context.Context) (sent int, err error) {
	log := logger.Named("bench.publisher").With(zap.Int("peerId", w.PeerID))
	metrics := w.metrics()

	bus := w.Bus
	if w.MultiPeer {
		if w.Opener == nil {
			return 0, fmt.Errorf("peer %d: multi-peer publisher requires an opener", w.PeerID)
		}
		private, openErr := w.Opener(ctx, w.Locators)
		if openErr != nil {
			metrics.RecordError("connection", w.KeyExpr)
			return 0, fmt.Errorf("peer %d open session: %w", w.PeerID, openErr)
		}
		defer func() {
			if closeErr := private.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("peer %d close session: %w", w.PeerID, closeErr))
			}
		}()
		bus = private
	}
	if bus == nil {
		return 0, fmt.Errorf("peer %d: no session to publish on", w.PeerID)
	}

	if err := sleepUntil(ctx, w.StartUntil); err != nil {
		return 0, fmt.Errorf("peer %d wait for start: %w", w.PeerID, err)
	}

	limiter := w.RateLimiter
	if limiter == nil {
		limiter = eventbus.NewRateLimiter(eventbus.RateLimitConfig{})
	}

	timedOut := false
	for sent < w.MessageCount {
		if limiter.Enabled() {
			// 令牌在截止时间前拿不到，等同于截止
			waitCtx, cancel := context.WithDeadline(ctx, w.Timeout)
			waitErr := limiter.Wait(waitCtx)
			cancel()
			if waitErr != nil {
				if ctx.Err() != nil {
					return sent, fmt.Errorf("peer %d rate limiter: %w", w.PeerID, ctx.Err())
				}
				timedOut = true
				break
			}
		}

		start := time.Now()
		pubErr := bus.Publish(ctx, w.KeyExpr, w.Payload)
		metrics.RecordPublish(w.KeyExpr, pubErr == nil, time.Since(start))
		if pubErr != nil {
			metrics.RecordError("publish", w.KeyExpr)
			return sent, fmt.Errorf("peer %d publish message %d: %w", w.PeerID, sent, pubErr)
		}
		sent++

		// 截止时间在每次发布之后检查
		if time.Now().After(w.Timeout) {
			timedOut = sent < w.MessageCount
			break
		}
	}

	if timedOut {
		log.Warn("Publish deadline reached before quota, benchmark window may be too short",
			zap.Int("sent", sent),
			zap.Int("requested", w.MessageCount),
			zap.Time("deadline", w.Timeout))
	} else {
		log.Debug("Publisher finished", zap.Int("sent", sent))
	}
	return sent, nil
}

func (w *PublishWorker) metrics() eventbus.MetricsCollector {
	if w.Metrics == nil {
		return &eventbus.NoOpMetricsCollector{}
	}
	return w.Metrics
}
