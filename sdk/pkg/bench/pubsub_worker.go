package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PubSubWorker 同时发布和订阅的节点：自己建立一个连接，发布和订阅两个子 worker 共用，
// 两者都结束后关闭连接（失败时也关闭）
type PubSubWorker struct {
	Opener eventbus.Opener

	PeerID           int
	StartUntil       time.Time
	Timeout          time.Time
	MessageCount     int
	Payload          []byte
	PublishKeyExpr   string
	SubscribeKeyExpr string
	ExpectedCount    int
	Sender           *Sender
	MultiPeer        bool
	Locators         []string
	StreamBuffer     int

	RateLimiter *eventbus.RateLimiter
	Metrics     eventbus.MetricsCollector
}

// Run 等待发布和订阅都结束，任一失败则整体失败
func (w *PubSubWorker) Run(ctx context.Context) error {
	if w.Sender == nil {
		return fmt.Errorf("peer %d: pub/sub worker requires a sample sender", w.PeerID)
	}
	if w.Opener == nil {
		w.Sender.Close()
		return fmt.Errorf("peer %d: pub/sub worker requires an opener", w.PeerID)
	}

	log := logger.Named("bench.pubsub").With(zap.Int("peerId", w.PeerID))

	var locators []string
	if w.MultiPeer {
		locators = w.Locators
	}
	bus, err := w.Opener(ctx, locators)
	if err != nil {
		// 订阅子 worker 不会运行，由这里释放 Sender
		w.Sender.Close()
		return fmt.Errorf("peer %d open session: %w", w.PeerID, err)
	}

	// 连接已在这一层建立，子 worker 不再单独建连
	publisher := &PublishWorker{
		Bus:          bus,
		PeerID:       w.PeerID,
		StartUntil:   w.StartUntil,
		Timeout:      w.Timeout,
		MessageCount: w.MessageCount,
		Payload:      w.Payload,
		KeyExpr:      w.PublishKeyExpr,
		RateLimiter:  w.RateLimiter,
		Metrics:      w.Metrics,
	}
	subscriber := &SubscribeWorker{
		Bus:           bus,
		PeerID:        w.PeerID,
		StartUntil:    w.StartUntil,
		Timeout:       w.Timeout,
		Sender:        w.Sender,
		ExpectedCount: w.ExpectedCount,
		KeyExpr:       w.SubscribeKeyExpr,
		StreamBuffer:  w.StreamBuffer,
		Metrics:       w.Metrics,
	}

	var (
		g      errgroup.Group
		pubErr error
		subErr error
	)
	g.Go(func() error {
		_, pubErr = publisher.Run(ctx)
		return pubErr
	})
	g.Go(func() error {
		subErr = subscriber.Run(ctx)
		return subErr
	})
	_ = g.Wait()

	var closeErr error
	if err := bus.Close(); err != nil {
		closeErr = fmt.Errorf("peer %d close session: %w", w.PeerID, err)
	}

	if err := errors.Join(pubErr, subErr, closeErr); err != nil {
		log.Error("Pub/sub worker failed", zap.Error(err))
		return err
	}
	return nil
}
