package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// natsEventBus NATS Core 事件总线实现
// 压测只关心投递率，不使用 JetStream 持久化；一个会话对应一个 *nats.Conn
type natsEventBus struct {
	conn     *nats.Conn
	clientID string
	logger   *zap.Logger
	closed   atomic.Bool
}

// NewNATSEventBus 创建NATS事件总线，locators 非空时覆盖 cfg.URLs
func NewNATSEventBus(cfg *config.NATSConfig, clientID string, locators []string) (EventBus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nats config cannot be nil")
	}

	urls := cfg.URLs
	if len(locators) > 0 {
		var err error
		if urls, err = locatorURLs(locators, defaultNATSScheme); err != nil {
			return nil, err
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("nats urls cannot be empty")
	}

	connectTimeout := cfg.ConnectionTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	opts := []nats.Option{
		nats.Name(clientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(connectTimeout),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	log := logger.Named("eventbus.nats")
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.String("clientId", clientID), zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("clientId", clientID), zap.String("url", nc.ConnectedUrl()))
		}),
	)

	nc, err := nats.Connect(strings.Join(urls, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	log.Info("NATS EventBus connected",
		zap.Strings("urls", urls),
		zap.String("clientId", clientID))

	return &natsEventBus{
		conn:     nc,
		clientID: clientID,
		logger:   log,
	}, nil
}

// Publish 发布消息
func (n *natsEventBus) Publish(ctx context.Context, keyExpr string, payload []byte) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if err := ValidatePublishKeyExpr(keyExpr); err != nil {
		return err
	}
	if err := validateNATSKeyExpr(keyExpr); err != nil {
		return err
	}

	if err := n.conn.Publish(toNATSSubject(keyExpr), payload); err != nil {
		return fmt.Errorf("failed to publish to nats: %w", err)
	}
	return nil
}

// Subscribe 订阅消息，nats.go 对同一个订阅的回调是串行且有序的
// pattern 以 ** 结尾时另订阅前缀 subject，因为 > 至少要匹配一个 token
func (n *natsEventBus) Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if n.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateNATSKeyExpr(pattern); err != nil {
		return nil, err
	}

	var handlerMu sync.Mutex // 两个 subject 的回调串行交给 handler
	callback := func(msg *nats.Msg) {
		keyExpr := fromNATSSubject(msg.Subject)
		if !MatchKeyExpr(pattern, keyExpr) {
			return
		}
		sample := &Sample{KeyExpr: keyExpr, Payload: msg.Data, ReceivedAt: time.Now()}
		handlerMu.Lock()
		err := handler(ctx, sample)
		handlerMu.Unlock()
		if err != nil {
			n.logger.Debug("NATS handler failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}

	subjects := natsSubjects(pattern)
	subs := make([]*nats.Subscription, 0, len(subjects))
	unsubscribeAll := func() error {
		var errs []error
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
				errs = append(errs, fmt.Errorf("failed to unsubscribe nats subject %s: %w", sub.Subject, err))
			}
		}
		return errors.Join(errs...)
	}

	for _, subject := range subjects {
		sub, err := n.conn.Subscribe(subject, callback)
		if err != nil {
			_ = unsubscribeAll()
			return nil, fmt.Errorf("failed to subscribe to nats subject %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	// 确保服务端已登记订阅，之后发布的消息一定能收到
	if err := n.conn.FlushTimeout(DefaultSubscribeReadyTimeout); err != nil {
		_ = unsubscribeAll()
		return nil, fmt.Errorf("failed to flush nats subscription: %w", err)
	}

	stopWatch := context.AfterFunc(ctx, func() { _ = unsubscribeAll() })
	n.logger.Debug("Subscribed to NATS subject", zap.Strings("subjects", subjects), zap.String("pattern", pattern))

	return subscriptionFunc(func() error {
		stopWatch()
		return unsubscribeAll()
	}), nil
}

// HealthCheck 健康检查
func (n *natsEventBus) HealthCheck(ctx context.Context) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats connection status: %v", n.conn.Status())
	}
	timeout := DefaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if timeout = time.Until(deadline); timeout <= 0 {
			return context.DeadlineExceeded
		}
	}
	if err := n.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("nats health check flush failed: %w", err)
	}
	return nil
}

// Close 关闭连接
func (n *natsEventBus) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	// 尽量把缓冲中的消息刷到服务端
	if err := n.conn.FlushTimeout(DefaultConnectTimeout); err != nil {
		n.logger.Warn("NATS flush before close failed", zap.Error(err))
	}
	n.conn.Close()
	n.logger.Debug("NATS EventBus closed", zap.String("clientId", n.clientID))
	return nil
}
