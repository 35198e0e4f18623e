package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

// redisEventBus Redis Pub/Sub 事件总线，key expression 即 channel 名
// Redis Pub/Sub 不做持久化，订阅端掉线期间的消息直接丢失
type redisEventBus struct {
	client *redis.Client
	addr   string
	logger *zap.Logger
	closed atomic.Bool

	mu   sync.Mutex
	subs map[*redis.PubSub]func() error
}

// NewRedisEventBus 创建Redis事件总线，locators 非空时使用第一个地址
func NewRedisEventBus(ctx context.Context, cfg *config.RedisConfig, locators []string) (EventBus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	log := logger.Named("eventbus.redis")

	addr := cfg.Addr
	if len(locators) > 0 {
		addrs, err := locatorHostPorts(locators)
		if err != nil {
			return nil, err
		}
		if len(addrs) > 1 {
			log.Warn("Redis pub/sub uses a single node, extra locators ignored", zap.Strings("locators", addrs[1:]))
		}
		if len(addrs) > 0 {
			addr = addrs[0]
		}
	}
	if addr == "" {
		return nil, fmt.Errorf("redis addr cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", addr, err)
	}

	log.Info("Redis EventBus connected", zap.String("addr", addr), zap.Int("db", cfg.DB))
	return &redisEventBus{client: client, addr: addr, logger: log, subs: make(map[*redis.PubSub]func() error)}, nil
}

// Publish 发布消息
func (r *redisEventBus) Publish(ctx context.Context, keyExpr string, payload []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := ValidatePublishKeyExpr(keyExpr); err != nil {
		return err
	}

	if err := r.client.Publish(ctx, keyExpr, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", keyExpr, err)
	}
	return nil
}

// Subscribe 使用 PSUBSCRIBE，收到订阅回执后返回
func (r *redisEventBus) Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}

	glob := toRedisPattern(pattern)
	pubsub := r.client.PSubscribe(ctx, glob)

	readyCtx, cancel := context.WithTimeout(ctx, DefaultSubscribeReadyTimeout)
	defer cancel()
	if _, err := pubsub.Receive(readyCtx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to psubscribe redis pattern %s: %w", glob, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// pubsub.Close() 后 Channel 关闭，循环退出
		for msg := range pubsub.Channel() {
			if !MatchKeyExpr(pattern, msg.Channel) {
				continue
			}
			sample := &Sample{KeyExpr: msg.Channel, Payload: []byte(msg.Payload), ReceivedAt: time.Now()}
			if err := handler(ctx, sample); err != nil {
				r.logger.Debug("Redis handler failed", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}
	}()

	var once sync.Once
	stop := func() error {
		var err error
		once.Do(func() {
			err = pubsub.Close()
			<-done
			r.mu.Lock()
			delete(r.subs, pubsub)
			r.mu.Unlock()
		})
		return err
	}
	r.mu.Lock()
	r.subs[pubsub] = stop
	r.mu.Unlock()
	stopWatch := context.AfterFunc(ctx, func() { _ = stop() })
	r.logger.Debug("Subscribed to redis pattern", zap.String("glob", glob), zap.String("pattern", pattern))

	return subscriptionFunc(func() error {
		stopWatch()
		if err := stop(); err != nil && err != redis.ErrClosed {
			return fmt.Errorf("failed to close redis subscription %s: %w", glob, err)
		}
		return nil
	}), nil
}

// HealthCheck 健康检查
func (r *redisEventBus) HealthCheck(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close 关闭
func (r *redisEventBus) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	// PubSub 持有独立连接，需要先逐个关闭
	r.mu.Lock()
	stops := make([]func() error, 0, len(r.subs))
	for _, stop := range r.subs {
		stops = append(stops, stop)
	}
	r.mu.Unlock()
	for _, stop := range stops {
		_ = stop()
	}

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	r.logger.Debug("Redis EventBus closed", zap.String("addr", r.addr))
	return nil
}
