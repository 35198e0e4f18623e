package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// redpandaEventBus Redpanda（Kafka 协议）事件总线，基于 franz-go
// 与 kafkaEventBus 相同：所有 key expression 复用一个主题，key 中携带 key expression
type redpandaEventBus struct {
	brokers  []string
	topic    string
	clientID string
	producer *kgo.Client
	logger   *zap.Logger
	closed   atomic.Bool
	nextSub  atomic.Int64

	mu   sync.Mutex
	subs map[*redpandaSubscription]struct{}
}

type redpandaSubscription struct {
	client *kgo.Client
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewRedpandaEventBus 创建Redpanda事件总线，locators 非空时覆盖 cfg.Brokers
func NewRedpandaEventBus(ctx context.Context, cfg *config.RedpandaConfig, clientID string, locators []string) (EventBus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redpanda config cannot be nil")
	}

	brokers := cfg.Brokers
	if len(locators) > 0 {
		var err error
		if brokers, err = locatorHostPorts(locators); err != nil {
			return nil, err
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("redpanda brokers cannot be empty")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = config.DefaultMultiplexTopic
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redpanda client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := producer.Ping(pingCtx); err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to reach redpanda brokers: %w", err)
	}
	if err := ensureRedpandaTopic(pingCtx, producer, topic, cfg.Partitions, cfg.ReplicationFactor); err != nil {
		producer.Close()
		return nil, err
	}

	log := logger.Named("eventbus.redpanda")
	log.Info("Redpanda EventBus connected",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
		zap.String("clientId", clientID))

	return &redpandaEventBus{
		brokers:  brokers,
		topic:    topic,
		clientID: clientID,
		producer: producer,
		logger:   log,
		subs:     make(map[*redpandaSubscription]struct{}),
	}, nil
}

// Publish 同步发布，等待 broker 确认
func (r *redpandaEventBus) Publish(ctx context.Context, keyExpr string, payload []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := ValidatePublishKeyExpr(keyExpr); err != nil {
		return err
	}

	record := &kgo.Record{Key: []byte(keyExpr), Value: payload}
	if err := r.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish message to redpanda: %w", err)
	}
	return nil
}

// Subscribe 每个订阅一个独立的消费客户端，从订阅时刻之后的记录开始消费
func (r *redpandaEventBus) Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}

	// 客户端懒加载分区，按时间戳定位起点，避免首次 fetch 前发布的消息被 AtEnd 跳过
	startOffset := kgo.NewOffset().AfterMilli(time.Now().UnixMilli())
	client, err := kgo.NewClient(
		kgo.SeedBrokers(r.brokers...),
		kgo.ClientID(fmt.Sprintf("%s-sub-%d", r.clientID, r.nextSub.Add(1))),
		kgo.ConsumeTopics(r.topic),
		kgo.ConsumeResetOffset(startOffset),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redpanda consumer: %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	sub := &redpandaSubscription{client: client, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go r.poll(pollCtx, sub, pattern, handler)
	stopWatch := context.AfterFunc(ctx, func() { r.unsubscribe(sub) })
	r.logger.Debug("Subscribed to redpanda topic", zap.String("topic", r.topic), zap.String("pattern", pattern))

	return subscriptionFunc(func() error {
		stopWatch()
		r.unsubscribe(sub)
		return nil
	}), nil
}

func (r *redpandaEventBus) poll(ctx context.Context, sub *redpandaSubscription, pattern string, handler MessageHandler) {
	defer close(sub.done)
	for {
		fetches := sub.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			r.logger.Warn("Redpanda fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})
		fetches.EachRecord(func(record *kgo.Record) {
			keyExpr := string(record.Key)
			if !MatchKeyExpr(pattern, keyExpr) {
				return
			}
			sample := &Sample{KeyExpr: keyExpr, Payload: record.Value, ReceivedAt: time.Now()}
			if err := handler(ctx, sample); err != nil {
				r.logger.Debug("Redpanda handler failed", zap.String("keyExpr", keyExpr), zap.Error(err))
			}
		})
	}
}

func (r *redpandaEventBus) unsubscribe(sub *redpandaSubscription) {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
		sub.client.Close()
	})
	r.mu.Lock()
	delete(r.subs, sub)
	r.mu.Unlock()
}

// HealthCheck 健康检查
func (r *redpandaEventBus) HealthCheck(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.producer.Ping(ctx); err != nil {
		return fmt.Errorf("redpanda ping failed: %w", err)
	}
	return nil
}

// Close 关闭
func (r *redpandaEventBus) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	subs := make([]*redpandaSubscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()
	for _, sub := range subs {
		r.unsubscribe(sub)
	}

	r.producer.Close()
	r.logger.Debug("Redpanda EventBus closed", zap.Int("subscriptions", len(subs)))
	return nil
}

// ensureRedpandaTopic 预先创建复用主题，已存在时忽略
// 不关闭 admin，它与生产者共用同一个 kgo.Client
func ensureRedpandaTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("failed to create redpanda topic %s: %w", topic, err)
	}
	for name, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("failed to create redpanda topic %s: %w", name, r.Err)
		}
	}
	return nil
}
