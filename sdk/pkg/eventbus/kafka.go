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
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// kafkaEventBus Kafka事件总线实现
// Kafka 没有层级主题和通配订阅：所有 key expression 复用 cfg.Topic 这一个物理主题，
// key expression 写在消息 key 里，订阅端按 key 过滤。相同 key 落在同一分区，保证发布顺序。
type kafkaEventBus struct {
	topic    string
	client   sarama.Client
	producer sarama.SyncProducer
	logger   *zap.Logger
	closed   atomic.Bool

	mu   sync.Mutex
	subs map[*kafkaSubscription]struct{}
}

// kafkaSubscription 独占一个 sarama.Consumer：同一个 Consumer 对一个分区只能消费一次，
// 共享连接上的多个订阅者各自建 Consumer，底层仍复用同一个 client
type kafkaSubscription struct {
	consumer   sarama.Consumer
	pattern    string
	handler    MessageHandler
	partitions []sarama.PartitionConsumer
	handlerMu  sync.Mutex // 多个分区的消息串行交给 handler
	wg         sync.WaitGroup
	once       sync.Once
}

// NewKafkaEventBus 创建Kafka事件总线，locators 非空时覆盖 cfg.Brokers
func NewKafkaEventBus(cfg *config.KafkaConfig, clientID string, locators []string) (EventBus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka config cannot be nil")
	}

	brokers := cfg.Brokers
	if len(locators) > 0 {
		var err error
		if brokers, err = locatorHostPorts(locators); err != nil {
			return nil, err
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = config.DefaultMultiplexTopic
	}

	// 创建Sarama配置
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = clientID
	configureSarama(saramaConfig, cfg)

	// 创建客户端
	client, err := sarama.NewClient(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	if err := ensureKafkaTopic(client, topic, cfg); err != nil {
		client.Close()
		return nil, err
	}

	bus, err := newKafkaEventBusFromClient(client, topic)
	if err != nil {
		client.Close()
		return nil, err
	}

	bus.logger.Info("Kafka EventBus connected",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
		zap.String("clientId", clientID))
	return bus, nil
}

// newKafkaEventBusFromClient 在已连接的 client 上创建生产者，Close 时一并关闭 client
func newKafkaEventBusFromClient(client sarama.Client, topic string) (*kafkaEventBus, error) {
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &kafkaEventBus{
		topic:    topic,
		client:   client,
		producer: producer,
		logger:   logger.Named("eventbus.kafka"),
		subs:     make(map[*kafkaSubscription]struct{}),
	}, nil
}

// configureSarama 配置Sarama
func configureSarama(saramaConfig *sarama.Config, cfg *config.KafkaConfig) {
	// 生产者配置
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Producer.RequiredAcks)
	if cfg.Producer.Timeout > 0 {
		saramaConfig.Producer.Timeout = cfg.Producer.Timeout
	}
	// 压测不做重试，失败直接暴露给 worker
	saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	// 设置压缩算法
	switch cfg.Producer.Compression {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	saramaConfig.Consumer.Return.Errors = false
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest

	// 版本配置
	saramaConfig.Version = sarama.V2_6_0_0
}

// ensureKafkaTopic 主题不存在时创建
func ensureKafkaTopic(client sarama.Client, topic string, cfg *config.KafkaConfig) error {
	// ClusterAdmin 与 client 共享连接，这里不调用 admin.Close()，否则会关闭 client
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return fmt.Errorf("failed to create kafka admin: %w", err)
	}

	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	err = admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	}, false)
	if err != nil {
		var topicErr *sarama.TopicError
		if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to create kafka topic %s: %w", topic, err)
	}
	return nil
}

// Publish 发布消息
func (k *kafkaEventBus) Publish(ctx context.Context, keyExpr string, payload []byte) error {
	if k.closed.Load() {
		return ErrClosed
	}
	if err := ValidatePublishKeyExpr(keyExpr); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(keyExpr),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish message to kafka: %w", err)
	}
	return nil
}

// Subscribe 从每个分区的最新位点开始消费，按 key 过滤
func (k *kafkaEventBus) Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if k.closed.Load() {
		return nil, ErrClosed
	}

	partitions, err := k.client.Partitions(k.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list kafka partitions: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(k.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	sub := &kafkaSubscription{consumer: consumer, pattern: pattern, handler: handler}
	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(k.topic, partition, sarama.OffsetNewest)
		if err != nil {
			sub.stop()
			return nil, fmt.Errorf("failed to consume kafka partition %d: %w", partition, err)
		}
		sub.partitions = append(sub.partitions, pc)
		sub.wg.Add(1)
		go sub.consume(ctx, pc)
	}

	k.mu.Lock()
	k.subs[sub] = struct{}{}
	k.mu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() { k.unsubscribe(sub) })
	k.logger.Debug("Subscribed to kafka topic",
		zap.String("topic", k.topic),
		zap.String("pattern", pattern),
		zap.Int("partitions", len(partitions)))

	return subscriptionFunc(func() error {
		stopWatch()
		k.unsubscribe(sub)
		return nil
	}), nil
}

func (k *kafkaEventBus) unsubscribe(sub *kafkaSubscription) {
	sub.stop()
	k.mu.Lock()
	delete(k.subs, sub)
	k.mu.Unlock()
}

func (s *kafkaSubscription) consume(ctx context.Context, pc sarama.PartitionConsumer) {
	defer s.wg.Done()
	for msg := range pc.Messages() {
		keyExpr := string(msg.Key)
		if !MatchKeyExpr(s.pattern, keyExpr) {
			continue
		}
		sample := &Sample{KeyExpr: keyExpr, Payload: msg.Value, ReceivedAt: time.Now()}
		s.handlerMu.Lock()
		err := s.handler(ctx, sample)
		s.handlerMu.Unlock()
		if err != nil {
			logger.Logger.Debug("Kafka handler failed", zap.String("keyExpr", keyExpr), zap.Error(err))
		}
	}
}

func (s *kafkaSubscription) stop() {
	s.once.Do(func() {
		// AsyncClose 会关闭 Messages 通道，consume 协程随之退出
		for _, pc := range s.partitions {
			pc.AsyncClose()
		}
		s.wg.Wait()
		// 由 client 派生的 Consumer 关闭时不会关闭 client
		_ = s.consumer.Close()
	})
}

// HealthCheck 健康检查
func (k *kafkaEventBus) HealthCheck(ctx context.Context) error {
	if k.closed.Load() || k.client.Closed() {
		return ErrClosed
	}
	if len(k.client.Brokers()) == 0 {
		return fmt.Errorf("no available kafka brokers")
	}
	if err := k.client.RefreshMetadata(k.topic); err != nil {
		return fmt.Errorf("kafka metadata refresh failed: %w", err)
	}
	return nil
}

// Close 关闭
func (k *kafkaEventBus) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}

	k.mu.Lock()
	subs := make([]*kafkaSubscription, 0, len(k.subs))
	for sub := range k.subs {
		subs = append(subs, sub)
	}
	k.subs = make(map[*kafkaSubscription]struct{})
	k.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}

	var errs []error
	if err := k.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
	}
	if !k.client.Closed() {
		if err := k.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka client: %w", err))
		}
	}
	k.logger.Debug("Kafka EventBus closed", zap.Int("subscriptions", len(subs)))
	return errors.Join(errs...)
}
