package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"github.com/google/uuid"
)

// Factory 事件总线工厂
// 同一个工厂打开的 memory 会话共享一个进程内代理，其余类型每次 Open 建立独立连接
type Factory struct {
	config *config.EventBus

	brokerOnce sync.Once
	broker     *memoryBroker
}

// NewFactory 创建事件总线工厂
func NewFactory(cfg *config.EventBus) (*Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("eventbus config is required")
	}
	f := &Factory{config: cfg}
	if err := f.validateConfig(); err != nil {
		return nil, fmt.Errorf("invalid eventbus config: %w", err)
	}
	return f, nil
}

// Type 事件总线类型
func (f *Factory) Type() string {
	return f.config.Type
}

// Open 建立一个新的连接，满足 Opener 签名
func (f *Factory) Open(ctx context.Context, locators []string) (EventBus, error) {
	clientID := f.clientID()

	var (
		bus EventBus
		err error
	)
	switch f.config.Type {
	case "memory":
		bus = f.memoryBroker().session()
	case "nats":
		bus, err = NewNATSEventBus(&f.config.NATS, clientID, locators)
	case "kafka":
		bus, err = NewKafkaEventBus(&f.config.Kafka, clientID, locators)
	case "redpanda":
		bus, err = NewRedpandaEventBus(ctx, &f.config.Redpanda, clientID, locators)
	case "mqtt":
		bus, err = NewMQTTEventBus(&f.config.MQTT, clientID, locators)
	case "redis":
		bus, err = NewRedisEventBus(ctx, &f.config.Redis, locators)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, f.config.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s eventbus: %w", f.config.Type, err)
	}

	logger.Debugf("EventBus opened: type=%s clientId=%s locators=%v", f.config.Type, clientID, locators)
	return bus, nil
}

// Opener 返回绑定到该工厂的 Opener
func (f *Factory) Opener() Opener {
	return f.Open
}

func (f *Factory) memoryBroker() *memoryBroker {
	f.brokerOnce.Do(func() {
		f.broker = newMemoryBroker(f.config.Memory.MaxChannelSize)
	})
	return f.broker
}

// clientID 每个连接唯一，broker 侧据此区分会话
func (f *Factory) clientID() string {
	prefix := f.config.ServiceName
	if prefix == "" {
		prefix = "jxt-bench"
	}
	return prefix + "-" + uuid.NewString()
}

// validateConfig 验证配置并补齐默认值
func (f *Factory) validateConfig() error {
	if f.config.Type == "" {
		return fmt.Errorf("eventbus type is required")
	}

	switch f.config.Type {
	case "memory":
		return f.validateMemoryConfig()
	case "nats":
		return f.validateNATSConfig()
	case "kafka":
		return f.validateKafkaConfig()
	case "redpanda":
		if f.config.Redpanda.Topic == "" {
			f.config.Redpanda.Topic = config.DefaultMultiplexTopic
		}
		return nil
	case "mqtt":
		if f.config.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", f.config.MQTT.QoS)
		}
		if f.config.MQTT.ConnectTimeout == 0 {
			f.config.MQTT.ConnectTimeout = DefaultConnectTimeout
		}
		return nil
	case "redis":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, f.config.Type)
	}
}

// validateMemoryConfig 验证内存配置
func (f *Factory) validateMemoryConfig() error {
	if f.config.Memory.MaxChannelSize < 0 {
		return fmt.Errorf("memory maxChannelSize must not be negative")
	}
	if f.config.Memory.MaxChannelSize == 0 {
		f.config.Memory.MaxChannelSize = DefaultMemoryQueueSize
	}
	return nil
}

// validateNATSConfig 验证NATS配置
func (f *Factory) validateNATSConfig() error {
	nats := &f.config.NATS
	if nats.ConnectionTimeout == 0 {
		nats.ConnectionTimeout = DefaultConnectTimeout
	}
	return nil
}

// validateKafkaConfig 验证Kafka配置
func (f *Factory) validateKafkaConfig() error {
	kafka := &f.config.Kafka
	if kafka.Topic == "" {
		kafka.Topic = config.DefaultMultiplexTopic
	}
	if kafka.Partitions == 0 {
		kafka.Partitions = 1
	}
	if kafka.ReplicationFactor == 0 {
		kafka.ReplicationFactor = 1
	}
	switch kafka.Producer.RequiredAcks {
	case 0, 1, -1:
	default:
		return fmt.Errorf("kafka requiredAcks must be 0, 1 or -1, got %d", kafka.Producer.RequiredAcks)
	}
	return nil
}

// NewEventBus 按配置直接建立一个连接
func NewEventBus(ctx context.Context, cfg *config.EventBus, locators []string) (EventBus, error) {
	f, err := NewFactory(cfg)
	if err != nil {
		return nil, err
	}
	return f.Open(ctx, locators)
}

// NewOpener 按配置创建 Opener
func NewOpener(cfg *config.EventBus) (Opener, error) {
	f, err := NewFactory(cfg)
	if err != nil {
		return nil, err
	}
	return f.Opener(), nil
}
