package config

import (
	"time"
)

// DefaultMultiplexTopic Kafka/Redpanda 没有层级主题与通配符，所有 key expression 复用同一个物理主题
const DefaultMultiplexTopic = "jxt-bench"

// ==========================================================================
// 核心配置结构 - 统一的EventBus配置入口
// ==========================================================================

// EventBus 事件总线配置
type EventBus struct {
	// 基础配置
	Type        string `mapstructure:"type" json:"type" validate:"oneof=memory nats kafka redpanda mqtt redis"`
	ServiceName string `mapstructure:"serviceName" json:"serviceName,omitempty"` // 客户端ID前缀

	// 具体实现配置
	Memory   MemoryConfig   `mapstructure:"memory" json:"memory"`
	NATS     NATSConfig     `mapstructure:"nats" json:"nats"`
	Kafka    KafkaConfig    `mapstructure:"kafka" json:"kafka"`
	Redpanda RedpandaConfig `mapstructure:"redpanda" json:"redpanda"`
	MQTT     MQTTConfig     `mapstructure:"mqtt" json:"mqtt"`
	Redis    RedisConfig    `mapstructure:"redis" json:"redis"`
}

var EventBusConfig = new(EventBus)

// MemoryConfig Memory配置
type MemoryConfig struct {
	MaxChannelSize int `mapstructure:"maxChannelSize" json:"maxChannelSize" validate:"gte=0"` // 每个订阅的投递队列长度
}

// NATSConfig NATS配置
type NATSConfig struct {
	URLs              []string      `mapstructure:"urls" json:"urls"`                           // NATS服务器地址
	MaxReconnects     int           `mapstructure:"maxReconnects" json:"maxReconnects"`         // 最大重连次数
	ReconnectWait     time.Duration `mapstructure:"reconnectWait" json:"reconnectWait"`         // 重连等待时间
	ConnectionTimeout time.Duration `mapstructure:"connectionTimeout" json:"connectionTimeout"` // 连接超时
	Token             string        `mapstructure:"token" json:"-"`
	Username          string        `mapstructure:"username" json:"-"`
	Password          string        `mapstructure:"password" json:"-"`
}

// KafkaConfig Kafka配置（IBM/sarama）
type KafkaConfig struct {
	Brokers           []string       `mapstructure:"brokers" json:"brokers"`                     // Kafka集群地址
	Topic             string         `mapstructure:"topic" json:"topic"`                         // 复用的物理主题
	Partitions        int32          `mapstructure:"partitions" json:"partitions"`               // 自动创建主题时的分区数
	ReplicationFactor int16          `mapstructure:"replicationFactor" json:"replicationFactor"` // 自动创建主题时的副本数
	Producer          ProducerConfig `mapstructure:"producer" json:"producer"`                   // 生产者配置
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	RequiredAcks int           `mapstructure:"requiredAcks" json:"requiredAcks"` // 0, 1, -1
	Compression  string        `mapstructure:"compression" json:"compression"`   // none, gzip, snappy, lz4, zstd
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	RetryMax     int           `mapstructure:"retryMax" json:"retryMax"`
}

// RedpandaConfig Redpanda配置（twmb/franz-go）
type RedpandaConfig struct {
	Brokers           []string `mapstructure:"brokers" json:"brokers"`
	Topic             string   `mapstructure:"topic" json:"topic"`
	Partitions        int32    `mapstructure:"partitions" json:"partitions"`               // 创建主题时的分区数
	ReplicationFactor int16    `mapstructure:"replicationFactor" json:"replicationFactor"` // 创建主题时的副本数
}

// MQTTConfig MQTT配置（eclipse/paho）
type MQTTConfig struct {
	Brokers        []string      `mapstructure:"brokers" json:"brokers"` // 例如 tcp://localhost:1883
	QoS            byte          `mapstructure:"qos" json:"qos" validate:"lte=2"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout" json:"connectTimeout"`
	Username       string        `mapstructure:"username" json:"-"`
	Password       string        `mapstructure:"password" json:"-"`
}

// RedisConfig Redis Pub/Sub配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db" json:"db"`
}
