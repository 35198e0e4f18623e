package eventbus

import "time"

// ========== Memory 默认配置 ==========

const (
	// DefaultMemoryQueueSize 默认每个订阅的投递队列长度
	// 队列满时发布端阻塞，形成背压而不是丢消息
	DefaultMemoryQueueSize = 1024
)

// ========== 连接默认配置 ==========

const (
	// DefaultConnectTimeout 默认建立连接超时时间
	DefaultConnectTimeout = 10 * time.Second

	// DefaultMQTTDisconnectQuiesce MQTT 断开前等待在途消息的毫秒数
	DefaultMQTTDisconnectQuiesce = 250

	// DefaultSubscribeReadyTimeout 订阅确认（SUBACK / psubscribe 回执）的等待时间
	DefaultSubscribeReadyTimeout = 5 * time.Second
)

// ========== 默认端口 ==========

const (
	defaultNATSScheme = "nats"
	defaultMQTTScheme = "tcp"
)
