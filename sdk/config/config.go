package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 JXT_BENCH_BENCH_PUBLISHERS=4
const EnvPrefix = "JXT_BENCH"

// Config 顶层配置结构
type Config struct {
	Application *Application   `mapstructure:"application" json:"application"`
	Logger      *Logger        `mapstructure:"logger" json:"-"`
	EventBus    *EventBus      `mapstructure:"eventBus" json:"eventBus" validate:"required"`
	Bench       *BenchConfig   `mapstructure:"bench" json:"bench" validate:"required"`
	Report      *ReportConfig  `mapstructure:"report" json:"report"`
	Metrics     *MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

var AppConfig = &Config{
	Application: ApplicationConfig,
	Logger:      LoggerConfig,
	EventBus:    EventBusConfig,
	Bench:       BenchSettings,
	Report:      ReportSettings,
	Metrics:     MetricsSettings,
}

// Setup 读取配置文件（可为空）并叠加环境变量，映射到 AppConfig
func Setup(configYml string) error {
	v := viper.New()
	if err := Load(v, configYml, AppConfig); err != nil {
		return err
	}
	return nil
}

// Load 使用给定的 viper 实例加载配置到 cfg，便于命令行参数先绑定到 v 上
func Load(v *viper.Viper, configYml string, cfg *Config) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configYml != "" {
		v.SetConfigFile(configYml)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 定位器既可能是逗号分隔的字符串（命令行/环境变量），也可能是列表（YAML）
	locators, err := NormalizeLocators(v.Get("bench.locators"))
	if err != nil {
		return fmt.Errorf("解析 bench.locators 失败: %w", err)
	}
	cfg.Bench.Locators = locators

	return cfg.Validate()
}

// SetDefaults 设置默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("application.name", "jxt-bench")
	v.SetDefault("application.mode", "dev")

	v.SetDefault("logger.path", "temp/logs")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.stdout", true)
	v.SetDefault("logger.maxSize", 50)
	v.SetDefault("logger.infoMaxAge", 3)
	v.SetDefault("logger.errorMaxAge", 14)
	v.SetDefault("logger.maxBackups", 20)

	v.SetDefault("eventBus.type", "memory")
	v.SetDefault("eventBus.memory.maxChannelSize", 1024)
	v.SetDefault("eventBus.nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("eventBus.nats.maxReconnects", 10)
	v.SetDefault("eventBus.nats.reconnectWait", "2s")
	v.SetDefault("eventBus.nats.connectionTimeout", "10s")
	v.SetDefault("eventBus.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("eventBus.kafka.topic", DefaultMultiplexTopic)
	v.SetDefault("eventBus.kafka.partitions", 1)
	v.SetDefault("eventBus.kafka.replicationFactor", 1)
	v.SetDefault("eventBus.kafka.producer.requiredAcks", 1)
	v.SetDefault("eventBus.kafka.producer.timeout", "10s")
	v.SetDefault("eventBus.redpanda.brokers", []string{"localhost:9092"})
	v.SetDefault("eventBus.redpanda.topic", DefaultMultiplexTopic)
	v.SetDefault("eventBus.redpanda.partitions", 1)
	v.SetDefault("eventBus.redpanda.replicationFactor", 1)
	v.SetDefault("eventBus.mqtt.brokers", []string{"tcp://localhost:1883"})
	v.SetDefault("eventBus.mqtt.qos", 1)
	v.SetDefault("eventBus.mqtt.connectTimeout", "10s")
	v.SetDefault("eventBus.redis.addr", "localhost:6379")

	v.SetDefault("bench.publishers", 1)
	v.SetDefault("bench.subscribers", 1)
	v.SetDefault("bench.messagesPerPeer", 100)
	v.SetDefault("bench.payloadSize", 8)
	v.SetDefault("bench.initTime", "3s")
	v.SetDefault("bench.roundTimeout", "10s")
	v.SetDefault("bench.keyExpr", DefaultKeyExpr)
	v.SetDefault("bench.subscribeKeyExpr", DefaultSubscribeKeyExpr)
	v.SetDefault("bench.streamBuffer", 1024)

	v.SetDefault("report.outputDir", ".")
	v.SetDefault("metrics.namespace", "jxt_bench")
}

var validate = validator.New()

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}
