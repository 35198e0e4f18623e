package eventbus

import (
	"context"
	"testing"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFactory_Validation(t *testing.T) {
	_, err := NewFactory(nil)
	assert.Error(t, err)

	_, err = NewFactory(&config.EventBus{})
	assert.Error(t, err)

	_, err = NewFactory(&config.EventBus{Type: "zenoh"})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = NewFactory(&config.EventBus{Type: "kafka", Kafka: config.KafkaConfig{Producer: config.ProducerConfig{RequiredAcks: 2}}})
	assert.Error(t, err)

	_, err = NewFactory(&config.EventBus{Type: "mqtt", MQTT: config.MQTTConfig{QoS: 3}})
	assert.Error(t, err)

	_, err = NewFactory(&config.EventBus{Type: "memory", Memory: config.MemoryConfig{MaxChannelSize: -1}})
	assert.Error(t, err)
}

// TestNewFactory_Defaults 缺省值在创建工厂时补齐
func TestNewFactory_Defaults(t *testing.T) {
	kafkaCfg := &config.EventBus{Type: "kafka"}
	_, err := NewFactory(kafkaCfg)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultMultiplexTopic, kafkaCfg.Kafka.Topic)
	assert.Equal(t, int32(1), kafkaCfg.Kafka.Partitions)
	assert.Equal(t, int16(1), kafkaCfg.Kafka.ReplicationFactor)

	natsCfg := &config.EventBus{Type: "nats"}
	_, err = NewFactory(natsCfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectTimeout, natsCfg.NATS.ConnectionTimeout)

	memCfg := &config.EventBus{Type: "memory"}
	f, err := NewFactory(memCfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultMemoryQueueSize, memCfg.Memory.MaxChannelSize)
	assert.Equal(t, "memory", f.Type())
}

func TestFactory_ClientIDIsUnique(t *testing.T) {
	f, err := NewFactory(&config.EventBus{Type: "memory", ServiceName: "bench-a"})
	require.NoError(t, err)

	a, b := f.clientID(), f.clientID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "bench-a-")
}

func TestNewOpener_Memory(t *testing.T) {
	opener, err := NewOpener(&config.EventBus{Type: "memory"})
	require.NoError(t, err)

	bus, err := opener(context.Background(), nil)
	require.NoError(t, err)
	defer bus.Close()
	assert.NoError(t, bus.HealthCheck(context.Background()))
}

func TestFactory_OpenWithInvalidLocator(t *testing.T) {
	f, err := NewFactory(&config.EventBus{Type: "nats"})
	require.NoError(t, err)

	_, err = f.Open(context.Background(), []string{"not-a-locator"})
	assert.Error(t, err)
}
