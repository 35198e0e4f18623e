package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFakeMQTT = errors.New("fake mqtt failure")

// doneToken 已完成的 paho token
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// fakeMQTTClient 按 paho 的方式每个 filter 只保留最后一个回调
type fakeMQTTClient struct {
	mqtt.Client

	mu           sync.Mutex
	routes       map[string]mqtt.MessageHandler
	subscribes   []string
	unsubscribes []string
	subscribeErr error
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{routes: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeMQTTClient) IsConnectionOpen() bool { return true }

func (c *fakeMQTTClient) Disconnect(uint) {}

func (c *fakeMQTTClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes = append(c.subscribes, topic)
	if c.subscribeErr != nil {
		return doneToken{err: c.subscribeErr}
	}
	c.routes[topic] = callback
	return doneToken{}
}

func (c *fakeMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.unsubscribes = append(c.unsubscribes, topic)
		delete(c.routes, topic)
	}
	return doneToken{}
}

// deliver 模拟 broker 把一条消息投递给 filter 的回调
func (c *fakeMQTTClient) deliver(filter, topic, payload string) {
	c.mu.Lock()
	callback := c.routes[filter]
	c.mu.Unlock()
	if callback != nil {
		callback(c, fakeMQTTMessage{topic: topic, payload: []byte(payload)})
	}
}

func (c *fakeMQTTClient) calls() (subscribes, unsubscribes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribes...), append([]string(nil), c.unsubscribes...)
}

type fakeMQTTMessage struct {
	topic   string
	payload []byte
}

func (m fakeMQTTMessage) Duplicate() bool   { return false }
func (m fakeMQTTMessage) Qos() byte         { return 0 }
func (m fakeMQTTMessage) Retained() bool    { return false }
func (m fakeMQTTMessage) Topic() string     { return m.topic }
func (m fakeMQTTMessage) MessageID() uint16 { return 0 }
func (m fakeMQTTMessage) Payload() []byte   { return m.payload }
func (m fakeMQTTMessage) Ack()              {}

func TestMQTTEventBus_SharedFilterFansOut(t *testing.T) {
	client := newFakeMQTTClient()
	bus := newMQTTEventBusFromClient(client, 0, time.Second, "test")
	defer bus.Close()
	ctx := context.Background()

	var a, b, c collector
	subA, err := bus.Subscribe(ctx, "/demo/example/**", a.handle)
	require.NoError(t, err)
	subB, err := bus.Subscribe(ctx, "/demo/example/**", b.handle)
	require.NoError(t, err)
	subC, err := bus.Subscribe(ctx, "/demo/example/**", c.handle)
	require.NoError(t, err)

	subscribes, _ := client.calls()
	assert.Equal(t, []string{"/demo/example/#"}, subscribes)

	client.deliver("/demo/example/#", "/demo/example/hello", "1")
	assert.Equal(t, []string{"1"}, a.payloads())
	assert.Equal(t, []string{"1"}, b.payloads())
	assert.Equal(t, []string{"1"}, c.payloads())

	// 先退出的订阅者不会让 broker 退订
	require.NoError(t, subA.Unsubscribe())
	require.NoError(t, subA.Unsubscribe())
	_, unsubscribes := client.calls()
	assert.Empty(t, unsubscribes)

	client.deliver("/demo/example/#", "/demo/example/hello", "2")
	assert.Equal(t, []string{"1"}, a.payloads())
	assert.Equal(t, []string{"1", "2"}, b.payloads())
	assert.Equal(t, []string{"1", "2"}, c.payloads())

	require.NoError(t, subB.Unsubscribe())
	require.NoError(t, subC.Unsubscribe())
	_, unsubscribes = client.calls()
	assert.Equal(t, []string{"/demo/example/#"}, unsubscribes)
}

func TestMQTTEventBus_PatternsSharingFilter(t *testing.T) {
	client := newFakeMQTTClient()
	bus := newMQTTEventBusFromClient(client, 0, time.Second, "test")
	defer bus.Close()
	ctx := context.Background()

	// 两个 pattern 都翻译成 /demo/#，各自只收到自己匹配的 key
	var hello, world collector
	_, err := bus.Subscribe(ctx, "/demo/**/hello", hello.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "/demo/**/world", world.handle)
	require.NoError(t, err)

	client.deliver("/demo/#", "/demo/a/hello", "h")
	client.deliver("/demo/#", "/demo/a/world", "w")

	assert.Equal(t, []string{"h"}, hello.payloads())
	assert.Equal(t, []string{"w"}, world.payloads())
}

func TestMQTTEventBus_SubscribeFailureResetsFilter(t *testing.T) {
	client := newFakeMQTTClient()
	client.subscribeErr = errFakeMQTT
	bus := newMQTTEventBusFromClient(client, 0, time.Second, "test")
	defer bus.Close()
	ctx := context.Background()

	var first collector
	_, err := bus.Subscribe(ctx, "/demo/**", first.handle)
	require.ErrorIs(t, err, errFakeMQTT)

	client.mu.Lock()
	client.subscribeErr = nil
	client.mu.Unlock()

	var second collector
	_, err = bus.Subscribe(ctx, "/demo/**", second.handle)
	require.NoError(t, err)

	subscribes, _ := client.calls()
	assert.Equal(t, []string{"/demo/#", "/demo/#"}, subscribes)

	client.deliver("/demo/#", "/demo/x", "p")
	assert.Zero(t, first.len())
	assert.Equal(t, []string{"p"}, second.payloads())
}

func TestMQTTEventBus_ContextCancelRemovesHandler(t *testing.T) {
	client := newFakeMQTTClient()
	bus := newMQTTEventBusFromClient(client, 0, time.Second, "test")
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	_, err := bus.Subscribe(ctx, "/demo/**", c.handle)
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		_, unsubscribes := client.calls()
		return len(unsubscribes) == 1
	}, time.Second, 5*time.Millisecond)
}
