package bench

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
)

var errFake = errors.New("fake failure")

// fakeBus 可控的 EventBus，记录调用并允许测试直接投递消息
type fakeBus struct {
	subscribeErr error
	publishErr   error

	mu         sync.Mutex
	handler    eventbus.MessageHandler
	subscribed chan struct{}
	subOnce    sync.Once

	published      atomic.Int32
	subscribeCalls atomic.Int32
	closes         atomic.Int32
}

func newFakeBus() *fakeBus {
	return &fakeBus{subscribed: make(chan struct{})}
}

func (b *fakeBus) Publish(ctx context.Context, keyExpr string, payload []byte) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published.Add(1)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, pattern string, handler eventbus.MessageHandler) (eventbus.Subscription, error) {
	b.subscribeCalls.Add(1)
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	b.subOnce.Do(func() { close(b.subscribed) })
	return &fakeSubscription{}, nil
}

// deliver 模拟 n 条到达的消息
func (b *fakeBus) deliver(n int) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	for i := 0; i < n; i++ {
		_ = handler(context.Background(), &eventbus.Sample{
			KeyExpr:    config.DefaultKeyExpr,
			Payload:    []byte{byte(i)},
			ReceivedAt: time.Now(),
		})
	}
}

func (b *fakeBus) HealthCheck(ctx context.Context) error {
	return nil
}

func (b *fakeBus) Close() error {
	b.closes.Add(1)
	return nil
}

type fakeSubscription struct {
	unsubscribed atomic.Bool
}

func (s *fakeSubscription) Unsubscribe() error {
	s.unsubscribed.Store(true)
	return nil
}

// memoryOpener 同一个工厂打开的 memory 会话共享进程内代理
func memoryOpener() eventbus.Opener {
	f, err := eventbus.NewFactory(&config.EventBus{Type: "memory"})
	if err != nil {
		panic(err)
	}
	return f.Opener()
}

// recordingOpener 记录每次打开时的定位器和打开的连接
type recordingOpener struct {
	err        error
	publishErr error // 施加到打开的连接上

	mu       sync.Mutex
	locators [][]string
	buses    []*fakeBus
}

func (o *recordingOpener) open(ctx context.Context, locators []string) (eventbus.EventBus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.locators = append(o.locators, locators)
	if o.err != nil {
		return nil, o.err
	}
	bus := newFakeBus()
	bus.publishErr = o.publishErr
	o.buses = append(o.buses, bus)
	return bus, nil
}
