package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"go.uber.org/zap"
)

// memoryBroker 进程内消息代理，多个 memoryEventBus 会话共享同一个代理
type memoryBroker struct {
	mu        sync.RWMutex
	subs      map[uint64]*memorySubscription
	nextID    uint64
	queueSize int
}

// memoryEventBus 内存事件总线的一个会话（用于测试、开发和单进程压测）
type memoryEventBus struct {
	broker *memoryBroker
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	subs   map[uint64]*memorySubscription
}

// memorySubscription 每个订阅一个 FIFO 队列和一个投递 goroutine，保证同一订阅内按发布顺序投递
type memorySubscription struct {
	id      uint64
	pattern string
	handler MessageHandler
	queue   chan *Sample
	done    chan struct{}
	once    sync.Once
}

func newMemoryBroker(queueSize int) *memoryBroker {
	if queueSize <= 0 {
		queueSize = DefaultMemoryQueueSize
	}
	return &memoryBroker{
		subs:      make(map[uint64]*memorySubscription),
		queueSize: queueSize,
	}
}

// NewMemoryEventBus 创建独立的内存事件总线
func NewMemoryEventBus() EventBus {
	return newMemoryBroker(DefaultMemoryQueueSize).session()
}

func (b *memoryBroker) session() *memoryEventBus {
	return &memoryEventBus{
		broker: b,
		logger: logger.Named("eventbus.memory"),
		subs:   make(map[uint64]*memorySubscription),
	}
}

// Publish 发布消息，订阅队列满时阻塞（背压），直到有空间、订阅取消或 ctx 结束
func (m *memoryEventBus) Publish(ctx context.Context, keyExpr string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if err := ValidatePublishKeyExpr(keyExpr); err != nil {
		return err
	}

	// 与调用方的缓冲区解耦，所有订阅共享这份只读拷贝
	data := append([]byte(nil), payload...)

	m.broker.mu.RLock()
	defer m.broker.mu.RUnlock()

	for _, sub := range m.broker.subs {
		if !MatchKeyExpr(sub.pattern, keyExpr) {
			continue
		}
		select {
		case sub.queue <- &Sample{KeyExpr: keyExpr, Payload: data}:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe 订阅消息
func (m *memoryEventBus) Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	m.broker.mu.Lock()
	m.broker.nextID++
	sub := &memorySubscription{
		id:      m.broker.nextID,
		pattern: pattern,
		handler: handler,
		queue:   make(chan *Sample, m.broker.queueSize),
		done:    make(chan struct{}),
	}
	m.broker.subs[sub.id] = sub
	m.broker.mu.Unlock()

	m.subs[sub.id] = sub
	go sub.run(ctx)
	stopWatch := context.AfterFunc(ctx, func() { m.unsubscribe(sub) })

	m.logger.Debug("Subscribed to pattern in memory eventbus", zap.String("pattern", pattern), zap.Uint64("subscriptionId", sub.id))
	return subscriptionFunc(func() error {
		stopWatch()
		m.unsubscribe(sub)
		return nil
	}), nil
}

func (m *memoryEventBus) unsubscribe(sub *memorySubscription) {
	// 先关闭 done，唤醒阻塞在该订阅上的发布者，再获取写锁移除
	sub.stop()

	m.broker.mu.Lock()
	delete(m.broker.subs, sub.id)
	m.broker.mu.Unlock()

	m.mu.Lock()
	delete(m.subs, sub.id)
	m.mu.Unlock()
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case sample := <-s.queue:
			sample.ReceivedAt = time.Now()
			if err := s.handler(ctx, sample); err != nil {
				logger.Logger.Debug("Memory subscription handler failed", zap.String("pattern", s.pattern), zap.Error(err))
			}
		case <-s.done:
			return
		}
	}
}

// HealthCheck 健康检查
func (m *memoryEventBus) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("memory eventbus health check: %w", ErrClosed)
	}
	return nil
}

// Close 关闭会话并取消该会话上的全部订阅，代理本身不受影响
func (m *memoryEventBus) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*memorySubscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		m.unsubscribe(sub)
	}
	m.logger.Debug("Memory eventbus session closed", zap.Int("subscriptions", len(subs)))
	return nil
}
