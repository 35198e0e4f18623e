package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"go.uber.org/zap"
)

// ErrSharedBusClosing 共享连接已进入关闭流程，不再发放租约
var ErrSharedBusClosing = errors.New("shared eventbus is closing")

// SharedBus 单连接模式下被所有 worker 共用的连接
// 持有者（Runner）负责 Close；worker 通过 Acquire 拿到租约，租约的 Close 只归还租约，不关闭底层连接
type SharedBus struct {
	bus    EventBus
	logger *zap.Logger

	mu       sync.Mutex
	leases   int
	closing  bool
	drained  chan struct{}
	closeErr error
	closed   bool
}

// NewSharedBus 包装一个已建立的连接
func NewSharedBus(bus EventBus) *SharedBus {
	return &SharedBus{
		bus:     bus,
		logger:  logger.Named("eventbus.shared"),
		drained: make(chan struct{}),
	}
}

// Acquire 获取一个租约
func (s *SharedBus) Acquire() (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return nil, ErrSharedBusClosing
	}
	s.leases++
	return &Lease{EventBus: s.bus, shared: s}, nil
}

// Leases 当前未归还的租约数
func (s *SharedBus) Leases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases
}

func (s *SharedBus) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leases--
	if s.closing && s.leases == 0 {
		close(s.drained)
	}
}

// Close 等待全部租约归还后关闭底层连接，只会真正关闭一次
// ctx 结束时不再等待，强制关闭并返回 ctx 错误
func (s *SharedBus) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	if !s.closing {
		s.closing = true
		if s.leases == 0 {
			close(s.drained)
		}
	}
	s.mu.Unlock()

	var waitErr error
	select {
	case <-s.drained:
	case <-ctx.Done():
		waitErr = fmt.Errorf("closing shared eventbus with %d outstanding leases: %w", s.Leases(), ctx.Err())
		s.logger.Warn("Shared eventbus closed before all leases were released", zap.Int("leases", s.Leases()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.closeErr = s.bus.Close()
	}
	return errors.Join(waitErr, s.closeErr)
}

// Lease 共享连接的租约，实现 EventBus
type Lease struct {
	EventBus
	shared *SharedBus
	once   sync.Once
}

// Close 归还租约，不关闭底层连接；重复调用无副作用
func (l *Lease) Close() error {
	l.once.Do(l.shared.release)
	return nil
}
