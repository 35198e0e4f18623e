package bench

import (
	"context"
	"errors"
	"sync"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
)

var (
	// ErrAlreadySent 每个 Sender 只能发送一次
	ErrAlreadySent = errors.New("sample sender already sent")
	// ErrSenderClosed Sender 已释放
	ErrSenderClosed = errors.New("sample sender closed")
	// ErrChannelSealed Receiver 已取出，不能再创建 Sender
	ErrChannelSealed = errors.New("sample channel sealed")
)

// SampleChannel 多生产者单消费者的结果通道
// 所有 Sender 都 Close 且通道已 Seal 之后，Receiver 返回的通道被关闭
type SampleChannel struct {
	ch chan PeerSamples

	mu      sync.Mutex
	open    int
	sealed  bool
	drained bool
}

// NewSampleChannel capacity 通常取上报节点数，保证 Send 不阻塞
func NewSampleChannel(capacity int) *SampleChannel {
	if capacity < 0 {
		capacity = 0
	}
	return &SampleChannel{ch: make(chan PeerSamples, capacity)}
}

// NewSender 为一个节点创建 Sender，必须在 Seal 之前调用
func (c *SampleChannel) NewSender(peerID int) (*Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return nil, ErrChannelSealed
	}
	c.open++
	return &Sender{c: c, peerID: peerID}, nil
}

// Seal 不再接受新的 Sender；此时若没有未释放的 Sender，立即关闭通道
func (c *SampleChannel) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sealed = true
	c.closeIfDrained()
}

// Receiver 封口并返回只读端
func (c *SampleChannel) Receiver() <-chan PeerSamples {
	c.Seal()
	return c.ch
}

func (c *SampleChannel) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open--
	c.closeIfDrained()
}

// closeIfDrained 调用方持有 c.mu
func (c *SampleChannel) closeIfDrained() {
	if c.sealed && c.open == 0 && !c.drained {
		c.drained = true
		close(c.ch)
	}
}

// Sender 一个节点的发送端：Send 至多一次，Close 必须调用（失败路径也一样）
type Sender struct {
	c      *SampleChannel
	peerID int

	mu     sync.Mutex
	sent   bool
	closed bool
}

// PeerID 节点 id
func (s *Sender) PeerID() int {
	return s.peerID
}

// Send 发送本节点的结果
func (s *Sender) Send(ctx context.Context, samples []*eventbus.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSenderClosed
	}
	if s.sent {
		return ErrAlreadySent
	}

	item := PeerSamples{PeerID: s.peerID, Samples: samples}
	select {
	case s.c.ch <- item:
		s.sent = true
		return nil
	default:
	}

	select {
	case s.c.ch <- item:
		s.sent = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 释放 Sender，可重复调用
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.c.release()
}
