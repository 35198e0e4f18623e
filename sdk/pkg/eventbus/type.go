package eventbus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed 连接已关闭
	ErrClosed = errors.New("eventbus is closed")
	// ErrNilHandler 订阅时未提供处理器
	ErrNilHandler = errors.New("handler cannot be nil")
	// ErrUnsupportedType 不支持的事件总线类型
	ErrUnsupportedType = errors.New("unsupported eventbus type")
)

// Sample 一条收到的消息
type Sample struct {
	KeyExpr    string    // 消息实际发布到的 key expression
	Payload    []byte    // 消息内容
	ReceivedAt time.Time // 订阅端收到消息的时间
}

// MessageHandler 消息处理器函数类型
// 同一个订阅上的 handler 按收到顺序串行调用
type MessageHandler func(ctx context.Context, sample *Sample) error

// Subscription 一次订阅，Unsubscribe 后不会再调用 handler
type Subscription interface {
	Unsubscribe() error
}

// EventBus 消息中间件能力接口（压测核心只依赖这几个方法）
type EventBus interface {
	// 发布消息到指定 key expression
	Publish(ctx context.Context, keyExpr string, payload []byte) error

	// 订阅匹配 pattern 的消息，pattern 支持 * 与 ** 通配
	Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error)

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// Opener 建立一个新的连接；locators 非空时覆盖配置中的服务端地址（多节点模式）
type Opener func(ctx context.Context, locators []string) (EventBus, error)

// subscriptionFunc 把普通函数适配为 Subscription
type subscriptionFunc func() error

func (f subscriptionFunc) Unsubscribe() error {
	return f()
}
