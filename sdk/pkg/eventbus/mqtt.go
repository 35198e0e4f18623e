package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// mqttEventBus MQTT 事件总线，key expression 直接作为 MQTT topic
// paho 每个 filter 只保留一个回调，同一 filter 的多个订阅者登记在 routes 里，
// 向 broker 只 SUBSCRIBE 一次，最后一个订阅者退出时才 UNSUBSCRIBE
type mqttEventBus struct {
	client   mqtt.Client
	qos      byte
	timeout  time.Duration
	clientID string
	logger   *zap.Logger
	closed   atomic.Bool

	subMu  sync.Mutex // 串行化 broker 端的 SUBSCRIBE/UNSUBSCRIBE
	mu     sync.RWMutex
	routes map[string]*mqttRoute
}

type mqttRoute struct {
	handlers map[*mqttHandler]struct{}
}

type mqttHandler struct {
	ctx     context.Context
	pattern string
	handle  MessageHandler
}

// NewMQTTEventBus 创建MQTT事件总线，locators 非空时覆盖 cfg.Brokers
func NewMQTTEventBus(cfg *config.MQTTConfig, clientID string, locators []string) (EventBus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config cannot be nil")
	}

	brokers := cfg.Brokers
	if len(locators) > 0 {
		var err error
		if brokers, err = locatorURLs(locators, defaultMQTTScheme); err != nil {
			return nil, err
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("mqtt brokers cannot be empty")
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	opts := mqtt.NewClientOptions()
	for _, broker := range brokers {
		opts.AddBroker(broker)
	}
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(30 * time.Second)
	// 同一订阅的回调按到达顺序串行执行
	opts.SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	log := logger.Named("eventbus.mqtt")
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost", zap.String("clientId", clientID), zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if err := waitToken(context.Background(), client.Connect(), timeout); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	log.Info("MQTT EventBus connected",
		zap.Strings("brokers", brokers),
		zap.String("clientId", clientID),
		zap.Uint8("qos", cfg.QoS))

	return newMQTTEventBusFromClient(client, cfg.QoS, timeout, clientID), nil
}

func newMQTTEventBusFromClient(client mqtt.Client, qos byte, timeout time.Duration, clientID string) *mqttEventBus {
	return &mqttEventBus{
		client:   client,
		qos:      qos,
		timeout:  timeout,
		clientID: clientID,
		logger:   logger.Named("eventbus.mqtt"),
		routes:   make(map[string]*mqttRoute),
	}
}

// waitToken 等待 paho 的异步操作完成
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish 发布消息
func (m *mqttEventBus) Publish(ctx context.Context, keyExpr string, payload []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ValidatePublishKeyExpr(keyExpr); err != nil {
		return err
	}

	if err := waitToken(ctx, m.client.Publish(keyExpr, m.qos, false, payload), m.timeout); err != nil {
		return fmt.Errorf("failed to publish to mqtt topic %s: %w", keyExpr, err)
	}
	return nil
}

// Subscribe 订阅消息，filter 首次出现时等待 SUBACK 后返回
func (m *mqttEventBus) Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if m.closed.Load() {
		return nil, ErrClosed
	}

	filter := toMQTTFilter(pattern)
	h := &mqttHandler{ctx: ctx, pattern: pattern, handle: handler}

	m.subMu.Lock()
	m.mu.Lock()
	route, exists := m.routes[filter]
	if !exists {
		route = &mqttRoute{handlers: make(map[*mqttHandler]struct{})}
		m.routes[filter] = route
	}
	route.handlers[h] = struct{}{}
	m.mu.Unlock()

	if !exists {
		if err := waitToken(ctx, m.client.Subscribe(filter, m.qos, m.dispatch(filter)), DefaultSubscribeReadyTimeout); err != nil {
			m.mu.Lock()
			delete(m.routes, filter)
			m.mu.Unlock()
			m.subMu.Unlock()
			return nil, fmt.Errorf("failed to subscribe to mqtt filter %s: %w", filter, err)
		}
	}
	m.subMu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() { _ = m.removeHandler(filter, h) })
	m.logger.Debug("Subscribed to MQTT filter",
		zap.String("filter", filter),
		zap.String("pattern", pattern),
		zap.Bool("shared", exists))

	return subscriptionFunc(func() error {
		stopWatch()
		if err := m.removeHandler(filter, h); err != nil {
			return fmt.Errorf("failed to unsubscribe mqtt filter %s: %w", filter, err)
		}
		return nil
	}), nil
}

// dispatch filter 的 paho 回调，把消息交给登记在该 filter 下且 pattern 匹配的每个订阅者
func (m *mqttEventBus) dispatch(filter string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		keyExpr := msg.Topic()
		receivedAt := time.Now()

		m.mu.RLock()
		route := m.routes[filter]
		var handlers []*mqttHandler
		if route != nil {
			handlers = make([]*mqttHandler, 0, len(route.handlers))
			for h := range route.handlers {
				handlers = append(handlers, h)
			}
		}
		m.mu.RUnlock()

		for _, h := range handlers {
			if !MatchKeyExpr(h.pattern, keyExpr) {
				continue
			}
			sample := &Sample{KeyExpr: keyExpr, Payload: msg.Payload(), ReceivedAt: receivedAt}
			if err := h.handle(h.ctx, sample); err != nil {
				m.logger.Debug("MQTT handler failed", zap.String("topic", keyExpr), zap.Error(err))
			}
		}
	}
}

// removeHandler 注销一个订阅者，可重复调用；filter 下没有订阅者时向 broker 退订
func (m *mqttEventBus) removeHandler(filter string, h *mqttHandler) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.mu.Lock()
	route := m.routes[filter]
	if route == nil {
		m.mu.Unlock()
		return nil
	}
	if _, ok := route.handlers[h]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(route.handlers, h)
	last := len(route.handlers) == 0
	if last {
		delete(m.routes, filter)
	}
	m.mu.Unlock()

	if !last || m.closed.Load() || !m.client.IsConnectionOpen() {
		return nil
	}
	return waitToken(context.Background(), m.client.Unsubscribe(filter), m.timeout)
}

// HealthCheck 健康检查
func (m *mqttEventBus) HealthCheck(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt connection is not open")
	}
	return nil
}

// Close 断开连接
func (m *mqttEventBus) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.client.Disconnect(DefaultMQTTDisconnectQuiesce)
	m.logger.Debug("MQTT EventBus closed", zap.String("clientId", m.clientID))
	return nil
}
