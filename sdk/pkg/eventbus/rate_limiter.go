package eventbus

import (
	"context"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter 发布限速器，RatePerSecond <= 0 时不限速
type RateLimiter struct {
	limiter   *rate.Limiter
	burstSize int
	rateLimit rate.Limit
	enabled   bool
	logger    *zap.Logger
}

// RateLimitConfig 流量控制配置
type RateLimitConfig struct {
	RatePerSecond float64 // 每秒允许发布的消息数
	BurstSize     int     // 突发容量，<= 0 时取 1
}

// NewRateLimiter 创建流量控制器
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RatePerSecond <= 0 {
		return &RateLimiter{
			enabled: false,
			logger:  logger.Logger,
		}
	}

	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	rateLimit := rate.Limit(config.RatePerSecond)

	return &RateLimiter{
		limiter:   rate.NewLimiter(rateLimit, burst),
		burstSize: burst,
		rateLimit: rateLimit,
		enabled:   true,
		logger:    logger.Logger,
	}
}

// Wait 等待令牌；ctx 结束或令牌在截止时间前拿不到时返回错误
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if !rl.enabled {
		return nil
	}

	start := time.Now()
	if err := rl.limiter.Wait(ctx); err != nil {
		return err
	}

	if waitTime := time.Since(start); waitTime > time.Second {
		rl.logger.Debug("Rate limiter caused significant delay",
			zap.Duration("waitTime", waitTime),
			zap.Float64("rateLimit", float64(rl.rateLimit)),
			zap.Int("burstSize", rl.burstSize))
	}
	return nil
}

// Enabled 是否启用限速
func (rl *RateLimiter) Enabled() bool {
	return rl.enabled
}
