package bench

import (
	"context"
	"time"
)

// untilDeadline 距离截止时间的等待时长，已过期时为 0，不会出现负数
func untilDeadline(now, deadline time.Time) time.Duration {
	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// sleepUntil 挂起到 t；t 已过去时立即返回
func sleepUntil(ctx context.Context, t time.Time) error {
	d := untilDeadline(time.Now(), t)
	if d == 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
