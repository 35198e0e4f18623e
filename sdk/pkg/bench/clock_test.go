package bench

import (
	"context"
	"testing"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
	"github.com/stretchr/testify/assert"
)

func TestUntilDeadline(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Second, untilDeadline(now, now.Add(time.Second)))
	assert.Equal(t, time.Duration(0), untilDeadline(now, now.Add(-time.Second)))
	assert.Equal(t, time.Duration(0), untilDeadline(now, now))
}

func TestSleepUntil(t *testing.T) {
	start := time.Now()
	assert.NoError(t, sleepUntil(context.Background(), start.Add(-time.Hour)))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.NoError(t, sleepUntil(context.Background(), time.Now().Add(20*time.Millisecond)))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepUntil(ctx, time.Now().Add(time.Hour)), context.Canceled)
}

func TestCollectSamples_StopsAtCount(t *testing.T) {
	stream := make(chan *eventbus.Sample, 10)
	for i := 0; i < 10; i++ {
		stream <- &eventbus.Sample{}
	}

	samples := collectSamples(context.Background(), stream, 3, time.Now().Add(time.Hour))
	assert.Len(t, samples, 3)
	assert.Len(t, stream, 7)
}

func TestCollectSamples_PastDeadlineReturnsPromptly(t *testing.T) {
	stream := make(chan *eventbus.Sample)

	start := time.Now()
	samples := collectSamples(context.Background(), stream, 10, time.Now().Add(-time.Second))
	assert.Empty(t, samples)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestCollectSamples_ZeroExpected(t *testing.T) {
	stream := make(chan *eventbus.Sample, 1)
	stream <- &eventbus.Sample{}
	assert.Nil(t, collectSamples(context.Background(), stream, 0, time.Now().Add(time.Hour)))
}

func TestCollectSamples_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := make(chan *eventbus.Sample, 1)
	stream <- &eventbus.Sample{}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	samples := collectSamples(ctx, stream, 5, time.Now().Add(time.Hour))
	assert.Len(t, samples, 1)
}
