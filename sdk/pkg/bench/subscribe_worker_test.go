package bench

import (
	"context"
	"testing"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, peerID int) (*Sender, <-chan PeerSamples) {
	t.Helper()
	c := NewSampleChannel(1)
	s, err := c.NewSender(peerID)
	require.NoError(t, err)
	return s, c.Receiver()
}

// TestSubscribeWorker_LateStartReportsEmpty 错过开始时刻时不订阅，直接上报空结果
func TestSubscribeWorker_LateStartReportsEmpty(t *testing.T) {
	bus := newFakeBus()
	sender, rx := newTestSender(t, 4)
	w := &SubscribeWorker{
		Bus:           bus,
		PeerID:        4,
		StartUntil:    time.Now().Add(-time.Second),
		Timeout:       time.Now().Add(time.Second),
		Sender:        sender,
		ExpectedCount: 10,
		KeyExpr:       config.DefaultSubscribeKeyExpr,
	}

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, int32(0), bus.subscribeCalls.Load())

	items := drain(rx)
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].PeerID)
	assert.Empty(t, items[0].Samples)
}

func TestSubscribeWorker_StopsAtExpectedCount(t *testing.T) {
	bus := newFakeBus()
	sender, rx := newTestSender(t, 1)
	w := &SubscribeWorker{
		Bus:           bus,
		PeerID:        1,
		StartUntil:    time.Now().Add(time.Hour),
		Timeout:       time.Now().Add(2 * time.Hour),
		Sender:        sender,
		ExpectedCount: 3,
		KeyExpr:       config.DefaultSubscribeKeyExpr,
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case <-bus.subscribed:
	case <-time.After(time.Second):
		t.Fatal("subscriber did not subscribe")
	}
	bus.deliver(10)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop at the expected count")
	}

	items := drain(rx)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Samples, 3)
}

func TestSubscribeWorker_DeadlineReturnsPartial(t *testing.T) {
	bus := newFakeBus()
	sender, rx := newTestSender(t, 2)
	start := time.Now().Add(20 * time.Millisecond)
	w := &SubscribeWorker{
		Bus:           bus,
		PeerID:        2,
		StartUntil:    start,
		Timeout:       start.Add(30 * time.Millisecond),
		Sender:        sender,
		ExpectedCount: 100,
		KeyExpr:       config.DefaultSubscribeKeyExpr,
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	<-bus.subscribed
	bus.deliver(2)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscriber ignored the deadline")
	}
	items := drain(rx)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Samples, 2)
}

// TestSubscribeWorker_SubscribeFailureReleasesSender 失败时不上报，但通道仍会关闭
func TestSubscribeWorker_SubscribeFailureReleasesSender(t *testing.T) {
	bus := newFakeBus()
	bus.subscribeErr = errFake
	sender, rx := newTestSender(t, 1)
	w := &SubscribeWorker{
		Bus:           bus,
		StartUntil:    time.Now().Add(time.Hour),
		Timeout:       time.Now().Add(2 * time.Hour),
		Sender:        sender,
		ExpectedCount: 1,
		KeyExpr:       config.DefaultSubscribeKeyExpr,
	}

	assert.ErrorIs(t, w.Run(context.Background()), errFake)
	assert.Empty(t, drain(rx))
}

func TestSubscribeWorker_MultiPeerClosesPrivateSession(t *testing.T) {
	opener := &recordingOpener{}
	sender, rx := newTestSender(t, 1)
	start := time.Now().Add(20 * time.Millisecond)
	w := &SubscribeWorker{
		Opener:        opener.open,
		StartUntil:    start,
		Timeout:       start.Add(20 * time.Millisecond),
		Sender:        sender,
		ExpectedCount: 1,
		KeyExpr:       config.DefaultSubscribeKeyExpr,
		MultiPeer:     true,
		Locators:      []string{"localhost:4222"},
	}

	require.NoError(t, w.Run(context.Background()))
	require.Len(t, opener.buses, 1)
	assert.Equal(t, int32(1), opener.buses[0].closes.Load())
	assert.Len(t, drain(rx), 1)
}
