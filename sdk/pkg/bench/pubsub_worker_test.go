package bench

import (
	"context"
	"testing"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPubSubWorker_ReceivesOwnMessages 节点订阅的通配符覆盖自己发布的 key expression
func TestPubSubWorker_ReceivesOwnMessages(t *testing.T) {
	sender, rx := newTestSender(t, 9)
	start := time.Now().Add(100 * time.Millisecond)
	w := &PubSubWorker{
		Opener:           memoryOpener(),
		PeerID:           9,
		StartUntil:       start,
		Timeout:          start.Add(5 * time.Second),
		MessageCount:     20,
		Payload:          make([]byte, 8),
		PublishKeyExpr:   config.DefaultKeyExpr,
		SubscribeKeyExpr: config.DefaultSubscribeKeyExpr,
		ExpectedCount:    20,
		Sender:           sender,
	}

	require.NoError(t, w.Run(context.Background()))
	items := drain(rx)
	require.Len(t, items, 1)
	assert.Equal(t, 9, items[0].PeerID)
	assert.Len(t, items[0].Samples, 20)
}

// TestPubSubWorker_ClosesSessionOnFailure 发布失败时整体失败，连接照样关闭，订阅端照常上报
func TestPubSubWorker_ClosesSessionOnFailure(t *testing.T) {
	opener := &recordingOpener{publishErr: errFake}
	sender, rx := newTestSender(t, 1)
	start := time.Now().Add(20 * time.Millisecond)
	w := &PubSubWorker{
		Opener:           opener.open,
		StartUntil:       start,
		Timeout:          start.Add(30 * time.Millisecond),
		MessageCount:     1,
		PublishKeyExpr:   config.DefaultKeyExpr,
		SubscribeKeyExpr: config.DefaultSubscribeKeyExpr,
		ExpectedCount:    1,
		Sender:           sender,
		MultiPeer:        true,
		Locators:         []string{"localhost:1883"},
	}

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, errFake)
	require.Len(t, opener.buses, 1)
	assert.Equal(t, int32(1), opener.buses[0].closes.Load())
	assert.Equal(t, [][]string{{"localhost:1883"}}, opener.locators)
	assert.Len(t, drain(rx), 1)
}

func TestPubSubWorker_OpenFailureReleasesSender(t *testing.T) {
	opener := &recordingOpener{err: errFake}
	sender, rx := newTestSender(t, 1)
	w := &PubSubWorker{
		Opener:           opener.open,
		StartUntil:       time.Now().Add(time.Hour),
		Timeout:          time.Now().Add(2 * time.Hour),
		PublishKeyExpr:   config.DefaultKeyExpr,
		SubscribeKeyExpr: config.DefaultSubscribeKeyExpr,
		Sender:           sender,
	}

	assert.ErrorIs(t, w.Run(context.Background()), errFake)
	assert.Empty(t, drain(rx))
	assert.Equal(t, [][]string{nil}, opener.locators)
}
