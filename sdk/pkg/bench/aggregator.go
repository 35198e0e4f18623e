package bench

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"go.uber.org/zap"
)

// Aggregator 汇总阶段：等待所有订阅端上报，计算接收率并写报告
type Aggregator struct {
	Receiver <-chan PeerSamples

	TotalPublishers      int // 本地发布者总数（含 pub+sub 节点）
	AdditionalPublishers int
	TotalSubscribers     int // 预期上报的节点数（含 pub+sub 节点），只用于日志和文件名
	MessagesPerPeer      int
	PayloadSize          int
	RoundTimeout         time.Duration
	Config               RunConfig

	Writer *ReportWriter
}

// ExpectedMessages 每个订阅端期望收到的消息数
func ExpectedMessages(totalPublishers, additionalPublishers, messagesPerPeer int) int {
	return (totalPublishers + additionalPublishers) * messagesPerPeer
}

// ReportFileName 同样的参数总是得到同样的文件名，重复运行覆盖而不是追加
// round_timeout 以毫秒表示
func ReportFileName(publishers, subscribers, messagesPerPeer, payloadSize int, roundTimeout time.Duration) string {
	return fmt.Sprintf("%d-%d-%d-%d-%d.json",
		publishers, subscribers, messagesPerPeer, payloadSize, roundTimeout.Milliseconds())
}

// FileName 本次运行的报告文件名
func (a *Aggregator) FileName() string {
	return ReportFileName(a.TotalPublishers, a.TotalSubscribers, a.MessagesPerPeer, a.PayloadSize, a.RoundTimeout)
}

// Collect 读取直到通道关闭，即所有会上报的节点都已上报
func (a *Aggregator) Collect(ctx context.Context) ([]PeerSamples, error) {
	var collected []PeerSamples
	for {
		select {
		case item, ok := <-a.Receiver:
			if !ok {
				return collected, nil
			}
			collected = append(collected, item)
		case <-ctx.Done():
			return collected, fmt.Errorf("collect samples: %w", ctx.Err())
		}
	}
}

// Aggregate 收集并计算，不落盘
func (a *Aggregator) Aggregate(ctx context.Context) (*TestResult, error) {
	collected, err := a.Collect(ctx)
	if err != nil {
		return nil, err
	}
	expected := ExpectedMessages(a.TotalPublishers, a.AdditionalPublishers, a.MessagesPerPeer)
	return Summarize(collected, expected, a.Config), nil
}

// Run 收集、计算并写报告，返回报告路径
func (a *Aggregator) Run(ctx context.Context) (*TestResult, string, error) {
	result, err := a.Aggregate(ctx)
	if err != nil {
		return nil, "", err
	}
	path, err := a.Persist(ctx, result)
	if err != nil {
		return result, "", err
	}
	return result, path, nil
}

// Persist 写报告
func (a *Aggregator) Persist(ctx context.Context, result *TestResult) (string, error) {
	writer := a.Writer
	if writer == nil {
		writer = &ReportWriter{}
	}
	return writer.Write(ctx, a.FileName(), result)
}

// Summarize 按 peer_id 升序（稳定排序）计算每个节点和全局的接收率
// 期望数为 0 或没有节点上报时接收率无定义（nil）；收到多于期望的消息时保留原值并标记 overflow
func Summarize(collected []PeerSamples, expected int, cfg RunConfig) *TestResult {
	log := logger.Named("bench.aggregator")

	sorted := make([]PeerSamples, len(collected))
	copy(sorted, collected)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PeerID < sorted[j].PeerID
	})

	perPeer := make([]PeerResult, 0, len(sorted))
	totalRecvd := 0
	for _, item := range sorted {
		recvd := len(item.Samples)
		totalRecvd += recvd

		pr := PeerResult{
			PeerID:         item.PeerID,
			ReceiveRate:    ratio(recvd, expected),
			RecvdMsgNum:    recvd,
			ExpectedMsgNum: expected,
			Overflow:       recvd > expected,
		}
		if pr.Overflow {
			log.Warn("Peer received more messages than expected",
				zap.Int("peerId", pr.PeerID),
				zap.Int("received", recvd),
				zap.Int("expected", expected))
		}
		log.Info("Peer result",
			zap.Int("peerId", pr.PeerID),
			zap.Int("received", recvd),
			zap.Int("expected", expected))
		perPeer = append(perPeer, pr)
	}

	result := &TestResult{
		Config:           cfg,
		TotalSubReturned: len(perPeer),
		TotalReceiveRate: ratio(totalRecvd, len(perPeer)*expected),
		PerPeerResult:    perPeer,
	}

	fields := []zap.Field{
		zap.Int("peersReturned", result.TotalSubReturned),
		zap.Int("received", totalRecvd),
		zap.Int("expectedPerPeer", expected),
	}
	if result.TotalReceiveRate != nil {
		fields = append(fields, zap.Float64("totalReceiveRate", *result.TotalReceiveRate))
	} else {
		fields = append(fields, zap.String("totalReceiveRate", "undefined"))
	}
	log.Info("Aggregate result", fields...)
	return result
}

// ratio 分母为 0 时返回 nil
func ratio(num, den int) *float64 {
	if den <= 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}
