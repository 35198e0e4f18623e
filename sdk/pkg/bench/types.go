package bench

import (
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
)

// Role 节点角色
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
	RolePubSub     Role = "pubsub"
)

// PeerSamples 一个订阅端上报的 (peer_id, 收到的消息) 对
type PeerSamples struct {
	PeerID  int
	Samples []*eventbus.Sample
}

// PeerResult 单个节点的统计结果
// ReceiveRate 在期望消息数为 0 时无定义，序列化为 null
type PeerResult struct {
	PeerID         int      `json:"peer_id"`
	ReceiveRate    *float64 `json:"receive_rate"`
	RecvdMsgNum    int      `json:"recvd_msg_num"`
	ExpectedMsgNum int      `json:"expected_msg_num"`
	Overflow       bool     `json:"overflow,omitempty"` // 收到的消息多于期望（重复投递等）
}

// RunConfig 写入报告的运行配置
type RunConfig struct {
	Transport string `json:"transport"`
	config.BenchConfig
}

// TestResult 一次压测的最终报告，只写一次
type TestResult struct {
	Config           RunConfig    `json:"config"`
	TotalSubReturned int          `json:"total_sub_returned"`
	TotalReceiveRate *float64     `json:"total_receive_rate"` // 没有节点上报时为 null
	PerPeerResult    []PeerResult `json:"per_peer_result"`

	RunID           string           `json:"run_id,omitempty"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
	WorkerFailures  []WorkerOutcome  `json:"worker_failures,omitempty"`
	ResourceSamples []ResourceSample `json:"resource_samples,omitempty"`
}

// WorkerOutcome 一个 worker 的结束状态
type WorkerOutcome struct {
	PeerID int    `json:"peer_id"`
	Role   Role   `json:"role"`
	Error  string `json:"error,omitempty"`
	Err    error  `json:"-"`
}

// Failed 是否失败
func (o WorkerOutcome) Failed() bool {
	return o.Err != nil
}

// ResourceSample 一次资源采样
type ResourceSample struct {
	At         time.Time `json:"at"`
	Goroutines int       `json:"goroutines"`
	HeapMB     float64   `json:"heap_mb"`
	CPUSeconds float64   `json:"cpu_seconds"`
}
