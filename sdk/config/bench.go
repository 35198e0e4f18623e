package config

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	// DefaultKeyExpr 发布端使用的 key expression
	DefaultKeyExpr = "/demo/example/hello"
	// DefaultSubscribeKeyExpr 订阅端使用的通配 key expression
	DefaultSubscribeKeyExpr = "/demo/example/**"
)

// BenchConfig 压测参数，运行结束后原样写入报告的 config 字段
type BenchConfig struct {
	Publishers           int `mapstructure:"publishers" json:"publishers" validate:"gte=0"`                     // 纯发布者数量
	Subscribers          int `mapstructure:"subscribers" json:"subscribers" validate:"gte=0"`                   // 纯订阅者数量
	PubSubPeers          int `mapstructure:"pubSubPeers" json:"pub_sub_peers" validate:"gte=0"`                 // 既发布又订阅的节点数量
	AdditionalPublishers int `mapstructure:"additionalPublishers" json:"additional_publishers" validate:"gte=0"` // 其他进程/主机上的发布者数量，只参与期望消息数计算
	MessagesPerPeer      int `mapstructure:"messagesPerPeer" json:"messages_per_peer" validate:"gte=0"`
	PayloadSize          int `mapstructure:"payloadSize" json:"payload_size" validate:"gte=0"`
	PeerIDOffset         int `mapstructure:"peerIdOffset" json:"peer_id_offset" validate:"gte=0"`

	InitTime     time.Duration `mapstructure:"initTime" json:"init_time"`         // 从启动到统一开始时刻的准备时间
	RoundTimeout time.Duration `mapstructure:"roundTimeout" json:"round_timeout"` // 从统一开始时刻起算的截止时长

	MultiPeer bool     `mapstructure:"multiPeer" json:"multipeer_mode"` // 每个 worker 独立建立连接
	Locators  []string `mapstructure:"-" json:"locators,omitempty"`     // 多节点模式下的对端地址，由 Load 解析

	KeyExpr          string `mapstructure:"keyExpr" json:"key_expr" validate:"required"`
	SubscribeKeyExpr string `mapstructure:"subscribeKeyExpr" json:"subscribe_key_expr" validate:"required"`

	PublishRate            float64       `mapstructure:"publishRate" json:"publish_rate,omitempty" validate:"gte=0"` // 每个发布者每秒消息数，0 表示不限速
	StreamBuffer           int           `mapstructure:"streamBuffer" json:"-" validate:"gte=0"`
	ResourceSampleInterval time.Duration `mapstructure:"resourceSampleInterval" json:"resource_sample_interval,omitempty"`
}

var BenchSettings = new(BenchConfig)

// TotalPublishers 参与期望消息数计算的本地发布者数量（含 pub+sub 节点）
func (b *BenchConfig) TotalPublishers() int {
	return b.Publishers + b.PubSubPeers
}

// TotalSubscribers 会上报结果的订阅者数量（含 pub+sub 节点）
func (b *BenchConfig) TotalSubscribers() int {
	return b.Subscribers + b.PubSubPeers
}

// ReportConfig 报告输出配置
type ReportConfig struct {
	OutputDir string   `mapstructure:"outputDir" json:"outputDir"`
	XLSX      bool     `mapstructure:"xlsx" json:"xlsx"` // 额外生成 xlsx 表格
	S3        S3Config `mapstructure:"s3" json:"s3"`
}

// S3Config 报告上传配置，Bucket 为空时不上传
type S3Config struct {
	Bucket string `mapstructure:"bucket" json:"bucket,omitempty"`
	Region string `mapstructure:"region" json:"region,omitempty"`
	Prefix string `mapstructure:"prefix" json:"prefix,omitempty"`
}

// Enabled 是否启用上传
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

var ReportSettings = new(ReportConfig)

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Listen    string `mapstructure:"listen" json:"listen,omitempty"` // 例如 :9090，为空时不启动 HTTP 服务
	Namespace string `mapstructure:"namespace" json:"namespace"`
}

var MetricsSettings = new(MetricsConfig)

// NormalizeLocators 把逗号分隔字符串或列表统一成去空白、去空项的定位器列表
func NormalizeLocators(v interface{}) ([]string, error) {
	if v == nil {
		return nil, nil
	}

	var raw []string
	if s, ok := v.(string); ok {
		raw = strings.Split(s, ",")
	} else {
		list, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, err
		}
		for _, item := range list {
			raw = append(raw, strings.Split(item, ",")...)
		}
	}

	locators := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		locators = append(locators, item)
	}
	if len(locators) == 0 {
		return nil, nil
	}
	return locators, nil
}
