package json

import (
	jsoniter "github.com/json-iterator/go"
)

// JSON 统一的 jsoniter 配置实例
// 使用 ConfigCompatibleWithStandardLibrary 确保与标准库完全兼容（字段顺序、转义、HTML 安全）
//
// 报告文件、xlsx 导出前的 config 回显等所有需要 JSON 序列化的地方都应该使用这个实例
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal 序列化对象为 JSON 字节数组
func Marshal(v interface{}) ([]byte, error) {
	return JSON.Marshal(v)
}

// MarshalIndent 序列化为带缩进的 JSON，报告文件使用两个空格缩进，便于人工查看
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return JSON.MarshalIndent(v, prefix, indent)
}

// Unmarshal 从 JSON 字节数组反序列化对象
func Unmarshal(data []byte, v interface{}) error {
	return JSON.Unmarshal(data, v)
}

// RawMessage jsoniter 兼容的 RawMessage 类型
type RawMessage = jsoniter.RawMessage
