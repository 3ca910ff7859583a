package json

import (
	"io"

	"github.com/bytedance/sonic"
)

// 本包基于 bytedance/sonic 提供与标准库兼容的 JSON 接口。
// 仓库内所有 JSON 编解码统一经过本包，便于后续整体替换实现。

var api = sonic.ConfigStd

// RawMessage 与标准库 json.RawMessage 语义一致。
type RawMessage []byte

// MarshalJSON 返回原始字节本身。
func (m RawMessage) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return m, nil
}

// UnmarshalJSON 将数据拷贝到自身。
func (m *RawMessage) UnmarshalJSON(data []byte) error {
	*m = append((*m)[0:0], data...)
	return nil
}

// Marshal 将对象编码为 JSON 字节序列。
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal 将 JSON 字节序列解码到目标对象。
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// NewDecoder 创建一个从 r 读取的流式解码器。
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}

// NewEncoder 创建一个写入 w 的流式编码器。
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}
