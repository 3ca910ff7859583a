package wire

import (
	"bytes"

	"github.com/lk2023060901/session-garden-go/internal/json"
	"github.com/lk2023060901/session-garden-go/pkg/util/merr"
)

// 帧类型常量。
//
// 持久连接上的每一条消息都是一个以 type 字段区分的 JSON 对象。
// 入站：connection_id / data / error / pong；出站：ping / get。
const (
	TypeConnectionID = "connection_id"
	TypeData         = "data"
	TypeError        = "error"
	TypePong         = "pong"
	TypePing         = "ping"
	TypeGet          = "get"
)

// InvalidTokenSentinel 为服务器在 data 帧中用于表示凭证失效的哨兵值。
// 收到该值等价于收到一次会话失效通知。
const InvalidTokenSentinel = "Invalid token"

// Envelope 表示持久连接上的一帧。
//
// 不同帧类型只使用其中的部分字段：
//   - connection_id：ID；
//   - data         ：Data（用户记录，或哨兵字符串）；
//   - error        ：Error；
//   - pong         ：ConnectionID、Latency、ServerTime。
type Envelope struct {
	Type string `json:"type"`

	ID string `json:"id,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`

	Error string `json:"error,omitempty"`

	ConnectionID string   `json:"connection_id,omitempty"`
	Latency      *float64 `json:"latency,omitempty"`
	ServerTime   int64    `json:"server_time,omitempty"`
}

// Decode 将一帧原始字节解码为 Envelope。
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, merr.WrapErrFrameDecode(err)
	}
	return env, nil
}

// Encode 将 Envelope 编码为待发送的字节序列。
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, merr.WrapErrFrameEncode(err)
	}
	return data, nil
}

// Ping 构造一个出站心跳帧。
func Ping() *Envelope {
	return &Envelope{Type: TypePing}
}

// Get 构造一个出站用户数据请求帧。
func Get() *Envelope {
	return &Envelope{Type: TypeGet}
}

// IsInvalidTokenSentinel 判断 data 帧的载荷是否为凭证失效哨兵。
// 哨兵为精确匹配的 JSON 字符串，大小写敏感。
func IsInvalidTokenSentinel(data json.RawMessage) bool {
	if len(data) == 0 {
		return false
	}

	trimmed := bytes.TrimSpace(data)
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return false
	}
	return s == InvalidTokenSentinel
}
