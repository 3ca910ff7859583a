package session

import (
	"fmt"

	"github.com/lk2023060901/session-garden-go/internal/json"
	"github.com/lk2023060901/session-garden-go/pkg/util/merr"
)

// User 表示服务器下发的用户记录。
//
// 记录内容对本层透明，仅透出两个被会话层关心的字段：
// 标识与头像地址。其余字段原样保留在 Raw 中供上层使用。
type User struct {
	raw       json.RawMessage
	id        string
	avatarURL string
}

// UserFromRaw 从服务器返回的原始 JSON 构造 User。
// raw 必须是一个 JSON 对象。
func UserFromRaw(raw json.RawMessage) (*User, error) {
	var probe struct {
		ID        any    `json:"id"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, merr.WrapErrFrameDecode(err, "user record")
	}

	u := &User{
		raw:       append(json.RawMessage(nil), raw...),
		avatarURL: probe.AvatarURL,
	}
	// 服务器侧的 id 可能是字符串或数字，统一规整为字符串。
	if probe.ID != nil {
		u.id = fmt.Sprint(probe.ID)
	}
	return u, nil
}

// Raw 返回服务器下发的原始记录。
func (u *User) Raw() json.RawMessage { return u.raw }

// ID 返回用户标识，记录中缺失时为空串。
func (u *User) ID() string { return u.id }

// AvatarURL 返回头像地址，记录中缺失时为空串。
func (u *User) AvatarURL() string { return u.avatarURL }

func (u *User) MarshalJSON() ([]byte, error) {
	if len(u.raw) == 0 {
		return []byte("null"), nil
	}
	return u.raw, nil
}

func (u *User) UnmarshalJSON(data []byte) error {
	parsed, err := UserFromRaw(data)
	if err != nil {
		return err
	}
	*u = *parsed
	return nil
}
