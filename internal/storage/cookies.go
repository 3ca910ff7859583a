package storage

import (
	"time"
)

// Cookie 是一条持久化的凭证记录，字段语义对齐常见的会话 Cookie 属性。
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path"`
	SameSite string `json:"same_site"`
	// ExpiresAt 为 Unix 秒级过期时间戳，0 表示永不过期。
	ExpiresAt int64 `json:"expires_at"`
}

const (
	cookieKeyPrefix = "cookie:"

	defaultCookiePath     = "/"
	defaultCookieSameSite = "lax"
)

// Jar 在 Storage 之上维护命名凭证记录，读取时惰性清理过期项。
//
// 与 Storage 一致，Jar 的操作永不失败。
type Jar struct {
	store *Storage
	now   func() time.Time
}

func NewJar(store *Storage) *Jar {
	return &Jar{
		store: store,
		now:   time.Now,
	}
}

// Set 写入一条凭证记录，ttl <= 0 表示永不过期。
func (j *Jar) Set(name, value string, ttl time.Duration) bool {
	c := Cookie{
		Name:     name,
		Value:    value,
		Path:     defaultCookiePath,
		SameSite: defaultCookieSameSite,
	}
	if ttl > 0 {
		c.ExpiresAt = j.now().Add(ttl).Unix()
	}
	return j.store.SetJSON(cookieKeyPrefix+name, &c)
}

// Get 读取凭证值。记录不存在或已过期时返回 ("", false)，
// 过期记录会被顺带删除。
func (j *Jar) Get(name string) (string, bool) {
	var c Cookie
	if !j.store.GetJSON(cookieKeyPrefix+name, &c) {
		return "", false
	}
	if c.ExpiresAt > 0 && !j.now().Before(time.Unix(c.ExpiresAt, 0)) {
		j.store.Remove(cookieKeyPrefix + name)
		return "", false
	}
	return c.Value, true
}

// Delete 删除凭证记录，记录不存在时也视为成功。
func (j *Jar) Delete(name string) bool {
	return j.store.Remove(cookieKeyPrefix + name)
}
