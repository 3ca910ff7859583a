package session

import (
	"os"
	"path/filepath"
	"time"
)

// 存储镜像与凭证记录使用的键名。
const (
	storageKeyUser   = "current_user"
	storageKeyUserID = "current_user_id"
	storageKeyAvatar = "current_user_avatar"

	cookieNameToken        = "session_token"
	cookieNameConnectionID = "connection_id"

	// cookieTTL 为凭证记录的保存期限。
	cookieTTL = 30 * 24 * time.Hour
)

// Config 描述会话管理器的全部可调参数。
type Config struct {
	// Endpoint 为持久连接的 ws(s) 地址。
	Endpoint string `mapstructure:"endpoint"`
	// APIBaseURL 为认证服务 REST 接口的基础地址。
	APIBaseURL string `mapstructure:"api-base-url"`

	// StateDir 为本地状态目录，空串表示仅使用内存状态。
	StateDir string `mapstructure:"state-dir"`

	// PingInterval 为心跳间隔。
	PingInterval time.Duration `mapstructure:"ping-interval"`

	// ReconnectBaseDelay 为重连退避的基础延迟，第 n 次重试等待
	// base * 2^(n-1)。
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect-base-delay"`
	// MaxReconnectAttempts 为自动重连的最大次数，超过后停止重试。
	MaxReconnectAttempts uint `mapstructure:"max-reconnect-attempts"`

	// LoginTimeout 为登录等待服务器确认的最长时间。
	LoginTimeout time.Duration `mapstructure:"login-timeout"`
	// InvalidateTimeout 为废弃旧令牌请求的超时。
	InvalidateTimeout time.Duration `mapstructure:"invalidate-timeout"`
	// RevalidateCooldown 为两次主动校验之间的最小间隔。
	RevalidateCooldown time.Duration `mapstructure:"revalidate-cooldown"`

	// DialTimeout 为单次建连超时。
	DialTimeout time.Duration `mapstructure:"dial-timeout"`
}

// DefaultConfig 返回带默认值的配置。
func DefaultConfig() Config {
	return Config{
		StateDir:             defaultStateDir(),
		PingInterval:         30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 5,
		LoginTimeout:         10 * time.Second,
		InvalidateTimeout:    3 * time.Second,
		RevalidateCooldown:   30 * time.Second,
		DialTimeout:          10 * time.Second,
	}
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = def.LoginTimeout
	}
	if c.InvalidateTimeout <= 0 {
		c.InvalidateTimeout = def.InvalidateTimeout
	}
	if c.RevalidateCooldown <= 0 {
		c.RevalidateCooldown = def.RevalidateCooldown
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "session-garden")
	}
	return ""
}
