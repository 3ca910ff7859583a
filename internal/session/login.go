package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/session-garden-go/internal/wire"
	"github.com/lk2023060901/session-garden-go/pkg/metrics"
	"github.com/lk2023060901/session-garden-go/pkg/util/conc"
	"github.com/lk2023060901/session-garden-go/pkg/util/merr"
)

// LoginResult 是一次登录尝试的最终结论。
type LoginResult struct {
	User *User
	Err  error
}

// Ok 报告登录是否成功。
func (r LoginResult) Ok() bool { return r.Err == nil }

// Login 以新令牌建立会话。
//
// 旧令牌（若存在且不同）在后台尽力废弃，不阻塞登录；
// 新令牌立即落地，而后重建连接并等待服务器通过 data 帧确认身份。
// 确认、拒绝、超时三种结局都会清晰地反映在返回值中；
// 超时与拒绝时本地不保留半登录状态。
func (m *Manager) Login(ctx context.Context, token string) LoginResult {
	if token == "" {
		return LoginResult{Err: merr.WrapErrTokenMissing("login")}
	}

	start := m.now()

	if old, ok := m.jar.Get(cookieNameToken); ok && old != token {
		m.invalidateTokenAsync(old)
	}
	m.jar.Set(cookieNameToken, token, cookieTTL)

	ch := make(chan *User, 1)
	m.mu.Lock()
	m.loginWaiters = append(m.loginWaiters, ch)
	m.mu.Unlock()

	m.Reconnect()
	m.bus.Publish(Event{Type: EventLogin})

	timer := time.NewTimer(m.cfg.LoginTimeout)
	defer timer.Stop()

	select {
	case u := <-ch:
		if u == nil {
			metrics.Logins.WithLabelValues("rejected").Inc()
			return LoginResult{Err: merr.WrapErrLoginRejected("credential rejected by server")}
		}
		metrics.Logins.WithLabelValues("success").Inc()
		metrics.LoginDuration.Observe(float64(m.now().Sub(start).Milliseconds()))
		return LoginResult{User: u}

	case <-timer.C:
		m.removeLoginWaiter(ch)
		// 超时不保留半登录状态：令牌、镜像与在途的握手一并作废，
		// 迟到的连接不会带着已清除的凭证发布用户。
		m.invalidate()
		metrics.Logins.WithLabelValues("timeout").Inc()
		return LoginResult{Err: merr.WrapErrLoginTimeout(m.cfg.LoginTimeout.String())}

	case <-ctx.Done():
		m.removeLoginWaiter(ch)
		metrics.Logins.WithLabelValues("aborted").Inc()
		return LoginResult{Err: ctx.Err()}
	}
}

func (m *Manager) removeLoginWaiter(ch chan *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.loginWaiters {
		if w == ch {
			m.loginWaiters = append(m.loginWaiters[:i], m.loginWaiters[i+1:]...)
			return
		}
	}
}

// invalidateTokenAsync 在后台废弃旧令牌，失败只记录日志。
func (m *Manager) invalidateTokenAsync(token string) {
	pool := conc.BgPool()
	pool.Submit(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.InvalidateTimeout)
		defer cancel()
		if err := m.api.InvalidateToken(ctx, token); err != nil {
			m.logger.Warn("stale token invalidation failed", zap.Error(err))
		}
		return nil, nil
	})
}

// Logout 结束当前会话。
//
// 先尽力通知服务器废弃令牌（受 InvalidateTimeout 约束），
// 无论通知结果如何，本地状态都会被清理。Logout 不会失败。
func (m *Manager) Logout(ctx context.Context) {
	if token, ok := m.jar.Get(cookieNameToken); ok {
		ictx, cancel := context.WithTimeout(ctx, m.cfg.InvalidateTimeout)
		defer cancel()
		if err := m.api.InvalidateToken(ictx, token); err != nil {
			m.logger.Warn("logout: server-side invalidation failed", zap.Error(err))
		}
	}

	m.invalidate()
	m.bus.Publish(Event{Type: EventLogout})
}

// Refresh 请求服务器重新下发当前用户记录。
// 连接不可用时为空操作。
func (m *Manager) Refresh() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || !conn.IsOpen() {
		m.logger.RatedWarn(1, "refresh skipped, connection not open")
		return
	}
	if err := conn.Send(wire.Get()); err != nil {
		m.logger.Warn("refresh request failed", zap.Error(err))
	}
}

// Revalidate 主动向认证服务校验当前凭证。
//
// 带冷却窗口（期间直接返回缓存的用户）且并发调用合并为一次请求。
// 结论处理：
//   - 凭证有效：以服务器返回为准更新当前用户；
//   - 服务器明确告知会话不存在：执行失效流程；
//   - 查询失败：保持现状并返回错误，由调用方决定是否重试。
func (m *Manager) Revalidate(ctx context.Context) (*User, error) {
	m.mu.Lock()
	if !m.lastRevalidate.IsZero() && m.now().Sub(m.lastRevalidate) < m.cfg.RevalidateCooldown {
		u := m.user
		m.mu.Unlock()
		return u, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do("revalidate", func() (any, error) {
		return m.revalidateOnce(ctx)
	})
	if u, ok := v.(*User); ok {
		return u, err
	}
	return nil, err
}

func (m *Manager) revalidateOnce(ctx context.Context) (*User, error) {
	token, ok := m.jar.Get(cookieNameToken)
	if !ok {
		if m.CurrentUser() != nil {
			m.invalidate()
		}
		return nil, nil
	}

	raw, valid, err := m.api.WhoAmI(ctx, token)
	if err != nil {
		// 无法得出结论时保持既有状态。
		return m.CurrentUser(), err
	}

	m.mu.Lock()
	m.lastRevalidate = m.now()
	m.mu.Unlock()

	if !valid {
		m.invalidate()
		return nil, nil
	}

	u, perr := UserFromRaw(raw)
	if perr != nil {
		return m.CurrentUser(), perr
	}

	m.mu.Lock()
	notify := m.setUserLocked(u)
	m.mu.Unlock()
	notify()

	return u, nil
}
