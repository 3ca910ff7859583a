package session

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lk2023060901/session-garden-go/internal/authapi"
	"github.com/lk2023060901/session-garden-go/internal/json"
	"github.com/lk2023060901/session-garden-go/internal/keepalive"
	"github.com/lk2023060901/session-garden-go/internal/storage"
	"github.com/lk2023060901/session-garden-go/internal/transport"
	"github.com/lk2023060901/session-garden-go/internal/wire"
	"github.com/lk2023060901/session-garden-go/pkg/log"
	"github.com/lk2023060901/session-garden-go/pkg/metrics"
	"github.com/lk2023060901/session-garden-go/pkg/util/conc"
	"github.com/lk2023060901/session-garden-go/pkg/util/merr"
	"github.com/lk2023060901/session-garden-go/pkg/util/typeutil"
)

// Status 表示持久连接的当前状态。
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusOpen
)

// AuthAPI 是 Manager 依赖的认证服务能力。
// 生产实现为 authapi.Client。
type AuthAPI interface {
	InvalidateToken(ctx context.Context, token string) error
	WhoAmI(ctx context.Context, token string) (json.RawMessage, bool, error)
}

var _ AuthAPI = (*authapi.Client)(nil)

// inboundTypes 为会话层理解的入站帧类型全集。
var inboundTypes = typeutil.NewSet(
	wire.TypeConnectionID,
	wire.TypeData,
	wire.TypeError,
	wire.TypePong,
)

// subscriber 串行接收用户变化，版本号保证迟到的旧值不会覆盖新值。
type subscriber struct {
	mu   sync.Mutex
	fn   func(*User)
	seen uint64
}

func (s *subscriber) deliver(u *User, ver uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ver < s.seen {
		return
	}
	s.seen = ver
	s.fn(u)
}

// Manager 维护一条到会话服务的持久连接及其上的登录状态。
//
// 对外保证：
//   - 当前用户的变化按注册顺序同步通知全部订阅者；
//   - 会话失效流程幂等，可从任意路径（哨兵、error 帧、登出、
//     心跳前检查）触发任意多次；
//   - 来自陈旧连接的回调一律被忽略，不会影响当前连接；
//   - 并发拨号按代际裁决：被更新的登录或重连取代的握手
//     即便建立成功也会被直接关闭，凭证与连接始终一致。
type Manager struct {
	mu sync.Mutex

	cfg    Config
	dialer transport.Dialer
	api    AuthAPI

	store *storage.Storage
	jar   *storage.Jar

	keepalive *keepalive.Scheduler
	bus       *Bus

	logger *log.MLogger

	// 以下字段由 mu 保护。
	conn           transport.Conn
	connID         string
	dialGen        uint64
	user           *User
	userVer        uint64
	subs           []*subscriber
	loginWaiters   []chan *User
	reconnectTimer *time.Timer
	gotFirstData   bool
	lastRevalidate time.Time
	closed         bool

	status   *atomic.Int32
	attempts *atomic.Uint32
	backoff  *backoff.ExponentialBackOff

	sf singleflight.Group

	rootCtx    context.Context
	rootCancel context.CancelFunc

	now func() time.Time
}

// Option 用于定制 Manager 的内部依赖，主要面向测试。
type Option func(*Manager)

// WithDialer 替换默认的 WebSocket 拨号器。
func WithDialer(d transport.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithAuthAPI 替换默认的认证服务客户端。
func WithAuthAPI(api AuthAPI) Option {
	return func(m *Manager) { m.api = api }
}

// WithBackend 替换默认的存储后端。
func WithBackend(b storage.Backend) Option {
	return func(m *Manager) { m.store = storage.New(b) }
}

// WithClock 替换时间源，仅用于测试。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建并启动会话管理器。
//
// 构造时从本地状态恢复乐观的用户镜像；若凭证存在则立即发起连接，
// 否则保持未登录状态等待 Login。
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	cfg.fillDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		bus:        NewBus(),
		logger:     log.With(zap.String("module", "session")),
		status:     atomic.NewInt32(int32(StatusDisconnected)),
		attempts:   atomic.NewUint32(0),
		rootCtx:    ctx,
		rootCancel: cancel,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		backend, err := newDefaultBackend(cfg.StateDir)
		if err != nil {
			cancel()
			return nil, err
		}
		m.store = storage.New(backend)
	}
	m.jar = storage.NewJar(m.store)

	if m.api == nil {
		if cfg.APIBaseURL == "" {
			cancel()
			return nil, merr.WrapErrParameterInvalidMsg("session: APIBaseURL is empty")
		}
		api, err := authapi.NewClient(authapi.Config{BaseURL: cfg.APIBaseURL})
		if err != nil {
			cancel()
			return nil, err
		}
		m.api = api
	}
	if m.dialer == nil {
		if cfg.Endpoint == "" {
			cancel()
			return nil, merr.WrapErrParameterInvalidMsg("session: Endpoint is empty")
		}
		m.dialer = transport.NewWSDialer(transport.Config{
			HandshakeTimeout: cfg.DialTimeout,
		})
	}

	m.backoff = newBackoff(cfg.ReconnectBaseDelay, cfg.MaxReconnectAttempts)
	m.keepalive = keepalive.New(cfg.PingInterval, keepalive.Hooks{
		HasCredential:       m.hasToken,
		OnMissingCredential: m.invalidate,
	})

	m.bootstrap()
	return m, nil
}

func newDefaultBackend(stateDir string) (storage.Backend, error) {
	if stateDir == "" {
		return storage.NewMemoryBackend(), nil
	}
	return storage.NewFileBackend(filepath.Join(stateDir, "state.json"))
}

// newBackoff 构造纯指数退避：第 n 次等待 base * 2^(n-1)。
// 上限按重试预算推导，预算内的等待不会被截断。
func newBackoff(base time.Duration, maxAttempts uint) *backoff.ExponentialBackOff {
	shift := maxAttempts
	if shift > 20 {
		shift = 20
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = base << shift
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// bootstrap 在构造阶段恢复本地镜像并决定是否发起连接。
func (m *Manager) bootstrap() {
	// 本地镜像是乐观占位，权威状态由服务器在连接确认后下发。
	var mirrored User
	if m.store.GetJSON(storageKeyUser, &mirrored) && len(mirrored.raw) > 0 {
		m.mu.Lock()
		m.user = &mirrored
		m.mu.Unlock()
	}

	if _, ok := m.jar.Get(cookieNameToken); !ok {
		// 凭证缺失：若残留了旧镜像则一并清理，保持未登录状态。
		m.invalidate()
		return
	}
	m.connect("initial")
}

func (m *Manager) hasToken() bool {
	_, ok := m.jar.Get(cookieNameToken)
	return ok
}

// CurrentUser 返回当前用户，未登录时为 nil。
func (m *Manager) CurrentUser() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// ConnectionID 返回服务器分配的连接身份，尚未分配时为空串。
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// Status 返回持久连接的当前状态。
func (m *Manager) Status() Status {
	return Status(m.status.Load())
}

// Bus 返回进程内的会话事件广播器。
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Stats 是会话当前运行状况的快照。
type Stats struct {
	Status            Status
	ConnectionID      string
	ReconnectAttempts uint32
	// PongLatency 为最近一次 pong 上报的延迟（毫秒）。
	PongLatency float64
}

// Stats 返回会话的运行状况快照。
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	connID := m.connID
	m.mu.Unlock()

	return Stats{
		Status:            m.Status(),
		ConnectionID:      connID,
		ReconnectAttempts: m.attempts.Load(),
		PongLatency:       m.keepalive.LastLatency(),
	}
}

// Subscribe 注册用户变化订阅者并立即以当前值同步调用一次。
// 返回的函数用于注销订阅。
func (m *Manager) Subscribe(fn func(*User)) func() {
	sub := &subscriber{fn: fn}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	current := m.user
	ver := m.userVer
	m.mu.Unlock()

	// 并发的用户变化可能先一步送达，版本号保证此处的
	// 初始值不会把更新的值顶掉。
	sub.deliver(current, ver)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// setUser 更新当前用户、维护存储镜像并返回订阅者通知闭包。
// 通知必须在锁外执行，避免订阅者回调重入时死锁。
func (m *Manager) setUserLocked(u *User) func() {
	m.user = u

	if u == nil {
		m.store.Remove(storageKeyUser)
		m.store.Remove(storageKeyUserID)
		m.store.Remove(storageKeyAvatar)
	} else {
		m.store.Set(storageKeyUser, string(u.raw))
		m.store.Set(storageKeyUserID, u.id)
		m.store.Set(storageKeyAvatar, u.avatarURL)
	}

	m.userVer++
	ver := m.userVer
	subs := make([]*subscriber, len(m.subs))
	copy(subs, m.subs)

	return func() {
		for _, s := range subs {
			s.deliver(u, ver)
		}
		m.bus.Publish(Event{Type: EventUserChanged, User: u})
	}
}

func (m *Manager) notifyLoginWaitersLocked(u *User) {
	for _, ch := range m.loginWaiters {
		select {
		case ch <- u:
		default:
		}
	}
	m.loginWaiters = nil
}

// ---- 连接生命周期 ----

// connect 异步发起一次建连。凭证缺失时直接走失效流程。
func (m *Manager) connect(trigger string) {
	token, ok := m.jar.Get(cookieNameToken)
	if !ok {
		m.logger.Info("connect skipped, no credential", zap.String("trigger", trigger))
		m.invalidate()
		return
	}

	m.mu.Lock()
	if m.closed || m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.dialGen++
	gen := m.dialGen
	connID := m.connID
	m.mu.Unlock()

	m.status.Store(int32(StatusConnecting))

	endpoint, err := m.buildEndpoint(token, connID)
	if err != nil {
		m.logger.Warn("bad endpoint", zap.Error(err))
		return
	}

	m.logger.Info("dialing",
		zap.String("trigger", trigger),
		zap.Uint64("gen", gen),
		zap.Bool("resumeIdentity", connID != ""))

	h := &dialHandler{m: m, gen: gen}
	_ = conc.Go(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(m.rootCtx, m.cfg.DialTimeout)
		defer cancel()

		if _, err := m.dialer.Dial(ctx, endpoint, h, http.Header{}); err != nil {
			m.mu.Lock()
			stale := gen != m.dialGen
			m.mu.Unlock()
			if stale {
				// 被更新的拨号取代，失败不再影响当前状态。
				return struct{}{}, nil
			}
			m.logger.Warn("dial failed", zap.Error(err))
			m.status.Store(int32(StatusDisconnected))
			m.scheduleReconnect("dial-failure")
		}
		return struct{}{}, nil
	})
}

func (m *Manager) buildEndpoint(token, connID string) (string, error) {
	u, err := url.Parse(m.cfg.Endpoint)
	if err != nil {
		return "", merr.WrapErrParameterInvalidMsg("session: bad endpoint %q: %v", m.cfg.Endpoint, err)
	}
	q := u.Query()
	q.Set("token", token)
	if connID != "" {
		q.Set("connection_id", connID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// scheduleReconnect 在非主动断开后安排一次自动重连。
// 第 n 次重试等待 base * 2^(n-1)，超过最大次数后放弃，
// 此时会话对外表现为已登出，需要显式 Reconnect 或 Login 恢复。
func (m *Manager) scheduleReconnect(trigger string) {
	n := m.attempts.Inc()
	if uint(n) > m.cfg.MaxReconnectAttempts {
		m.logger.Warn("reconnect attempts exhausted",
			zap.Uint32("attempts", n-1),
			zap.String("trigger", trigger))

		m.mu.Lock()
		notify := m.setUserLocked(nil)
		m.notifyLoginWaitersLocked(nil)
		m.mu.Unlock()
		notify()
		return
	}

	delay := m.backoff.NextBackOff()
	metrics.ReconnectAttempts.WithLabelValues(trigger).Inc()

	m.logger.Info("reconnect scheduled",
		zap.Uint32("attempt", n),
		zap.Duration("delay", delay),
		zap.String("trigger", trigger))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.connect("auto")
	})
	m.mu.Unlock()
}

// Reconnect 立即重建连接：关闭现有连接、清零退避状态并重新拨号。
// 服务器分配的连接身份保留，使会话在服务器侧保持连续。
func (m *Manager) Reconnect() {
	m.attempts.Store(0)
	m.backoff.Reset()

	m.detachConn(transport.CloseIntentional, "reconnect")
	m.connect("manual")
}

// detachConn 摘下当前连接并在锁外关闭。返回是否确有连接被摘下。
// 摘下后该连接的 OnClosed 回调会因连接陈旧而被忽略，
// 同时拨号代际前移，尚在途中的握手一并作废。
func (m *Manager) detachConn(code int, reason string) bool {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.dialGen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	m.keepalive.Stop()
	m.status.Store(int32(StatusDisconnected))
	metrics.Connected.Set(0)

	if c == nil {
		return false
	}
	_ = c.Close(code, reason)
	return true
}

// ---- transport.Handler 实现 ----

// dialHandler 把一次拨号的代际带进连接回调。
// 代际落后说明这次握手已被更新的登录或重连取代，
// 建立起来的连接只能关掉，不能顶替当前连接。
type dialHandler struct {
	m   *Manager
	gen uint64
}

var _ transport.Handler = (*dialHandler)(nil)

func (h *dialHandler) OnOpen(conn transport.Conn) { h.m.onOpen(conn, h.gen) }

func (h *dialHandler) OnFrame(conn transport.Conn, env *wire.Envelope) { h.m.OnFrame(conn, env) }

func (h *dialHandler) OnClosed(conn transport.Conn, code int, err error) {
	h.m.OnClosed(conn, code, err)
}

func (h *dialHandler) OnError(conn transport.Conn, stage transport.Stage, err error) {
	h.m.OnError(conn, stage, err)
}

func (m *Manager) onOpen(conn transport.Conn, gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.dialGen || m.conn != nil {
		m.mu.Unlock()
		_ = conn.Close(transport.CloseIntentional, "superseded")
		return
	}
	m.conn = conn
	m.gotFirstData = false
	m.mu.Unlock()

	m.status.Store(int32(StatusOpen))
	m.attempts.Store(0)
	m.backoff.Reset()
	metrics.Connected.Set(1)
	m.keepalive.SetSink(conn)
	m.bus.Publish(Event{Type: EventConnected})

	m.logger.Info("connection open", zap.Any("remote", conn.RemoteAddr()))
}

func (m *Manager) OnFrame(conn transport.Conn, env *wire.Envelope) {
	m.mu.Lock()
	stale := conn != m.conn
	m.mu.Unlock()
	if stale {
		return
	}

	if !inboundTypes.Contain(env.Type) {
		m.logger.RatedWarn(10, "unknown frame ignored", zap.String("type", env.Type))
		return
	}
	metrics.FramesReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case wire.TypeConnectionID:
		m.handleConnectionID(env)
	case wire.TypeData:
		m.handleData(env)
	case wire.TypeError:
		m.logger.Warn("server error frame", zap.String("error", env.Error))
		m.invalidate()
	case wire.TypePong:
		m.handlePong(env)
	}
}

func (m *Manager) OnClosed(conn transport.Conn, code int, err error) {
	m.mu.Lock()
	if conn != m.conn {
		// 陈旧连接的善后不影响当前状态。
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()

	m.keepalive.Stop()
	m.status.Store(int32(StatusDisconnected))
	metrics.Connected.Set(0)
	m.bus.Publish(Event{Type: EventDisconnected})

	if code == transport.CloseIntentional {
		m.logger.Info("connection closed intentionally")
		return
	}

	m.logger.Warn("connection lost",
		zap.Int("code", code),
		zap.Error(err))
	m.scheduleReconnect("connection-lost")
}

func (m *Manager) OnError(conn transport.Conn, stage transport.Stage, err error) {
	m.logger.RatedWarn(1, "transport error",
		zap.String("stage", string(stage)),
		zap.Error(err))
}

// ---- 帧处理 ----

func (m *Manager) handleConnectionID(env *wire.Envelope) {
	if env.ID == "" {
		return
	}
	m.mu.Lock()
	m.connID = env.ID
	m.mu.Unlock()

	m.jar.Set(cookieNameConnectionID, env.ID, cookieTTL)
	m.logger.Info("connection identity assigned", zap.String("connectionID", env.ID))
}

func (m *Manager) handleData(env *wire.Envelope) {
	if wire.IsInvalidTokenSentinel(env.Data) {
		m.logger.Warn("credential rejected by server")
		m.invalidate()
		return
	}

	u, err := UserFromRaw(env.Data)
	if err != nil {
		m.logger.Warn("malformed user record ignored", zap.Error(err))
		return
	}

	m.mu.Lock()
	first := !m.gotFirstData
	m.gotFirstData = true
	notify := m.setUserLocked(u)
	m.notifyLoginWaitersLocked(u)
	m.mu.Unlock()
	notify()

	if first {
		m.keepalive.StartInitialPing()
	}
}

func (m *Manager) handlePong(env *wire.Envelope) {
	m.keepalive.HandlePong(env)

	// 服务器在 pong 中回带连接身份，顺带自愈丢失的本地记录。
	if env.ConnectionID != "" {
		m.mu.Lock()
		m.connID = env.ConnectionID
		m.mu.Unlock()
		if _, ok := m.jar.Get(cookieNameConnectionID); !ok {
			m.jar.Set(cookieNameConnectionID, env.ConnectionID, cookieTTL)
		}
	}
}

// ---- 失效与关闭 ----

// invalidate 执行会话失效流程：清除凭证与镜像、发布未登录状态、
// 主动断开连接。幂等，可从任意路径触发。
func (m *Manager) invalidate() {
	m.jar.Delete(cookieNameToken)

	m.mu.Lock()
	alreadyOut := m.user == nil && m.conn == nil
	notify := m.setUserLocked(nil)
	m.notifyLoginWaitersLocked(nil)
	m.mu.Unlock()
	notify()

	m.detachConn(transport.CloseIntentional, "session invalidated")

	if !alreadyOut {
		m.bus.Publish(Event{Type: EventInvalidated})
		m.logger.Info("session invalidated")
	}
}

// Close 释放管理器持有的全部资源，幂等。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.rootCancel()
	m.keepalive.Cleanup()
	m.detachConn(transport.CloseIntentional, "manager closed")
	m.logger.Info("session manager closed")
}
