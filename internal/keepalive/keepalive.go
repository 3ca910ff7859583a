package keepalive

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/session-garden-go/internal/wire"
	"github.com/lk2023060901/session-garden-go/pkg/log"
	"github.com/lk2023060901/session-garden-go/pkg/metrics"
)

// DefaultInterval 为未配置时的心跳间隔。
const DefaultInterval = 30 * time.Second

// Sink 是心跳帧的发送端，由当前持久连接实现。
type Sink interface {
	Send(env *wire.Envelope) error
	IsOpen() bool
}

// Hooks 描述调度器向会话层的回调。
type Hooks struct {
	// HasCredential 在每次发送心跳前检查凭证是否仍然存在。
	HasCredential func() bool
	// OnMissingCredential 在凭证缺失时触发，由会话层执行失效流程。
	OnMissingCredential func()
}

// Scheduler 维护持久连接上的心跳节奏。
//
// 节奏锚定在服务器时钟上：每次 pong 帧携带服务器时间，
// 下一次心跳安排在「服务器时间 + 间隔」对应的本地时刻，
// 本地时钟偏差只会让间隔缩短为零而不会累积。
// 任意时刻最多存在一个待触发的心跳。
type Scheduler struct {
	mu sync.Mutex

	interval time.Duration
	hooks    Hooks

	sink  Sink
	timer *time.Timer

	stopped bool

	lastLatency float64

	now func() time.Time
}

// New 创建一个 Scheduler，interval <= 0 时使用 DefaultInterval。
func New(interval time.Duration, hooks Hooks) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		hooks:    hooks,
		now:      time.Now,
	}
}

// SetSink 换绑发送端，不影响已有的心跳安排。
func (s *Scheduler) SetSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sink = sink
	s.stopped = false
}

// StartInitialPing 安排首个心跳，恰好一个间隔之后触发。
// 由调用方保证只在新连接的首个用户数据帧后调用一次，
// 之后的节奏完全由 pong 驱动。
func (s *Scheduler) StartInitialPing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.cancelLocked()
	s.timer = time.AfterFunc(s.interval, s.SendPing)
}

// SendPing 立即发送一个心跳帧。
//
// 连接不可用或调度器已停止时静默跳过；凭证检查只在连接可用时进行，
// 避免已拆除的调度器上迟到的定时器触发多余的失效流程。
// 凭证缺失说明会话已在别处被清理，此时不再发送而是触发失效回调。
func (s *Scheduler) SendPing() {
	s.mu.Lock()
	sink := s.sink
	stopped := s.stopped
	s.mu.Unlock()

	if stopped || sink == nil || !sink.IsOpen() {
		return
	}

	if s.hooks.HasCredential != nil && !s.hooks.HasCredential() {
		log.Warn("heartbeat skipped, credential missing")
		if s.hooks.OnMissingCredential != nil {
			s.hooks.OnMissingCredential()
		}
		return
	}

	if err := sink.Send(wire.Ping()); err != nil {
		log.Warn("heartbeat send failed", zap.Error(err))
		return
	}
	metrics.HeartbeatsSent.Inc()
}

// HandlePong 处理服务器的 pong 帧：记录延迟并按服务器时钟安排下一次心跳。
func (s *Scheduler) HandlePong(env *wire.Envelope) {
	if env.Latency != nil {
		metrics.PongLatency.Set(*env.Latency)
		s.mu.Lock()
		s.lastLatency = *env.Latency
		s.mu.Unlock()
	}
	s.ScheduleNextPing(env.ServerTime)
}

// LastLatency 返回最近一次 pong 上报的延迟（毫秒），尚无数据时为零。
func (s *Scheduler) LastLatency() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLatency
}

// ScheduleNextPing 以服务器时间（Unix 秒）为锚点安排下一次心跳。
// 已存在的安排会被替换，保证同一时刻只有一个待触发的心跳。
func (s *Scheduler) ScheduleNextPing(serverTime int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	next := time.Unix(serverTime, 0).Add(s.interval)
	delay := next.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.cancelLocked()
	s.timer = time.AfterFunc(delay, s.SendPing)
}

// Stop 取消待触发的心跳并停止发送，直到下一次 SetSink。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	s.stopped = true
	s.sink = nil
}

// Cleanup 释放调度器的全部资源，幂等。
func (s *Scheduler) Cleanup() {
	s.Stop()
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
