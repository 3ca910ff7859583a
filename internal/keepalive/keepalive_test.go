package keepalive

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/session-garden-go/internal/wire"
)

// fakeSink 记录发送的帧。
type fakeSink struct {
	mu     sync.Mutex
	open   bool
	frames []*wire.Envelope
}

func newFakeSink() *fakeSink {
	return &fakeSink{open: true}
}

func (f *fakeSink) Send(env *wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeSink) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSink) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSink) setOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

type KeepaliveSuite struct {
	suite.Suite
}

func (s *KeepaliveSuite) hooks() Hooks {
	return Hooks{HasCredential: func() bool { return true }}
}

func (s *KeepaliveSuite) TestInitialPingDelayedOneInterval() {
	sched := New(40*time.Millisecond, s.hooks())
	defer sched.Cleanup()

	sink := newFakeSink()
	sched.SetSink(sink)

	// 初始心跳安排在恰好一个间隔之后，而不是立即发送。
	sched.StartInitialPing()
	s.Equal(0, sink.sent())

	// 重复安排只保留一个待触发的心跳。
	sched.StartInitialPing()
	time.Sleep(250 * time.Millisecond)
	s.Equal(1, sink.sent())
	s.Equal(wire.TypePing, sink.frames[0].Type)

	// 换绑连接后初始心跳发往新连接。
	sink2 := newFakeSink()
	sched.SetSink(sink2)
	sched.StartInitialPing()
	time.Sleep(250 * time.Millisecond)
	s.Equal(1, sink2.sent())
}

func (s *KeepaliveSuite) TestMissingCredential() {
	invalidated := 0
	sched := New(time.Hour, Hooks{
		HasCredential:       func() bool { return false },
		OnMissingCredential: func() { invalidated++ },
	})
	defer sched.Cleanup()

	sink := newFakeSink()
	sched.SetSink(sink)
	sched.SendPing()

	s.Equal(0, sink.sent())
	s.Equal(1, invalidated)
}

func (s *KeepaliveSuite) TestStoppedSchedulerSkipsCredentialCheck() {
	invalidated := 0
	sched := New(time.Hour, Hooks{
		HasCredential:       func() bool { return false },
		OnMissingCredential: func() { invalidated++ },
	})

	sink := newFakeSink()
	sched.SetSink(sink)
	sched.Stop()

	// 已拆除的调度器上迟到的心跳不触发失效流程。
	sched.SendPing()

	s.Equal(0, sink.sent())
	s.Equal(0, invalidated)
}

func (s *KeepaliveSuite) TestClosedSinkSkipped() {
	sched := New(time.Hour, s.hooks())
	defer sched.Cleanup()

	sink := newFakeSink()
	sink.setOpen(false)
	sched.SetSink(sink)
	sched.SendPing()

	s.Equal(0, sink.sent())
}

func (s *KeepaliveSuite) TestSingleOutstandingTimer() {
	sched := New(50*time.Millisecond, s.hooks())
	defer sched.Cleanup()

	sink := newFakeSink()
	sched.SetSink(sink)

	// 锚点取整秒后的未来时刻，保证两次安排都先于触发完成。
	anchor := time.Now().Unix() + 1
	sched.ScheduleNextPing(anchor)
	sched.ScheduleNextPing(anchor)

	time.Sleep(1500 * time.Millisecond)
	s.Equal(1, sink.sent())
}

func (s *KeepaliveSuite) TestServerAnchoredDelay() {
	sched := New(30*time.Second, s.hooks())
	defer sched.Cleanup()

	sink := newFakeSink()
	sched.SetSink(sink)

	// 服务器时钟落后很多时，间隔收缩为零而不是变成负数。
	sched.ScheduleNextPing(time.Now().Add(-time.Hour).Unix())

	time.Sleep(100 * time.Millisecond)
	s.Equal(1, sink.sent())
}

func (s *KeepaliveSuite) TestStopCancelsPending() {
	sched := New(30*time.Millisecond, s.hooks())

	sink := newFakeSink()
	sched.SetSink(sink)
	sched.ScheduleNextPing(time.Now().Unix() + 1)
	sched.Stop()
	sched.Stop()

	time.Sleep(1200 * time.Millisecond)
	s.Equal(0, sink.sent())

	// Stop 之后即便显式调用也不再发送。
	sched.SendPing()
	s.Equal(0, sink.sent())
}

func (s *KeepaliveSuite) TestHandlePongSchedules() {
	sched := New(40*time.Millisecond, s.hooks())
	defer sched.Cleanup()

	sink := newFakeSink()
	sched.SetSink(sink)

	latency := 3.0
	sched.HandlePong(&wire.Envelope{
		Type:       wire.TypePong,
		Latency:    &latency,
		ServerTime: time.Now().Unix(),
	})

	time.Sleep(250 * time.Millisecond)
	s.Equal(1, sink.sent())
}

func TestKeepalive(t *testing.T) {
	suite.Run(t, new(KeepaliveSuite))
}
