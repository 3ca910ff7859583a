package session

import (
	"github.com/lk2023060901/session-garden-go/pkg/util/typeutil"
)

// 会话事件类型。
const (
	EventConnected    = "session.connected"
	EventDisconnected = "session.disconnected"
	EventLogin        = "session.login"
	EventLogout       = "session.logout"
	EventInvalidated  = "session.invalidated"
	EventUserChanged  = "session.user_changed"
)

// Event 是通过 Bus 广播的会话事件。
type Event struct {
	Type string
	User *User
}

type listener struct {
	fn func(Event)
}

// Bus 是进程内的会话事件广播器。
//
// 与 Manager.Subscribe 不同，Bus 面向跨组件的松耦合通知：
// 投递同步进行但不保证监听器之间的顺序。
type Bus struct {
	listeners *typeutil.ConcurrentSet[*listener]
}

func NewBus() *Bus {
	return &Bus{listeners: typeutil.NewConcurrentSet[*listener]()}
}

// Subscribe 注册监听器，返回对应的注销函数。
func (b *Bus) Subscribe(fn func(Event)) func() {
	l := &listener{fn: fn}
	b.listeners.Insert(l)
	return func() {
		b.listeners.Remove(l)
	}
}

// Publish 同步投递事件到全部监听器。
func (b *Bus) Publish(evt Event) {
	b.listeners.Range(func(l *listener) bool {
		l.fn(evt)
		return true
	})
}
