package session

import (
	"sync"
)

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Init 以给定配置构造进程级默认管理器。
// 重复调用时返回既有实例，配置不会被覆盖。
func Init(cfg Config, opts ...Option) (*Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil {
		return defaultManager, nil
	}
	m, err := NewManager(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defaultManager = m
	return m, nil
}

// Default 返回进程级默认管理器，未经 Init 初始化时为 nil。
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultManager
}

// CloseDefault 关闭并清除进程级默认管理器，幂等。
func CloseDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil {
		defaultManager.Close()
		defaultManager = nil
	}
}
