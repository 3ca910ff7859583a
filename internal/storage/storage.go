package storage

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/session-garden-go/internal/json"
	"github.com/lk2023060901/session-garden-go/pkg/log"
)

// Storage 在 Backend 之上提供永不失败的访问语义。
//
// 持久层不可用或读写出错时，读操作返回零值，写操作静默丢弃，
// 错误仅记录日志。调用方永远不需要处理存储错误。
type Storage struct {
	backend Backend
}

// New 创建一个 Storage。backend 为 nil 时全部操作退化为无副作用的空操作。
func New(backend Backend) *Storage {
	return &Storage{backend: backend}
}

// IsAvailable 通过一次探测写入判断持久层当前是否可用。
func (s *Storage) IsAvailable() bool {
	if s.backend == nil {
		return false
	}
	const probeKey = "__storage_probe__"
	if err := s.backend.Set(probeKey, "1"); err != nil {
		return false
	}
	_ = s.backend.Delete(probeKey)
	return true
}

// Get 读取 key 对应的值，key 不存在或持久层出错时返回 ("", false)。
func (s *Storage) Get(key string) (string, bool) {
	if s.backend == nil {
		return "", false
	}
	v, err := s.backend.Get(key)
	if err != nil {
		return "", false
	}
	return v, true
}

// Set 写入键值，失败时仅记录日志并返回 false。
func (s *Storage) Set(key, value string) bool {
	if s.backend == nil {
		return false
	}
	if err := s.backend.Set(key, value); err != nil {
		log.Warn("storage set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Remove 删除键，失败时仅记录日志并返回 false。
func (s *Storage) Remove(key string) bool {
	if s.backend == nil {
		return false
	}
	if err := s.backend.Delete(key); err != nil {
		log.Warn("storage remove failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// GetJSON 读取并反序列化 key 对应的 JSON 值。
func (s *Storage) GetJSON(key string, dst any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		log.Warn("storage value is not valid json",
			zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// SetJSON 序列化 v 并写入 key。
func (s *Storage) SetJSON(key string, v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Warn("storage marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return s.Set(key, string(raw))
}
