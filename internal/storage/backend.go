package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/lk2023060901/session-garden-go/internal/json"
	"github.com/lk2023060901/session-garden-go/pkg/util/merr"
)

// Backend 抽象了键值持久层。
//
// 实现只需保证单键操作的原子性；跨键一致性由上层自行处理。
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryBackend 是进程内的 Backend 实现，仅用于测试与无状态目录的场景。
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

func (b *MemoryBackend) Get(key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return "", merr.WrapErrStorageKeyNotFound(key)
	}
	return v, nil
}

func (b *MemoryBackend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *MemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// FileBackend 将全部键值保存在单个 JSON 快照文件中。
//
// 每次写操作都会重写快照：先写入同目录下的临时文件再原子重命名，
// 避免进程中途退出留下半写状态。
type FileBackend struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFileBackend 打开（或创建）path 指向的快照文件。
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, merr.WrapErrStorageIo(path, err)
	}

	b := &FileBackend{
		path: path,
		data: make(map[string]string),
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		if derr := json.NewDecoder(f).Decode(&b.data); derr != nil || b.data == nil {
			// 快照损坏或为空时丢弃旧内容，从空状态重新开始。
			b.data = make(map[string]string)
		}
		_ = f.Close()
	case os.IsNotExist(err):
	default:
		return nil, merr.WrapErrStorageIo(path, err)
	}

	return b, nil
}

func (b *FileBackend) Get(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return "", merr.WrapErrStorageKeyNotFound(key)
	}
	return v, nil
}

func (b *FileBackend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return b.flushLocked(key)
}

func (b *FileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return b.flushLocked(key)
}

func (b *FileBackend) flushLocked(key string) error {
	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return merr.WrapErrStorageIo(key, err)
	}
	if err := json.NewEncoder(f).Encode(b.data); err != nil {
		_ = f.Close()
		return merr.WrapErrStorageIo(key, err)
	}
	if err := f.Close(); err != nil {
		return merr.WrapErrStorageIo(key, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return merr.WrapErrStorageIo(key, err)
	}
	return nil
}
