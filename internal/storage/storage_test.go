package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

// failingBackend 模拟持久层整体不可用。
type failingBackend struct{}

func (failingBackend) Get(string) (string, error) { return "", errors.New("disk gone") }
func (failingBackend) Set(string, string) error   { return errors.New("disk gone") }
func (failingBackend) Delete(string) error        { return errors.New("disk gone") }

type StorageSuite struct {
	suite.Suite
}

func (s *StorageSuite) TestRoundTrip() {
	st := New(NewMemoryBackend())

	s.True(st.IsAvailable())
	s.True(st.Set("k", "v"))

	v, ok := st.Get("k")
	s.True(ok)
	s.Equal("v", v)

	s.True(st.Remove("k"))
	_, ok = st.Get("k")
	s.False(ok)
}

func (s *StorageSuite) TestJSON() {
	st := New(NewMemoryBackend())

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	s.True(st.SetJSON("rec", &record{Name: "a", Count: 3}))

	var got record
	s.True(st.GetJSON("rec", &got))
	s.Equal("a", got.Name)
	s.Equal(3, got.Count)

	st.Set("broken", "{not json")
	s.False(st.GetJSON("broken", &got))
}

func (s *StorageSuite) TestNeverFails() {
	st := New(failingBackend{})

	s.False(st.IsAvailable())
	s.False(st.Set("k", "v"))
	s.False(st.Remove("k"))

	v, ok := st.Get("k")
	s.False(ok)
	s.Empty(v)
}

func (s *StorageSuite) TestNilBackend() {
	st := New(nil)
	s.False(st.IsAvailable())
	s.False(st.Set("k", "v"))
	_, ok := st.Get("k")
	s.False(ok)
}

func (s *StorageSuite) TestFileBackendPersistence() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "state.json")

	b, err := NewFileBackend(path)
	s.NoError(err)
	s.NoError(b.Set("k1", "v1"))
	s.NoError(b.Set("k2", "v2"))
	s.NoError(b.Delete("k2"))

	// 重新打开后状态保持。
	b2, err := NewFileBackend(path)
	s.NoError(err)
	v, err := b2.Get("k1")
	s.NoError(err)
	s.Equal("v1", v)
	_, err = b2.Get("k2")
	s.Error(err)
}

func (s *StorageSuite) TestFileBackendCorruptSnapshot() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "state.json")
	s.NoError(os.WriteFile(path, []byte("{corrupt"), 0o600))

	// 损坏的快照被丢弃，从空状态重新开始。
	b, err := NewFileBackend(path)
	s.NoError(err)
	_, err = b.Get("k")
	s.Error(err)
	s.NoError(b.Set("k", "v"))
}

type CookieSuite struct {
	suite.Suite

	jar *Jar
	now time.Time
}

func (s *CookieSuite) SetupTest() {
	s.jar = NewJar(New(NewMemoryBackend()))
	s.now = time.Unix(1700000000, 0)
	s.jar.now = func() time.Time { return s.now }
}

func (s *CookieSuite) TestSetGet() {
	s.True(s.jar.Set("session_token", "tok", 30*24*time.Hour))

	v, ok := s.jar.Get("session_token")
	s.True(ok)
	s.Equal("tok", v)
}

func (s *CookieSuite) TestExpiry() {
	s.True(s.jar.Set("session_token", "tok", time.Hour))

	s.now = s.now.Add(time.Hour + time.Second)
	_, ok := s.jar.Get("session_token")
	s.False(ok)

	// 过期记录被惰性清理。
	_, ok = s.jar.store.Get(cookieKeyPrefix + "session_token")
	s.False(ok)
}

func (s *CookieSuite) TestNoTTL() {
	s.True(s.jar.Set("pinned", "v", 0))
	s.now = s.now.Add(1000 * time.Hour)
	v, ok := s.jar.Get("pinned")
	s.True(ok)
	s.Equal("v", v)
}

func (s *CookieSuite) TestDelete() {
	s.True(s.jar.Set("session_token", "tok", time.Hour))
	s.True(s.jar.Delete("session_token"))
	_, ok := s.jar.Get("session_token")
	s.False(ok)

	// 删除不存在的记录同样成功。
	s.True(s.jar.Delete("missing"))
}

func (s *CookieSuite) TestAttributes() {
	s.True(s.jar.Set("session_token", "tok", time.Hour))

	var c Cookie
	s.True(s.jar.store.GetJSON(cookieKeyPrefix+"session_token", &c))
	s.Equal("/", c.Path)
	s.Equal("lax", c.SameSite)
	s.Equal(s.now.Add(time.Hour).Unix(), c.ExpiresAt)
}

func TestStorage(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func TestCookies(t *testing.T) {
	suite.Run(t, new(CookieSuite))
}
