package authapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ClientSuite struct {
	suite.Suite
}

func (s *ClientSuite) newClient(baseURL string) *Client {
	c, err := NewClient(Config{BaseURL: baseURL, Attempts: 2})
	s.Require().NoError(err)
	return c
}

func (s *ClientSuite) TestInvalidateToken() {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.Equal(pathInvalidate, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := s.newClient(srv.URL)
	s.NoError(c.InvalidateToken(context.Background(), "tok-1"))
	s.JSONEq(`{"token":"tok-1"}`, gotBody.Load().(string))
}

func (s *ClientSuite) TestInvalidateTokenRetriesServerError() {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := s.newClient(srv.URL)
	s.NoError(c.InvalidateToken(context.Background(), "tok-1"))
	s.EqualValues(2, calls.Load())
}

func (s *ClientSuite) TestInvalidateTokenClientErrorNoRetry() {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := s.newClient(srv.URL)
	s.Error(c.InvalidateToken(context.Background(), "tok-1"))
	s.EqualValues(1, calls.Load())
}

func (s *ClientSuite) TestInvalidateTokenEmpty() {
	c := s.newClient("http://127.0.0.1:1")
	s.Error(c.InvalidateToken(context.Background(), ""))
}

func (s *ClientSuite) TestWhoAmIValid() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodGet, r.Method)
		s.Equal(pathWhoAmI, r.URL.Path)
		s.Equal("Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u1","avatar_url":"https://x/a.png"}`))
	}))
	defer srv.Close()

	c := s.newClient(srv.URL)
	raw, ok, err := c.WhoAmI(context.Background(), "tok-1")
	s.NoError(err)
	s.True(ok)
	s.JSONEq(`{"id":"u1","avatar_url":"https://x/a.png"}`, string(raw))
}

func (s *ClientSuite) TestWhoAmINoSession() {
	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := s.newClient(srv.URL)
		raw, ok, err := c.WhoAmI(context.Background(), "tok-1")
		s.NoError(err)
		s.False(ok)
		s.Nil(raw)
		srv.Close()
	}
}

func (s *ClientSuite) TestWhoAmIServerErrorExhausted() {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := s.newClient(srv.URL)
	_, ok, err := c.WhoAmI(context.Background(), "tok-1")
	s.Error(err)
	s.False(ok)
	s.EqualValues(2, calls.Load())
}

func (s *ClientSuite) TestNewClientValidation() {
	_, err := NewClient(Config{})
	s.Error(err)

	c, err := NewClient(Config{BaseURL: "https://example.com/"})
	s.NoError(err)
	s.Equal("https://example.com", c.cfg.BaseURL)
}

func TestClient(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}
