package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/session-garden-go/internal/wire"
)

// recordingHandler 收集回调用于断言。
type recordingHandler struct {
	mu sync.Mutex

	opened int
	frames []*wire.Envelope

	closedCh   chan struct{}
	closedCode int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closedCh: make(chan struct{})}
}

func (h *recordingHandler) OnOpen(Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened++
}

func (h *recordingHandler) OnFrame(_ Conn, env *wire.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, env)
}

func (h *recordingHandler) OnClosed(_ Conn, code int, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closedCode = code
	close(h.closedCh)
}

func (h *recordingHandler) OnError(Conn, Stage, error) {}

func (h *recordingHandler) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

// wsTestServer 将收到的每个文本帧回显为 pong 帧。
func wsTestServer(t *testing.T, onMessage func(conn *websocket.Conn, data []byte)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if onMessage != nil {
				onMessage(conn, data)
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type TransportSuite struct {
	suite.Suite
}

func (s *TransportSuite) TestDialSendRecv() {
	srv := wsTestServer(s.T(), func(conn *websocket.Conn, data []byte) {
		env, err := wire.Decode(data)
		if err != nil || env.Type != wire.TypePing {
			return
		}
		reply, _ := wire.Encode(&wire.Envelope{
			Type:       wire.TypePong,
			ServerTime: 1700000000,
		})
		_ = conn.WriteMessage(websocket.TextMessage, reply)
	})
	defer srv.Close()

	h := newRecordingHandler()
	d := NewWSDialer(Config{})

	conn, err := d.Dial(context.Background(), wsURL(srv), h, http.Header{})
	s.Require().NoError(err)
	s.True(conn.IsOpen())
	s.Equal(1, h.opened)

	s.NoError(conn.Send(wire.Ping()))

	s.Eventually(func() bool { return h.frameCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.mu.Lock()
	s.Equal(wire.TypePong, h.frames[0].Type)
	s.EqualValues(1700000000, h.frames[0].ServerTime)
	h.mu.Unlock()

	s.NoError(conn.Close(CloseIntentional, "done"))
}

func (s *TransportSuite) TestIntentionalCloseCode() {
	srv := wsTestServer(s.T(), nil)
	defer srv.Close()

	h := newRecordingHandler()
	d := NewWSDialer(Config{})

	conn, err := d.Dial(context.Background(), wsURL(srv), h, http.Header{})
	s.Require().NoError(err)

	s.NoError(conn.Close(CloseIntentional, "bye"))

	select {
	case <-h.closedCh:
	case <-time.After(2 * time.Second):
		s.FailNow("OnClosed not called")
	}

	h.mu.Lock()
	s.Equal(CloseIntentional, h.closedCode)
	h.mu.Unlock()
	s.False(conn.IsOpen())

	// 二次关闭无副作用。
	s.NoError(conn.Close(CloseIntentional, "bye"))
}

func (s *TransportSuite) TestServerCloseCodePropagated() {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}))
	defer srv.Close()

	h := newRecordingHandler()
	d := NewWSDialer(Config{})

	_, err := d.Dial(context.Background(), wsURL(srv), h, http.Header{})
	s.Require().NoError(err)

	select {
	case <-h.closedCh:
	case <-time.After(2 * time.Second):
		s.FailNow("OnClosed not called")
	}

	h.mu.Lock()
	s.Equal(websocket.CloseGoingAway, h.closedCode)
	h.mu.Unlock()
}

func (s *TransportSuite) TestMalformedFrameSkipped() {
	srv := wsTestServer(s.T(), func(conn *websocket.Conn, data []byte) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{bad json`))
		reply, _ := wire.Encode(&wire.Envelope{Type: wire.TypePong})
		_ = conn.WriteMessage(websocket.TextMessage, reply)
	})
	defer srv.Close()

	h := newRecordingHandler()
	d := NewWSDialer(Config{})

	conn, err := d.Dial(context.Background(), wsURL(srv), h, http.Header{})
	s.Require().NoError(err)
	defer conn.Close(CloseIntentional, "done")

	s.NoError(conn.Send(wire.Get()))

	// 坏帧被跳过，连接继续工作。
	s.Eventually(func() bool { return h.frameCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.True(conn.IsOpen())
}

func (s *TransportSuite) TestDialFailure() {
	h := newRecordingHandler()
	d := NewWSDialer(Config{HandshakeTimeout: 200 * time.Millisecond})

	_, err := d.Dial(context.Background(), "ws://127.0.0.1:1", h, http.Header{})
	s.Error(err)
	s.Equal(0, h.opened)
}

func TestTransport(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}
