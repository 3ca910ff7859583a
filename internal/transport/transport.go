package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/lk2023060901/session-garden-go/internal/wire"
	"github.com/lk2023060901/session-garden-go/pkg/util/conc"
	"github.com/lk2023060901/session-garden-go/pkg/util/merr"
)

// Stage 标识连接生命周期中错误发生的阶段。
type Stage string

const (
	StageDial   Stage = "dial"
	StageSend   Stage = "send"
	StageRecv   Stage = "recv"
	StageDecode Stage = "decode"
)

// CloseIntentional 为主动断开时使用的关闭码。
//
// 服务器与对端约定：带该码的关闭帧表示客户端有意终止会话，
// 观察到该码的一方不应安排重连。
const CloseIntentional = 4001

// CodeAbnormal 表示连接在未收到关闭帧的情况下中断。
const CodeAbnormal = -1

// Config 描述客户端连接的基础配置。
type Config struct {
	SendQueueSize int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func defaultConfig() Config {
	return Config{
		SendQueueSize:    64,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Conn 抽象了客户端侧的一条持久连接。
//
// 连接不理解帧的语义，只负责 Envelope 与底层文本帧之间的搬运。
type Conn interface {
	Context() context.Context
	RemoteAddr() net.Addr

	Send(env *wire.Envelope) error
	IsOpen() bool

	// Close 发送带关闭码的关闭帧并释放连接。
	// 对应的 OnClosed 回调携带这里传入的关闭码。
	Close(code int, reason string) error
}

// Handler 描述连接在各阶段的回调能力。
//
// 所有回调都在连接自身的协程中触发；处理方自行处理陈旧连接
// （回调携带的 Conn 已不再是当前连接）的情况。
type Handler interface {
	OnOpen(conn Conn)
	OnFrame(conn Conn, env *wire.Envelope)
	OnClosed(conn Conn, code int, err error)
	OnError(conn Conn, stage Stage, err error)
}

// Dialer 抽象了客户端的拨号器。
type Dialer interface {
	Dial(ctx context.Context, urlStr string, h Handler, header http.Header) (Conn, error)
}

// wsDialer 是基于 gorilla/websocket 的默认 Dialer 实现。
type wsDialer struct {
	cfg Config
}

// NewWSDialer 创建一个基于 WebSocket 的 Dialer。
func NewWSDialer(cfg Config) Dialer {
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	return &wsDialer{cfg: cfg}
}

func (d *wsDialer) Dial(ctx context.Context, urlStr string, h Handler, header http.Header) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, merr.WrapErrConnDialFailed(urlStr, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	wc := newWSConn(connCtx, cancel, conn, d.cfg, h)
	h.OnOpen(wc)
	return wc, nil
}

// wsConn 是基于 WebSocket 的 Conn 默认实现。
type wsConn struct {
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	cfg Config
	h   Handler

	remoteAddr net.Addr

	sendChan chan *wire.Envelope

	closeOnce sync.Once
	closed    *atomic.Bool
}

func newWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	cfg Config,
	h Handler,
) *wsConn {
	c := &wsConn{
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		h:          h,
		remoteAddr: conn.RemoteAddr(),
		sendChan:   make(chan *wire.Envelope, cfg.SendQueueSize),
		closed:     atomic.NewBool(false),
	}

	// 使用 conc.Go 启动收发协程，避免直接使用原生 go 关键字。
	_ = conc.Go(func() (struct{}, error) {
		c.recvLoop()
		return struct{}{}, nil
	})
	_ = conc.Go(func() (struct{}, error) {
		c.sendLoop()
		return struct{}{}, nil
	})

	return c
}

// Conn 接口实现。

func (c *wsConn) Context() context.Context { return c.ctx }
func (c *wsConn) RemoteAddr() net.Addr     { return c.remoteAddr }
func (c *wsConn) IsOpen() bool             { return !c.closed.Load() }

func (c *wsConn) Send(env *wire.Envelope) error {
	select {
	case <-c.ctx.Done():
		return merr.WrapErrConnClosed(env.Type)
	case c.sendChan <- env:
		return nil
	}
}

func (c *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.close(code, nil)
}

func (c *wsConn) close(code int, cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.h.OnClosed(c, code, cause)
	})
	return err
}

// recvLoop 持续读取文本帧并解码为 Envelope。
func (c *wsConn) recvLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			code := CodeAbnormal
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			c.h.OnError(c, StageRecv, err)
			c.close(code, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := wire.Decode(data)
		if err != nil {
			c.h.OnError(c, StageDecode, err)
			continue
		}

		c.h.OnFrame(c, env)
	}
}

// sendLoop 从 sendChan 读取 Envelope，编码为文本帧后写入。
func (c *wsConn) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.sendChan:
			data, err := wire.Encode(env)
			if err != nil {
				c.h.OnError(c, StageSend, err)
				continue
			}

			if c.cfg.WriteTimeout > 0 {
				if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
					c.h.OnError(c, StageSend, err)
					c.close(CodeAbnormal, err)
					return
				}
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.h.OnError(c, StageSend, err)
				c.close(CodeAbnormal, err)
				return
			}
		}
	}
}
