package authapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/session-garden-go/internal/json"
	"github.com/lk2023060901/session-garden-go/pkg/log"
	"github.com/lk2023060901/session-garden-go/pkg/util/merr"
	"github.com/lk2023060901/session-garden-go/pkg/util/retry"
)

const (
	pathInvalidate = "/v1/sessions/invalidate"
	pathWhoAmI     = "/v1/sessions/me"

	defaultTimeout  = 5 * time.Second
	defaultAttempts = 3
)

// Config 描述认证服务 REST 客户端的配置。
type Config struct {
	BaseURL string

	// Timeout 为单次请求超时。
	Timeout time.Duration
	// Attempts 为 5xx 时的最大重试次数。
	Attempts uint
}

// Client 是认证服务的 REST 客户端。
//
// 仅服务器侧错误（5xx、网络错误）会重试；
// 4xx 属于业务结论，直接返回。
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, merr.WrapErrParameterInvalidMsg("authapi: BaseURL is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultAttempts
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// InvalidateToken 通知服务器废弃指定令牌。
// 令牌已不存在时服务器同样返回成功，调用方无需区分。
func (c *Client) InvalidateToken(ctx context.Context, token string) error {
	if token == "" {
		return merr.WrapErrTokenMissing("invalidate")
	}

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return merr.WrapErrParameterInvalidMsg("authapi: marshal invalidate body: %v", err)
	}

	return retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+pathInvalidate, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return merr.WrapErrServiceUnavailable(err.Error(), "invalidate token")
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return merr.WrapErrServiceUnavailable(
				fmt.Sprintf("status %d", resp.StatusCode), "invalidate token")
		default:
			return retry.Unrecoverable(merr.WrapErrServiceInternal(
				fmt.Sprintf("invalidate token: unexpected status %d", resp.StatusCode)))
		}
	}, retry.Attempts(c.cfg.Attempts))
}

// WhoAmI 以指定令牌查询当前会话的用户记录。
//
// 返回值含义：
//   - (raw, true, nil)  ：令牌有效，raw 为服务器返回的用户记录；
//   - (nil, false, nil) ：服务器明确告知会话不存在（401/404/410）；
//   - (nil, false, err) ：查询失败，无法得出结论。
func (c *Client) WhoAmI(ctx context.Context, token string) (json.RawMessage, bool, error) {
	if token == "" {
		return nil, false, merr.WrapErrTokenMissing("whoami")
	}

	var raw json.RawMessage
	var ok bool

	err := retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.cfg.BaseURL+pathWhoAmI, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return merr.WrapErrServiceUnavailable(err.Error(), "whoami")
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return merr.WrapErrServiceUnavailable(err.Error(), "whoami read body")
			}
			raw = json.RawMessage(data)
			ok = true
			return nil
		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusNotFound,
			resp.StatusCode == http.StatusGone:
			log.Debug("whoami: session not found", zap.Int("status", resp.StatusCode))
			raw, ok = nil, false
			return nil
		case resp.StatusCode >= 500:
			return merr.WrapErrServiceUnavailable(
				fmt.Sprintf("status %d", resp.StatusCode), "whoami")
		default:
			return retry.Unrecoverable(merr.WrapErrServiceInternal(
				fmt.Sprintf("whoami: unexpected status %d", resp.StatusCode)))
		}
	}, retry.Attempts(c.cfg.Attempts))
	if err != nil {
		return nil, false, err
	}
	return raw, ok, nil
}
