package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second
)

// defaultHTTPClient 构造带有独立连接/TLS 超时的 HTTP 客户端
func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// TokenSource 为出站请求提供当前持有者令牌，返回空串表示未认证
type TokenSource func() string

// Options API 客户端选项
type Options struct {
	Timeout     time.Duration // 请求超时，默认 30s
	TokenSource TokenSource   // 令牌来源
	Classifier  *Classifier   // 失败分类器，每个出站失败都会经过它
	HTTPClient  *http.Client  // 自定义 HTTP 客户端（测试用）
	Logger      *zap.Logger
}

// Client tempmail 服务端 REST API 客户端
type Client struct {
	baseURL    string
	http       *http.Client
	tokenFn    TokenSource
	classifier *Classifier
	log        *zap.Logger
}

// NewClient 创建 API 客户端
func NewClient(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient(timeout)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	tokenFn := opts.TokenSource
	if tokenFn == nil {
		tokenFn = func() string { return "" }
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       httpClient,
		tokenFn:    tokenFn,
		classifier: opts.Classifier,
		log:        log,
	}
}

// responseEnvelope 服务端统一响应结构 {code, msg, data}
type responseEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do 执行一次请求并让分类器观察所有失败结果
func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokenFn(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// 传输失败：分类器规则 1，原样透传
		return c.classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classify(&APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody, resp.StatusCode),
			Endpoint:   endpoint,
		})
	}

	if out != nil {
		var envelope responseEnvelope
		if err := json.Unmarshal(respBody, &envelope); err == nil && len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return fmt.Errorf("failed to decode response data: %w", err)
			}
			return nil
		}
		// 非信封响应，整体解码
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) classify(err error) error {
	if c.classifier == nil {
		return err
	}
	return c.classifier.Classify(err)
}

// errorMessage 从错误响应体中提取最有用的消息
func errorMessage(body []byte, statusCode int) string {
	var envelope struct {
		Msg   string `json:"msg"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Msg != "" {
			return envelope.Msg
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}

	if trimmed := strings.TrimSpace(string(body)); trimmed != "" && len(trimmed) < 256 {
		return trimmed
	}
	return http.StatusText(statusCode)
}

// LoginArgs 登录请求参数
type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult 登录响应
type LoginResult struct {
	Token   string `json:"token"`
	Email   string `json:"email"`
	Message string `json:"message,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Login 登录并换取持有者令牌
func (c *Client) Login(ctx context.Context, args LoginArgs) (*LoginResult, error) {
	var result LoginResult
	if err := c.do(ctx, http.MethodPost, EndpointLogin, args, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout 通知服务端会话结束（无请求体）
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, EndpointLogout, nil, nil)
}

// MarkRead 标记邮件已读
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+messageID+"/read", nil, nil)
}

// DeleteMessage 删除邮件
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+messageID, nil, nil)
}

// starRequest 星标请求体
type starRequest struct {
	Starred bool `json:"starred"`
}

// StarMessage 设置或取消邮件星标
func (c *Client) StarMessage(ctx context.Context, messageID string, starred bool) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+messageID+"/star", starRequest{Starred: starred}, nil)
}
