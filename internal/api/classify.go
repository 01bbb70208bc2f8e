package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ErrSessionExpired 统一的会话失效错误
//
// 分类器识别出会话失效后，所有下游错误处理只会看到这一种错误，
// 不需要关心触发的是哪条具体规则。
var ErrSessionExpired = errors.New("your session has expired, please sign in again")

// identityMissingMarker 服务端在请求上下文缺少调用者身份时
// 返回的 500 错误消息标记，与后端的措辞保持一致
const identityMissingMarker = "user identity not found in request context"

// 身份生命周期端点：只有这两个端点上的 401 才意味着会话失效
const (
	EndpointLogin  = "/auth/login"
	EndpointLogout = "/auth/logout"
)

// Classifier 出站请求失败分类器
//
// 对每个出站请求的失败结果做一次集中分类：网络分区、会话失效、
// 普通业务错误。只有会话失效会触发强制登出。
type Classifier struct {
	forceLogout func()      // 会话失效时调用，恰好一次每次发生
	online      func() bool // 连通性信号，离线时一切失败都不算会话问题
	log         *zap.Logger
}

// NewClassifier 创建失败分类器
//
// forceLogout 通过 SetForceLogout 在装配阶段注入，
// 避免 api 与 session 包互相依赖。
func NewClassifier(log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{
		online: func() bool { return true },
		log:    log,
	}
}

// SetForceLogout 注入会话失效处理函数
func (c *Classifier) SetForceLogout(fn func()) {
	c.forceLogout = fn
}

// SetOnline 注入连通性信号（默认视为始终在线）
func (c *Classifier) SetOnline(fn func() bool) {
	if fn != nil {
		c.online = fn
	}
}

// Classify 按序评估失败分类决策表
//
//  1. 传输失败（拿不到 HTTP 状态）或离线 -> 原样返回，不惩罚离线用户
//  2. 身份生命周期端点上的 401 -> 会话失效
//  3. 500 且错误体包含身份缺失标记 -> 会话失效
//  4. 其他端点上的 401 -> 仅记录日志，原样返回（服务端重启后的
//     后台调用可能合法地 401，不代表用户会话已死）
//  5. 其余错误 -> 原样返回
func (c *Classifier) Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// 传输失败，没有状态码可看
		return err
	}
	if !c.online() {
		return err
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized && isIdentityEndpoint(apiErr.Endpoint):
		return c.sessionFailure(apiErr)

	case apiErr.StatusCode == http.StatusInternalServerError &&
		strings.Contains(apiErr.Message, identityMissingMarker):
		return c.sessionFailure(apiErr)

	case apiErr.StatusCode == http.StatusUnauthorized:
		c.log.Info("401 on non-identity endpoint, not treating as session failure",
			zap.String("endpoint", apiErr.Endpoint))
		return err

	default:
		return err
	}
}

// sessionFailure 触发强制登出并返回统一的用户可见错误
func (c *Classifier) sessionFailure(apiErr *APIError) error {
	c.log.Warn("session failure detected, forcing logout",
		zap.String("endpoint", apiErr.Endpoint),
		zap.Int("status", apiErr.StatusCode))

	if c.forceLogout != nil {
		c.forceLogout()
	}

	return fmt.Errorf("%w: %v", ErrSessionExpired, apiErr)
}

func isIdentityEndpoint(endpoint string) bool {
	return endpoint == EndpointLogin || endpoint == EndpointLogout
}
