package api

import "fmt"

// APIError 服务端返回的非 2xx 响应
//
// 传输层错误（连接失败、超时等）不会包装成 APIError，
// 它们原样向上传递——没有可用的 HTTP 状态码就谈不上分类。
type APIError struct {
	StatusCode int    // HTTP 状态码
	Message    string // 服务端结构化错误体中的消息
	Endpoint   string // 请求路径（不含查询参数）
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// UserMessage 返回适合直接展示给用户的服务端消息
func (e *APIError) UserMessage() string {
	return e.Message
}
