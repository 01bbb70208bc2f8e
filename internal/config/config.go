package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIConfig 定义 REST API 客户端配置
type APIConfig struct {
	BaseURL string        // 服务端 API 根地址，如 "https://api.temp.mail"
	Timeout time.Duration // 单次请求超时时间，默认 30s
}

// PushConfig 定义推送通道（WebSocket）配置
type PushConfig struct {
	URL                  string        // 推送通道地址，如 "wss://api.temp.mail/ws"，留空时从 API 地址推导
	ReconnectDelay       time.Duration // 重连固定延迟，默认 5s
	MaxReconnectAttempts int           // 最大重连次数，达到后静默放弃，默认 10
	HeartbeatInterval    time.Duration // 双向心跳间隔，默认 10s
	HandshakeTimeout     time.Duration // WebSocket 握手超时，默认 5s
	WriteTimeout         time.Duration // 单帧写超时，默认 10s
}

// CredentialConfig 定义凭证持久化配置
type CredentialConfig struct {
	Backend string // 存储后端: "keyring"、"file" 或 "memory"
	Path    string // file 后端的存储目录，默认 ~/.config/tempmail
	Service string // keyring 后端的服务名，默认 "tempmail"
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色控制台输出
	File        string // 日志文件路径，留空仅输出到控制台
}

// DebugConfig 定义调试服务配置（指标与健康检查）
type DebugConfig struct {
	Addr string // 监听地址，如 "127.0.0.1:9090"，留空禁用
}

// Config 是客户端核心配置的根结构体
type Config struct {
	API        APIConfig        // API 客户端配置
	Push       PushConfig       // 推送通道配置
	Credential CredentialConfig // 凭证存储配置
	Log        LogConfig        // 日志配置
	Debug      DebugConfig      // 调试服务配置
}

// Load 从环境变量和 .env 文件加载客户端配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAIL_CLIENT_
// 例如: TEMPMAIL_CLIENT_API_BASE_URL, TEMPMAIL_CLIENT_PUSH_URL
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，.env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail_client")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("push.url", "")
	v.SetDefault("push.reconnect_delay", "5s")
	v.SetDefault("push.max_reconnect_attempts", 10)
	v.SetDefault("push.heartbeat_interval", "10s")
	v.SetDefault("push.handshake_timeout", "5s")
	v.SetDefault("push.write_timeout", "10s")
	v.SetDefault("credential.backend", "keyring")
	v.SetDefault("credential.path", "")
	v.SetDefault("credential.service", "tempmail")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("debug.addr", "")

	baseURL := strings.TrimRight(v.GetString("api.base_url"), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api.base_url must not be empty (set TEMPMAIL_CLIENT_API_BASE_URL)")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid api.base_url: %w", err)
	}

	pushURL := v.GetString("push.url")
	if pushURL == "" {
		derived, err := derivePushURL(baseURL)
		if err != nil {
			return nil, err
		}
		pushURL = derived
	}

	maxAttempts := v.GetInt("push.max_reconnect_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	backend := strings.ToLower(v.GetString("credential.backend"))
	switch backend {
	case "keyring", "file", "memory":
	default:
		return nil, fmt.Errorf("invalid credential.backend %q (expected keyring, file or memory)", backend)
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL: baseURL,
			Timeout: durationOr(v, "api.timeout", 30*time.Second),
		},
		Push: PushConfig{
			URL:                  pushURL,
			ReconnectDelay:       durationOr(v, "push.reconnect_delay", 5*time.Second),
			MaxReconnectAttempts: maxAttempts,
			HeartbeatInterval:    durationOr(v, "push.heartbeat_interval", 10*time.Second),
			HandshakeTimeout:     durationOr(v, "push.handshake_timeout", 5*time.Second),
			WriteTimeout:         durationOr(v, "push.write_timeout", 10*time.Second),
		},
		Credential: CredentialConfig{
			Backend: backend,
			Path:    v.GetString("credential.path"),
			Service: v.GetString("credential.service"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Debug: DebugConfig{
			Addr: v.GetString("debug.addr"),
		},
	}

	return cfg, nil
}

// derivePushURL 从 API 根地址推导推送通道地址
//
// http -> ws, https -> wss，路径固定为 /ws
func derivePushURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid api.base_url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// 已经是 websocket 地址
	default:
		return "", fmt.Errorf("cannot derive push url from scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// durationOr 解析时长配置，解析失败时返回默认值
func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile 尝试从常见位置加载 .env 文件
func loadEnvFile() {
	candidates := []string{".env"}

	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(wd), ".env"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}
