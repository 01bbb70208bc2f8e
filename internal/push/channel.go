package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/client/internal/credential"
	"tempmail/client/internal/monitoring"
)

// State 推送通道连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler 接收入站帧，由通知分发器实现
type Handler func(message []byte)

// DialFunc 建立一次 WebSocket 连接（测试时可替换）
type DialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error)

// Config 推送通道配置
type Config struct {
	URL                  string        // 推送端点地址
	ReconnectDelay       time.Duration // 重连固定延迟（无退避，按规约保持平坦）
	MaxReconnectAttempts int           // 重连次数上限，达到后静默放弃
	HeartbeatInterval    time.Duration // 双向心跳间隔
	HandshakeTimeout     time.Duration // 握手超时
	WriteTimeout         time.Duration // 单帧写超时
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Options 推送通道可选依赖
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Dial    DialFunc // 默认使用 gorilla dialer
}

// subscribeMessage 连接建立后发送的唯一订阅帧
type subscribeMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Channel 推送通道
//
// 为一个已认证会话维持恰好一条逻辑订阅。连接幂等：已在
// Connecting 或 Connected 态时 Connect 是空操作，防止快速
// 重复调用产生重复订阅。断开后按固定延迟重试，计数器只在
// 成功打开时清零，手动 Disconnect 不会清零。
type Channel struct {
	cfg        Config
	instanceID string // 每个进程实例一条连接，实例标识随连接上报
	tokenFn    func() string
	handler    Handler
	dial       DialFunc
	log        *zap.Logger
	metrics    *monitoring.Metrics

	mu         sync.Mutex
	state      State
	identity   *credential.Identity
	attempts   int
	conn       *websocket.Conn
	gen        uint64 // 连接代数，隔离过期连接的回调
	retryTimer *time.Timer
}

// NewChannel 创建推送通道
func NewChannel(cfg Config, tokenFn func() string, handler Handler, opts Options) *Channel {
	cfg.applyDefaults()

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.New(nil)
	}
	if tokenFn == nil {
		tokenFn = func() string { return "" }
	}
	if handler == nil {
		handler = func([]byte) {}
	}

	ch := &Channel{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		tokenFn:    tokenFn,
		handler:    handler,
		dial:       opts.Dial,
		log:        log,
		metrics:    metrics,
	}
	if ch.dial == nil {
		ch.dial = ch.defaultDial
	}
	return ch
}

func (ch *Channel) defaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: ch.cfg.HandshakeTimeout,
	}
	return dialer.DialContext(ctx, url, header)
}

// State 返回当前连接状态
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Connect 为给定身份打开通道
//
// 已在连接中或已连接时直接返回（幂等守卫）。
func (ch *Channel) Connect(identity credential.Identity) {
	ch.mu.Lock()
	if ch.state == StateConnecting || ch.state == StateConnected {
		ch.mu.Unlock()
		ch.log.Debug("connect ignored, channel already active")
		return
	}

	id := identity
	ch.identity = &id
	ch.setStateLocked(StateConnecting)
	gen := ch.newGenLocked()
	ch.mu.Unlock()

	go ch.attempt(gen, id)
}

// Disconnect 主动断开通道
//
// 仅在已连接或连接进行中时生效；清除存储的身份，保证之后
// 不会再有重连触发。注意：不重置重连计数器。
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.state == StateDisconnected {
		return
	}

	ch.identity = nil
	ch.newGenLocked()
	if ch.retryTimer != nil {
		ch.retryTimer.Stop()
		ch.retryTimer = nil
	}
	if ch.conn != nil {
		ch.conn.Close()
		ch.conn = nil
	}
	ch.setStateLocked(StateDisconnected)
	ch.log.Info("push channel disconnected")
}

// attempt 执行一次连接尝试
func (ch *Channel) attempt(gen uint64, identity credential.Identity) {
	header := http.Header{}
	if token := ch.tokenFn(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	header.Set("X-Client-Identity", identity.Subject)
	header.Set("X-Client-Instance", ch.instanceID)

	ctx, cancel := context.WithTimeout(context.Background(), ch.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := ch.dial(ctx, ch.cfg.URL, header)
	if resp != nil && resp.Body != nil && err != nil {
		resp.Body.Close()
	}

	ch.mu.Lock()
	if ch.gen != gen || ch.identity == nil {
		// Disconnect 抢先一步，丢弃这次尝试
		ch.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		ch.log.Warn("push channel open failed", zap.Error(err))
		ch.setStateLocked(StateFailed)
		ch.scheduleReconnectLocked()
		ch.mu.Unlock()
		return
	}

	ch.conn = conn
	ch.attempts = 0 // 计数器只在成功打开时清零
	ch.setStateLocked(StateConnected)
	ch.metrics.PushConnects.Inc()
	topic := "user:" + identity.Subject
	ch.mu.Unlock()

	ch.log.Info("push channel connected", zap.String("topic", topic))

	// 恰好订阅一个按身份划分的主题
	if err := ch.writeJSON(conn, subscribeMessage{Type: "subscribe", Topic: topic}); err != nil {
		ch.log.Warn("failed to send subscribe frame", zap.Error(err))
		ch.connectionLost(gen, err)
		return
	}

	go ch.readLoop(gen, conn)
	go ch.heartbeatLoop(gen, conn)
}

func (ch *Channel) writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(ch.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop 读取入站帧并交给处理器
//
// 读超时由心跳续期：错过心跳会把读循环打断，走同一条重连路径。
func (ch *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	readTimeout := 3 * ch.cfg.HeartbeatInterval

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(ch.cfg.WriteTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ch.log.Warn("push channel read error", zap.Error(err))
			}
			ch.connectionLost(gen, err)
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		if len(message) > 0 {
			ch.handler(message)
		}
	}
}

// heartbeatLoop 按固定间隔发送 ping
func (ch *Channel) heartbeatLoop(gen uint64, conn *websocket.Conn) {
	ticker := time.NewTicker(ch.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		ch.mu.Lock()
		alive := ch.gen == gen && ch.state == StateConnected
		ch.mu.Unlock()
		if !alive {
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ch.cfg.WriteTimeout)); err != nil {
			ch.connectionLost(gen, err)
			return
		}
	}
}

// connectionLost 处理协议错误或通道异常关闭
//
// 读循环和心跳循环可能为同一次断开各报告一次；推进代数让
// 后到的一方被过滤，一次断开只计一次重连。
func (ch *Channel) connectionLost(gen uint64, err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.gen != gen {
		// 过期连接的回调，当前连接不受影响
		return
	}
	ch.newGenLocked()

	if ch.conn != nil {
		ch.conn.Close()
		ch.conn = nil
	}
	ch.setStateLocked(StateFailed)
	ch.scheduleReconnectLocked()
}

// scheduleReconnectLocked 安排一次重连，调用方必须持有 ch.mu
//
// 身份已清除（主动断开）或计数器达到上限时静默放弃；
// 连通性丢失由上层通过其他途径呈现，不在本层范围。
func (ch *Channel) scheduleReconnectLocked() {
	if ch.identity == nil {
		return
	}
	if ch.attempts >= ch.cfg.MaxReconnectAttempts {
		ch.log.Warn("push channel giving up after max reconnect attempts",
			zap.Int("attempts", ch.attempts))
		return
	}

	ch.attempts++
	ch.metrics.PushReconnectAttempts.Inc()
	ch.log.Info("scheduling push channel reconnect",
		zap.Int("attempt", ch.attempts),
		zap.Duration("delay", ch.cfg.ReconnectDelay))

	ch.retryTimer = time.AfterFunc(ch.cfg.ReconnectDelay, func() {
		ch.mu.Lock()
		if ch.identity == nil || ch.state != StateFailed {
			ch.mu.Unlock()
			return
		}
		id := *ch.identity
		ch.setStateLocked(StateConnecting)
		gen := ch.newGenLocked()
		ch.mu.Unlock()

		ch.attempt(gen, id)
	})
}

// newGenLocked 推进连接代数，调用方必须持有 ch.mu
func (ch *Channel) newGenLocked() uint64 {
	ch.gen++
	return ch.gen
}

// setStateLocked 更新状态及指标，调用方必须持有 ch.mu
func (ch *Channel) setStateLocked(s State) {
	ch.state = s
	ch.metrics.PushState.Set(float64(s))
}
