package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/client/internal/monitoring"
)

// Type 通知类型
type Type string

const (
	TypeNewEmail     Type = "NEW_EMAIL"
	TypeEmailRead    Type = "EMAIL_READ"
	TypeEmailDeleted Type = "EMAIL_DELETED"
)

// Notification 服务端推送的通知
//
// 线上格式: {type, messageId, timestamp}，NEW_EMAIL 额外携带
// from、subject、folder、preview。通知是瞬态的，只向当前订阅者
// 广播一次，最多回放一个最近值。
type Notification struct {
	Type      Type   `json:"type"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"` // 毫秒级 Unix 时间戳

	// 仅 NEW_EMAIL
	From    string `json:"from,omitempty"`
	Subject string `json:"subject,omitempty"`
	Folder  string `json:"folder,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// Time 返回通知时间
func (n Notification) Time() time.Time {
	return time.UnixMilli(n.Timestamp)
}

// Dispatcher 通知分发器
//
// 单槽广播：最近一条入站通知对所有当前和未来的订阅者可见。
// 同一个分发器实例跨重连存活，重连后的新订阅不会丢弃历史。
type Dispatcher struct {
	log     *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	last    *Notification
	subs    map[int]chan Notification
	nextSub int
}

// NewDispatcher 创建通知分发器
func NewDispatcher(log *zap.Logger, metrics *monitoring.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.New(nil)
	}
	return &Dispatcher{
		log:     log,
		metrics: metrics,
		subs:    make(map[int]chan Notification),
	}
}

// Dispatch 解码入站帧并广播
//
// 反序列化失败绝不能搞垮通道：记录日志后丢弃该帧，
// 流不更新，"最近一条"仍然可达。
func (d *Dispatcher) Dispatch(raw []byte) {
	n, err := decode(raw)
	if err != nil {
		if errors.Is(err, errControlFrame) {
			// 订阅确认、心跳等通道控制帧，不进入通知流
			return
		}
		d.metrics.NotificationsDropped.Inc()
		d.log.Warn("dropping undecodable push frame", zap.Error(err))
		return
	}

	d.mu.Lock()
	d.last = &n
	for _, ch := range d.subs {
		// 最多缓冲一个值：慢消费者只看到最新的
		select {
		case <-ch:
		default:
		}
		ch <- n
	}
	d.mu.Unlock()

	d.metrics.NotificationsDispatched.WithLabelValues(string(n.Type)).Inc()
	d.log.Debug("notification dispatched",
		zap.String("type", string(n.Type)),
		zap.String("messageId", n.MessageID))
}

// Subscribe 订阅通知流
//
// 已有最近值时立即回放。返回的取消函数用于退订。
func (d *Dispatcher) Subscribe() (<-chan Notification, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan Notification, 1)
	if d.last != nil {
		ch <- *d.last
	}
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Last 返回最近一条通知，尚无通知时 ok=false
func (d *Dispatcher) Last() (Notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Notification{}, false
	}
	return *d.last, true
}

// errControlFrame 标记非通知的通道控制帧
var errControlFrame = errors.New("channel control frame")

// decode 解码并校验一条通知
func decode(raw []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, err
	}

	switch n.Type {
	case TypeNewEmail, TypeEmailRead, TypeEmailDeleted:
	case "subscribed", "ping", "pong":
		return Notification{}, errControlFrame
	default:
		return Notification{}, fmt.Errorf("unknown notification type %q", n.Type)
	}
	if n.MessageID == "" {
		return Notification{}, fmt.Errorf("notification missing messageId")
	}
	return n, nil
}
