package optimistic

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/client/internal/monitoring"
)

// Patch 存储无关的状态补丁
//
// 协调器只做记账，从不解释补丁内容；补丁和逆补丁如何应用到
// 本地状态完全是调用方的约定。
type Patch map[string]interface{}

// Update 一次乐观更新的描述
type Update struct {
	Key     string // 确定性键：相同逻辑变更的两次调用碰撞到同一个键
	Label   string // 人类可读的操作名，失败提示的回退文案
	Patch   Patch  // 立即可见的乐观补丁
	Inverse Patch  // 回滚所需的逆补丁（调用方契约，协调器不自动应用）
}

// PendingUpdate 在途乐观更新的记账记录
type PendingUpdate struct {
	Key       string
	Label     string
	Patch     Patch
	Inverse   Patch
	CreatedAt time.Time

	seq uint64 // 单调递增的最后写入者令牌
}

// FailureNotice 服务端拒绝后呈现给用户的可重试提示
type FailureNotice struct {
	Key     string
	Label   string
	Message string
}

// userMessenger 携带适合展示给用户的服务端消息的错误
// （api.APIError 实现了它）
type userMessenger interface {
	UserMessage() string
}

// Coordinator 乐观更新协调器
//
// 把一次服务端变更包装成立即可见的本地状态变化，作为在途
// 记录追踪，并在服务端响应后对账（提交或回滚）。每个键最多
// 存在一条在途记录，相同键的第二次更新替换而不是叠加第一次。
type Coordinator struct {
	log       *zap.Logger
	metrics   *monitoring.Metrics
	onFailure func(FailureNotice)

	mu      sync.Mutex
	pending map[string]*PendingUpdate
	seq     uint64
	subs    map[int]chan []PendingUpdate
	nextSub int
}

// Options 协调器选项
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	// OnFailure 在服务端拒绝后调用，呈现可重试提示
	OnFailure func(FailureNotice)
}

// NewCoordinator 创建乐观更新协调器
func NewCoordinator(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.New(nil)
	}

	return &Coordinator{
		log:       log,
		metrics:   metrics,
		onFailure: opts.OnFailure,
		pending:   make(map[string]*PendingUpdate),
		subs:      make(map[int]chan []PendingUpdate),
	}
}

// MutationKey 从操作名和受影响的标识符派生确定性键
//
// 标识符先排序再拼接，描述同一逻辑变更的两次调用得到同一个键。
func MutationKey(action string, ids ...string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return action + ":" + strings.Join(sorted, ",")
}

// Perform 执行一次乐观更新
//
// 调用时同步记录在途记录并发布在途集合——紧随其后的 UI 读取
// 保证能看到新记录。serverCall 返回后对账：成功时移除记录并
// 信任乐观值（不强制回读）；失败时移除记录、发出可重试提示，
// 并把原始错误原样返回，既有的错误处理（如失败分类器）不受
// 影响——协调器从不吞错误，只在周围加记账。
//
// 同一个键上有更晚的更新时，过期的完成回调不再触碰记账
// （最后写入者令牌判定），但仍返回自己的错误。
func (c *Coordinator) Perform(ctx context.Context, update Update, serverCall func(context.Context) error) error {
	if update.Key == "" {
		return errors.New("optimistic update requires a key")
	}

	c.mu.Lock()
	c.seq++
	entry := &PendingUpdate{
		Key:       update.Key,
		Label:     update.Label,
		Patch:     update.Patch,
		Inverse:   update.Inverse,
		CreatedAt: time.Now(),
		seq:       c.seq,
	}
	c.pending[update.Key] = entry
	c.publishLocked()
	c.mu.Unlock()

	c.log.Debug("optimistic update pending", zap.String("key", update.Key))

	err := serverCall(ctx)

	c.mu.Lock()
	current, ok := c.pending[update.Key]
	owns := ok && current.seq == entry.seq
	if owns {
		delete(c.pending, update.Key)
		c.publishLocked()
	}
	c.mu.Unlock()

	if !owns {
		// 同一键上更晚的更新已经接管记账
		c.log.Debug("stale optimistic completion ignored", zap.String("key", update.Key))
		return err
	}

	if err != nil {
		c.metrics.MutationsTotal.WithLabelValues("failure").Inc()
		c.notifyFailure(update, err)
		return err
	}

	c.metrics.MutationsTotal.WithLabelValues("success").Inc()
	c.log.Debug("optimistic update committed", zap.String("key", update.Key))
	return nil
}

// notifyFailure 组装失败提示：服务端消息 > 操作名 > 通用文案
func (c *Coordinator) notifyFailure(update Update, err error) {
	message := ""
	var messenger userMessenger
	if errors.As(err, &messenger) {
		message = messenger.UserMessage()
	}
	if message == "" {
		message = update.Label
	}
	if message == "" {
		message = "operation failed, please try again"
	}

	c.log.Info("optimistic update rejected by server",
		zap.String("key", update.Key),
		zap.String("message", message))

	if c.onFailure != nil {
		c.onFailure(FailureNotice{
			Key:     update.Key,
			Label:   update.Label,
			Message: message,
		})
	}
}

// IsPending 判定给定键是否有在途更新
//
// 渲染代码用它在变更未决期间抑制冲突的 UI 操作。
func (c *Coordinator) IsPending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// PendingUpdate 返回给定键的在途记录
func (c *Coordinator) PendingUpdate(key string) (PendingUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[key]
	if !ok {
		return PendingUpdate{}, false
	}
	return *entry, true
}

// Pending 返回在途集合快照
func (c *Coordinator) Pending() []PendingUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe 订阅在途集合流
//
// 订阅时立即回放当前集合；通道缓冲一个最新值。
func (c *Coordinator) Subscribe() (<-chan []PendingUpdate, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan []PendingUpdate, 1)
	ch <- c.snapshotLocked()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// snapshotLocked 复制在途集合，调用方必须持有 c.mu
func (c *Coordinator) snapshotLocked() []PendingUpdate {
	out := make([]PendingUpdate, 0, len(c.pending))
	for _, entry := range c.pending {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// publishLocked 向订阅者广播在途集合，调用方必须持有 c.mu
func (c *Coordinator) publishLocked() {
	c.metrics.PendingMutations.Set(float64(len(c.pending)))

	snapshot := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
