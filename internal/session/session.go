package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/client/internal/api"
	"tempmail/client/internal/auth"
	"tempmail/client/internal/credential"
	"tempmail/client/internal/monitoring"
)

// AuthAPI 会话管理器需要的身份生命周期端点
//
// 接口定义在消费方，api.Client 天然满足。
type AuthAPI interface {
	Login(ctx context.Context, args api.LoginArgs) (*api.LoginResult, error)
	Logout(ctx context.Context) error
}

// State 会话状态快照
//
// 认证标志和身份永远作为一个整体更新，不存在其中一个
// 相对另一个过期的窗口。
type State struct {
	Authenticated bool
	Identity      credential.Identity
}

// Manager 会话状态机
//
// 状态只在 Unauthenticated 和 Authenticated 之间循环：
// 成功登录 -> Authenticated，显式或强制登出 -> Unauthenticated。
type Manager struct {
	store   credential.Store
	authAPI AuthAPI
	log     *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time

	mu       sync.Mutex
	state    State
	subs     map[int]chan State
	nextSub  int
	onLogout func() // UI 导航钩子，登出后回到登录界面
}

// Options 会话管理器选项
type Options struct {
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
	OnLogout func()
	Now      func() time.Time // 测试用时钟
}

// NewManager 创建会话管理器
func NewManager(store credential.Store, authAPI AuthAPI, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.New(nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		store:    store,
		authAPI:  authAPI,
		log:      log,
		metrics:  metrics,
		now:      now,
		subs:     make(map[int]chan State),
		onLogout: opts.OnLogout,
	}
}

// Initialize 从凭证存储恢复会话状态
//
// 纯本地判定，绝不发起网络调用——这是页面重载不会触发
// 假性登出的原因。令牌缺失、过期或不可解析都静默落在
// 未认证态。
func (m *Manager) Initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := credential.Load(m.store)
	if !ok {
		m.setStateLocked(State{})
		m.log.Debug("no stored credential, starting unauthenticated")
		return
	}

	if !auth.TokenUsable(cred.Token, m.now()) {
		m.setStateLocked(State{})
		m.log.Info("stored token expired or undecodable, starting unauthenticated")
		return
	}

	m.setStateLocked(State{Authenticated: true, Identity: cred.Identity})
	m.log.Info("session restored from stored credential",
		zap.String("subject", cred.Identity.Subject))
}

// Login 登录并整体替换存储的凭证
//
// 身份在客户端派生：subject 取自令牌声明，显示名取登录
// 邮箱的本地部分，不回查服务端。
func (m *Manager) Login(ctx context.Context, email, password string) error {
	result, err := m.authAPI.Login(ctx, api.LoginArgs{Email: email, Password: password})
	if err != nil {
		return err
	}

	identity := credential.Identity{
		Email:       result.Email,
		DisplayName: credential.DisplayNameFromEmail(result.Email),
	}
	if identity.Email == "" {
		identity.Email = email
		identity.DisplayName = credential.DisplayNameFromEmail(email)
	}
	if claims, err := auth.DecodeClaims(result.Token); err == nil {
		identity.Subject = claims.Subject
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := credential.Save(m.store, credential.Credential{Token: result.Token, Identity: identity}); err != nil {
		// 写入中断可能留下新令牌配旧身份的半对凭证，清空两个槽位
		// 回到"任一缺失即未认证"的不变式
		if clearErr := m.store.Clear(); clearErr != nil {
			m.log.Error("failed to clear partially written credential", zap.Error(clearErr))
		}
		m.setStateLocked(State{})
		return err
	}
	m.setStateLocked(State{Authenticated: true, Identity: identity})
	m.metrics.SessionLogins.Inc()

	m.log.Info("login successful", zap.String("email", identity.Email))
	return nil
}

// Logout 显式登出
//
// 有令牌时尽力通知服务端（成功失败结局相同），然后清除
// 凭证并转入未认证态。没有令牌就完全跳过网络调用。
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	_, hasToken := credential.Load(m.store)
	m.mu.Unlock()

	if hasToken {
		if err := m.authAPI.Logout(ctx); err != nil {
			m.log.Debug("server logout notification failed, continuing", zap.Error(err))
		}
	}

	m.clearSession()
	m.metrics.SessionLogouts.Inc()
	m.log.Info("logged out")
}

// ForceLogout 强制登出，从不发起网络调用
//
// 仅由失败分类器使用：强制登出往往正是由一个失败的已认证
// 调用引起的，再发一次网络调用会造成死循环。对空凭证重复
// 调用是无害的空操作。
func (m *Manager) ForceLogout() {
	m.clearSession()
	m.metrics.ForcedLogouts.Inc()
	m.log.Warn("session forcibly terminated")
}

// clearSession 清除凭证并广播未认证态
//
// 存储已空且处于未认证态时是空操作：登出请求被拒触发强制
// 登出后，显式登出的第二次清除不再重复导航钩子。
func (m *Manager) clearSession() {
	m.mu.Lock()
	_, hasCred := credential.Load(m.store)
	if !hasCred && !m.state.Authenticated {
		m.mu.Unlock()
		return
	}

	if err := m.store.Clear(); err != nil {
		m.log.Error("failed to clear credential store", zap.Error(err))
	}
	m.setStateLocked(State{})
	onLogout := m.onLogout
	m.mu.Unlock()

	if onLogout != nil {
		onLogout()
	}
}

// IsAuthenticated 返回当前认证标志
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Authenticated
}

// CurrentIdentity 返回当前身份，未认证时 ok=false
func (m *Manager) CurrentIdentity() (credential.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Identity, m.state.Authenticated
}

// Token 返回当前存储的令牌，未认证或缺失时返回空串
//
// 作为 api.TokenSource 挂到出站请求上
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.store.Token()
	if err != nil {
		return ""
	}
	return token
}

// Subscribe 订阅会话状态流
//
// 订阅时立即回放当前状态；通道缓冲一个最新值，慢消费者
// 只会看到最近的状态。返回的取消函数用于退订。
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan State, 1)
	ch <- m.state
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// setStateLocked 更新状态并广播，调用方必须持有 m.mu
func (m *Manager) setStateLocked(s State) {
	m.state = s

	if s.Authenticated {
		m.metrics.SessionAuthenticated.Set(1)
	} else {
		m.metrics.SessionAuthenticated.Set(0)
	}

	for _, ch := range m.subs {
		// 最新值语义：先腾掉旧值再写入
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
