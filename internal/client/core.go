package client

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tempmail/client/internal/api"
	"tempmail/client/internal/config"
	"tempmail/client/internal/credential"
	"tempmail/client/internal/monitoring"
	"tempmail/client/internal/notify"
	"tempmail/client/internal/optimistic"
	"tempmail/client/internal/push"
	"tempmail/client/internal/session"
)

// Core 同步与会话完整性核心
//
// 显式构造、依赖注入的聚合对象，带 Init/Dispose 生命周期，
// 由需要它的调用方持有——不是模块级单例，多实例场景
// （一个进程内多个逻辑会话）和测试都因此可行。
type Core struct {
	Credentials   credential.Store
	API           *api.Client
	Session       *session.Manager
	Push          *push.Channel
	Notifications *notify.Dispatcher
	Mutations     *optimistic.Coordinator
	Metrics       *monitoring.Metrics

	log         *zap.Logger
	cancelWatch func()
	watchDone   chan struct{}
}

// Options 核心装配选项
type Options struct {
	Logger   *zap.Logger
	Registry prometheus.Registerer // nil 时指标不注册

	// CredentialStore 覆盖配置选择的凭证后端（测试用）
	CredentialStore credential.Store
	// Dial 覆盖推送通道的拨号函数（测试用）
	Dial push.DialFunc
	// Online 连通性信号，交给失败分类器
	Online func() bool
	// OnLogout UI 导航钩子：登出后回到登录界面
	OnLogout func()
	// OnMutationFailure 乐观更新被拒后的用户提示钩子
	OnMutationFailure func(optimistic.FailureNotice)
}

// New 按配置装配核心
//
// 装配顺序解开 api 与 session 的环：分类器先以空的强制登出
// 钩子创建，会话管理器就位后再注入。
func New(cfg *config.Config, opts Options) (*Core, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	store := opts.CredentialStore
	if store == nil {
		var err error
		store, err = newStore(cfg.Credential)
		if err != nil {
			return nil, err
		}
	}

	metrics := monitoring.New(opts.Registry)

	classifier := api.NewClassifier(log.Named("classifier"))
	if opts.Online != nil {
		classifier.SetOnline(opts.Online)
	}

	var sess *session.Manager
	apiClient := api.NewClient(cfg.API.BaseURL, api.Options{
		Timeout:    cfg.API.Timeout,
		Classifier: classifier,
		Logger:     log.Named("api"),
		TokenSource: func() string {
			if sess == nil {
				return ""
			}
			return sess.Token()
		},
	})

	sess = session.NewManager(store, apiClient, session.Options{
		Logger:   log.Named("session"),
		Metrics:  metrics,
		OnLogout: opts.OnLogout,
	})
	classifier.SetForceLogout(sess.ForceLogout)

	dispatcher := notify.NewDispatcher(log.Named("notify"), metrics)

	channel := push.NewChannel(push.Config{
		URL:                  cfg.Push.URL,
		ReconnectDelay:       cfg.Push.ReconnectDelay,
		MaxReconnectAttempts: cfg.Push.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Push.HeartbeatInterval,
		HandshakeTimeout:     cfg.Push.HandshakeTimeout,
		WriteTimeout:         cfg.Push.WriteTimeout,
	}, sess.Token, dispatcher.Dispatch, push.Options{
		Logger:  log.Named("push"),
		Metrics: metrics,
		Dial:    opts.Dial,
	})

	coordinator := optimistic.NewCoordinator(optimistic.Options{
		Logger:    log.Named("optimistic"),
		Metrics:   metrics,
		OnFailure: opts.OnMutationFailure,
	})

	return &Core{
		Credentials:   store,
		API:           apiClient,
		Session:       sess,
		Push:          channel,
		Notifications: dispatcher,
		Mutations:     coordinator,
		Metrics:       metrics,
		log:           log,
	}, nil
}

// newStore 按配置创建凭证存储后端
func newStore(cfg config.CredentialConfig) (credential.Store, error) {
	switch cfg.Backend {
	case "memory":
		return credential.NewMemoryStore(), nil
	case "file":
		return credential.NewFileStore(cfg.Path)
	case "keyring":
		return credential.NewKeyringStore(credential.KeyringConfig{
			Service: cfg.Service,
			FileDir: cfg.Path,
		})
	default:
		return nil, fmt.Errorf("unknown credential backend %q", cfg.Backend)
	}
}

// Init 恢复会话并接通推送
//
// 会话从存储恢复（纯本地）；已认证则立即连接推送通道。
// 之后跟随会话状态流：登录接通，登出断开。
func (c *Core) Init() {
	c.Session.Initialize()

	states, cancel := c.Session.Subscribe()
	c.cancelWatch = cancel
	c.watchDone = make(chan struct{})

	go func() {
		defer close(c.watchDone)
		for state := range states {
			if state.Authenticated {
				c.Push.Connect(state.Identity)
			} else {
				c.Push.Disconnect()
			}
		}
	}()
}

// Dispose 拆除核心
func (c *Core) Dispose() {
	if c.cancelWatch != nil {
		c.cancelWatch()
		<-c.watchDone
	}
	c.Push.Disconnect()
	c.log.Info("sync core disposed")
}
