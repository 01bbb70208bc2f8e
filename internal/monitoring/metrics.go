package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 客户端核心监控指标
type Metrics struct {
	// 会话指标
	SessionLogins        prometheus.Counter
	SessionLogouts       prometheus.Counter
	ForcedLogouts        prometheus.Counter
	SessionAuthenticated prometheus.Gauge

	// 推送通道指标
	PushConnects          prometheus.Counter
	PushReconnectAttempts prometheus.Counter
	PushState             prometheus.Gauge

	// 通知指标
	NotificationsDispatched *prometheus.CounterVec
	NotificationsDropped    prometheus.Counter

	// 乐观更新指标
	PendingMutations prometheus.Gauge
	MutationsTotal   *prometheus.CounterVec
}

// New 创建监控指标集
//
// reg 为 nil 时指标不注册（用于测试）
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionLogins: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_client_session_logins_total",
			Help: "Total number of successful logins",
		}),
		SessionLogouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_client_session_logouts_total",
			Help: "Total number of explicit logouts",
		}),
		ForcedLogouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_client_forced_logouts_total",
			Help: "Total number of forced logouts triggered by the failure classifier",
		}),
		SessionAuthenticated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_client_session_authenticated",
			Help: "Whether the client currently holds a usable credential (1 or 0)",
		}),
		PushConnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_client_push_connects_total",
			Help: "Total number of successful push channel opens",
		}),
		PushReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_client_push_reconnect_attempts_total",
			Help: "Total number of scheduled push channel reconnect attempts",
		}),
		PushState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_client_push_state",
			Help: "Push channel state (0 disconnected, 1 connecting, 2 connected, 3 failed)",
		}),
		NotificationsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempmail_client_notifications_dispatched_total",
			Help: "Total number of notifications dispatched to subscribers",
		}, []string{"type"}),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_client_notifications_dropped_total",
			Help: "Total number of inbound push frames dropped as undecodable",
		}),
		PendingMutations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_client_pending_mutations",
			Help: "Number of optimistic mutations currently awaiting server reconciliation",
		}),
		MutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tempmail_client_mutations_total",
			Help: "Total number of reconciled optimistic mutations by result",
		}, []string{"result"}),
	}
}
