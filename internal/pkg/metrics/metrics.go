package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按方法/路径/状态码统计的请求总数。
	HTTPRequestsTotal *prometheus.CounterVec

	// RateLimitedTotal 被限流拒绝（429）的请求总数。
	RateLimitedTotal prometheus.Counter

	// StoreMutationsTotal 按操作名统计的存储层变更总数。
	StoreMutationsTotal *prometheus.CounterVec

	// ChangeNotificationsTotal 变更通知总线发布的通知总数。
	ChangeNotificationsTotal prometheus.Counter

	// DuplicateInstanceTotal 实例锁检测到重复实例的次数。
	DuplicateInstanceTotal prometheus.Counter

	// ReminderEmailsTotal 按结果统计的事件提醒邮件数。
	ReminderEmailsTotal *prometheus.CounterVec

	initOnce sync.Once
)

// InitMetrics 注册所有 Prometheus 指标。
//
// 可重复调用，只有第一次生效（测试里多个用例会各自调用）。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_http_requests_total",
			Help: "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"})

		RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studyhub_rate_limited_total",
			Help: "Total requests rejected by the rate limiter.",
		})

		StoreMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_store_mutations_total",
			Help: "Total store mutations by operation.",
		}, []string{"op"})

		ChangeNotificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studyhub_change_notifications_total",
			Help: "Total change notifications published.",
		})

		DuplicateInstanceTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studyhub_duplicate_instance_total",
			Help: "Times the instance guard refused to start because another instance held the lock.",
		})

		ReminderEmailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_reminder_emails_total",
			Help: "Total event reminder e-mails by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			HTTPRequestsTotal,
			RateLimitedTotal,
			StoreMutationsTotal,
			ChangeNotificationsTotal,
			DuplicateInstanceTotal,
			ReminderEmailsTotal,
		)
	})
}
