// Package scheduler 实现日历事件的到期提醒。
//
// 一个 ticker 循环定期扫描事件集合，把提醒窗口内到期的事件
// 交给 worker 池发邮件；每条事件只提醒一次，去重标记放在
// Redis 里并带过期时间。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Moises833/StudyHub/internal/model"
	"github.com/Moises833/StudyHub/internal/pkg/metrics"
	"github.com/Moises833/StudyHub/internal/pkg/notify"
	"github.com/Moises833/StudyHub/internal/pkg/queue"
	"github.com/Moises833/StudyHub/internal/store"

	"github.com/redis/go-redis/v9"
)

const sentKeyPrefix = "studyhub:reminder:sent:"

// sentMarkerTTL 去重标记的保留时间，覆盖整个提醒窗口即可。
const sentMarkerTTL = 48 * time.Hour

// Scheduler 负责事件提醒的扫描与派发。
type Scheduler struct {
	projects *store.Projects
	users    *store.Auth
	rdb      *redis.Client
	logger   *slog.Logger
	notifier notify.Notifier

	interval time.Duration
	window   time.Duration
	queue    *queue.Queue
}

// NewScheduler 创建提醒调度器。
//
// 参数:
//
//	projects: 项目/事件存储
//	users: 用户存储（解析提醒收件人）
//	rdb: Redis 客户端（去重标记）
//	logger: 日志记录器
//	notifier: 邮件通知器
//	interval: 扫描间隔
//	window: 提前提醒窗口（如 24h）
//	workers: worker 数
//	capacity: 队列容量
func NewScheduler(projects *store.Projects, users *store.Auth, rdb *redis.Client, logger *slog.Logger, notifier notify.Notifier, interval, window time.Duration, workers, capacity int) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if window <= 0 {
		window = 24 * time.Hour
	}

	q := queue.NewQueue(logger, workers, capacity)
	q.SetErrorHandler(func(err error, job queue.Job) {
		metrics.ReminderEmailsTotal.WithLabelValues("failed").Inc()
		logger.Error("reminder delivery failed", slog.String("error", err.Error()))
	})

	return &Scheduler{
		projects: projects,
		users:    users,
		rdb:      rdb,
		logger:   logger,
		notifier: notifier,
		interval: interval,
		window:   window,
		queue:    q,
	}
}

// Run 启动扫描循环，直到 ctx 被取消。
func (s *Scheduler) Run(ctx context.Context) {
	s.queue.Start(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan 扫描一轮：窗口内到期且未提醒过的事件入队发送。
func (s *Scheduler) Scan(ctx context.Context) {
	now := time.Now()
	emails := s.emailIndex(ctx)

	for _, ev := range s.projects.AllEvents(ctx) {
		due, ok := eventTime(ev)
		if !ok {
			continue
		}
		if due.Before(now) || due.Sub(now) > s.window {
			continue
		}
		if ev.UserID == 0 {
			continue
		}
		toEmail, ok := emails[ev.UserID]
		if !ok {
			continue
		}

		claimed, err := s.claim(ctx, ev.ID)
		if err != nil {
			s.logger.Warn("reminder claim failed", slog.String("error", err.Error()))
			continue
		}
		if !claimed {
			continue
		}

		event := ev
		enqueued := s.queue.Enqueue(func(ctx context.Context) error {
			if err := s.notifier.SendEventReminder(ctx, toEmail, &event); err != nil {
				return err
			}
			metrics.ReminderEmailsTotal.WithLabelValues("sent").Inc()
			return nil
		})
		if !enqueued {
			metrics.ReminderEmailsTotal.WithLabelValues("dropped").Inc()
			// 释放标记，下一轮重试
			s.rdb.Del(ctx, sentKey(ev.ID))
		}
	}
}

// claim 用 SETNX 抢占事件的提醒标记，抢到的实例负责发送。
func (s *Scheduler) claim(ctx context.Context, eventID int64) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, sentKey(eventID), "1", sentMarkerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reminder setnx: %w", err)
	}
	return ok, nil
}

// emailIndex 建立 用户ID→邮箱 索引（一轮扫描一次，避免每条事件全量扫）。
func (s *Scheduler) emailIndex(ctx context.Context) map[int64]string {
	idx := make(map[int64]string)
	for _, u := range s.users.AllUsers(ctx) {
		idx[u.ID] = u.Email
	}
	return idx
}

// eventTime 把事件的 date/time 字段解析成本地时间。
//
// date 必须是 YYYY-MM-DD；time 为空或解析失败时按当天 00:00 处理。
func eventTime(ev model.Event) (time.Time, bool) {
	day, err := time.ParseInLocation("2006-01-02", ev.Date, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	if ev.Time != "" {
		if hm, err := time.Parse("15:04", ev.Time); err == nil {
			return day.Add(time.Duration(hm.Hour())*time.Hour + time.Duration(hm.Minute())*time.Minute), true
		}
	}
	return day, true
}

func sentKey(eventID int64) string {
	return fmt.Sprintf("%s%d", sentKeyPrefix, eventID)
}
