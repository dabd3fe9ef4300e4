// Package queue 提供带固定 worker 池的内存任务队列，
// 用于在请求路径之外执行邮件发送这类慢任务。
package queue

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// ErrorHandler 错误处理回调函数。
type ErrorHandler func(err error, job Job)

// Queue 是容量固定的内存任务队列。
//
// 队列满时 Enqueue 直接丢弃任务并计数，不阻塞调用方。
type Queue struct {
	logger       *slog.Logger
	workers      int
	jobs         chan Job
	errorHandler ErrorHandler

	wg     sync.WaitGroup
	closed atomic.Bool

	stats struct {
		Enqueued  atomic.Int64
		Processed atomic.Int64
		Failed    atomic.Int64
		Dropped   atomic.Int64
		Panics    atomic.Int64
	}
}

// Stats 是队列统计信息快照。
type Stats struct {
	Enqueued  int64
	Processed int64
	Failed    int64
	Dropped   int64
	Panics    int64
}

// NewQueue 创建一个新的任务队列。
func NewQueue(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// SetErrorHandler 设置错误处理回调函数。
func (q *Queue) SetErrorHandler(handler ErrorHandler) {
	q.errorHandler = handler
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Enqueue 尝试入队一个任务。队列满或已关闭时返回 false。
func (q *Queue) Enqueue(job Job) bool {
	if job == nil || q.closed.Load() {
		return false
	}
	select {
	case q.jobs <- job:
		q.stats.Enqueued.Add(1)
		return true
	default:
		q.stats.Dropped.Add(1)
		q.logger.Warn("queue full, job dropped")
		return false
	}
}

// Shutdown 停止接收新任务并等待在途任务完成。
func (q *Queue) Shutdown() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.jobs)
	}
	q.wg.Wait()
}

// Snapshot 返回统计信息快照。
func (q *Queue) Snapshot() Stats {
	return Stats{
		Enqueued:  q.stats.Enqueued.Load(),
		Processed: q.stats.Processed.Load(),
		Failed:    q.stats.Failed.Load(),
		Dropped:   q.stats.Dropped.Load(),
		Panics:    q.stats.Panics.Load(),
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return
		case job, ok := <-q.jobs:
			if !ok {
				q.logger.Debug("worker exit on closed channel", slog.Int("worker_id", id))
				return
			}
			if job != nil {
				q.executeJob(ctx, job, id)
			}
		}
	}
}

// executeJob 执行单个任务，带 panic 恢复和错误处理。
func (q *Queue) executeJob(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.Panics.Add(1)
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	err := job(ctx)
	q.stats.Processed.Add(1)

	if err != nil {
		q.stats.Failed.Add(1)
		if q.errorHandler != nil {
			q.errorHandler(err, job)
			return
		}
		q.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
	}
}
