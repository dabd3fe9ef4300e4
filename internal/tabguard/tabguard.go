// Package tabguard 实现尽力而为的单实例保护。
//
// 协议沿用原始的单标签页锁：在固定键下保存 {id, ts} 锁记录，
// 持有者每 3 秒刷新一次心跳，超过 10 秒没刷新的锁视为过期。
// 这是建议性的锁：绕过它的第二个实例仍然可以写共享集合。
package tabguard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Moises833/StudyHub/internal/pkg/metrics"
	"github.com/Moises833/StudyHub/internal/store"

	"github.com/google/uuid"
)

const (
	// DefaultHeartbeat 心跳刷新间隔。
	DefaultHeartbeat = 3 * time.Second
	// DefaultStale 锁过期窗口。
	DefaultStale = 10 * time.Second
)

// lockRecord 是持久化的锁记录。
type lockRecord struct {
	ID string `json:"id"`
	TS int64  `json:"ts"` // Unix 毫秒
}

// Guard 管理实例锁的获取、心跳与释放。
type Guard struct {
	kv         store.KV
	logger     *slog.Logger
	instanceID string
	heartbeat  time.Duration
	stale      time.Duration

	mu      sync.Mutex
	stop    context.CancelFunc
	stopped chan struct{}
}

// New 创建实例锁守卫，instanceID 随机生成。
func New(kv store.KV, logger *slog.Logger, heartbeat, stale time.Duration) *Guard {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if stale <= 0 {
		stale = DefaultStale
	}
	return &Guard{
		kv:         kv,
		logger:     logger,
		instanceID: uuid.NewString(),
		heartbeat:  heartbeat,
		stale:      stale,
	}
}

// InstanceID 返回本实例的随机标识。
func (g *Guard) InstanceID() string {
	return g.instanceID
}

// Acquire 尝试获取实例锁。
//
// 已有别的实例持有且未过期时返回 duplicate=true，调用方应当
// 拒绝启动主程序并提示接管；否则写入自己的锁记录并启动心跳。
func (g *Guard) Acquire(ctx context.Context) (duplicate bool, err error) {
	cur, err := g.readLock(ctx)
	if err != nil {
		return false, err
	}
	if cur != nil && cur.ID != g.instanceID {
		age := time.Since(time.UnixMilli(cur.TS))
		if age < g.stale {
			metrics.DuplicateInstanceTotal.Inc()
			g.logger.Warn("another instance holds the lock",
				slog.String("holder", cur.ID),
				slog.String("age", age.String()))
			return true, nil
		}
		// 过期锁直接忽略
		g.logger.Info("taking over stale lock",
			slog.String("holder", cur.ID),
			slog.String("age", age.String()))
	}

	if err := g.writeLock(ctx); err != nil {
		return false, err
	}
	g.startHeartbeat()
	return false, nil
}

// ForceTakeover 无条件删除锁记录并重新获取。
//
// 这是给用户的逃生通道，对应原始实现的"强制接管"按钮。
func (g *Guard) ForceTakeover(ctx context.Context) error {
	g.stopHeartbeat()
	if err := g.kv.Del(ctx, store.KeyTabLock); err != nil {
		return err
	}
	if err := g.writeLock(ctx); err != nil {
		return err
	}
	g.startHeartbeat()
	return nil
}

// Release 停止心跳，并在锁仍属于本实例时尽力清除它。
func (g *Guard) Release(ctx context.Context) {
	g.stopHeartbeat()

	cur, err := g.readLock(ctx)
	if err != nil {
		g.logger.Warn("read lock on release failed", slog.String("error", err.Error()))
		return
	}
	if cur != nil && cur.ID == g.instanceID {
		if err := g.kv.Del(ctx, store.KeyTabLock); err != nil {
			g.logger.Warn("clear lock failed", slog.String("error", err.Error()))
		}
	}
}

// startHeartbeat 启动心跳循环，定期重写锁记录保持新鲜。
func (g *Guard) startHeartbeat() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.stop = cancel
	stopped := make(chan struct{})
	g.stopped = stopped

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(g.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := g.writeLock(ctx); err != nil && ctx.Err() == nil {
					g.logger.Warn("lock heartbeat failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

func (g *Guard) stopHeartbeat() {
	g.mu.Lock()
	stop := g.stop
	stopped := g.stopped
	g.stop = nil
	g.stopped = nil
	g.mu.Unlock()

	if stop != nil {
		stop()
		<-stopped
	}
}

func (g *Guard) readLock(ctx context.Context) (*lockRecord, error) {
	raw, ok, err := g.kv.Get(ctx, store.KeyTabLock)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec lockRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// 解析不了的锁记录当作不存在
		g.logger.Warn("parse lock record failed", slog.String("error", err.Error()))
		return nil, nil
	}
	return &rec, nil
}

func (g *Guard) writeLock(ctx context.Context) error {
	data, err := json.Marshal(lockRecord{ID: g.instanceID, TS: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return g.kv.Set(ctx, store.KeyTabLock, string(data))
}
