// Package ratelimit 实现基于 Redis 的固定窗口限流。
//
// 对应加固版注册接口的策略：每个客户端 IP 在 15 分钟窗口内
// 最多 100 次请求，超出返回 429。
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "studyhub:ratelimit:"

// fixedWindowLua 原子执行 INCR，并在窗口首次命中时设置过期。
// KEYS[1] = 计数键
// ARGV[1] = 窗口毫秒数
// 返回: 窗口内的当前计数
const fixedWindowLua = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[1]))
end
return count
`

// Limiter 按 key（通常是客户端 IP）做固定窗口计数限流。
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
	max    int
	script *redis.Script
}

// New 创建限流器。
//
// 参数:
//
//	rdb: Redis 客户端
//	window: 窗口长度（如 15m）
//	max: 窗口内允许的最大请求数
func New(rdb *redis.Client, window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if max <= 0 {
		max = 100
	}
	return &Limiter{
		rdb:    rdb,
		window: window,
		max:    max,
		script: redis.NewScript(fixedWindowLua),
	}
}

// Allow 记一次请求并判断是否放行。
//
// Redis 出错时放行，同时把错误返回给调用方记日志。
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil || key == "" {
		return true, nil
	}
	count, err := l.script.Run(ctx, l.rdb, []string{keyPrefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return true, fmt.Errorf("ratelimit eval: %w", err)
	}
	return count <= int64(l.max), nil
}
