// Package store 实现 StudyHub 的数据层：一个薄 KV 适配器，
// 以及构建在它之上的用户存储和项目/任务/事件存储。
//
// 所有集合都以 JSON 序列化后整体保存在固定键下，
// 每次变更都是 读全量 → 内存修改 → 写全量。
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KV 存储使用的固定键。
const (
	KeyUsers       = "studyhub_users"
	KeyProjects    = "studyhub_projects"
	KeyEvents      = "studyhub_events"
	KeyCurrentUser = "studyhub_current_user"
	KeyTabLock     = "studyhub_tab_lock_v1"
)

// KV 是字符串键值存储的最小接口。
type KV interface {
	// Get 读取键值。第二个返回值表示键是否存在。
	Get(ctx context.Context, key string) (string, bool, error)
	// Set 写入键值。
	Set(ctx context.Context, key string, value string) error
	// Del 删除键。键不存在时不报错。
	Del(ctx context.Context, key string) error
}

// RedisKV 是基于 Redis 的 KV 实现。
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV 创建 Redis KV 适配器。
func NewRedisKV(rdb *redis.Client) (*RedisKV, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &RedisKV{rdb: rdb}, nil
}

func (s *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (s *RedisKV) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv del %s: %w", key, err)
	}
	return nil
}
