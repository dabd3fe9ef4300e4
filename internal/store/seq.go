package store

import (
	"sync"
	"time"
)

// seq 生成毫秒时间戳形态的整数 ID。
//
// 原始实现直接用 Date.now()，同一毫秒内的两次创建会撞号；
// 这里保留时间戳形态，但保证同一个生成器内严格递增。
type seq struct {
	mu   sync.Mutex
	last int64
}

// Next 返回下一个 ID。
func (s *seq) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}
