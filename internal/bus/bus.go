// Package bus 实现进程内的变更通知总线。
//
// 通知不携带任何负载，只表示"持久化的数据变了"；
// 订阅者收到信号后需要自己重新读取存储。
package bus

import (
	"sync"
	"sync/atomic"
)

// Bus 是一个即发即弃的广播器。
//
// 没有订阅者时发布是空操作；订阅者的通道容量为 1，
// 未消费的信号会被合并（脏标记语义，而非事件流）。
type Bus struct {
	mu   sync.Mutex
	subs map[uint64]chan struct{}
	next uint64

	published atomic.Int64
}

// New 创建一个新的总线。
func New() *Bus {
	return &Bus{
		subs: make(map[uint64]chan struct{}),
	}
}

// Subscribe 注册一个订阅者。
//
// 返回值:
//
//	<-chan struct{}: 通知通道，每次数据变更至多收到一个未消费信号
//	func(): 取消订阅并关闭通道
func (b *Bus) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish 广播一次变更通知。
//
// 非阻塞：订阅者的脏标记已经置位时直接跳过。
func (b *Bus) Publish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers 返回当前订阅者数量。
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Published 返回累计发布次数。
func (b *Bus) Published() int64 {
	return b.published.Load()
}
