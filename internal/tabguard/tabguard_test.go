package tabguard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Moises833/StudyHub/internal/pkg/metrics"
	"github.com/Moises833/StudyHub/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestKV(t *testing.T) store.KV {
	t.Helper()
	metrics.InitMetrics()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv, err := store.NewRedisKV(rdb)
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}
	return kv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readRawLock(t *testing.T, kv store.KV) *lockRecord {
	t.Helper()
	raw, ok, err := kv.Get(context.Background(), store.KeyTabLock)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if !ok {
		return nil
	}
	var rec lockRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("parse lock: %v", err)
	}
	return &rec
}

func TestGuard_AcquireWritesLockRecord(t *testing.T) {
	kv := newTestKV(t)
	g := New(kv, discardLogger(), time.Hour, time.Hour)
	defer g.Release(context.Background())

	duplicate, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if duplicate {
		t.Fatal("empty lock must not report a duplicate")
	}

	rec := readRawLock(t, kv)
	if rec == nil || rec.ID != g.InstanceID() {
		t.Fatalf("unexpected lock record: %+v", rec)
	}
	if rec.TS == 0 {
		t.Fatal("lock record must carry a timestamp")
	}
}

func TestGuard_DetectsActiveHolder(t *testing.T) {
	kv := newTestKV(t)

	first := New(kv, discardLogger(), time.Hour, time.Hour)
	defer first.Release(context.Background())
	if _, err := first.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second := New(kv, discardLogger(), time.Hour, time.Hour)
	duplicate, err := second.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if !duplicate {
		t.Fatal("fresh foreign lock must report duplicate")
	}

	// 检测到冲突不会抢走锁
	if rec := readRawLock(t, kv); rec.ID != first.InstanceID() {
		t.Fatalf("lock must stay with first holder, got %s", rec.ID)
	}
}

func TestGuard_TakesOverStaleLock(t *testing.T) {
	kv := newTestKV(t)

	stale, _ := json.Marshal(lockRecord{ID: "dead-instance", TS: time.Now().Add(-time.Minute).UnixMilli()})
	if err := kv.Set(context.Background(), store.KeyTabLock, string(stale)); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	g := New(kv, discardLogger(), time.Hour, 10*time.Second)
	defer g.Release(context.Background())

	duplicate, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if duplicate {
		t.Fatal("stale lock must be taken over, not reported as duplicate")
	}
	if rec := readRawLock(t, kv); rec.ID != g.InstanceID() {
		t.Fatalf("expected takeover, lock held by %s", rec.ID)
	}
}

func TestGuard_ForceTakeover(t *testing.T) {
	kv := newTestKV(t)

	first := New(kv, discardLogger(), time.Hour, time.Hour)
	defer first.Release(context.Background())
	if _, err := first.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second := New(kv, discardLogger(), time.Hour, time.Hour)
	defer second.Release(context.Background())
	if err := second.ForceTakeover(context.Background()); err != nil {
		t.Fatalf("force takeover: %v", err)
	}
	if rec := readRawLock(t, kv); rec.ID != second.InstanceID() {
		t.Fatalf("expected second instance to hold the lock, got %s", rec.ID)
	}
}

func TestGuard_ReleaseOnlyClearsOwnLock(t *testing.T) {
	kv := newTestKV(t)

	g := New(kv, discardLogger(), time.Hour, time.Hour)
	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	g.Release(context.Background())
	if rec := readRawLock(t, kv); rec != nil {
		t.Fatalf("own lock must be cleared on release, got %+v", rec)
	}

	// 别人持有锁时 Release 不碰它
	foreign, _ := json.Marshal(lockRecord{ID: "other-instance", TS: time.Now().UnixMilli()})
	if err := kv.Set(context.Background(), store.KeyTabLock, string(foreign)); err != nil {
		t.Fatalf("seed foreign lock: %v", err)
	}
	g.Release(context.Background())
	if rec := readRawLock(t, kv); rec == nil || rec.ID != "other-instance" {
		t.Fatalf("foreign lock must survive release, got %+v", rec)
	}
}

func TestGuard_HeartbeatRefreshesTimestamp(t *testing.T) {
	kv := newTestKV(t)

	g := New(kv, discardLogger(), 20*time.Millisecond, time.Hour)
	defer g.Release(context.Background())
	if _, err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	before := readRawLock(t, kv).TS
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if readRawLock(t, kv).TS > before {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("heartbeat never refreshed the lock timestamp")
}

func TestGuard_CorruptLockTreatedAsAbsent(t *testing.T) {
	kv := newTestKV(t)
	if err := kv.Set(context.Background(), store.KeyTabLock, "not-json"); err != nil {
		t.Fatalf("seed corrupt lock: %v", err)
	}

	g := New(kv, discardLogger(), time.Hour, time.Hour)
	defer g.Release(context.Background())

	duplicate, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if duplicate {
		t.Fatal("corrupt lock record must not block startup")
	}
}
