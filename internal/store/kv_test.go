package store

import (
	"context"
	"testing"
)

func TestRedisKV_GetReportsPresence(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, KeyUsers)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("missing key must report ok=false")
	}

	if err := kv.Set(ctx, KeyUsers, `[{"id":1}]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := kv.Get(ctx, KeyUsers)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if raw != `[{"id":1}]` {
		t.Fatalf("unexpected value %q", raw)
	}

	if err := kv.Del(ctx, KeyUsers); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, KeyUsers); ok {
		t.Fatal("deleted key must report ok=false")
	}

	// 删除不存在的键不报错
	if err := kv.Del(ctx, "studyhub_no_such_key"); err != nil {
		t.Fatalf("del missing: %v", err)
	}
}
