package redisad

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestCache_RoundTripAndExpiry(t *testing.T) {
	mr, c := newTestClient(t)
	cache := NewCache(c, "reco:")
	ctx := context.Background()

	type payload struct {
		IDs []string `json:"ids"`
	}
	var got payload
	if hit, err := cache.Get(ctx, "bali", &got); err != nil || hit {
		t.Fatalf("expected miss, got hit=%v err=%v", hit, err)
	}
	if err := cache.Set(ctx, "bali", payload{IDs: []string{"a", "b"}}, 30); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("reco:bali") {
		t.Fatal("expected prefixed key")
	}
	if hit, err := cache.Get(ctx, "bali", &got); err != nil || !hit || len(got.IDs) != 2 {
		t.Fatalf("hit=%v err=%v got=%+v", hit, err, got)
	}
	mr.FastForward(31 * time.Second)
	if hit, _ := cache.Get(ctx, "bali", &got); hit {
		t.Fatal("expected expiry")
	}
}

func TestCache_CorruptValueIsMiss(t *testing.T) {
	mr, c := newTestClient(t)
	cache := NewCache(c, "")
	_ = mr.Set("k", "{not json")
	var v map[string]any
	hit, err := cache.Get(context.Background(), "k", &v)
	if err != nil || hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if mr.Exists("k") {
		t.Fatal("corrupt entry should be dropped")
	}
}

func TestLeaser_Exclusive(t *testing.T) {
	mr, c := newTestClient(t)
	l := NewLeaser(c, "")
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "ag1|https://x/1", "node-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, _ := l.Acquire(ctx, "ag1|https://x/1", "node-b", time.Minute); ok {
		t.Fatal("second owner must not acquire a held key")
	}
	// a foreign release is a no-op
	if err := l.Release(ctx, "ag1|https://x/1", "node-b"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.Acquire(ctx, "ag1|https://x/1", "node-b", time.Minute); ok {
		t.Fatal("foreign release must not free the key")
	}
	if err := l.Release(ctx, "ag1|https://x/1", "node-a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.Acquire(ctx, "ag1|https://x/1", "node-b", time.Minute); !ok {
		t.Fatal("released key should be claimable")
	}

	// expiry frees a crashed holder's claim
	if ok, _ := l.Acquire(ctx, "ag2|https://x/2", "node-a", time.Second); !ok {
		t.Fatal("acquire ag2")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := l.Acquire(ctx, "ag2|https://x/2", "node-b", time.Second); !ok {
		t.Fatal("expired lease should be claimable")
	}
}
