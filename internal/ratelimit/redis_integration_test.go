//go:build integration

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beacon/beacon/internal/testutil"
)

func TestRedisStore_FixedWindow(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := context.Background()
	store := NewRedisStore(client)
	key := testutil.UniqueID("ratelimit:test")

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementAndGet(ctx, key, 2*time.Second)
		if err != nil {
			t.Fatalf("IncrementAndGet() error = %v", err)
		}
		if got != want {
			t.Fatalf("count = %d, want %d", got, want)
		}
	}

	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > 2*time.Second {
		t.Errorf("TTL = %v, want within the window", ttl)
	}

	time.Sleep(2100 * time.Millisecond)
	got, err := store.IncrementAndGet(ctx, key, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("count after expiry = %d, want 1", got)
	}
}

func TestRedisStore_RestoresMissingExpiry(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := context.Background()
	store := NewRedisStore(client)
	key := testutil.UniqueID("ratelimit:noexpiry")

	if err := client.Set(ctx, key, 99, 0).Err(); err != nil {
		t.Fatal(err)
	}
	if _, err := store.IncrementAndGet(ctx, key, time.Minute); err != nil {
		t.Fatal(err)
	}
	ttl, _ := store.TTL(ctx, key)
	if ttl <= 0 {
		t.Errorf("TTL = %v, want expiry restored", ttl)
	}
}

func TestRedisLimiter_ExactlyMaxAcrossClients(t *testing.T) {
	client := testutil.RedisClient(t)
	limiter := NewLimiter(NewRedisStore(client))
	p := Policy{Name: testutil.UniqueID("concurrency"), Window: time.Minute, Max: 25}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(context.Background(), p, "shared")
			if err != nil {
				t.Errorf("Allow() error = %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != int64(p.Max) {
		t.Errorf("allowed %d, want exactly %d", got, p.Max)
	}
}
