package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLock(t *testing.T, key string, ttl time.Duration) (*miniredis.Miniredis, *redis.Client, *RedisLock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client, NewRedisLock(client, key, ttl)
}

func TestAcquireRelease(t *testing.T) {
	_, client, lock := setupLock(t, "engine-run", time.Minute)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	// A second instance contending for the same key loses.
	other := NewRedisLock(client, "engine-run", time.Minute)
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second acquire must fail while held")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("acquire must succeed after release")
	}
}

func TestRelease_OnlyOwner(t *testing.T) {
	_, client, lock := setupLock(t, "engine-run", time.Minute)
	ctx := context.Background()

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// A non-owner releasing is a no-op; the owner keeps the lock.
	imposter := NewRedisLock(client, "engine-run", time.Minute)
	if err := imposter.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := imposter.Acquire(ctx); ok {
		t.Fatal("lock was stolen by non-owner release")
	}
}

func TestAcquire_AfterTTLExpiry(t *testing.T) {
	mr, client, lock := setupLock(t, "engine-run", 30*time.Second)
	ctx := context.Background()

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	mr.FastForward(31 * time.Second)

	other := NewRedisLock(client, "engine-run", 30*time.Second)
	ok, err := other.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("acquire must succeed after TTL expiry")
	}
}

func TestExtend(t *testing.T) {
	mr, client, lock := setupLock(t, "engine-run", 30*time.Second)
	ctx := context.Background()

	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	if err := lock.Extend(ctx, 2*time.Minute); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(time.Minute)

	other := NewRedisLock(client, "engine-run", 30*time.Second)
	if ok, _ := other.Acquire(ctx); ok {
		t.Fatal("extended lock expired too early")
	}
}
