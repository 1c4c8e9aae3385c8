package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// memRedis keeps string keys and runs the release script as compare-and-delete.
type memRedis struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (m *memRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if script != releaseScript {
		return redis.NewCmdResult(nil, redis.Nil)
	}
	if m.keys[keys[0]] != args[0] {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(m.keys, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func (m *memRedis) expire(key string) {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
}

func TestRedisGuardReleasesOnlyOwnLock(t *testing.T) {
	ctx := context.Background()
	client := &memRedis{keys: map[string]string{}}
	g := &redisGuard{client: client, prefix: "test", ttl: time.Second, logger: zap.NewNop()}

	unlockFirst, ok, err := g.TryLock(ctx, "UPDATE:v1")
	if err != nil || !ok {
		t.Fatalf("expected first lock, got %v %v", ok, err)
	}
	if _, ok, _ := g.TryLock(ctx, "UPDATE:v1"); ok {
		t.Fatalf("expected held key to be busy")
	}

	// the first holder outlives its ttl and someone else takes the key
	client.expire("test:UPDATE:v1")
	unlockSecond, ok, err := g.TryLock(ctx, "UPDATE:v1")
	if err != nil || !ok {
		t.Fatalf("expected second lock after expiry, got %v %v", ok, err)
	}

	unlockFirst()
	if _, ok, _ := g.TryLock(ctx, "UPDATE:v1"); ok {
		t.Fatalf("expected stale unlock to leave the second holder's key")
	}

	unlockSecond()
	if _, ok, _ := g.TryLock(ctx, "UPDATE:v1"); !ok {
		t.Fatalf("expected key to be free after its holder released it")
	}
}
