package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Guard serialises enqueue attempts for the same key across goroutines and,
// with Redis, across processes.
type Guard interface {
	// TryLock reports false when the key is held by someone else.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// releaseScript deletes the key only while it still holds the caller's token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// lockClient is the part of the Redis client the guard uses.
type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisGuard struct {
	client lockClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func (g *redisGuard) TryLock(ctx context.Context, key string) (func(), bool, error) {
	k := g.prefix + ":" + key
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.client.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
			g.logger.Warn("failed to release enqueue guard", zap.String("key", k), zap.Error(err))
		}
	}, true, nil
}

type memoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryGuard returns a guard local to the process.
func NewMemoryGuard() Guard {
	return &memoryGuard{held: make(map[string]struct{})}
}

func (g *memoryGuard) TryLock(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.held[key]; busy {
		return nil, false, nil
	}
	g.held[key] = struct{}{}

	return func() {
		g.mu.Lock()
		delete(g.held, key)
		g.mu.Unlock()
	}, true, nil
}

// RedisConfig describes the optional Redis used by the guard.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

// NewGuard builds a Redis guard and falls back to an in-memory one when Redis
// is not configured or not reachable. The error reports the fallback reason.
func NewGuard(cfg RedisConfig, ttl time.Duration, logger *zap.Logger) (Guard, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if cfg.Addr == "" {
		return NewMemoryGuard(), nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return NewMemoryGuard(), err
	}

	return &redisGuard{
		client: client,
		prefix: "hh-analyzer:enqueue",
		ttl:    ttl,
		logger: logger,
	}, nil
}
