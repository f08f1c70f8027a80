package messenger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	redis "github.com/redis/go-redis/v9"
)

// Deduplicator 记录已处理的消息 ID
type Deduplicator interface {
	// FirstSeen 第一次见到 mid 时返回 true，并在 TTL 内记住它
	FirstSeen(ctx context.Context, mid string) (bool, error)
}

const redisKeyPrefix = "lawbot:messenger:mid:"

// RedisDeduplicator 基于 SET NX，多实例部署时共享
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduplicator 创建 Redis 去重器
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

// FirstSeen 实现 Deduplicator
func (d *RedisDeduplicator) FirstSeen(ctx context.Context, mid string) (bool, error) {
	ok, err := d.client.SetNX(ctx, redisKeyPrefix+mid, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// MemoryDeduplicator 进程内去重，容量有上限
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewMemoryDeduplicator 创建进程内去重器
func NewMemoryDeduplicator(size int, ttl time.Duration) *MemoryDeduplicator {
	if size <= 0 {
		size = 10000
	}
	return &MemoryDeduplicator{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// FirstSeen 实现 Deduplicator
func (d *MemoryDeduplicator) FirstSeen(_ context.Context, mid string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(mid) {
		return false, nil
	}
	d.seen.Add(mid, struct{}{})
	return true, nil
}
