// Package ratelimit 按键（IP、发送者）限流，长期不活跃的键自动淘汰
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Keyed 每个键一个令牌桶
type Keyed struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewKeyed 创建限流器。maxKeys 为同时跟踪的键数量上限，idle 后未访问的键被淘汰。
func NewKeyed(limit rate.Limit, burst, maxKeys int, idle time.Duration) *Keyed {
	if burst <= 0 {
		burst = 1
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &Keyed{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, idle),
		limit:    limit,
		burst:    burst,
	}
}

// Every 每隔 interval 放行一次
func Every(interval time.Duration, maxKeys int) *Keyed {
	return NewKeyed(rate.Every(interval), 1, maxKeys, 10*interval)
}

// Allow 是否放行
func (k *Keyed) Allow(key string) bool {
	return k.AllowAt(key, time.Now())
}

// AllowAt 以指定时间判断是否放行
func (k *Keyed) AllowAt(key string, now time.Time) bool {
	k.mu.Lock()
	l, ok := k.limiters.Get(key)
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
	}
	// 重新写入以刷新过期时间
	k.limiters.Add(key, l)
	k.mu.Unlock()

	return l.AllowN(now, 1)
}

// Len 当前跟踪的键数
func (k *Keyed) Len() int {
	return k.limiters.Len()
}
