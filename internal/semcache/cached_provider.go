package semcache

import (
	"context"

	"traffic-law-bot/pkg/logger"
)

// CachedProvider 在调用真实提供者前先查 EmbeddingCache。
// 缓存读写失败只记录日志，不影响向量计算。
type CachedProvider struct {
	next  Provider
	cache *EmbeddingCache
	log   logger.Logger
}

// NewCachedProvider 创建带缓存的提供者
func NewCachedProvider(next Provider, cache *EmbeddingCache, log logger.Logger) *CachedProvider {
	if log == nil {
		log = logger.GetDefault()
	}
	return &CachedProvider{next: next, cache: cache, log: log}
}

// Embed 实现 Provider
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, ok, err := p.cache.GetEmbedding(ctx, text)
	switch {
	case err != nil:
		p.log.WarnContext(ctx, "读取Embedding缓存失败，直接计算", "error", err)
	case ok:
		return vec, nil
	}

	vec, err = p.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) > 0 {
		if err := p.cache.CacheEmbedding(ctx, text, vec); err != nil {
			p.log.WarnContext(ctx, "写入Embedding缓存失败", "error", err)
		}
	}
	return vec, nil
}
