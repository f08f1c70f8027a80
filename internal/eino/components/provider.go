package components

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"

	"traffic-law-bot/internal/semcache"
)

// EmbedderProvider 将 Eino Embedder 适配为语义缓存使用的 Provider
type EmbedderProvider struct {
	embedder embedding.Embedder
}

// NewEmbedderProvider 创建适配器
func NewEmbedderProvider(embedder embedding.Embedder) *EmbedderProvider {
	return &EmbedderProvider{embedder: embedder}
}

// Embed 实现 semcache.Provider，float64 向量转换为 float32
func (p *EmbedderProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vectors))
	}

	out := make([]float32, len(vectors[0]))
	for i, v := range vectors[0] {
		out[i] = float32(v)
	}
	return out, nil
}

var _ semcache.Provider = (*EmbedderProvider)(nil)
