// Package components 提供 Eino 组件的工厂函数
package components

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"traffic-law-bot/internal/eino/config"
)

// NewEmbedder 根据配置创建并返回一个 Eino Embedder 实例。
// 参数 cfg: Embedder 配置，包含提供商类型、API 密钥、模型名称等。
// 返回: 初始化后的 Embedder 实例，如果提供商不支持或初始化失败则返回错误。
func NewEmbedder(ctx context.Context, cfg *config.EmbedderConfig) (embedding.Embedder, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second

	switch cfg.Provider {
	case "openai":
		return newOpenAIEmbedder(ctx, cfg, timeout)
	case "hash":
		if cfg.Dimensions == nil || *cfg.Dimensions <= 0 {
			return nil, fmt.Errorf("hash embedder requires positive dimensions")
		}
		return NewHashEmbedder(*cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// newOpenAIEmbedder 创建 OpenAI Embedder
func newOpenAIEmbedder(ctx context.Context, cfg *config.EmbedderConfig, timeout time.Duration) (embedding.Embedder, error) {
	embedCfg := &openaiembed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: timeout,
	}

	if cfg.BaseURL != "" {
		embedCfg.BaseURL = cfg.BaseURL
	}

	// Azure OpenAI 配置
	if cfg.ByAzure {
		embedCfg.ByAzure = true
		embedCfg.APIVersion = cfg.APIVersion
	}

	if cfg.Dimensions != nil {
		embedCfg.Dimensions = cfg.Dimensions
	}

	return openaiembed.NewEmbedder(ctx, embedCfg)
}

// HashEmbedder 基于特征哈希的确定性 Embedder。
// 词和字符三元组被散列到固定维度后做 L2 归一化，字面相近的文本得到相近的向量。
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder 创建指定维度的 HashEmbedder
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

// EmbedStrings 实现 embedding.Embedder
func (h *HashEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, h.embed(text))
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, h.dim)
	text = strings.ToLower(strings.TrimSpace(text))

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h.add(vec, "w:"+w, 1.0)
	}

	runes := []rune(strings.Join(words, " "))
	for i := 0; i+3 <= len(runes); i++ {
		h.add(vec, "c:"+string(runes[i:i+3]), 0.5)
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	idx := int(sum % uint64(h.dim))
	// 用高位决定符号，减少碰撞带来的偏差
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
