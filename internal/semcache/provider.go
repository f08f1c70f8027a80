package semcache

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoProvider 缓存尚未挂载 Embedding 提供者
	ErrNoProvider = errors.New("semcache: no embedding provider attached")
	// ErrEmptyEmbedding 提供者返回了空向量
	ErrEmptyEmbedding = errors.New("semcache: provider returned empty embedding")
)

// Provider 将文本转换为定长向量。同一缓存实例内维度必须保持一致。
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderFunc 函数适配器
type ProviderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed 实现 Provider
func (f ProviderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// EmbedError 提供者调用失败
type EmbedError struct {
	Err error
}

func (e *EmbedError) Error() string {
	return fmt.Sprintf("semcache: embedding failed: %v", e.Err)
}

func (e *EmbedError) Unwrap() error {
	return e.Err
}

// CorruptEmbeddingError 存储的向量字节无法还原为期望维度的向量
type CorruptEmbeddingError struct {
	ID       int64
	Bytes    int
	Expected int
}

func (e *CorruptEmbeddingError) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("semcache: row %d embedding has %d bytes, expected %d dims", e.ID, e.Bytes, e.Expected)
	}
	return fmt.Sprintf("semcache: row %d embedding has %d bytes, not a float32 sequence", e.ID, e.Bytes)
}

// EmbedResult 一次向量计算的结果，Err 非空时 Vector 无意义
type EmbedResult struct {
	Vector []float32
	Err    error
}

// OK 向量是否可用
func (r EmbedResult) OK() bool {
	return r.Err == nil && len(r.Vector) > 0
}

// computeEmbedding 调用提供者并将所有失败形态归一化为 EmbedResult
func computeEmbedding(ctx context.Context, p Provider, text string) EmbedResult {
	if p == nil {
		return EmbedResult{Err: ErrNoProvider}
	}
	vec, err := p.Embed(ctx, text)
	if err != nil {
		return EmbedResult{Err: &EmbedError{Err: err}}
	}
	if len(vec) == 0 {
		return EmbedResult{Err: &EmbedError{Err: ErrEmptyEmbedding}}
	}
	return EmbedResult{Vector: vec}
}
