package semcache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"traffic-law-bot/pkg/logger"
)

// fakeProvider 返回预先登记的向量，未登记的文本报错
type fakeProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
}

func newFakeProvider(vectors map[string][]float32) *fakeProvider {
	return &fakeProvider{vectors: vectors}
}

func (p *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	vec, ok := p.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector registered for %q", text)
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// oneHot 维度 dim 中第 i 维为 1 的向量
func oneHot(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func newTestSemanticCache(t *testing.T, cfg SemanticConfig, p Provider, clock *fakeClock) *SemanticCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "semantic.db")
	opts := []Option{WithLogger(logger.Discard()), WithClock(clock.Now)}
	if p != nil {
		opts = append(opts, WithProvider(p))
	}
	c, err := NewSemanticCache(context.Background(), path, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestEmbeddingCache(t *testing.T, cfg EmbeddingConfig, clock *fakeClock) *EmbeddingCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embedding.db")
	c, err := NewEmbeddingCache(context.Background(), path, cfg, WithLogger(logger.Discard()), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}
