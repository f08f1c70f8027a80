package semcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/pkg/logger"
)

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestEmbeddingCache(t, DefaultEmbeddingConfig(), newFakeClock())

	_, ok, err := c.GetEmbedding(ctx, "biển báo cấm")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []float32{0.125, -3.5, 1e-7}
	require.NoError(t, c.CacheEmbedding(ctx, "biển báo cấm", want))

	got, ok, err := c.GetEmbedding(ctx, "biển báo cấm")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEntries)
	assert.Equal(t, int64(2), stats.TotalAccesses)
}

func TestEmbeddingCacheUpsert(t *testing.T) {
	ctx := context.Background()
	c := newTestEmbeddingCache(t, DefaultEmbeddingConfig(), newFakeClock())

	require.NoError(t, c.CacheEmbedding(ctx, "t", []float32{1, 1}))
	require.NoError(t, c.CacheEmbedding(ctx, "t", []float32{2, 2}))

	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	got, ok, err := c.GetEmbedding(ctx, "t")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{2, 2}, got)
}

func TestEmbeddingCacheEvictsLeastUsed(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestEmbeddingCache(t, EmbeddingConfig{MaxEntries: 3, EvictionOvershoot: 0}, clock)

	for _, text := range []string{"a", "b", "c"} {
		clock.Advance(time.Second)
		require.NoError(t, c.CacheEmbedding(ctx, text, []float32{1}))
	}
	for _, text := range []string{"a", "b"} {
		_, ok, err := c.GetEmbedding(ctx, text)
		require.NoError(t, err)
		require.True(t, ok)
	}

	clock.Advance(time.Second)
	require.NoError(t, c.CacheEmbedding(ctx, "d", []float32{1}))

	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	_, ok, err := c.GetEmbedding(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok, "least accessed entry is evicted first")
}

func TestEmbeddingCacheRejectsEmptyVector(t *testing.T) {
	c := newTestEmbeddingCache(t, DefaultEmbeddingConfig(), newFakeClock())
	err := c.CacheEmbedding(context.Background(), "t", nil)
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestCachedProvider(t *testing.T) {
	ctx := context.Background()
	inner := newFakeProvider(map[string][]float32{"q": {0.5, 0.5}})
	cache := newTestEmbeddingCache(t, DefaultEmbeddingConfig(), newFakeClock())
	p := NewCachedProvider(inner, cache, logger.Discard())

	for i := 0; i < 3; i++ {
		vec, err := p.Embed(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5}, vec)
	}
	assert.Equal(t, 1, inner.Calls())

	_, err := p.Embed(ctx, "unknown")
	assert.Error(t, err)
}

func TestEmbeddingCacheDimensionMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "embedding.db")

	// 旧模型留下的二维向量
	old, err := NewEmbeddingCache(ctx, path, DefaultEmbeddingConfig(), WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, old.CacheEmbedding(ctx, "x", []float32{1, 2}))
	require.NoError(t, old.Close())

	cfg := DefaultEmbeddingConfig()
	cfg.Dimensions = 3
	c, err := NewEmbeddingCache(ctx, path, cfg, WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, ok, err := c.GetEmbedding(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, c.CacheEmbedding(ctx, "y", []float32{1, 2}))

	inner := newFakeProvider(map[string][]float32{"x": {0, 1, 0}})
	p := NewCachedProvider(inner, c, logger.Discard())
	vec, err := p.Embed(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, vec)
	assert.Equal(t, 1, inner.Calls())

	got, ok, err := c.GetEmbedding(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok, "fresh vector replaced the stale row")
	assert.Equal(t, []float32{0, 1, 0}, got)
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := ManagerConfig{
		SemanticDBPath:   filepath.Join(dir, "nested", "semantic.db"),
		Semantic:         DefaultSemanticConfig(),
		EmbeddingEnabled: true,
		EmbeddingDBPath:  filepath.Join(dir, "embedding.db"),
		Embedding:        DefaultEmbeddingConfig(),
	}
	m, err := NewManager(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	defer m.Close()

	inner := newFakeProvider(map[string][]float32{"q": {1, 2}})
	m.AttachProvider(inner)

	_, err = m.Semantic().Set(ctx, "q", "r", nil)
	require.NoError(t, err)
	resp, ok, err := m.Semantic().Get(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r", resp)
	assert.Equal(t, 1, inner.Calls(), "second embedding served by the embedding cache")

	require.NoError(t, m.Reset(ctx))
	size, err := m.Semantic().Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
	esize, err := m.Embeddings().Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, esize)
}

func TestCodecAndSimilarity(t *testing.T) {
	vec := []float32{1.5, -2.25, 0, 3.4028235e38}
	got, err := decodeEmbedding(1, encodeEmbedding(vec), len(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeEmbedding(7, []byte{1, 2, 3, 4, 5}, 0)
	var corrupt *CorruptEmbeddingError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, int64(7), corrupt.ID)

	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 1}))
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-2, 0}), 1e-12)
	assert.Equal(t, 32, len(hashText("x")))
}
