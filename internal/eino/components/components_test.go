package components

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/internal/eino/config"
	"traffic-law-bot/internal/semcache"
)

func TestHashEmbedderDeterministicAndNormalised(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	vecs, err := e.EmbedStrings(ctx, []string{"Mức phạt vượt đèn đỏ", "mức phạt vượt đèn đỏ"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, vecs[0], vecs[1], "case is folded")

	var norm float64
	for _, v := range vecs[0] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-9)
}

func TestHashEmbedderParaphraseCloserThanUnrelated(t *testing.T) {
	p := NewEmbedderProvider(NewHashEmbedder(512))
	ctx := context.Background()

	base, err := p.Embed(ctx, "mức phạt vượt đèn đỏ xe máy")
	require.NoError(t, err)
	para, err := p.Embed(ctx, "mức phạt khi vượt đèn đỏ xe máy")
	require.NoError(t, err)
	other, err := p.Embed(ctx, "thủ tục sang tên xe ô tô")
	require.NoError(t, err)

	assert.Greater(t, semcache.CosineSimilarity(base, para), semcache.CosineSimilarity(base, other))
}

func TestHashEmbedderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(8).EmbedStrings(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEmbedderProviders(t *testing.T) {
	dims := 64
	tests := []struct {
		name    string
		cfg     config.EmbedderConfig
		wantErr bool
	}{
		{name: "hash", cfg: config.EmbedderConfig{Provider: "hash", Dimensions: &dims}},
		{name: "hash without dimensions", cfg: config.EmbedderConfig{Provider: "hash"}, wantErr: true},
		{name: "unknown", cfg: config.EmbedderConfig{Provider: "word2vec"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEmbedder(context.Background(), &tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e)
		})
	}
}

func TestUnsupportedBackends(t *testing.T) {
	ctx := context.Background()
	_, err := NewRetriever(ctx, &config.RetrieverConfig{Provider: "vikingdb"}, NewHashEmbedder(8))
	assert.Error(t, err)
	_, err = NewIndexer(ctx, &config.IndexerConfig{Provider: "vikingdb"}, NewHashEmbedder(8))
	assert.Error(t, err)
	_, err = NewChatModel(ctx, &config.ChatModelConfig{Provider: "unknown"})
	assert.Error(t, err)
}

func TestParseQdrantDistance(t *testing.T) {
	assert.Equal(t, parseQdrantDistance("cosine"), parseQdrantDistance("anything"))
	assert.NotEqual(t, parseQdrantDistance("dot"), parseQdrantDistance("cosine"))
}
