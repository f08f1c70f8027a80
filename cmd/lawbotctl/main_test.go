package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/configs"
	"traffic-law-bot/internal/bootstrap"
	"traffic-law-bot/internal/eino/components"
	"traffic-law-bot/pkg/logger"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	semanticDB := filepath.Join(dir, "cache", "semantic.db")
	body := fmt.Sprintf(`logging:
  level: error
  output: stderr
cache:
  semantic:
    db_path: %q
  embedding:
    enabled: true
    db_path: %q
eino:
  embedder:
    provider: hash
    dimensions: 64
`, semanticDB, filepath.Join(dir, "cache", "embedding.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, semanticDB
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCacheCommands(t *testing.T) {
	cfgPath, semanticDB := writeConfig(t)

	out, err := execute(t, "cache", "stats", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Entries:        0 / 1000")
	assert.Contains(t, out, "Embeddings:     0 / 5000")

	out, err = execute(t, "cache", "lookup", "--config", cfgPath, "vượt", "đèn", "đỏ")
	require.NoError(t, err)
	assert.Contains(t, out, "Result: miss")

	// 直接写入一条，再通过命令行命中
	ctx := context.Background()
	cfg, err := configs.LoadFile(ctx, cfgPath)
	require.NoError(t, err)
	caches, err := bootstrap.OpenCaches(ctx, &cfg.Cache, components.NewHashEmbedder(64), logger.Discard())
	require.NoError(t, err)
	_, err = caches.Semantic().Set(ctx, "vượt đèn đỏ", "Phạt tiền từ 800.000 đồng đến 1.000.000 đồng.", nil)
	require.NoError(t, err)
	require.NoError(t, caches.Close())
	assert.FileExists(t, semanticDB)

	out, err = execute(t, "cache", "lookup", "--config", cfgPath, "vượt đèn đỏ")
	require.NoError(t, err)
	assert.Contains(t, out, "Result:     hit")
	assert.Contains(t, out, "800.000 đồng")

	out, err = execute(t, "cache", "clear", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 semantic cache entries.")
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "lookup needs query", args: []string{"cache", "lookup"}},
		{name: "ingest needs file", args: []string{"ingest"}},
		{name: "purge needs law id", args: []string{"purge"}},
		{name: "ask needs question", args: []string{"ask"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "cache", "stats", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
