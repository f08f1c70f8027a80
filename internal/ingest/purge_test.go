package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/pkg/logger"
)

func TestPurgeRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mr.HSet("law:1", "content", "Phạt tiền vượt đèn đỏ", MetaLawID, "Nghị định 100/2019/NĐ-CP")
	mr.HSet("law:2", "content", "Tước bằng lái", MetaLawID, "Nghị định 100/2019/NĐ-CP")
	mr.HSet("law:3", "content", "Đội mũ bảo hiểm", MetaLawID, "Luật 36/2024/QH15")
	mr.HSet("law:4", "content", "không có law_id")
	mr.HSet("other:1", "content", "khác", MetaLawID, "Nghị định 100/2019/NĐ-CP")

	p := NewRedisPurger(rdb, "law:", logger.Discard())
	res, err := p.PurgeLaw(context.Background(), " Nghị định 100/2019/NĐ-CP ")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)
	assert.Equal(t, "redis", res.Provider)

	assert.False(t, mr.Exists("law:1"))
	assert.False(t, mr.Exists("law:2"))
	assert.True(t, mr.Exists("law:3"))
	assert.True(t, mr.Exists("law:4"))
	assert.True(t, mr.Exists("other:1"), "keys outside the prefix are untouched")
}

func TestPurgeRequiresLawID(t *testing.T) {
	p := NewRedisPurger(nil, "law:", logger.Discard())
	_, err := p.PurgeLaw(context.Background(), "  ")
	assert.Error(t, err)
}

func TestPurgeElasticsearch(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"took":3,"deleted":7,"failures":[]}`))
	}))
	defer srv.Close()

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	p := NewES8Purger(es, "traffic_law", logger.Discard())
	res, err := p.PurgeLaw(context.Background(), "Luật 36/2024/QH15")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Deleted)
	assert.Equal(t, "/traffic_law/_delete_by_query", gotPath)

	term := gotBody["query"].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, "Luật 36/2024/QH15", term["metadata.law_id.keyword"])
}

func TestPurgeElasticsearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"},"status":404}`))
	}))
	defer srv.Close()

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	_, err = NewES8Purger(es, "missing", logger.Discard()).PurgeLaw(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index_not_found_exception")
}
