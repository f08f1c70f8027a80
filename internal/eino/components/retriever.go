package components

import (
	"context"
	"encoding/json"
	"fmt"

	es8retriever "github.com/cloudwego/eino-ext/components/retriever/es8"
	"github.com/cloudwego/eino-ext/components/retriever/es8/search_mode"
	milvusretriever "github.com/cloudwego/eino-ext/components/retriever/milvus"
	qdrantretriever "github.com/cloudwego/eino-ext/components/retriever/qdrant"
	redisretriever "github.com/cloudwego/eino-ext/components/retriever/redis"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	milvusClient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	qdrantClient "github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"

	"traffic-law-bot/internal/eino/config"
)

// NewRetriever 根据配置创建法规条文检索器
func NewRetriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	switch cfg.Provider {
	case "qdrant":
		return newQdrantRetriever(ctx, cfg, embedder)
	case "milvus":
		return newMilvusRetriever(ctx, cfg, embedder)
	case "redis":
		return newRedisRetriever(ctx, cfg, embedder)
	case "es8":
		return newES8Retriever(ctx, cfg, embedder)
	default:
		return nil, fmt.Errorf("unsupported retriever provider: %s", cfg.Provider)
	}
}

// NewQdrantClient 创建 Qdrant 客户端，检索、索引和按法规删除共用
func NewQdrantClient(host string, port int, apiKey string, useTLS bool) (*qdrantClient.Client, error) {
	clientCfg := &qdrantClient.Config{
		Host: host,
		Port: port,
	}

	if apiKey != "" {
		clientCfg.APIKey = apiKey
	}

	if useTLS {
		clientCfg.UseTLS = true
	}

	client, err := qdrantClient.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

// newQdrantRetriever 创建 Qdrant Retriever
func newQdrantRetriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	client, err := NewQdrantClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS)
	if err != nil {
		return nil, err
	}

	retrieverCfg := &qdrantretriever.Config{
		Client:     client,
		Collection: cfg.Collection,
		Embedding:  embedder,
		TopK:       cfg.TopK,
	}

	if cfg.ScoreThreshold > 0 {
		threshold := cfg.ScoreThreshold
		retrieverCfg.ScoreThreshold = &threshold
	}

	return qdrantretriever.NewRetriever(ctx, retrieverCfg)
}

// newMilvusRetriever 创建 Milvus Retriever
func newMilvusRetriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	client, err := milvusClient.NewClient(ctx, milvusClient.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.Milvus.Host, cfg.Milvus.Port),
		Username: cfg.Milvus.Username,
		Password: cfg.Milvus.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	retrieverCfg := &milvusretriever.RetrieverConfig{
		Client:         client,
		Collection:     cfg.Collection,
		VectorField:    cfg.Milvus.VectorField,
		OutputFields:   cfg.Milvus.OutputFields,
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
		Embedding:      embedder,
	}
	if cfg.Milvus.MetricType != "" {
		retrieverCfg.MetricType = entity.MetricType(cfg.Milvus.MetricType)
	}

	return milvusretriever.NewRetriever(ctx, retrieverCfg)
}

// newRedisRetriever 创建 Redis Retriever
func newRedisRetriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Protocol: 2, // RESP2 以支持向量搜索
	})

	retrieverCfg := &redisretriever.RetrieverConfig{
		Client:       rdb,
		Index:        cfg.Redis.Index,
		VectorField:  cfg.Redis.VectorField,
		TopK:         cfg.TopK,
		Embedding:    embedder,
		ReturnFields: cfg.Redis.ReturnFields,
	}
	if cfg.ScoreThreshold > 0 {
		// Redis 返回的是余弦距离
		distance := 1 - cfg.ScoreThreshold
		retrieverCfg.DistanceThreshold = &distance
	}

	return redisretriever.NewRetriever(ctx, retrieverCfg)
}

// newES8Retriever 创建 Elasticsearch Retriever
func newES8Retriever(ctx context.Context, cfg *config.RetrieverConfig, embedder embedding.Embedder) (retriever.Retriever, error) {
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.ES8.Addresses,
		Username:  cfg.ES8.Username,
		Password:  cfg.ES8.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	queryField := cfg.ES8.QueryField
	if queryField == "" {
		queryField = es8ContentField
	}
	vectorField := cfg.ES8.VectorField
	if vectorField == "" {
		vectorField = es8VectorField
	}

	var mode es8retriever.SearchMode
	switch cfg.ES8.SearchMode {
	case "exact":
		mode = search_mode.SearchModeExactMatch(queryField)
	case "hybrid":
		mode = search_mode.SearchModeApproximate(&search_mode.ApproximateConfig{
			QueryFieldName:  queryField,
			VectorFieldName: vectorField,
			Hybrid:          true,
		})
	default:
		mode = search_mode.SearchModeApproximate(&search_mode.ApproximateConfig{
			QueryFieldName:  queryField,
			VectorFieldName: vectorField,
		})
	}

	retrieverCfg := &es8retriever.RetrieverConfig{
		Client:       esClient,
		Index:        cfg.ES8.Index,
		TopK:         cfg.TopK,
		SearchMode:   mode,
		ResultParser: parseES8Hit,
		Embedding:    embedder,
	}
	if cfg.ScoreThreshold > 0 {
		threshold := cfg.ScoreThreshold
		retrieverCfg.ScoreThreshold = &threshold
	}

	return es8retriever.NewRetriever(ctx, retrieverCfg)
}

// parseES8Hit 将索引器写入的 content/metadata 字段还原为文档
func parseES8Hit(_ context.Context, hit types.Hit) (*schema.Document, error) {
	var source struct {
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	}
	if len(hit.Source_) > 0 {
		if err := json.Unmarshal(hit.Source_, &source); err != nil {
			return nil, fmt.Errorf("decode es8 hit source: %w", err)
		}
	}

	doc := &schema.Document{
		Content:  source.Content,
		MetaData: source.Metadata,
	}
	if hit.Id_ != nil {
		doc.ID = *hit.Id_
	}
	if doc.MetaData == nil {
		doc.MetaData = map[string]any{}
	}
	if hit.Score_ != nil {
		doc.WithScore(float64(*hit.Score_))
	}
	return doc, nil
}
