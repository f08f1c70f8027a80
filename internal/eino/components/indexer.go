package components

import (
	"context"
	"fmt"

	es8indexer "github.com/cloudwego/eino-ext/components/indexer/es8"
	milvusindexer "github.com/cloudwego/eino-ext/components/indexer/milvus"
	qdrantindexer "github.com/cloudwego/eino-ext/components/indexer/qdrant"
	redisindexer "github.com/cloudwego/eino-ext/components/indexer/redis"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"
	"github.com/elastic/go-elasticsearch/v8"
	milvusClient "github.com/milvus-io/milvus-sdk-go/v2/client"
	qdrantClient "github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"

	"traffic-law-bot/internal/eino/config"
)

// Elasticsearch 文档字段
const (
	es8ContentField  = "content"
	es8VectorField   = "content_vector"
	es8MetadataField = "metadata"
)

// Redis Hash 字段
const (
	redisContentField = "content"
	redisVectorField  = "content_vector"
)

// NewIndexer 根据配置创建法规条文索引器。
// 参数 embedder: 索引过程中用于向量化文档。
func NewIndexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	switch cfg.Provider {
	case "qdrant":
		return newQdrantIndexer(ctx, cfg, embedder)
	case "milvus":
		return newMilvusIndexer(ctx, cfg, embedder)
	case "redis":
		return newRedisIndexer(ctx, cfg, embedder)
	case "es8":
		return newES8Indexer(ctx, cfg, embedder)
	default:
		return nil, fmt.Errorf("unsupported indexer provider: %s", cfg.Provider)
	}
}

// newQdrantIndexer 创建 Qdrant Indexer
func newQdrantIndexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	client, err := NewQdrantClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS)
	if err != nil {
		return nil, err
	}

	indexerCfg := &qdrantindexer.Config{
		Client:     client,
		Collection: cfg.Collection,
		VectorDim:  cfg.VectorSize,
		Distance:   parseQdrantDistance(cfg.Qdrant.Distance),
		Embedding:  embedder,
	}
	if cfg.BatchSize > 0 {
		indexerCfg.BatchSize = cfg.BatchSize
	}

	return qdrantindexer.NewIndexer(ctx, indexerCfg)
}

// parseQdrantDistance 解析 Qdrant 距离类型
func parseQdrantDistance(dist string) qdrantClient.Distance {
	switch dist {
	case "Cosine", "cosine":
		return qdrantClient.Distance_Cosine
	case "Euclid", "euclid", "euclidean":
		return qdrantClient.Distance_Euclid
	case "Dot", "dot":
		return qdrantClient.Distance_Dot
	case "Manhattan", "manhattan":
		return qdrantClient.Distance_Manhattan
	default:
		return qdrantClient.Distance_Cosine
	}
}

// newMilvusIndexer 创建 Milvus Indexer
func newMilvusIndexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	client, err := milvusClient.NewClient(ctx, milvusClient.Config{
		Address:  fmt.Sprintf("%s:%d", cfg.Milvus.Host, cfg.Milvus.Port),
		Username: cfg.Milvus.Username,
		Password: cfg.Milvus.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return milvusindexer.NewIndexer(ctx, &milvusindexer.IndexerConfig{
		Client:     client,
		Collection: cfg.Collection,
		Embedding:  embedder,
	})
}

// newRedisIndexer 创建 Redis Indexer
func newRedisIndexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Protocol: 2, // RESP2 以支持向量搜索
	})

	return redisindexer.NewIndexer(ctx, &redisindexer.IndexerConfig{
		Client:           rdb,
		KeyPrefix:        cfg.Redis.Prefix,
		Embedding:        embedder,
		DocumentToHashes: redisDocumentToHashes,
	})
}

// redisDocumentToHashes 元数据平铺为 Hash 字段，便于按 law_id 过滤和删除
func redisDocumentToHashes(_ context.Context, doc *schema.Document) (*redisindexer.Hashes, error) {
	fields := map[string]redisindexer.FieldValue{
		redisContentField: {
			Value:    doc.Content,
			EmbedKey: redisVectorField,
		},
	}
	for k, v := range doc.MetaData {
		if k == redisContentField || k == redisVectorField || v == nil {
			continue
		}
		fields[k] = redisindexer.FieldValue{Value: fmt.Sprint(v)}
	}
	return &redisindexer.Hashes{Key: doc.ID, Field2Value: fields}, nil
}

// newES8Indexer 创建 Elasticsearch Indexer
func newES8Indexer(ctx context.Context, cfg *config.IndexerConfig, embedder embedding.Embedder) (indexer.Indexer, error) {
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.ES8.Addresses,
		Username:  cfg.ES8.Username,
		Password:  cfg.ES8.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	documentToFields := func(_ context.Context, doc *schema.Document) (map[string]es8indexer.FieldValue, error) {
		return map[string]es8indexer.FieldValue{
			es8ContentField: {
				Value:    doc.Content,
				EmbedKey: es8VectorField,
			},
			es8MetadataField: {
				Value: doc.MetaData,
			},
		}, nil
	}

	return es8indexer.NewIndexer(ctx, &es8indexer.IndexerConfig{
		Client:           esClient,
		Index:            cfg.ES8.Index,
		Embedding:        embedder,
		DocumentToFields: documentToFields,
	})
}
