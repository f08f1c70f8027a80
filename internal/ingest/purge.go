package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	milvusClient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	qdrantClient "github.com/qdrant/go-client/qdrant"
	redis "github.com/redis/go-redis/v9"

	"traffic-law-bot/internal/eino/components"
	"traffic-law-bot/internal/eino/config"
	"traffic-law-bot/pkg/logger"
)

// PurgeResult 删除统计
type PurgeResult struct {
	LawID    string `json:"law_id"`
	Provider string `json:"provider"`
	Deleted  int64  `json:"deleted"`
}

// Purger 按文书（law_id）删除向量库中的条文。
// eino 的 Indexer 没有删除接口，这里直接使用各向量库客户端。
type Purger struct {
	provider string

	collection  string
	qdrant      *qdrantClient.Client
	milvus      milvusClient.Client
	redis       *redis.Client
	redisPrefix string
	es          *elasticsearch.Client
	esIndex     string

	log logger.Logger
}

// NewPurger 按索引器配置连接向量库，删除的范围与导入写入的范围一致
func NewPurger(ctx context.Context, cfg *config.IndexerConfig, log logger.Logger) (*Purger, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	p := &Purger{
		provider:    cfg.Provider,
		collection:  cfg.Collection,
		redisPrefix: cfg.Redis.Prefix,
		esIndex:     cfg.ES8.Index,
		log:         log,
	}

	switch cfg.Provider {
	case "qdrant":
		client, err := components.NewQdrantClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS)
		if err != nil {
			return nil, err
		}
		p.qdrant = client
	case "milvus":
		client, err := milvusClient.NewClient(ctx, milvusClient.Config{
			Address:  fmt.Sprintf("%s:%d", cfg.Milvus.Host, cfg.Milvus.Port),
			Username: cfg.Milvus.Username,
			Password: cfg.Milvus.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create milvus client: %w", err)
		}
		p.milvus = client
	case "redis":
		p.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Protocol: 2,
		})
	case "es8":
		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: cfg.ES8.Addresses,
			Username:  cfg.ES8.Username,
			Password:  cfg.ES8.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
		}
		p.es = client
	default:
		return nil, fmt.Errorf("unsupported indexer provider for purge: %s", cfg.Provider)
	}

	return p, nil
}

// NewRedisPurger 使用已有的 Redis 客户端
func NewRedisPurger(rdb *redis.Client, prefix string, log logger.Logger) *Purger {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Purger{provider: "redis", redis: rdb, redisPrefix: prefix, log: log}
}

// NewES8Purger 使用已有的 Elasticsearch 客户端
func NewES8Purger(es *elasticsearch.Client, index string, log logger.Logger) *Purger {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Purger{provider: "es8", es: es, esIndex: index, log: log}
}

// PurgeLaw 删除某个文书的全部条文
func (p *Purger) PurgeLaw(ctx context.Context, lawID string) (*PurgeResult, error) {
	lawID = strings.TrimSpace(lawID)
	if lawID == "" {
		return nil, errors.New("law_id is required")
	}

	var (
		deleted int64
		err     error
	)
	switch p.provider {
	case "qdrant":
		deleted, err = p.purgeQdrant(ctx, lawID)
	case "milvus":
		deleted, err = p.purgeMilvus(ctx, lawID)
	case "redis":
		deleted, err = p.purgeRedis(ctx, lawID)
	case "es8":
		deleted, err = p.purgeElasticsearch(ctx, lawID)
	default:
		err = fmt.Errorf("purge not supported for provider %s", p.provider)
	}
	if err != nil {
		return nil, fmt.Errorf("purge %s: %w", lawID, err)
	}

	p.log.InfoContext(ctx, "按文书删除条文完成", "law_id", lawID, "provider", p.provider, "deleted", deleted)
	return &PurgeResult{LawID: lawID, Provider: p.provider, Deleted: deleted}, nil
}

// Close 关闭与向量数据库的连接。
func (p *Purger) Close() error {
	var errs []error
	if p.qdrant != nil {
		errs = append(errs, p.qdrant.Close())
	}
	if p.milvus != nil {
		errs = append(errs, p.milvus.Close())
	}
	if p.redis != nil {
		errs = append(errs, p.redis.Close())
	}
	return errors.Join(errs...)
}

// purgeQdrant 条文元数据保存在 payload 的 metadata 字段下
func (p *Purger) purgeQdrant(ctx context.Context, lawID string) (int64, error) {
	filter := &qdrantClient.Filter{
		Must: []*qdrantClient.Condition{
			qdrantClient.NewMatch("metadata."+MetaLawID, lawID),
		},
	}

	count, err := p.qdrant.Count(ctx, &qdrantClient.CountPoints{
		CollectionName: p.collection,
		Filter:         filter,
		Exact:          qdrantClient.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if _, err := p.qdrant.Delete(ctx, &qdrantClient.DeletePoints{
		CollectionName: p.collection,
		Wait:           qdrantClient.PtrOf(true),
		Points:         qdrantClient.NewPointsSelectorFilter(filter),
	}); err != nil {
		return 0, fmt.Errorf("delete points: %w", err)
	}
	return int64(count), nil
}

// purgeMilvus 先按 JSON 元数据查出主键，再按主键删除
func (p *Purger) purgeMilvus(ctx context.Context, lawID string) (int64, error) {
	expr := fmt.Sprintf(`metadata[%q] == %q`, MetaLawID, lawID)
	rs, err := p.milvus.Query(ctx, p.collection, nil, expr, []string{"id"})
	if err != nil {
		return 0, fmt.Errorf("query ids: %w", err)
	}

	col := rs.GetColumn("id")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	varchar, ok := col.(*entity.ColumnVarChar)
	if !ok {
		return 0, fmt.Errorf("unexpected id column type %v", col.Type())
	}

	ids := varchar.Data()
	if err := p.milvus.DeleteByPks(ctx, p.collection, "", entity.NewColumnVarChar("id", ids)); err != nil {
		return 0, fmt.Errorf("delete by pks: %w", err)
	}
	return int64(len(ids)), nil
}

// purgeRedis 扫描前缀下的 Hash，law_id 字段匹配的删除
func (p *Purger) purgeRedis(ctx context.Context, lawID string) (int64, error) {
	var deleted int64
	iter := p.redis.Scan(ctx, 0, p.redisPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := p.redis.HGet(ctx, key, MetaLawID).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("hget %s: %w", key, err)
		}
		if val != lawID {
			continue
		}
		n, err := p.redis.Del(ctx, key).Result()
		if err != nil {
			return deleted, fmt.Errorf("del %s: %w", key, err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan: %w", err)
	}
	return deleted, nil
}

type deleteByQueryResponse struct {
	Deleted int64 `json:"deleted"`
}

func (p *Purger) purgeElasticsearch(ctx context.Context, lawID string) (int64, error) {
	if p.esIndex == "" {
		return 0, errors.New("elasticsearch index is not configured")
	}

	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"term": map[string]any{"metadata." + MetaLawID + ".keyword": lawID},
		},
	})
	if err != nil {
		return 0, err
	}

	resp, err := p.es.DeleteByQuery(
		[]string{p.esIndex},
		strings.NewReader(string(body)),
		p.es.DeleteByQuery.WithContext(ctx),
		p.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("delete by query: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, fmt.Errorf("delete by query: %s", resp.String())
	}

	var out deleteByQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode delete by query response: %w", err)
	}
	return out.Deleted, nil
}
