// Package semcache 实现基于 SQLite 的语义缓存与 Embedding 缓存。
//
// SemanticCache 以余弦相似度匹配相近问题，命中时复用已生成的回答；
// 条目受 TTL 和容量上限双重约束，容量淘汰按 last_accessed 升序（LRU）。
// EmbeddingCache 以文本摘要做精确匹配，避免重复计算向量。
package semcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"traffic-law-bot/pkg/logger"
)

// SemanticConfig 语义缓存配置，构造后不可变
type SemanticConfig struct {
	SimilarityThreshold float64       // 命中阈值（含等于）
	TTL                 time.Duration // 条目可见的最长时间
	MaxEntries          int           // 行数上限
	EvictionOvershoot   int           // 达到上限时额外淘汰的行数，最小按 1 处理
	DedupThreshold      float64       // set 时视为同一问题的阈值（严格大于）
}

// DefaultSemanticConfig 默认配置
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		SimilarityThreshold: 0.85,
		TTL:                 24 * time.Hour,
		MaxEntries:          1000,
		EvictionOvershoot:   100,
		DedupThreshold:      0.95,
	}
}

// Validate 验证配置
func (c SemanticConfig) Validate() error {
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [-1, 1], got %v", c.SimilarityThreshold)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", c.TTL)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be positive, got %d", c.MaxEntries)
	}
	if c.EvictionOvershoot < 0 {
		return fmt.Errorf("eviction overshoot must not be negative, got %d", c.EvictionOvershoot)
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("dedup threshold must be in (0, 1], got %v", c.DedupThreshold)
	}
	return nil
}

// Hit 一次命中的详细信息
type Hit struct {
	ID          int64          `json:"id"`
	Response    string         `json:"response"`
	Similarity  float64        `json:"similarity"`
	HitCount    int64          `json:"hit_count"`
	CachedQuery string         `json:"cached_query"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Outcome 查询结果类型
type Outcome int

const (
	OutcomeMiss Outcome = iota
	OutcomeHit
	OutcomeNoProvider
	OutcomeEmbedFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeNoProvider:
		return "no_provider"
	case OutcomeEmbedFailed:
		return "embed_failed"
	default:
		return "miss"
	}
}

// LookupResult 查询结果。除 OutcomeHit 外调用方都应按未命中处理。
type LookupResult struct {
	Outcome  Outcome
	Hit      *Hit
	EmbedErr error
}

// SetOutcome 写入结果类型
type SetOutcome int

const (
	SetInserted SetOutcome = iota
	SetUpdated
	SetSkippedNoProvider
	SetSkippedEmbedFailed
)

func (o SetOutcome) String() string {
	switch o {
	case SetInserted:
		return "inserted"
	case SetUpdated:
		return "updated"
	case SetSkippedNoProvider:
		return "skipped_no_provider"
	default:
		return "skipped_embed_failed"
	}
}

// Stats 缓存统计
type Stats struct {
	TotalEntries        int64   `json:"total_entries"`
	TotalHits           int64   `json:"total_hits"`
	AverageSimilarity   float64 `json:"average_similarity"`
	MostHitQuery        string  `json:"most_hit_query,omitempty"`
	MostHitCount        int64   `json:"most_hit_count"`
	CacheEfficiency     float64 `json:"cache_efficiency"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	TTLHours            float64 `json:"ttl_hours"`
	MaxEntries          int     `json:"max_entries"`
}

// SemanticCache 语义缓存
type SemanticCache struct {
	db     *sql.DB
	ownsDB bool
	cfg    SemanticConfig
	clock  func() time.Time
	log    logger.Logger

	mu       sync.RWMutex
	provider Provider
}

// NewSemanticCache 打开（或创建）dbPath 处的缓存库
func NewSemanticCache(ctx context.Context, dbPath string, cfg SemanticConfig, opts ...Option) (*SemanticCache, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	c, err := NewSemanticCacheWithDB(ctx, db, cfg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// NewSemanticCacheWithDB 使用调用方提供的连接，Close 不会关闭它
func NewSemanticCacheWithDB(ctx context.Context, db *sql.DB, cfg SemanticConfig, opts ...Option) (*SemanticCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid semantic cache config: %w", err)
	}
	if err := migrate(ctx, db, semanticSchema); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	return &SemanticCache{
		db:       db,
		cfg:      cfg,
		clock:    o.clock,
		log:      o.log,
		provider: o.provider,
	}, nil
}

// SetProvider 挂载或替换 Embedding 提供者，传 nil 使缓存失效
func (c *SemanticCache) SetProvider(p Provider) {
	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
}

// HasProvider 是否已挂载提供者
func (c *SemanticCache) HasProvider() bool {
	return c.currentProvider() != nil
}

func (c *SemanticCache) currentProvider() Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider
}

// Config 返回缓存配置
func (c *SemanticCache) Config() SemanticConfig {
	return c.cfg
}

// Get 返回命中的回答。存储错误之外的所有失败都表现为未命中。
func (c *SemanticCache) Get(ctx context.Context, query string) (string, bool, error) {
	res, err := c.Lookup(ctx, query)
	if err != nil || res.Hit == nil {
		return "", false, err
	}
	return res.Hit.Response, true, nil
}

// Lookup 查询缓存并返回带原因的结果
func (c *SemanticCache) Lookup(ctx context.Context, query string) (LookupResult, error) {
	provider := c.currentProvider()
	if provider == nil {
		c.log.DebugContext(ctx, "语义缓存未挂载Embedding提供者，跳过查询")
		return LookupResult{Outcome: OutcomeNoProvider}, nil
	}

	now := c.clock()
	cutoff := now.Add(-c.cfg.TTL).UnixNano()

	// 每次读取前清理过期条目
	swept, err := c.sweepExpired(ctx, cutoff)
	if err != nil {
		return LookupResult{}, err
	}
	if swept > 0 {
		c.log.DebugContext(ctx, "清理过期缓存条目", "count", swept)
	}

	emb := computeEmbedding(ctx, provider, query)
	if !emb.OK() {
		c.log.WarnContext(ctx, "查询向量计算失败，按未命中处理", "error", emb.Err)
		return LookupResult{Outcome: OutcomeEmbedFailed, EmbedErr: emb.Err}, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return LookupResult{}, fmt.Errorf("cache get: begin: %w", err)
	}
	defer tx.Rollback()

	best, err := c.bestMatch(ctx, tx, emb.Vector, cutoff, c.cfg.SimilarityThreshold)
	if err != nil {
		return LookupResult{}, fmt.Errorf("cache get: %w", err)
	}
	if best == nil {
		if err := tx.Commit(); err != nil {
			return LookupResult{}, fmt.Errorf("cache get: commit: %w", err)
		}
		return LookupResult{Outcome: OutcomeMiss}, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE semantic_cache SET hit_count = hit_count + 1, last_accessed = ?, similarity_used = ? WHERE id = ?`,
		now.UnixNano(), best.similarity, best.id,
	); err != nil {
		return LookupResult{}, fmt.Errorf("cache get: record hit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return LookupResult{}, fmt.Errorf("cache get: commit: %w", err)
	}

	hit := &Hit{
		ID:          best.id,
		Response:    best.response,
		Similarity:  best.similarity,
		HitCount:    best.hitCount + 1,
		CachedQuery: best.queryText,
		Metadata:    c.decodeMetadata(ctx, best.id, best.metadata),
	}
	c.log.DebugContext(ctx, "语义缓存命中", "id", hit.ID, "similarity", hit.Similarity, "hit_count", hit.HitCount)
	return LookupResult{Outcome: OutcomeHit, Hit: hit}, nil
}

// Set 写入问答对。相似度高于去重阈值的已有条目会被原地更新。
func (c *SemanticCache) Set(ctx context.Context, query, response string, metadata map[string]any) (SetOutcome, error) {
	provider := c.currentProvider()
	if provider == nil {
		c.log.DebugContext(ctx, "语义缓存未挂载Embedding提供者，跳过写入")
		return SetSkippedNoProvider, nil
	}

	emb := computeEmbedding(ctx, provider, query)
	if !emb.OK() {
		c.log.WarnContext(ctx, "写入向量计算失败，跳过写入", "error", emb.Err)
		return SetSkippedEmbedFailed, nil
	}

	var metaJSON sql.NullString
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("cache set: encode metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := c.clock()
	cutoff := now.Add(-c.cfg.TTL).UnixNano()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("cache set: begin: %w", err)
	}
	defer tx.Rollback()

	evicted, err := c.enforceSizeLimit(ctx, tx)
	if err != nil {
		return 0, err
	}
	if evicted > 0 {
		c.log.InfoContext(ctx, "语义缓存达到容量上限，淘汰最久未访问条目", "evicted", evicted)
	}

	// 去重扫描只看去重阈值，与命中阈值无关
	best, err := c.bestMatch(ctx, tx, emb.Vector, cutoff, c.cfg.DedupThreshold)
	if err != nil {
		return 0, fmt.Errorf("cache set: %w", err)
	}

	outcome := SetInserted
	if best != nil && best.similarity > c.cfg.DedupThreshold {
		_, err = tx.ExecContext(ctx,
			`UPDATE semantic_cache
			 SET response = ?, hit_count = hit_count + 1, last_accessed = ?, similarity_used = ?,
			     metadata = COALESCE(?, metadata)
			 WHERE id = ?`,
			response, now.UnixNano(), best.similarity, metaJSON, best.id,
		)
		if err != nil {
			return 0, fmt.Errorf("cache set: update: %w", err)
		}
		outcome = SetUpdated
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO semantic_cache
			 (query_hash, query_text, response, embedding, hit_count, created_at, last_accessed, metadata)
			 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
			hashText(query), query, response, encodeEmbedding(emb.Vector), now.UnixNano(), now.UnixNano(), metaJSON,
		)
		if err != nil {
			return 0, fmt.Errorf("cache set: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("cache set: commit: %w", err)
	}
	c.log.DebugContext(ctx, "语义缓存写入", "outcome", outcome.String())
	return outcome, nil
}

// Clear 删除全部条目
func (c *SemanticCache) Clear(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM semantic_cache`)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Size 当前物理行数（包含尚未清理的过期行）
func (c *SemanticCache) Size(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM semantic_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache size: %w", err)
	}
	return n, nil
}

// Stats 统计信息
func (c *SemanticCache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		SimilarityThreshold: c.cfg.SimilarityThreshold,
		TTLHours:            c.cfg.TTL.Hours(),
		MaxEntries:          c.cfg.MaxEntries,
	}

	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0), COALESCE(AVG(similarity_used), 0) FROM semantic_cache`,
	).Scan(&stats.TotalEntries, &stats.TotalHits, &stats.AverageSimilarity)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}

	err = c.db.QueryRowContext(ctx,
		`SELECT query_text, hit_count FROM semantic_cache ORDER BY hit_count DESC, id ASC LIMIT 1`,
	).Scan(&stats.MostHitQuery, &stats.MostHitCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("cache stats: most hit: %w", err)
	}

	entries := stats.TotalEntries
	if entries < 1 {
		entries = 1
	}
	stats.CacheEfficiency = float64(stats.TotalHits) / float64(entries)
	return stats, nil
}

// Close 关闭自己打开的数据库
func (c *SemanticCache) Close() error {
	if !c.ownsDB {
		return nil
	}
	return c.db.Close()
}

func (c *SemanticCache) sweepExpired(ctx context.Context, cutoff int64) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM semantic_cache WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache get: sweep expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *SemanticCache) enforceSizeLimit(ctx context.Context, tx *sql.Tx) (int, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM semantic_cache`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache set: count: %w", err)
	}

	n := evictionCount(count, c.cfg.MaxEntries, c.cfg.EvictionOvershoot)
	if n == 0 {
		return 0, nil
	}

	_, err := tx.ExecContext(ctx,
		`DELETE FROM semantic_cache WHERE id IN (
			SELECT id FROM semantic_cache ORDER BY last_accessed ASC, id ASC LIMIT ?
		)`, n)
	if err != nil {
		return 0, fmt.Errorf("cache set: evict: %w", err)
	}
	return n, nil
}

type candidate struct {
	id         int64
	queryText  string
	response   string
	hitCount   int64
	metadata   sql.NullString
	similarity float64
}

// bestMatch 线性扫描未过期条目，返回相似度不低于 floor 的最高者，相同时先出现者优先
func (c *SemanticCache) bestMatch(ctx context.Context, tx *sql.Tx, query []float32, cutoff int64, floor float64) (*candidate, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, query_text, response, embedding, hit_count, metadata
		 FROM semantic_cache WHERE created_at > ? ORDER BY id ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	var best *candidate
	for rows.Next() {
		var (
			cand candidate
			raw  []byte
		)
		if err := rows.Scan(&cand.id, &cand.queryText, &cand.response, &raw, &cand.hitCount, &cand.metadata); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if len(raw) == 0 {
			c.log.WarnContext(ctx, "缓存条目缺少向量，跳过", "id", cand.id)
			continue
		}

		stored, err := decodeEmbedding(cand.id, raw, len(query))
		if err != nil {
			c.log.WarnContext(ctx, "缓存条目向量损坏，跳过", "id", cand.id, "error", err)
			continue
		}

		cand.similarity = CosineSimilarity(query, stored)
		if cand.similarity < floor {
			continue
		}
		if best == nil || cand.similarity > best.similarity {
			found := cand
			best = &found
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	return best, nil
}

func (c *SemanticCache) decodeMetadata(ctx context.Context, id int64, raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		c.log.WarnContext(ctx, "缓存条目元数据解析失败", "id", id, "error", err)
		return nil
	}
	return meta
}
