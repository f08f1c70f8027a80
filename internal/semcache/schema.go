package semcache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"traffic-law-bot/pkg/logger"
)

const semanticSchema = `
CREATE TABLE IF NOT EXISTS semantic_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_hash TEXT NOT NULL,
	query_text TEXT NOT NULL,
	response TEXT NOT NULL,
	embedding BLOB NOT NULL,
	similarity_used REAL,
	hit_count INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_query_hash ON semantic_cache(query_hash);
CREATE INDEX IF NOT EXISTS idx_created_at ON semantic_cache(created_at);
CREATE INDEX IF NOT EXISTS idx_last_accessed ON semantic_cache(last_accessed);
`

const embeddingSchema = `
CREATE TABLE IF NOT EXISTS embedding_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text_hash TEXT NOT NULL UNIQUE,
	text_content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_text_hash ON embedding_cache(text_hash);
`

// openDB 打开 sqlite 数据库。单连接 + WAL，事务之间由 sqlite 串行化。
func openDB(path string) (*sql.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create cache dir: %w", err)
			}
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if strings.Contains(path, "?") {
		dsn = path + "&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// migrate 建表建索引
func migrate(ctx context.Context, db *sql.DB, schema string) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate cache db: %w", err)
	}
	return nil
}

// options 两种缓存共享的构造选项
type options struct {
	clock    func() time.Time
	log      logger.Logger
	provider Provider
}

// Option 构造选项
type Option func(*options)

// WithClock 注入时钟，测试中用于控制 TTL 与 LRU 顺序
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger 注入日志器
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithProvider 构造时直接挂载 Embedding 提供者（仅 SemanticCache 使用）
func WithProvider(p Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock: time.Now,
		log:   logger.GetDefault(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// evictionCount 计算达到容量时需要删除的行数，结果保证插入一行后不超过 maxEntries
func evictionCount(current, maxEntries, overshoot int) int {
	if current < maxEntries {
		return 0
	}
	if overshoot < 1 {
		overshoot = 1
	}
	return current - maxEntries + overshoot
}
