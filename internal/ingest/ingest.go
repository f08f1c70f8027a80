package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"

	"traffic-law-bot/pkg/logger"
)

// Result 一次导入的统计
type Result struct {
	Records  int      `json:"records"`
	Indexed  int      `json:"indexed"`
	Batches  int      `json:"batches"`
	IDs      []string `json:"-"`
	Duration string   `json:"duration"`
}

// Ingester 分批写入法规条文
type Ingester struct {
	indexer   indexer.Indexer
	batchSize int
	log       logger.Logger
}

// NewIngester 创建导入器
func NewIngester(idx indexer.Indexer, batchSize int, log logger.Logger) *Ingester {
	if batchSize <= 0 {
		batchSize = 64
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Ingester{indexer: idx, batchSize: batchSize, log: log}
}

// IngestFile 读取 JSONL 文件并导入
func (i *Ingester) IngestFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return i.Ingest(ctx, records)
}

// Ingest 导入条文。某批失败时返回错误，已写入的批次不回滚。
func (i *Ingester) Ingest(ctx context.Context, records []Record) (*Result, error) {
	start := time.Now()
	res := &Result{Records: len(records)}

	docs := make([]*schema.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, r.Document())
	}

	for begin := 0; begin < len(docs); begin += i.batchSize {
		end := min(begin+i.batchSize, len(docs))
		batch := docs[begin:end]

		ids, err := i.indexer.Store(ctx, batch)
		if err != nil {
			return res, fmt.Errorf("store batch %d: %w", res.Batches+1, err)
		}
		res.Batches++
		res.Indexed += len(batch)
		res.IDs = append(res.IDs, ids...)

		i.log.InfoContext(ctx, "条文批次写入完成", "batch", res.Batches, "size", len(batch), "indexed", res.Indexed, "total", len(docs))
	}

	res.Duration = time.Since(start).Round(time.Millisecond).String()
	return res, nil
}
