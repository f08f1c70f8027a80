// Package ingest 将法规条文写入向量库，并支持按文书删除
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"traffic-law-bot/internal/eino/nodes"
)

// 元数据字段，与检索结果和知识图谱文档保持一致
const (
	MetaLawID     = "law_id"
	MetaArticleID = "article_id"
	MetaClauseID  = "clause_id"
	MetaPointID   = "point_id"
	MetaTitle     = "title"
	MetaSourceID  = "source_id"
)

// 条文 ID 命名空间，非 UUID 的原始 ID 按此派生稳定的 UUID
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("traffic-law-bot/records"))

// Record JSONL 中的一条法规条文
type Record struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	LawID     string `json:"law_id"`
	ArticleID string `json:"article_id,omitempty"`
	ClauseID  string `json:"clause_id,omitempty"`
	PointID   string `json:"point_id,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Validate 检查必填字段
func (r Record) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if strings.TrimSpace(r.LawID) == "" {
		return fmt.Errorf("law_id is required")
	}
	return nil
}

// Document 转换为 eino 文档。向量库要求 UUID 主键，原始 ID 保存在 source_id。
func (r Record) Document() *schema.Document {
	meta := map[string]any{MetaLawID: strings.TrimSpace(r.LawID)}
	setIfNotEmpty(meta, MetaArticleID, r.ArticleID)
	setIfNotEmpty(meta, MetaClauseID, r.ClauseID)
	setIfNotEmpty(meta, MetaPointID, r.PointID)
	setIfNotEmpty(meta, MetaTitle, r.Title)

	id := strings.TrimSpace(r.ID)
	switch {
	case id == "":
		id = uuid.NewString()
	default:
		if _, err := uuid.Parse(id); err != nil {
			meta[MetaSourceID] = id
			id = uuid.NewSHA1(recordNamespace, []byte(id)).String()
		}
	}

	return &schema.Document{
		ID:       id,
		Content:  nodes.CleanText(r.Text),
		MetaData: meta,
	}
}

func setIfNotEmpty(m map[string]any, key, val string) {
	if val = strings.TrimSpace(val); val != "" {
		m[key] = val
	}
}

// LineError 某一行解析或校验失败
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ReadJSONL 逐行读取条文，空行跳过，遇到第一处错误即返回
func ReadJSONL(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	// 单条条文可能很长
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, &LineError{Line: line, Err: err}
		}
		if err := rec.Validate(); err != nil {
			return nil, &LineError{Line: line, Err: err}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return records, nil
}
