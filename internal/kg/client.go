// Package kg 访问 HippoRAG 知识图谱检索服务
package kg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"traffic-law-bot/internal/resilience"
	"traffic-law-bot/pkg/logger"
)

// SourceName 写入文档元数据 _source 的取值
const SourceName = "hipporag"

// ErrDisabled 未配置知识图谱服务
var ErrDisabled = errors.New("kg: client disabled")

// Config 客户端配置
type Config struct {
	BaseURL string
	TopK    int
	Timeout time.Duration
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type retrievedDoc struct {
	Text      string  `json:"text"`
	LawID     string  `json:"law_id"`
	ArticleID string  `json:"article_id"`
	ClauseID  string  `json:"clause_id"`
	PointID   string  `json:"point_id"`
	Score     float64 `json:"score"`
}

type retrieveResponse struct {
	Answer string         `json:"answer"`
	Docs   []retrievedDoc `json:"docs"`
}

// Answer 知识图谱问答结果
type Answer struct {
	Text      string
	Documents []*schema.Document
}

// Client HippoRAG HTTP 客户端，实现 eino retriever.Retriever
type Client struct {
	cfg    Config
	http   *http.Client
	policy *resilience.Policy
	log    logger.Logger
}

var _ retriever.Retriever = (*Client)(nil)

// NewClient 创建客户端；BaseURL 为空时返回的客户端所有调用都返回 ErrDisabled
func NewClient(cfg Config, policy *resilience.Policy, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetDefault()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		log:    log,
	}
}

// Enabled 是否配置了服务地址
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.BaseURL != ""
}

// Retrieve 检索相关法条
func (c *Client) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := c.cfg.TopK
	if o := retriever.GetCommonOptions(nil, opts...); o.TopK != nil && *o.TopK > 0 {
		topK = *o.TopK
	}

	ans, err := c.query(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return ans.Documents, nil
}

// Query 返回服务生成的答案以及支撑文档
func (c *Client) Query(ctx context.Context, query string) (*Answer, error) {
	return c.query(ctx, query, c.cfg.TopK)
}

func (c *Client) query(ctx context.Context, query string, topK int) (*Answer, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	body, err := json.Marshal(retrieveRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("kg: marshal request: %w", err)
	}

	start := time.Now()
	resp, err := resilience.Call(ctx, c.policy, func(ctx context.Context) (*retrieveResponse, error) {
		return c.post(ctx, "/retrieve", body)
	})
	if err != nil {
		c.log.WarnContext(ctx, "知识图谱检索失败", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("kg: retrieve: %w", err)
	}

	docs := make([]*schema.Document, 0, len(resp.Docs))
	for i, d := range resp.Docs {
		if i >= topK {
			break
		}
		docs = append(docs, toDocument(query, resp.Answer, d))
	}

	c.log.DebugContext(ctx, "知识图谱检索完成", "docs", len(docs), "duration_ms", time.Since(start).Milliseconds())
	return &Answer{Text: resp.Answer, Documents: docs}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*retrieveResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resilience.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var out retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &out, nil
}

// Health 探测服务是否可用
func (c *Client) Health(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kg: health status %d", resp.StatusCode)
	}
	return nil
}

var (
	headerLawRe     = regexp.MustCompile(`^\[(.*?)\]`)
	headerArticleRe = regexp.MustCompile(`Điều\s+(\d+)`)
	headerClauseRe  = regexp.MustCompile(`(?:Mục|Khoản)\s+(\d+)`)
)

// 文本首行形如 "[Nghị định 168-2024-NĐ-CP] Điều 32 Khoản 16"，结构化字段缺失时从中解析
func toDocument(query, answer string, d retrievedDoc) *schema.Document {
	content := strings.TrimSpace(d.Text)
	lawID, articleID, clauseID := d.LawID, d.ArticleID, d.ClauseID

	first, rest, _ := strings.Cut(content, "\n")
	if m := headerLawRe.FindStringSubmatch(strings.TrimSpace(first)); m != nil {
		if lawID == "" {
			lawID = m[1]
		}
		if articleID == "" {
			if a := headerArticleRe.FindStringSubmatch(first); a != nil {
				articleID = a[1]
			}
		}
		if clauseID == "" {
			if k := headerClauseRe.FindStringSubmatch(first); k != nil {
				clauseID = k[1]
			}
		}
		content = strings.TrimSpace(rest)
	}

	meta := map[string]any{
		"_source": SourceName,
		"_query":  query,
	}
	if answer != "" {
		meta["_answer"] = answer
	}
	setIfNotEmpty(meta, "law_id", lawID)
	setIfNotEmpty(meta, "article_id", articleID)
	setIfNotEmpty(meta, "clause_id", clauseID)
	setIfNotEmpty(meta, "point_id", d.PointID)

	doc := &schema.Document{
		ID:       docID(lawID, articleID, clauseID, d.PointID, content),
		Content:  content,
		MetaData: meta,
	}
	return doc.WithScore(d.Score)
}

func setIfNotEmpty(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}

func docID(lawID, articleID, clauseID, pointID, content string) string {
	if lawID == "" && articleID == "" {
		h := fnv.New64a()
		_, _ = h.Write([]byte(content))
		return SourceName + ":" + strconv.FormatUint(h.Sum64(), 16)
	}
	return strings.Join([]string{SourceName, lawID, articleID, clauseID, pointID}, ":")
}
