package nodes

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// SelectionStrategy 选择策略类型
type SelectionStrategy string

const (
	// StrategyFirst 保持检索返回的顺序
	StrategyFirst SelectionStrategy = "first"
	// StrategyHighestScore 按分数从高到低
	StrategyHighestScore SelectionStrategy = "highest_score"
	// StrategyTemperatureSoftmax 按温度 softmax 无放回采样
	StrategyTemperatureSoftmax SelectionStrategy = "temperature_softmax"
)

// ResultSelector 从检索结果中挑选送入大模型的上下文
type ResultSelector struct {
	strategy    SelectionStrategy
	temperature float64
	topN        int
	rnd         func() float64
}

// NewResultSelector 创建结果选择器，topN <= 0 表示不截断
func NewResultSelector(strategy string, temperature float64, topN int) *ResultSelector {
	s := SelectionStrategy(strategy)
	if s == "" {
		s = StrategyHighestScore
	}
	if temperature <= 0 {
		temperature = 0.7
	}
	return &ResultSelector{
		strategy:    s,
		temperature: temperature,
		topN:        topN,
		rnd:         rand.Float64,
	}
}

// Select 选择单个最佳结果
func (s *ResultSelector) Select(ctx context.Context, docs []*schema.Document) (*schema.Document, error) {
	ranked, err := s.Rank(ctx, docs)
	if err != nil || len(ranked) == 0 {
		return nil, err
	}
	return ranked[0], nil
}

// Rank 按策略排序并截取前 topN 个
func (s *ResultSelector) Rank(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var ranked []*schema.Document
	switch s.strategy {
	case StrategyHighestScore:
		ranked = rankByScore(docs)
	case StrategyTemperatureSoftmax:
		ranked = s.rankBySoftmax(docs)
	default:
		ranked = append([]*schema.Document(nil), docs...)
	}

	if s.topN > 0 && len(ranked) > s.topN {
		ranked = ranked[:s.topN]
	}
	return ranked, nil
}

func rankByScore(docs []*schema.Document) []*schema.Document {
	out := append([]*schema.Document(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		return getDocScore(out[i]) > getDocScore(out[j])
	})
	return out
}

// rankBySoftmax 每轮按 softmax 概率抽取一个，直到取完
func (s *ResultSelector) rankBySoftmax(docs []*schema.Document) []*schema.Document {
	pool := append([]*schema.Document(nil), docs...)
	out := make([]*schema.Document, 0, len(pool))

	for len(pool) > 1 {
		i := s.sampleIndex(pool)
		out = append(out, pool[i])
		pool = append(pool[:i], pool[i+1:]...)
	}
	return append(out, pool...)
}

func (s *ResultSelector) sampleIndex(docs []*schema.Document) int {
	scores := make([]float64, len(docs))
	maxScore := -math.MaxFloat64

	// 获取所有分数并找到最大值
	for i, doc := range docs {
		scores[i] = getDocScore(doc)
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}

	// 计算 softmax 概率（使用数值稳定版本）
	expSum := 0.0
	for i := range scores {
		scores[i] = math.Exp((scores[i] - maxScore) / s.temperature)
		expSum += scores[i]
	}

	r := s.rnd() * expSum
	cumSum := 0.0
	for i, p := range scores {
		cumSum += p
		if r <= cumSum {
			return i
		}
	}
	return len(docs) - 1
}

// getDocScore 从文档中获取分数
func getDocScore(doc *schema.Document) float64 {
	if doc == nil {
		return 0
	}

	if score, ok := doc.MetaData["score"].(float64); ok {
		return score
	}

	// eino 检索器通过 WithScore 写入 _score
	return doc.Score()
}

// MergeDocuments 合并多路检索结果并去重。
// 有引用信息的按引用去重，否则按内容去重；重复时保留分数更高的一份，顺序按首次出现。
func MergeDocuments(groups ...[]*schema.Document) []*schema.Document {
	index := make(map[string]int)
	var out []*schema.Document

	for _, group := range groups {
		for _, doc := range group {
			if doc == nil || strings.TrimSpace(doc.Content) == "" {
				continue
			}
			key := dedupKey(doc)
			if i, ok := index[key]; ok {
				if getDocScore(doc) > getDocScore(out[i]) {
					out[i] = doc
				}
				continue
			}
			index[key] = len(out)
			out = append(out, doc)
		}
	}
	return out
}

func dedupKey(doc *schema.Document) string {
	if c := FormatCitation(doc.MetaData); c != UnknownSource {
		return "cite:" + c
	}
	return "text:" + strings.Join(strings.Fields(strings.ToLower(doc.Content)), " ")
}
