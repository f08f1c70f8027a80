package nodes

import (
	"context"
	"strings"
	"unicode/utf8"

	"traffic-law-bot/internal/eino/config"
)

// QualityCheckInput 质量检查输入
type QualityCheckInput struct {
	Question   string
	Answer     string
	Persona    string
	Metadata   map[string]any
	ForceWrite bool
}

// QualityCheckResult 质量检查结果
type QualityCheckResult struct {
	Passed   bool
	Reason   string
	Score    float64
	Question string
	Answer   string
	Persona  string
	Metadata map[string]any
}

// QualityChecker 决定回答能否写入语义缓存
type QualityChecker struct {
	cfg *config.QualityConfig
}

// NewQualityChecker 创建质量检查器
func NewQualityChecker(cfg *config.QualityConfig) *QualityChecker {
	return &QualityChecker{cfg: cfg}
}

// Check 执行质量检查 Lambda 函数，长度按字符（rune）计算
func (c *QualityChecker) Check(ctx context.Context, input *QualityCheckInput) (*QualityCheckResult, error) {
	result := &QualityCheckResult{
		Question: input.Question,
		Answer:   input.Answer,
		Persona:  input.Persona,
		Metadata: input.Metadata,
	}

	// 跳过质量检查（如果配置禁用或强制写入）
	if !c.cfg.Enabled || input.ForceWrite {
		result.Passed = true
		result.Score = 1.0
		return result, nil
	}

	bounds := []lengthBound{
		{text: input.Question, min: c.cfg.MinQuestionLength, max: c.cfg.MaxQuestionLength, what: "question"},
		{text: input.Answer, min: c.cfg.MinAnswerLength, max: c.cfg.MaxAnswerLength, what: "answer"},
	}
	for _, b := range bounds {
		if reason := b.violation(); reason != "" {
			result.Reason = reason
			return result, nil
		}
	}

	// 道歉、拒答类回答不缓存
	if containsBlacklistWords(input.Answer, c.cfg.BlacklistKeywords) {
		result.Reason = "contains blacklisted content"
		return result, nil
	}

	// 计算质量分数
	score := calculateQualityScore(input.Question, input.Answer)
	result.Score = score
	if score < c.cfg.ScoreThreshold {
		result.Reason = "quality score below threshold"
		return result, nil
	}

	result.Passed = true
	return result, nil
}

// containsBlacklistWords 检查是否包含黑名单关键词
func containsBlacklistWords(text string, blacklist []string) bool {
	if len(blacklist) == 0 {
		return false
	}

	lower := strings.ToLower(text)
	for _, word := range blacklist {
		if strings.Contains(lower, strings.ToLower(word)) {
			return true
		}
	}
	return false
}

// lengthBound 按字符数检查的长度区间，max 为 0 表示不设上限
type lengthBound struct {
	text     string
	min, max int
	what     string
}

func (b lengthBound) violation() string {
	n := utf8.RuneCountInString(strings.TrimSpace(b.text))
	switch {
	case n < b.min:
		return b.what + " too short"
	case b.max > 0 && n > b.max:
		return b.what + " too long"
	}
	return ""
}

// legalMarkers 出现任意一个即认为回答引用了法条
var legalMarkers = []string{"Điều", "Khoản", "Điểm", "Nghị định", "Luật"}

// scorePenalties 每条命中的规则扣除对应分数
var scorePenalties = []struct {
	cost float64
	hit  func(questionLen, answerLen int, answer string) bool
}{
	{0.2, func(q, _ int, _ string) bool { return q < 10 }},
	{0.1, func(q, _ int, _ string) bool { return q > 500 }},
	{0.2, func(_, a int, _ string) bool { return a < 50 }},
	{0.1, func(_, a int, _ string) bool { return a > 5000 }},
	{0.2, func(_, _ int, answer string) bool { return !citesLaw(answer) }},
}

func citesLaw(answer string) bool {
	for _, m := range legalMarkers {
		if strings.Contains(answer, m) {
			return true
		}
	}
	return false
}

// calculateQualityScore 从 1.0 开始按规则扣分，最低为 0
func calculateQualityScore(question, answer string) float64 {
	questionLen := utf8.RuneCountInString(strings.TrimSpace(question))
	answerLen := utf8.RuneCountInString(strings.TrimSpace(answer))

	score := 1.0
	for _, p := range scorePenalties {
		if p.hit(questionLen, answerLen, answer) {
			score -= p.cost
		}
	}
	return max(score, 0)
}
