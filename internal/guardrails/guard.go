// Package guardrails 在进入缓存和大模型之前拦截敏感内容与提示词注入
package guardrails

import (
	"context"
	"math"
	"strings"

	"traffic-law-bot/pkg/logger"
)

// ContentFilter 大小写不敏感的关键词过滤
type ContentFilter struct {
	keywords []string
}

// NewContentFilter 创建过滤器，keywords 为空时使用默认词表
func NewContentFilter(keywords []string) *ContentFilter {
	if len(keywords) == 0 {
		keywords = DefaultBlockedKeywords()
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &ContentFilter{keywords: lowered}
}

// Check 返回第一个命中的关键词
func (f *ContentFilter) Check(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range f.keywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

// InjectionDetector 基于规则的提示词注入检测
type InjectionDetector struct {
	rules     []InjectionRule
	threshold float64
}

// NewInjectionDetector 创建检测器，threshold 为判定注入的置信度下限（不含）
func NewInjectionDetector(rules []InjectionRule, threshold float64) *InjectionDetector {
	if len(rules) == 0 {
		rules = DefaultInjectionRules()
	}
	if threshold <= 0 {
		threshold = 0.3
	}
	return &InjectionDetector{rules: rules, threshold: threshold}
}

// Detect 累加命中规则的权重，置信度 = min(sum/2, 1)
func (d *InjectionDetector) Detect(text string) InjectionResult {
	res := InjectionResult{MaxSeverity: SeverityLow}
	total := 0.0
	for _, r := range d.rules {
		if !r.Pattern.MatchString(text) {
			continue
		}
		res.Matches = append(res.Matches, Match{Category: r.Category, Pattern: r.Pattern.String(), Severity: r.Severity})
		total += r.Severity.Weight()
		if r.Severity.Weight() > res.MaxSeverity.Weight() {
			res.MaxSeverity = r.Severity
		}
	}

	res.Confidence = math.Min(total/2, 1)
	res.IsInjection = res.Confidence > d.threshold
	res.RiskLevel, res.Mitigation = classifyRisk(res.Confidence)
	return res
}

func classifyRisk(confidence float64) (Severity, string) {
	switch {
	case confidence >= 0.9:
		return SeverityCritical, "block_immediately"
	case confidence >= 0.7:
		return SeverityHigh, "block_with_warning"
	case confidence >= 0.4:
		return SeverityMedium, "warn_and_monitor"
	default:
		return SeverityLow, "allow_with_logging"
	}
}

// Config 护栏配置
type Config struct {
	ContentFilterEnabled bool
	BlockedKeywords      []string
	InjectionEnabled     bool
	InjectionThreshold   float64
}

// Guard 组合内容过滤和注入检测
type Guard struct {
	cfg      Config
	filter   *ContentFilter
	detector *InjectionDetector
	log      logger.Logger
}

// New 创建 Guard
func New(cfg Config, log logger.Logger) *Guard {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Guard{
		cfg:      cfg,
		filter:   NewContentFilter(cfg.BlockedKeywords),
		detector: NewInjectionDetector(nil, cfg.InjectionThreshold),
		log:      log,
	}
}

// Check 先过内容过滤，再做注入检测
func (g *Guard) Check(ctx context.Context, text string) Verdict {
	if g.cfg.ContentFilterEnabled {
		if kw, hit := g.filter.Check(text); hit {
			g.log.WarnContext(ctx, "检测到敏感内容", "keyword", kw)
			return Verdict{Blocked: true, Reason: ReasonSensitive, Keyword: kw}
		}
	}

	if g.cfg.InjectionEnabled {
		res := g.detector.Detect(text)
		if res.IsInjection {
			g.log.WarnContext(ctx, "检测到提示词注入",
				"confidence", res.Confidence,
				"risk_level", res.RiskLevel,
				"matches", len(res.Matches),
			)
			return Verdict{Blocked: true, Reason: ReasonInjection, Injection: &res}
		}
		if len(res.Matches) > 0 {
			g.log.InfoContext(ctx, "疑似注入但未达阈值", "confidence", res.Confidence)
		}
	}

	return Verdict{}
}
