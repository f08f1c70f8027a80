package guardrails

import "regexp"

// Severity 注入规则的严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight 严重程度对应的置信度权重
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.8
	case SeverityMedium:
		return 0.5
	default:
		return 0.2
	}
}

// InjectionRule 单条注入检测规则
type InjectionRule struct {
	Category string
	Pattern  *regexp.Regexp
	Severity Severity
}

// Match 命中的规则
type Match struct {
	Category string   `json:"category"`
	Pattern  string   `json:"pattern"`
	Severity Severity `json:"severity"`
}

// InjectionResult 注入检测结果
type InjectionResult struct {
	IsInjection bool     `json:"is_injection"`
	Confidence  float64  `json:"confidence"`
	Matches     []Match  `json:"matches"`
	MaxSeverity Severity `json:"max_severity"`
	RiskLevel   Severity `json:"risk_level"`
	Mitigation  string   `json:"mitigation"`
}

// Verdict 护栏总体判定
type Verdict struct {
	Blocked   bool             `json:"blocked"`
	Reason    string           `json:"reason,omitempty"`
	Keyword   string           `json:"keyword,omitempty"`
	Injection *InjectionResult `json:"injection,omitempty"`
}

const (
	ReasonSensitive = "sensitive_content"
	ReasonInjection = "prompt_injection"
)

// DefaultBlockedKeywords 默认敏感词
func DefaultBlockedKeywords() []string {
	return []string{
		"violence", "hate speech", "self-harm", "explicit content",
		"bạo lực", "tự tử", "nội dung người lớn", "thù ghét",
	}
}

func rule(category, pattern string, sev Severity) InjectionRule {
	return InjectionRule{Category: category, Pattern: regexp.MustCompile(`(?i)` + pattern), Severity: sev}
}

// DefaultInjectionRules 默认注入规则
func DefaultInjectionRules() []InjectionRule {
	return []InjectionRule{
		rule("direct_override", `ignore\s+(previous|all|the\s+above)\s+instructions?`, SeverityCritical),
		rule("direct_override", `forget\s+(everything|all|previous)`, SeverityCritical),
		rule("direct_override", `disregard\s+(previous|all)\s+instructions?`, SeverityCritical),
		rule("direct_override", `override\s+(system|default|previous)`, SeverityCritical),
		rule("direct_override", `you\s+are\s+now\s+(a|an|no\s+longer)`, SeverityHigh),
		rule("direct_override", `new\s+(instructions?|rules?|system)`, SeverityHigh),

		rule("system_manipulation", `system\s+prompt`, SeverityHigh),
		rule("system_manipulation", `initial\s+(prompt|instructions?)`, SeverityMedium),
		rule("system_manipulation", `your\s+(instructions?|programming|system)`, SeverityMedium),
		rule("system_manipulation", `reveal\s+(your|the)\s+(prompt|instructions?)`, SeverityHigh),
		rule("system_manipulation", `show\s+(me\s+)?(your|the)\s+(prompt|instructions?)`, SeverityHigh),

		rule("jailbreak_attempts", `jailbreak`, SeverityCritical),
		rule("jailbreak_attempts", `break\s+out\s+of`, SeverityHigh),
		rule("jailbreak_attempts", `bypass\s+(safety|restrictions?|rules?)`, SeverityCritical),
		rule("jailbreak_attempts", `act\s+as\s+if`, SeverityMedium),
		rule("jailbreak_attempts", `pretend\s+(to\s+be|you\s+are)`, SeverityMedium),
		rule("jailbreak_attempts", `simulate\s+(being|a)`, SeverityLow),

		rule("role_manipulation", `you\s+must\s+now`, SeverityHigh),
		rule("role_manipulation", `your\s+new\s+role`, SeverityHigh),
		rule("role_manipulation", `from\s+now\s+on`, SeverityMedium),
		rule("role_manipulation", `switch\s+to\s+(mode|character|role)`, SeverityMedium),
		rule("role_manipulation", `developer\s+mode`, SeverityHigh),
		rule("role_manipulation", `admin\s+mode`, SeverityCritical),

		rule("context_manipulation", `end\s+of\s+(conversation|chat|context)`, SeverityMedium),
		rule("context_manipulation", `start\s+(new|fresh)\s+(conversation|context)`, SeverityMedium),
		rule("context_manipulation", `reset\s+(conversation|context|memory)`, SeverityMedium),
		rule("context_manipulation", `clear\s+(history|memory|context)`, SeverityLow),
	}
}
