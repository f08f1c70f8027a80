// Package router 按正则和关键词把问题分到不同的处理路线
package router

import (
	"regexp"
	"strings"
	"unicode"
)

// Strategy 命中的路由策略
type Strategy string

const (
	StrategyPattern  Strategy = "pattern_match"
	StrategyKeyword  Strategy = "keyword_match"
	StrategyFallback Strategy = "default_fallback"
)

// 路由名称
const (
	RouteWebSearch     = "web_search"
	RouteFactualQA     = "factual_qa"
	RouteLegalQuery    = "legal_query"
	RouteTechnicalHelp = "technical_help"
	RouteConversation  = "conversational"
	RouteCalculation   = "calculation"
)

// Route 路由定义
type Route struct {
	Name        string
	Description string
	Keywords    []string
	Patterns    []*regexp.Regexp
	Priority    int
	HandlerType string
}

// Decision 路由结果
type Decision struct {
	Route          string   `json:"route"`
	HandlerType    string   `json:"handler_type"`
	Confidence     float64  `json:"confidence"`
	Strategy       Strategy `json:"strategy"`
	MatchedPattern string   `json:"matched_pattern,omitempty"`
	MatchedWords   []string `json:"matched_keywords,omitempty"`
	Score          int      `json:"score,omitempty"`
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// DefaultRoutes 默认路由，顺序即模式匹配与同分时的优先顺序
func DefaultRoutes() []Route {
	return []Route{
		{
			Name:        RouteWebSearch,
			Description: "Questions requiring current or recent information",
			Keywords:    []string{"latest", "current", "news", "recent", "today", "now", "update", "what's happening", "mới nhất", "hôm nay"},
			Patterns:    patterns(`what.*latest`, `current.*status`, `news.*about`, `what.*happening`),
			Priority:    3,
			HandlerType: "web_search",
		},
		{
			Name:        RouteFactualQA,
			Description: "Factual questions with definitive answers",
			Keywords:    []string{"what is", "who is", "when", "where", "how many", "definition", "meaning", "là gì"},
			Patterns:    patterns(`what is`, `who is`, `when was`, `where is`, `how many`),
			Priority:    2,
			HandlerType: "knowledge_base",
		},
		{
			Name:        RouteLegalQuery,
			Description: "Questions about Vietnamese traffic law and regulations",
			Keywords:    []string{"luật", "nghị định", "quy định", "pháp luật", "mức phạt", "xử phạt", "legal", "law", "regulation"},
			Patterns:    patterns(`nghị định`, `luật.*số`, `quy định.*về`, `theo.*luật`),
			Priority:    3,
			HandlerType: "legal_specialist",
		},
		{
			Name:        RouteTechnicalHelp,
			Description: "Programming and technical questions",
			Keywords:    []string{"code", "programming", "python", "javascript", "algorithm", "debug", "error"},
			Patterns:    patterns(`how to.*code`, `programming`, `algorithm`, `debug.*error`),
			Priority:    2,
			HandlerType: "technical_specialist",
		},
		{
			Name:        RouteConversation,
			Description: "Greetings and small talk",
			Keywords:    []string{"hello", "hi", "thanks", "how are you", "chat", "talk", "xin chào", "cảm ơn"},
			Patterns:    patterns(`^(hi|hello|hey)\b`, `how are you`, `thank you`, `thanks`, `^xin chào`),
			Priority:    1,
			HandlerType: "conversation",
		},
		{
			Name:        RouteCalculation,
			Description: "Arithmetic",
			Keywords:    []string{"calculate", "compute", "math", "arithmetic", "plus", "minus", "multiply", "divide"},
			Patterns:    patterns(`\d+\s*[+\-*/]\s*\d+`, `calculate`),
			Priority:    3,
			HandlerType: "calculator",
		},
	}
}

// Router 查询路由器
type Router struct {
	routes   []Route
	fallback string
}

// New 创建路由器，routes 为空时使用默认路由；未命中时回落到 legal_query
func New(routes []Route) *Router {
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}
	return &Router{routes: routes, fallback: RouteLegalQuery}
}

// Routes 返回路由名称列表
func (r *Router) Routes() []string {
	names := make([]string, len(r.routes))
	for i, rt := range r.routes {
		names[i] = rt.Name
	}
	return names
}

// HandlerType 路由对应的处理类型
func (r *Router) HandlerType(name string) string {
	for _, rt := range r.routes {
		if rt.Name == name {
			return rt.HandlerType
		}
	}
	return "default"
}

// Route 依次尝试模式匹配、关键词打分和默认路由
func (r *Router) Route(question string) Decision {
	for _, rt := range r.routes {
		for _, p := range rt.Patterns {
			if p.MatchString(question) {
				return Decision{
					Route:          rt.Name,
					HandlerType:    rt.HandlerType,
					Confidence:     0.9,
					Strategy:       StrategyPattern,
					MatchedPattern: p.String(),
				}
			}
		}
	}

	text := wordPadded(question)
	var best *Decision
	for _, rt := range r.routes {
		score := 0
		var matched []string
		for _, kw := range rt.Keywords {
			if strings.Contains(text, wordPadded(kw)) {
				score += rt.Priority
				matched = append(matched, kw)
			}
		}
		if score > 0 && (best == nil || score > best.Score) {
			best = &Decision{
				Route:        rt.Name,
				HandlerType:  rt.HandlerType,
				Confidence:   0.7,
				Strategy:     StrategyKeyword,
				MatchedWords: matched,
				Score:        score,
			}
		}
	}
	if best != nil {
		return *best
	}

	return Decision{
		Route:       r.fallback,
		HandlerType: r.HandlerType(r.fallback),
		Confidence:  0.3,
		Strategy:    StrategyFallback,
	}
}

// 按词匹配，避免 "hi" 命中越南语 "khi"
func wordPadded(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}
