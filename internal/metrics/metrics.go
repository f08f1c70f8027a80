// Package metrics 定义服务的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lawbot"

// Metrics 汇总所有指标，每个实例使用独立的 Registry
type Metrics struct {
	registry *prometheus.Registry

	// Eino 组件
	ComponentCalls    *prometheus.CounterVec
	ComponentDuration *prometheus.HistogramVec

	// 问答链路
	Answers        *prometheus.CounterVec
	AnswerDuration *prometheus.HistogramVec
	CacheLookups   *prometheus.CounterVec
	CacheWrites    *prometheus.CounterVec
	GuardBlocks    *prometheus.CounterVec
	LLMTokens      *prometheus.CounterVec

	// Messenger
	WebhookEvents *prometheus.CounterVec
	MessagesSent  *prometheus.CounterVec

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
}

// New 创建并注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ComponentCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_calls_total",
			Help:      "Eino component invocations by component, name and status",
		}, []string{"component", "name", "status"}),
		ComponentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "component_duration_seconds",
			Help:      "Eino component latency",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"component", "name"}),

		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answered messages by source (cache, llm, guard, fallback)",
		}, []string{"source"}),
		AnswerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_duration_seconds",
			Help:      "End-to-end answer latency by source",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_cache_lookups_total",
			Help:      "Semantic cache lookups by outcome",
		}, []string{"outcome"}),
		CacheWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_cache_writes_total",
			Help:      "Semantic cache writes by outcome",
		}, []string{"outcome"}),
		GuardBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_blocks_total",
			Help:      "Messages blocked by guardrails by reason",
		}, []string{"reason"}),
		LLMTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM token usage by kind (prompt, completion)",
		}, []string{"kind"}),

		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Messenger webhook events by result",
		}, []string{"result"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messenger_messages_sent_total",
			Help:      "Messenger Send API calls by status",
		}, []string{"status"}),

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		}),
	}
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAnswer 记录一次回答
func (m *Metrics) ObserveAnswer(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.Answers.WithLabelValues(source).Inc()
	m.AnswerDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveTokens 记录大模型 token 用量
func (m *Metrics) ObserveTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.LLMTokens.WithLabelValues("prompt").Add(float64(prompt))
	m.LLMTokens.WithLabelValues("completion").Add(float64(completion))
}

// CacheLookup 记录语义缓存查询结果
func (m *Metrics) CacheLookup(outcome string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(outcome).Inc()
	}
}

// CacheWrite 记录语义缓存写入结果
func (m *Metrics) CacheWrite(outcome string) {
	if m != nil {
		m.CacheWrites.WithLabelValues(outcome).Inc()
	}
}

// GuardBlock 记录护栏拦截
func (m *Metrics) GuardBlock(reason string) {
	if m != nil {
		m.GuardBlocks.WithLabelValues(reason).Inc()
	}
}

// WebhookEvent 记录 webhook 消息处理结果
func (m *Metrics) WebhookEvent(result string) {
	if m != nil {
		m.WebhookEvents.WithLabelValues(result).Inc()
	}
}

// MessageSent 记录 Send API 调用结果
func (m *Metrics) MessageSent(status string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(status).Inc()
	}
}
