// Package flows 提供 Eino Graph 流程定义
package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"traffic-law-bot/internal/eino/config"
	"traffic-law-bot/internal/eino/nodes"
	"traffic-law-bot/internal/guardrails"
	"traffic-law-bot/internal/llm"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/internal/persona"
	"traffic-law-bot/internal/router"
	"traffic-law-bot/internal/semcache"
	"traffic-law-bot/internal/session"
	"traffic-law-bot/pkg/logger"
)

// 回答来源
const (
	SourceCache    = "cache"
	SourceLLM      = "llm"
	SourceGuard    = "guard"
	SourceFallback = "fallback"
)

// ErrEmptyMessage 清洗后消息为空
var ErrEmptyMessage = errors.New("message is empty")

// AnswerInput 问答输入
type AnswerInput struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
	Persona   string `json:"persona,omitempty"`
}

// AnswerOutput 问答输出
type AnswerOutput struct {
	Response   string   `json:"response"`
	Source     string   `json:"source"`
	Persona    string   `json:"persona,omitempty"`
	Route      string   `json:"route,omitempty"`
	Citations  []string `json:"citations,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
	CacheID    int64    `json:"cache_id,omitempty"`
	Cached     bool     `json:"cached"` // 本次回答是否写入了语义缓存
}

// AnswerDeps 问答流程依赖。Cache、KG、Retriever、Sessions、Metrics 可为 nil。
type AnswerDeps struct {
	Guard     *guardrails.Guard
	Cache     *semcache.SemanticCache
	Router    *router.Router
	Personas  *persona.Registry
	Retriever retriever.Retriever
	KG        retriever.Retriever
	Generator *llm.Generator
	Quality   *nodes.QualityChecker
	Sessions  *session.Manager
	Metrics   *metrics.Metrics
	Logger    logger.Logger
	Callbacks []callbacks.Handler
}

// answerState 在节点之间传递的状态
type answerState struct {
	in       *nodes.PreprocessOutput
	out      *AnswerOutput
	decision router.Decision
	persona  persona.Persona
	docs     []*schema.Document
	block    nodes.ContextBlock
	answer   llm.Result
	genErr   error
}

// AnswerGraph 问答 Graph：预处理、安全防护、语义缓存、路由与人设、检索、生成、质量门与缓存写入
type AnswerGraph struct {
	deps     AnswerDeps
	cfg      *config.AnswerConfig
	selector *nodes.ResultSelector
	prompts  *nodes.PromptBuilder
	log      logger.Logger
	runnable compose.Runnable[*nodes.PreprocessInput, *AnswerOutput]
}

// NewAnswerGraph 创建并编译问答 Graph
func NewAnswerGraph(ctx context.Context, cfg *config.AnswerConfig, deps AnswerDeps) (*AnswerGraph, error) {
	if deps.Router == nil || deps.Personas == nil || deps.Generator == nil {
		return nil, fmt.Errorf("answer graph requires router, personas and generator")
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetDefault()
	}
	if deps.Guard == nil {
		deps.Guard = guardrails.New(guardrails.Config{}, deps.Logger)
	}

	g := &AnswerGraph{
		deps:     deps,
		cfg:      cfg,
		selector: nodes.NewResultSelector(cfg.SelectionStrategy, cfg.Temperature, cfg.ContextTopN),
		prompts:  nodes.NewPromptBuilder(),
		log:      deps.Logger,
	}

	runnable, err := g.compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile answer graph: %w", err)
	}
	g.runnable = runnable
	return g, nil
}

func (g *AnswerGraph) compile(ctx context.Context) (compose.Runnable[*nodes.PreprocessInput, *AnswerOutput], error) {
	graph := compose.NewGraph[*nodes.PreprocessInput, *AnswerOutput]()

	// 1. 预处理
	preprocessNode := compose.InvokableLambda(func(ctx context.Context, input *nodes.PreprocessInput) (*answerState, error) {
		out := &nodes.PreprocessOutput{
			SessionID: input.SessionID,
			UserID:    input.UserID,
			Message:   input.Message,
			Raw:       input.Message,
			Persona:   input.Persona,
		}
		if g.cfg.PreprocessEnabled {
			var err error
			if out, err = nodes.PreprocessQuery(ctx, input); err != nil {
				return nil, err
			}
		}
		return &answerState{in: out, out: &AnswerOutput{}}, nil
	})

	nodesToAdd := []struct {
		key    string
		lambda *compose.Lambda
	}{
		{"preprocess", preprocessNode},
		{"guard", compose.InvokableLambda(g.guard)},
		{"cache_lookup", compose.InvokableLambda(g.cacheLookup)},
		{"route", compose.InvokableLambda(g.route)},
		{"retrieve", compose.InvokableLambda(g.retrieve)},
		{"generate", compose.InvokableLambda(g.generate)},
		{"store", compose.InvokableLambda(g.store)},
		{"finish", compose.InvokableLambda(g.finish)},
	}
	for _, n := range nodesToAdd {
		if err := graph.AddLambdaNode(n.key, n.lambda); err != nil {
			return nil, fmt.Errorf("add %s node: %w", n.key, err)
		}
	}

	// 2. 拦截的消息直接结束
	guardBranch := compose.NewGraphBranch(func(ctx context.Context, st *answerState) (string, error) {
		if st.out.Source == SourceGuard {
			return "finish", nil
		}
		return "cache_lookup", nil
	}, map[string]bool{"finish": true, "cache_lookup": true})
	if err := graph.AddBranch("guard", guardBranch); err != nil {
		return nil, fmt.Errorf("add guard branch: %w", err)
	}

	// 3. 缓存命中直接结束
	cacheBranch := compose.NewGraphBranch(func(ctx context.Context, st *answerState) (string, error) {
		if st.out.Source == SourceCache {
			return "finish", nil
		}
		return "route", nil
	}, map[string]bool{"finish": true, "route": true})
	if err := graph.AddBranch("cache_lookup", cacheBranch); err != nil {
		return nil, fmt.Errorf("add cache branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "preprocess"},
		{"preprocess", "guard"},
		{"route", "retrieve"},
		{"retrieve", "generate"},
		{"generate", "store"},
		{"store", "finish"},
		{"finish", compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", e[0], e[1], err)
		}
	}

	return graph.Compile(ctx, compose.WithGraphName("answer"))
}

// Run 回答一条消息
func (g *AnswerGraph) Run(ctx context.Context, input *AnswerInput) (*AnswerOutput, error) {
	if nodes.CleanText(input.Message) == "" {
		return nil, ErrEmptyMessage
	}

	start := time.Now()
	out, err := g.runnable.Invoke(ctx, &nodes.PreprocessInput{
		SessionID: input.SessionID,
		UserID:    input.UserID,
		Message:   input.Message,
		Persona:   input.Persona,
	}, compose.WithCallbacks(g.deps.Callbacks...))
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}

	g.deps.Metrics.ObserveAnswer(out.Source, time.Since(start))
	g.log.InfoContext(ctx, "消息处理完成",
		"session_id", input.SessionID,
		"source", out.Source,
		"route", out.Route,
		"persona", out.Persona,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (g *AnswerGraph) guard(ctx context.Context, st *answerState) (*answerState, error) {
	if !g.cfg.GuardEnabled {
		return st, nil
	}
	verdict := g.deps.Guard.Check(ctx, st.in.Message)
	if verdict.Blocked {
		g.deps.Metrics.GuardBlock(verdict.Reason)
		st.out.Response = g.cfg.RefusalMessage
		st.out.Source = SourceGuard
	}
	return st, nil
}

func (g *AnswerGraph) cacheLookup(ctx context.Context, st *answerState) (*answerState, error) {
	if !g.cfg.CacheEnabled || g.deps.Cache == nil {
		return st, nil
	}

	res, err := g.deps.Cache.Lookup(ctx, st.in.Message)
	if err != nil {
		// 存储异常时降级为未命中
		g.log.WarnContext(ctx, "语义缓存查询失败", "error", err)
		g.deps.Metrics.CacheLookup("error")
		return st, nil
	}
	g.deps.Metrics.CacheLookup(res.Outcome.String())
	if res.Outcome != semcache.OutcomeHit {
		return st, nil
	}

	hit := res.Hit
	st.out.Response = hit.Response
	st.out.Source = SourceCache
	st.out.Similarity = hit.Similarity
	st.out.CacheID = hit.ID
	st.out.Persona, _ = hit.Metadata["persona"].(string)
	st.out.Route, _ = hit.Metadata["route"].(string)
	st.out.Citations = stringSlice(hit.Metadata["citations"])
	return st, nil
}

func (g *AnswerGraph) route(ctx context.Context, st *answerState) (*answerState, error) {
	st.decision = g.deps.Router.Route(st.in.Message)

	handlerType := st.decision.HandlerType
	if st.decision.Strategy == router.StrategyFallback {
		handlerType = ""
	}
	st.persona = g.deps.Personas.Select(st.in.Persona, handlerType, st.in.Message)

	st.out.Route = st.decision.Route
	st.out.Persona = st.persona.Key
	g.log.DebugContext(ctx, "路由完成",
		"route", st.decision.Route,
		"strategy", st.decision.Strategy,
		"confidence", st.decision.Confidence,
		"persona", st.persona.Key,
	)
	return st, nil
}

// retrieve 并发检索向量库和知识图谱，任一失败只记录日志
func (g *AnswerGraph) retrieve(ctx context.Context, st *answerState) (*answerState, error) {
	if timeout := g.cfg.RetrieveTimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var vectorDocs, kgDocs []*schema.Document
	eg, egCtx := errgroup.WithContext(ctx)
	if g.deps.Retriever != nil {
		eg.Go(func() error {
			docs, err := g.deps.Retriever.Retrieve(egCtx, st.in.Message)
			if err != nil {
				g.log.WarnContext(ctx, "向量检索失败", "error", err)
				return nil
			}
			vectorDocs = docs
			return nil
		})
	}
	if g.cfg.KGEnabled && g.deps.KG != nil {
		eg.Go(func() error {
			docs, err := g.deps.KG.Retrieve(egCtx, st.in.Message)
			if err != nil {
				g.log.WarnContext(ctx, "知识图谱检索失败，仅使用向量检索结果", "error", err)
				return nil
			}
			kgDocs = docs
			return nil
		})
	}
	_ = eg.Wait()

	merged := nodes.MergeDocuments(vectorDocs, kgDocs)
	ranked, err := g.selector.Rank(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("rank documents: %w", err)
	}
	st.docs = ranked
	st.block = nodes.BuildContext(ranked)
	st.out.Citations = st.block.Citations
	return st, nil
}

func (g *AnswerGraph) generate(ctx context.Context, st *answerState) (*answerState, error) {
	history := g.history(st.in.SessionID)
	msgs, err := g.prompts.Build(ctx, st.persona.SystemPrompt, history, st.block, st.in.Message)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	res, err := g.deps.Generator.Generate(ctx, msgs)
	if err != nil {
		st.genErr = err
		st.out.Response = g.cfg.FallbackMessage
		st.out.Source = SourceFallback
		return st, nil
	}
	g.deps.Metrics.ObserveTokens(res.PromptTokens, res.CompletionTokens)
	st.answer = res
	st.out.Response = res.Text
	st.out.Source = SourceLLM
	return st, nil
}

func (g *AnswerGraph) history(sessionID string) []*schema.Message {
	if g.deps.Sessions == nil || sessionID == "" || g.cfg.HistoryTurns <= 0 {
		return nil
	}
	msgs := g.deps.Sessions.Messages(sessionID)
	if limit := g.cfg.HistoryTurns * 2; len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// store 通过质量门的回答写入语义缓存，缓存键为不含历史的清洗后问题
func (g *AnswerGraph) store(ctx context.Context, st *answerState) (*answerState, error) {
	if st.out.Source != SourceLLM || !g.cfg.CacheEnabled || g.deps.Cache == nil {
		return st, nil
	}

	meta := map[string]any{
		"persona":   st.persona.Key,
		"route":     st.decision.Route,
		"citations": st.block.Citations,
	}
	if g.deps.Quality != nil {
		qc, err := g.deps.Quality.Check(ctx, &nodes.QualityCheckInput{
			Question: st.in.Message,
			Answer:   st.out.Response,
			Persona:  st.persona.Key,
			Metadata: meta,
		})
		if err != nil {
			return nil, fmt.Errorf("quality check: %w", err)
		}
		if !qc.Passed {
			g.log.DebugContext(ctx, "回答未通过质量检查，不写入缓存", "reason", qc.Reason, "score", qc.Score)
			g.deps.Metrics.CacheWrite("rejected")
			return st, nil
		}
	}

	outcome, err := g.deps.Cache.Set(ctx, st.in.Message, st.out.Response, meta)
	if err != nil {
		g.log.WarnContext(ctx, "写入语义缓存失败", "error", err)
		g.deps.Metrics.CacheWrite("error")
		return st, nil
	}
	g.deps.Metrics.CacheWrite(outcome.String())
	st.out.Cached = outcome == semcache.SetInserted || outcome == semcache.SetUpdated
	return st, nil
}

// finish 记录会话；被拦截的消息不进入会话历史
func (g *AnswerGraph) finish(ctx context.Context, st *answerState) (*AnswerOutput, error) {
	if st.genErr != nil {
		g.log.ErrorContext(ctx, "生成失败，返回兜底回复", "error", st.genErr)
	}
	if g.deps.Sessions != nil && st.in.SessionID != "" && st.out.Source != SourceGuard {
		g.deps.Sessions.AppendExchange(st.in.SessionID, st.in.Message, st.out.Response)
	}
	return st.out, nil
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
