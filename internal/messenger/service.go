package messenger

import (
	"context"
	"sync"
	"time"

	"traffic-law-bot/internal/eino/flows"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/internal/ratelimit"
	"traffic-law-bot/pkg/logger"
)

// 事件处理结果，同时作为指标标签
const (
	ResultIgnored     = "ignored"
	ResultStale       = "stale"
	ResultDuplicate   = "duplicate"
	ResultRateLimited = "rate_limited"
	ResultAnswered    = "answered"
	ResultError       = "error"
)

// Answerer 问答流程
type Answerer interface {
	Run(ctx context.Context, input *flows.AnswerInput) (*flows.AnswerOutput, error)
}

// MessageSender 发送回复
type MessageSender interface {
	Send(ctx context.Context, psid, text string) error
}

// Config 消息处理配置
type Config struct {
	VerifyToken    string
	MaxMessageAge  time.Duration
	ReplyMaxRunes  int
	ProcessTimeout time.Duration
}

// Service 处理 webhook 推送的消息
type Service struct {
	cfg      Config
	answerer Answerer
	sender   MessageSender
	dedup    Deduplicator
	limiter  *ratelimit.Keyed
	metrics  *metrics.Metrics
	log      logger.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewService 创建消息处理服务
func NewService(cfg Config, answerer Answerer, sender MessageSender, dedup Deduplicator, limiter *ratelimit.Keyed, m *metrics.Metrics, log logger.Logger) *Service {
	if cfg.MaxMessageAge <= 0 {
		cfg.MaxMessageAge = 10 * time.Second
	}
	if cfg.ReplyMaxRunes <= 0 {
		cfg.ReplyMaxRunes = 1000
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 2 * time.Minute
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Service{
		cfg:      cfg,
		answerer: answerer,
		sender:   sender,
		dedup:    dedup,
		limiter:  limiter,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Verify 订阅校验
func (s *Service) Verify(mode, token, challenge string) (string, bool) {
	return Verify(mode, token, challenge, s.cfg.VerifyToken)
}

// Dispatch 异步处理推送中的全部消息，立即返回
func (s *Service) Dispatch(payload *WebhookPayload) {
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			if !ev.IsText() {
				s.metrics.WebhookEvent(ResultIgnored)
				continue
			}
			s.wg.Add(1)
			go func(ev MessagingEvent) {
				defer s.wg.Done()
				// 请求已返回，使用独立的上下文
				ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProcessTimeout)
				defer cancel()
				s.Handle(ctx, ev)
			}(ev)
		}
	}
}

// Handle 同步处理单条消息并返回处理结果
func (s *Service) Handle(ctx context.Context, ev MessagingEvent) string {
	result := s.handle(ctx, ev)
	s.metrics.WebhookEvent(result)
	return result
}

func (s *Service) handle(ctx context.Context, ev MessagingEvent) string {
	if !ev.IsText() {
		return ResultIgnored
	}
	psid, mid := ev.Sender.ID, ev.Message.Mid
	log := s.log.With("psid", psid, "mid", mid)

	if age := s.now().Sub(ev.SentAt()); age > s.cfg.MaxMessageAge {
		log.InfoContext(ctx, "消息过旧，跳过", "age_ms", age.Milliseconds())
		return ResultStale
	}

	if mid != "" && s.dedup != nil {
		first, err := s.dedup.FirstSeen(ctx, mid)
		if err != nil {
			// 去重存储不可用时照常处理
			log.WarnContext(ctx, "消息去重失败", "error", err)
		} else if !first {
			log.DebugContext(ctx, "重复消息，跳过")
			return ResultDuplicate
		}
	}

	if s.limiter != nil && !s.limiter.AllowAt(psid, s.now()) {
		log.InfoContext(ctx, "发送频率过高，跳过")
		return ResultRateLimited
	}

	out, err := s.answerer.Run(ctx, &flows.AnswerInput{SessionID: psid, UserID: psid, Message: ev.Message.Text})
	if err != nil {
		log.ErrorContext(ctx, "生成回答失败", "error", err)
		return ResultError
	}

	if err := s.sender.Send(ctx, psid, TruncateRunes(out.Response, s.cfg.ReplyMaxRunes)); err != nil {
		return ResultError
	}
	log.InfoContext(ctx, "已回复 Messenger 消息", "source", out.Source)
	return ResultAnswered
}

// Wait 等待已派发的消息处理完毕，ctx 结束时提前返回
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
