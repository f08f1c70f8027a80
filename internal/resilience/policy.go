// Package resilience 为外部调用提供指数退避重试和熔断
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"traffic-law-bot/pkg/logger"
)

// Config 重试与熔断配置
type Config struct {
	Name            string
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	BreakerFailures uint32        // 连续失败多少次后熔断
	BreakerTimeout  time.Duration // 熔断后多久进入半开
	BreakerHalfOpen uint32        // 半开状态允许的探测请求数
	BreakerInterval time.Duration // 闭合状态下计数清零周期
}

// Policy 组合重试与熔断
type Policy struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	log     logger.Logger
}

// Permanent 标记不应重试的错误（如 4xx），也不计入熔断失败数
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// New 创建 Policy
func New(cfg Config, log logger.Logger) *Policy {
	if log == nil {
		log = logger.GetDefault()
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerHalfOpen == 0 {
		cfg.BreakerHalfOpen = 1
	}

	p := &Policy{cfg: cfg, log: log}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.BreakerHalfOpen,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("熔断器状态变化", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err) || errors.Is(err, context.Canceled)
		},
	})
	return p
}

// State 熔断器当前状态：closed、half-open、open
func (p *Policy) State() string {
	return p.breaker.State().String()
}

// Do 执行 op；可重试错误按指数退避重试，熔断打开时立即返回 gobreaker.ErrOpenState
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxElapsedTime = p.cfg.MaxElapsedTime

	attempt := 0
	operation := func() error {
		attempt++
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, op(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if !isPermanent(err) {
			p.log.DebugContext(ctx, "外部调用失败，准备重试", "name", p.cfg.Name, "attempt", attempt, "error", err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, p.cfg.MaxRetries), ctx))
}

// Call 带返回值的 Do
func Call[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		r, err := op(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
