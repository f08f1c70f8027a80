package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/pkg/logger"
)

func fastConfig() Config {
	return Config{
		Name:            "test",
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxElapsedTime:  time.Second,
		BreakerFailures: 100,
		BreakerTimeout:  time.Minute,
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	p := New(fastConfig(), logger.Discard())
	calls := 0

	got, err := Call(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	p := New(fastConfig(), logger.Discard())
	calls := 0
	bad := errors.New("400 bad request")

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "closed", p.State())
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	p := New(fastConfig(), logger.Discard())
	calls := 0

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("timeout")
	})
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2
	p := New(cfg, logger.Discard())

	fail := func(context.Context) error { return errors.New("down") }
	_ = p.Do(context.Background(), fail)
	_ = p.Do(context.Background(), fail)
	assert.Equal(t, "open", p.State())

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 0, calls)
}
