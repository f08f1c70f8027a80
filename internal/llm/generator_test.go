package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/internal/resilience"
	"traffic-law-bot/pkg/logger"
)

type scriptedModel struct {
	replies []*schema.Message
	errs    []error
	calls   int
}

func (m *scriptedModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return m.replies[len(m.replies)-1], nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func testPolicy() *resilience.Policy {
	return resilience.New(resilience.Config{
		Name:            "llm-test",
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		BreakerFailures: 10,
		BreakerTimeout:  time.Minute,
	}, logger.Discard())
}

func TestFromMessage(t *testing.T) {
	msg := &schema.Message{
		Role:    schema.Assistant,
		Content: "Mức phạt từ 4 đến 6 triệu đồng.",
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 120, CompletionTokens: 30},
		},
	}
	res, err := FromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "Mức phạt từ 4 đến 6 triệu đồng.", res.Text)
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, 120, res.PromptTokens)

	_, err = FromMessage(&schema.Message{Role: schema.Assistant})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	_, err = FromMessage(nil)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestGeneratorRetriesTransientErrors(t *testing.T) {
	m := &scriptedModel{
		errs:    []error{errors.New("502 bad gateway")},
		replies: []*schema.Message{nil, schema.AssistantMessage("ok", nil)},
	}
	g := NewGenerator(m, testPolicy(), time.Second, logger.Discard())

	res, err := g.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 2, m.calls)
}

func TestGeneratorEmptyCompletionNotRetried(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{schema.AssistantMessage("", nil)}}
	g := NewGenerator(m, testPolicy(), time.Second, logger.Discard())

	_, err := g.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.Equal(t, 1, m.calls)
}
