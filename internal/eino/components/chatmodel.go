package components

import (
	"context"
	"fmt"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"traffic-law-bot/internal/eino/config"
)

// NewChatModel 根据配置创建生成回答的大模型
func NewChatModel(ctx context.Context, cfg *config.ChatModelConfig) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case "openai":
		modelCfg := &openaimodel.ChatModelConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}
		if cfg.BaseURL != "" {
			modelCfg.BaseURL = cfg.BaseURL
		}
		if cfg.Temperature > 0 {
			temperature := cfg.Temperature
			modelCfg.Temperature = &temperature
		}
		if cfg.MaxTokens > 0 {
			maxTokens := cfg.MaxTokens
			modelCfg.MaxTokens = &maxTokens
		}
		return openaimodel.NewChatModel(ctx, modelCfg)
	default:
		return nil, fmt.Errorf("unsupported chat model provider: %s", cfg.Provider)
	}
}
