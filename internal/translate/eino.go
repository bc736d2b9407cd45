package translate

import (
	"context"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"pdf-translator/internal/types"
)

// EinoProvider completes chats through the eino OpenAI-compatible chat
// model component. It works against api.openai.com and any compatible
// endpoint.
type EinoProvider struct {
	model string
	cm    *openai.ChatModel
}

// EinoConfig configures an EinoProvider.
type EinoConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewEinoProvider creates the chat model client.
func NewEinoProvider(ctx context.Context, cfg EinoConfig) (*EinoProvider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewAppError(types.ErrConfig, "translation API key is not configured", nil)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: timeout,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create chat model", err)
	}
	return &EinoProvider{model: cfg.Model, cm: cm}, nil
}

// Name implements Provider.
func (p *EinoProvider) Name() string { return "eino:" + p.model }

// Complete implements Provider.
func (p *EinoProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := p.cm.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	})
	if err != nil {
		return "", types.NewAppError(types.ErrProviderTransient, "chat model request failed", err)
	}
	if msg == nil || msg.Content == "" {
		return "", types.NewAppError(types.ErrProvider, "chat model returned empty content", nil)
	}
	return msg.Content, nil
}
