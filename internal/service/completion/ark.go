package completion

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/persona-gateway/internal/config"
)

const defaultArkBaseURL = "https://ark.cn-beijing.volces.com/api/v3"

// ArkBackend wraps an eino chat model served by Volcengine Ark.
type ArkBackend struct {
	chatModel model.BaseChatModel
}

// NewArkBackend creates the Ark chat model from configuration.
func NewArkBackend(ctx context.Context, cfg config.CompletionConfig) (*ArkBackend, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 COMPLETION_API_KEY + COMPLETION_MODEL 或 AK/SK 组合")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultArkBaseURL
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   baseURL,
		Region:    cfg.ArkRegion,
		APIKey:    cfg.APIKey,
		AccessKey: cfg.ArkAccessKey,
		SecretKey: cfg.ArkSecretKey,
		Model:     cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ark chat model: %w", err)
	}

	return NewArkBackendWithModel(chatModel), nil
}

// NewArkBackendWithModel wraps an existing chat model.
func NewArkBackendWithModel(chatModel model.BaseChatModel) *ArkBackend {
	return &ArkBackend{chatModel: chatModel}
}

// Complete runs one non-streaming generation.
func (b *ArkBackend) Complete(ctx context.Context, req Request) (Reply, error) {
	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	msg, err := b.chatModel.Generate(ctx, req.Messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("ark generate: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("ark generate: %w", ErrUnrecognizedShape)
	}

	reply := ChatCompletion{Content: msg.Content}
	if msg.ResponseMeta != nil {
		reply.FinishReason = msg.ResponseMeta.FinishReason
	}
	return reply, nil
}
