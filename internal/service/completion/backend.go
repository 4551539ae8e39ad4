package completion

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/persona-gateway/internal/config"
)

// Request is one completion call. Messages[0] is always the system prompt.
type Request struct {
	Messages  []*schema.Message
	MaxTokens int
}

// Backend is the remote completion service. Errors other than ErrUnrecognizedShape
// mean the service was unreachable or answered with a non-success status.
type Backend interface {
	Complete(ctx context.Context, req Request) (Reply, error)
}

// NewBackend builds the provider selected in cfg.
func NewBackend(ctx context.Context, cfg config.CompletionConfig) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIBackend(cfg)
	case config.ProviderArk:
		return NewArkBackend(ctx, cfg)
	case config.ProviderBedrock:
		return NewBedrockBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}
