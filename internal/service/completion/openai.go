package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zhouzirui/persona-gateway/internal/config"
)

// OpenAIBackend talks to any OpenAI-compatible chat completions endpoint. The raw body is
// decoded with Decode, so servers answering with the flat output layout are accepted too.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend builds a backend from configuration. Retries are left to the gateway.
func NewOpenAIBackend(cfg config.CompletionConfig, opts ...option.RequestOption) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("COMPLETION_API_KEY is required for the openai provider")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("COMPLETION_MODEL is required for the openai provider")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIBackend{
		client: openai.NewClient(clientOpts...),
		model:  cfg.Model,
	}, nil
}

// Complete sends the conversation and decodes the reply body.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	var httpResp *http.Response
	resp, err := b.client.Chat.Completions.New(ctx, params, option.WithResponseInto(&httpResp))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai chat completion: status %d: %w", apiErr.StatusCode, err)
		}
		// A success status whose body could not be parsed is a shape problem, not a transport one.
		if httpResp != nil && httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
			return nil, fmt.Errorf("openai chat completion: %w: %v", ErrUnrecognizedShape, err)
		}
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	reply, err := Decode([]byte(resp.RawJSON()))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return reply, nil
}

func toOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case schema.System:
			out = append(out, openai.SystemMessage(msg.Content))
		case schema.User:
			out = append(out, openai.UserMessage(msg.Content))
		case schema.Assistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		}
	}
	return out
}
