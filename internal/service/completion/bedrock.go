package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/persona-gateway/internal/config"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	// max_tokens is mandatory in the Anthropic body.
	bedrockDefaultMaxTokens = 1024
)

// BedrockInvoker is the subset of the Bedrock runtime client used here.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockBackend invokes Anthropic models on AWS Bedrock.
type BedrockBackend struct {
	client  BedrockInvoker
	modelID string
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// NewBedrockBackend loads AWS credentials from the default chain.
func NewBedrockBackend(ctx context.Context, cfg config.CompletionConfig) (*BedrockBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("COMPLETION_MODEL is required for the bedrock provider")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewBedrockBackendWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg.Model), nil
}

// NewBedrockBackendWithClient wraps an existing runtime client.
func NewBedrockBackendWithClient(client BedrockInvoker, modelID string) *BedrockBackend {
	return &BedrockBackend{client: client, modelID: modelID}
}

// Complete sends the conversation as an Anthropic messages body. Text blocks of the reply are
// joined into the flat output layout.
func (b *BedrockBackend) Complete(ctx context.Context, req Request) (Reply, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = bedrockDefaultMaxTokens
	}

	payload := bedrockRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Messages:         make([]bedrockMessage, 0, len(req.Messages)),
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case schema.System:
			payload.System = msg.Content
		case schema.User, schema.Assistant:
			payload.Messages = append(payload.Messages, bedrockMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode bedrock request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		Body:        body,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke bedrock model: %w", err)
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return nil, fmt.Errorf("decode bedrock response: %w", ErrUnrecognizedShape)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("bedrock response without text: %w", ErrUnrecognizedShape)
	}

	return OutputText{Text: text.String()}, nil
}
