package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/persona-gateway/internal/analysis/safety"
	"github.com/zhouzirui/persona-gateway/internal/config"
	"github.com/zhouzirui/persona-gateway/internal/model/chat"
	"github.com/zhouzirui/persona-gateway/internal/model/persona"
	"github.com/zhouzirui/persona-gateway/internal/service/completion"
)

// Gateway mediates between an untrusted client and the remote completion service.
// It holds no conversation state; every call carries the full history.
type Gateway struct {
	personas persona.Store
	backend  completion.Backend
	cfg      config.GatewayConfig
	logger   zerolog.Logger
}

// New creates a gateway. The persona store is shared read-only.
func New(personas persona.Store, backend completion.Backend, cfg config.GatewayConfig, logger zerolog.Logger) *Gateway {
	return &Gateway{
		personas: personas,
		backend:  backend,
		cfg:      cfg,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// Complete validates the conversation, binds it to the persona's own system prompt and returns
// the backend's normalized reply. Replies are screened like requests. Every error it returns
// is an *Error.
func (g *Gateway) Complete(ctx context.Context, turns []chat.Turn, personaID string) (string, error) {
	logger := g.loggerFrom(ctx)

	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return "", invalid(ErrPersonaRequired)
	}

	conversation, err := untrustedTurns(turns)
	if err != nil {
		return "", invalid(err)
	}

	for _, turn := range conversation {
		if verdict := safety.Classify(turn.Content); !verdict.OK {
			logger.Info().
				Str("persona", personaID).
				Str("role", string(turn.Role)).
				Str("category", string(verdict.Category)).
				Msg("conversation blocked by safety filter")
			return "", blocked(verdict.Reason)
		}
	}

	p, err := g.personas.Lookup(personaID)
	if err != nil {
		return "", invalid(ErrUnknownPersona)
	}

	conversation, err = g.bound(conversation)
	if err != nil {
		return "", invalid(err)
	}

	req := completion.Request{
		Messages:  buildMessages(p.SystemPrompt, conversation),
		MaxTokens: g.cfg.MaxOutputTokens,
	}

	started := time.Now()
	text, attempts, err := g.call(ctx, logger, req)
	if err != nil {
		gerr, _ := AsError(err)
		logger.Error().
			Err(gerr.Err).
			Str("persona", p.ID).
			Str("kind", gerr.Kind.String()).
			Int("attempts", attempts).
			Dur("elapsed", time.Since(started)).
			Msg("completion failed")
		return "", gerr
	}

	// A flagged reply would poison every later request that carries it as history.
	if verdict := safety.Classify(text); !verdict.OK {
		logger.Warn().
			Str("persona", p.ID).
			Str("category", string(verdict.Category)).
			Int("attempts", attempts).
			Msg("completion withheld by safety filter")
		return "", blocked(verdict.Reason)
	}

	logger.Info().
		Str("persona", p.ID).
		Int("turns", len(conversation)).
		Int("attempts", attempts).
		Int("length", len(text)).
		Dur("elapsed", time.Since(started)).
		Msg("completion served")
	return text, nil
}

// untrustedTurns drops client-supplied system turns and blank turns and rejects unknown roles.
func untrustedTurns(turns []chat.Turn) ([]chat.Turn, error) {
	out := make([]chat.Turn, 0, len(turns))
	hasUser := false
	for _, turn := range turns {
		if !turn.Role.Valid() {
			return nil, ErrInvalidRole
		}
		if turn.Role == chat.RoleSystem || turn.Notice {
			continue
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		if turn.Role == chat.RoleUser {
			hasUser = true
		}
		out = append(out, chat.Turn{Role: turn.Role, Content: turn.Content})
	}
	if !hasUser {
		return nil, ErrNoMessages
	}
	return out, nil
}

// bound keeps the most recent MaxTurns turns and rejects what is still over the content budget.
func (g *Gateway) bound(turns []chat.Turn) ([]chat.Turn, error) {
	if g.cfg.MaxTurns > 0 && len(turns) > g.cfg.MaxTurns {
		turns = turns[len(turns)-g.cfg.MaxTurns:]
	}

	if g.cfg.MaxContentBytes > 0 {
		total := 0
		for _, turn := range turns {
			total += len(turn.Content)
		}
		if total > g.cfg.MaxContentBytes {
			return nil, ErrConversationTooLong
		}
	}
	return turns, nil
}

func buildMessages(systemPrompt string, turns []chat.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns)+1)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}

// call runs the backend under the request timeout, retrying upstream failures with backoff.
func (g *Gateway) call(ctx context.Context, logger *zerolog.Logger, req completion.Request) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	if g.cfg.RetryInitialInterval > 0 {
		policy.InitialInterval = g.cfg.RetryInitialInterval
	}

	maxAttempts := g.cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	attempts := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		reply, err := g.backend.Complete(ctx, req)
		if err != nil {
			if errors.Is(err, completion.ErrUnrecognizedShape) {
				return "", backoff.Permanent(unnormalized(err))
			}
			if ctx.Err() != nil {
				return "", backoff.Permanent(upstream(err))
			}
			return "", upstream(err)
		}

		text, err := completion.Normalize(reply)
		if err != nil {
			return "", backoff.Permanent(unnormalized(fmt.Errorf("%T: %w", reply, err)))
		}
		return text, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithMaxElapsedTime(g.cfg.RequestTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).Dur("retry_in", next).Msg("completion attempt failed")
		}),
	)
	if err == nil {
		return text, attempts, nil
	}

	// Permanent errors arrive wrapped; a cancelled or expired context arrives bare.
	if gerr, ok := AsError(err); ok {
		return "", attempts, gerr
	}
	return "", attempts, upstream(err)
}

func (g *Gateway) loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &g.logger
}
