package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zhouzirui/persona-gateway/internal/analysis/safety"
	"github.com/zhouzirui/persona-gateway/internal/model/chat"
	"github.com/zhouzirui/persona-gateway/internal/model/persona"
	"github.com/zhouzirui/persona-gateway/internal/service/gateway"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSendInProgress = errors.New("a message is already being sent")
)

// ConnectionErrorNotice is shown for any failure whose detail must stay hidden.
const ConnectionErrorNotice = "Connection error. Please try again."

// Completer forwards a conversation to the gateway. *gateway.Gateway and the HTTP client
// both implement it.
type Completer interface {
	Complete(ctx context.Context, turns []chat.Turn, personaID string) (string, error)
}

// Limits bound what a session forwards per request.
type Limits struct {
	MaxTurns        int
	MaxContentBytes int
}

// DefaultLimits match the gateway defaults.
var DefaultLimits = Limits{MaxTurns: 40, MaxContentBytes: 32 << 10}

// Outcome describes what one submission did to the session.
type Outcome struct {
	Reply   string
	Blocked bool
	Reason  string
	Notice  string
}

// Session is an append-only conversation bound to one persona for its lifetime.
type Session struct {
	id        string
	personaID string
	completer Completer
	limits    Limits

	mu      sync.RWMutex
	turns   []chat.Turn
	sending atomic.Bool
}

// NewSession resolves the persona and seeds turns[0] with its system turn.
func NewSession(personas persona.Store, personaID string, completer Completer, limits Limits) (*Session, error) {
	p, err := personas.Lookup(personaID)
	if err != nil {
		return nil, fmt.Errorf("persona %q: %w", personaID, err)
	}

	turns := make([]chat.Turn, 0, 16)
	turns = append(turns, chat.SystemTurn(p.SystemPrompt))

	return &Session{
		id:        uuid.NewString(),
		personaID: p.ID,
		completer: completer,
		limits:    limits,
		turns:     turns,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// PersonaID returns the persona the session is bound to.
func (s *Session) PersonaID() string { return s.personaID }

// Turns returns a copy of the full log, system turn included.
func (s *Session) Turns() []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Turn(nil), s.turns...)
}

// Visible returns the turns a chat view renders: everything but the system turn.
func (s *Session) Visible() []chat.Turn {
	turns := s.Turns()
	return turns[1:]
}

// SubmitUserText checks text locally, then forwards the bounded history. A local block
// appends a notice and skips the gateway. Failures are recorded as notices; the session
// stays usable after any outcome.
func (s *Session) SubmitUserText(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyMessage
	}

	if !s.sending.CompareAndSwap(false, true) {
		return Outcome{}, ErrSendInProgress
	}
	defer s.sending.Store(false)

	if verdict := safety.Classify(text); !verdict.OK {
		notice := blockedNotice(verdict.Reason)
		s.appendNotice(notice)
		return Outcome{Blocked: true, Reason: verdict.Reason, Notice: notice}, nil
	}

	s.append(chat.UserTurn(text))

	reply, err := s.completer.Complete(ctx, s.History(), s.personaID)
	if err != nil {
		if gerr, ok := gateway.AsError(err); ok && (gerr.Kind == gateway.KindSafetyBlocked || gerr.Kind == gateway.KindValidation) {
			notice := blockedNotice(gerr.Reason)
			s.appendNotice(notice)
			return Outcome{Blocked: true, Reason: gerr.Reason, Notice: notice}, err
		}
		s.appendNotice(ConnectionErrorNotice)
		return Outcome{Notice: ConnectionErrorNotice}, err
	}

	// Completers that do not screen replies still must not get a flagged turn into history.
	if verdict := safety.Classify(reply); !verdict.OK {
		notice := blockedNotice(verdict.Reason)
		s.appendNotice(notice)
		return Outcome{Blocked: true, Reason: verdict.Reason, Notice: notice}, nil
	}

	s.RecordAssistantText(reply)
	return Outcome{Reply: reply}, nil
}

// RecordAssistantText appends a successful reply.
func (s *Session) RecordAssistantText(text string) {
	s.append(chat.AssistantTurn(text))
}

// History returns the system turn followed by the most recent forwardable turns that fit
// within the session limits.
func (s *Session) History() []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	system := s.turns[0]
	window := make([]chat.Turn, 0, len(s.turns))
	size := 0
	for i := len(s.turns) - 1; i >= 1; i-- {
		turn := s.turns[i]
		if turn.Notice {
			continue
		}
		if s.limits.MaxTurns > 0 && len(window) >= s.limits.MaxTurns {
			break
		}
		if s.limits.MaxContentBytes > 0 && size+len(turn.Content) > s.limits.MaxContentBytes && len(window) > 0 {
			break
		}
		size += len(turn.Content)
		window = append(window, turn)
	}

	history := make([]chat.Turn, 0, len(window)+1)
	history = append(history, system)
	for i := len(window) - 1; i >= 0; i-- {
		history = append(history, window[i])
	}
	return history
}

func (s *Session) append(turn chat.Turn) {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
}

func (s *Session) appendNotice(text string) {
	s.append(chat.Turn{Role: chat.RoleAssistant, Content: text, Notice: true})
}

func blockedNotice(reason string) string {
	return "blocked: " + reason
}
