package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies every failure that can leave the gateway.
type Kind int

const (
	KindSafetyBlocked Kind = iota + 1
	KindValidation
	KindUpstream
	KindNormalization
)

func (k Kind) String() string {
	switch k {
	case KindSafetyBlocked:
		return "safety_blocked"
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	case KindNormalization:
		return "normalization"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether a caller may retry the same request.
func (k Kind) Retryable() bool {
	return k == KindUpstream
}

// Generic user-facing messages for failures whose detail stays server-side.
const (
	MessageServerError = "Server error"
)

var (
	ErrPersonaRequired     = errors.New("personality is required")
	ErrUnknownPersona      = errors.New("unknown personality")
	ErrNoMessages          = errors.New("messages are required")
	ErrInvalidRole         = errors.New("invalid message role")
	ErrConversationTooLong = errors.New("conversation is too long")
)

// Error is the only error type Complete returns. Reason is safe to show to the user;
// Err carries the internal cause and must only be logged.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the text that may cross the trust boundary.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindSafetyBlocked, KindValidation:
		return e.Reason
	default:
		return MessageServerError
	}
}

// AsError extracts a gateway error from err.
func AsError(err error) (*Error, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

func blocked(reason string) *Error {
	return &Error{Kind: KindSafetyBlocked, Reason: reason}
}

func invalid(err error) *Error {
	return &Error{Kind: KindValidation, Reason: err.Error(), Err: err}
}

func upstream(err error) *Error {
	return &Error{Kind: KindUpstream, Reason: MessageServerError, Err: err}
}

func unnormalized(err error) *Error {
	return &Error{Kind: KindNormalization, Reason: MessageServerError, Err: err}
}
