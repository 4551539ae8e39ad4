package completion

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnrecognizedShape means the backend answered with neither known reply layout.
var ErrUnrecognizedShape = errors.New("unrecognized completion response shape")

// Reply is the closed set of backend reply layouts. Only types in this package implement it.
type Reply interface {
	isReply()
}

// ChatCompletion is the nested choices[0].message.content layout.
type ChatCompletion struct {
	Content      string
	FinishReason string
}

// OutputText is the flat output text layout.
type OutputText struct {
	Text string
}

func (ChatCompletion) isReply() {}
func (OutputText) isReply()     {}

// Decode detects which layout a raw JSON body uses.
func Decode(raw []byte) (Reply, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrUnrecognizedShape
	}

	if content := gjson.GetBytes(raw, "choices.0.message.content"); content.Type == gjson.String {
		return ChatCompletion{
			Content:      content.String(),
			FinishReason: gjson.GetBytes(raw, "choices.0.finish_reason").String(),
		}, nil
	}

	for _, path := range []string{"output_text", "output"} {
		if text := gjson.GetBytes(raw, path); text.Type == gjson.String {
			return OutputText{Text: text.String()}, nil
		}
	}

	return nil, ErrUnrecognizedShape
}

// Normalize maps any reply variant to its text. Blank text counts as absent.
func Normalize(reply Reply) (string, error) {
	var text string
	switch r := reply.(type) {
	case ChatCompletion:
		text = r.Content
	case OutputText:
		text = r.Text
	default:
		return "", ErrUnrecognizedShape
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrUnrecognizedShape
	}
	return text, nil
}
