// Package client talks to a running gateway over HTTP. Client implements the same
// Complete contract as *gateway.Gateway so a session can sit on either side of the wire.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zhouzirui/persona-gateway/internal/model/chat"
	"github.com/zhouzirui/persona-gateway/internal/model/persona"
	"github.com/zhouzirui/persona-gateway/internal/service/gateway"
)

const maxResponseBytes = 1 << 20

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the gateway at baseURL. A nil httpClient gets a 60s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Personality string        `json:"personality"`
	Messages    []wireMessage `json:"messages"`
}

// Complete posts the conversation to /api/chat. System and notice turns never leave
// the client; the server attaches the persona prompt itself.
func (c *Client) Complete(ctx context.Context, turns []chat.Turn, personaID string) (string, error) {
	payload := chatRequest{Personality: personaID, Messages: make([]wireMessage, 0, len(turns))}
	for _, turn := range turns {
		if turn.Notice || turn.Role == chat.RoleSystem {
			continue
		}
		payload.Messages = append(payload.Messages, wireMessage{Role: string(turn.Role), Content: turn.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &gateway.Error{Kind: gateway.KindValidation, Reason: "invalid request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", upstream(err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, raw, err := c.do(req)
	if err != nil {
		return "", upstream(err)
	}

	switch {
	case status == http.StatusOK:
		output := gjson.GetBytes(raw, "output")
		if output.Type != gjson.String || strings.TrimSpace(output.Str) == "" {
			return "", &gateway.Error{Kind: gateway.KindNormalization, Reason: gateway.MessageServerError, Err: fmt.Errorf("unexpected body: %.200s", raw)}
		}
		return output.Str, nil
	case status == http.StatusBadRequest:
		reason := gjson.GetBytes(raw, "error").String()
		if reason == "" {
			reason = "request rejected"
		}
		return "", &gateway.Error{Kind: gateway.KindValidation, Reason: reason}
	default:
		return "", upstream(fmt.Errorf("gateway answered %d", status))
	}
}

// Personas fetches the public persona profiles.
func (c *Client) Personas(ctx context.Context) ([]persona.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/personas", nil)
	if err != nil {
		return nil, err
	}

	status, raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list personas: gateway answered %d", status)
	}

	var profiles []persona.Profile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return profiles, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func upstream(err error) *gateway.Error {
	return &gateway.Error{Kind: gateway.KindUpstream, Reason: gateway.MessageServerError, Err: err}
}
