package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-gateway/internal/config"
	"github.com/zhouzirui/persona-gateway/internal/handler"
	"github.com/zhouzirui/persona-gateway/internal/model/chat"
	"github.com/zhouzirui/persona-gateway/internal/model/persona"
	chatService "github.com/zhouzirui/persona-gateway/internal/service/chat"
	"github.com/zhouzirui/persona-gateway/internal/service/completion"
	"github.com/zhouzirui/persona-gateway/internal/service/gateway"
)

type stubBackend struct {
	mu    sync.Mutex
	reply completion.Reply
	err   error
	last  completion.Request
}

func (s *stubBackend) Complete(_ context.Context, req completion.Request) (completion.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = req
	return s.reply, s.err
}

func (s *stubBackend) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubBackend) lastRequest() completion.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func newGatewayServer(t *testing.T, backend completion.Backend) *httptest.Server {
	t.Helper()
	store := persona.NewMemoryStore(persona.Seed())
	gw := gateway.New(store, backend, config.GatewayConfig{
		MaxOutputTokens:      64,
		MaxTurns:             40,
		MaxContentBytes:      4096,
		RequestTimeout:       time.Second,
		MaxAttempts:          1,
		RetryInitialInterval: time.Millisecond,
	}, zerolog.Nop())

	srv := httptest.NewServer(handler.NewRouter(config.ServerConfig{MaxBodyBytes: 1 << 16}, zerolog.Nop(), store, gw))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteRoundTrip(t *testing.T) {
	backend := &stubBackend{reply: completion.OutputText{Text: "Steady as she goes."}}
	srv := newGatewayServer(t, backend)
	c := New(srv.URL+"/", nil)

	out, err := c.Complete(context.Background(), []chat.Turn{
		chat.SystemTurn("client-side prompt"),
		chat.UserTurn("hello captain"),
		{Role: chat.RoleAssistant, Content: "blocked: something", Notice: true},
	}, "captain")
	require.NoError(t, err)
	assert.Equal(t, "Steady as she goes.", out)

	last := backend.lastRequest()
	require.Len(t, last.Messages, 2)
	assert.NotEqual(t, "client-side prompt", last.Messages[0].Content)
	assert.Equal(t, "hello captain", last.Messages[1].Content)
}

func TestCompleteRejectionCarriesReason(t *testing.T) {
	srv := newGatewayServer(t, &stubBackend{reply: completion.OutputText{Text: "x"}})
	c := New(srv.URL, nil)

	_, err := c.Complete(context.Background(), []chat.Turn{chat.UserTurn("hi")}, "pirate")
	gerr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindValidation, gerr.Kind)
	assert.Equal(t, "unknown personality", gerr.Reason)
}

func TestCompleteServerErrorIsUpstream(t *testing.T) {
	srv := newGatewayServer(t, &stubBackend{err: assert.AnError})
	c := New(srv.URL, nil)

	_, err := c.Complete(context.Background(), []chat.Turn{chat.UserTurn("hi")}, "zen")
	gerr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindUpstream, gerr.Kind)
	assert.Equal(t, gateway.MessageServerError, gerr.UserMessage())
}

func TestCompleteUnreachableIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).Complete(context.Background(), []chat.Turn{chat.UserTurn("hi")}, "zen")
	gerr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindUpstream, gerr.Kind)
}

func TestCompleteMalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"nope"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, nil).Complete(context.Background(), []chat.Turn{chat.UserTurn("hi")}, "zen")
	gerr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindNormalization, gerr.Kind)
}

func TestPersonas(t *testing.T) {
	srv := newGatewayServer(t, &stubBackend{})
	profiles, err := New(srv.URL, nil).Personas(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 5)

	raw, err := json.Marshal(profiles)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Conduct:")
}

func TestSessionOverHTTP(t *testing.T) {
	backend := &stubBackend{reply: completion.ChatCompletion{Content: "Breathe in."}}
	srv := newGatewayServer(t, backend)
	store := persona.NewMemoryStore(persona.Seed())

	session, err := chatService.NewSession(store, "zen", New(srv.URL, nil), chatService.DefaultLimits)
	require.NoError(t, err)

	outcome, err := session.SubmitUserText(context.Background(), "help me relax")
	require.NoError(t, err)
	assert.Equal(t, "Breathe in.", outcome.Reply)

	backend.fail(assert.AnError)
	outcome, err = session.SubmitUserText(context.Background(), "again")
	require.Error(t, err)
	assert.Equal(t, chatService.ConnectionErrorNotice, outcome.Notice)
}
