package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/zhouzirui/persona-gateway/internal/model/chat"
	"github.com/zhouzirui/persona-gateway/internal/service/gateway"
	"github.com/zhouzirui/persona-gateway/pkg/utils"
)

// Completer 抽象网关，便于测试与替换实现
type Completer interface {
	Complete(ctx context.Context, turns []chat.Turn, personaID string) (string, error)
}

// Handler 对话网关的HTTP处理器
type Handler struct {
	gateway Completer
}

// New 创建对话处理器
func New(gw Completer) *Handler {
	return &Handler{gateway: gw}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	// 所有方法都进入处理器，由处理器返回纯文本 405。
	r.HandleFunc("/chat", h.handleChat)
}

// wireMessage 是客户端提交的一条消息。role 只接受 user/assistant。
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Personality string        `json:"personality"`
	Messages    []wireMessage `json:"messages"`
}

type chatResponse struct {
	Output string `json:"output"`
}

// handleChat 转发一次对话补全
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		utils.RespondText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	logger := hlog.FromRequest(r)

	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turns := make([]chat.Turn, 0, len(payload.Messages))
	for _, msg := range payload.Messages {
		turns = append(turns, chat.Turn{Role: chat.Role(msg.Role), Content: msg.Content})
	}

	output, err := h.gateway.Complete(r.Context(), turns, payload.Personality)
	if err != nil {
		gerr, ok := gateway.AsError(err)
		if !ok {
			logger.Error().Err(err).Msg("unmapped gateway error")
			utils.RespondError(w, http.StatusInternalServerError, gateway.MessageServerError)
			return
		}

		switch gerr.Kind {
		case gateway.KindSafetyBlocked, gateway.KindValidation:
			utils.RespondError(w, http.StatusBadRequest, gerr.UserMessage())
		default:
			logger.Error().Err(gerr.Err).Str("kind", gerr.Kind.String()).Msg("chat completion failed")
			utils.RespondError(w, http.StatusInternalServerError, gateway.MessageServerError)
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Output: output})
}
