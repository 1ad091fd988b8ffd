package chat

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
	"github.com/zhouzirui/polymind/backend/internal/service/dispatch"
	"github.com/zhouzirui/polymind/backend/pkg/utils"
)

// Dispatcher 将一条消息并发分发给多个模型
type Dispatcher interface {
	DispatchEach(ctx context.Context, message string, modelIDs []string, onResult dispatch.ResultFunc) ([]chat.GenerationResult, error)
}

// Handler 多模型对比的HTTP处理器
type Handler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// New 创建对比处理器
func New(dispatcher Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher: dispatcher,
		logger:     logger.With("handler", "chat"),
	}
}

// RegisterRoutes 注册对比相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/chat/stream", h.handleChatStream)
}

type chatRequest struct {
	Message  string   `json:"message"`
	ModelIDs []string `json:"modelIds"`
}

type chatResponse struct {
	Responses []chat.GenerationResult `json:"responses"`
}

// decodeChatRequest 解析请求体，缺少字段时返回错误信息
func decodeChatRequest(r *http.Request) (chatRequest, string) {
	var payload chatRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		return payload, "invalid request body"
	}
	if err := dispatch.Validate(payload.Message, payload.ModelIDs); err != nil {
		return payload, err.Error()
	}
	return payload, ""
}

// handleChat 分发消息并等待所有模型完成
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	payload, problem := decodeChatRequest(r)
	if problem != "" {
		utils.RespondError(w, http.StatusBadRequest, problem)
		return
	}

	results, err := h.dispatcher.DispatchEach(r.Context(), payload.Message, payload.ModelIDs, nil)
	if err != nil {
		if dispatch.IsValidation(err) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to generate responses", "models", len(payload.ModelIDs), "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to generate responses")
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Responses: results})
}

// handleChatStream 每个模型完成时推送一个result事件，全部完成后推送done
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	payload, problem := decodeChatRequest(r)
	if problem != "" {
		utils.RespondError(w, http.StatusBadRequest, problem)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// 回调在各分支goroutine中触发，写入需要串行化
	events := make(chan chat.GenerationResult, len(payload.ModelIDs))
	done := make(chan struct{})
	var (
		results []chat.GenerationResult
		err     error
	)
	go func() {
		defer close(done)
		results, err = h.dispatcher.DispatchEach(r.Context(), payload.Message, payload.ModelIDs, func(_ int, result chat.GenerationResult) {
			events <- result
		})
		close(events)
	}()

	clientGone := false
	for result := range events {
		if clientGone {
			continue
		}
		if werr := utils.SendSSEEvent(w, flusher, "result", result); werr != nil {
			h.logger.Debug("stream client went away", "error", werr)
			clientGone = true
		}
	}
	<-done
	if clientGone {
		return
	}

	if err != nil {
		h.logger.Error("failed to generate responses", "models", len(payload.ModelIDs), "error", err)
		_ = utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": "Failed to generate responses"})
		return
	}
	_ = utils.SendSSEEvent(w, flusher, "done", chatResponse{Responses: results})
}
