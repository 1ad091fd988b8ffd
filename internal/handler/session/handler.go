package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/polymind/backend/internal/auth"
	"github.com/zhouzirui/polymind/backend/internal/model/catalog"
	"github.com/zhouzirui/polymind/backend/internal/model/chat"
	chatService "github.com/zhouzirui/polymind/backend/internal/service/chat"
	"github.com/zhouzirui/polymind/backend/internal/service/dispatch"
	"github.com/zhouzirui/polymind/backend/internal/service/timeline"
	"github.com/zhouzirui/polymind/backend/pkg/utils"
)

// Handler 会话持久化与轮次编排的HTTP处理器，所有路由都需要登录
type Handler struct {
	chatSvc *chatService.Service
	models  catalog.Store
	logger  *slog.Logger
}

// New 创建会话处理器
func New(chatSvc *chatService.Service, models catalog.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc: chatSvc,
		models:  models,
		logger:  logger.With("handler", "session"),
	}
}

// RegisterRoutes 注册会话相关的路由，调用方负责挂载认证中间件
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/rounds", h.handleRound)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.handleListSessions)
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Patch("/", h.handleUpdateTitle)
			r.Delete("/", h.handleDeleteSession)
			r.Post("/messages", h.handleAppendMessages)
			r.Get("/timeline", h.handleTimeline)
		})
	})
}

func currentUser(r *http.Request) string {
	user, _ := auth.UserFromContext(r.Context())
	return user.ID
}

// respondStoreError 将存储层错误映射为HTTP状态码
func (h *Handler) respondStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chatService.ErrUserRequired):
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, chatService.ErrTitleRequired), errors.Is(err, chatService.ErrInvalidMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case dispatch.IsValidation(err):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("session operation failed", "op", op, "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleListSessions 按创建时间倒序列出当前用户的会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.Store().ListSessions(r.Context(), currentUser(r))
	if err != nil {
		h.respondStoreError(w, "list", err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

// handleCreateSession 创建会话，可以直接给标题，也可以由第一条消息推导
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = chat.DeriveTitle(payload.Message)
	}
	if title == "" {
		utils.RespondError(w, http.StatusBadRequest, "title or message is required")
		return
	}

	session, err := h.chatSvc.Store().CreateSession(r.Context(), currentUser(r), title)
	if err != nil {
		h.respondStoreError(w, "create", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 返回会话及其按时间升序的消息
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Store().GetSessionWithMessages(r.Context(), currentUser(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondStoreError(w, "get", err)
		return
	}
	if session.Messages == nil {
		session.Messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleUpdateTitle 修改会话标题
func (h *Handler) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.Store().UpdateSessionTitle(r.Context(), currentUser(r), chi.URLParam(r, "sessionID"), payload.Title)
	if err != nil {
		h.respondStoreError(w, "update_title", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleDeleteSession 删除会话及其全部消息
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.Store().DeleteSession(r.Context(), currentUser(r), chi.URLParam(r, "sessionID")); err != nil {
		h.respondStoreError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAppendMessages 追加一条或多条消息
func (h *Handler) handleAppendMessages(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Messages []chat.NewMessage `json:"messages"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Messages) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "messages are required")
		return
	}

	saved, err := h.chatSvc.Store().AppendMessages(r.Context(), currentUser(r), chi.URLParam(r, "sessionID"), payload.Messages)
	if err != nil {
		h.respondStoreError(w, "append", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, saved)
}

// handleTimeline 从存储重建每个模型的时间线，未指定模型时使用默认选择
func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Store().GetSessionWithMessages(r.Context(), currentUser(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondStoreError(w, "timeline", err)
		return
	}

	selected := splitModels(r.URL.Query().Get("models"))
	if len(selected) == 0 && h.models != nil {
		selected = h.models.DefaultSelection()
	}

	view := timeline.New(nil)
	view.Build(selected, session.Messages)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session": session.Session,
		"panes":   view.Panes(),
	})
}

func splitModels(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// handleRound 在服务端完成一整轮：建会话、存用户消息、分发、存成功回答
func (h *Handler) handleRound(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string   `json:"sessionId"`
		Message   string   `json:"message"`
		ModelIDs  []string `json:"modelIds"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sc := chat.SessionContext{UserID: currentUser(r), SessionID: payload.SessionID}
	round, err := h.chatSvc.SendMessage(r.Context(), sc, payload.Message, payload.ModelIDs, nil)
	if err != nil {
		h.respondStoreError(w, "round", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, round)
}
