package catalog

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/polymind/backend/internal/model/catalog"
	"github.com/zhouzirui/polymind/backend/pkg/utils"
)

// Handler 模型目录的HTTP处理器
type Handler struct {
	models catalog.Store
}

// New 创建模型目录处理器
func New(models catalog.Store) *Handler {
	return &Handler{
		models: models,
	}
}

// RegisterRoutes 注册模型目录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
	r.Get("/models/*", h.handleGetModel)
}

type listResponse struct {
	Models           []catalog.Model `json:"models"`
	DefaultSelection []string        `json:"defaultSelection"`
}

// handleListModels 列出所有可选模型和默认选择
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := h.models.List()
	if provider := r.URL.Query().Get("provider"); provider != "" {
		filtered := models[:0:0]
		for _, m := range models {
			if strings.EqualFold(m.Provider, provider) {
				filtered = append(filtered, m)
			}
		}
		models = filtered
	}
	utils.RespondJSON(w, http.StatusOK, listResponse{
		Models:           models,
		DefaultSelection: h.models.DefaultSelection(),
	})
}

// handleGetModel 查询单个模型，模型ID本身包含斜杠
func (h *Handler) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	model, ok := h.models.FindByID(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "model not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, model)
}
