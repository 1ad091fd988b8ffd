package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/polymind/backend/internal/auth"
	catalogHandler "github.com/zhouzirui/polymind/backend/internal/handler/catalog"
	chatHandler "github.com/zhouzirui/polymind/backend/internal/handler/chat"
	"github.com/zhouzirui/polymind/backend/internal/handler/session"
	"github.com/zhouzirui/polymind/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/polymind/backend/internal/middleware"
	"github.com/zhouzirui/polymind/backend/internal/model/catalog"
	chatService "github.com/zhouzirui/polymind/backend/internal/service/chat"
	"github.com/zhouzirui/polymind/backend/pkg/utils"
)

// Dependencies 路由需要的核心服务
type Dependencies struct {
	Models     catalog.Store
	Dispatcher chatHandler.Dispatcher
	ChatSvc    *chatService.Service
	Auth       auth.Authenticator
	Logger     *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authenticator := deps.Auth
	if authenticator == nil {
		authenticator = auth.Chain(nil)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		// 公开路由：模型目录与无状态对比
		catalogHandler.New(deps.Models).RegisterRoutes(api)
		chatHandler.New(deps.Dispatcher, logger).RegisterRoutes(api)

		// WebSocket 可匿名使用，登录后的轮次会被持久化
		api.Group(func(ws chi.Router) {
			ws.Use(auth.Optional(authenticator))
			stream.New(deps.ChatSvc, deps.Models, logger).RegisterRoutes(ws)
		})

		// 会话持久化需要登录
		api.Group(func(private chi.Router) {
			private.Use(auth.Require(authenticator))
			session.New(deps.ChatSvc, deps.Models, logger).RegisterRoutes(private)
		})
	})

	return r
}
