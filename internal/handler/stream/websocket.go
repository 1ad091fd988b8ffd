package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/polymind/backend/internal/auth"
	"github.com/zhouzirui/polymind/backend/internal/model/catalog"
	"github.com/zhouzirui/polymind/backend/internal/model/chat"
	chatService "github.com/zhouzirui/polymind/backend/internal/service/chat"
	"github.com/zhouzirui/polymind/backend/internal/service/timeline"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Inbound command types.
const (
	CommandLoad     = "load"
	CommandSend     = "send"
	CommandSelect   = "select"
	CommandDeselect = "deselect"
	CommandReset    = "reset"
)

// Outbound event types.
const (
	EventSession  = "session"
	EventUser     = "user"
	EventResult   = "result"
	EventDone     = "done"
	EventTimeline = "timeline"
	EventError    = "error"
)

// Handler WebSocket实时对比处理器，每个连接维护一个会话上下文和一组模型面板
type Handler struct {
	chatSvc  *chatService.Service
	models   catalog.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(chatSvc *chatService.Service, models catalog.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc: chatSvc,
		models:  models,
		logger:  logger.With("handler", "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId,omitempty"`
	Message   string   `json:"message,omitempty"`
	ModelIDs  []string `json:"modelIds,omitempty"`
	ModelID   string   `json:"modelId,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type resultEvent struct {
	Index  int                   `json:"index"`
	Result chat.GenerationResult `json:"result"`
	Pane   timeline.Pane         `json:"pane"`
}

type doneEvent struct {
	Responses []chat.GenerationResult `json:"responses"`
	Persisted bool                    `json:"persisted"`
}

type timelineEvent struct {
	Session *chat.Session   `json:"session,omitempty"`
	Panes   []timeline.Pane `json:"panes"`
}

// connection 串行化写操作，结果回调来自多个goroutine
type connection struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	sc       chat.SessionContext
	inFlight bool
	// epoch changes on reset and load; rounds started under an older
	// epoch no longer touch the connection state.
	epoch uint64
	view  *timeline.View
}

func (c *connection) send(eventType string, data any) {
	c.mu.Lock()
	sessionID := c.sc.SessionID
	c.mu.Unlock()

	msg := outgoingMessage{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug("websocket write failed", "type", eventType, "error", err)
	}
}

func (c *connection) sendError(message string) {
	c.send(EventError, map[string]string{"message": message})
}

func (c *connection) context() chat.SessionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sc
}

// startOver abandons any round in progress and points the connection at
// sessionID (empty for a fresh conversation).
func (c *connection) startOver(sessionID string) {
	c.mu.Lock()
	c.epoch++
	c.inFlight = false
	c.sc.SessionID = sessionID
	c.mu.Unlock()
}

func (c *connection) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// adopt records the session of a round unless the round was abandoned.
func (c *connection) adopt(epoch uint64, sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.sc.SessionID = sessionID
	return true
}

func (c *connection) finish(epoch uint64) {
	c.mu.Lock()
	if c.epoch == epoch {
		c.inFlight = false
	}
	c.mu.Unlock()
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	var defaults []string
	if h.models != nil {
		defaults = h.models.DefaultSelection()
	}
	conn := &connection{
		ws:     ws,
		logger: h.logger.With("user", user.ID),
		sc:     chat.SessionContext{UserID: user.ID},
		view:   timeline.New(defaults),
	}
	conn.logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	conn.send(EventTimeline, timelineEvent{Panes: conn.view.Panes()})

	var rounds sync.WaitGroup
	defer rounds.Wait()

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, conn, &msg, &rounds)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *connection, msg *inboundMessage, rounds *sync.WaitGroup) {
	switch msg.Type {
	case CommandLoad:
		h.handleLoad(ctx, conn, msg)
	case CommandSend:
		h.handleSend(ctx, conn, msg, rounds)
	case CommandSelect:
		if !conn.view.Select(msg.ModelID) {
			conn.sendError("model already selected: " + msg.ModelID)
			return
		}
		h.reloadFromStore(ctx, conn)
	case CommandDeselect:
		if !conn.view.Deselect(msg.ModelID) {
			conn.sendError("model not selected: " + msg.ModelID)
			return
		}
		conn.send(EventTimeline, timelineEvent{Panes: conn.view.Panes()})
	case CommandReset:
		conn.startOver("")
		conn.view.Reset()
		conn.send(EventTimeline, timelineEvent{Panes: conn.view.Panes()})
	default:
		conn.sendError("unsupported message type: " + msg.Type)
	}
}

// handleLoad 从存储加载会话并重建面板
func (h *Handler) handleLoad(ctx context.Context, conn *connection, msg *inboundMessage) {
	sc := conn.context()
	if !sc.Authenticated() {
		conn.sendError("authentication required")
		return
	}
	session, err := h.chatSvc.Store().GetSessionWithMessages(ctx, sc.UserID, msg.SessionID)
	if err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			conn.sendError("session not found")
			return
		}
		conn.logger.Error("failed to load session", "session", msg.SessionID, "error", err)
		conn.sendError("failed to load session")
		return
	}

	selected := msg.ModelIDs
	if len(selected) == 0 {
		selected = conn.view.Selected()
	}
	conn.startOver(session.ID)
	conn.view.Build(selected, session.Messages)
	conn.send(EventTimeline, timelineEvent{Session: &session.Session, Panes: conn.view.Panes()})
}

// reloadFromStore 重新选择模型后以存储为准恢复历史
func (h *Handler) reloadFromStore(ctx context.Context, conn *connection) {
	sc := conn.context()
	if sc.Authenticated() && sc.SessionID != "" {
		session, err := h.chatSvc.Store().GetSessionWithMessages(ctx, sc.UserID, sc.SessionID)
		if err != nil {
			conn.logger.Warn("failed to reload session", "session", sc.SessionID, "error", err)
		} else {
			conn.view.Reload(session.Messages)
		}
	}
	conn.send(EventTimeline, timelineEvent{Panes: conn.view.Panes()})
}

// syncSelection 使面板与本轮选择的模型一致
func syncSelection(view *timeline.View, modelIDs []string) {
	wanted := make(map[string]bool, len(modelIDs))
	for _, id := range modelIDs {
		wanted[id] = true
	}
	for _, id := range view.Selected() {
		if !wanted[id] {
			view.Deselect(id)
		}
	}
	for _, id := range modelIDs {
		view.Select(id)
	}
}

// handleSend 在后台运行一轮对比，同一连接同时只允许一轮
func (h *Handler) handleSend(ctx context.Context, conn *connection, msg *inboundMessage, rounds *sync.WaitGroup) {
	conn.mu.Lock()
	if conn.inFlight {
		conn.mu.Unlock()
		conn.sendError("a round is already in progress")
		return
	}
	conn.inFlight = true
	sc := conn.sc
	epoch := conn.epoch
	conn.mu.Unlock()

	modelIDs := msg.ModelIDs
	if len(modelIDs) == 0 {
		modelIDs = conn.view.Selected()
	}
	if msg.SessionID != "" {
		sc.SessionID = msg.SessionID
	}

	rounds.Add(1)
	go func() {
		defer rounds.Done()
		defer conn.finish(epoch)
		h.runRound(ctx, conn, epoch, sc, msg.Message, modelIDs)
	}()
}

// runRound streams one round. Once the connection is reset or another
// session is loaded, the round still finishes and persists but its events
// are dropped.
func (h *Handler) runRound(ctx context.Context, conn *connection, epoch uint64, sc chat.SessionContext, message string, modelIDs []string) {
	var token timeline.Round
	hooks := &chatService.RoundHooks{
		OnSession: func(session chat.Session) {
			if !conn.adopt(epoch, session.ID) {
				return
			}
			conn.send(EventSession, session)
		},
		OnUserMessage: func(m chat.Message) {
			if !conn.current(epoch) {
				return
			}
			syncSelection(conn.view, modelIDs)
			token = conn.view.BeginRound(m)
			conn.send(EventUser, m)
		},
		OnResult: func(index int, result chat.GenerationResult) {
			if !conn.view.Apply(token, result) {
				return
			}
			pane, _ := conn.view.Pane(result.ModelID)
			conn.send(EventResult, resultEvent{Index: index, Result: result, Pane: pane})
		},
	}

	round, err := h.chatSvc.SendMessage(ctx, sc, message, modelIDs, hooks)
	if !conn.current(epoch) {
		conn.logger.Debug("dropping events of abandoned round", "session", round.Context.SessionID, "error", err)
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, chatService.ErrSessionNotFound):
			conn.sendError("session not found")
		default:
			conn.sendError(err.Error())
		}
		return
	}
	if !conn.adopt(epoch, round.Context.SessionID) {
		return
	}
	conn.send(EventDone, doneEvent{Responses: round.Results, Persisted: round.Persisted})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
