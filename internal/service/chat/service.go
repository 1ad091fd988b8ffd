package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
	"github.com/zhouzirui/polymind/backend/internal/service/dispatch"
)

// Dispatcher fans a message out to several models.
type Dispatcher interface {
	DispatchEach(ctx context.Context, message string, modelIDs []string, onResult dispatch.ResultFunc) ([]chat.GenerationResult, error)
}

// RoundHooks lets a caller render a round while it is in progress.
// Any hook may be nil.
type RoundHooks struct {
	OnSession     func(chat.Session)
	OnUserMessage func(chat.Message)
	OnResult      dispatch.ResultFunc
}

// Round is the outcome of one SendMessage call.
type Round struct {
	Context     chat.SessionContext     `json:"context"`
	Session     *chat.Session           `json:"session,omitempty"`
	UserMessage chat.Message            `json:"userMessage"`
	Results     []chat.GenerationResult `json:"responses"`
	Saved       []chat.Message          `json:"saved,omitempty"`
	// Persisted is true only when the user turn and every successful
	// assistant turn were written to the store.
	Persisted bool `json:"persisted"`
}

// Service runs conversation rounds: it creates the session on the first
// message, records the user turn, dispatches to every selected model and
// records the successful answers. Storage problems never block a round.
type Service struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewService wires the round service.
func NewService(store Store, dispatcher Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, dispatcher: dispatcher, logger: logger.With("component", "chat")}
}

// Store returns the underlying conversation store.
func (s *Service) Store() Store {
	return s.store
}

// SendMessage runs one round for sc. The returned Round carries the updated
// session context; callers keep it for the next round.
func (s *Service) SendMessage(ctx context.Context, sc chat.SessionContext, message string, modelIDs []string, hooks *RoundHooks) (Round, error) {
	if hooks == nil {
		hooks = &RoundHooks{}
	}
	if err := dispatch.Validate(message, modelIDs); err != nil {
		return Round{}, err
	}

	round := Round{Context: sc}
	persist := sc.Authenticated() && s.store != nil

	if persist && sc.SessionID == "" {
		session, err := s.store.CreateSession(ctx, sc.UserID, chat.DeriveTitle(message))
		if err != nil {
			s.logger.Warn("failed to create chat session, continuing unsaved", "user", sc.UserID, "error", err)
			persist = false
		} else {
			round.Context.SessionID = session.ID
			round.Session = &session
			if hooks.OnSession != nil {
				hooks.OnSession(session)
			}
		}
	}

	round.UserMessage = chat.Message{
		ID:        uuid.NewString(),
		SessionID: round.Context.SessionID,
		Content:   message,
		IsUser:    true,
		Timestamp: time.Now().UTC(),
	}
	round.UserMessage.CreatedAt = round.UserMessage.Timestamp

	userSaved := false
	if persist {
		saved, err := s.store.AppendMessages(ctx, sc.UserID, round.Context.SessionID, []chat.NewMessage{chat.UserTurn(message)})
		switch {
		case errors.Is(err, ErrSessionNotFound):
			return Round{}, err
		case err != nil:
			s.logger.Warn("failed to save user message", "session", round.Context.SessionID, "error", err)
			persist = false
		default:
			round.UserMessage = saved[0]
			userSaved = true
		}
	}
	if hooks.OnUserMessage != nil {
		hooks.OnUserMessage(round.UserMessage)
	}

	results, err := s.dispatcher.DispatchEach(ctx, message, modelIDs, hooks.OnResult)
	if err != nil {
		return Round{}, fmt.Errorf("dispatch round: %w", err)
	}
	round.Results = results

	if !persist {
		return round, nil
	}

	answers := make([]chat.NewMessage, 0, len(results))
	for _, r := range results {
		if m, ok := r.AsMessage(); ok {
			answers = append(answers, m)
		}
	}
	round.Persisted = userSaved
	if len(answers) == 0 {
		return round, nil
	}

	saved, err := s.store.AppendMessages(context.WithoutCancel(ctx), sc.UserID, round.Context.SessionID, answers)
	if err != nil {
		s.logger.Warn("failed to save assistant messages", "session", round.Context.SessionID, "count", len(answers), "error", err)
		round.Persisted = false
		return round, nil
	}
	round.Saved = saved
	return round, nil
}
