package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/polymind/backend/internal/config"
	"github.com/zhouzirui/polymind/backend/internal/model/chat"
)

var (
	ErrUserRequired    = errors.New("user id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrTitleRequired   = errors.New("title is required")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Store persists sessions and their messages. Every call is scoped to
// userID; sessions owned by someone else behave as if they did not exist.
type Store interface {
	CreateSession(ctx context.Context, userID, title string) (chat.Session, error)
	ListSessions(ctx context.Context, userID string) ([]chat.Session, error)
	GetSessionWithMessages(ctx context.Context, userID, sessionID string) (chat.SessionWithMessages, error)
	UpdateSessionTitle(ctx context.Context, userID, sessionID, title string) (chat.Session, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
	AppendMessages(ctx context.Context, userID, sessionID string, messages []chat.NewMessage) ([]chat.Message, error)
	Close() error
}

func validateAppend(messages []chat.NewMessage) error {
	for i, m := range messages {
		if m.IsUser && strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: message %d has no content", ErrInvalidMessage, i)
		}
		if !m.Valid() {
			return fmt.Errorf("%w: message %d has inconsistent model attribution", ErrInvalidMessage, i)
		}
	}
	return nil
}

// nextTimestamp keeps timestamps strictly increasing within a session so
// that ordering by timestamp equals insertion order.
func nextTimestamp(last, now time.Time) time.Time {
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}

// OpenStore opens the store selected by cfg.
func OpenStore(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreBolt, "":
		return OpenBoltStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
