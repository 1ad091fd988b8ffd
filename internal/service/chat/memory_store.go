package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
)

// MemoryStore keeps sessions in process memory. Suitable for tests and
// single-instance development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions a session owned by userID.
func (s *MemoryStore) CreateSession(_ context.Context, userID, title string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, ErrUserRequired
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.Session{}, ErrTitleRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	return session, nil
}

// ListSessions returns the user's sessions, newest first.
func (s *MemoryStore) ListSessions(_ context.Context, userID string) ([]chat.Session, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]chat.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	sortNewestFirst(sessions)
	return sessions, nil
}

// GetSessionWithMessages returns a session and its messages in timestamp order.
func (s *MemoryStore) GetSessionWithMessages(_ context.Context, userID, sessionID string) (chat.SessionWithMessages, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, err := s.owned(userID, sessionID)
	if err != nil {
		return chat.SessionWithMessages{}, err
	}

	messages := append([]chat.Message(nil), s.messages[sessionID]...)
	sortByTimestamp(messages)
	return chat.SessionWithMessages{Session: session, Messages: messages}, nil
}

// UpdateSessionTitle renames a session and bumps UpdatedAt.
func (s *MemoryStore) UpdateSessionTitle(_ context.Context, userID, sessionID, title string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.Session{}, ErrTitleRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.owned(userID, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	session.Title = title
	session.UpdatedAt = s.now()
	s.sessions[sessionID] = session
	return session, nil
}

// DeleteSession removes a session together with all of its messages.
func (s *MemoryStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

// AppendMessages appends all messages or none.
func (s *MemoryStore) AppendMessages(_ context.Context, userID, sessionID string, messages []chat.NewMessage) ([]chat.Message, error) {
	if err := validateAppend(messages); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(userID, sessionID); err != nil {
		return nil, err
	}

	existing := s.messages[sessionID]
	var last time.Time
	if n := len(existing); n > 0 {
		last = existing[n-1].Timestamp
	}

	appended := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		now := s.now()
		ts := nextTimestamp(last, now)
		last = ts
		appended = append(appended, chat.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Content:   m.Content,
			IsUser:    m.IsUser,
			ModelID:   m.ModelID,
			Timestamp: ts,
			CreatedAt: now,
		})
	}
	s.messages[sessionID] = append(existing, appended...)
	return appended, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) owned(userID, sessionID string) (chat.Session, error) {
	if userID == "" {
		return chat.Session{}, ErrUserRequired
	}
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func sortNewestFirst(sessions []chat.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

func sortByTimestamp(messages []chat.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}
