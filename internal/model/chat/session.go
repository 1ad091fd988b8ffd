package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

// TitleLimit is the number of characters of the first message kept in a session title.
const TitleLimit = 50

// Session is a conversation owned by exactly one user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionWithMessages bundles a session with its messages ordered by timestamp.
type SessionWithMessages struct {
	Session
	Messages []Message `json:"messages"`
}

// SessionContext identifies the caller and the conversation a round belongs to.
// An empty SessionID means the next round starts a new session.
type SessionContext struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Authenticated reports whether the context carries a user identity.
func (c SessionContext) Authenticated() bool {
	return c.UserID != ""
}

// DeriveTitle builds a session title from the first message of a conversation.
func DeriveTitle(message string) string {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) <= TitleLimit {
		return message
	}
	runes := []rune(message)
	return string(runes[:TitleLimit]) + "..."
}
