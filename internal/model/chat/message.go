package chat

import "time"

// Message is one persisted turn. ModelID is set only for assistant turns.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	ModelID   string    `json:"modelId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage describes a message to append to a session.
type NewMessage struct {
	Content string `json:"content"`
	IsUser  bool   `json:"isUser"`
	ModelID string `json:"modelId,omitempty"`
}

// Valid enforces the attribution rule: user turns never name a model,
// assistant turns always do.
func (m NewMessage) Valid() bool {
	if m.IsUser {
		return m.ModelID == ""
	}
	return m.ModelID != ""
}

// UserTurn is shorthand for a user NewMessage.
func UserTurn(content string) NewMessage {
	return NewMessage{Content: content, IsUser: true}
}

// AssistantTurn is shorthand for an assistant NewMessage produced by modelID.
func AssistantTurn(modelID, content string) NewMessage {
	return NewMessage{Content: content, ModelID: modelID}
}
