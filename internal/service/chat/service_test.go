package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/polymind/backend/internal/service/chat"
	"github.com/zhouzirui/polymind/backend/internal/service/dispatch"
)

type echoGenerator struct {
	fail map[string]string
}

func (g echoGenerator) Generate(_ context.Context, modelID, message string) chat.GenerationResult {
	if reason, ok := g.fail[modelID]; ok {
		return chat.Failed(modelID, reason)
	}
	return chat.Succeeded(modelID, modelID+" says: "+message)
}

func newService(store chatservice.Store, gen dispatch.Generator) *chatservice.Service {
	return chatservice.NewService(store, dispatch.NewCoordinator(gen, nil), nil)
}

// failingStore rejects writes after the session has been created.
type failingStore struct {
	*chatservice.MemoryStore
	failAppend bool
	failCreate bool
}

func (s *failingStore) CreateSession(ctx context.Context, userID, title string) (chat.Session, error) {
	if s.failCreate {
		return chat.Session{}, errors.New("store unreachable")
	}
	return s.MemoryStore.CreateSession(ctx, userID, title)
}

func (s *failingStore) AppendMessages(ctx context.Context, userID, sessionID string, messages []chat.NewMessage) ([]chat.Message, error) {
	if s.failAppend {
		return nil, errors.New("write rejected")
	}
	return s.MemoryStore.AppendMessages(ctx, userID, sessionID, messages)
}

func TestSendMessageCreatesSessionWithDerivedTitle(t *testing.T) {
	store := chatservice.NewMemoryStore()
	svc := newService(store, echoGenerator{})
	msg := "This is a very long message that exceeds fifty characters in total length"

	round, err := svc.SendMessage(context.Background(), chat.SessionContext{UserID: "alice"}, msg, []string{"m1"}, nil)
	require.NoError(t, err)

	require.NotNil(t, round.Session)
	assert.Equal(t, msg[:50]+"...", round.Session.Title)
	assert.Equal(t, round.Session.ID, round.Context.SessionID)
	assert.True(t, round.Persisted)
}

func TestSendMessageTwoRoundsAppendUserAndAnswers(t *testing.T) {
	store := chatservice.NewMemoryStore()
	svc := newService(store, echoGenerator{})
	ctx := context.Background()

	sc := chat.SessionContext{UserID: "alice"}
	first, err := svc.SendMessage(ctx, sc, "Hello", []string{"m1", "m2", "m3"}, nil)
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, first.Context, "And again", []string{"m1", "m2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Context.SessionID, second.Context.SessionID)

	got, err := store.GetSessionWithMessages(ctx, "alice", first.Context.SessionID)
	require.NoError(t, err)
	require.Len(t, got.Messages, (1+3)+(1+2))

	users := 0
	for _, m := range got.Messages {
		if m.IsUser {
			users++
			assert.Empty(t, m.ModelID)
		} else {
			assert.NotEmpty(t, m.ModelID)
		}
	}
	assert.Equal(t, 2, users)
	assert.True(t, got.Messages[0].IsUser)
	assert.Equal(t, "Hello", got.Messages[0].Content)
	assert.True(t, got.Messages[4].IsUser)
	assert.Equal(t, "And again", got.Messages[4].Content)
}

func TestSendMessageOnlyPersistsSuccessfulAnswers(t *testing.T) {
	store := chatservice.NewMemoryStore()
	svc := newService(store, echoGenerator{fail: map[string]string{"m2": "Network error"}})

	round, err := svc.SendMessage(context.Background(), chat.SessionContext{UserID: "alice"}, "Hello", []string{"m1", "m2"}, nil)
	require.NoError(t, err)

	require.Len(t, round.Results, 2)
	assert.False(t, round.Results[1].Succeeded)
	require.Len(t, round.Saved, 1)
	assert.Equal(t, "m1", round.Saved[0].ModelID)

	got, err := store.GetSessionWithMessages(context.Background(), "alice", round.Context.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
}

func TestSendMessageWithoutUserSkipsPersistence(t *testing.T) {
	store := chatservice.NewMemoryStore()
	svc := newService(store, echoGenerator{})

	round, err := svc.SendMessage(context.Background(), chat.SessionContext{}, "Hello", []string{"m1"}, nil)
	require.NoError(t, err)

	assert.Nil(t, round.Session)
	assert.Empty(t, round.Context.SessionID)
	assert.False(t, round.Persisted)
	require.Len(t, round.Results, 1)
	assert.True(t, round.Results[0].Succeeded)
}

func TestSendMessagePersistenceFailureIsBestEffort(t *testing.T) {
	store := &failingStore{MemoryStore: chatservice.NewMemoryStore(), failAppend: true}
	svc := newService(store, echoGenerator{})

	round, err := svc.SendMessage(context.Background(), chat.SessionContext{UserID: "alice"}, "Hello", []string{"m1", "m2"}, nil)
	require.NoError(t, err)

	assert.False(t, round.Persisted)
	require.Len(t, round.Results, 2)
	assert.True(t, round.Results[0].Succeeded)
	assert.True(t, round.Results[1].Succeeded)
	assert.Equal(t, "Hello", round.UserMessage.Content)
}

func TestSendMessageSessionCreationFailureStillAnswers(t *testing.T) {
	store := &failingStore{MemoryStore: chatservice.NewMemoryStore(), failCreate: true}
	svc := newService(store, echoGenerator{})

	round, err := svc.SendMessage(context.Background(), chat.SessionContext{UserID: "alice"}, "Hello", []string{"m1"}, nil)
	require.NoError(t, err)
	assert.Nil(t, round.Session)
	assert.False(t, round.Persisted)
	assert.True(t, round.Results[0].Succeeded)
}

func TestSendMessageUnknownSession(t *testing.T) {
	svc := newService(chatservice.NewMemoryStore(), echoGenerator{})

	_, err := svc.SendMessage(context.Background(), chat.SessionContext{UserID: "alice", SessionID: "missing"}, "Hello", []string{"m1"}, nil)
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestSendMessageValidation(t *testing.T) {
	svc := newService(chatservice.NewMemoryStore(), echoGenerator{})

	_, err := svc.SendMessage(context.Background(), chat.SessionContext{UserID: "alice"}, "Hi", nil, nil)
	assert.ErrorIs(t, err, dispatch.ErrNoModels)

	list, err := svc.Store().ListSessions(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, list, "rejected rounds must not create sessions")
}

func TestSendMessageHooksFireInOrder(t *testing.T) {
	svc := newService(chatservice.NewMemoryStore(), echoGenerator{})

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	_, err := svc.SendMessage(context.Background(), chat.SessionContext{UserID: "alice"}, "Hello", []string{"m1", "m2"}, &chatservice.RoundHooks{
		OnSession:     func(chat.Session) { record("session") },
		OnUserMessage: func(chat.Message) { record("user") },
		OnResult:      func(_ int, r chat.GenerationResult) { record("result:" + r.ModelID) },
	})
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, "session", events[0])
	assert.Equal(t, "user", events[1])
	assert.ElementsMatch(t, []string{"result:m1", "result:m2"}, events[2:])
}
