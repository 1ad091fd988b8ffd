package timeline

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
)

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset int, isUser bool, modelID, content string) chat.Message {
	ts := base.Add(time.Duration(offset) * time.Second)
	return chat.Message{ID: id, SessionID: "s1", Content: content, IsUser: isUser, ModelID: modelID, Timestamp: ts, CreatedAt: ts}
}

func history() []chat.Message {
	return []chat.Message{
		msg("u1", 0, true, "", "Hello"),
		msg("a1", 1, false, "m1", "Hi from m1"),
		msg("a2", 2, false, "m2", "Hi from m2"),
		msg("u2", 3, true, "", "More"),
		msg("a3", 4, false, "m1", "More from m1"),
	}
}

func contents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestForModelMergesUserTurnsAndOwnAnswers(t *testing.T) {
	msgs := history()
	// out of order on purpose
	msgs[0], msgs[4] = msgs[4], msgs[0]

	assert.Equal(t, []string{"Hello", "Hi from m1", "More", "More from m1"}, contents(ForModel("m1", msgs)))
	assert.Equal(t, []string{"Hello", "Hi from m2", "More"}, contents(ForModel("m2", msgs)))
	assert.Equal(t, []string{"Hello", "More"}, contents(ForModel("m3", msgs)))
}

func TestBuildRestoresPanes(t *testing.T) {
	v := New(nil)
	v.Build([]string{"m1", "m3", "m1"}, history())

	assert.Equal(t, []string{"m1", "m3"}, v.Selected())

	p, ok := v.Pane("m1")
	require.True(t, ok)
	assert.Equal(t, Rendered, p.State)
	assert.Len(t, p.Entries, 4)

	empty := New([]string{"m9"})
	p, ok = empty.Pane("m9")
	require.True(t, ok)
	assert.Equal(t, Idle, p.State)
	assert.Empty(t, p.Entries)
}

func TestRoundLifecycle(t *testing.T) {
	v := New([]string{"m1", "m2", "m3"})

	round := v.BeginRound(msg("u1", 0, true, "", "Hello"))
	for _, p := range v.Panes() {
		assert.Equal(t, AwaitingResponse, p.State, p.ModelID)
		require.Len(t, p.Entries, 1)
		assert.True(t, p.Entries[0].IsUser)
	}

	assert.True(t, v.Apply(round, chat.Succeeded("m1", "Hi from m1")))
	assert.True(t, v.Apply(round, chat.Failed("m2", "Network error")))

	p1, _ := v.Pane("m1")
	assert.Equal(t, Rendered, p1.State)
	assert.Equal(t, []string{"Hello", "Hi from m1"}, contents(p1.Entries))

	p2, _ := v.Pane("m2")
	assert.Equal(t, Failed, p2.State)
	require.Len(t, p2.Entries, 2)
	assert.Equal(t, "Network error", p2.Entries[1].Error)

	p3, _ := v.Pane("m3")
	assert.Equal(t, AwaitingResponse, p3.State, "one failure must not touch other panes")
	assert.Len(t, p3.Entries, 1)
}

func TestApplyIgnoresStaleAndForeignResults(t *testing.T) {
	v := New([]string{"m1", "m2"})

	first := v.BeginRound(msg("u1", 0, true, "", "first"))
	second := v.BeginRound(msg("u2", 1, true, "", "second"))

	assert.False(t, v.Apply(first, chat.Succeeded("m1", "late answer")))
	assert.False(t, v.Apply(second, chat.Succeeded("m9", "not selected")))
	assert.True(t, v.Apply(second, chat.Succeeded("m1", "answer")))
	assert.False(t, v.Apply(second, chat.Succeeded("m1", "duplicate")))

	p, _ := v.Pane("m1")
	assert.Equal(t, []string{"first", "second", "answer"}, contents(p.Entries))
}

func TestDeselectDropsHistoryAndReloadRestoresIt(t *testing.T) {
	v := New(nil)
	v.Build([]string{"m1", "m2"}, history())

	round := v.BeginRound(msg("u3", 10, true, "", "Third"))
	require.True(t, v.Deselect("m2"))
	assert.False(t, v.Deselect("m2"))
	assert.False(t, v.Apply(round, chat.Succeeded("m2", "too late")))

	require.True(t, v.Select("m2"))
	assert.False(t, v.Select("m2"))
	p, _ := v.Pane("m2")
	assert.Equal(t, Idle, p.State)
	assert.Empty(t, p.Entries)
	assert.False(t, v.Apply(round, chat.Succeeded("m2", "still too late")))

	v.Reload(history())
	p, _ = v.Pane("m2")
	assert.Equal(t, []string{"Hello", "Hi from m2", "More"}, contents(p.Entries))
	assert.Equal(t, []string{"m1", "m2"}, v.Selected())
}

func TestResetClearsPanes(t *testing.T) {
	v := New(nil)
	v.Build([]string{"m1"}, history())
	round := v.BeginRound(msg("u3", 10, true, "", "Third"))

	v.Reset()

	p, _ := v.Pane("m1")
	assert.Equal(t, Idle, p.State)
	assert.Empty(t, p.Entries)
	assert.False(t, v.Apply(round, chat.Succeeded("m1", "abandoned")))
}

func TestPaneSnapshotIsIsolated(t *testing.T) {
	v := New([]string{"m1"})
	v.BeginRound(msg("u1", 0, true, "", "Hello"))

	p, _ := v.Pane("m1")
	p.Entries[0].Content = "mutated"

	again, _ := v.Pane("m1")
	assert.Equal(t, "Hello", again.Entries[0].Content)
}

func TestConcurrentApply(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	v := New(ids)
	round := v.BeginRound(msg("u1", 0, true, "", "Hello"))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			v.Apply(round, chat.Succeeded(id, "answer from "+id))
		}(id)
	}
	wg.Wait()

	for _, p := range v.Panes() {
		assert.Equal(t, Rendered, p.State, p.ModelID)
		assert.Len(t, p.Entries, 2)
	}
}

func TestPaneStateJSON(t *testing.T) {
	data, err := json.Marshal(Pane{ModelID: "m1", State: AwaitingResponse})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"awaiting_response"`)

	var p Pane
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, AwaitingResponse, p.State)

	var s PaneState
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
