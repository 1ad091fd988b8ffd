package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDefaultSelection(t *testing.T) {
	store := NewMemoryStore(Seed())

	assert.Equal(t, []string{
		"openai/gpt-5-chat",
		"deepseek/deepseek-r1-0528",
		"google/gemini-2.5-pro",
		"anthropic/claude-sonnet-4",
	}, store.DefaultSelection())
}

func TestFindByID(t *testing.T) {
	store := NewMemoryStore(Seed())

	m, ok := store.FindByID("google/gemini-2.5-pro")
	require.True(t, ok)
	assert.Equal(t, "Google", m.Provider)

	_, ok = store.FindByID("acme/unknown")
	assert.False(t, ok)
}

func TestNewMemoryStoreDropsDuplicatesAndFillsProvider(t *testing.T) {
	store := NewMemoryStore([]Model{
		{ID: "mistralai/mistral-large", Name: "Mistral Large"},
		{ID: "mistralai/mistral-large", Name: "dup"},
		{Name: "no id"},
	})

	list := store.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Mistral Large", list[0].Name)
	assert.Equal(t, "mistralai", list[0].Provider)
}

func TestMergeOnlyFillsBlankFields(t *testing.T) {
	store := NewMemoryStore([]Model{
		{ID: "a/one", Name: "One"},
		{ID: "b/two", Name: "Two", Description: "curated"},
	})

	changed := store.Merge([]Model{
		{ID: "a/one", Name: "Remote One", Description: "from remote"},
		{ID: "b/two", Description: "remote"},
		{ID: "c/three", Name: "ignored"},
	})

	assert.Equal(t, 1, changed)
	one, _ := store.FindByID("a/one")
	assert.Equal(t, "One", one.Name)
	assert.Equal(t, "from remote", one.Description)
	two, _ := store.FindByID("b/two")
	assert.Equal(t, "curated", two.Description)
	_, ok := store.FindByID("c/three")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := []byte(`models:
  - id: openai/gpt-4o
    name: GPT-4o
    provider: OpenAI
    default: true
  - id: qwen/qwen3-coder
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	models, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.True(t, models[0].Default)
	assert.Empty(t, models[1].Name)

	store := NewMemoryStore(models)
	assert.Equal(t, []string{"openai/gpt-4o"}, store.DefaultSelection())
	coder, ok := store.FindByID("qwen/qwen3-coder")
	require.True(t, ok)
	assert.Equal(t, "qwen/qwen3-coder", coder.Name)
	assert.Equal(t, "qwen/qwen3-coder", store.List()[1].Name)
}

func TestMergeNamesModelsLoadedWithoutName(t *testing.T) {
	models, err := Parse([]byte("models:\n  - id: qwen/qwen3-coder\n"))
	require.NoError(t, err)
	store := NewMemoryStore(models)

	changed := store.Merge([]Model{{ID: "qwen/qwen3-coder", Name: "Qwen3 Coder"}})

	assert.Equal(t, 1, changed)
	coder, _ := store.FindByID("qwen/qwen3-coder")
	assert.Equal(t, "Qwen3 Coder", coder.Name)
}

func TestParseRejectsMissingID(t *testing.T) {
	_, err := Parse([]byte("models:\n  - name: nameless\n"))
	assert.Error(t, err)
}
