package ai

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
)

type fakeChatModel struct {
	reply    string
	err      error
	panicVal any
	prompts  []string
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if m.panicVal != nil {
		panic(m.panicVal)
	}
	for _, msg := range input {
		m.prompts = append(m.prompts, msg.Content)
	}
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func providerOf(models map[string]*fakeChatModel) ProviderFunc {
	return func(_ context.Context, modelID string) (model.BaseChatModel, error) {
		m, ok := models[modelID]
		if !ok {
			return nil, errors.New("unknown model " + modelID)
		}
		return m, nil
	}
}

func TestGenerateSuccess(t *testing.T) {
	m1 := &fakeChatModel{reply: "Hi"}
	gw := NewGateway(providerOf(map[string]*fakeChatModel{"m1": m1}), nil)

	result := gw.Generate(context.Background(), "m1", "Hello {name}")

	require.True(t, result.Succeeded)
	assert.Equal(t, "m1", result.ModelID)
	assert.Equal(t, "Hi", result.Content)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.ID)
	assert.False(t, result.Timestamp.IsZero())
	assert.Equal(t, []string{"Hello {name}"}, m1.prompts)
}

func TestGenerateRemoteFailure(t *testing.T) {
	gw := NewGateway(providerOf(map[string]*fakeChatModel{
		"m2": {err: errors.New("Network error")},
	}), nil)

	result := gw.Generate(context.Background(), "m2", "Hello")

	assert.False(t, result.Succeeded)
	assert.Empty(t, result.Content)
	assert.Contains(t, result.Error, "Network error")
	assert.True(t, result.Valid())
}

func TestGenerateUnknownModel(t *testing.T) {
	gw := NewGateway(providerOf(nil), nil)

	result := gw.Generate(context.Background(), "acme/missing", "Hello")

	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Error, "unknown model acme/missing")
}

func TestGenerateEmptyReplyIsFailure(t *testing.T) {
	gw := NewGateway(providerOf(map[string]*fakeChatModel{"m1": {reply: "  "}}), nil)

	result := gw.Generate(context.Background(), "m1", "Hello")

	assert.False(t, result.Succeeded)
	assert.True(t, result.Valid())
}

func TestGenerateBlankMessage(t *testing.T) {
	gw := NewGateway(providerOf(map[string]*fakeChatModel{"m1": {reply: "Hi"}}), nil)

	result := gw.Generate(context.Background(), "m1", "   ")

	assert.False(t, result.Succeeded)
	assert.Equal(t, "message is required", result.Error)
}

func TestGeneratePanicBecomesFailure(t *testing.T) {
	gw := NewGateway(ProviderFunc(func(context.Context, string) (model.BaseChatModel, error) {
		panic("provider exploded")
	}), nil)

	result := gw.Generate(context.Background(), "m1", "Hello")

	assert.False(t, result.Succeeded)
	assert.Equal(t, "provider exploded", result.Error)
}

func TestGatewayCachesChainsPerModel(t *testing.T) {
	var built atomic.Int32
	gw := NewGateway(ProviderFunc(func(context.Context, string) (model.BaseChatModel, error) {
		built.Add(1)
		return &fakeChatModel{reply: "ok"}, nil
	}), nil)

	for range 3 {
		require.True(t, gw.Generate(context.Background(), "m1", "Hello").Succeeded)
	}
	require.True(t, gw.Generate(context.Background(), "m2", "Hello").Succeeded)

	assert.Equal(t, int32(2), built.Load())
}

func TestDescribeReturnsInnermostMessage(t *testing.T) {
	inner := errors.New("rate limited by upstream")
	wrapped := wrapErr{msg: "node failed", err: inner}

	assert.Equal(t, "rate limited by upstream", describe(wrapped))
	assert.Equal(t, "", describe(nil))
	assert.Equal(t, chat.UnknownError, chat.Failed("m", describe(nil)).Error)
}

type wrapErr struct {
	msg string
	err error
}

func (w wrapErr) Error() string { return w.msg + ": " + w.err.Error() }
func (w wrapErr) Unwrap() error { return w.err }
