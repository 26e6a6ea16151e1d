package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/advisor/internal/cost"
	"github.com/grantscope/advisor/internal/resilience"
	"github.com/grantscope/advisor/pkg/anthropic"
	anthropicmocks "github.com/grantscope/advisor/pkg/anthropic/mocks"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"prose around object", "Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
		{"array first", "result: [{\"x\":1},{\"x\":2}] done", `[{"x":1},{"x":2}]`},
		{"no json", "  nothing here ", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

func TestGenerateJSON(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes fenced output", func(t *testing.T) {
		gen := GeneratorFunc(func(context.Context, string, string) (string, error) {
			return "```json\n{\"subjects\":[\"stem\"]}\n```", nil
		})
		var out map[string][]string
		require.NoError(t, GenerateJSON(ctx, gen, "sys", "user", &out))
		assert.Equal(t, []string{"stem"}, out["subjects"])
	})

	t.Run("malformed output is distinguishable", func(t *testing.T) {
		gen := GeneratorFunc(func(context.Context, string, string) (string, error) {
			return "{not json", nil
		})
		var out map[string]any
		err := GenerateJSON(ctx, gen, "sys", "user", &out)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrMalformedJSON))
	})

	t.Run("transport error passes through", func(t *testing.T) {
		boom := errors.New("boom")
		gen := GeneratorFunc(func(context.Context, string, string) (string, error) { return "", boom })
		var out map[string]any
		err := GenerateJSON(ctx, gen, "sys", "user", &out)
		require.Error(t, err)
		assert.False(t, eris.Is(err, ErrMalformedJSON))
	})

	t.Run("nil generator", func(t *testing.T) {
		var out map[string]any
		assert.True(t, eris.Is(GenerateJSON(ctx, nil, "s", "u", &out), ErrUnavailable))
	})
}

func TestStage(t *testing.T) {
	assert.Equal(t, "unknown", StageFrom(context.Background()))
	assert.Equal(t, "plan", StageFrom(WithStage(context.Background(), "plan")))
}

func TestOffline(t *testing.T) {
	_, err := Offline{}.Generate(context.Background(), "s", "u")
	assert.True(t, eris.Is(err, ErrUnavailable))
}

func fastPolicy(attempts int) resilience.Policy {
	return resilience.Policy{Retry: resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}}
}

func TestAnthropicGenerator_RecordsCost(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929" &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 && req.Messages[0].Content == "question"
	})).Return(&anthropic.MessageResponse{
		Model:   "claude-sonnet-4-5-20250929",
		Content: []anthropic.ContentBlock{{Type: "text", Text: "  answer "}},
		Usage:   anthropic.TokenUsage{InputTokens: 1_000_000},
	}, nil).Once()

	ledger := cost.NewLedger(cost.NewCalculator(cost.DefaultRates()))
	gen := NewAnthropicGenerator(client, AnthropicConfig{
		Model:             "claude-sonnet-4-5-20250929",
		CacheTTL:          "5m",
		RequestsPerSecond: 100,
	}, fastPolicy(1), ledger)

	out, err := gen.Generate(WithStage(context.Background(), "synthesize"), "system", "question")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	entries := ledger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "synthesize", entries[0].Stage)
	assert.InDelta(t, 3.0, entries[0].USD, 1e-9)
}

func TestAnthropicGenerator_RetriesTransient(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("Overloaded")).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: "ok"}}}, nil).Once()

	gen := NewAnthropicGenerator(client, AnthropicConfig{Model: "m"}, fastPolicy(3), nil)
	out, err := gen.Generate(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestAnthropicGenerator_EmptyCompletion(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&anthropic.MessageResponse{}, nil).Once()

	gen := NewAnthropicGenerator(client, AnthropicConfig{Model: "m"}, fastPolicy(1), nil)
	_, err := gen.Generate(context.Background(), "s", "u")
	assert.Error(t, err)
}

func TestAnthropicGenerator_PermanentErrorNotRetried(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("invalid x-api-key")).Once()

	gen := NewAnthropicGenerator(client, AnthropicConfig{Model: "m"}, fastPolicy(3), nil)
	_, err := gen.Generate(context.Background(), "s", "u")
	assert.Error(t, err)
}
