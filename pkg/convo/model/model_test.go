package model_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
	"github.com/randalmurphal/convograph/pkg/flowgraph/llm"
	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var greet = template.Prompt{
	Name:   "greet",
	System: "You are friendly.",
	User:   "Say hello to {name}.",
}

var fastRetry = flowerrors.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	BackoffFactor:  2,
}

func testLogger() *slog.Logger { return observability.NopLogger() }

type recordingSink struct {
	mu     sync.Mutex
	allow  map[flowgraph.NodeID]bool
	tokens []string
	fail   error
}

func (s *recordingSink) Allow(node flowgraph.NodeID) bool { return s.allow[node] }

func (s *recordingSink) Token(_ flowgraph.NodeID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.tokens = append(s.tokens, text)
	return nil
}

// runAt calls fn inside a one-node graph so the context carries a node ID.
func runAt(t *testing.T, ctx context.Context, node flowgraph.NodeID, fn func(flowgraph.Context) string) string {
	t.Helper()

	type out struct{ Text string }
	g, err := flowgraph.NewGraph[out]().
		AddNode(node, func(ctx flowgraph.Context, s out) (out, error) {
			s.Text = fn(ctx)
			return s, nil
		}).
		AddEdge(node, flowgraph.END).
		SetEntry(node).
		Compile()
	require.NoError(t, err)

	res, err := g.Run(flowgraph.NewContext(ctx, flowgraph.WithLogger(testLogger())), out{})
	require.NoError(t, err)
	return res.Text
}

func TestText_Complete(t *testing.T) {
	client := llm.NewMockClient("  Hello, Ada!  ")
	m := model.New(client)

	text := runAt(t, context.Background(), "speak", func(ctx flowgraph.Context) string {
		s, err := m.Text(ctx, greet, map[string]any{"name": "Ada"})
		require.NoError(t, err)
		return s
	})

	assert.Equal(t, "Hello, Ada!", text)
	require.Equal(t, 1, client.CallCount())
	assert.Equal(t, "You are friendly.", client.LastCall().SystemPrompt)
	assert.Equal(t, "Say hello to Ada.", client.LastCall().Messages[0].Content)
}

func TestText_StreamsOnlyAllowedNodes(t *testing.T) {
	sink := &recordingSink{allow: map[flowgraph.NodeID]bool{"speak": true}}
	ctx := model.WithTokenSink(context.Background(), sink)
	m := model.New(llm.NewMockClient("hello there friend"))

	speak := func(ctx flowgraph.Context) string {
		s, err := m.Text(ctx, greet, map[string]any{"name": "Ada"})
		require.NoError(t, err)
		return s
	}

	assert.Equal(t, "hello there friend", runAt(t, ctx, "speak", speak))
	assert.Equal(t, []string{"hello ", "there ", "friend"}, sink.tokens)

	sink.tokens = nil
	assert.Equal(t, "hello there friend", runAt(t, ctx, "extract", speak))
	assert.Empty(t, sink.tokens)
}

func TestText_SinkFailureIsNotRetried(t *testing.T) {
	sink := &recordingSink{allow: map[flowgraph.NodeID]bool{"speak": true}, fail: errors.New("client gone")}
	ctx := model.WithTokenSink(context.Background(), sink)
	client := llm.NewMockClient("hello there")
	m := model.New(client, model.WithRetry(fastRetry))

	runAt(t, ctx, "speak", func(ctx flowgraph.Context) string {
		_, err := m.Text(ctx, greet, map[string]any{"name": "Ada"})
		assert.Error(t, err)
		return ""
	})
	assert.Equal(t, 1, client.CallCount())
}

func TestText_RetriesTransient(t *testing.T) {
	calls := 0
	client := llm.NewMockClient("").WithCompleteFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		if calls < 3 {
			return nil, &flowerrors.HTTPError{StatusCode: 503, Message: "overloaded"}
		}
		return &llm.CompletionResponse{Content: "finally"}, nil
	})
	m := model.New(client, model.WithRetry(fastRetry), model.WithLogger(testLogger()))

	text := runAt(t, context.Background(), "speak", func(ctx flowgraph.Context) string {
		s, err := m.Text(ctx, greet, map[string]any{"name": "Ada"})
		require.NoError(t, err)
		return s
	})
	assert.Equal(t, "finally", text)
	assert.Equal(t, 3, calls)
}

func TestText_BreakerOpens(t *testing.T) {
	client := llm.NewMockClient("").WithError(&flowerrors.HTTPError{StatusCode: 503})
	m := model.New(client,
		model.WithRetry(flowerrors.NoRetry),
		model.WithBreaker(2, time.Hour),
		model.WithLogger(testLogger()),
	)

	var last error
	runAt(t, context.Background(), "speak", func(ctx flowgraph.Context) string {
		for i := 0; i < 3; i++ {
			_, last = m.Text(ctx, greet, map[string]any{"name": "Ada"})
		}
		return ""
	})

	assert.ErrorIs(t, last, flowerrors.ErrCircuitOpen)
	assert.Equal(t, 2, client.CallCount())
	assert.Equal(t, flowerrors.BreakerOpen, m.Breaker().State())
}

func TestTextOr_Fallback(t *testing.T) {
	var nilModel *model.Model
	ctx := flowgraph.NewContext(context.Background(), flowgraph.WithLogger(testLogger()))

	assert.Equal(t, "fixed", nilModel.TextOr(ctx, greet, map[string]any{"name": "Ada"}, "fixed"))

	m := model.New(llm.NewMockClient("   "))
	assert.Equal(t, "fixed", m.TextOr(ctx, greet, map[string]any{"name": "Ada"}, "fixed"))

	// A missing variable never reaches the client.
	client := llm.NewMockClient("hi")
	m = model.New(client)
	assert.Equal(t, "fixed", m.TextOr(ctx, greet, nil, "fixed"))
	assert.Zero(t, client.CallCount())
}

func TestJSON(t *testing.T) {
	type intent struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	ctx := flowgraph.NewContext(context.Background(), flowgraph.WithLogger(testLogger()))

	client := llm.NewMockClient("```json\n{\"intent\":\"faq\",\"confidence\":0.8}\n```")
	got, err := model.JSON[intent](ctx, model.New(client), greet, map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, intent{Intent: "faq", Confidence: 0.8}, got)
	assert.True(t, client.LastCall().JSONMode)

	bad := llm.NewMockClient("not json")
	_, err = model.JSON[intent](ctx, model.New(bad, model.WithRetry(fastRetry)), greet, map[string]any{"name": "x"})
	var perr *flowerrors.JSONParseError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, bad.CallCount())

	_, err = model.JSON[intent](ctx, nil, greet, nil)
	assert.ErrorIs(t, err, model.ErrUnavailable)
}

func TestSinkFrom_Missing(t *testing.T) {
	m := model.New(llm.NewMockClient("plain reply"))
	text := runAt(t, context.Background(), "speak", func(ctx flowgraph.Context) string {
		s, err := m.Text(ctx, greet, map[string]any{"name": "Ada"})
		require.NoError(t, err)
		return s
	})
	assert.True(t, strings.HasPrefix(text, "plain"))
}
