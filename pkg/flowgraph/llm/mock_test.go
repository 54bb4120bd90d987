package llm_test

import (
	"context"
	"errors"
	"testing"

	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
	"github.com/randalmurphal/convograph/pkg/flowgraph/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_FixedResponse(t *testing.T) {
	mock := llm.NewMockClient("Hello, world!")

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestMockClient_SequentialResponses(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses("first", "second", "third")

	// First call
	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	// Second call
	resp, err = mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// Third call
	resp, err = mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "third", resp.Content)

	// Cycles back
	resp, err = mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)
}

func TestMockClient_WithError(t *testing.T) {
	expectedErr := errors.New("test error")
	mock := llm.NewMockClient("").WithError(expectedErr)

	_, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, expectedErr, err)
}

func TestMockClient_CallTracking(t *testing.T) {
	mock := llm.NewMockClient("response")

	req1 := llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "First question"}},
	}
	req2 := llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Second question"}},
	}

	_, _ = mock.Complete(context.Background(), req1)
	_, _ = mock.Complete(context.Background(), req2)

	assert.Equal(t, 2, mock.CallCount())
	assert.Len(t, mock.Calls, 2)
	assert.Equal(t, "First question", mock.Calls[0].Messages[0].Content)
	assert.Equal(t, "Second question", mock.Calls[1].Messages[0].Content)
}

func TestMockClient_LastCall(t *testing.T) {
	mock := llm.NewMockClient("response")

	// No calls yet
	assert.Nil(t, mock.LastCall())

	// Make a call
	req := llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	}
	_, _ = mock.Complete(context.Background(), req)

	lastCall := mock.LastCall()
	require.NotNil(t, lastCall)
	assert.Equal(t, "Hello", lastCall.Messages[0].Content)
}

func TestMockClient_Reset(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses("a", "b", "c")

	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{})
	_, _ = mock.Complete(context.Background(), llm.CompletionRequest{})

	mock.Reset()

	assert.Equal(t, 0, mock.CallCount())
	assert.Empty(t, mock.Calls)

	// Should start from first response again
	resp, _ := mock.Complete(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, "a", resp.Content)
}

func TestMockClient_CustomCompleteFunc(t *testing.T) {
	mock := llm.NewMockClient("").WithCompleteFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		// Echo the input back
		content := req.Messages[0].Content
		return &llm.CompletionResponse{
			Content: "Echo: " + content,
		}, nil
	})

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "test"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Echo: test", resp.Content)
}

func TestMockClient_Stream(t *testing.T) {
	mock := llm.NewMockClient("streaming response")

	ch, err := mock.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	var chunks []llm.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 2)
	assert.Equal(t, "streaming ", chunks[0].Content)
	assert.False(t, chunks[0].Done)
	assert.Equal(t, "response", chunks[1].Content)
	assert.True(t, chunks[1].Done)
	assert.NotNil(t, chunks[1].Usage)
}

func TestCollect_ForwardsTokens(t *testing.T) {
	mock := llm.NewMockClient("one two three")

	ch, err := mock.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	var tokens []string
	text, err := llm.Collect(ch, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", text)
	assert.Equal(t, []string{"one ", "two ", "three"}, tokens)
}

func TestCollect_StopsOnSinkError(t *testing.T) {
	mock := llm.NewMockClient("one two three")
	ch, err := mock.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	sinkErr := errors.New("client went away")
	text, err := llm.Collect(ch, func(string) error { return sinkErr })
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, "one ", text)
}

type intent struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func TestCompleteJSON(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		mock := llm.NewMockClient(`{"intent":"view_cart","confidence":0.9}`)
		out, err := llm.CompleteJSON[intent](context.Background(), mock, llm.UserPrompt("sys", "show my cart"))
		require.NoError(t, err)
		assert.Equal(t, intent{Intent: "view_cart", Confidence: 0.9}, out)
		assert.True(t, mock.LastCall().JSONMode)
	})

	t.Run("fenced object", func(t *testing.T) {
		mock := llm.NewMockClient("```json\n{\"intent\":\"faq\",\"confidence\":0.5}\n```")
		out, err := llm.CompleteJSON[intent](context.Background(), mock, llm.CompletionRequest{})
		require.NoError(t, err)
		assert.Equal(t, "faq", out.Intent)
	})

	t.Run("not json", func(t *testing.T) {
		mock := llm.NewMockClient("sure, here you go")
		_, err := llm.CompleteJSON[intent](context.Background(), mock, llm.CompletionRequest{})
		var parseErr *flowerrors.JSONParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "sure, here you go", parseErr.Input)
	})
}

func TestMockClient_StreamWithError(t *testing.T) {
	expectedErr := errors.New("stream error")
	mock := llm.NewMockClient("").WithError(expectedErr)

	_, err := mock.Stream(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, expectedErr, err)
}

func TestMockClient_ContextCancellation(t *testing.T) {
	mock := llm.NewMockClient("response")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := mock.Complete(ctx, llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockClient_TokenUsage(t *testing.T) {
	mock := llm.NewMockClient("some response text")

	resp, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	// Mock generates approximate token counts
	assert.Greater(t, resp.Usage.InputTokens, 0)
	assert.Greater(t, resp.Usage.OutputTokens, 0)
	assert.Equal(t, resp.Usage.InputTokens+resp.Usage.OutputTokens, resp.Usage.TotalTokens)
}
