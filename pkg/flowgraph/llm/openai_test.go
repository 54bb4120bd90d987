package llm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
	"github.com/randalmurphal/convograph/pkg/flowgraph/llm"
)

// chatServer fakes the chat completions endpoint and records request bodies.
func chatServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv, bodies := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "c1", "object": "chat.completion", "model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"intent\":\"view_cart\"}"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`)
	})

	client := llm.NewOpenAIClient("sk-test", llm.WithBaseURL(srv.URL), llm.WithModel("test-model"))
	req := llm.UserPrompt("classify", "show my cart")
	req.JSONMode = true

	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, `{"intent":"view_cart"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 17, resp.Usage.TotalTokens)

	require.Len(t, *bodies, 1)
	body := (*bodies)[0]
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "show my cart", messages[1].(map[string]any)["content"])
}

func TestOpenAIClient_ErrorsAreCategorized(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error": {"message": "nope", "type": "server_error"}}`)
			})

			client := llm.NewOpenAIClient("sk-test", llm.WithBaseURL(srv.URL))
			_, err := client.Complete(context.Background(), llm.UserPrompt("", "hi"))

			require.Error(t, err)
			assert.ErrorIs(t, err, llm.ErrModelCall)
			var httpErr *flowerrors.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.retryable, flowerrors.IsRetryable(err))
		})
	}
}

func TestOpenAIClient_Stream(t *testing.T) {
	srv, bodies := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hello", " there"} {
			fmt.Fprintf(w, "data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	client := llm.NewOpenAIClient("sk-test", llm.WithBaseURL(srv.URL))
	ch, err := client.Stream(context.Background(), llm.UserPrompt("", "hi"))
	require.NoError(t, err)

	var tokens []string
	text, err := llm.Collect(ch, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)
	assert.Equal(t, []string{"Hello", " there"}, tokens)
	assert.Equal(t, true, (*bodies)[0]["stream"])
}
