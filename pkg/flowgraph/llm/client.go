// Package llm defines the language model client used by conversation nodes.
//
// Nodes depend on the Client interface. OpenAIClient talks to any
// OpenAI-compatible chat completions endpoint and MockClient serves tests
// and offline demos.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
)

// ErrModelCall marks a failed model call. Collaborator errors are wrapped
// with it so callers can tell model failures from their own.
var ErrModelCall = errors.New("model call failed")

// Client is a language model.
type Client interface {
	// Complete returns the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream returns reply fragments as they are generated. The channel is
	// closed after the chunk with Done set, or after a chunk carrying Error.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// CompleteJSON asks for a JSON reply and decodes it into T.
// A reply that is not valid JSON yields a *errors.JSONParseError.
func CompleteJSON[T any](ctx context.Context, c Client, req CompletionRequest) (T, error) {
	var out T
	req.JSONMode = true

	resp, err := c.Complete(ctx, req)
	if err != nil {
		return out, err
	}

	raw := stripFences(resp.Content)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, &flowerrors.JSONParseError{Input: resp.Content, Message: err.Error()}
	}
	return out, nil
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Collect drains a stream, calling onToken for every fragment, and returns
// the assembled reply.
func Collect(ch <-chan StreamChunk, onToken func(string) error) (string, error) {
	var b strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			return b.String(), chunk.Error
		}
		if chunk.Content != "" {
			b.WriteString(chunk.Content)
			if onToken != nil {
				if err := onToken(chunk.Content); err != nil {
					return b.String(), err
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	return b.String(), nil
}
