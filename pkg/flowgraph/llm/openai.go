package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"

	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements Client against an OpenAI-compatible chat
// completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// OpenAIOption configures OpenAIClient.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
}

// WithModel sets the default model.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithMaxTokens sets the default completion budget.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *openAIConfig) { c.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) OpenAIOption {
	return func(c *openAIConfig) { c.temperature = float32(t) }
}

// NewOpenAIClient creates a client authenticated with apiKey.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	cfg := openAIConfig{model: DefaultOpenAIModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	conf := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		conf.BaseURL = cfg.baseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(conf),
		model:       cfg.model,
		maxTokens:   cfg.maxTokens,
		temperature: cfg.temperature,
	}
}

func (c *OpenAIClient) buildRequest(req CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = c.temperature
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if req.JSONMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrModelCall)
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Duration:     time.Since(start),
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	creq := c.buildRequest(req)
	creq.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, classify(err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(StreamChunk{Done: true})
				return
			}
			if err != nil {
				send(StreamChunk{Error: classify(err)})
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !send(StreamChunk{Content: choice.Delta.Content}) {
					return
				}
			}
		}
	}()
	return ch, nil
}

// classify maps provider errors onto the categories the retry layer
// understands, keeping ErrModelCall in the chain.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", ErrModelCall, &flowerrors.HTTPError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Endpoint:   "chat/completions",
		})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %w", ErrModelCall, &flowerrors.HTTPError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Endpoint:   "chat/completions",
		})
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrModelCall, flowerrors.Transient(err, "chat/completions"))
	}
	return fmt.Errorf("%w: %w", ErrModelCall, err)
}
