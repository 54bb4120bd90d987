// Package model wraps an llm.Client with the resilience policy every
// conversation node shares: a per-call deadline, retries with exponential
// backoff for transient failures, and a circuit breaker per service.
//
// Text streams its reply through the TokenSink carried by the context when
// the sink allows the calling node; otherwise it makes a plain completion.
package model

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/convograph/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
	"github.com/randalmurphal/convograph/pkg/flowgraph/llm"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// ErrUnavailable is returned by a Model with no client.
var ErrUnavailable = errors.New("model unavailable")

// DefaultTimeout bounds one model attempt.
const DefaultTimeout = 30 * time.Second

// Model is a resilient language model handle. A nil *Model is valid and
// always fails with ErrUnavailable, so nodes fall back to fixed text.
type Model struct {
	client  llm.Client
	handler *flowerrors.Handler
}

type config struct {
	name        string
	retry       flowerrors.RetryConfig
	threshold   int
	recovery    time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	onExhausted func(error)
}

// Option configures a Model.
type Option func(*config)

// WithName names the service in logs and breaker state. Defaults to "llm".
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithRetry sets the retry policy.
func WithRetry(cfg flowerrors.RetryConfig) Option {
	return func(c *config) { c.retry = cfg }
}

// WithBreaker sets the breaker's failure threshold and recovery window.
// A threshold of zero disables the breaker.
func WithBreaker(threshold int, recovery time.Duration) Option {
	return func(c *config) {
		c.threshold = threshold
		c.recovery = recovery
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithLogger sets the logger for retry and failure reports.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOnExhausted is called with the final error of every failed call.
func WithOnExhausted(fn func(error)) Option {
	return func(c *config) { c.onExhausted = fn }
}

// New wraps client.
func New(client llm.Client, opts ...Option) *Model {
	cfg := config{
		name:      "llm",
		retry:     flowerrors.DefaultRetry,
		threshold: flowerrors.DefaultBreakerThreshold,
		recovery:  flowerrors.DefaultBreakerRecovery,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	hopts := []flowerrors.HandlerOption{
		flowerrors.WithRetryConfig(cfg.retry),
		flowerrors.WithTimeout(cfg.timeout),
		flowerrors.WithLogger(cfg.logger),
	}
	if cfg.threshold > 0 {
		hopts = append(hopts, flowerrors.WithBreaker(flowerrors.NewCircuitBreaker(cfg.threshold, cfg.recovery)))
	}
	if cfg.onExhausted != nil {
		hopts = append(hopts, flowerrors.WithOnExhausted(cfg.onExhausted))
	}

	return &Model{
		client:  client,
		handler: flowerrors.NewHandler(cfg.name, hopts...),
	}
}

// Breaker returns the model's circuit breaker, or nil.
func (m *Model) Breaker() *flowerrors.CircuitBreaker {
	if m == nil {
		return nil
	}
	return m.handler.Breaker()
}

// Text renders p and returns the model's reply, trimmed.
func (m *Model) Text(ctx flowgraph.Context, p template.Prompt, vars map[string]any) (string, error) {
	if m == nil || m.client == nil {
		return "", ErrUnavailable
	}
	system, user, err := p.Render(vars)
	if err != nil {
		return "", err
	}
	req := llm.UserPrompt(system, user)

	sink := sinkFrom(ctx)
	node := ctx.NodeID()
	if sink == nil || !sink.Allow(node) {
		res := flowerrors.Execute(ctx, m.handler, func(ctx context.Context) (string, error) {
			resp, err := m.client.Complete(ctx, req)
			if err != nil {
				return "", err
			}
			return resp.Content, nil
		})
		return strings.TrimSpace(res.Value), res.Err
	}

	res := flowerrors.Execute(ctx, m.handler, func(ctx context.Context) (string, error) {
		ch, err := m.client.Stream(ctx, req)
		if err != nil {
			return "", err
		}
		emitted := false
		text, err := llm.Collect(ch, func(tok string) error {
			emitted = true
			return sink.Token(node, tok)
		})
		if err != nil && emitted {
			// Tokens already reached the client; a retry would repeat them.
			return text, flowerrors.Permanent(err, "stream interrupted")
		}
		return text, err
	})
	return strings.TrimSpace(res.Value), res.Err
}

// TextOr is Text with a fixed fallback for any failure or an empty reply.
func (m *Model) TextOr(ctx flowgraph.Context, p template.Prompt, vars map[string]any, fallback string) string {
	text, err := m.Text(ctx, p, vars)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			ctx.Logger().Warn("model reply failed, using fallback", "prompt", p.Name, "err", err)
		}
		return fallback
	}
	if text == "" {
		return fallback
	}
	return text
}

// JSON renders p, asks for a JSON reply and decodes it into T. Decode
// failures are not retried.
func JSON[T any](ctx flowgraph.Context, m *Model, p template.Prompt, vars map[string]any) (T, error) {
	var zero T
	if m == nil || m.client == nil {
		return zero, ErrUnavailable
	}
	system, user, err := p.Render(vars)
	if err != nil {
		return zero, err
	}
	req := llm.UserPrompt(system, user)

	res := flowerrors.Execute(ctx, m.handler, func(ctx context.Context) (T, error) {
		return llm.CompleteJSON[T](ctx, m.client, req)
	})
	return res.Value, res.Err
}
