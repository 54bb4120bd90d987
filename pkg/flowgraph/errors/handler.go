package errors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// Handler guards calls to one collaborator (a model, a database) with a
// per-attempt deadline, retries for transient failures and a circuit
// breaker shared by every caller.
type Handler struct {
	name        string
	retry       RetryConfig
	breaker     *CircuitBreaker
	timeout     time.Duration
	logger      *slog.Logger
	onExhausted func(err error)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// NewHandler creates a handler for the named collaborator.
func NewHandler(name string, opts ...HandlerOption) *Handler {
	h := &Handler{
		name:    name,
		retry:   DefaultRetry,
		breaker: NewCircuitBreaker(DefaultBreakerThreshold, DefaultBreakerRecovery),
		timeout: 30 * time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) HandlerOption {
	return func(h *Handler) {
		h.retry = cfg
	}
}

// WithBreaker replaces the circuit breaker. A nil breaker disables circuit breaking.
func WithBreaker(b *CircuitBreaker) HandlerOption {
	return func(h *Handler) {
		h.breaker = b
	}
}

// WithTimeout sets the deadline applied to each attempt. Zero disables it.
func WithTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithOnExhausted sets a callback for when a call finally fails.
func WithOnExhausted(fn func(err error)) HandlerOption {
	return func(h *Handler) {
		h.onExhausted = fn
	}
}

// Name returns the collaborator name.
func (h *Handler) Name() string {
	return h.name
}

// Breaker returns the handler's circuit breaker, or nil.
func (h *Handler) Breaker() *CircuitBreaker {
	return h.breaker
}

// ExecuteResult contains the result of a handled execution.
type ExecuteResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// Execute runs fn with full error handling.
func (h *Handler) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return Execute(ctx, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}).Err
}

// Execute runs fn with full error handling and returns its value.
//
// An open breaker fails the attempt with ErrCircuitOpen, which is never
// retried. An attempt that overruns the handler's timeout fails with a
// TimeoutError, which is.
func Execute[T any](ctx context.Context, h *Handler, fn func(ctx context.Context) (T, error)) ExecuteResult[T] {
	retry := h.retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			h.logger.Warn("retrying collaborator call",
				"service", h.name,
				"attempt", attempt,
				"wait_ms", wait.Milliseconds(),
				"err", err,
			)
		}
	}

	result := WithRetryContext(ctx, retry, func(ctx context.Context) (T, error) {
		return attempt(ctx, h, fn)
	})

	if result.Err != nil {
		h.logger.Error("collaborator call failed",
			"service", h.name,
			"attempts", result.Attempts,
			"err", result.Err,
		)
		if h.onExhausted != nil {
			h.onExhausted(result.Err)
		}
	}

	return ExecuteResult[T]{
		Value:    result.Value,
		Err:      result.Err,
		Attempts: result.Attempts,
		Duration: result.Duration,
	}
}

// attempt makes one breaker-guarded call under the handler's deadline.
// Only transient failures count against the breaker.
func attempt[T any](ctx context.Context, h *Handler, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if h.breaker != nil && !h.breaker.Allow() {
		return zero, ErrCircuitOpen
	}

	callCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	value, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = &wrappedTimeout{TimeoutError: TimeoutError{Operation: h.name, Duration: h.timeout.String()}, cause: err}
	}

	if h.breaker != nil {
		if err != nil && IsRetryable(err) {
			h.breaker.Failure()
		} else {
			h.breaker.Success()
		}
	}
	return value, err
}

// wrappedTimeout is a TimeoutError that keeps the collaborator's own error.
type wrappedTimeout struct {
	TimeoutError
	cause error
}

func (e *wrappedTimeout) Unwrap() []error {
	return []error{&e.TimeoutError, e.cause}
}
