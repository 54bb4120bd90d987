package flowgraph

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Context provides execution context to nodes.
// It extends context.Context with flowgraph-specific services and metadata.
//
// Context is immutable after creation. The executor creates derived contexts
// for each node with updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() NodeID

	// Path returns the chain of enclosing nodes when running inside a
	// sub-graph, outermost first. Empty for a top-level graph.
	Path() []NodeID

	// Observers returns the observers notified of node execution.
	Observers() []Observer
}

// Observer receives node lifecycle notifications from every graph run
// sharing a Context, including nested sub-graph runs.
//
// Observers are called synchronously on the executing goroutine.
type Observer interface {
	// NodeStarted is called before a node function runs.
	NodeStarted(ctx Context, id NodeID)

	// NodeFinished is called after a node function returns, with the state
	// it returned (as any) and its error.
	NodeFinished(ctx Context, id NodeID, state any, err error)
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	base      *slog.Logger
	logger    *slog.Logger
	runID     string
	nodeID    NodeID
	path      []NodeID
	observers []Observer
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// RunID returns the run identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() NodeID {
	return c.nodeID
}

// Path returns the enclosing node chain.
func (c *executionContext) Path() []NodeID {
	return c.path
}

// Observers returns the registered observers.
func (c *executionContext) Observers() []Observer {
	return c.observers
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with run_id and node_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID will be auto-generated.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) ContextOption {
	return func(c *executionContext) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// NewContext creates an execution context from a standard context.
// The returned Context wraps the provided context.Context and adds
// flowgraph-specific services and metadata.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithLogger(myLogger),
//	    flowgraph.WithContextRunID("run-123"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}

	for _, opt := range opts {
		opt(ec)
	}
	ec.base = ec.logger

	return ec
}

// asExecutionContext adopts an arbitrary Context implementation so the
// executor can derive per-node contexts from it.
func asExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{
		Context:   ctx,
		base:      ctx.Logger(),
		logger:    ctx.Logger(),
		runID:     ctx.RunID(),
		nodeID:    ctx.NodeID(),
		path:      ctx.Path(),
		observers: ctx.Observers(),
	}
}

// withNodeID returns a new context with the given node ID set.
// Used internally by the executor to enrich the context per-node.
func (c *executionContext) withNodeID(nodeID NodeID) *executionContext {
	return &executionContext{
		Context:   c.Context,
		base:      c.base,
		logger:    c.base.With("run_id", c.runID, "node_id", qualified(c.path, nodeID)),
		runID:     c.runID,
		nodeID:    nodeID,
		path:      c.path,
		observers: c.observers,
	}
}

// nested returns the context a sub-graph run starts from: the current node
// becomes part of the path and the node ID is reset.
func (c *executionContext) nested() *executionContext {
	if c.nodeID == "" {
		return c
	}
	path := make([]NodeID, len(c.path), len(c.path)+1)
	copy(path, c.path)
	return &executionContext{
		Context:   c.Context,
		base:      c.base,
		logger:    c.logger,
		runID:     c.runID,
		path:      append(path, c.nodeID),
		observers: c.observers,
	}
}

func qualified(path []NodeID, id NodeID) string {
	if len(path) == 0 {
		return string(id)
	}
	parts := make([]string, 0, len(path)+1)
	for _, p := range path {
		parts = append(parts, string(p))
	}
	return strings.Join(append(parts, string(id)), "/")
}

// withStdContext swaps the underlying context.Context, keeping all
// flowgraph metadata. Used to carry trace spans into nodes.
func (c *executionContext) withStdContext(std context.Context) *executionContext {
	cp := *c
	cp.Context = std
	return &cp
}
