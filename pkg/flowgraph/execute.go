package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// On error, returns the state at the point of failure (useful for debugging).
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation
//  3. Execute the current node
//  4. Determine the next node (via simple or conditional edge)
//  5. Repeat until END is reached or an error occurs
//
// When ctx is the Context of a running node, the run is nested: node IDs,
// logs and observer callbacks are scoped under that node.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, initialState)
//	if err != nil {
//	    // result contains state at point of failure
//	}
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (result S, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil {
		if cfg.threadID == "" {
			return state, ErrThreadIDRequired
		}
		seq, err := latestSequence(ctx, cfg.checkpointStore, cfg.threadID)
		if err != nil && cfg.checkpointFailureFatal {
			return state, &CheckpointError{NodeID: cg.entryPoint, Op: "load", Err: err}
		}
		cfg.sequence = seq
	}

	return cg.run(ctx, state, cg.entryPoint, &cfg)
}

// run wraps a traversal with run-level logging, metrics and tracing.
func (cg *CompiledGraph[S]) run(ctx Context, state S, startNode NodeID, cfg *runConfig) (result S, runErr error) {
	ec := asExecutionContext(ctx).nested()
	logger := ec.Logger()
	runID := ec.RunID()

	startTime := time.Now()
	observability.LogRunStart(logger, runID)

	if cfg.tracingEnabled {
		var spanCtx context.Context
		var runSpan trace.Span
		spanCtx, runSpan = cfg.spans.StartRunSpan(ec.Context, cfg.graphName, runID)
		ec = ec.withStdContext(spanCtx)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runFrom(ec, state, startNode, cfg)

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())

	cfg.metrics.RecordGraphRun(ec, runErr == nil, duration)

	if runErr != nil {
		observability.LogRunError(logger, runID, runErr, durationMs, string(FailedNode(runErr)))
	} else {
		observability.LogRunComplete(logger, runID, durationMs, nodeCount)
	}

	return result, runErr
}

// FailedNode returns the node a run stopped at, taken from the engine's
// typed errors. Returns "" for any other error.
func FailedNode(err error) NodeID {
	var nodeErr *NodeError
	var panicErr *PanicError
	var maxErr *MaxIterationsError
	var cancelErr *CancellationError
	var routerErr *RouterError
	switch {
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	}
	return ""
}

// runFrom executes the node loop starting at startNode.
// Returns the final state, node count, and any error.
func (cg *CompiledGraph[S]) runFrom(ec *executionContext, state S, startNode NodeID, cfg *runConfig) (S, int, error) {
	current := startNode
	iterations := 0
	nodeCount := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		select {
		case <-ec.Done():
			return state, nodeCount, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  ec.Err(),
			}
		default:
		}

		nodeCtx := ec.withNodeID(current)
		observability.LogNodeStart(nodeCtx.Logger(), string(current))

		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			var spanCtx context.Context
			spanCtx, nodeSpan = cfg.spans.StartNodeSpan(nodeCtx.Context, qualified(ec.path, current))
			nodeCtx = nodeCtx.withStdContext(spanCtx)
		}

		for _, o := range nodeCtx.observers {
			o.NodeStarted(nodeCtx, current)
		}

		nodeStart := time.Now()
		var nodeErr error
		state, nodeErr = cg.executeNode(nodeCtx, current, state)
		nodeDuration := time.Since(nodeStart)

		for _, o := range nodeCtx.observers {
			o.NodeFinished(nodeCtx, current, state, nodeErr)
		}

		cfg.metrics.RecordNodeExecution(nodeCtx, qualified(ec.path, current), nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(nodeCtx.Logger(), string(current), nodeErr)
			return state, nodeCount, nodeErr
		}
		observability.LogNodeComplete(nodeCtx.Logger(), string(current), float64(nodeDuration.Milliseconds()))
		nodeCount++

		next, err := cg.nextNode(nodeCtx, state, current)
		if err != nil {
			return state, nodeCount, err
		}

		if cfg.checkpointStore != nil {
			if err := saveCheckpoint(nodeCtx, cfg, current, state, next); err != nil {
				return state, nodeCount, err
			}
		}

		current = next
	}

	return state, nodeCount, nil
}

// latestSequence returns the stored sequence for threadID, or 0 if none.
func latestSequence(ctx context.Context, store checkpoint.Store, threadID string) (int64, error) {
	cp, err := store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cp.Sequence, nil
}

// saveCheckpoint persists the state after a node with the next sequence number.
func saveCheckpoint[S any](ctx *executionContext, cfg *runConfig, nodeID NodeID, state S, next NodeID) error {
	fail := func(op string, err error) error {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
		}
		observability.LogCheckpointError(ctx.Logger(), string(nodeID), op, err)
		return nil
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return fail("serialize", err)
	}

	cp := checkpoint.New(cfg.threadID, string(nodeID), cfg.sequence+1, stateBytes, string(next))
	if err := cfg.checkpointStore.Save(ctx, cp); err != nil {
		return fail("save", err)
	}
	cfg.sequence = cp.Sequence

	observability.LogCheckpoint(ctx.Logger(), cfg.threadID, string(nodeID), cp.Sequence, len(stateBytes))
	cfg.metrics.RecordCheckpoint(ctx, string(nodeID), int64(len(stateBytes)))
	return nil
}

// executeNode executes a single node with panic recovery.
// Returns the new state and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ctx *executionContext, nodeID NodeID, state S) (result S, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(ctx, state)
	if err != nil {
		return result, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return result, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph[S]) nextNode(ctx *executionContext, state S, current NodeID) (NodeID, error) {
	if ce, exists := cg.conditionalEdges[current]; exists {
		next := ce.router(ctx, state)

		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}
		if !ce.allows(next) {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrRouteNotInTable,
			}
		}
		return next, nil
	}

	next, ok := cg.edges[current]
	if !ok {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("%w: %s", ErrNoOutgoingEdge, current),
		}
	}
	return next, nil
}
