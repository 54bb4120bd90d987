/*
Package flowgraph provides graph-based orchestration for conversational workflows.

# Overview

flowgraph builds and executes directed graphs where nodes transform a typed
state and edges decide what runs next. A compiled graph is immutable and is
shared by every conversation; each run carries its own state.

  - Type-safe generics for state management
  - Compile-time validation of graph structure
  - Declared routing tables for conditional edges
  - Sub-graph composition with explicit state projection
  - Crash recovery via checkpointing
  - OpenTelemetry integration for observability

# Basic Usage

Create a graph with nodes and edges, then compile and run:

	type State struct {
	    Input  string
	    Output string
	}

	func process(ctx flowgraph.Context, s State) (State, error) {
	    s.Output = "Processed: " + s.Input
	    return s, nil
	}

	compiled, err := flowgraph.NewGraph[State]().
	    AddNode("process", process).
	    AddEdge("process", flowgraph.END).
	    SetEntry("process").
	    Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := flowgraph.NewContext(context.Background())
	result, err := compiled.Run(ctx, State{Input: "hello"})

# Conditional Routing

A conditional edge names every node its router may return. Compile checks
each target exists, and a router returning anything outside the table fails
the run with a RouterError:

	graph.AddConditionalEdge("review", func(ctx flowgraph.Context, s State) flowgraph.NodeID {
	    if s.Approved {
	        return "publish"
	    }
	    return "revise"
	}, "publish", "revise")

Loops are conditional edges back to earlier nodes. They are bounded by
WithMaxIterations (default 1000).

# Sub-graphs

A compiled graph with its own state type becomes a node of a parent graph
through Subgraph and a Projection that maps parent state in and child state
back out. Observers and logs see child nodes as "parent/child".

# Checkpointing

	store := checkpoint.NewMemoryStore()
	result, err := compiled.Run(ctx, state,
	    flowgraph.WithCheckpointing(store, "thread-123"))

	// after a crash
	result, err = compiled.Resume(ctx, store, "thread-123")

A checkpoint is saved after each successful node. Resume continues with the
node after the last checkpoint.

# Observability

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithMetrics(observability.NewMetricsRecorder()),
	    flowgraph.WithTracing(observability.NewSpanManager()))

Logs carry run_id and node_id. Metrics are named convograph.node.executions,
convograph.node.latency_ms and so on. Spans are convograph.run and
convograph.node.{id}.

# Error Handling

	var nodeErr *flowgraph.NodeError
	if errors.As(err, &nodeErr) {
	    log.Printf("Node %s failed: %v", nodeErr.NodeID, nodeErr.Err)
	}

Panics in nodes are recovered and converted to PanicError with stack trace.

# Thread Safety

  - Graph[S] is NOT safe for concurrent use during construction
  - CompiledGraph[S] IS safe for concurrent use (immutable)
  - Context IS safe for concurrent use
  - checkpoint.Store implementations are safe for concurrent use

# Subpackages

  - checkpoint: checkpoint storage and per-thread locking
  - errors: error categories, retry and circuit breaking
  - llm: language model client interface and implementations
  - observability: logging, metrics, and tracing helpers
*/
package flowgraph
