package flowgraph

// NodeID identifies a node in a graph. Routers return NodeIDs, and every
// conditional edge declares the closed set of NodeIDs it may route to.
type NodeID string

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END NodeID = "__end__"

// String returns the identifier as a plain string.
func (id NodeID) String() string {
	return string(id)
}

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and current state,
// and return the updated state (or the same state) and any error.
//
// The state parameter is passed by value. The returned value replaces the
// running state, so a node that changes nothing returns its input.
//
// Nodes are expected to trap collaborator failures themselves and record
// them in state. A returned error aborts the run.
//
// Example:
//
//	func increment(ctx flowgraph.Context, s Counter) (Counter, error) {
//	    s.Value++
//	    return s, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime state.
//
// Routers must be pure functions of state. The returned NodeID must be one of
// the targets declared with AddConditionalEdge; anything else fails the run.
//
// Example:
//
//	func router(ctx flowgraph.Context, s State) flowgraph.NodeID {
//	    if s.Done {
//	        return flowgraph.END
//	    }
//	    return "process"
//	}
type RouterFunc[S any] func(ctx Context, state S) NodeID
