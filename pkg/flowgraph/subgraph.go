package flowgraph

// Projection defines how a child graph sees, and writes back to, its
// parent's state.
//
// In builds the child state from the parent. Out merges the finished child
// state into the parent. Both run on the caller's goroutine and must not
// retain or mutate shared references.
type Projection[P, C any] struct {
	In  func(parent P) C
	Out func(parent P, child C) P
}

// Subgraph registers a compiled graph as a node of a parent graph.
//
// The returned node projects the parent state into the child (Projection.In),
// runs the child to completion inside the node's context, and merges the
// result back (Projection.Out). If the child run fails, the parent state is
// returned unchanged along with the error.
//
// Panics if child, In or Out is nil.
//
// Example:
//
//	search := flowgraph.Subgraph(searchGraph, flowgraph.Projection[Conv, Search]{
//	    In:  func(p Conv) Search { return Search{Query: p.Message} },
//	    Out: func(p Conv, c Search) Conv { p.Results = c.Results; return p },
//	})
//	parent.AddNode("product_search", search)
func Subgraph[P, C any](child *CompiledGraph[C], proj Projection[P, C], opts ...RunOption) NodeFunc[P] {
	if child == nil {
		panic("flowgraph: subgraph cannot be nil")
	}
	if proj.In == nil || proj.Out == nil {
		panic("flowgraph: subgraph projection needs In and Out")
	}

	return func(ctx Context, parent P) (P, error) {
		out, err := child.Run(ctx, proj.In(parent), opts...)
		if err != nil {
			return parent, err
		}
		return proj.Out(parent, out), nil
	}
}
