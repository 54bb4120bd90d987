package flowgraph

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls. The graph structure cannot be modified after compilation.
//
// Use the introspection methods (NodeIDs, Successors, etc.) to examine
// the graph structure for debugging or visualization.
type CompiledGraph[S any] struct {
	nodes            map[NodeID]NodeFunc[S]
	edges            map[NodeID]NodeID
	conditionalEdges map[NodeID]conditionalEdge[S]
	entryPoint       NodeID

	predecessors map[NodeID][]NodeID
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() NodeID {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in the graph, sorted.
func (cg *CompiledGraph[S]) NodeIDs() []NodeID {
	return sortedKeys(cg.nodes)
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id NodeID) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns every node the given node may hand off to: its simple
// edge target, or the full target table of its conditional edge.
// Returns nil for END or unknown nodes.
func (cg *CompiledGraph[S]) Successors(id NodeID) []NodeID {
	if id == END {
		return nil
	}
	if ce, ok := cg.conditionalEdges[id]; ok {
		out := make([]NodeID, len(ce.targets))
		copy(out, ce.targets)
		return out
	}
	if to, ok := cg.edges[id]; ok {
		return []NodeID{to}
	}
	return nil
}

// Predecessors returns the node IDs that have edges to the given node.
// Returns nil for the entry node or unknown nodes.
func (cg *CompiledGraph[S]) Predecessors(id NodeID) []NodeID {
	return cg.predecessors[id]
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph[S]) IsConditional(id NodeID) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

func (cg *CompiledGraph[S]) getNode(id NodeID) (NodeFunc[S], bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}
