package flowgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	graph := flowgraph.NewGraph[MyState]().
//	    AddNode("fetch", fetchNode).
//	    AddNode("process", processNode).
//	    AddEdge("fetch", "process").
//	    AddEdge("process", flowgraph.END).
//	    SetEntry("fetch")
//
//	compiled, err := graph.Compile()
type Graph[S any] struct {
	mu               sync.RWMutex
	nodes            map[NodeID]NodeFunc[S]
	edges            map[NodeID][]NodeID
	conditionalEdges map[NodeID]conditionalEdge[S]
	entryPoint       NodeID
}

// conditionalEdge pairs a router with the closed table of targets it may return.
type conditionalEdge[S any] struct {
	router  RouterFunc[S]
	targets []NodeID
}

func (e conditionalEdge[S]) allows(id NodeID) bool {
	for _, t := range e.targets {
		if t == id {
			return true
		}
	}
	return false
}

// NewGraph creates a new graph builder for state type S.
// The type parameter S defines the state that flows through the graph.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            make(map[NodeID]NodeFunc[S]),
		edges:            make(map[NodeID][]NodeID),
		conditionalEdges: make(map[NodeID]conditionalEdge[S]),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is the reserved word "END" or "__end__" (case-insensitive)
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
//   - id already exists in the graph
func (g *Graph[S]) AddNode(id NodeID, fn NodeFunc[S]) *Graph[S] {
	if id == "" {
		panic("flowgraph: node ID cannot be empty")
	}

	idLower := strings.ToLower(string(id))
	if idLower == "end" || idLower == string(END) {
		panic("flowgraph: node ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(string(id), " \t\n\r") {
		panic("flowgraph: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}

	g.nodes[id] = fn
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or flowgraph.END.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (g *Graph[S]) AddEdge(from, to NodeID) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a conditional edge where a RouterFunc
// chooses the next node at runtime from the given target table.
// Returns the graph for method chaining.
//
// Compile rejects targets that are not registered nodes (END is allowed).
// At runtime a router returning an ID outside targets fails with a
// RouterError wrapping ErrRouteNotInTable.
//
// A node can have either simple edges or a conditional edge, not both.
//
// Panics if router is nil or targets is empty.
func (g *Graph[S]) AddConditionalEdge(from NodeID, router RouterFunc[S], targets ...NodeID) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}
	if len(targets) == 0 {
		panic("flowgraph: conditional edge needs at least one target")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	table := make([]NodeID, len(targets))
	copy(table, targets)
	g.conditionalEdges[from] = conditionalEdge[S]{router: router, targets: table}
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
//
// Entry point validation happens at Compile() time.
func (g *Graph[S]) SetEntry(id NodeID) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
