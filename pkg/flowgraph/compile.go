package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks (in order):
//  1. Entry point must be set
//  2. Entry point must reference an existing node
//  3. All edge sources must reference existing nodes
//  4. All edge and conditional targets must reference existing nodes or END
//  5. A node may not combine simple and conditional edges, or fan out
//  6. Every node reachable from the entry must have an outgoing edge
//  7. END must be reachable from the entry
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range sortedKeys(g.edges) {
		targets := g.edges[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range targets {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
				}
			}
		}
		if len(targets) > 1 {
			errs = append(errs, fmt.Errorf("%w: node '%s' has %d edges", ErrMultipleEdges, from, len(targets)))
		}
		if _, hasConditional := g.conditionalEdges[from]; hasConditional {
			errs = append(errs, fmt.Errorf("%w: node '%s'", ErrMixedEdges, from))
		}
	}

	for _, from := range sortedKeys(g.conditionalEdges) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.conditionalEdges[from].targets {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: conditional target '%s' from '%s' does not exist", ErrNodeNotFound, to, from))
				}
			}
		}
	}

	if g.entryPoint != "" {
		if _, exists := g.nodes[g.entryPoint]; exists {
			reachable := g.findReachableNodes()
			for _, id := range sortedKeys(reachable) {
				if !g.hasOutgoing(id) {
					errs = append(errs, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, id))
				}
			}
			if !g.hasPathToEnd() {
				errs = append(errs, ErrNoPathToEnd)
			}
		}
	}

	g.warnUnreachableNodes()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiledGraph(), nil
}

func (g *Graph[S]) hasOutgoing(id NodeID) bool {
	if len(g.edges[id]) > 0 {
		return true
	}
	_, ok := g.conditionalEdges[id]
	return ok
}

// successorsOf returns every possible next node, including conditional targets.
func (g *Graph[S]) successorsOf(id NodeID) []NodeID {
	out := append([]NodeID(nil), g.edges[id]...)
	if ce, ok := g.conditionalEdges[id]; ok {
		out = append(out, ce.targets...)
	}
	return out
}

// hasPathToEnd checks if there's a path from entry to END.
// Nodes that can reach END are found by reverse propagation over both
// simple edges and conditional target tables.
func (g *Graph[S]) hasPathToEnd() bool {
	canReachEnd := map[NodeID]bool{END: true}

	changed := true
	for changed {
		changed = false
		for id := range g.nodes {
			if canReachEnd[id] {
				continue
			}
			for _, to := range g.successorsOf(id) {
				if canReachEnd[to] {
					canReachEnd[id] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph[S]) warnUnreachableNodes() {
	if g.entryPoint == "" {
		return
	}

	reachable := g.findReachableNodes()

	for _, nodeID := range sortedKeys(g.nodes) {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry point.
func (g *Graph[S]) findReachableNodes() map[NodeID]bool {
	reachable := make(map[NodeID]bool)

	if g.entryPoint == "" {
		return reachable
	}

	queue := []NodeID{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.successorsOf(current) {
			if target == END || reachable[target] {
				continue
			}
			if _, exists := g.nodes[target]; !exists {
				continue
			}
			reachable[target] = true
			queue = append(queue, target)
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph[S]) buildCompiledGraph() *CompiledGraph[S] {
	nodes := make(map[NodeID]NodeFunc[S], len(g.nodes))
	for id, fn := range g.nodes {
		nodes[id] = fn
	}

	edges := make(map[NodeID]NodeID, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = targets[0]
	}

	conditionalEdges := make(map[NodeID]conditionalEdge[S], len(g.conditionalEdges))
	for from, ce := range g.conditionalEdges {
		conditionalEdges[from] = ce
	}

	predecessors := make(map[NodeID][]NodeID)
	for _, from := range sortedKeys(nodes) {
		for _, to := range g.successorsOf(from) {
			if to != END {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	return &CompiledGraph[S]{
		nodes:            nodes,
		edges:            edges,
		conditionalEdges: conditionalEdges,
		entryPoint:       g.entryPoint,
		predecessors:     predecessors,
	}
}

func sortedKeys[V any](m map[NodeID]V) []NodeID {
	keys := make([]NodeID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
