package workflows

import (
	"fmt"

	"github.com/randalmurphal/convograph/pkg/convo/recovery"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

// Build compiles the base conversation graph:
//
//	classifier_node -> orchestrator_node -> <workflow>
//	<workflow> -> error_handler (error set) | output_handler
//	error_handler -> output_handler -> END
func Build(d Deps) (*flowgraph.CompiledGraph[state.State], error) {
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("workflows: %w", err)
	}

	c := &classifier{model: d.Model}
	o := &output{model: d.Model, recovery: d.Recovery}

	g := flowgraph.NewGraph[state.State]().
		AddNode(NodeClassifier, c.classify).
		AddNode(NodeOrchestrator, orchestrate).
		AddNode(recovery.NodeID, d.Recovery.Handle).
		AddNode(NodeOutput, o.handle).
		AddEdge(NodeClassifier, NodeOrchestrator).
		AddEdge(recovery.NodeID, NodeOutput).
		AddEdge(NodeOutput, flowgraph.END).
		SetEntry(NodeClassifier)

	catalogue := Catalogue()
	targets := make([]flowgraph.NodeID, 0, catalogue.Len())
	for _, name := range catalogue.Keys() {
		w, _ := catalogue.Get(name)
		node, err := w.Node(d)
		if err != nil {
			return nil, err
		}
		id := flowgraph.NodeID(name)
		targets = append(targets, id)
		g.AddNode(id, node).
			AddConditionalEdge(id, routeOutcome, recovery.NodeID, NodeOutput)
	}
	g.AddConditionalEdge(NodeOrchestrator, routeWorkflow, targets...)

	compiled, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile conversation graph: %w", err)
	}
	return compiled, nil
}

// routeOutcome sends a failed workflow to the error router.
func routeOutcome(_ flowgraph.Context, s state.State) flowgraph.NodeID {
	if recovery.HasError(s) {
		return recovery.NodeID
	}
	return NodeOutput
}
