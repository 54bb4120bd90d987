// Package registry provides a generic thread-safe registry for values
// indexed by an ordered key.
//
// The conversation service keeps its workflow catalogue in a registry: each
// workflow registers under its name, and the orchestrator's routing table is
// built from Keys, which are always sorted.
//
//	workflows := registry.New[state.WorkflowName, Workflow]()
//	if err := workflows.Add(state.WorkflowViewCart, viewCart); err != nil {
//	    return err // already registered
//	}
//
//	wf, err := workflows.Lookup(name) // wraps ErrNotFound
//
// All methods are safe for concurrent use. Range iterates over a snapshot,
// so mutations during iteration do not affect it.
package registry
