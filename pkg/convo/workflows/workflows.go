// Package workflows builds the conversation graph: the classifier and
// orchestrator, one compiled sub-graph per workflow, the error router and
// the output handler.
//
// Every workflow runs on its own sub-state (see package state) and reaches
// the parent only through its Projection. Collaborator failures become
// state.WorkflowError values for the error router; only programming errors
// are returned as Go errors.
package workflows

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/convograph/pkg/convo/auth"
	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/recovery"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/registry"
)

// Deps are the collaborators the workflows call.
type Deps struct {
	// Model writes replies and extracts parameters. May be nil, in which
	// case replies use fixed text and extraction falls back where it can.
	Model *model.Model

	Store    commerce.Store
	Gate     *auth.Gate
	Issuer   auth.Issuer
	Hasher   auth.Hasher
	Recovery *recovery.Router
}

func (d Deps) validate() error {
	var errs []error
	if d.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if d.Gate == nil {
		errs = append(errs, errors.New("auth gate is required"))
	}
	if d.Issuer == nil {
		errs = append(errs, errors.New("token issuer is required"))
	}
	if d.Hasher == nil {
		errs = append(errs, errors.New("password hasher is required"))
	}
	if d.Recovery == nil {
		errs = append(errs, errors.New("error router is required"))
	}
	return errors.Join(errs...)
}

// Workflow is one routable entry of the catalogue.
type Workflow struct {
	Name state.WorkflowName

	// Protected workflows run behind the auth gate.
	Protected bool

	build func(Deps) (flowgraph.NodeFunc[state.State], error)
}

// Node builds the workflow's node for the base graph.
func (w Workflow) Node(d Deps) (flowgraph.NodeFunc[state.State], error) {
	node, err := w.build(d)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", w.Name, err)
	}
	if w.Protected {
		node = d.Gate.Protect(w.Name, node)
	}
	return node, nil
}

// Catalogue returns every workflow the orchestrator can route to.
func Catalogue() *registry.Registry[state.WorkflowName, Workflow] {
	r := registry.New[state.WorkflowName, Workflow]()
	for _, w := range []Workflow{
		{Name: state.ProductSearch, build: buildProductSearch},
		{Name: state.AddToCart, Protected: true, build: buildAddToCart},
		{Name: state.DeleteFromCart, Protected: true, build: buildDeleteFromCart},
		{Name: state.ViewCart, Protected: true, build: buildViewCart},
		{Name: state.PlaceOrder, Protected: true, build: buildPlaceOrder},
		{Name: state.InitiatePayment, Protected: true, build: buildInitiatePayment},
		{Name: state.PaymentStatus, Protected: true, build: buildPaymentStatus},
		{Name: state.GenerateSigninForm, build: buildSigninForm},
		{Name: state.GenerateSignupForm, build: buildSignupForm},
		{Name: state.LoginWithCredentials, build: buildLogin},
		{Name: state.SignupWithDetails, build: buildSignup},
		{Name: state.Fallback, build: buildFallback},
	} {
		r.Register(w.Name, w)
	}
	return r
}

// StreamingNodes are the nodes whose model replies reach the user as they
// are generated. Classification and extraction nodes are never listed.
var StreamingNodes = []flowgraph.NodeID{
	nodeDisplaySearchResults,
	nodeNoResults,
	nodeAddSuccess,
	nodeAddFailure,
	nodeDeleteSuccess,
	nodeDeleteFailure,
	nodeViewSuccess,
	nodeViewFailure,
	nodeSigninForm,
	nodeSignupForm,
	nodeLogin,
	nodeNoUser,
	nodeCreateUser,
	nodeFallback,
	auth.NodeInvalidToken,
	recovery.NodeID,
	NodeOutput,
}

// orEnd routes to next unless the node recorded an error.
func orEnd[C any, PC state.Child[C]](next flowgraph.NodeID) flowgraph.RouterFunc[C] {
	return func(_ flowgraph.Context, c C) flowgraph.NodeID {
		if PC(&c).Base().Error != nil {
			return flowgraph.END
		}
		return next
	}
}

// mount compiles g and wraps it as a node of the base graph.
func mount[C any](g *flowgraph.Graph[C], proj flowgraph.Projection[state.State, C]) (flowgraph.NodeFunc[state.State], error) {
	compiled, err := g.Compile()
	if err != nil {
		return nil, err
	}
	return flowgraph.Subgraph(compiled, proj), nil
}

// projection is state.Projection with a zero-value fresh sub-state.
func projection[C state.SubState, PC state.Child[C]]() flowgraph.Projection[state.State, C] {
	return state.Projection[C, PC](func() C {
		var c C
		return c
	})
}

// setWidget replaces c's widget.
func setWidget(c *state.Common, kind string, data any) error {
	w, err := state.NewWidget(kind, data)
	if err != nil {
		return err
	}
	c.Widget = w
	return nil
}
