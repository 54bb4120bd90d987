package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// Gate sub-graph nodes.
const (
	NodeParseToken   flowgraph.NodeID = "parse_token"
	NodeValidToken   flowgraph.NodeID = "handle_valid_token"
	NodeInvalidToken flowgraph.NodeID = "handle_invalid_token"
)

var loginRequiredPrompt = template.Prompt{
	Name: "login_required",
	System: "You are a shopping assistant. The user tried to use a feature that needs a signed-in account. " +
		"Write one or two friendly sentences asking them to sign in or create an account. Mention the feature by name.",
	User: "Feature: {feature}\nProblem: {problem}\nUser message: {query}",
}

// Gate guards workflow nodes behind a credential check. It verifies on
// every call; there is no bypass for a thread that authenticated earlier.
type Gate struct {
	verifier Verifier
	model    *model.Model
	graph    *flowgraph.CompiledGraph[state.AuthGateState]
}

// NewGate builds the gate sub-graph. m may be nil, in which case the
// login-required message is fixed text.
func NewGate(v Verifier, m *model.Model) (*Gate, error) {
	if v == nil {
		return nil, errors.New("auth: verifier is required")
	}
	g := &Gate{verifier: v, model: m}

	compiled, err := flowgraph.NewGraph[state.AuthGateState]().
		AddNode(NodeParseToken, g.parseToken).
		AddNode(NodeValidToken, handleValidToken).
		AddNode(NodeInvalidToken, g.handleInvalidToken).
		AddConditionalEdge(NodeParseToken, routeToken, NodeValidToken, NodeInvalidToken).
		AddEdge(NodeValidToken, flowgraph.END).
		AddEdge(NodeInvalidToken, flowgraph.END).
		SetEntry(NodeParseToken).
		Compile()
	if err != nil {
		return nil, fmt.Errorf("compile auth gate: %w", err)
	}
	g.graph = compiled
	return g, nil
}

// Protect wraps runner so that it runs only for a valid credential, and
// exactly once when it does. Otherwise the state comes back with
// auth_required set, target as the pending workflow, and a login-required
// reply and widget.
func (g *Gate) Protect(target state.WorkflowName, runner flowgraph.NodeFunc[state.State]) flowgraph.NodeFunc[state.State] {
	check := flowgraph.Subgraph(g.graph, projection(target))

	return func(ctx flowgraph.Context, s state.State) (state.State, error) {
		s, err := check(ctx, s)
		if err != nil {
			return s, err
		}
		if gs, _ := state.Lookup[state.AuthGateState](s.SubStates); gs.Outcome != state.AuthValid {
			return s, nil
		}
		return runner(ctx, s)
	}
}

func projection(target state.WorkflowName) flowgraph.Projection[state.State, state.AuthGateState] {
	base := state.Projection[state.AuthGateState](func() state.AuthGateState {
		return state.AuthGateState{}
	})

	return flowgraph.Projection[state.State, state.AuthGateState]{
		In: func(p state.State) state.AuthGateState {
			c := base.In(p)
			c.Target = target
			c.Outcome = ""
			c.Reason = ""
			c.Subject = 0
			return c
		},
		Out: func(p state.State, c state.AuthGateState) state.State {
			p = base.Out(p, c)
			if c.Outcome == state.AuthValid {
				p.IsAuthenticated = true
				p.UserID = c.Subject
				p.AuthRequired = false
				p.PendingWorkflow = ""
				p.CurrentWorkflow = target
				return p
			}
			p.IsAuthenticated = false
			p.UserID = 0
			p.AuthRequired = true
			p.PendingWorkflow = target
			return p
		},
	}
}

func (g *Gate) parseToken(ctx flowgraph.Context, s state.AuthGateState) (state.AuthGateState, error) {
	switch {
	case s.SessionToken == "":
		s.Outcome = state.AuthNoCredential
		s.Reason = ErrNoCredential.Error()
	default:
		id, err := g.verifier.Verify(s.SessionToken)
		if err != nil {
			s.Outcome = state.AuthInvalidCredential
			s.Reason = "Invalid or expired token: " + err.Error()
			break
		}
		s.Outcome = state.AuthValid
		s.Subject = id
	}
	s.SessionToken = ""

	ctx.Logger().Info("credential checked",
		"workflow", s.Target,
		"outcome", s.Outcome,
	)
	return s, nil
}

func routeToken(_ flowgraph.Context, s state.AuthGateState) flowgraph.NodeID {
	if s.Outcome == state.AuthValid {
		return NodeValidToken
	}
	return NodeInvalidToken
}

func handleValidToken(_ flowgraph.Context, s state.AuthGateState) (state.AuthGateState, error) {
	s.IsAuthenticated = true
	s.UserID = s.Subject
	s.AuthRequired = false
	return s, nil
}

func (g *Gate) handleInvalidToken(ctx flowgraph.Context, s state.AuthGateState) (state.AuthGateState, error) {
	feature := FeatureName(s.Target)

	problem := "the user is not signed in"
	fallback := fmt.Sprintf("Please sign in to %s. You can sign in or create a new account to continue.", feature)
	if s.Outcome == state.AuthInvalidCredential {
		problem = "the user's session has expired"
		fallback = fmt.Sprintf("Your session has expired. Please sign in again to %s.", feature)
	}

	s.OutputText = g.model.TextOr(ctx, loginRequiredPrompt, map[string]any{
		"feature": feature,
		"problem": problem,
		"query":   s.Query,
	}, fallback)

	widget, err := state.NewWidget(state.WidgetAuthRequired, map[string]any{
		"workflow": s.Target,
		"reason":   s.Outcome,
		"message":  s.OutputText,
	})
	if err != nil {
		return s, err
	}
	s.Widget = widget

	s.IsAuthenticated = false
	s.UserID = 0
	s.AuthRequired = true
	return s, nil
}

// FeatureName turns a workflow name into the phrase used in replies.
func FeatureName(w state.WorkflowName) string {
	switch w {
	case state.AddToCart:
		return "add items to your cart"
	case state.DeleteFromCart:
		return "remove items from your cart"
	case state.ViewCart:
		return "view your cart"
	case state.PlaceOrder:
		return "place an order"
	case state.InitiatePayment, state.PaymentStatus:
		return "pay for your order"
	}
	return strings.ReplaceAll(string(w), "_", " ")
}
