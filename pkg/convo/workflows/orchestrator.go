package workflows

import (
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

// NodeOrchestrator maps the classified intent to a workflow.
const NodeOrchestrator flowgraph.NodeID = "orchestrator_node"

// MinConfidence is the classifier confidence below which a turn goes to
// the fallback workflow.
const MinConfidence = 0.5

var intentWorkflows = map[state.Intent]state.WorkflowName{
	state.IntentProductSearch:        state.ProductSearch,
	state.IntentPlaceOrder:           state.PlaceOrder,
	state.IntentInitiatePayment:      state.InitiatePayment,
	state.IntentPaymentStatus:        state.PaymentStatus,
	state.IntentAddToCart:            state.AddToCart,
	state.IntentViewCart:             state.ViewCart,
	state.IntentDeleteFromCart:       state.DeleteFromCart,
	state.IntentGenerateSigninForm:   state.GenerateSigninForm,
	state.IntentLoginWithCredentials: state.LoginWithCredentials,
	state.IntentGenerateSignupForm:   state.GenerateSignupForm,
	state.IntentSignupWithDetails:    state.SignupWithDetails,
}

// WorkflowFor returns the workflow that handles intent at the given
// confidence. Anything unmapped or uncertain goes to fallback.
func WorkflowFor(intent state.Intent, confidence float64) state.WorkflowName {
	if confidence < MinConfidence {
		return state.Fallback
	}
	if w, ok := intentWorkflows[intent]; ok {
		return w
	}
	return state.Fallback
}

func orchestrate(ctx flowgraph.Context, s state.State) (state.State, error) {
	w := WorkflowFor(s.Intent, s.Confidence)
	ctx.Logger().Info("workflow selected", "workflow", w, "intent", s.Intent)
	return s.EnterWorkflow(w), nil
}

// routeWorkflow follows the orchestrator's choice.
func routeWorkflow(_ flowgraph.Context, s state.State) flowgraph.NodeID {
	return flowgraph.NodeID(s.CurrentWorkflow)
}
