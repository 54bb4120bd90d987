package auth_test

import (
	"context"
	"testing"

	"github.com/randalmurphal/convograph/pkg/convo/auth"
	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/llm"
	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spy is a protected workflow that counts its invocations.
type spy struct {
	calls int
	saw   state.State
}

func (s *spy) run(_ flowgraph.Context, st state.State) (state.State, error) {
	s.calls++
	s.saw = st
	st.OutputText = "cart updated"
	return st, nil
}

func newGate(t *testing.T, m *model.Model) (*auth.Gate, *auth.JWT) {
	t.Helper()
	j, err := auth.NewJWT("gate-secret")
	require.NoError(t, err)
	g, err := auth.NewGate(j, m)
	require.NoError(t, err)
	return g, j
}

func testCtx() flowgraph.Context {
	return flowgraph.NewContext(context.Background(), flowgraph.WithLogger(observability.NopLogger()))
}

func TestGate_Outcomes(t *testing.T) {
	g, j := newGate(t, nil)
	valid, err := j.Issue(9)
	require.NoError(t, err)

	tests := []struct {
		name        string
		token       string
		wantOutcome state.AuthOutcome
		wantCalls   int
		wantText    string
	}{
		{"no credential", "", state.AuthNoCredential, 0, "Please sign in to add items to your cart."},
		{"invalid credential", "forged.token.value", state.AuthInvalidCredential, 0, "Your session has expired."},
		{"valid credential", valid, state.AuthValid, 1, "cart updated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &spy{}
			node := g.Protect(state.AddToCart, target.run)

			in := state.New("t1").BeginTurn("add the blue sneakers", tt.token)
			out, err := node(testCtx(), in)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, target.calls)
			assert.Contains(t, out.OutputText, tt.wantText)

			gs, ok := state.Lookup[state.AuthGateState](out.SubStates)
			require.True(t, ok)
			assert.Equal(t, tt.wantOutcome, gs.Outcome)
			assert.Equal(t, state.AddToCart, gs.Target)

			if tt.wantOutcome == state.AuthValid {
				assert.True(t, out.IsAuthenticated)
				assert.False(t, out.AuthRequired)
				assert.Equal(t, int64(9), out.UserID)
				assert.Empty(t, out.PendingWorkflow)
				assert.Equal(t, int64(9), target.saw.UserID)
				assert.Nil(t, out.Widget)
				return
			}

			assert.False(t, out.IsAuthenticated)
			assert.True(t, out.AuthRequired)
			assert.Zero(t, out.UserID)
			assert.Equal(t, state.AddToCart, out.PendingWorkflow)
			assert.NotEmpty(t, gs.Reason)

			require.NotNil(t, out.Widget)
			assert.Equal(t, state.WidgetAuthRequired, out.Widget.Kind)
			var data map[string]string
			require.NoError(t, out.Widget.Decode(&data))
			assert.Equal(t, "add_to_cart", data["workflow"])
			assert.Equal(t, string(tt.wantOutcome), data["reason"])
		})
	}
}

func TestGate_NoBypassForEarlierLogin(t *testing.T) {
	g, _ := newGate(t, nil)
	target := &spy{}
	node := g.Protect(state.ViewCart, target.run)

	in := state.New("t1").BeginTurn("show my cart", "")
	in.IsAuthenticated = true
	in.UserID = 5

	out, err := node(testCtx(), in)
	require.NoError(t, err)
	assert.Zero(t, target.calls)
	assert.False(t, out.IsAuthenticated)
	assert.Equal(t, state.ViewCart, out.PendingWorkflow)
}

func TestGate_ModelMessage(t *testing.T) {
	client := llm.NewMockClient("Sign in first to view your cart.")
	g, _ := newGate(t, model.New(client))
	node := g.Protect(state.ViewCart, (&spy{}).run)

	out, err := node(testCtx(), state.New("t1").BeginTurn("show my cart", ""))
	require.NoError(t, err)
	assert.Equal(t, "Sign in first to view your cart.", out.OutputText)
	require.Equal(t, 1, client.CallCount())
	assert.Contains(t, client.LastCall().Messages[0].Content, "view your cart")
}

func TestGate_InsideGraph(t *testing.T) {
	g, j := newGate(t, nil)
	tok, err := j.Issue(3)
	require.NoError(t, err)

	var seen []string
	target := &spy{}
	compiled, err := flowgraph.NewGraph[state.State]().
		AddNode("view_cart", g.Protect(state.ViewCart, target.run)).
		AddEdge("view_cart", flowgraph.END).
		SetEntry("view_cart").
		Compile()
	require.NoError(t, err)

	ctx := flowgraph.NewContext(context.Background(),
		flowgraph.WithLogger(observability.NopLogger()),
		flowgraph.WithObserver(pathRecorder{&seen}))
	_, err = compiled.Run(ctx, state.New("t1").BeginTurn("cart", tok))
	require.NoError(t, err)

	assert.Equal(t, 1, target.calls)
	assert.Contains(t, seen, "view_cart/parse_token")
	assert.Contains(t, seen, "view_cart/handle_valid_token")
	assert.NotContains(t, seen, "view_cart/handle_invalid_token")
}

type pathRecorder struct{ seen *[]string }

func (r pathRecorder) NodeStarted(ctx flowgraph.Context, id flowgraph.NodeID) {
	path := ""
	for _, p := range ctx.Path() {
		path += string(p) + "/"
	}
	*r.seen = append(*r.seen, path+string(id))
}

func (pathRecorder) NodeFinished(flowgraph.Context, flowgraph.NodeID, any, error) {}

func TestFeatureName(t *testing.T) {
	assert.Equal(t, "place an order", auth.FeatureName(state.PlaceOrder))
	assert.Equal(t, "pay for your order", auth.FeatureName(state.PaymentStatus))
	assert.Equal(t, "product search", auth.FeatureName(state.ProductSearch))
}
