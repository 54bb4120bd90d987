package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/convo/workflows"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
	"github.com/randalmurphal/convograph/pkg/flowgraph/llm"
	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

func TestEncoder_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, NDJSON)

	require.NoError(t, enc.Write(ThreadInfo("chat_1")))
	require.NoError(t, enc.Write(Interim("Looking...")))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"event_name":"thread_info","thread_id":"chat_1"}`, lines[0])
	assert.JSONEq(t, `{"event_name":"interim_message","text":"Looking..."}`, lines[1])
}

func TestEncoder_SSE(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, SSE)

	w := state.MustWidget(state.WidgetCartDetails, map[string]any{"item_count": 2})
	require.NoError(t, enc.Write(Widget(w)))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "data: "))
	require.True(t, strings.HasSuffix(out, "\n\n"))

	var got Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(out, "data: "))), &got))
	assert.Equal(t, KindWidget, got.Name)
	assert.True(t, w.Equal(got.Widget))
}

func TestEncoder_Closed(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, NDJSON)
	require.NoError(t, enc.Close())

	assert.ErrorIs(t, enc.Write(FinalText("bye")), ErrClosed)
	assert.Zero(t, buf.Len())
}

// turnGraph mimics the base graph's shape: a classifier, a workflow that
// runs a nested graph, and the output handler whose reply streams.
func turnGraph(t *testing.T, m *model.Model) *flowgraph.CompiledGraph[state.State] {
	t.Helper()

	child, err := flowgraph.NewGraph[state.ViewCartState]().
		AddNode("load", func(_ flowgraph.Context, c state.ViewCartState) (state.ViewCartState, error) {
			c.Widget = state.MustWidget(state.WidgetCartDetails, map[string]any{"item_count": 1})
			return c, nil
		}).
		AddEdge("load", flowgraph.END).
		SetEntry("load").
		Compile()
	require.NoError(t, err)

	reply := template.Prompt{Name: "reply", System: "reply writer", User: "{query}"}

	g, err := flowgraph.NewGraph[state.State]().
		AddNode(workflows.NodeClassifier, func(_ flowgraph.Context, s state.State) (state.State, error) {
			s.Intent = state.IntentViewCart
			s.InterimMessage = "Checking your cart..."
			return s, nil
		}).
		AddNode("view_cart", flowgraph.Subgraph(child, flowgraph.Projection[state.State, state.ViewCartState]{
			In: func(state.State) state.ViewCartState { return state.ViewCartState{} },
			Out: func(p state.State, c state.ViewCartState) state.State {
				p.Widget = c.Widget
				return p
			},
		})).
		AddNode(workflows.NodeOutput, func(ctx flowgraph.Context, s state.State) (state.State, error) {
			s.Response = m.TextOr(ctx, reply, map[string]any{"query": s.UserMessage}, "fallback")
			return s, nil
		}).
		AddEdge(workflows.NodeClassifier, "view_cart").
		AddEdge("view_cart", workflows.NodeOutput).
		AddEdge(workflows.NodeOutput, flowgraph.END).
		SetEntry(workflows.NodeClassifier).
		Compile()
	require.NoError(t, err)
	return g
}

func testModel(reply string) *model.Model {
	return model.New(llm.NewMockClient(reply),
		model.WithRetry(flowerrors.NoRetry),
		model.WithBreaker(0, 0),
		model.WithLogger(observability.NopLogger()))
}

func runTurn(t *testing.T, w Writer, opts ...EmitterOption) (state.State, *Emitter, error) {
	t.Helper()
	std, cancel := context.WithCancel(context.Background())
	defer cancel()

	em := NewEmitter(w, cancel, opts...)
	ctx := flowgraph.NewContext(model.WithTokenSink(std, em),
		flowgraph.WithLogger(observability.NopLogger()),
		flowgraph.WithObserver(em))

	s := state.New("t1").BeginTurn("show my cart", "")
	out, err := turnGraph(t, testModel("Your cart is ready")).Run(ctx, s)
	return out, em, err
}

func TestEmitter_TurnOrder(t *testing.T) {
	rec := &Recorder{}
	var hooked []Kind

	out, em, err := runTurn(t, rec, WithEventHook(func(k Kind) { hooked = append(hooked, k) }))
	require.NoError(t, err)
	require.NoError(t, em.Err())

	assert.Equal(t, []Kind{KindInterim, KindWidget, KindToken, KindToken, KindToken, KindToken, KindFinalText}, rec.Kinds())
	assert.Equal(t, rec.Kinds(), hooked)

	events := rec.Events()
	assert.Equal(t, "Checking your cart...", events[0].Text)
	assert.Equal(t, state.WidgetCartDetails, events[1].Widget.Kind)

	var tokens strings.Builder
	for _, e := range events[2:6] {
		assert.Equal(t, workflows.NodeOutput, e.Node)
		tokens.WriteString(e.Text)
	}
	assert.Equal(t, "Your cart is ready", tokens.String())
	assert.Equal(t, out.Response, events[6].Text)
}

func TestEmitter_NodeOffAllowListDoesNotStream(t *testing.T) {
	rec := &Recorder{}

	_, _, err := runTurn(t, rec, WithAllowList("display_search_results"))
	require.NoError(t, err)
	assert.NotContains(t, rec.Kinds(), KindToken)
	assert.Equal(t, []Kind{KindInterim, KindWidget, KindFinalText}, rec.Kinds())
}

func TestEmitter_WriteFailureCancelsTurn(t *testing.T) {
	rec := &Recorder{}
	gone := errors.New("client went away")
	rec.FailWith(gone)

	_, em, err := runTurn(t, rec)
	require.Error(t, err)

	var cancelled *flowgraph.CancellationError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, flowgraph.NodeID("view_cart"), cancelled.NodeID)
	assert.ErrorIs(t, em.Err(), gone)
	assert.Empty(t, rec.Events())
}

func TestEmitter_UnchangedWidgetIsNotRepeated(t *testing.T) {
	rec := &Recorder{}
	em := NewEmitter(rec, nil)
	ctx := flowgraph.NewContext(context.Background())

	s := state.New("t1")
	s.Widget = state.MustWidget(state.WidgetLoginForm, []string{"Sign in"})

	em.NodeFinished(ctx, "generate_signin_form", s, nil)
	em.NodeFinished(ctx, "error_handler", s, nil)
	em.NodeFinished(ctx, "generate_signin_form", s, errors.New("boom"))
	em.NodeFinished(ctx, "generate_signin_form", state.SigninFormState{}, nil)

	assert.Equal(t, []Kind{KindWidget}, rec.Kinds())
}
