package workflows

import (
	"cmp"
	"encoding/json"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/recovery"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// NodeOutput turns the workflow's output into the turn's response.
const NodeOutput flowgraph.NodeID = "output_handler"

// Fixed replies of the output handler.
const (
	SummaryFallback = "Here you go! Take a look at the details below."
	ProcessingReply = "I'm processing your request..."
)

var summaryPrompt = template.Prompt{
	Name: "output_summary",
	System: `You are a text response generator for an e-commerce system.
You are given the JSON result of a workflow. Write a friendly response of 10 to 50 words telling the user the result is ready in the interface.
Use the same language as the user. Include at least one emoji.
Do not copy values from the JSON and do not invent information.
If the JSON is empty, say that nothing was found.`,
	User: "User message: {query}\nResult: {result}",
}

type output struct {
	model    *model.Model
	recovery *recovery.Router
}

// handle writes Response and the assistant transcript line. After it the
// state is finalized: a response is set and no error is pending.
func (o *output) handle(ctx flowgraph.Context, s state.State) (state.State, error) {
	if s.Error == nil && s.OutputText == "" && len(s.OutputJSON) == 0 && s.Widget == nil {
		s.Error = state.NewError(cmp.Or(s.CurrentWorkflow, state.Fallback), state.KindWorkflow,
			"no_output", "No workflow output available")
	}
	if s.Error != nil {
		var err error
		if s, err = o.recovery.Handle(ctx, s); err != nil {
			return s, err
		}
	}

	switch {
	case s.OutputText != "":
		s.Response = s.OutputText
	default:
		s.Response = o.model.TextOr(ctx, summaryPrompt, map[string]any{
			"query":  s.UserMessage,
			"result": resultJSON(s),
		}, SummaryFallback)
	}
	if s.Response == "" {
		s.Response = ProcessingReply
	}
	return s.AppendTranscript(state.AssistantPrefix + s.Response), nil
}

func resultJSON(s state.State) string {
	switch {
	case len(s.OutputJSON) > 0:
		return string(s.OutputJSON)
	case s.Widget != nil:
		b, err := json.Marshal(map[string]any{
			"template": s.Widget.Kind,
			"payload":  s.Widget.Data,
		})
		if err == nil {
			return string(b)
		}
	}
	return "{}"
}
