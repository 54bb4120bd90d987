// Package recovery turns a workflow error into a user-facing reply.
//
// The error router runs after any workflow node that left State.Error set.
// It picks recovery suggestions from a Table, asks the model for an
// apologetic message (with a fixed fallback), writes the reply and error
// payload, and clears the error so it is consumed exactly once.
package recovery

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// NodeID is the error router's node in the base graph.
const NodeID flowgraph.NodeID = "error_handler"

// TechnicalDifficulties is the reply when the router itself fails.
const TechnicalDifficulties = "I'm experiencing technical difficulties. Please try again in a moment."

var errorPrompt = template.Prompt{
	Name: "error_message",
	System: `You are an error message generator for an e-commerce chatbot.
Write a clear, helpful and friendly message based on the error below.
Apologise, explain what went wrong in simple terms, and suggest next steps from the recovery options.
Do not mention technical details.

Workflow: {workflow}
Error type: {error_type}
Message: {message}
Recovery options: {options}`,
	User: "Please write the user-facing message for this situation.",
}

// Router is the error router.
type Router struct {
	model *model.Model
	table Table
	now   func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithTable replaces DefaultTable.
func WithTable(t Table) Option {
	return func(r *Router) { r.table = t }
}

// New returns a Router. m may be nil, in which case the fixed fallback
// message is always used.
func New(m *model.Model, opts ...Option) *Router {
	r := &Router{model: m, table: DefaultTable, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasError reports whether s carries an unconsumed workflow error.
func HasError(s state.State) bool {
	return s.Error != nil
}

// Handle is the error router node. A state without an error passes
// through unchanged.
func (r *Router) Handle(ctx flowgraph.Context, s state.State) (state.State, error) {
	if s.Error == nil {
		return s, nil
	}
	out, err := r.handle(ctx, s)
	if err != nil {
		ctx.Logger().Error("error router failed", "err", err)
		return technicalDifficulties(s), nil
	}
	return out, nil
}

func (r *Router) handle(ctx flowgraph.Context, s state.State) (state.State, error) {
	e := s.Error
	options := r.table.Options(e)

	ctx.Logger().Error("workflow error",
		"workflow_name", e.Workflow,
		"error_type", e.Code,
		"kind", e.Kind,
		"message", e.Message,
		"cause", e.Cause,
	)

	payload := map[string]any{
		"error_type":       e.Code,
		"error_kind":       e.Kind,
		"error_message":    e.Message,
		"workflow_name":    e.Workflow,
		"recovery_options": options,
		"timestamp":        r.now().UTC().Format(time.RFC3339),
	}
	if len(e.Context) > 0 {
		payload["context"] = e.Context
	}
	outJSON, err := json.Marshal(map[string]any{"template": "error", "payload": payload})
	if err != nil {
		return s, fmt.Errorf("encode error payload: %w", err)
	}
	widget, err := state.NewWidget(state.WidgetError, payload)
	if err != nil {
		return s, err
	}

	s.OutputText = r.model.TextOr(ctx, errorPrompt, map[string]any{
		"workflow":   e.Workflow,
		"error_type": e.Code,
		"message":    e.Message,
		"options":    strings.Join(options, ", "),
	}, FallbackMessage(e, options))
	s.OutputJSON = outJSON
	s.Widget = widget
	s.RecoveryOptions = options
	s.Error = nil
	return s, nil
}

// FallbackMessage is the reply used when the model cannot write one.
func FallbackMessage(e *state.WorkflowError, options []string) string {
	return fmt.Sprintf("I'm sorry, but I encountered an issue with %s. %s. You can try: %s.",
		e.Workflow,
		strings.TrimRight(e.Message, ". "),
		strings.Join(options[:min(2, len(options))], ", "),
	)
}

var systemFailureOptions = []string{"Try again", "Contact support"}

func technicalDifficulties(s state.State) state.State {
	payload := map[string]any{
		"error_type":       "system_error",
		"error_message":    "Error handling system failure",
		"recovery_options": systemFailureOptions,
	}
	s.OutputText = TechnicalDifficulties
	s.OutputJSON, _ = json.Marshal(map[string]any{"template": "error", "payload": payload})
	s.Widget = state.MustWidget(state.WidgetError, payload)
	s.RecoveryOptions = append([]string(nil), systemFailureOptions...)
	s.Error = nil
	return s
}
