// Package state defines the conversation state a graph turn reads and
// writes, and the namespaced per-workflow sub-states nested inside it.
//
// One State exists per thread. It is loaded from the checkpoint store at the
// start of a turn, passed by value from node to node, and saved when the
// turn ends. Workflow sub-graphs never see the whole State: Projection gives
// each child its own sub-state plus a fixed whitelist of shared fields.
package state

import (
	"encoding/json"
	"slices"
)

// MaxTranscript is how many transcript lines are kept.
const MaxTranscript = 50

// Transcript line prefixes.
const (
	UserPrefix      = "User: "
	AssistantPrefix = "Assistant: "
)

// State is the global conversation state of one thread.
type State struct {
	ThreadID string `json:"thread_id"`

	UserMessage    string   `json:"user_message"`
	Intent         Intent   `json:"intent,omitempty"`
	Confidence     float64  `json:"confidence"`
	InterimMessage string   `json:"disfluent_message,omitempty"`
	Transcript     []string `json:"conversation_history"`

	UserID          int64        `json:"user_id,omitempty"`
	SessionToken    string       `json:"-"`
	IsAuthenticated bool         `json:"is_authenticated"`
	AuthRequired    bool         `json:"auth_required"`
	PendingWorkflow WorkflowName `json:"pending_workflow,omitempty"`

	CurrentWorkflow WorkflowName   `json:"current_workflow,omitempty"`
	WorkflowHistory []WorkflowName `json:"workflow_history"`

	OutputText string          `json:"workflow_output_text,omitempty"`
	OutputJSON json.RawMessage `json:"workflow_output_json,omitempty"`
	Widget     *WidgetPayload  `json:"workflow_widget,omitempty"`
	Response   string          `json:"response,omitempty"`

	Error           *WorkflowError `json:"workflow_error,omitempty"`
	RecoveryOptions []string       `json:"error_recovery_options,omitempty"`
	Suggestions     []string       `json:"suggestions,omitempty"`

	SubStates SubStates `json:"workflow_states"`
}

// New returns the default state for a thread's first turn.
func New(threadID string) State {
	return State{
		ThreadID:        threadID,
		Intent:          IntentUnknown,
		Transcript:      []string{},
		WorkflowHistory: []WorkflowName{},
	}
}

// BeginTurn clears the previous turn's per-turn fields, sets the new
// utterance and credential, and appends the user line to the transcript.
// Identity fields are kept; the auth gate re-derives them on every
// protected call.
func (s State) BeginTurn(message, token string) State {
	s.UserMessage = message
	s.SessionToken = token
	s.Intent = IntentUnknown
	s.Confidence = 0
	s.InterimMessage = ""
	s.AuthRequired = false
	s.OutputText = ""
	s.OutputJSON = nil
	s.Widget = nil
	s.Response = ""
	s.Error = nil
	s.RecoveryOptions = nil
	s.Suggestions = nil
	return s.AppendTranscript(UserPrefix + message)
}

// AppendTranscript appends a line, keeping the newest MaxTranscript lines.
// The returned state owns a fresh slice.
func (s State) AppendTranscript(line string) State {
	t := make([]string, 0, len(s.Transcript)+1)
	t = append(t, s.Transcript...)
	t = append(t, line)
	if len(t) > MaxTranscript {
		t = t[len(t)-MaxTranscript:]
	}
	s.Transcript = t
	return s
}

// RecentTranscript returns up to n of the newest transcript lines.
func (s State) RecentTranscript(n int) []string {
	if n <= 0 || len(s.Transcript) == 0 {
		return nil
	}
	if n > len(s.Transcript) {
		n = len(s.Transcript)
	}
	return slices.Clone(s.Transcript[len(s.Transcript)-n:])
}

// EnterWorkflow records name as the current workflow and appends it to the
// history.
func (s State) EnterWorkflow(name WorkflowName) State {
	s.CurrentWorkflow = name
	s.WorkflowHistory = append(slices.Clone(s.WorkflowHistory), name)
	return s
}

// Finalized reports whether exactly one of {response text, pending error}
// is meaningful, which holds after every completed turn.
func (s State) Finalized() bool {
	return (s.Response != "") != (s.Error != nil)
}
