// Package stream turns a graph turn into the ordered event sequence a client
// receives: thread metadata, the interim message, reply tokens, widgets and
// the final text.
//
// Events are produced on the executing goroutine by an Emitter, which is at
// once a flowgraph.Observer and a model.TokenSink. Every event goes through a
// single Writer so a turn's events reach the client in generation order.
package stream

import (
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

// Kind names an event.
type Kind string

// Event kinds.
const (
	KindThreadInfo Kind = "thread_info"
	KindInterim    Kind = "interim_message"
	KindToken      Kind = "token"
	KindWidget     Kind = "widget"
	KindFinalText  Kind = "final_text"
	KindError      Kind = "error"
)

// Event is one envelope of the stream. Only the fields of its kind are set.
type Event struct {
	Name Kind `json:"event_name"`

	// thread_info
	ThreadID string `json:"thread_id,omitempty"`

	// interim_message, token, final_text
	Text string `json:"text,omitempty"`

	// token
	Node flowgraph.NodeID `json:"node,omitempty"`

	// widget
	Widget *state.WidgetPayload `json:"widget,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// ThreadInfo returns the event that opens every turn.
func ThreadInfo(threadID string) Event {
	return Event{Name: KindThreadInfo, ThreadID: threadID}
}

// Interim returns the "working on it" event sent after classification.
func Interim(text string) Event {
	return Event{Name: KindInterim, Text: text}
}

// Token returns one reply fragment from node.
func Token(node flowgraph.NodeID, text string) Event {
	return Event{Name: KindToken, Node: node, Text: text}
}

// Widget returns the event for a newly produced widget payload.
func Widget(w *state.WidgetPayload) Event {
	return Event{Name: KindWidget, Widget: w}
}

// FinalText returns the turn's finalized response.
func FinalText(text string) Event {
	return Event{Name: KindFinalText, Text: text}
}

// Error returns the event sent when a turn cannot complete.
func Error(message string) Event {
	return Event{Name: KindError, Message: message}
}
