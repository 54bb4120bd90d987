package stream

import (
	"context"
	"sync"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/convo/workflows"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

// Emitter converts one turn's execution trace into events.
//
// It observes the base graph only: nested workflow nodes are invisible, and
// a workflow's widget is reported once, when the workflow node returns with
// a payload different from the last one sent. The first failed write
// cancels the turn and every later event is dropped.
type Emitter struct {
	w      Writer
	cancel context.CancelFunc
	allow  map[flowgraph.NodeID]bool
	hook   func(Kind)

	mu     sync.Mutex
	err    error
	widget *state.WidgetPayload
}

var (
	_ flowgraph.Observer = (*Emitter)(nil)
	_ model.TokenSink    = (*Emitter)(nil)
)

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithAllowList replaces the nodes whose model replies stream as tokens.
// The default is workflows.StreamingNodes.
func WithAllowList(nodes ...flowgraph.NodeID) EmitterOption {
	return func(e *Emitter) {
		e.allow = allowSet(nodes)
	}
}

// WithEventHook calls fn with the kind of every event written.
func WithEventHook(fn func(Kind)) EmitterOption {
	return func(e *Emitter) {
		e.hook = fn
	}
}

// NewEmitter returns an Emitter writing to w. cancel stops the turn when the
// client goes away; it may be nil.
func NewEmitter(w Writer, cancel context.CancelFunc, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		w:      w,
		cancel: cancel,
		allow:  allowSet(workflows.StreamingNodes),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func allowSet(nodes []flowgraph.NodeID) map[flowgraph.NodeID]bool {
	m := make(map[flowgraph.NodeID]bool, len(nodes))
	for _, n := range nodes {
		m[n] = true
	}
	return m
}

// Emit writes ev. After the first write failure it returns that failure
// without writing.
func (e *Emitter) Emit(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if err := e.w.Write(ev); err != nil {
		e.err = err
		if e.cancel != nil {
			e.cancel()
		}
		return err
	}
	if e.hook != nil {
		e.hook(ev.Name)
	}
	return nil
}

// Err returns the write failure that stopped the stream, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// NodeStarted implements flowgraph.Observer.
func (e *Emitter) NodeStarted(flowgraph.Context, flowgraph.NodeID) {}

// NodeFinished implements flowgraph.Observer.
func (e *Emitter) NodeFinished(ctx flowgraph.Context, id flowgraph.NodeID, st any, err error) {
	if err != nil || len(ctx.Path()) > 0 {
		return
	}
	s, ok := st.(state.State)
	if !ok {
		return
	}

	if id == workflows.NodeClassifier && s.InterimMessage != "" {
		_ = e.Emit(Interim(s.InterimMessage))
	}
	if s.Widget != nil && !s.Widget.Equal(e.lastWidget()) {
		if e.Emit(Widget(s.Widget)) == nil {
			e.setLastWidget(s.Widget)
		}
	}
	if id == workflows.NodeOutput {
		_ = e.Emit(FinalText(s.Response))
	}
}

func (e *Emitter) lastWidget() *state.WidgetPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.widget
}

func (e *Emitter) setLastWidget(w *state.WidgetPayload) {
	e.mu.Lock()
	e.widget = w
	e.mu.Unlock()
}

// Allow implements model.TokenSink.
func (e *Emitter) Allow(node flowgraph.NodeID) bool {
	return e.allow[node]
}

// Token implements model.TokenSink.
func (e *Emitter) Token(node flowgraph.NodeID, text string) error {
	if !e.allow[node] {
		return nil
	}
	return e.Emit(Token(node, text))
}
