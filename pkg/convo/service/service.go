// Package service runs conversation turns: it resolves the thread, loads
// and saves the thread's checkpoint, runs the conversation graph and
// streams the turn's events.
package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/monitor"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/convo/stream"
	"github.com/randalmurphal/convograph/pkg/convo/workflows"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
)

// ThreadPrefix starts every server-generated thread ID.
const ThreadPrefix = "chat_"

// DefaultSaveTimeout bounds the checkpoint save of an abandoned turn.
const DefaultSaveTimeout = 5 * time.Second

// TurnFailedMessage is the error event text for a turn that could not
// complete.
const TurnFailedMessage = "I'm sorry, something went wrong while handling your message. Please try again."

// Sentinel errors.
var (
	// ErrEmptyMessage is returned for a blank utterance.
	ErrEmptyMessage = errors.New("message cannot be empty")

	// ErrClientGone is returned when the client stopped reading mid-turn.
	ErrClientGone = errors.New("client disconnected")
)

// Request is one user utterance.
type Request struct {
	Message string

	// ThreadID continues an existing conversation. Empty starts a new one.
	ThreadID string

	// Token is the bearer credential, if the client sent one.
	Token string
}

// Reply is the outcome of a non-streaming turn.
type Reply struct {
	ThreadID string                 `json:"thread_id"`
	Text     string                 `json:"response"`
	Widgets  []*state.WidgetPayload `json:"widgets,omitempty"`
	Done     bool                   `json:"done"`
}

// Service runs turns against one compiled conversation graph.
type Service struct {
	graph   *flowgraph.CompiledGraph[state.State]
	store   checkpoint.Store
	locker  *checkpoint.Locker
	logger  *slog.Logger
	monitor *monitor.Monitor

	runOpts     []flowgraph.RunOption
	saveTimeout time.Duration
	newThreadID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMonitor records turn, node and event metrics on m.
func WithMonitor(m *monitor.Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

// WithLocker replaces the per-thread locker, e.g. with one backed by a
// distributed lock.
func WithLocker(l *checkpoint.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithRunOptions are passed to every graph run.
func WithRunOptions(opts ...flowgraph.RunOption) Option {
	return func(s *Service) { s.runOpts = append(s.runOpts, opts...) }
}

// WithSaveTimeout bounds the checkpoint save after a cancelled turn.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.saveTimeout = d
		}
	}
}

// WithThreadIDs replaces the thread ID generator.
func WithThreadIDs(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newThreadID = fn
		}
	}
}

// New creates a Service.
func New(graph *flowgraph.CompiledGraph[state.State], store checkpoint.Store, opts ...Option) (*Service, error) {
	if graph == nil {
		return nil, errors.New("service: graph is required")
	}
	if store == nil {
		return nil, errors.New("service: checkpoint store is required")
	}
	s := &Service{
		graph:       graph,
		store:       store,
		logger:      slog.Default(),
		saveTimeout: DefaultSaveTimeout,
		newThreadID: func() string { return ThreadPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = checkpoint.NewLocker(checkpoint.WithLockerLogger(s.logger))
	}
	return s, nil
}

// Stream runs one turn and writes its events to w. thread_info is always
// the first event. Turns on the same thread are serialized.
//
// If a write fails the turn is abandoned before its next node. The partial
// state is still saved, best-effort, and ErrClientGone is returned.
func (s *Service) Stream(ctx context.Context, req Request, w stream.Writer) error {
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	threadID := cmp.Or(req.ThreadID, s.newThreadID())
	logger := s.logger.With("thread_id", threadID)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var emitOpts []stream.EmitterOption
	if s.monitor != nil {
		emitOpts = append(emitOpts, stream.WithEventHook(s.monitor.EventSent))
	}
	em := stream.NewEmitter(w, cancel, emitOpts...)

	if err := em.Emit(stream.ThreadInfo(threadID)); err != nil {
		return fmt.Errorf("%w: %w", ErrClientGone, err)
	}

	unlock, err := s.locker.Lock(turnCtx, threadID)
	if err != nil {
		_ = em.Emit(stream.Error(TurnFailedMessage))
		return fmt.Errorf("lock thread %s: %w", threadID, err)
	}
	defer unlock()

	prev, seq := s.load(turnCtx, logger, threadID)
	in := prev.BeginTurn(req.Message, req.Token)

	fctx := flowgraph.NewContext(model.WithTokenSink(turnCtx, em),
		flowgraph.WithLogger(logger),
		flowgraph.WithObserver(em),
		flowgraph.WithObserver(s.observer()),
	)

	start := time.Now()
	out, runErr := s.graph.Run(fctx, in, s.runOpts...)
	if s.monitor != nil {
		s.monitor.TurnFinished(out.CurrentWorkflow, time.Since(start), runErr)
	}

	s.save(ctx, logger, out, seq+1, runErr)

	if gone := em.Err(); gone != nil {
		logger.Info("client disconnected, turn abandoned",
			"node", flowgraph.FailedNode(runErr),
			"err", gone,
		)
		return fmt.Errorf("%w: %w", ErrClientGone, gone)
	}
	if runErr != nil {
		logger.Error("turn failed", "err", runErr)
		_ = em.Emit(stream.Error(TurnFailedMessage))
		return fmt.Errorf("run turn: %w", runErr)
	}
	return nil
}

// Reply runs one turn without streaming and returns its final text and
// every widget produced along the way.
func (s *Service) Reply(ctx context.Context, req Request) (Reply, error) {
	rec := &stream.Recorder{}
	err := s.Stream(ctx, req, rec)

	var r Reply
	for _, e := range rec.Events() {
		switch e.Name {
		case stream.KindThreadInfo:
			r.ThreadID = e.ThreadID
		case stream.KindWidget:
			r.Widgets = append(r.Widgets, e.Widget)
		case stream.KindFinalText:
			r.Text = e.Text
			r.Done = true
		}
	}
	return r, err
}

// observer returns the monitor as an observer, or nil, which NewContext
// ignores.
func (s *Service) observer() flowgraph.Observer {
	if s.monitor == nil {
		return nil
	}
	return s.monitor
}

// load returns the thread's saved state and its sequence. A thread
// without a checkpoint, or one whose checkpoint cannot be read, starts from
// a fresh state.
func (s *Service) load(ctx context.Context, logger *slog.Logger, threadID string) (state.State, int64) {
	cp, err := s.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return state.New(threadID), 0
	}
	if err != nil {
		// Sequence 0 keeps the fresh state from overwriting a checkpoint
		// that may still be valid.
		logger.Warn("checkpoint load failed, starting fresh", "err", err)
		return state.New(threadID), 0
	}

	var st state.State
	if err := json.Unmarshal(cp.State, &st); err != nil {
		logger.Warn("checkpoint state unreadable, starting fresh",
			"sequence", cp.Sequence,
			"err", err,
		)
		return state.New(threadID), cp.Sequence
	}
	st.ThreadID = threadID
	return st, cp.Sequence
}

// save stores the turn's state. Failures are logged, never returned: the
// turn's reply has already been sent.
func (s *Service) save(ctx context.Context, logger *slog.Logger, st state.State, seq int64, runErr error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.saveTimeout)
	defer cancel()

	node, next := workflows.NodeOutput, flowgraph.END
	if runErr != nil {
		node = cmp.Or(flowgraph.FailedNode(runErr), workflows.NodeClassifier)
		next = node
	}

	data, err := json.Marshal(st)
	if err != nil {
		observability.LogCheckpointError(logger, string(node), "serialize", err)
		return
	}
	cp := checkpoint.New(st.ThreadID, string(node), seq, data, string(next))
	if err := s.store.Save(saveCtx, cp); err != nil {
		observability.LogCheckpointError(logger, string(node), "save", err)
		return
	}
	observability.LogCheckpoint(logger, st.ThreadID, string(node), seq, len(data))
}
