package flowgraph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
)

// resumeConfig holds configuration for Resume.
type resumeConfig struct {
	stateOverride func(any) any
	validateState func(any) error
	replayNode    bool
	runOpts       []RunOption
}

// ResumeOption configures Resume.
type ResumeOption func(*resumeConfig)

// WithStateOverride modifies the loaded state before execution continues.
// The function receives and must return the graph's state type.
func WithStateOverride(fn func(any) any) ResumeOption {
	return func(c *resumeConfig) {
		c.stateOverride = fn
	}
}

// WithStateValidation rejects a loaded state before execution continues.
func WithStateValidation(fn func(any) error) ResumeOption {
	return func(c *resumeConfig) {
		c.validateState = fn
	}
}

// WithReplayNode re-executes the checkpointed node instead of its successor.
func WithReplayNode() ResumeOption {
	return func(c *resumeConfig) {
		c.replayNode = true
	}
}

// WithResumeRunOptions passes run options (metrics, tracing, limits) to the
// resumed traversal.
func WithResumeRunOptions(opts ...RunOption) ResumeOption {
	return func(c *resumeConfig) {
		c.runOpts = append(c.runOpts, opts...)
	}
}

// Resume continues an interrupted traversal from the latest checkpoint of a
// thread. Execution restarts at the checkpoint's NextNode and keeps saving
// checkpoints to the same store. If the checkpoint is terminal (NextNode is
// END) the stored state is returned without running anything.
//
// Example:
//
//	// Previous run crashed after node B
//	// Resume continues from node C with state from B's checkpoint
//	result, err := compiled.Resume(ctx, store, "thread-123")
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, threadID string, opts ...ResumeOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	cfg := resumeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	cp, err := store.Load(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s", ErrNoCheckpoints, threadID)
		}
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	if cp.Version != checkpoint.Version {
		return zero, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cfg.stateOverride != nil {
		if typed, ok := cfg.stateOverride(state).(S); ok {
			state = typed
		}
	}

	if cfg.validateState != nil {
		if err := cfg.validateState(state); err != nil {
			return state, fmt.Errorf("state validation failed: %w", err)
		}
	}

	startNode := NodeID(cp.NextNode)
	if cfg.replayNode {
		startNode = NodeID(cp.NodeID)
	}

	if startNode == END {
		return state, nil
	}
	if !cg.HasNode(startNode) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidResumeNode, startNode)
	}

	runCfg := defaultRunConfig()
	for _, opt := range cfg.runOpts {
		opt(&runCfg)
	}
	runCfg.checkpointStore = store
	runCfg.threadID = threadID
	runCfg.sequence = cp.Sequence

	return cg.run(ctx, state, startNode, &runCfg)
}
