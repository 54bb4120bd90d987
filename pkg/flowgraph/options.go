package flowgraph

import (
	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int
	graphName     string

	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	checkpointStore        checkpoint.Store
	threadID               string
	sequence               int64
	checkpointFailureFatal bool
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 1000,
		graphName:     "graph",
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 1000
//
// This prevents infinite loops from hanging forever. If a graph
// exceeds this limit, Run returns a MaxIterationsError.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithGraphName labels the run in spans.
func WithGraphName(name string) RunOption {
	return func(c *runConfig) {
		if name != "" {
			c.graphName = name
		}
	}
}

// WithMetrics records node and run metrics through the given recorder.
// Pass observability.NewMetricsRecorder() for OpenTelemetry.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables run and node spans through the given span manager.
func WithTracing(s observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if s != nil {
			c.spans = s
			c.tracingEnabled = true
		}
	}
}

// WithCheckpointing saves a checkpoint for threadID after every node, so an
// interrupted traversal can be continued with Resume.
//
// Sequences continue from whatever is already stored for the thread.
// Checkpoint failures are logged and ignored unless
// WithCheckpointFailureFatal(true) is also given.
func WithCheckpointing(store checkpoint.Store, threadID string) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
		c.threadID = threadID
	}
}

// WithCheckpointFailureFatal makes checkpoint failures abort the run with a CheckpointError.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}
