package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeStepGraph builds a -> b -> c -> END, tracking every execution.
func threeStepGraph(t *testing.T, tracker *[]string, failAt string) *CompiledGraph[State] {
	t.Helper()

	step := func(name string) NodeFunc[State] {
		return func(ctx Context, s State) (State, error) {
			*tracker = append(*tracker, name)
			if name == failAt {
				return s, errors.New("crash at " + name)
			}
			s.Progress = append(s.Progress, name)
			s.Step++
			return s, nil
		}
	}

	compiled, err := NewGraph[State]().
		AddNode("a", step("a")).
		AddNode("b", step("b")).
		AddNode("c", step("c")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)
	return compiled
}

// TestRun_CheckpointsEveryNode tests a checkpoint is written after each node.
func TestRun_CheckpointsEveryNode(t *testing.T) {
	var tracker []string
	compiled := threeStepGraph(t, &tracker, "")
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Run(testCtx(), State{}, WithCheckpointing(store, "thread-1"))
	require.NoError(t, err)

	cp, err := store.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.Sequence)
	assert.Equal(t, "c", cp.NodeID)
	assert.Equal(t, string(END), cp.NextNode)

	var saved State
	require.NoError(t, json.Unmarshal(cp.State, &saved))
	assert.Equal(t, []string{"a", "b", "c"}, saved.Progress)
}

// TestRun_CheckpointSequenceContinues tests sequences keep rising across runs.
func TestRun_CheckpointSequenceContinues(t *testing.T) {
	var tracker []string
	compiled := threeStepGraph(t, &tracker, "")
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Run(testCtx(), State{}, WithCheckpointing(store, "thread-1"))
	require.NoError(t, err)
	_, err = compiled.Run(testCtx(), State{}, WithCheckpointing(store, "thread-1"))
	require.NoError(t, err)

	cp, err := store.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), cp.Sequence)
}

// TestRun_CheckpointingRequiresThreadID tests the thread ID guard.
func TestRun_CheckpointingRequiresThreadID(t *testing.T) {
	var tracker []string
	compiled := threeStepGraph(t, &tracker, "")

	_, err := compiled.Run(testCtx(), State{}, WithCheckpointing(checkpoint.NewMemoryStore(), ""))
	assert.ErrorIs(t, err, ErrThreadIDRequired)
	assert.Empty(t, tracker)
}

// failingStore rejects every save.
type failingStore struct {
	*checkpoint.MemoryStore
}

func (f failingStore) Save(context.Context, *checkpoint.Checkpoint) error {
	return errors.New("disk full")
}

// TestRun_CheckpointFailureHandling tests failures are logged unless fatal.
func TestRun_CheckpointFailureHandling(t *testing.T) {
	store := failingStore{checkpoint.NewMemoryStore()}

	t.Run("non-fatal by default", func(t *testing.T) {
		var tracker []string
		compiled := threeStepGraph(t, &tracker, "")

		result, err := compiled.Run(testCtx(), State{}, WithCheckpointing(store, "t"))
		require.NoError(t, err)
		assert.Equal(t, 3, result.Step)
	})

	t.Run("fatal when requested", func(t *testing.T) {
		var tracker []string
		compiled := threeStepGraph(t, &tracker, "")

		_, err := compiled.Run(testCtx(), State{},
			WithCheckpointing(store, "t"),
			WithCheckpointFailureFatal(true))

		var cpErr *CheckpointError
		require.ErrorAs(t, err, &cpErr)
		assert.Equal(t, NodeID("a"), cpErr.NodeID)
		assert.Equal(t, "save", cpErr.Op)
		assert.Equal(t, []string{"a"}, tracker)
	})
}

// TestResume_ContinuesAfterCrash tests resume picks up at the next node.
func TestResume_ContinuesAfterCrash(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	var first []string
	crashing := threeStepGraph(t, &first, "c")
	_, err := crashing.Run(testCtx(), State{}, WithCheckpointing(store, "thread-1"))
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, first)

	var second []string
	healthy := threeStepGraph(t, &second, "")
	result, err := healthy.Resume(testCtx(), store, "thread-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"c"}, second, "only the unfinished node runs")
	assert.Equal(t, []string{"a", "b", "c"}, result.Progress)

	cp, err := store.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.Sequence)
}

// TestResume_ReplayNode tests the checkpointed node can be re-executed.
func TestResume_ReplayNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state, _ := json.Marshal(State{Step: 1, Progress: []string{"a"}})
	require.NoError(t, store.Save(context.Background(), checkpoint.New("t", "a", 1, state, "b")))

	var tracker []string
	compiled := threeStepGraph(t, &tracker, "")
	result, err := compiled.Resume(testCtx(), store, "t", WithReplayNode())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, tracker)
	assert.Equal(t, 4, result.Step)
}

// TestResume_TerminalCheckpoint tests a finished thread is not re-run.
func TestResume_TerminalCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	var tracker []string
	compiled := threeStepGraph(t, &tracker, "")
	_, err := compiled.Run(testCtx(), State{}, WithCheckpointing(store, "t"))
	require.NoError(t, err)
	tracker = nil

	result, err := compiled.Resume(testCtx(), store, "t")
	require.NoError(t, err)
	assert.Empty(t, tracker)
	assert.Equal(t, 3, result.Step)
}

// TestResume_StateOverrideAndValidation tests resume hooks.
func TestResume_StateOverrideAndValidation(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	state, _ := json.Marshal(State{Step: 2})
	require.NoError(t, store.Save(context.Background(), checkpoint.New("t", "b", 2, state, "c")))

	var tracker []string
	compiled := threeStepGraph(t, &tracker, "")

	result, err := compiled.Resume(testCtx(), store, "t",
		WithStateOverride(func(s any) any {
			st := s.(State)
			st.Initial = "patched"
			return st
		}))
	require.NoError(t, err)
	assert.Equal(t, "patched", result.Initial)
	assert.Equal(t, 3, result.Step)

	rejected := errors.New("bad state")
	_, err = compiled.Resume(testCtx(), store, "t",
		WithStateValidation(func(any) error { return rejected }))
	assert.ErrorIs(t, err, rejected)
}

// TestResume_Errors tests resume failure modes.
func TestResume_Errors(t *testing.T) {
	var tracker []string
	compiled := threeStepGraph(t, &tracker, "")
	ctx := context.Background()

	t.Run("no checkpoints", func(t *testing.T) {
		_, err := compiled.Resume(testCtx(), checkpoint.NewMemoryStore(), "missing")
		assert.ErrorIs(t, err, ErrNoCheckpoints)
	})

	t.Run("unknown resume node", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		require.NoError(t, store.Save(ctx, checkpoint.New("t", "a", 1, []byte(`{}`), "gone")))
		_, err := compiled.Resume(testCtx(), store, "t")
		assert.ErrorIs(t, err, ErrInvalidResumeNode)
	})

	t.Run("version mismatch", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		cp := checkpoint.New("t", "a", 1, []byte(`{}`), "b")
		cp.Version = checkpoint.Version + 1
		require.NoError(t, store.Save(ctx, cp))
		_, err := compiled.Resume(testCtx(), store, "t")
		assert.ErrorIs(t, err, ErrCheckpointVersionMismatch)
	})

	t.Run("undecodable state", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		require.NoError(t, store.Save(ctx, checkpoint.New("t", "a", 1, []byte(`{"Step":"x"}`), "b")))
		_, err := compiled.Resume(testCtx(), store, "t")
		assert.ErrorIs(t, err, ErrDeserializeState)
	})
}
