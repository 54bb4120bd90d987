// Package checkpointtest provides a behavioral contract every
// checkpoint.Store implementation must satisfy.
package checkpointtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The contract closes it.
type Factory func(t *testing.T) checkpoint.Store

// RunStoreContract runs the contract against stores built by factory.
func RunStoreContract(t *testing.T, factory Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("Save_and_Load", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		cp := checkpoint.New("thread-1", "output_handler", 1, []byte(`{"key":"value"}`), "__end__")
		require.NoError(t, store.Save(ctx, cp))

		loaded, err := store.Load(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, "thread-1", loaded.ThreadID)
		assert.Equal(t, "output_handler", loaded.NodeID)
		assert.Equal(t, int64(1), loaded.Sequence)
		assert.Equal(t, "__end__", loaded.NextNode)
		assert.Equal(t, checkpoint.Version, loaded.Version)
		assert.JSONEq(t, `{"key":"value"}`, string(loaded.State))
	})

	t.Run("Load_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("Save_ReplacesWithHigherSequence", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, checkpoint.New("t", "a", 1, []byte(`{"n":1}`), "b")))
		require.NoError(t, store.Save(ctx, checkpoint.New("t", "b", 2, []byte(`{"n":2}`), "__end__")))

		loaded, err := store.Load(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Sequence)
		assert.JSONEq(t, `{"n":2}`, string(loaded.State))
	})

	t.Run("Save_SameSequenceIsIdempotent", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		cp := checkpoint.New("t", "a", 3, []byte(`{"n":3}`), "__end__")
		require.NoError(t, store.Save(ctx, cp))
		require.NoError(t, store.Save(ctx, cp))

		loaded, err := store.Load(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, int64(3), loaded.Sequence)
	})

	t.Run("Save_RejectsStaleSequence", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, checkpoint.New("t", "a", 5, []byte(`{"n":5}`), "__end__")))
		err := store.Save(ctx, checkpoint.New("t", "a", 4, []byte(`{"n":4}`), "__end__"))
		assert.ErrorIs(t, err, checkpoint.ErrStaleSequence)

		loaded, err := store.Load(ctx, "t")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":5}`, string(loaded.State))
	})

	t.Run("Save_RejectsInvalid", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		err := store.Save(ctx, checkpoint.New("", "a", 1, []byte(`{}`), "__end__"))
		assert.ErrorIs(t, err, checkpoint.ErrInvalidCheckpoint)
	})

	t.Run("List", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		infos, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, infos)

		require.NoError(t, store.Save(ctx, checkpoint.New("b", "n", 1, []byte(`{}`), "__end__")))
		require.NoError(t, store.Save(ctx, checkpoint.New("a", "n", 2, []byte(`{"x":1}`), "__end__")))

		infos, err = store.List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "a", infos[0].ThreadID)
		assert.Equal(t, int64(2), infos[0].Sequence)
		assert.Equal(t, "b", infos[1].ThreadID)
	})

	t.Run("Delete", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, checkpoint.New("t", "n", 1, []byte(`{}`), "__end__")))
		require.NoError(t, store.Delete(ctx, "t"))
		require.NoError(t, store.Delete(ctx, "t"))

		_, err := store.Load(ctx, "t")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("Concurrent_DistinctThreads", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				thread := fmt.Sprintf("thread-%d", id)
				for seq := int64(1); seq <= 5; seq++ {
					assert.NoError(t, store.Save(ctx, checkpoint.New(thread, "n", seq, []byte(`{}`), "__end__")))
				}
			}(i)
		}
		wg.Wait()

		infos, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, infos, 10)
		for _, info := range infos {
			assert.Equal(t, int64(5), info.Sequence)
		}
	})
}
