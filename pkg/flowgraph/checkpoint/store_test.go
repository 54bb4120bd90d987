package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint/checkpointtest"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestMemoryStore_Contract(t *testing.T) {
	checkpointtest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	checkpointtest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
		require.NoError(t, err)
		return store
	})
}

func TestRedisStore_Contract(t *testing.T) {
	checkpointtest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		mr := miniredis.RunT(t)
		client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
		return checkpoint.NewRedisStoreFromClient(client)
	})
}

func TestEncryptedStore_Contract(t *testing.T) {
	checkpointtest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewEncryptedStore(checkpoint.NewMemoryStore(), checkpoint.EncryptionConfig{ActiveKey: testKey})
		require.NoError(t, err)
		return store
	})
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("CONVOGRAPH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONVOGRAPH_TEST_POSTGRES_DSN not set")
	}

	checkpointtest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		ctx := context.Background()
		store, err := checkpoint.NewPostgresStore(ctx, dsn)
		require.NoError(t, err)
		infos, err := store.List(ctx)
		require.NoError(t, err)
		for _, info := range infos {
			require.NoError(t, store.Delete(ctx, info.ThreadID))
		}
		return store
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store1, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store1.Save(ctx, checkpoint.New("t", "n", 1, []byte(`"persistent"`), "__end__")))
	require.NoError(t, store1.Close())

	store2, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	cp, err := store2.Load(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, `"persistent"`, string(cp.State))
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, checkpoint.New("t", "n", 1, []byte(`{}`), "__end__")))
	_, err = store.Load(ctx, "t")
	assert.NoError(t, err)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := checkpoint.NewSQLiteStore("/nonexistent/path/db.sqlite")
	assert.Error(t, err)
}

func TestStores_ClosedErrors(t *testing.T) {
	ctx := context.Background()

	mem := checkpoint.NewMemoryStore()
	require.NoError(t, mem.Close())
	assert.ErrorIs(t, mem.Save(ctx, checkpoint.New("t", "n", 1, nil, "")), checkpoint.ErrStoreClosed)

	sqlite, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Close())
	assert.NoError(t, sqlite.Close())
	_, err = sqlite.Load(ctx, "t")
	assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
}

func TestMemoryStore_DoesNotAliasState(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()

	state := []byte(`{"a":1}`)
	require.NoError(t, store.Save(ctx, checkpoint.New("t", "n", 1, state, "")))
	state[2] = 'b'

	cp, err := store.Load(ctx, "t")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(cp.State))
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := checkpoint.NewRedisStoreFromClient(client,
		checkpoint.WithRedisPrefix("test:"),
		checkpoint.WithRedisTTL(time.Second),
	)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, checkpoint.New("t", "n", 1, []byte(`{}`), "")))
	assert.True(t, mr.Exists("test:t"))
	assert.Greater(t, mr.TTL("test:t").Milliseconds(), int64(0))
}

func TestEncryptedStore_HidesPlaintext(t *testing.T) {
	inner := checkpoint.NewMemoryStore()
	store, err := checkpoint.NewEncryptedStore(inner, checkpoint.EncryptionConfig{ActiveKey: testKey})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, checkpoint.New("t", "n", 1, []byte(`{"secret":"hunter2"}`), "")))

	raw, err := inner.Load(ctx, "t")
	require.NoError(t, err)
	assert.NotContains(t, string(raw.State), "hunter2")
	assert.Contains(t, string(raw.State), "__encrypted__")
}

func TestEncryptedStore_KeyRotation(t *testing.T) {
	inner := checkpoint.NewMemoryStore()
	oldKey := []byte("ffffffffffffffffffffffffffffffff")
	ctx := context.Background()

	oldStore, err := checkpoint.NewEncryptedStore(inner, checkpoint.EncryptionConfig{ActiveKey: oldKey})
	require.NoError(t, err)
	require.NoError(t, oldStore.Save(ctx, checkpoint.New("t", "n", 1, []byte(`{"v":1}`), "")))

	rotated, err := checkpoint.NewEncryptedStore(inner, checkpoint.EncryptionConfig{
		ActiveKey:    testKey,
		FallbackKeys: [][]byte{oldKey},
	})
	require.NoError(t, err)
	cp, err := rotated.Load(ctx, "t")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(cp.State))

	withoutFallback, err := checkpoint.NewEncryptedStore(inner, checkpoint.EncryptionConfig{ActiveKey: testKey})
	require.NoError(t, err)
	_, err = withoutFallback.Load(ctx, "t")
	assert.Error(t, err)
}

func TestNewEncryptedStore_KeyLength(t *testing.T) {
	_, err := checkpoint.NewEncryptedStore(checkpoint.NewMemoryStore(), checkpoint.EncryptionConfig{ActiveKey: []byte("short")})
	assert.Error(t, err)

	_, err = checkpoint.NewEncryptedStore(checkpoint.NewMemoryStore(), checkpoint.EncryptionConfig{
		ActiveKey:    testKey,
		FallbackKeys: [][]byte{[]byte("short")},
	})
	assert.Error(t, err)
}
