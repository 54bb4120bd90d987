package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New[string, int]()
	assert.Equal(t, 0, r.Len())

	r.Register("one", 1)
	r.Register("one", 11)

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 11, v, "Register replaces")

	v, ok = r.Get("two")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestAddRejectsDuplicates(t *testing.T) {
	r := New[string, string]()

	require.NoError(t, r.Add("view_cart", "a"))
	err := r.Add("view_cart", "b")
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "view_cart")
	assert.Equal(t, "a", r.MustGet("view_cart"))
}

func TestLookupAndMustGet(t *testing.T) {
	r := New[string, int]()
	r.Register("x", 1)

	v, err := r.Lookup("x")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Panics(t, func() { r.MustGet("missing") })
}

func TestHasAndDelete(t *testing.T) {
	r := New[int, string]()
	r.Register(1, "a")

	assert.True(t, r.Has(1))
	r.Delete(1)
	r.Delete(2)
	assert.False(t, r.Has(1))
	assert.Equal(t, 0, r.Len())
}

func TestKeysAreSorted(t *testing.T) {
	r := New[string, int]()
	for _, k := range []string{"view_cart", "add_to_cart", "fallback", "place_order"} {
		r.Register(k, 0)
	}

	assert.Equal(t, []string{"add_to_cart", "fallback", "place_order", "view_cart"}, r.Keys())
	assert.Empty(t, New[string, int]().Keys())
}

func TestRangeOrderAndEarlyStop(t *testing.T) {
	r := New[int, string]()
	r.Register(3, "c")
	r.Register(1, "a")
	r.Register(2, "b")

	var seen []string
	r.Range(func(k int, v string) bool {
		seen = append(seen, v)
		return k < 2
	})
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRangeAllowsMutation(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)

	count := 0
	r.Range(func(k string, v int) bool {
		r.Delete(k)
		r.Register(k+"x", v)
		count++
		return true
	})

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"ax", "bx"}, r.Keys())
}

func TestConcurrentAccess(t *testing.T) {
	r := New[string, int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(fmt.Sprintf("k%02d", i), i)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Get(fmt.Sprintf("k%02d", i))
			_ = r.Keys()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
	keys := r.Keys()
	assert.Equal(t, "k00", keys[0])
	assert.Equal(t, "k49", keys[49])
}
