package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Registry errors.
var (
	ErrDuplicate = errors.New("registry: duplicate key")
	ErrNotFound  = errors.New("registry: key not found")
)

// Registry is a thread-safe registry for values indexed by an ordered key.
// Keys and Range always visit entries in ascending key order, so anything
// built from a registry (routing tables, listings) is deterministic.
type Registry[K cmp.Ordered, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New creates a new empty registry.
func New[K cmp.Ordered, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		entries: make(map[K]V),
	}
}

// Register adds or replaces a value.
func (r *Registry[K, V]) Register(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
}

// Add adds a value, failing with ErrDuplicate if key is taken.
func (r *Registry[K, V]) Add(key K, value V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicate, key)
	}
	r.entries[key] = value
	return nil
}

// Get returns the value for a key and whether it exists.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

// Lookup returns the value for a key or an error wrapping ErrNotFound.
func (r *Registry[K, V]) Lookup(key K) (V, error) {
	v, ok := r.Get(key)
	if !ok {
		return v, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	return v, nil
}

// MustGet returns the value for a key, panicking if not found.
func (r *Registry[K, V]) MustGet(key K) V {
	v, err := r.Lookup(key)
	if err != nil {
		panic(err.Error())
	}
	return v
}

// Has returns true if the key exists in the registry.
func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.Get(key)
	return ok
}

// Delete removes a key from the registry.
func (r *Registry[K, V]) Delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Keys returns all keys in ascending order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of entries in the registry.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Range calls fn for each entry in key order until fn returns false.
//
// Range iterates over a snapshot, so fn may call Register or Delete.
func (r *Registry[K, V]) Range(fn func(K, V) bool) {
	r.mu.RLock()
	snapshot := make(map[K]V, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	keys := make([]K, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if !fn(k, snapshot[k]) {
			return
		}
	}
}
