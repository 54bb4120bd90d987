// Package checkpoint provides durable, thread-keyed state snapshots.
//
// A Store holds at most one Checkpoint per thread: the latest one. Saves are
// atomic replaces guarded by the checkpoint sequence, so a writer holding an
// older snapshot can never overwrite a newer one.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints keyed by thread ID.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save atomically replaces the checkpoint for cp.ThreadID.
	// Returns ErrStaleSequence if the stored checkpoint has a higher sequence.
	// Saving the same sequence again replaces it, so retries are idempotent.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns the latest checkpoint for a thread.
	// Returns ErrNotFound if the thread has none.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)

	// List returns metadata for every stored thread, ordered by thread ID.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a thread's checkpoint.
	// Returns nil if it doesn't exist.
	Delete(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string
	NodeID    string
	Sequence  int64
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrStaleSequence indicates a save carried a lower sequence than the stored checkpoint.
	ErrStaleSequence = errors.New("checkpoint sequence is older than stored checkpoint")

	// ErrInvalidCheckpoint indicates a checkpoint is missing required fields.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)
