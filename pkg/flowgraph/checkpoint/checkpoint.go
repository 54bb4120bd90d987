package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Checkpoint is the persisted snapshot of a thread's state.
type Checkpoint struct {
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// State is the JSON-encoded state value.
	State json.RawMessage `json:"state"`

	// NextNode is where an interrupted traversal continues. END once a turn
	// has completed.
	NextNode string `json:"next_node"`
}

// New creates a new checkpoint with the given parameters.
// State must already be JSON-serialized.
func New(threadID, nodeID string, sequence int64, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
	}
}

// Validate reports whether the checkpoint can be stored.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil checkpoint", ErrInvalidCheckpoint)
	}
	if c.ThreadID == "" {
		return fmt.Errorf("%w: thread ID is empty", ErrInvalidCheckpoint)
	}
	if c.Sequence < 1 {
		return fmt.Errorf("%w: sequence must be positive, got %d", ErrInvalidCheckpoint, c.Sequence)
	}
	if len(c.State) > 0 && !json.Valid(c.State) {
		return fmt.Errorf("%w: state is not valid JSON", ErrInvalidCheckpoint)
	}
	return nil
}

// Clone returns a deep copy so stores never share State bytes with callers.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := *c
	cp.State = append(json.RawMessage(nil), c.State...)
	return &cp
}

// Info returns the checkpoint's metadata.
func (c *Checkpoint) Info() Info {
	return Info{
		ThreadID:  c.ThreadID,
		NodeID:    c.NodeID,
		Sequence:  c.Sequence,
		Timestamp: c.Timestamp,
		Size:      int64(len(c.State)),
	}
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
