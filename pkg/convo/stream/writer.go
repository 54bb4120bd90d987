package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
)

// Writer delivers events to one client. Implementations must be safe for
// concurrent use and must not reorder events.
type Writer interface {
	Write(e Event) error
}

// ErrClosed is returned by a Writer after Close.
var ErrClosed = errors.New("stream closed")

// Framing selects how an envelope is laid out on the wire.
type Framing int

const (
	// NDJSON writes one JSON object per line.
	NDJSON Framing = iota

	// SSE writes each object as a server-sent event: "data: {json}\n\n".
	SSE
)

// Encoder writes framed JSON envelopes to an io.Writer, flushing after each
// event when the destination supports it.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	framing Framing
	closed  bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, framing Framing) *Encoder {
	return &Encoder{w: w, framing: framing}
}

// Write encodes and flushes e.
func (enc *Encoder) Write(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Name, err)
	}

	var frame []byte
	switch enc.framing {
	case SSE:
		frame = make([]byte, 0, len(b)+8)
		frame = append(frame, "data: "...)
		frame = append(frame, b...)
		frame = append(frame, '\n', '\n')
	default:
		frame = append(b, '\n')
	}

	enc.mu.Lock()
	defer enc.mu.Unlock()
	if enc.closed {
		return ErrClosed
	}
	if _, err := enc.w.Write(frame); err != nil {
		return fmt.Errorf("write %s event: %w", e.Name, err)
	}
	if f, ok := enc.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Close makes later writes fail with ErrClosed.
func (enc *Encoder) Close() error {
	enc.mu.Lock()
	enc.closed = true
	enc.mu.Unlock()
	return nil
}

// Recorder keeps events in memory. It backs the non-streaming reply and
// tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// FailWith makes every later Write return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Write(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Name
	}
	return kinds
}
