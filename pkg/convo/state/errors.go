package state

import (
	"context"
	"errors"
	"time"

	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
)

// ErrorKind classifies a WorkflowError. The failing node sets it.
type ErrorKind string

// Error kinds.
const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindNetwork        ErrorKind = "network"
	KindStorage        ErrorKind = "storage"
	KindWorkflow       ErrorKind = "workflow"
	KindUnknown        ErrorKind = "unknown"
)

// WorkflowError is a node failure downgraded to data. The error router
// consumes it exactly once and clears it.
type WorkflowError struct {
	Workflow  WorkflowName   `json:"workflow_name"`
	Kind      ErrorKind      `json:"kind"`
	Code      string         `json:"type"`
	Message   string         `json:"message"`
	Cause     string         `json:"exception,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewError builds a WorkflowError. code is the workflow-specific reason
// ("no_results", "product_not_found") that recovery suggestions key on.
func NewError(workflow WorkflowName, kind ErrorKind, code, message string) *WorkflowError {
	return &WorkflowError{
		Workflow:  workflow,
		Kind:      kind,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// FromCollaborator converts a collaborator failure into a WorkflowError,
// deriving the kind from the error's category. The raw error text is kept
// in Cause and never shown to the user.
func FromCollaborator(workflow WorkflowName, code, message string, err error) *WorkflowError {
	return NewError(workflow, KindFor(err), code, message).WithCause(err)
}

// KindFor maps a collaborator error to an ErrorKind.
func KindFor(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, flowerrors.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}

	var timeout *flowerrors.TimeoutError
	if errors.As(err, &timeout) {
		return KindNetwork
	}

	switch flowerrors.Categorize(err) {
	case flowerrors.CategoryTransient:
		return KindNetwork
	case flowerrors.CategoryInvalidOutput:
		return KindValidation
	}
	return KindUnknown
}

// WithCause records err's text.
func (e *WorkflowError) WithCause(err error) *WorkflowError {
	if err != nil {
		e.Cause = err.Error()
	}
	return e
}

// With adds a context entry.
func (e *WorkflowError) With(key string, value any) *WorkflowError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
