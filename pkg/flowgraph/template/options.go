package template

// MissingAction specifies how to handle missing variables.
type MissingAction int

const (
	// MissingKeep keeps the placeholder as-is when the variable is not found.
	// This is the default behavior.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError returns an *UndefinedVariableError.
	MissingError
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how missing variables are handled.
//
//	exp := NewExpander(WithMissingAction(MissingError))
//	_, err := exp.Expand("{missing}", nil)
//	// err: "undefined variable: missing"
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missingAction = action
	}
}

// WithPromptStyle enables or disables {var} expansion and the {{ }} escapes.
// Default: enabled.
func WithPromptStyle(enabled bool) Option {
	return func(e *Expander) {
		e.promptStyle = enabled
	}
}

// WithEnvStyle enables or disables ${var} expansion. Default: enabled.
func WithEnvStyle(enabled bool) Option {
	return func(e *Expander) {
		e.envStyle = enabled
	}
}
