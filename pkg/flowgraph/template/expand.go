package template

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholder matches {{, }}, {name} and ${name}.
var placeholder = regexp.MustCompile(`\{\{|\}\}|(\$?)\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Expander expands placeholders in strings.
//
// Two placeholder styles are understood: {name} for prompts and ${name}
// for configuration values. In prompt style {{ and }} stand for literal
// braces, so JSON examples can be written inline.
//
// Expander is safe for concurrent use after construction.
type Expander struct {
	missingAction MissingAction
	promptStyle   bool
	envStyle      bool
}

// NewExpander creates a new Expander with the given options.
//
// Default configuration:
//   - MissingAction: MissingKeep
//   - prompt style {var}: enabled
//   - env style ${var}: enabled
func NewExpander(opts ...Option) *Expander {
	e := &Expander{
		missingAction: MissingKeep,
		promptStyle:   true,
		envStyle:      true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand replaces placeholders in s with values from vars.
//
// An error is only returned when MissingAction is MissingError and a
// variable is not found; the partially expanded string is returned with it.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	result := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		switch match {
		case "{{":
			if e.promptStyle {
				return "{"
			}
			return match
		case "}}":
			if e.promptStyle {
				return "}"
			}
			return match
		}

		env := strings.HasPrefix(match, "$")
		if env && !e.envStyle {
			return match
		}
		if !env && !e.promptStyle {
			return match
		}

		name := strings.TrimSuffix(strings.TrimLeft(match, "${"), "}")
		if val, ok := vars[name]; ok {
			return fmt.Sprintf("%v", val)
		}

		switch e.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
			return match
		default:
			return match
		}
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// MustExpand expands s and panics on error.
func (e *Expander) MustExpand(s string, vars map[string]any) string {
	result, err := e.Expand(s, vars)
	if err != nil {
		panic(fmt.Sprintf("template: %v", err))
	}
	return result
}

// ExpandMap expands all string values of a map, recursing into nested
// maps and slices. Other values are copied as-is.
func (e *Expander) ExpandMap(m map[string]any, vars map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]any, len(m))
	for k, v := range m {
		expanded, err := e.expandValue(v, vars)
		if err != nil {
			return nil, err
		}
		result[k] = expanded
	}
	return result, nil
}

func (e *Expander) expandValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return e.Expand(val, vars)
	case map[string]any:
		return e.ExpandMap(val, vars)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			expanded, err := e.expandValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

// UndefinedVariableError is returned when MissingError is set and
// one or more variables are not found.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Expand expands s with the default expander, keeping unknown placeholders.
func Expand(s string, vars map[string]any) string {
	result, _ := defaultExpander.Expand(s, vars)
	return result
}
