package template

import "fmt"

// Prompt is a named pair of system and user templates written in prompt
// style. Every placeholder must be supplied when it is rendered.
type Prompt struct {
	Name   string
	System string
	User   string
}

var strict = NewExpander(WithMissingAction(MissingError), WithEnvStyle(false))

// Render expands both templates. Missing variables are an error.
func (p Prompt) Render(vars map[string]any) (system, user string, err error) {
	system, err = strict.Expand(p.System, vars)
	if err != nil {
		return "", "", fmt.Errorf("prompt %s system: %w", p.Name, err)
	}
	user, err = strict.Expand(p.User, vars)
	if err != nil {
		return "", "", fmt.Errorf("prompt %s user: %w", p.Name, err)
	}
	return system, user, nil
}

// MustRender is Render for prompts whose variables are fixed at the call site.
func (p Prompt) MustRender(vars map[string]any) (system, user string) {
	system, user, err := p.Render(vars)
	if err != nil {
		panic(fmt.Sprintf("template: %v", err))
	}
	return system, user
}
