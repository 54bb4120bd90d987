package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExpand_PromptStyle tests {var} placeholder expansion.
func TestExpand_PromptStyle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		vars     map[string]any
		expected string
	}{
		{"simple variable", "Hello {name}", map[string]any{"name": "World"}, "Hello World"},
		{"multiple variables", "{greeting} {name}!", map[string]any{"greeting": "Hi", "name": "Ana"}, "Hi Ana!"},
		{"adjacent variables", "{a}{b}{c}", map[string]any{"a": 1, "b": 2, "c": 3}, "123"},
		{"numeric value", "limit {n}", map[string]any{"n": 10}, "limit 10"},
		{"escaped braces", `{{"intent": "{intent}"}}`, map[string]any{"intent": "faq"}, `{"intent": "faq"}`},
		{"escaped placeholder", "{{name}}", map[string]any{"name": "x"}, "{name}"},
		{"json without identifier", `{"k": 1}`, nil, `{"k": 1}`},
		{"missing kept", "Hello {who}", nil, "Hello {who}"},
		{"empty input", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Expand(tt.input, tt.vars))
		})
	}
}

// TestExpand_EnvStyle tests ${var} placeholder expansion.
func TestExpand_EnvStyle(t *testing.T) {
	vars := map[string]any{"HOST": "db.local", "PORT": 5432}

	assert.Equal(t, "postgres://db.local:5432/app", Expand("postgres://${HOST}:${PORT}/app", vars))
	assert.Equal(t, "$HOST", Expand("$HOST", vars), "bare dollar names are not placeholders")
}

// TestExpand_DisabledStyles tests each style can be switched off.
func TestExpand_DisabledStyles(t *testing.T) {
	vars := map[string]any{"name": "x"}

	noPrompt := NewExpander(WithPromptStyle(false))
	out, err := noPrompt.Expand("{name} ${name} {{", vars)
	require.NoError(t, err)
	assert.Equal(t, "{name} x {{", out)

	noEnv := NewExpander(WithEnvStyle(false))
	out, err = noEnv.Expand("{name} ${name}", vars)
	require.NoError(t, err)
	assert.Equal(t, "x ${name}", out)
}

// TestExpand_MissingActions tests the three missing variable policies.
func TestExpand_MissingActions(t *testing.T) {
	input := "a={a} b={b} c=${c}"
	vars := map[string]any{"a": 1}

	keep, err := NewExpander().Expand(input, vars)
	require.NoError(t, err)
	assert.Equal(t, "a=1 b={b} c=${c}", keep)

	empty, err := NewExpander(WithMissingAction(MissingEmpty)).Expand(input, vars)
	require.NoError(t, err)
	assert.Equal(t, "a=1 b= c=", empty)

	_, err = NewExpander(WithMissingAction(MissingError)).Expand(input, vars)
	var undef *UndefinedVariableError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, []string{"b", "c"}, undef.Names)
	assert.Equal(t, "undefined variables: b, c", undef.Error())
}

// TestMustExpand tests the panicking variant.
func TestMustExpand(t *testing.T) {
	strict := NewExpander(WithMissingAction(MissingError))
	assert.Equal(t, "ok", strict.MustExpand("{v}", map[string]any{"v": "ok"}))
	assert.Panics(t, func() { strict.MustExpand("{v}", nil) })
}

// TestExpandMap tests recursive expansion of configuration trees.
func TestExpandMap(t *testing.T) {
	exp := NewExpander()
	in := map[string]any{
		"dsn":  "${DSN}",
		"port": 8080,
		"auth": map[string]any{"secret": "${SECRET}"},
		"list": []any{"${DSN}", 3},
	}

	out, err := exp.ExpandMap(in, map[string]any{"DSN": "file:x.db", "SECRET": "s3"})
	require.NoError(t, err)

	assert.Equal(t, "file:x.db", out["dsn"])
	assert.Equal(t, 8080, out["port"])
	assert.Equal(t, "s3", out["auth"].(map[string]any)["secret"])
	assert.Equal(t, []any{"file:x.db", 3}, out["list"])
	assert.Equal(t, "${DSN}", in["dsn"], "input is not mutated")

	nilOut, err := exp.ExpandMap(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, nilOut)
}

// TestPrompt_Render tests strict prompt rendering.
func TestPrompt_Render(t *testing.T) {
	p := Prompt{
		Name:   "classifier",
		System: `Answer as {{"intent": "..."}}. Known intents: {intents}.`,
		User:   "Conversation:\n{history}\nMessage: {message}",
	}

	system, user, err := p.Render(map[string]any{
		"intents": "view_cart, faq",
		"history": "User: hi",
		"message": "show cart",
	})
	require.NoError(t, err)
	assert.Equal(t, `Answer as {"intent": "..."}. Known intents: view_cart, faq.`, system)
	assert.Equal(t, "Conversation:\nUser: hi\nMessage: show cart", user)

	_, _, err = p.Render(map[string]any{"intents": "x"})
	var undef *UndefinedVariableError
	require.ErrorAs(t, err, &undef)
	assert.Contains(t, err.Error(), "prompt classifier user")

	assert.Panics(t, func() { p.MustRender(nil) })
}
