package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// Config wraps a parsed configuration tree.
// Accessors return the default if the key is missing or has the wrong type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal.
//
// Accepts a time.ParseDuration string, a number of seconds, or a
// time.Duration.
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Sub returns the nested section at key, or an empty Config.
func (c Config) Sub(key string) Config {
	if m, ok := c.data[key].(map[string]any); ok {
		return New(m)
	}
	return New(nil)
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}

// ExpandEnv replaces ${NAME} references in every string value with the
// value of the environment variable NAME. Unset variables are left as-is.
func (c Config) ExpandEnv() (Config, error) {
	return c.ExpandVars(environ())
}

// ExpandVars replaces ${name} references using vars.
func (c Config) ExpandVars(vars map[string]any) (Config, error) {
	exp := template.NewExpander(template.WithPromptStyle(false))
	expanded, err := exp.ExpandMap(c.data, vars)
	if err != nil {
		return Config{}, fmt.Errorf("expand config: %w", err)
	}
	return New(expanded), nil
}

// Decode copies the tree into out, a pointer to a struct, matching keys to
// `mapstructure` tags. Strings are converted where the field type needs
// it ("30s" to time.Duration, "8080" to int). Unknown keys are an error so
// typos do not pass silently.
func (c Config) Decode(out any) error {
	if reflect.ValueOf(out).Kind() != reflect.Pointer {
		return fmt.Errorf("decode config: target must be a pointer, got %T", out)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := dec.Decode(c.data); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func environ() map[string]any {
	vars := make(map[string]any)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}
