/*
Package config loads YAML or JSON configuration files into typed structs.

# Loading

	cfg, err := config.FromFile("convograph.yaml")
	if err != nil {
	    return err
	}
	cfg, err = cfg.ExpandEnv() // ${CONVOGRAPH_JWT_SECRET} and friends

	var settings Settings
	if err := cfg.Decode(&settings); err != nil {
	    return err
	}

Decode matches keys to `mapstructure` struct tags. Input is weakly typed,
so "30s" decodes into a time.Duration and "8080" into an int. Keys with no
matching field are rejected.

# Ad-hoc Access

String, Duration and Sub read single values with defaults when a full
struct is not worth declaring:

	timeout := cfg.Sub("llm").Duration("timeout", 30*time.Second)

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
