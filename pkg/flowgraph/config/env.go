package config

import (
	"fmt"
	"os"
	"strings"
)

// ConfigurationError reports missing or invalid startup configuration.
// It is fatal: processes should refuse to start rather than run degraded.
type ConfigurationError struct {
	// Missing lists environment variables that are unset or empty.
	Missing []string
	// Problems lists other configuration defects.
	Problems []string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing environment variables: "+strings.Join(e.Missing, ", "))
	}
	parts = append(parts, e.Problems...)
	if len(parts) == 0 {
		return "configuration error"
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Problems) == 0
}

// RequireEnv returns the values of the named environment variables.
// If any are unset or empty, it returns a *ConfigurationError naming all of them.
func RequireEnv(names ...string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	for _, name := range names {
		values[name] = os.Getenv(name)
	}
	if missing := missingEnv(names); len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}
	return values, nil
}

// EnvOr returns the environment variable or fallback when it is unset or empty.
func EnvOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// Endpoint validates that raw looks like an http(s) URL and returns it.
func Endpoint(name, raw string) (string, error) {
	if raw == "" {
		return "", &ConfigurationError{Problems: []string{fmt.Sprintf("%s: endpoint not configured", name)}}
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", &ConfigurationError{Problems: []string{fmt.Sprintf("%s: endpoint %q must be http or https", name, raw)}}
	}
	return raw, nil
}

func missingEnv(names []string) []string {
	var missing []string
	for _, name := range names {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
