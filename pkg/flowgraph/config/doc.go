/*
Package config provides type-safe configuration extraction, toolbox files,
environment requirements and log level parsing.

# Typed Access

Config wraps a map[string]any and provides typed accessors that return
defaults on missing keys or type mismatches:

	cfg := config.New(map[string]any{
	    "timeout": "30s",
	    "retries": 3.0, // JSON numbers decode as float64
	})

	timeout := cfg.Duration("timeout", 10*time.Second) // 30s
	retries := cfg.Int("retries", 5)                   // 3
	missing := cfg.String("missing", "default")        // "default"

Tool handlers receive their validated parameters through the same accessors.

# Toolbox Files

A toolbox file lists the workers a coordinator connects to:

	servers:
	  userdb:
	    command: ./bin/userdb-worker
	  chatbot:
	    transport: sse
	    url: ${CHATBOT_URL}

LoadToolbox expands ${VAR} references, fills the default transport and
validates every entry, returning a *ConfigurationError that lists all
problems at once.

# Environment

RequireEnv fails with *ConfigurationError when credentials are absent, so
workers stop at startup instead of failing on the first request.
*/
package config
