package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in a toolbox file.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ServerConfig describes one worker process the coordinator talks to.
type ServerConfig struct {
	// Transport is "stdio" (default) or "sse".
	Transport string `yaml:"transport"`

	// Command and Args launch a stdio worker.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Env is added to the worker environment as KEY=VALUE pairs.
	Env map[string]string `yaml:"env"`

	// Dir is the working directory of a stdio worker.
	Dir string `yaml:"dir"`

	// URL is the event-stream endpoint of an sse worker.
	URL string `yaml:"url"`

	// Timeout bounds a single invocation. Zero means no per-call timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Include and Exclude filter which operations are bridged.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// EnvList renders Env as a sorted KEY=VALUE slice.
func (s ServerConfig) EnvList() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// ToolboxFile is the on-disk description of every worker a coordinator
// connects to.
//
//	log_level: debug
//	require_env: [OPENAI_API_KEY]
//	servers:
//	  forex:
//	    command: ./bin/forex-worker
//	  chatbot:
//	    transport: sse
//	    url: http://localhost:8000/sse
type ToolboxFile struct {
	LogLevel   string                  `yaml:"log_level"`
	RequireEnv []string                `yaml:"require_env"`
	Servers    map[string]ServerConfig `yaml:"servers"`
}

// LoadToolbox reads a toolbox file, expanding ${VAR} references from the
// environment before parsing.
func LoadToolbox(path string) (*ToolboxFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read toolbox file: %w", err)
	}
	return ParseToolbox(data)
}

// ParseToolbox parses toolbox YAML and validates it.
func ParseToolbox(data []byte) (*ToolboxFile, error) {
	expanded := os.ExpandEnv(string(data))

	var f ToolboxFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse toolbox yaml: %w", err)
	}
	for name, s := range f.Servers {
		if s.Transport == "" {
			s.Transport = TransportStdio
			f.Servers[name] = s
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every server entry and the required environment.
// All problems are reported together in one *ConfigurationError.
func (f *ToolboxFile) Validate() error {
	cfgErr := &ConfigurationError{}

	if len(f.Servers) == 0 {
		cfgErr.Problems = append(cfgErr.Problems, "no servers configured")
	}
	for _, name := range f.ServerNames() {
		s := f.Servers[name]
		switch s.Transport {
		case TransportStdio:
			if s.Command == "" {
				cfgErr.Problems = append(cfgErr.Problems, fmt.Sprintf("server %q: stdio transport requires command", name))
			}
		case TransportSSE:
			if s.URL == "" {
				cfgErr.Problems = append(cfgErr.Problems, fmt.Sprintf("server %q: sse transport requires url", name))
			}
		default:
			cfgErr.Problems = append(cfgErr.Problems, fmt.Sprintf("server %q: unknown transport %q", name, s.Transport))
		}
	}
	cfgErr.Missing = missingEnv(f.RequireEnv)

	if cfgErr.empty() {
		return nil
	}
	return cfgErr
}

// ServerNames returns the configured server names in sorted order.
func (f *ToolboxFile) ServerNames() []string {
	names := make([]string, 0, len(f.Servers))
	for name := range f.Servers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
