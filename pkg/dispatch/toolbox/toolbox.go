// Package toolbox connects a coordinator to several workers at once.
//
// Each worker is reached over stdio or an event stream as described by a
// config.ToolboxFile. Its operations are namespaced as
// "mcp_{server}_{operation}" so that workers may reuse operation names, and
// the combined set can be called directly or bridged into a
// dispatch.Registry.
package toolbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/randalmurphal/toolflow/pkg/dispatch"
	"github.com/randalmurphal/toolflow/pkg/dispatch/sse"
	"github.com/randalmurphal/toolflow/pkg/dispatch/stdio"
	"github.com/randalmurphal/toolflow/pkg/flowgraph/config"
	fgerrors "github.com/randalmurphal/toolflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/toolflow/pkg/flowgraph/registry"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// Tool is one namespaced operation of a connected worker.
type Tool struct {
	// Name is the namespaced name, e.g. mcp_forex_get_rate.
	Name string
	// Server is the worker name from the toolbox file.
	Server string
	// Definition is the worker's own definition, with its original name.
	Definition dispatch.Definition
}

type server struct {
	name      string
	transport string
	caller    dispatch.Caller
	cfg       config.ServerConfig
}

// Toolbox holds the connected workers and their namespaced tools.
// It is safe for concurrent use.
type Toolbox struct {
	servers *registry.Registry[string, *server]
	tools   *registry.Registry[string, Tool]
	opts    []dispatch.Option
	logger  *slog.Logger
}

// New creates an empty toolbox. opts are passed to every channel it opens.
func New(opts ...dispatch.Option) *Toolbox {
	return &Toolbox{
		servers: registry.New[string, *server](),
		tools:   registry.New[string, Tool](),
		opts:    opts,
		logger:  dispatch.NewOptions(opts...).Logger,
	}
}

// Open connects every server in f in name order. If any connection fails,
// the ones already opened are closed and the error is returned.
func Open(ctx context.Context, f *config.ToolboxFile, opts ...dispatch.Option) (*Toolbox, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	tb := New(opts...)
	for _, name := range f.ServerNames() {
		if err := tb.Connect(ctx, name, f.Servers[name]); err != nil {
			return nil, errors.Join(err, tb.Close())
		}
	}
	return tb, nil
}

// Connect opens a channel to one worker and registers its tools.
func (tb *Toolbox) Connect(ctx context.Context, name string, cfg config.ServerConfig) error {
	if tb.servers.Has(name) {
		return fmt.Errorf("toolbox: server %q already connected", name)
	}

	switch cfg.Transport {
	case config.TransportStdio, "":
		ch, err := stdio.Start(ctx, stdio.Config{
			Name:    name,
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.EnvList(),
			Dir:     cfg.Dir,
		}, tb.opts...)
		if err != nil {
			return fmt.Errorf("connect %s: %w", name, err)
		}
		cfg.Transport = config.TransportStdio
		if err := tb.attach(name, ch, ch.Operations(), cfg); err != nil {
			return errors.Join(err, ch.Close())
		}
		return nil

	case config.TransportSSE:
		client := sse.NewClient(sse.ClientConfig{URL: cfg.URL}, tb.opts...)
		defs, err := client.Operations(ctx)
		if err != nil {
			return fmt.Errorf("connect %s: %w", name, err)
		}
		return tb.attach(name, client, defs, cfg)
	}
	return &config.ConfigurationError{
		Problems: []string{fmt.Sprintf("server %q: unknown transport %q", name, cfg.Transport)},
	}
}

// Attach registers an already connected caller under name. defs lists the
// operations it serves; cfg supplies the include/exclude filters and the
// per-call timeout. If caller implements io.Closer it is closed by Close.
func (tb *Toolbox) Attach(name string, caller dispatch.Caller, defs []dispatch.Definition, cfg config.ServerConfig) error {
	if tb.servers.Has(name) {
		return fmt.Errorf("toolbox: server %q already connected", name)
	}
	return tb.attach(name, caller, defs, cfg)
}

func (tb *Toolbox) attach(name string, caller dispatch.Caller, defs []dispatch.Definition, cfg config.ServerConfig) error {
	include := toSet(cfg.Include)
	exclude := toSet(cfg.Exclude)

	var added []string
	for _, def := range defs {
		if len(include) > 0 {
			if !include[def.Name] {
				continue
			}
		} else if exclude[def.Name] {
			continue
		}

		tool := Tool{Name: ToolName(name, def.Name), Server: name, Definition: def}
		if err := tb.tools.Add(tool.Name, tool); err != nil {
			for _, n := range added {
				tb.tools.Delete(n)
			}
			return fmt.Errorf("toolbox: %s operation %q collides with tool %q", name, def.Name, tool.Name)
		}
		added = append(added, tool.Name)

		tb.logger.Debug("bridged operation",
			"operation", def.Name,
			"tool", tool.Name,
			"server", name,
		)
	}

	tb.servers.Register(name, &server{
		name:      name,
		transport: cfg.Transport,
		caller:    caller,
		cfg:       cfg,
	})
	tb.logger.Info("worker connected", "server", name, "transport", cfg.Transport, "tools", len(added))
	return nil
}

// Servers returns the connected server names in connection order.
func (tb *Toolbox) Servers() []string {
	return tb.servers.Keys()
}

// Tools returns every namespaced tool in connection order.
func (tb *Toolbox) Tools() []Tool {
	return tb.tools.Values()
}

// Tool returns the tool registered under a namespaced name.
func (tb *Toolbox) Tool(name string) (Tool, bool) {
	return tb.tools.Get(name)
}

// Server returns a caller for one worker that takes the worker's own
// operation names and applies the server's timeout.
func (tb *Toolbox) Server(name string) (dispatch.Caller, bool) {
	s, ok := tb.servers.Get(name)
	if !ok {
		return nil, false
	}
	return dispatch.CallerFunc(s.call), true
}

// Call invokes a tool by its namespaced name. Names that are not in the
// toolbox fail with *dispatch.UnknownOperationError.
func (tb *Toolbox) Call(ctx context.Context, name string, params map[string]any) (dispatch.Result, error) {
	tool, ok := tb.tools.Get(name)
	if !ok {
		return dispatch.Result{}, &dispatch.UnknownOperationError{Name: name}
	}
	s, ok := tb.servers.Get(tool.Server)
	if !ok {
		return dispatch.Result{}, &dispatch.UnknownOperationError{Name: name}
	}

	res, err := s.call(ctx, tool.Definition.Name, params)
	res.Operation = name
	return res, err
}

// call applies the server timeout. A call cut short by that timeout, rather
// than by the caller's own deadline, fails with *fgerrors.TimeoutError.
func (s *server) call(ctx context.Context, operation string, params map[string]any) (dispatch.Result, error) {
	if s.cfg.Timeout <= 0 {
		return s.caller.Call(ctx, operation, params)
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	res, err := s.caller.Call(tctx, operation, params)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return res, &fgerrors.TimeoutError{
			Operation: s.name + "/" + operation,
			Duration:  s.cfg.Timeout,
			Err:       err,
		}
	}
	return res, err
}

// Bridge registers every tool on reg under its namespaced name. The
// registered handlers forward to the worker; a failure result from the
// worker becomes a failure result of the bridged operation. It returns the
// number of operations registered.
func (tb *Toolbox) Bridge(reg *dispatch.Registry) (int, error) {
	count := 0
	for _, tool := range tb.Tools() {
		name := tool.Name
		op := dispatch.Operation{
			Name:        name,
			Description: tool.Definition.Description,
			Params:      tool.Definition.Params,
			Returns:     tool.Definition.Returns,
			Handler: func(ctx context.Context, p dispatch.Params) (any, error) {
				res, err := tb.Call(ctx, name, p.Raw())
				if err != nil {
					return nil, err
				}
				if res.IsError {
					return nil, errors.New(res.Error)
				}
				return res.Value, nil
			},
		}
		if err := reg.Register(op); err != nil {
			return count, fmt.Errorf("bridge %s: %w", name, err)
		}
		count++
	}
	return count, nil
}

// Close closes every connected worker that can be closed.
func (tb *Toolbox) Close() error {
	var errs []error
	for _, s := range tb.servers.Values() {
		if c, ok := s.caller.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
			}
		}
		tb.servers.Delete(s.name)
	}
	for _, name := range tb.tools.Keys() {
		tb.tools.Delete(name)
	}
	return errors.Join(errs...)
}

// ToolName builds the namespaced tool name for a server and operation.
// Both parts are sanitized to lowercase alphanumerics and underscores.
func ToolName(serverName, operation string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(serverName), sanitize(operation))
}

// sanitize lowercases name, replaces other characters with underscores,
// collapses runs of underscores and trims them from both ends.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = sanitizeRe.ReplaceAllString(s, "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

var _ dispatch.Caller = (*Toolbox)(nil)
