package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/randalmurphal/toolflow/pkg/dispatch"
	"github.com/randalmurphal/toolflow/pkg/dispatch/jsonrpc"
)

// Tool metadata keys. metaReturns carries Definition.Returns on each listed
// tool; metaError carries the wire form of a registry rejection so the
// coordinator can rebuild the typed error.
const (
	metaReturns = "toolflow/returns"
	metaError   = "toolflow/error"
)

// DefaultServerInfo identifies workers that do not set Server.Info.
var DefaultServerInfo = mcp.Implementation{Name: "toolflow-worker", Version: "1"}

// Server exposes a registry as a tool server. Each registered operation
// becomes one tool whose handler runs Registry.Invoke.
type Server struct {
	Registry *dispatch.Registry
	Info     mcp.Implementation
	Logger   *slog.Logger
}

// Serve runs a worker over r and w until r reaches EOF (returning nil) or
// ctx is cancelled.
func Serve(ctx context.Context, reg *dispatch.Registry, r io.Reader, w io.Writer, opts ...dispatch.Option) error {
	o := dispatch.NewOptions(opts...)
	s := &Server{Registry: reg, Info: DefaultServerInfo, Logger: o.Logger}
	return s.Serve(ctx, r, w)
}

// Serve answers requests read from r on w. The end of r is a normal
// shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	in := &eofReader{r: r}
	err := s.Run(ctx, &mcp.IOTransport{Reader: in, Writer: nopWriteCloser(w)})
	if in.sawEOF.Load() && ctx.Err() == nil {
		s.logger().Debug("stdin closed, worker stopping")
		return nil
	}
	return err
}

// Run serves the registry on t until the session ends.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	srv := s.MCPServer()
	s.logger().Debug("worker serving", "server_name", s.info().Name, "operations", s.Registry.Len())
	return srv.Run(ctx, t)
}

// MCPServer builds the tool server for the registry's current operations.
func (s *Server) MCPServer() *mcp.Server {
	info := s.info()
	srv := mcp.NewServer(&info, nil)
	for _, def := range s.Registry.Operations() {
		srv.AddTool(toolFor(def), s.handler(def.Name))
	}
	return srv
}

func (s *Server) info() mcp.Implementation {
	if s.Info.Name == "" {
		return DefaultServerInfo
	}
	return s.Info
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return rejection(&dispatch.ParameterError{
					Operation: name,
					Param:     "arguments",
					Reason:    "arguments must be a JSON object",
				}), nil
			}
		}

		res, err := s.Registry.Invoke(ctx, name, args)
		if err != nil {
			s.logger().Debug("call rejected", "operation", name, "error", err)
			return rejection(err), nil
		}
		return toCallResult(res), nil
	}
}

func toolFor(def dispatch.Definition) *mcp.Tool {
	t := &mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.InputSchema(),
	}
	if def.Returns != "" {
		t.Meta = mcp.Meta{metaReturns: string(def.Returns)}
	}
	return t
}

// rejection reports a call the registry refused before the handler ran.
func rejection(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Meta:    mcp.Meta{metaError: dispatch.WireError(err)},
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

// toCallResult renders a result as text content. Values other than strings
// also travel as structured content so their JSON types survive.
func toCallResult(res dispatch.Result) *mcp.CallToolResult {
	out := &mcp.CallToolResult{Content: []mcp.Content{}}
	switch v := res.Value.(type) {
	case nil:
		if res.IsError {
			out.IsError = true
			out.Content = append(out.Content, &mcp.TextContent{Text: res.Error})
		}
	case string:
		out.Content = append(out.Content, &mcp.TextContent{Text: v})
	default:
		data, err := json.Marshal(v)
		if err != nil {
			out.IsError = true
			out.Content = append(out.Content, &mcp.TextContent{Text: "unserializable result: " + err.Error()})
			return out
		}
		out.StructuredContent = json.RawMessage(data)
		out.Content = append(out.Content, &mcp.TextContent{Text: string(data)})
	}
	return out
}

// fromCallResult maps a tool result back to a dispatch result. Rejections
// carry their wire error in the result metadata.
func fromCallResult(operation string, cr *mcp.CallToolResult) (dispatch.Result, error) {
	text, err := textOf(cr.Content)
	if err != nil {
		return dispatch.Result{}, &dispatch.MalformedResponseError{Transport: Transport, Raw: rawOf(cr), Err: err}
	}

	if cr.IsError {
		if wire, ok := cr.Meta[metaError]; ok {
			var rpcErr jsonrpc.Error
			if err := remarshal(wire, &rpcErr); err != nil {
				return dispatch.Result{}, &dispatch.MalformedResponseError{Transport: Transport, Raw: rawOf(cr), Err: err}
			}
			return dispatch.Result{}, dispatch.ErrorFromWire(operation, &rpcErr)
		}
		return dispatch.Failure(operation, text), nil
	}
	if cr.StructuredContent != nil {
		return dispatch.Success(operation, cr.StructuredContent), nil
	}
	if len(cr.Content) == 0 {
		return dispatch.Success(operation, nil), nil
	}
	return dispatch.Success(operation, text), nil
}

// textOf joins the text blocks of a result. Any other kind of content is
// not something an operation can produce.
func textOf(content []mcp.Content) (string, error) {
	var out string
	for i, c := range content {
		tc, ok := c.(*mcp.TextContent)
		if !ok {
			return "", errors.New("tool result carries non-text content")
		}
		if i > 0 {
			out += "\n"
		}
		out += tc.Text
	}
	return out, nil
}

func rawOf(cr *mcp.CallToolResult) string {
	data, err := json.Marshal(cr)
	if err != nil {
		return ""
	}
	return string(data)
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// eofReader records whether the underlying stream ended.
type eofReader struct {
	r      io.Reader
	sawEOF atomic.Bool
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if errors.Is(err, io.EOF) {
		e.sawEOF.Store(true)
	}
	return n, err
}

func (e *eofReader) Close() error {
	if c, ok := e.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func nopWriteCloser(w io.Writer) io.WriteCloser {
	if wc, ok := w.(io.WriteCloser); ok {
		return wc
	}
	return writeCloser{w}
}

type writeCloser struct{ io.Writer }

func (writeCloser) Close() error { return nil }
