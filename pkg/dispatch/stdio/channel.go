package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/randalmurphal/toolflow/pkg/dispatch"
)

// Transport is the transport label used in errors, logs and metrics.
const Transport = "stdio"

// maxLineSize is the read buffer size for worker output.
const maxLineSize = 1 << 20

// sessionSettle bounds how long a failed call waits for the session to
// report that it ended before the failure is returned as-is.
const sessionSettle = 250 * time.Millisecond

// ErrNotReady is returned by calls made before the handshake completed.
var ErrNotReady = errors.New("stdio: channel not initialized")

// State is the lifecycle state of a Channel.
type State int32

// Channel states. A channel moves Unstarted → Initializing → Ready, flips
// between Ready and Calling per call, and ends in Closed.
const (
	StateUnstarted State = iota
	StateInitializing
	StateReady
	StateCalling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateCalling:
		return "calling"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ClientInfo identifies the coordinator in the handshake.
var ClientInfo = mcp.Implementation{Name: "toolflow", Version: "1"}

// Channel is the coordinator side of a connection to one worker.
//
// At most one request is outstanding at a time. Concurrent callers queue
// for a single slot.
type Channel struct {
	opts   dispatch.Options
	logger *slog.Logger

	transport mcp.Transport
	malformed chan string
	sem       chan struct{}
	state     atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
	cause     error

	mu         sync.RWMutex
	session    *mcp.ClientSession
	serverInfo mcp.Implementation
	operations []dispatch.Definition
	known      map[string]bool

	proc *process
}

// NewChannel returns an unconnected channel over t. Call Initialize before
// Call. Closing the channel closes the session opened on t.
func NewChannel(t mcp.Transport, opts ...dispatch.Option) *Channel {
	return newChannel(t, dispatch.NewOptions(opts...))
}

// NewStreamChannel returns an unconnected channel over a worker's output r
// and input w, one JSON-RPC message per line. A line that is not a JSON-RPC
// message fails the pending call with *dispatch.MalformedResponseError and
// is otherwise dropped, so the session survives it.
func NewStreamChannel(r io.ReadCloser, w io.WriteCloser, opts ...dispatch.Option) *Channel {
	return newStreamChannel(r, w, dispatch.NewOptions(opts...))
}

func newStreamChannel(r io.ReadCloser, w io.WriteCloser, opts dispatch.Options) *Channel {
	c := newChannel(nil, opts)
	c.malformed = make(chan string)
	pr, pw := io.Pipe()
	go c.screen(r, pw)
	c.transport = &mcp.IOTransport{Reader: &screenedReader{PipeReader: pr, src: r}, Writer: w}
	return c
}

func newChannel(t mcp.Transport, opts dispatch.Options) *Channel {
	return &Channel{
		opts:      opts,
		logger:    opts.Logger,
		transport: t,
		sem:       make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// ServerInfo returns the worker identity reported in the handshake.
func (c *Channel) ServerInfo() mcp.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Operations returns the operation list cached during the handshake, in the
// order the worker listed them.
func (c *Channel) Operations() []dispatch.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]dispatch.Definition, len(c.operations))
	copy(out, c.operations)
	return out
}

// Initialize connects a session on the transport and caches the worker's
// operations. A failed handshake closes the channel.
func (c *Channel) Initialize(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUnstarted), int32(StateInitializing)) {
		return fmt.Errorf("stdio: initialize in state %s", c.State())
	}

	if err := c.handshake(ctx); err != nil {
		c.shutdown(nil)
		c.closeSession()
		return err
	}

	c.state.CompareAndSwap(int32(StateInitializing), int32(StateReady))
	return nil
}

func (c *Channel) handshake(ctx context.Context) error {
	info := ClientInfo
	session, err := mcp.NewClient(&info, nil).Connect(ctx, c.transport, nil)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	go c.watch(session)

	var defs []dispatch.Definition
	params := &mcp.ListToolsParams{}
	for {
		page, err := session.ListTools(ctx, params)
		if err != nil {
			return fmt.Errorf("tools/list: %w", err)
		}
		for _, tool := range page.Tools {
			def, err := definitionFor(tool)
			if err != nil {
				return fmt.Errorf("tools/list: %w", err)
			}
			defs = append(defs, def)
		}
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}

	var serverInfo mcp.Implementation
	var protocol string
	if init := session.InitializeResult(); init != nil {
		protocol = init.ProtocolVersion
		if init.ServerInfo != nil {
			serverInfo = *init.ServerInfo
		}
	}

	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		known[def.Name] = true
	}
	c.mu.Lock()
	c.serverInfo = serverInfo
	c.operations = defs
	c.known = known
	c.mu.Unlock()

	c.logger.Info("worker initialized",
		"server_name", serverInfo.Name,
		"server_version", serverInfo.Version,
		"protocol_version", protocol,
		"operations", len(defs),
	)
	return nil
}

// definitionFor converts a listed tool back into the definition the worker
// registered.
func definitionFor(tool *mcp.Tool) (dispatch.Definition, error) {
	schema := map[string]any{}
	if tool.InputSchema != nil {
		if err := remarshal(tool.InputSchema, &schema); err != nil {
			return dispatch.Definition{}, &dispatch.MalformedResponseError{
				Transport: Transport,
				Raw:       fmt.Sprintf("%v", tool.InputSchema),
				Err:       fmt.Errorf("tool %q input schema: %w", tool.Name, err),
			}
		}
	}
	def := dispatch.Definition{
		Name:        tool.Name,
		Description: tool.Description,
		Params:      dispatch.ParamsFromSchema(schema),
	}
	if returns, ok := tool.Meta[metaReturns].(string); ok {
		def.Returns = dispatch.Type(returns)
	}
	return def, nil
}

// watch closes the channel when the session ends. For a subprocess worker
// the exit status becomes the cause reported to later calls.
func (c *Channel) watch(session *mcp.ClientSession) {
	err := session.Wait()
	if c.proc != nil {
		select {
		case <-c.proc.exited:
			if c.proc.err != nil {
				err = fmt.Errorf("worker exited: %w", c.proc.err)
			} else {
				err = nil
			}
		case <-time.After(sessionSettle):
		}
	}
	c.shutdown(err)
}

// Call invokes an operation on the worker and waits for its result.
func (c *Channel) Call(ctx context.Context, name string, params map[string]any) (dispatch.Result, error) {
	return c.opts.Observe(ctx, Transport, name, func(ctx context.Context) (dispatch.Result, error) {
		return c.call(ctx, name, params)
	})
}

func (c *Channel) call(ctx context.Context, name string, params map[string]any) (dispatch.Result, error) {
	switch c.State() {
	case StateUnstarted, StateInitializing:
		return dispatch.Result{}, ErrNotReady
	case StateClosed:
		return dispatch.Result{}, c.closedErr()
	}
	if !c.knows(name) {
		return dispatch.Result{}, &dispatch.UnknownOperationError{Name: name}
	}

	if err := c.acquire(ctx); err != nil {
		return dispatch.Result{}, err
	}
	defer c.release()

	if c.state.CompareAndSwap(int32(StateReady), int32(StateCalling)) {
		defer c.state.CompareAndSwap(int32(StateCalling), int32(StateReady))
	}

	var args any
	if params != nil {
		args = params
	}
	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if c.malformed != nil {
		answered := make(chan struct{})
		defer close(answered)
		go func() {
			select {
			case line := <-c.malformed:
				cancel(&dispatch.MalformedResponseError{Transport: Transport, Raw: line, Err: errNotMessage})
			case <-answered:
			}
		}()
	}

	cr, err := c.currentSession().CallTool(callCtx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		var malformed *dispatch.MalformedResponseError
		if ctx.Err() == nil && errors.As(context.Cause(callCtx), &malformed) {
			return dispatch.Result{}, malformed
		}
		return dispatch.Result{}, c.callError(ctx, err)
	}
	return fromCallResult(name, cr)
}

// Ping checks that the worker is responsive.
func (c *Channel) Ping(ctx context.Context) error {
	switch c.State() {
	case StateUnstarted, StateInitializing:
		return ErrNotReady
	case StateClosed:
		return c.closedErr()
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err := c.currentSession().Ping(ctx, &mcp.PingParams{}); err != nil {
		return c.callError(ctx, err)
	}
	return nil
}

// callError maps a failed request. A session that ended underneath the call
// yields *dispatch.ChannelClosedError; a session that is still up received
// an answer it could not use.
func (c *Channel) callError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	settle := time.NewTimer(sessionSettle)
	defer settle.Stop()
	select {
	case <-c.done:
		return c.closedErr()
	case <-settle.C:
	}
	return &dispatch.MalformedResponseError{Transport: Transport, Raw: err.Error(), Err: err}
}

var errNotMessage = errors.New("not a JSON-RPC message")

// screen copies whole JSON-RPC messages from r to w, one per line, and
// reports every other non-empty line as malformed. The end of r, or its
// error, ends w.
func (c *Channel) screen(r io.Reader, w *io.PipeWriter) {
	reader := bufio.NewReaderSize(r, maxLineSize)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if isMessage(trimmed) {
				if _, werr := w.Write(append(trimmed, '\n')); werr != nil {
					return
				}
			} else {
				c.reportMalformed(string(trimmed))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			w.CloseWithError(err)
			return
		}
	}
}

func (c *Channel) reportMalformed(line string) {
	select {
	case c.malformed <- line:
	case <-time.After(sessionSettle):
		c.logger.Warn("dropping worker output that is not a JSON-RPC message", "line", line)
	}
}

// isMessage reports whether line is a request, notification or response.
func isMessage(line []byte) bool {
	var msg struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(line, &msg); err != nil || msg.JSONRPC != "2.0" {
		return false
	}
	return msg.Method != "" || (len(msg.ID) > 0 && (len(msg.Result) > 0 || len(msg.Error) > 0))
}

// screenedReader is the session's end of a screened stream. Closing it also
// closes the worker stream so screen returns.
type screenedReader struct {
	*io.PipeReader
	src io.Closer
}

func (s *screenedReader) Close() error {
	s.PipeReader.Close()
	return s.src.Close()
}

// Close moves the channel to Closed, fails any pending call with
// *dispatch.ChannelClosedError and ends the session. For a subprocess
// channel it waits for the worker to exit, killing it after a grace period,
// and reports a worker that had to be killed or exited with a failure status.
func (c *Channel) Close() error {
	c.shutdown(nil)
	c.closeSession()
	if c.proc != nil {
		return c.proc.stop(c.logger)
	}
	return nil
}

// Done is closed when the channel reaches Closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// shutdown closes the channel once. cause is reported by later calls.
func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		c.state.Store(int32(StateClosed))
		close(c.done)
		if cause != nil {
			c.logger.Warn("worker channel closed", "error", cause)
		} else {
			c.logger.Debug("worker channel closed")
		}
	})
}

func (c *Channel) closeSession() {
	if s := c.currentSession(); s != nil {
		if err := s.Close(); err != nil {
			c.logger.Debug("session close", "error", err)
		}
	}
}

func (c *Channel) closedErr() error {
	<-c.done
	return &dispatch.ChannelClosedError{Transport: Transport, Err: c.cause}
}

func (c *Channel) currentSession() *mcp.ClientSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Channel) knows(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known[name]
}

// acquire waits for the call slot. The context and the channel are checked
// again after the slot is won so a cancelled caller never sends.
func (c *Channel) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		if err := ctx.Err(); err != nil {
			c.release()
			return err
		}
		select {
		case <-c.done:
			c.release()
			return c.closedErr()
		default:
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

func (c *Channel) release() {
	<-c.sem
}

var _ dispatch.Caller = (*Channel)(nil)
