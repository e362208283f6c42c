package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/randalmurphal/toolflow/internal/httpkit"
	"github.com/randalmurphal/toolflow/pkg/dispatch"
	"github.com/randalmurphal/toolflow/pkg/dispatch/jsonrpc"
)

// errorBodyLimit bounds how much of a non-200 body is kept in TransportError.
const errorBodyLimit = 4096

// ClientConfig describes an event-stream worker.
type ClientConfig struct {
	// URL is the worker's base URL, e.g. http://localhost:8000. A trailing
	// /sse is accepted and stripped.
	URL string

	// Timeout bounds one call including the stream read. Zero means no
	// limit beyond the call's context.
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client is the coordinator side of the event-stream transport.
type Client struct {
	baseURL string
	http    *http.Client
	opts    dispatch.Options
}

// NewClient creates a client for the worker at cfg.URL.
func NewClient(cfg ClientConfig, opts ...dispatch.Option) *Client {
	o := dispatch.NewOptions(opts...)
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout))
	}
	return &Client{
		baseURL: strings.TrimSuffix(strings.TrimRight(cfg.URL, "/"), "/sse"),
		http:    hc,
		opts:    o,
	}
}

// URL returns the worker's base URL.
func (c *Client) URL() string {
	return c.baseURL
}

// Call posts one invocation and decodes the single event it answers with.
func (c *Client) Call(ctx context.Context, name string, params map[string]any) (dispatch.Result, error) {
	return c.opts.Observe(ctx, Transport, name, func(ctx context.Context) (dispatch.Result, error) {
		return c.call(ctx, name, params)
	})
}

func (c *Client) call(ctx context.Context, name string, params map[string]any) (dispatch.Result, error) {
	body, err := json.Marshal(Request{Tool: name, Params: params})
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sse", bytes.NewReader(body))
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("post %s: %w", req.URL, err)
	}

	if resp.StatusCode != http.StatusOK {
		return dispatch.Result{}, &dispatch.TransportError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(httpkit.ReadErrorBody(resp.Body, errorBodyLimit)),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	data, err := firstEvent(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dispatch.Result{}, ctxErr
		}
		return dispatch.Result{}, &dispatch.MalformedResponseError{Transport: Transport, Err: err}
	}
	return decodeEnvelope(name, data)
}

// firstEvent returns the payload of the first data line.
func firstEvent(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("stream ended without a data line")
}

func decodeEnvelope(name, data string) (dispatch.Result, error) {
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return dispatch.Result{}, &dispatch.MalformedResponseError{Transport: Transport, Raw: data, Err: err}
	}

	if len(env.Error) > 0 {
		if env.IsError {
			var text string
			if err := json.Unmarshal(env.Error, &text); err != nil {
				text = string(env.Error)
			}
			return dispatch.Failure(name, text), nil
		}
		var rpcErr jsonrpc.Error
		if err := json.Unmarshal(env.Error, &rpcErr); err != nil {
			return dispatch.Result{}, &dispatch.MalformedResponseError{Transport: Transport, Raw: data, Err: err}
		}
		return dispatch.Result{}, dispatch.ErrorFromWire(name, &rpcErr)
	}
	if env.IsError {
		return dispatch.Failure(name, ""), nil
	}
	return dispatch.Success(name, env.Result), nil
}

// Operations fetches the worker's operation list from GET /tools.
func (c *Client) Operations(ctx context.Context) ([]dispatch.Definition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", req.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &dispatch.TransportError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(httpkit.ReadErrorBody(resp.Body, errorBodyLimit)),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	var list struct {
		Tools []dispatch.Definition `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &dispatch.MalformedResponseError{Transport: Transport, Err: err}
	}
	return list.Tools, nil
}

var _ dispatch.Caller = (*Client)(nil)
