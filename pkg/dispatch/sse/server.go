// Package sse serves and calls operations over single-event HTTP streams.
//
// A coordinator POSTs {"tool": name, "params": {...}} to /sse. The worker
// answers with Content-Type text/event-stream and exactly one event:
//
//	data: {"result": ...}
//
// followed by a blank line, then closes the stream. Handler failures are
// sent as {"isError": true, "error": "text"} and registry errors as
// {"error": {"code": ..., "message": ..., "data": ...}} using the same codes
// as the stdio transport.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/randalmurphal/toolflow/pkg/dispatch"
)

// Transport is the transport label used in errors, logs and metrics.
const Transport = "sse"

// DefaultFlushDelay is how long the handler keeps the stream open after
// flushing the event.
const DefaultFlushDelay = 100 * time.Millisecond

// maxRequestBytes bounds the request body.
const maxRequestBytes = 1 << 20

// Request is the body of POST /sse.
type Request struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// envelope is the payload of the single data line.
type envelope struct {
	Result  any             `json:"result,omitempty"`
	IsError bool            `json:"isError,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Handler serves POST /sse for a registry.
type Handler struct {
	Registry *dispatch.Registry

	// FlushDelay keeps the stream open after the event is flushed so slow
	// clients read it before the connection closes. Zero disables it.
	FlushDelay time.Duration

	logger *slog.Logger
}

// NewHandler creates a handler with the default flush delay.
func NewHandler(reg *dispatch.Registry, opts ...dispatch.Option) *Handler {
	return &Handler{
		Registry:   reg,
		FlushDelay: DefaultFlushDelay,
		logger:     dispatch.NewOptions(opts...).Logger,
	}
}

// NewMux mounts a handler at POST /sse together with GET /tools (the
// operation list) and GET /health.
func NewMux(reg *dispatch.Registry, opts ...dispatch.Option) *http.ServeMux {
	return NewHandler(reg, opts...).Mux()
}

// Mux mounts h and its companion endpoints on a new ServeMux.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /sse", h)
	mux.HandleFunc("GET /tools", h.handleTools)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// ServeHTTP invokes the requested operation and streams its result.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Tool == "" {
		h.errorResponse(w, http.StatusBadRequest, "tool is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	start := time.Now()
	res, err := h.Registry.Invoke(r.Context(), req.Tool, req.Params)
	data := encodeEnvelope(req.Tool, res, err)

	h.logger.Debug("event-stream call",
		"operation", req.Tool,
		"duration_ms", time.Since(start).Milliseconds(),
		"is_error", res.IsError,
		"rejected", err != nil,
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		h.logger.Debug("failed to write event", "error", err)
		return
	}
	flusher.Flush()

	if h.FlushDelay > 0 {
		timer := time.NewTimer(h.FlushDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.Context().Done():
		}
	}
}

func toEnvelope(res dispatch.Result, err error) envelope {
	if err != nil {
		data, _ := json.Marshal(dispatch.WireError(err))
		return envelope{Error: data}
	}
	if res.IsError {
		data, _ := json.Marshal(res.Error)
		return envelope{IsError: true, Error: data}
	}
	return envelope{Result: res.Value}
}

// encodeEnvelope renders the single event payload. It is built before the
// status line is written, and a payload that cannot be encoded is replaced
// by a failure envelope so the stream always carries one data line.
func encodeEnvelope(operation string, res dispatch.Result, err error) []byte {
	data, merr := json.Marshal(toEnvelope(res, err))
	if merr == nil {
		return data
	}
	data, _ = json.Marshal(toEnvelope(dispatch.Failure(operation, "unserializable result: "+merr.Error()), nil))
	return data
}

func (h *Handler) handleTools(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": h.Registry.Operations()}, h.logger)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "healthy", "operations": h.Registry.Len()}, h.logger)
}

func (h *Handler) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, h.logger)
}

func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}
