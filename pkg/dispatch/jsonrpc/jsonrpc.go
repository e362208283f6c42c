// Package jsonrpc defines the JSON-RPC 2.0 error object a worker returns when
// it rejects a call before the handler runs.
//
// The SSE transport sends it as the error of an event, and the stdio
// transport carries it in the metadata of a failed tool result, so both
// transports report the same codes.
package jsonrpc

import "fmt"

// Standard and application error codes.
const (
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeUnknownOperation = -32001
)

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
