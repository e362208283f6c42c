package dispatch

import (
	"errors"

	"github.com/randalmurphal/toolflow/pkg/dispatch/jsonrpc"
)

// WireError converts a registry error into the JSON-RPC error both
// transports put on the wire. Unrecognised errors become internal errors.
func WireError(err error) *jsonrpc.Error {
	var unknown *UnknownOperationError
	var param *ParameterError
	switch {
	case errors.As(err, &unknown):
		return &jsonrpc.Error{
			Code:    jsonrpc.CodeUnknownOperation,
			Message: err.Error(),
			Data:    map[string]any{"operation": unknown.Name},
		}
	case errors.As(err, &param):
		return &jsonrpc.Error{
			Code:    jsonrpc.CodeInvalidParams,
			Message: err.Error(),
			Data: map[string]any{
				"operation": param.Operation,
				"param":     param.Param,
				"reason":    param.Reason,
			},
		}
	}
	return &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: err.Error()}
}

// ErrorFromWire rebuilds the typed error for a JSON-RPC error received in
// answer to a call of operation. Codes without a typed form are returned as
// the *jsonrpc.Error itself.
func ErrorFromWire(operation string, e *jsonrpc.Error) error {
	data, _ := e.Data.(map[string]any)
	str := func(key, fallback string) string {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
		return fallback
	}

	switch e.Code {
	case jsonrpc.CodeUnknownOperation:
		return &UnknownOperationError{Name: str("operation", operation)}
	case jsonrpc.CodeInvalidParams:
		if _, ok := data["param"]; ok {
			return &ParameterError{
				Operation: str("operation", operation),
				Param:     str("param", ""),
				Reason:    str("reason", e.Message),
			}
		}
	}
	return e
}
