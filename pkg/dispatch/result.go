package dispatch

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of one invocation. When IsError is false Value holds
// the handler's return value; otherwise Error holds the failure text.
// Attempts is set by Retrying.
type Result struct {
	Operation string `json:"operation,omitempty"`
	Value     any    `json:"value,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

// Success builds a successful result.
func Success(operation string, value any) Result {
	return Result{Operation: operation, Value: value}
}

// Failure builds a failed result.
func Failure(operation, message string) Result {
	return Result{Operation: operation, IsError: true, Error: message}
}

// Err returns a *HandlerExecutionError for a failed result and nil otherwise.
func (r Result) Err() error {
	if !r.IsError {
		return nil
	}
	return &HandlerExecutionError{Operation: r.Operation, Message: r.Error}
}

// Text renders the value as text: strings as-is, everything else as JSON.
// Failed results render their error text.
func (r Result) Text() string {
	if r.IsError {
		return r.Error
	}
	switch v := r.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	data, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Sprint(r.Value)
	}
	return string(data)
}

// Decode copies the value into v through JSON. Results that crossed a
// transport hold decoded JSON shapes; Decode restores typed structs.
func (r Result) Decode(v any) error {
	if r.IsError {
		return r.Err()
	}
	data, err := json.Marshal(r.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
