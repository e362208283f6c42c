package dispatch

import (
	"fmt"

	fgerrors "github.com/randalmurphal/toolflow/pkg/flowgraph/errors"
)

// DuplicateOperationError is returned by Register when the name is taken.
type DuplicateOperationError struct {
	Name string
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("operation %q already registered", e.Name)
}

// ErrorCategory implements errors.Categorizer.
func (e *DuplicateOperationError) ErrorCategory() fgerrors.Category {
	return fgerrors.CategoryConfiguration
}

// UnknownOperationError reports a call to a name the worker does not serve.
// The handler never runs.
type UnknownOperationError struct {
	Name string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}

// ErrorCategory implements errors.Categorizer.
func (e *UnknownOperationError) ErrorCategory() fgerrors.Category {
	return fgerrors.CategoryCaller
}

// ParameterError reports a missing, ill-typed or undeclared parameter.
// The handler never runs.
type ParameterError struct {
	Operation string
	Param     string
	Reason    string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("operation %q: parameter %q: %s", e.Operation, e.Param, e.Reason)
}

// ErrorCategory implements errors.Categorizer.
func (e *ParameterError) ErrorCategory() fgerrors.Category {
	return fgerrors.CategoryCaller
}

// HandlerExecutionError is the error form of a failure Result.
type HandlerExecutionError struct {
	Operation string
	Message   string
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("operation %q failed: %s", e.Operation, e.Message)
}

// ErrorCategory implements errors.Categorizer.
func (e *HandlerExecutionError) ErrorCategory() fgerrors.Category {
	return fgerrors.CategoryPermanent
}

// ChannelClosedError is returned by calls on a channel that was closed or
// whose worker exited. Err holds the exit cause when one is known.
type ChannelClosedError struct {
	Transport string
	Err       error
}

func (e *ChannelClosedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s channel closed: %v", e.Transport, e.Err)
	}
	return fmt.Sprintf("%s channel closed", e.Transport)
}

func (e *ChannelClosedError) Unwrap() error {
	return e.Err
}

// ErrorCategory implements errors.Categorizer.
func (e *ChannelClosedError) ErrorCategory() fgerrors.Category {
	return fgerrors.CategoryPermanent
}

// MalformedResponseError reports a response that could not be decoded.
// Only the current call fails; the channel stays usable.
type MalformedResponseError struct {
	Transport string
	Raw       string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Transport, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// ErrorCategory implements errors.Categorizer.
func (e *MalformedResponseError) ErrorCategory() fgerrors.Category {
	return fgerrors.CategoryPermanent
}

// TransportError reports a non-200 answer to an event-stream request.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transport error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("transport error: status %d: %s", e.StatusCode, e.Body)
}

// ErrorCategory implements errors.Categorizer. 429 and 5xx are transient.
func (e *TransportError) ErrorCategory() fgerrors.Category {
	return fgerrors.CategorizeStatus(e.StatusCode)
}
