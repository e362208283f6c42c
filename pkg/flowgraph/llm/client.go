// Package llm provides the language model clients used by pipeline stages.
//
// Stages receive a Client through their context (see WithClient and
// ClientFrom) so the engine stays independent of any provider. OpenAI talks
// to any OpenAI-compatible chat completions endpoint; MockClient returns
// canned answers for tests and examples.
package llm

import (
	"context"
	"fmt"

	fgerrors "github.com/randalmurphal/toolflow/pkg/flowgraph/errors"
)

// Client generates completions.
type Client interface {
	// Complete returns the whole response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream returns content as it is generated. The channel is closed
	// after a chunk with Done or Error set.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

type clientKey struct{}

// WithClient returns a context carrying c.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFrom returns the client stored by WithClient, or nil.
func ClientFrom(ctx context.Context) Client {
	c, _ := ctx.Value(clientKey{}).(Client)
	return c
}

// Error wraps a failed client operation.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError creates an Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCategory implements errors.Categorizer.
func (e *Error) ErrorCategory() fgerrors.Category {
	if e.Retryable {
		return fgerrors.CategoryTransient
	}
	return fgerrors.Categorize(e.Err)
}
