package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/registry"
)

// Registry holds the operations a worker serves, in registration order.
// Registration happens at startup; Invoke and the read methods are safe for
// concurrent use.
type Registry struct {
	ops *registry.Registry[string, Operation]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: registry.New[string, Operation]()}
}

// Register adds op. It fails with *DuplicateOperationError when the name is
// taken and with an error wrapping ErrInvalidOperation when op is malformed.
func (r *Registry) Register(op Operation) error {
	if err := op.validate(); err != nil {
		return err
	}
	op.Params = op.Definition().Params
	if err := r.ops.Add(op.Name, op); err != nil {
		if errors.Is(err, registry.ErrDuplicate) {
			return &DuplicateOperationError{Name: op.Name}
		}
		return err
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(ops ...Operation) *Registry {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(fmt.Sprintf("dispatch: %v", err))
		}
	}
	return r
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	op, ok := r.ops.Get(name)
	if !ok {
		return Definition{}, false
	}
	return op.Definition(), true
}

// Operations lists the registered definitions in registration order.
func (r *Registry) Operations() []Definition {
	ops := r.ops.Values()
	defs := make([]Definition, len(ops))
	for i, op := range ops {
		defs[i] = op.Definition()
	}
	return defs
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	return r.ops.Len()
}

// Invoke validates params against the named operation and runs its handler.
//
// Unknown names fail with *UnknownOperationError and bad parameters with
// *ParameterError; in both cases the handler does not run. A handler error,
// a panic, or a value JSON cannot encode is returned as a failure Result
// with a nil error, so no transport ever has to write an unencodable value.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (Result, error) {
	op, ok := r.ops.Get(name)
	if !ok {
		return Result{}, &UnknownOperationError{Name: name}
	}

	bound, err := op.bind(params)
	if err != nil {
		return Result{}, err
	}

	value, err := runHandler(ctx, op, NewParams(bound))
	if err != nil {
		return Failure(name, err.Error()), nil
	}
	if _, err := json.Marshal(value); err != nil {
		return Failure(name, "unserializable result: "+err.Error()), nil
	}
	return Success(name, value), nil
}

// Call implements Caller by invoking in-process.
func (r *Registry) Call(ctx context.Context, name string, params map[string]any) (Result, error) {
	return r.Invoke(ctx, name, params)
}

func runHandler(ctx context.Context, op Operation, params Params) (value any, err error) {
	defer func() {
		if v := recover(); v != nil {
			value = nil
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return op.Handler(ctx, params)
}
