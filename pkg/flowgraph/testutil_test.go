package flowgraph

import (
	"context"
)

// Test state types used across tests

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int
}

var counterValue = NewField("value", func(s *Counter) *int { return &s.Value }, Sum[int]())

// counterGraph returns a builder with the counter field declared.
func counterGraph() *Graph[Counter] {
	return NewGraph[Counter](counterValue)
}

// State is a more complex state for testing various scenarios.
type State struct {
	Step     int
	Progress []string
	Output   string
	Done     bool
	GoLeft   bool
	Flag     bool
	Count    int
}

var (
	stepField     = NewField("step", func(s *State) *int { return &s.Step }, nil)
	progressField = NewField("progress", func(s *State) *[]string { return &s.Progress }, Append[string]())
	outputField   = NewField("output", func(s *State) *string { return &s.Output }, nil)
	doneField     = NewField("done", func(s *State) *bool { return &s.Done }, nil)
	countField    = NewField("count", func(s *State) *int { return &s.Count }, Sum[int]())
)

// stateGraph returns a builder with every State field declared.
func stateGraph() *Graph[State] {
	return NewGraph[State](stepField, progressField, outputField, doneField, countField)
}

// Helper node functions

// increment is a node that increments the counter.
func increment(ctx Context, s Counter) (Update[Counter], error) {
	return Update[Counter]{counterValue.Set(1)}, nil
}

// passthrough returns an empty update.
func passthrough[S any](ctx Context, s S) (Update[S], error) {
	return nil, nil
}

// makeTrackingNode creates a node that records its execution.
func makeTrackingNode(name string, tracker *[]string) NodeFunc[State] {
	return func(ctx Context, s State) (Update[State], error) {
		*tracker = append(*tracker, name)
		return Update[State]{progressField.Set([]string{name})}, nil
	}
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc[State] {
	return func(ctx Context, s State) (Update[State], error) {
		return nil, err
	}
}

// makePanicNode creates a node that panics with the given value.
func makePanicNode(value any) NodeFunc[State] {
	return func(ctx Context, s State) (Update[State], error) {
		panic(value)
	}
}

// flagRouter routes to "B" when Flag is set, otherwise "A".
func flagRouter(ctx Context, s State) string {
	if s.Flag {
		return "B"
	}
	return "A"
}

// testCtx creates a simple test context.
func testCtx() Context {
	return NewContext(context.Background())
}
