package flowgraph

import (
	"fmt"
	"strings"
)

// MergeFunc combines a field's current value with the value from an update.
// It must not modify current in place; return a new value instead.
type MergeFunc[T any] func(current, update T) T

// Field declares one updatable field of state S with its merge policy.
// Fields are created once with NewField and passed to NewGraph.
type Field[S, T any] struct {
	name   string
	access func(*S) *T
	merge  MergeFunc[T]
}

// FieldDecl is the type-erased view of a Field used by the graph builder.
type FieldDecl[S any] interface {
	// Name returns the field's declared name.
	Name() string

	declared()
}

// NewField declares a state field. The accessor returns a pointer to the
// field inside a state value. A nil merge uses Replace.
//
// Panics if name is empty or accessor is nil.
//
// Example:
//
//	var messages = flowgraph.NewField("messages",
//	    func(s *Chat) *[]string { return &s.Messages },
//	    flowgraph.Append[string]())
func NewField[S, T any](name string, accessor func(*S) *T, merge MergeFunc[T]) *Field[S, T] {
	if strings.TrimSpace(name) == "" {
		panic("flowgraph: field name cannot be empty")
	}
	if accessor == nil {
		panic("flowgraph: field accessor cannot be nil")
	}
	if merge == nil {
		merge = Replace[T]()
	}
	return &Field[S, T]{name: name, access: accessor, merge: merge}
}

// Name returns the field's declared name.
func (f *Field[S, T]) Name() string {
	return f.name
}

func (f *Field[S, T]) declared() {}

// Get reads the field from a state value.
func (f *Field[S, T]) Get(s S) T {
	return *f.access(&s)
}

// Set returns an update entry that merges v into the field.
func (f *Field[S, T]) Set(v T) FieldUpdate[S] {
	return FieldUpdate[S]{
		field: f,
		apply: func(s *S) {
			p := f.access(s)
			*p = f.merge(*p, v)
		},
	}
}

// FieldUpdate is one field's entry in a partial update.
type FieldUpdate[S any] struct {
	field FieldDecl[S]
	apply func(*S)
}

// FieldName returns the name of the field this entry updates.
func (u FieldUpdate[S]) FieldName() string {
	if u.field == nil {
		return ""
	}
	return u.field.Name()
}

// Update is a partial state update returned by a node.
// Entries are merged in order, so two entries for the same field both apply.
type Update[S any] []FieldUpdate[S]

// Fields returns the names of the fields the update touches, in order.
func (u Update[S]) Fields() []string {
	names := make([]string, 0, len(u))
	for _, fu := range u {
		names = append(names, fu.FieldName())
	}
	return names
}

// applyUpdate merges an update into state. Every entry must belong to a field
// in the declared set; otherwise nothing is applied.
func applyUpdate[S any](state S, update Update[S], fields map[string]FieldDecl[S]) (S, error) {
	for _, fu := range update {
		if fu.field == nil || fu.apply == nil {
			return state, fmt.Errorf("%w: empty field update", ErrUndeclaredField)
		}
		decl, ok := fields[fu.field.Name()]
		if !ok || decl != fu.field {
			return state, fmt.Errorf("%w: %s", ErrUndeclaredField, fu.field.Name())
		}
	}

	next := state
	for _, fu := range update {
		fu.apply(&next)
	}
	return next, nil
}
