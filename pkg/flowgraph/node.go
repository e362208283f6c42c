package flowgraph

// END is the terminal node identifier.
// Use this as an edge or route target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and a copy of the current state,
// and return a partial update naming only the fields they changed.
//
// The engine merges the update into the running state using each field's
// declared merge policy. Mutating the state argument has no effect.
//
// Example:
//
//	func lookup(ctx flowgraph.Context, s Chat) (flowgraph.Update[Chat], error) {
//	    return flowgraph.Update[Chat]{info.Set("data for " + s.Query)}, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (Update[S], error)

// RouterFunc computes a branch label from state for a conditional edge.
// The label is looked up in the route table declared with AddConditionalEdge.
// Routers should be pure: same state, same label.
//
// Example:
//
//	func route(ctx flowgraph.Context, s State) string {
//	    if s.Flag {
//	        return "B"
//	    }
//	    return "A"
//	}
type RouterFunc[S any] func(ctx Context, state S) string
