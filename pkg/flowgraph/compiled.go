package flowgraph

import (
	"maps"
	"slices"
)

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls. Each run owns its state; runs share nothing but an optional
// checkpoint store.
type CompiledGraph[S any] struct {
	nodes      map[string]NodeFunc[S]
	order      []string
	edges      map[string]string
	routers    map[string]RouterFunc[S]
	routes     map[string]map[string]string
	entryPoint string

	predecessors map[string][]string

	fields     map[string]FieldDecl[S]
	fieldNames []string
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in the order they were added.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return slices.Clone(cg.order)
}

// Fields returns the declared field names in declaration order.
func (cg *CompiledGraph[S]) Fields() []string {
	return slices.Clone(cg.fieldNames)
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns the node IDs that can follow the given node, including
// every conditional route target, sorted. Returns nil for END, unknown and
// terminal nodes.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if id == END {
		return nil
	}
	if to, ok := cg.edges[id]; ok {
		return []string{to}
	}
	table, ok := cg.routes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(table))
	var out []string
	for _, to := range table {
		if !seen[to] {
			seen[to] = true
			out = append(out, to)
		}
	}
	slices.Sort(out)
	return out
}

// Predecessors returns the node IDs that have edges to the given node.
// Returns nil for the entry node or unknown nodes.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return slices.Clone(cg.predecessors[id])
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.routers[id]
	return ok
}

// Routes returns a copy of the label to target table for a conditional node,
// or nil.
func (cg *CompiledGraph[S]) Routes(id string) map[string]string {
	return maps.Clone(cg.routes[id])
}

// IsTerminal returns true if the node has no outgoing edge.
func (cg *CompiledGraph[S]) IsTerminal(id string) bool {
	if !cg.HasNode(id) {
		return false
	}
	_, simple := cg.edges[id]
	_, conditional := cg.routers[id]
	return !simple && !conditional
}

func (cg *CompiledGraph[S]) getNode(id string) (NodeFunc[S], bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}
