package flowgraph

import (
	"fmt"
	"maps"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	graph := flowgraph.NewGraph[Chat](info, answer).
//	    AddNode("lookup", lookupNode).
//	    AddNode("respond", respondNode).
//	    AddEdge("lookup", "respond").
//	    SetEntry("lookup")
//
//	compiled, err := graph.Compile()
type Graph[S any] struct {
	mu         sync.RWMutex
	fields     []FieldDecl[S]
	nodes      map[string]NodeFunc[S]
	order      []string
	edges      map[string][]string
	routers    map[string]RouterFunc[S]
	routes     map[string]map[string]string
	routerDups []string
	entryPoint string
}

// NewGraph creates a new graph builder for state type S.
// The fields are the only parts of S that nodes may update; the set is
// fixed here and validated at Compile.
func NewGraph[S any](fields ...FieldDecl[S]) *Graph[S] {
	return &Graph[S]{
		fields:  append([]FieldDecl[S](nil), fields...),
		nodes:   make(map[string]NodeFunc[S]),
		edges:   make(map[string][]string),
		routers: make(map[string]RouterFunc[S]),
		routes:  make(map[string]map[string]string),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is the reserved word "END" or "__end__" (case-insensitive)
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
//   - id already exists in the graph
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if id == "" {
		panic("flowgraph: node ID cannot be empty")
	}

	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == "__end__" {
		panic("flowgraph: node ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("flowgraph: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}

	g.nodes[id] = fn
	g.order = append(g.order, id)
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or flowgraph.END.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
// A node may have at most one simple edge; a node with no outgoing
// edge is terminal.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a conditional edge. After from runs, router
// computes a label and execution continues at routes[label], which is a
// node ID or END. The route table is fixed here; a label missing from it
// fails the run with ErrUnknownRoute.
// Returns the graph for method chaining.
//
// Panics if router is nil.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S], routes map[string]string) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.routers[from]; exists {
		g.routerDups = append(g.routerDups, from)
	}
	g.routers[from] = router
	g.routes[from] = maps.Clone(routes)
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
//
// Entry point validation happens at Compile() time.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
