package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks (in order):
//  1. Field names must be unique
//  2. Entry point must be set and reference an existing node
//  3. All edge sources and targets must reference existing nodes or END
//  4. No node has more than one simple edge, or both simple and conditional edges
//  5. Every conditional edge has a non-empty route table whose targets exist
//  6. A path from entry to termination must exist
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	fields := make(map[string]FieldDecl[S], len(g.fields))
	for _, f := range g.fields {
		if f == nil {
			continue
		}
		if _, dup := fields[f.Name()]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateField, f.Name()))
			continue
		}
		fields[f.Name()] = f
	}

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		targets := g.edges[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range targets {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
				}
			}
		}
		if len(targets) > 1 {
			errs = append(errs, fmt.Errorf("%w: node '%s' has %d", ErrMultipleEdges, from, len(targets)))
		}
		if _, hasRouter := g.routers[from]; hasRouter {
			errs = append(errs, fmt.Errorf("%w: node '%s'", ErrConflictingEdges, from))
		}
	}

	for _, from := range g.routerDups {
		errs = append(errs, fmt.Errorf("%w: node '%s' has more than one conditional edge", ErrConflictingEdges, from))
	}

	for _, from := range slices.Sorted(maps.Keys(g.routers)) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		routes := g.routes[from]
		if len(routes) == 0 {
			errs = append(errs, fmt.Errorf("%w: node '%s'", ErrNoRoutes, from))
			continue
		}
		for _, label := range slices.Sorted(maps.Keys(routes)) {
			to := routes[label]
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: route '%s' from '%s' targets '%s'", ErrNodeNotFound, label, from, to))
				}
			}
		}
	}

	if _, exists := g.nodes[g.entryPoint]; exists && !g.hasPathToEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}

	g.warnUnreachableNodes()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiledGraph(fields), nil
}

// targets returns every possible successor of a node, including END.
func (g *Graph[S]) targets(id string) []string {
	out := slices.Clone(g.edges[id])
	for _, to := range g.routes[id] {
		out = append(out, to)
	}
	return out
}

// hasPathToEnd checks if execution starting at entry can terminate.
// A node with no outgoing edge terminates, as does any edge to END.
func (g *Graph[S]) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}
	for id := range g.nodes {
		if len(g.targets(id)) == 0 {
			canReachEnd[id] = true
		}
	}

	changed := true
	for changed {
		changed = false
		for id := range g.nodes {
			if canReachEnd[id] {
				continue
			}
			for _, to := range g.targets(id) {
				if canReachEnd[to] {
					canReachEnd[id] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph[S]) warnUnreachableNodes() {
	if g.entryPoint == "" {
		return
	}

	reachable := g.findReachableNodes()

	for _, nodeID := range g.order {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry point.
// Route tables are static, so conditional targets are followed exactly.
func (g *Graph[S]) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)

	if g.entryPoint == "" {
		return reachable
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.targets(current) {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph[S]) buildCompiledGraph(fields map[string]FieldDecl[S]) *CompiledGraph[S] {
	nodes := maps.Clone(g.nodes)

	edges := make(map[string]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = targets[0]
	}

	routers := maps.Clone(g.routers)
	routes := make(map[string]map[string]string, len(g.routes))
	for from, table := range g.routes {
		routes[from] = maps.Clone(table)
	}

	predecessors := make(map[string][]string)
	for _, from := range g.order {
		for _, to := range g.targets(from) {
			if to != END && !slices.Contains(predecessors[to], from) {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	fieldNames := make([]string, 0, len(g.fields))
	for _, f := range g.fields {
		if f != nil {
			fieldNames = append(fieldNames, f.Name())
		}
	}

	return &CompiledGraph[S]{
		nodes:        nodes,
		order:        slices.Clone(g.order),
		edges:        edges,
		routers:      routers,
		routes:       routes,
		entryPoint:   g.entryPoint,
		predecessors: predecessors,
		fields:       fields,
		fieldNames:   fieldNames,
	}
}
