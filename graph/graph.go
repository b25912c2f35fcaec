// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"sort"
)

// =============================================================================
// Queries
// =============================================================================

// Nodes returns all nodes sorted by index.
//
// Sorted iteration keeps every algorithm in this package deterministic:
// two runs over the same input always visit nodes in the same order.
func (g *ProgramGraph) Nodes() []*Node {
	indexes := make([]int, 0, len(g.nodes))
	for idx := range g.nodes {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	result := make([]*Node, len(indexes))
	for i, idx := range indexes {
		result[i] = g.nodes[idx]
	}
	return result
}

// Edges returns all edges sorted by (From, To).
func (g *ProgramGraph) Edges() []*Edge {
	result := make([]*Edge, 0, g.edgeCount)
	for _, targets := range g.succ {
		for _, edge := range targets {
			result = append(result, edge)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].From != result[j].From {
			return result[i].From < result[j].From
		}
		return result[i].To < result[j].To
	})
	return result
}

// GetSuccessors returns the distinct successor nodes of the given node,
// sorted by index.
//
// Outputs:
//
//	[]*Node - Successor set. Empty slice for sink nodes.
//	error - ErrNodeNotFound if the index is not in the graph.
func (g *ProgramGraph) GetSuccessors(index int) ([]*Node, error) {
	if _, ok := g.nodes[index]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, index)
	}
	return g.neighborNodes(g.succ[index]), nil
}

// GetPredecessors returns the distinct predecessor nodes of the given node,
// sorted by index.
//
// Outputs:
//
//	[]*Node - Predecessor set. Empty slice for source nodes.
//	error - ErrNodeNotFound if the index is not in the graph.
func (g *ProgramGraph) GetPredecessors(index int) ([]*Node, error) {
	if _, ok := g.nodes[index]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, index)
	}
	return g.neighborNodes(g.pred[index]), nil
}

// neighborNodes converts an adjacency row to a sorted node slice.
func (g *ProgramGraph) neighborNodes(row map[int]*Edge) []*Node {
	indexes := make([]int, 0, len(row))
	for idx := range row {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	result := make([]*Node, len(indexes))
	for i, idx := range indexes {
		result[i] = g.nodes[idx]
	}
	return result
}

// successorIndexes returns the sorted successor indexes of a node.
func (g *ProgramGraph) successorIndexes(index int) []int {
	indexes := make([]int, 0, len(g.succ[index]))
	for idx := range g.succ[index] {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

// predecessorIndexes returns the sorted predecessor indexes of a node.
func (g *ProgramGraph) predecessorIndexes(index int) []int {
	indexes := make([]int, 0, len(g.pred[index]))
	for idx := range g.pred[index] {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

// EntryNode returns the unique node with no incoming edges.
//
// Description:
//
//	The entry of a well-formed graph is the single in-degree-zero node.
//	Callers must check the boolean: a graph under construction, an empty
//	graph, or a graph with several source nodes has no entry.
//
// Outputs:
//
//	*Node - The entry node, or nil.
//	bool - True if exactly one in-degree-zero node exists.
func (g *ProgramGraph) EntryNode() (*Node, bool) {
	var entry *Node
	for idx, node := range g.nodes {
		if len(g.pred[idx]) == 0 {
			if entry != nil {
				return nil, false
			}
			entry = node
		}
	}
	return entry, entry != nil
}

// ExitNodes returns all nodes with no outgoing edges, sorted by index.
func (g *ProgramGraph) ExitNodes() []*Node {
	indexes := make([]int, 0)
	for idx := range g.nodes {
		if len(g.succ[idx]) == 0 {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)

	result := make([]*Node, len(indexes))
	for i, idx := range indexes {
		result[i] = g.nodes[idx]
	}
	return result
}

// TransitiveSuccessors returns every node reachable from the given node
// by one or more edges, sorted by index.
//
// Description:
//
//	Iterative worklist traversal. The start node itself appears in the
//	result only when it is reachable through a cycle.
//
// Outputs:
//
//	[]*Node - Reachable set. Empty slice for sink nodes.
//	error - ErrNodeNotFound if the index is not in the graph.
//
// Complexity: O(V + E).
func (g *ProgramGraph) TransitiveSuccessors(index int) ([]*Node, error) {
	if _, ok := g.nodes[index]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, index)
	}

	visited := make(map[int]bool)
	worklist := g.successorIndexes(index)

	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		worklist = append(worklist, g.successorIndexes(current)...)
	}

	indexes := make([]int, 0, len(visited))
	for idx := range visited {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	result := make([]*Node, len(indexes))
	for i, idx := range indexes {
		result[i] = g.nodes[idx]
	}
	return result, nil
}

// treeParent returns the single predecessor of a node in a tree-shaped
// graph. Panics if the node has more than one predecessor: a tree node
// with two parents means the structure is corrupt and no downstream
// result can be trusted.
func (g *ProgramGraph) treeParent(index int) (int, bool) {
	row := g.pred[index]
	switch len(row) {
	case 0:
		return 0, false
	case 1:
		for parent := range row {
			return parent, true
		}
	}
	panic(fmt.Sprintf("graph: node %d has %d parents, tree invariant violated", index, len(g.pred[index])))
}

// LeastCommonAncestor returns the deepest node that is an ancestor of
// both inputs in a tree-shaped graph.
//
// Description:
//
//	Climbs the single-parent chain of each node. A node is its own
//	ancestor, so LeastCommonAncestor(n, n) returns n and the LCA of a
//	node and its parent is the parent. Behavior is undefined on graphs
//	that are not trees; a node with several parents triggers a panic.
//
// Outputs:
//
//	*Node - The least common ancestor.
//	error - ErrNodeNotFound if either index is not in the graph, or a
//	        descriptive error if the nodes share no ancestor.
//
// Complexity: O(depth).
func (g *ProgramGraph) LeastCommonAncestor(a, b int) (*Node, error) {
	if _, ok := g.nodes[a]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, a)
	}
	if _, ok := g.nodes[b]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, b)
	}

	ancestors := make(map[int]bool)
	current := a
	ancestors[current] = true
	for {
		parent, ok := g.treeParent(current)
		if !ok {
			break
		}
		ancestors[parent] = true
		current = parent
	}

	current = b
	for {
		if ancestors[current] {
			return g.nodes[current], nil
		}
		parent, ok := g.treeParent(current)
		if !ok {
			return nil, fmt.Errorf("nodes %d and %d share no ancestor", a, b)
		}
		current = parent
	}
}

// =============================================================================
// Derived copies
// =============================================================================

// Reverse returns a new graph with every edge direction flipped.
//
// Description:
//
//	Node values are shared with the source graph; edges are fresh Edge
//	structs carrying the original branch labels. The result is in the
//	Building state so callers can continue to modify it.
//
// Thread Safety:
//
//	The returned graph is independent and can be modified without
//	affecting the source.
func (g *ProgramGraph) Reverse() *ProgramGraph {
	reversed := &ProgramGraph{
		nodes:   make(map[int]*Node, len(g.nodes)),
		succ:    make(map[int]map[int]*Edge, len(g.succ)),
		pred:    make(map[int]map[int]*Edge, len(g.pred)),
		state:   GraphStateBuilding,
		options: g.options,
	}

	for idx, node := range g.nodes {
		reversed.nodes[idx] = node
	}

	for _, targets := range g.succ {
		for _, edge := range targets {
			flipped := &Edge{From: edge.To, To: edge.From, Branch: edge.Branch}
			if reversed.succ[flipped.From] == nil {
				reversed.succ[flipped.From] = make(map[int]*Edge)
			}
			if reversed.pred[flipped.To] == nil {
				reversed.pred[flipped.To] = make(map[int]*Edge)
			}
			reversed.succ[flipped.From][flipped.To] = flipped
			reversed.pred[flipped.To][flipped.From] = flipped
			reversed.edgeCount++
		}
	}

	return reversed
}

// Copy returns a structural copy of the graph.
//
// Description:
//
//	Node values are shared with the source graph; edges are fresh Edge
//	structs. The copy is always in the Building state to allow
//	modification, which is how the control-dependence construction
//	augments a frozen CFG.
func (g *ProgramGraph) Copy() *ProgramGraph {
	clone := &ProgramGraph{
		nodes:   make(map[int]*Node, len(g.nodes)),
		succ:    make(map[int]map[int]*Edge, len(g.succ)),
		pred:    make(map[int]map[int]*Edge, len(g.pred)),
		state:   GraphStateBuilding,
		options: g.options,
	}

	for idx, node := range g.nodes {
		clone.nodes[idx] = node
	}

	for _, targets := range g.succ {
		for _, edge := range targets {
			copied := &Edge{From: edge.From, To: edge.To, Branch: edge.Branch}
			if clone.succ[copied.From] == nil {
				clone.succ[copied.From] = make(map[int]*Edge)
			}
			if clone.pred[copied.To] == nil {
				clone.pred[copied.To] = make(map[int]*Edge)
			}
			clone.succ[copied.From][copied.To] = copied
			clone.pred[copied.To][copied.From] = copied
			clone.edgeCount++
		}
	}

	return clone
}
