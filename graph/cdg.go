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
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/evogen/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Control-Dependence Graph
// =============================================================================

var cdgTracer = otel.Tracer("evogen.graph.cdg")

// augmentedStartIndex is the node index of the synthetic start node added
// during construction. It sits below every valid block index and is
// removed before the graph is returned.
const augmentedStartIndex = math.MinInt

// ControlDependenceError represents a failure during control-dependence
// computation.
type ControlDependenceError struct {
	Message string
}

func (e *ControlDependenceError) Error() string {
	return fmt.Sprintf("control dependence computation failed: %s", e.Message)
}

// ControlDependency names one predicate outcome that guards a node's
// execution: the node runs only when the predicate evaluates to Branch.
type ControlDependency struct {
	PredicateID int
	Branch      bool
}

// ControlDependenceGraph records which predicate outcomes control the
// execution of each node.
//
// An edge (a -> b) means b executes only for the labelled outcome of a.
// Unlabelled edges arise from non-conditional sources and are transparent
// to dependency queries; in particular, an unlabelled edge from the entry
// root marks a node that executes on every run of the unit. The graph
// shares node pointers with the source control-flow graph, so predicate
// tags applied there are visible here.
//
// Thread Safety: Safe for concurrent reads; the graph is frozen on
// construction.
type ControlDependenceGraph struct {
	*ProgramGraph

	root *Node
}

// ComputeControlDependenceGraph derives the control-dependence graph of a
// control-flow graph.
//
// Description:
//
//	Classic Ferrante-Ottenstein-Warren construction:
//	 1. Augment a copy of the graph with a synthetic start node wired to
//	    the entry and to every exit, so that entry-guarded and
//	    exit-guarded regions fall out of the same computation.
//	 2. Compute the post-dominator tree of the augmented graph.
//	 3. For each augmented edge (s -> t) where t does not strictly
//	    post-dominate s, walk from t up the post-dominator tree to the
//	    least common ancestor of s and t, exclusive, adding a dependence
//	    edge from s to each visited node with the originating edge's
//	    branch label. When the ancestor is s itself (a loop), s also
//	    becomes dependent on its own outcome.
//	 4. Redirect the start's dependence edges onto the entry, remove the
//	    start and the artificial exit, then drop nodes left without any
//	    edges. The entry remains as the root, guarding every node that
//	    executes unconditionally.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	cfg - The control-flow graph. Must be non-nil.
//
// Outputs:
//
//	*ControlDependenceGraph - The frozen graph. Nil on error.
//	error - Non-nil on nil input, post-dominator failure, or context
//	        cancellation.
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(E * depth) over the post-dominator tree walks.
func ComputeControlDependenceGraph(ctx context.Context, cfg *CFG) (*ControlDependenceGraph, error) {
	if cfg == nil {
		return nil, &ControlDependenceError{Message: "cfg is nil"}
	}

	startTime := time.Now()

	ctx, span := cdgTracer.Start(ctx, "ComputeControlDependenceGraph",
		trace.WithAttributes(
			attribute.Int("node_count", cfg.NodeCount()),
			attribute.Int("edge_count", cfg.EdgeCount()),
		),
	)
	defer span.End()

	if ctx.Err() != nil {
		span.AddEvent("context_cancelled_early")
		return nil, ctx.Err()
	}

	augmented, err := buildAugmentedGraph(cfg)
	if err != nil {
		return nil, err
	}
	span.AddEvent("augmented_graph_built", trace.WithAttributes(
		attribute.Int("node_count", augmented.NodeCount()),
		attribute.Int("edge_count", augmented.EdgeCount()),
	))

	exitNode, ok := augmented.GetNode(ExitIndex)
	if !ok {
		return nil, &ControlDependenceError{Message: "augmented graph has no exit node"}
	}

	pdt, err := computeDominatorTree(ctx, augmented.Reverse(), exitNode, "ComputeControlDependenceGraph.postdominators")
	if err != nil {
		return nil, err
	}
	span.AddEvent("post_dominators_complete", trace.WithAttributes(
		attribute.Int("iterations", pdt.Iterations()),
	))

	cdg := NewProgramGraph(
		WithMaxNodes(cfg.options.MaxNodes),
		WithMaxEdges(cfg.options.MaxEdges),
	)
	for _, node := range augmented.Nodes() {
		if err := cdg.AddNode(node); err != nil {
			return nil, &ControlDependenceError{Message: err.Error()}
		}
	}

	if err := addDependenceEdges(augmented, pdt, cdg); err != nil {
		return nil, err
	}
	span.AddEvent("dependence_edges_added", trace.WithAttributes(
		attribute.Int("edge_count", cdg.EdgeCount()),
	))

	removed, err := finalizeDependenceGraph(cdg)
	if err != nil {
		return nil, err
	}
	cdg.Freeze()

	root, ok := cdg.GetNode(EntryIndex)
	if !ok {
		return nil, &ControlDependenceError{Message: "entry node lost during finalization"}
	}

	span.AddEvent("finalize_complete", trace.WithAttributes(
		attribute.Int("removed", removed),
		attribute.Int("node_count", cdg.NodeCount()),
	))

	telemetry.LoggerWithTrace(ctx, slog.Default()).Debug("cdg: computation complete",
		slog.Int("nodes", cdg.NodeCount()),
		slog.Int("edges", cdg.EdgeCount()),
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(startTime)),
	)

	return &ControlDependenceGraph{ProgramGraph: cdg, root: root}, nil
}

// buildAugmentedGraph copies the control-flow graph and wires a synthetic
// start node to the entry and to every exit node.
func buildAugmentedGraph(cfg *CFG) (*ProgramGraph, error) {
	augmented := cfg.Copy()

	start := NewNode(augmentedStartIndex, nil, true)
	if err := augmented.AddNode(start); err != nil {
		return nil, &ControlDependenceError{Message: err.Error()}
	}
	if err := augmented.AddEdge(augmentedStartIndex, cfg.Entry().Index, BranchNone); err != nil {
		return nil, &ControlDependenceError{Message: err.Error()}
	}
	for _, exit := range cfg.ExitNodes() {
		if err := augmented.AddEdge(augmentedStartIndex, exit.Index, BranchNone); err != nil {
			return nil, &ControlDependenceError{Message: err.Error()}
		}
	}

	return augmented, nil
}

// addDependenceEdges runs the tree walks that turn post-dominance gaps
// into dependence edges.
func addDependenceEdges(augmented *ProgramGraph, pdt *DominatorTree, cdg *ProgramGraph) error {
	for _, edge := range augmented.Edges() {
		source, target := edge.From, edge.To

		if target != source && pdt.Dominates(target, source) {
			continue // target always executes after source, no dependence
		}

		lca, err := pdt.LeastCommonAncestor(source, target)
		if err != nil {
			return &ControlDependenceError{Message: err.Error()}
		}

		current := target
		for current != lca.Index {
			if err := cdg.AddEdge(source, current, edge.Branch); err != nil {
				return &ControlDependenceError{Message: err.Error()}
			}
			parent, ok := pdt.treeParent(current)
			if !ok {
				return &ControlDependenceError{
					Message: fmt.Sprintf("node %d detached from post-dominator tree", current),
				}
			}
			current = parent
		}

		if lca.Index == source {
			if err := cdg.AddEdge(source, source, edge.Branch); err != nil {
				return &ControlDependenceError{Message: err.Error()}
			}
		}
	}

	return nil
}

// finalizeDependenceGraph installs the entry node as the dependence root,
// then removes the synthetic start and artificial exit nodes and drops any
// node left without edges. Returns the number of nodes removed.
//
// The start's outgoing dependence edges mark the nodes that execute on
// every run of the unit; they are redirected onto the entry before the
// start is removed so those nodes stay in the graph and the root queries
// can reach them.
func finalizeDependenceGraph(cdg *ProgramGraph) (int, error) {
	rootGuarded := make([]int, 0, len(cdg.succ[augmentedStartIndex]))
	for target := range cdg.succ[augmentedStartIndex] {
		if target != EntryIndex {
			rootGuarded = append(rootGuarded, target)
		}
	}
	sort.Ints(rootGuarded)

	removed := 0
	for _, idx := range []int{augmentedStartIndex, ExitIndex} {
		if _, ok := cdg.nodes[idx]; ok {
			cdg.removeNode(idx)
			removed++
		}
	}

	for _, target := range rootGuarded {
		if err := cdg.AddEdge(EntryIndex, target, BranchNone); err != nil {
			return removed, &ControlDependenceError{Message: err.Error()}
		}
	}

	isolated := make([]int, 0)
	for idx := range cdg.nodes {
		if idx == EntryIndex {
			continue
		}
		if len(cdg.succ[idx]) == 0 && len(cdg.pred[idx]) == 0 {
			isolated = append(isolated, idx)
		}
	}
	for _, idx := range isolated {
		cdg.removeNode(idx)
	}

	return removed + len(isolated), nil
}

// ===== Queries =====

// Root returns the entry node of the source control-flow graph.
func (c *ControlDependenceGraph) Root() *Node {
	return c.root
}

// GetControlDependencies returns the predicate outcomes controlling a
// node's execution, sorted by predicate id then branch value.
//
// Description:
//
//	Walks the node's predecessors. A predicate-bearing predecessor
//	reached over a labelled edge contributes one dependency; any other
//	predecessor is transparent and its own predecessors are examined
//	instead. Visited (predecessor, node) pairs are deduplicated so
//	cyclic dependence (loop headers) terminates.
//
//	An empty result means nothing guards the node: it executes whenever
//	the enclosing unit is entered.
//
// Inputs:
//
//	index - The node to query.
//
// Outputs:
//
//	[]ControlDependency - The guarding outcomes. Empty, not nil, when
//	                      the node is unguarded.
//	error - ErrNodeNotFound when the node is not in the graph.
func (c *ControlDependenceGraph) GetControlDependencies(index int) ([]ControlDependency, error) {
	if _, ok := c.GetNode(index); !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, index)
	}

	handled := make(map[[2]int]bool)
	found := make(map[ControlDependency]bool)
	c.collectDependencies(index, handled, found)

	result := make([]ControlDependency, 0, len(found))
	for dep := range found {
		result = append(result, dep)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PredicateID != result[j].PredicateID {
			return result[i].PredicateID < result[j].PredicateID
		}
		return !result[i].Branch && result[j].Branch
	})
	return result, nil
}

func (c *ControlDependenceGraph) collectDependencies(index int, handled map[[2]int]bool, found map[ControlDependency]bool) {
	for _, p := range c.predecessorIndexes(index) {
		key := [2]int{p, index}
		if handled[key] {
			continue
		}
		handled[key] = true

		pred := c.nodes[p]
		if branch, ok := c.pred[index][p].Branch.AsBool(); ok && pred.IsPredicate() {
			found[ControlDependency{PredicateID: pred.PredicateID, Branch: branch}] = true
			continue
		}
		c.collectDependencies(p, handled, found)
	}
}

// IsControlDependentOnRoot reports whether a node executes on every entry
// of the enclosing unit: some predecessor chain free of predicate guards
// reaches a node with no predecessors at all.
//
// Nodes outside the graph report false.
func (c *ControlDependenceGraph) IsControlDependentOnRoot(index int) bool {
	if _, ok := c.GetNode(index); !ok {
		return false
	}
	visited := make(map[int]bool)
	return c.escapesToRoot(index, visited)
}

func (c *ControlDependenceGraph) escapesToRoot(index int, visited map[int]bool) bool {
	if visited[index] {
		return false
	}
	visited[index] = true

	preds := c.predecessorIndexes(index)
	if len(preds) == 0 {
		return true
	}
	for _, p := range preds {
		if _, guarded := c.pred[index][p].Branch.AsBool(); guarded && c.nodes[p].IsPredicate() {
			continue
		}
		if c.escapesToRoot(p, visited) {
			return true
		}
	}
	return false
}
