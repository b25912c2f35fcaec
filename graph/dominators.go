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
	"sort"
	"time"

	"github.com/AleutianAI/evogen/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Dominator and Post-Dominator Trees
// =============================================================================

var dominatorTracer = otel.Tracer("evogen.graph.dominators")

const (
	// DefaultMaxDominatorIterations caps the fixpoint iteration count.
	// Reducible control-flow graphs converge in two or three iterations;
	// the cap only matters for pathological irreducible graphs.
	DefaultMaxDominatorIterations = 100

	// dominatorContextCheckInterval controls how often the fixpoint loop
	// checks for context cancellation.
	dominatorContextCheckInterval = 100
)

// DominatorError represents a failure during dominator tree computation.
type DominatorError struct {
	Message string
}

func (e *DominatorError) Error() string {
	return fmt.Sprintf("dominator computation failed: %s", e.Message)
}

// DominatorTree is the dominance hierarchy of a control-flow graph.
//
// The embedded graph is the tree itself: one edge from each node's
// immediate dominator to the node. Node pointers are shared with the
// source graph. A post-dominator tree is the same structure computed on
// the reversed graph, rooted at the exit node.
//
// Thread Safety: Safe for concurrent reads; the tree is frozen on
// construction.
type DominatorTree struct {
	*ProgramGraph

	root       *Node
	depth      map[int]int
	iterations int
	converged  bool
}

// ComputeDominatorTree computes the dominator tree of a control-flow
// graph, rooted at its artificial entry node.
//
// Description:
//
//	Uses the Cooper-Harvey-Kennedy iterative algorithm: nodes are
//	visited in reverse postorder and each node's immediate dominator is
//	refined by intersecting its processed predecessors' dominators until
//	a fixpoint. The set of dominators of a node is then exactly the
//	node's ancestors in the tree plus the node itself.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked periodically.
//	cfg - The control-flow graph. Must be non-nil.
//
// Outputs:
//
//	*DominatorTree - The frozen tree. Nil on error.
//	error - Non-nil on nil input or context cancellation.
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(V * E) worst case; near-linear on reducible graphs.
func ComputeDominatorTree(ctx context.Context, cfg *CFG) (*DominatorTree, error) {
	if cfg == nil {
		return nil, &DominatorError{Message: "cfg is nil"}
	}
	return computeDominatorTree(ctx, cfg.ProgramGraph, cfg.Entry(), "ComputeDominatorTree")
}

// ComputePostDominatorTree computes the post-dominator tree of a
// control-flow graph, rooted at its artificial exit node.
//
// A node p post-dominates n when every path from n to the exit passes
// through p. The tree is the dominator tree of the reversed graph. Every
// node reaches the exit by construction (BuildCFG routes infinite loops),
// so the tree spans the whole graph.
func ComputePostDominatorTree(ctx context.Context, cfg *CFG) (*DominatorTree, error) {
	if cfg == nil {
		return nil, &DominatorError{Message: "cfg is nil"}
	}
	return computeDominatorTree(ctx, cfg.Reverse(), cfg.Exit(), "ComputePostDominatorTree")
}

// computeDominatorTree runs the shared fixpoint on an arbitrary graph and
// root. The control-dependence computation reuses it on augmented graphs.
func computeDominatorTree(ctx context.Context, g *ProgramGraph, root *Node, operation string) (*DominatorTree, error) {
	logger := telemetry.LoggerWithTrace(ctx, slog.Default())

	if g == nil || g.NodeCount() == 0 {
		return nil, &DominatorError{Message: "graph is empty"}
	}
	if root == nil {
		return nil, &DominatorError{Message: "root node is nil"}
	}
	if _, ok := g.GetNode(root.Index); !ok {
		return nil, &DominatorError{Message: fmt.Sprintf("root node %d not in graph", root.Index)}
	}

	startTime := time.Now()

	ctx, span := dominatorTracer.Start(ctx, operation,
		trace.WithAttributes(
			attribute.Int("node_count", g.NodeCount()),
			attribute.Int("edge_count", g.EdgeCount()),
			attribute.Int("root", root.Index),
		),
	)
	defer span.End()

	if ctx.Err() != nil {
		span.AddEvent("context_cancelled_early")
		return nil, ctx.Err()
	}

	reversePostorder, postOrderIndex := reversePostorderFrom(g, root.Index)
	span.AddEvent("postorder_complete", trace.WithAttributes(
		attribute.Int("reachable_count", len(reversePostorder)),
	))

	idom := map[int]int{root.Index: root.Index}
	iterations := 0
	changed := true

	for changed && iterations < DefaultMaxDominatorIterations {
		changed = false
		iterations++
		processed := 0

		for _, u := range reversePostorder {
			if u == root.Index {
				continue
			}
			processed++
			if processed%dominatorContextCheckInterval == 0 && ctx.Err() != nil {
				span.AddEvent("context_cancelled", trace.WithAttributes(
					attribute.Int("iteration", iterations),
				))
				return nil, ctx.Err()
			}

			newIdom, ok := refineIdom(g, u, idom, postOrderIndex)
			if !ok {
				continue
			}
			if current, exists := idom[u]; !exists || current != newIdom {
				idom[u] = newIdom
				changed = true
			}
		}

		if iterations <= 10 {
			span.AddEvent("iteration_complete", trace.WithAttributes(
				attribute.Int("iteration", iterations),
				attribute.Bool("changed", changed),
			))
		}
	}

	converged := !changed
	if !converged {
		logger.Warn("dominators: fixpoint did not converge",
			slog.String("operation", operation),
			slog.Int("iterations", iterations),
			slog.Int("node_count", g.NodeCount()),
		)
	}

	tree, depth, err := buildDominatorTreeGraph(g, root, reversePostorder, idom)
	if err != nil {
		return nil, err
	}

	span.AddEvent("algorithm_complete", trace.WithAttributes(
		attribute.Int("iterations", iterations),
		attribute.Bool("converged", converged),
		attribute.Int("tree_nodes", tree.NodeCount()),
	))

	logger.Debug("dominators: computation complete",
		slog.String("operation", operation),
		slog.Int("iterations", iterations),
		slog.Bool("converged", converged),
		slog.Int("nodes", tree.NodeCount()),
		slog.Duration("duration", time.Since(startTime)),
	)

	return &DominatorTree{
		ProgramGraph: tree,
		root:         root,
		depth:        depth,
		iterations:   iterations,
		converged:    converged,
	}, nil
}

// refineIdom intersects the dominators of u's already-processed
// predecessors. Reports false when no predecessor has been processed yet.
func refineIdom(g *ProgramGraph, u int, idom map[int]int, postOrderIndex map[int]int) (int, bool) {
	newIdom := 0
	found := false

	for _, p := range g.predecessorIndexes(u) {
		if _, reachable := postOrderIndex[p]; !reachable {
			continue
		}
		if _, processed := idom[p]; !processed {
			continue
		}
		if !found {
			newIdom = p
			found = true
		} else {
			newIdom = intersectDominators(p, newIdom, idom, postOrderIndex)
		}
	}

	return newIdom, found
}

// intersectDominators walks two fingers up the partial dominator tree
// until they meet. Comparison uses postorder indexes: a smaller index
// means the node is deeper in the traversal.
func intersectDominators(a, b int, idom map[int]int, postOrderIndex map[int]int) int {
	for a != b {
		for postOrderIndex[a] < postOrderIndex[b] {
			a = idom[a]
		}
		for postOrderIndex[b] < postOrderIndex[a] {
			b = idom[b]
		}
	}
	return a
}

// reversePostorderFrom computes the reverse postorder of nodes reachable
// from root, plus each node's postorder index. Iterative DFS with an
// explicit frame stack; successor order is ascending node index so the
// traversal is deterministic.
func reversePostorderFrom(g *ProgramGraph, root int) ([]int, map[int]int) {
	type frame struct {
		node  int
		succs []int
		next  int
	}

	visited := map[int]bool{root: true}
	postorder := make([]int, 0, g.NodeCount())
	stack := []frame{{node: root, succs: g.successorIndexes(root)}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.succs) {
			succ := top.succs[top.next]
			top.next++
			if !visited[succ] {
				visited[succ] = true
				stack = append(stack, frame{node: succ, succs: g.successorIndexes(succ)})
			}
			continue
		}
		postorder = append(postorder, top.node)
		stack = stack[:len(stack)-1]
	}

	postOrderIndex := make(map[int]int, len(postorder))
	for i, node := range postorder {
		postOrderIndex[node] = i
	}

	reversed := make([]int, len(postorder))
	for i, node := range postorder {
		reversed[len(postorder)-1-i] = node
	}

	return reversed, postOrderIndex
}

// buildDominatorTreeGraph materializes the idom map as a frozen tree
// graph and computes per-node depths.
func buildDominatorTreeGraph(g *ProgramGraph, root *Node, reachable []int, idom map[int]int) (*ProgramGraph, map[int]int, error) {
	tree := NewProgramGraph(
		WithMaxNodes(g.options.MaxNodes),
		WithMaxEdges(g.options.MaxEdges),
	)

	for _, idx := range reachable {
		node, ok := g.GetNode(idx)
		if !ok {
			return nil, nil, &DominatorError{Message: fmt.Sprintf("node %d vanished during computation", idx)}
		}
		if err := tree.AddNode(node); err != nil {
			return nil, nil, &DominatorError{Message: err.Error()}
		}
	}

	for _, idx := range reachable {
		if idx == root.Index {
			continue
		}
		parent, ok := idom[idx]
		if !ok {
			return nil, nil, &DominatorError{Message: fmt.Sprintf("node %d has no immediate dominator", idx)}
		}
		if err := tree.AddEdge(parent, idx, BranchNone); err != nil {
			return nil, nil, &DominatorError{Message: err.Error()}
		}
	}

	tree.Freeze()

	depth := map[int]int{root.Index: 0}
	worklist := []int{root.Index}
	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]
		for _, child := range tree.successorIndexes(current) {
			depth[child] = depth[current] + 1
			worklist = append(worklist, child)
		}
	}

	return tree, depth, nil
}

// ===== Queries =====

// Root returns the tree root: the entry node for a dominator tree, the
// exit node for a post-dominator tree.
func (t *DominatorTree) Root() *Node {
	return t.root
}

// Parent returns a node's immediate dominator. The second return value is
// false for the root and for nodes outside the tree.
func (t *DominatorTree) Parent(index int) (*Node, bool) {
	parent, ok := t.treeParent(index)
	if !ok {
		return nil, false
	}
	return t.nodes[parent], true
}

// Dominators returns every dominator of a node: its tree ancestors plus
// the node itself, sorted by index.
func (t *DominatorTree) Dominators(index int) ([]*Node, error) {
	node, ok := t.GetNode(index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, index)
	}

	result := []*Node{node}
	current := index
	for {
		parent, ok := t.treeParent(current)
		if !ok {
			break
		}
		result = append(result, t.nodes[parent])
		current = parent
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

// Dominates reports whether a dominates b. Every node dominates itself.
func (t *DominatorTree) Dominates(a, b int) bool {
	if _, ok := t.GetNode(a); !ok {
		return false
	}
	current := b
	if _, ok := t.GetNode(b); !ok {
		return false
	}
	for {
		if current == a {
			return true
		}
		parent, ok := t.treeParent(current)
		if !ok {
			return false
		}
		current = parent
	}
}

// Depth returns a node's distance from the root. The second return value
// is false for nodes outside the tree.
func (t *DominatorTree) Depth(index int) (int, bool) {
	d, ok := t.depth[index]
	return d, ok
}

// MaxDepth returns the height of the tree.
func (t *DominatorTree) MaxDepth() int {
	max := 0
	for _, d := range t.depth {
		if d > max {
			max = d
		}
	}
	return max
}

// Iterations returns the number of fixpoint iterations performed.
func (t *DominatorTree) Iterations() int {
	return t.iterations
}

// Converged reports whether the fixpoint settled within the iteration
// cap. A false value means the tree may be an approximation.
func (t *DominatorTree) Converged() bool {
	return t.converged
}
