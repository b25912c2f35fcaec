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
	"sync"
	"time"

	"github.com/AleutianAI/evogen/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Control-Flow Graph Construction
// =============================================================================

var cfgTracer = otel.Tracer("evogen.graph.cfg")

// BasicBlock describes one decoded basic block of a code unit.
//
// The decoder collaborator owns the blocks; this package only reads the
// successor structure. Block indexes refer to positions in the decoded
// block list handed to BuildCFG.
//
// A block is either conditional (ConditionalTargets reports ok) or plain.
// Conditional blocks contribute two labelled edges; plain blocks
// contribute up to two unlabelled edges.
type BasicBlock interface {
	// FallThrough returns the index of the block reached when execution
	// runs off the end, and false when the block has no fall-through.
	FallThrough() (int, bool)

	// JumpTarget returns the index of the block reached by the block's
	// terminating jump, and false when the block has none.
	JumpTarget() (int, bool)

	// ConditionalTargets returns the successor indexes for the true and
	// false outcomes of a two-way conditional terminator. The decoder
	// decides which physical target maps to which boolean outcome.
	// ok is false for non-conditional blocks, in which case FallThrough
	// and JumpTarget describe the successors instead.
	ConditionalTargets() (trueTarget, falseTarget int, ok bool)

	// HasYield reports whether the block contains a yield point. Yielding
	// blocks get a direct edge to the artificial exit because control can
	// leave the unit there.
	HasYield() bool
}

// CFG is the control-flow graph of a single code unit.
//
// Construction inserts an artificial entry node (EntryIndex) before the
// first block and an artificial exit node (ExitIndex) after every block
// that can terminate the unit, so the graph always has exactly one entry
// and one exit regardless of the unit's shape.
//
// Thread Safety: Safe for concurrent use after BuildCFG returns; the
// underlying graph is frozen.
type CFG struct {
	*ProgramGraph

	entry *Node
	exit  *Node

	// diameter is computed lazily on first access.
	diameterOnce sync.Once
	diameter     int
}

// Entry returns the artificial entry node.
func (c *CFG) Entry() *Node {
	return c.entry
}

// Exit returns the artificial exit node.
func (c *CFG) Exit() *Node {
	return c.exit
}

// BlockCount returns the number of non-artificial nodes remaining after
// dead-block pruning.
func (c *CFG) BlockCount() int {
	return c.NodeCount() - 2
}

// BuildCFG constructs the control-flow graph for a decoded block list.
//
// Description:
//
//	Construction runs in four phases:
//	 1. One node per block; edges from each block's successor structure.
//	    Conditional blocks emit a BranchTrue and a BranchFalse edge;
//	    plain blocks emit unlabelled fall-through and jump edges.
//	 2. Dead-block pruning: any block other than the first that ends up
//	    without predecessors is removed, repeatedly, until a fixpoint.
//	 3. The artificial entry node is wired to the first block. The
//	    artificial exit node receives an edge from every block without
//	    successors and from every block containing a yield point.
//	 4. Cycles that cannot reach the exit (infinite loops) are routed to
//	    it: for each elementary cycle trapped this way, the member
//	    closest to the entry by edge count (smallest index on ties) gets
//	    an exit edge. The choice is deterministic, so building twice from
//	    the same input produces identical graphs.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked between phases.
//	blocks - Ordered decoded blocks. Must be non-empty; entries must not
//	         be nil. Block 0 is the unit entry.
//	opts - Optional graph capacity options.
//
// Outputs:
//
//	*CFG - The frozen control-flow graph. Nil on error.
//	error - Non-nil on empty input, unknown successor indexes, capacity
//	        limits, or context cancellation.
//
// Errors:
//
//	ErrNoBlocks - blocks is empty
//	ErrInvalidNode - a block is nil
//	ErrUnknownBlock - a successor index is outside the block list
//
// Thread Safety: Safe for concurrent use with distinct block lists.
//
// Complexity: O(V + E) for construction; cycle routing is output-sensitive
// in the number of elementary cycles among trapped blocks.
func BuildCFG(ctx context.Context, blocks []BasicBlock, opts ...GraphOption) (*CFG, error) {
	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}

	startTime := time.Now()

	ctx, span := cfgTracer.Start(ctx, "BuildCFG",
		trace.WithAttributes(
			attribute.Int("block_count", len(blocks)),
		),
	)
	defer span.End()

	if ctx.Err() != nil {
		span.AddEvent("context_cancelled_early")
		return nil, ctx.Err()
	}

	g := NewProgramGraph(opts...)

	for i, block := range blocks {
		if block == nil {
			return nil, fmt.Errorf("%w: block %d is nil", ErrInvalidNode, i)
		}
		if err := g.AddNode(NewNode(i, block, false)); err != nil {
			return nil, err
		}
	}

	if err := connectBlocks(g, blocks); err != nil {
		return nil, err
	}

	pruned := pruneDeadNodes(g, 0)
	if pruned > 0 {
		span.AddEvent("dead_blocks_pruned", trace.WithAttributes(
			attribute.Int("pruned", pruned),
		))
	}

	if ctx.Err() != nil {
		span.AddEvent("context_cancelled")
		return nil, ctx.Err()
	}

	entry := NewNode(EntryIndex, nil, true)
	if err := g.AddNode(entry); err != nil {
		return nil, err
	}
	if err := g.AddEdge(EntryIndex, 0, BranchNone); err != nil {
		return nil, err
	}

	exit := NewNode(ExitIndex, nil, true)
	if err := g.AddNode(exit); err != nil {
		return nil, err
	}
	if err := connectExitNode(g, blocks); err != nil {
		return nil, err
	}

	routed, err := routeTrappedCycles(ctx, g)
	if err != nil {
		return nil, err
	}
	if routed > 0 {
		span.AddEvent("infinite_loops_routed", trace.WithAttributes(
			attribute.Int("routed", routed),
		))
	}

	g.Freeze()

	cfg := &CFG{ProgramGraph: g, entry: entry, exit: exit}

	span.AddEvent("build_complete", trace.WithAttributes(
		attribute.Int("node_count", g.NodeCount()),
		attribute.Int("edge_count", g.EdgeCount()),
	))

	telemetry.LoggerWithTrace(ctx, slog.Default()).Debug("cfg: build complete",
		slog.Int("blocks", len(blocks)),
		slog.Int("pruned", pruned),
		slog.Int("loops_routed", routed),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("duration", time.Since(startTime)),
	)

	return cfg, nil
}

// connectBlocks adds the intra-unit edges described by each block.
func connectBlocks(g *ProgramGraph, blocks []BasicBlock) error {
	checkTarget := func(from, to int) error {
		if to < 0 || to >= len(blocks) {
			return fmt.Errorf("%w: block %d references %d", ErrUnknownBlock, from, to)
		}
		return nil
	}

	for i, block := range blocks {
		if trueTarget, falseTarget, ok := block.ConditionalTargets(); ok {
			if err := checkTarget(i, trueTarget); err != nil {
				return err
			}
			if err := checkTarget(i, falseTarget); err != nil {
				return err
			}
			if err := g.AddEdge(i, trueTarget, BranchTrue); err != nil {
				return err
			}
			if err := g.AddEdge(i, falseTarget, BranchFalse); err != nil {
				return err
			}
			continue
		}

		if target, ok := block.FallThrough(); ok {
			if err := checkTarget(i, target); err != nil {
				return err
			}
			if err := g.AddEdge(i, target, BranchNone); err != nil {
				return err
			}
		}
		if target, ok := block.JumpTarget(); ok {
			if err := checkTarget(i, target); err != nil {
				return err
			}
			if err := g.AddEdge(i, target, BranchNone); err != nil {
				return err
			}
		}
	}

	return nil
}

// pruneDeadNodes removes nodes without predecessors until a fixpoint is
// reached. The protected index (the unit entry) is never removed. Returns
// the number of nodes removed.
func pruneDeadNodes(g *ProgramGraph, protected int) int {
	removed := 0
	for {
		victims := make([]int, 0)
		for idx := range g.nodes {
			if idx == protected {
				continue
			}
			if len(g.pred[idx]) == 0 {
				victims = append(victims, idx)
			}
		}
		if len(victims) == 0 {
			return removed
		}
		for _, idx := range victims {
			g.removeNode(idx)
		}
		removed += len(victims)
	}
}

// connectExitNode wires terminating blocks to the artificial exit:
// blocks without successors and blocks containing a yield point.
func connectExitNode(g *ProgramGraph, blocks []BasicBlock) error {
	terminating := make([]int, 0)
	for idx := range g.nodes {
		if idx == ExitIndex {
			continue
		}
		if len(g.succ[idx]) == 0 {
			terminating = append(terminating, idx)
		}
	}
	sort.Ints(terminating)

	for _, idx := range terminating {
		if err := g.AddEdge(idx, ExitIndex, BranchNone); err != nil {
			return err
		}
	}

	for i, block := range blocks {
		if _, ok := g.nodes[i]; !ok {
			continue // pruned
		}
		if block.HasYield() {
			if err := g.AddEdge(i, ExitIndex, BranchNone); err != nil {
				return err
			}
		}
	}

	return nil
}

// routeTrappedCycles gives infinite loops a path to the exit.
//
// A cycle is trapped when none of its members can reach the exit node.
// For each trapped elementary cycle, the member with the smallest BFS
// distance from the entry (ties broken by smallest index) receives an
// unlabelled edge to the exit. Returns the number of edges added.
func routeTrappedCycles(ctx context.Context, g *ProgramGraph) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	reachesExit := reverseReachable(g, ExitIndex)

	trapped := make(map[int]bool)
	for idx := range g.nodes {
		if !reachesExit[idx] {
			trapped[idx] = true
		}
	}
	if len(trapped) == 0 {
		return 0, nil
	}

	distance := bfsDistances(g, EntryIndex)
	cycles := elementaryCycles(g, trapped)

	chosen := make(map[int]bool)
	for _, cycle := range cycles {
		best := cycle[0]
		for _, member := range cycle[1:] {
			if distance[member] < distance[best] ||
				(distance[member] == distance[best] && member < best) {
				best = member
			}
		}
		chosen[best] = true
	}

	heads := make([]int, 0, len(chosen))
	for idx := range chosen {
		heads = append(heads, idx)
	}
	sort.Ints(heads)

	for _, idx := range heads {
		if err := g.AddEdge(idx, ExitIndex, BranchNone); err != nil {
			return 0, err
		}
	}

	return len(heads), nil
}

// reverseReachable returns the set of nodes with a path to the given node,
// including the node itself.
func reverseReachable(g *ProgramGraph, index int) map[int]bool {
	visited := map[int]bool{index: true}
	worklist := []int{index}
	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]
		for from := range g.pred[current] {
			if !visited[from] {
				visited[from] = true
				worklist = append(worklist, from)
			}
		}
	}
	return visited
}

// bfsDistances returns edge-count distances from the given node to every
// reachable node.
func bfsDistances(g *ProgramGraph, from int) map[int]int {
	distance := map[int]int{from: 0}
	worklist := []int{from}
	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]
		for _, next := range g.successorIndexes(current) {
			if _, seen := distance[next]; !seen {
				distance[next] = distance[current] + 1
				worklist = append(worklist, next)
			}
		}
	}
	return distance
}

// =============================================================================
// Elementary Cycle Enumeration (Johnson's algorithm)
// =============================================================================

// elementaryCycles enumerates the elementary cycles of the subgraph
// induced on the member set.
//
// Self-loops are reported as single-element cycles. Longer cycles are
// found with Johnson's algorithm: for each start vertex s in ascending
// order, the blocked search enumerates exactly the cycles whose minimum
// vertex is s, restricted to the strongly connected component of s among
// vertices >= s. Tarjan's algorithm provides the components.
func elementaryCycles(g *ProgramGraph, members map[int]bool) [][]int {
	vertices := make([]int, 0, len(members))
	for idx := range members {
		vertices = append(vertices, idx)
	}
	sort.Ints(vertices)

	cycles := make([][]int, 0)

	for _, v := range vertices {
		if _, ok := g.succ[v][v]; ok {
			cycles = append(cycles, []int{v})
		}
	}

	for pos, s := range vertices {
		allowed := make(map[int]bool, len(vertices)-pos)
		for _, v := range vertices[pos:] {
			allowed[v] = true
		}

		component := stronglyConnectedComponent(g, s, allowed)
		if len(component) < 2 {
			continue
		}

		search := &cycleSearch{
			graph:     g,
			start:     s,
			component: component,
			blocked:   make(map[int]bool),
			blockList: make(map[int]map[int]bool),
		}
		search.circuit(s, &cycles)
	}

	return cycles
}

// stronglyConnectedComponent returns the members of the strongly connected
// component containing start, restricted to the allowed vertex set.
func stronglyConnectedComponent(g *ProgramGraph, start int, allowed map[int]bool) map[int]bool {
	state := &sccState{
		graph:     g,
		allowed:   allowed,
		nodeIndex: make(map[int]int),
		lowlink:   make(map[int]int),
		onStack:   make(map[int]bool),
		component: make(map[int]int),
	}
	state.strongConnect(start)

	target := state.component[start]
	result := make(map[int]bool)
	for idx, comp := range state.component {
		if comp == target {
			result[idx] = true
		}
	}
	return result
}

// sccState holds Tarjan's algorithm state during execution.
type sccState struct {
	graph     *ProgramGraph
	allowed   map[int]bool
	index     int
	nodeIndex map[int]int
	lowlink   map[int]int
	onStack   map[int]bool
	stack     []int
	component map[int]int
	nextComp  int
}

// strongConnect is the recursive DFS of Tarjan's algorithm.
func (s *sccState) strongConnect(v int) {
	s.nodeIndex[v] = s.index
	s.lowlink[v] = s.index
	s.index++
	s.stack = append(s.stack, v)
	s.onStack[v] = true

	for _, w := range s.graph.successorIndexes(v) {
		if !s.allowed[w] {
			continue
		}
		if _, visited := s.nodeIndex[w]; !visited {
			s.strongConnect(w)
			if s.lowlink[w] < s.lowlink[v] {
				s.lowlink[v] = s.lowlink[w]
			}
		} else if s.onStack[w] {
			if s.nodeIndex[w] < s.lowlink[v] {
				s.lowlink[v] = s.nodeIndex[w]
			}
		}
	}

	if s.lowlink[v] == s.nodeIndex[v] {
		for {
			w := s.stack[len(s.stack)-1]
			s.stack = s.stack[:len(s.stack)-1]
			s.onStack[w] = false
			s.component[w] = s.nextComp
			if w == v {
				break
			}
		}
		s.nextComp++
	}
}

// cycleSearch holds the blocked-search state of Johnson's algorithm.
type cycleSearch struct {
	graph     *ProgramGraph
	start     int
	component map[int]bool
	blocked   map[int]bool
	blockList map[int]map[int]bool
	stack     []int
}

// circuit explores cycles through the start vertex. Reports true if a
// cycle was closed somewhere below v.
func (c *cycleSearch) circuit(v int, cycles *[][]int) bool {
	found := false
	c.stack = append(c.stack, v)
	c.blocked[v] = true

	for _, w := range c.graph.successorIndexes(v) {
		if !c.component[w] || w == v {
			continue
		}
		if w == c.start {
			cycle := make([]int, len(c.stack))
			copy(cycle, c.stack)
			*cycles = append(*cycles, cycle)
			found = true
		} else if !c.blocked[w] {
			if c.circuit(w, cycles) {
				found = true
			}
		}
	}

	if found {
		c.unblock(v)
	} else {
		for _, w := range c.graph.successorIndexes(v) {
			if !c.component[w] || w == v {
				continue
			}
			if c.blockList[w] == nil {
				c.blockList[w] = make(map[int]bool)
			}
			c.blockList[w][v] = true
		}
	}

	c.stack = c.stack[:len(c.stack)-1]
	return found
}

// unblock releases a vertex and everything waiting on it.
func (c *cycleSearch) unblock(v int) {
	c.blocked[v] = false
	for w := range c.blockList[v] {
		delete(c.blockList[v], w)
		if c.blocked[w] {
			c.unblock(w)
		}
	}
}

// =============================================================================
// Structural Metrics
// =============================================================================

// CyclomaticComplexity returns McCabe's complexity of the graph: the
// number of edges minus the number of nodes plus two.
func (c *CFG) CyclomaticComplexity() int {
	return c.EdgeCount() - c.NodeCount() + 2
}

// Diameter returns the longest shortest path in the graph.
//
// Description:
//
//	Computed from per-node eccentricities on first call and cached. A
//	control-flow graph is not strongly connected (the entry has no
//	incoming edges), in which case no finite diameter exists and the
//	edge count is returned as a conservative upper bound.
//
// Complexity: O(V * (V + E)) on first call, O(1) afterwards.
func (c *CFG) Diameter() int {
	c.diameterOnce.Do(func() {
		c.diameter = c.computeDiameter()
	})
	return c.diameter
}

func (c *CFG) computeDiameter() int {
	nodeCount := c.NodeCount()
	maxEccentricity := 0

	for idx := range c.nodes {
		distance := bfsDistances(c.ProgramGraph, idx)
		if len(distance) < nodeCount {
			return c.EdgeCount()
		}
		for _, d := range distance {
			if d > maxEccentricity {
				maxEccentricity = d
			}
		}
	}

	return maxEccentricity
}
