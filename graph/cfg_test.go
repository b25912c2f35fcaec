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
	"errors"
	"testing"
)

// =============================================================================
// Test Fixtures
// =============================================================================

// testBlock is a minimal BasicBlock implementation for building CFGs
// without a real decoder.
type testBlock struct {
	fall        int
	hasFall     bool
	jump        int
	hasJump     bool
	condTrue    int
	condFalse   int
	conditional bool
	yield       bool
}

func (b *testBlock) FallThrough() (int, bool) { return b.fall, b.hasFall }
func (b *testBlock) JumpTarget() (int, bool)  { return b.jump, b.hasJump }
func (b *testBlock) ConditionalTargets() (int, int, bool) {
	return b.condTrue, b.condFalse, b.conditional
}
func (b *testBlock) HasYield() bool { return b.yield }

// plainBlock falls through to the given block.
func plainBlock(next int) *testBlock {
	return &testBlock{fall: next, hasFall: true}
}

// jumpBlock jumps unconditionally to the given block.
func jumpBlock(target int) *testBlock {
	return &testBlock{jump: target, hasJump: true}
}

// condBlock branches to trueTarget or falseTarget.
func condBlock(trueTarget, falseTarget int) *testBlock {
	return &testBlock{condTrue: trueTarget, condFalse: falseTarget, conditional: true}
}

// returnBlock terminates the unit.
func returnBlock() *testBlock {
	return &testBlock{}
}

// yieldBlock falls through but also contains a yield point.
func yieldBlock(next int) *testBlock {
	return &testBlock{fall: next, hasFall: true, yield: true}
}

// buildTestCFG builds a CFG from the given blocks, failing the test on error.
func buildTestCFG(t *testing.T, blocks []BasicBlock) *CFG {
	t.Helper()

	cfg, err := BuildCFG(context.Background(), blocks)
	if err != nil {
		t.Fatalf("failed to build CFG: %v", err)
	}
	return cfg
}

// requireEdge asserts that an edge exists with the given label.
func requireEdge(t *testing.T, g *ProgramGraph, from, to int, branch BranchValue) {
	t.Helper()

	edge, ok := g.GetEdge(from, to)
	if !ok {
		t.Fatalf("expected edge %d -> %d, not found", from, to)
	}
	if edge.Branch != branch {
		t.Errorf("edge %d -> %d: expected branch %s, got %s", from, to, branch, edge.Branch)
	}
}

// =============================================================================
// CFG Construction Tests
// =============================================================================

func TestBuildCFG_Linear(t *testing.T) {
	// ENTRY -> 0 -> 1 -> 2 -> EXIT
	blocks := []BasicBlock{
		plainBlock(1),
		plainBlock(2),
		returnBlock(),
	}

	cfg := buildTestCFG(t, blocks)

	if cfg.NodeCount() != 5 {
		t.Errorf("expected 5 nodes, got %d", cfg.NodeCount())
	}
	if cfg.EdgeCount() != 4 {
		t.Errorf("expected 4 edges, got %d", cfg.EdgeCount())
	}
	if cfg.BlockCount() != 3 {
		t.Errorf("expected 3 blocks, got %d", cfg.BlockCount())
	}
	if cfg.Entry().Index != EntryIndex {
		t.Errorf("expected entry index %d, got %d", EntryIndex, cfg.Entry().Index)
	}
	if cfg.Exit().Index != ExitIndex {
		t.Errorf("expected exit index %d, got %d", ExitIndex, cfg.Exit().Index)
	}

	requireEdge(t, cfg.ProgramGraph, EntryIndex, 0, BranchNone)
	requireEdge(t, cfg.ProgramGraph, 0, 1, BranchNone)
	requireEdge(t, cfg.ProgramGraph, 1, 2, BranchNone)
	requireEdge(t, cfg.ProgramGraph, 2, ExitIndex, BranchNone)
}

func TestBuildCFG_Conditional(t *testing.T) {
	// Diamond:
	//        0
	//   T  /   \  F
	//     1     2
	//      \   /
	//        3
	blocks := []BasicBlock{
		condBlock(1, 2),
		plainBlock(3),
		plainBlock(3),
		returnBlock(),
	}

	cfg := buildTestCFG(t, blocks)

	if cfg.NodeCount() != 6 {
		t.Errorf("expected 6 nodes, got %d", cfg.NodeCount())
	}
	if cfg.EdgeCount() != 6 {
		t.Errorf("expected 6 edges, got %d", cfg.EdgeCount())
	}

	requireEdge(t, cfg.ProgramGraph, 0, 1, BranchTrue)
	requireEdge(t, cfg.ProgramGraph, 0, 2, BranchFalse)
	requireEdge(t, cfg.ProgramGraph, 1, 3, BranchNone)
	requireEdge(t, cfg.ProgramGraph, 2, 3, BranchNone)
}

func TestBuildCFG_EmptyBlocks(t *testing.T) {
	_, err := BuildCFG(context.Background(), nil)
	if !errors.Is(err, ErrNoBlocks) {
		t.Errorf("expected ErrNoBlocks, got %v", err)
	}

	_, err = BuildCFG(context.Background(), []BasicBlock{})
	if !errors.Is(err, ErrNoBlocks) {
		t.Errorf("expected ErrNoBlocks for empty slice, got %v", err)
	}
}

func TestBuildCFG_NilBlock(t *testing.T) {
	blocks := []BasicBlock{
		plainBlock(1),
		nil,
	}

	_, err := BuildCFG(context.Background(), blocks)
	if !errors.Is(err, ErrInvalidNode) {
		t.Errorf("expected ErrInvalidNode, got %v", err)
	}
}

func TestBuildCFG_UnknownTarget(t *testing.T) {
	blocks := []BasicBlock{
		plainBlock(5), // out of range
		returnBlock(),
	}

	_, err := BuildCFG(context.Background(), blocks)
	if !errors.Is(err, ErrUnknownBlock) {
		t.Errorf("expected ErrUnknownBlock, got %v", err)
	}

	blocks = []BasicBlock{
		condBlock(1, -3), // negative target
		returnBlock(),
	}

	_, err = BuildCFG(context.Background(), blocks)
	if !errors.Is(err, ErrUnknownBlock) {
		t.Errorf("expected ErrUnknownBlock for negative target, got %v", err)
	}
}

func TestBuildCFG_DeadBlockPruning(t *testing.T) {
	// Block 1 has no predecessors and is removed.
	blocks := []BasicBlock{
		plainBlock(2),
		plainBlock(2),
		returnBlock(),
	}

	cfg := buildTestCFG(t, blocks)

	if cfg.BlockCount() != 2 {
		t.Errorf("expected 2 blocks after pruning, got %d", cfg.BlockCount())
	}
	if _, ok := cfg.GetNode(1); ok {
		t.Error("expected block 1 to be pruned")
	}
	if _, ok := cfg.GetNode(0); !ok {
		t.Error("expected block 0 to survive pruning")
	}
}

func TestBuildCFG_DeadBlockPruning_Cascade(t *testing.T) {
	// Block 1 is dead; removing it makes block 2 dead as well.
	blocks := []BasicBlock{
		returnBlock(),
		plainBlock(2),
		returnBlock(),
	}

	cfg := buildTestCFG(t, blocks)

	if cfg.BlockCount() != 1 {
		t.Errorf("expected 1 block after cascading prune, got %d", cfg.BlockCount())
	}
	if _, ok := cfg.GetNode(1); ok {
		t.Error("expected block 1 to be pruned")
	}
	if _, ok := cfg.GetNode(2); ok {
		t.Error("expected block 2 to be pruned transitively")
	}
	requireEdge(t, cfg.ProgramGraph, 0, ExitIndex, BranchNone)
}

func TestBuildCFG_FirstBlockNeverPruned(t *testing.T) {
	// A loop back to block 0 gives it a predecessor, but even without one
	// the unit entry must survive.
	blocks := []BasicBlock{
		returnBlock(),
	}

	cfg := buildTestCFG(t, blocks)

	if _, ok := cfg.GetNode(0); !ok {
		t.Error("expected block 0 to survive")
	}
	if cfg.BlockCount() != 1 {
		t.Errorf("expected 1 block, got %d", cfg.BlockCount())
	}
}

func TestBuildCFG_YieldRouting(t *testing.T) {
	// A yielding block keeps its normal successor and gains an exit edge.
	blocks := []BasicBlock{
		yieldBlock(1),
		returnBlock(),
	}

	cfg := buildTestCFG(t, blocks)

	requireEdge(t, cfg.ProgramGraph, 0, 1, BranchNone)
	requireEdge(t, cfg.ProgramGraph, 0, ExitIndex, BranchNone)
	requireEdge(t, cfg.ProgramGraph, 1, ExitIndex, BranchNone)
}

func TestBuildCFG_SelfLoopRouting(t *testing.T) {
	// Block 1 spins on itself forever; it must be routed to the exit.
	blocks := []BasicBlock{
		plainBlock(1),
		jumpBlock(1),
	}

	cfg := buildTestCFG(t, blocks)

	requireEdge(t, cfg.ProgramGraph, 1, 1, BranchNone)
	requireEdge(t, cfg.ProgramGraph, 1, ExitIndex, BranchNone)
}

func TestBuildCFG_TwoNodeLoopRouting(t *testing.T) {
	// 0 <-> 1 with no way out. The member closest to the entry (block 0)
	// gets the exit edge.
	blocks := []BasicBlock{
		plainBlock(1),
		jumpBlock(0),
	}

	cfg := buildTestCFG(t, blocks)

	requireEdge(t, cfg.ProgramGraph, 0, ExitIndex, BranchNone)
	if _, ok := cfg.GetEdge(1, ExitIndex); ok {
		t.Error("expected only the loop member closest to the entry to be routed")
	}
}

func TestBuildCFG_LoopWithExitNotRouted(t *testing.T) {
	// A normal while loop can already reach the exit; no routing happens.
	//
	//   0 (cond) -T-> 1 -> 0
	//            -F-> 2 -> EXIT
	blocks := []BasicBlock{
		condBlock(1, 2),
		jumpBlock(0),
		returnBlock(),
	}

	cfg := buildTestCFG(t, blocks)

	if _, ok := cfg.GetEdge(0, ExitIndex); ok {
		t.Error("unexpected routing edge from block 0")
	}
	if _, ok := cfg.GetEdge(1, ExitIndex); ok {
		t.Error("unexpected routing edge from block 1")
	}
	requireEdge(t, cfg.ProgramGraph, 2, ExitIndex, BranchNone)
}

func TestBuildCFG_FrozenAfterBuild(t *testing.T) {
	cfg := buildTestCFG(t, []BasicBlock{returnBlock()})

	if !cfg.IsFrozen() {
		t.Error("expected CFG to be frozen after build")
	}
	if err := cfg.AddNode(NewNode(99, nil, false)); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("expected ErrGraphFrozen on AddNode, got %v", err)
	}
	if err := cfg.AddEdge(0, ExitIndex, BranchNone); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("expected ErrGraphFrozen on AddEdge, got %v", err)
	}
}

func TestBuildCFG_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BuildCFG(ctx, []BasicBlock{returnBlock()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBuildCFG_DeterministicConstruction(t *testing.T) {
	// Two builds from the same input must agree edge for edge, including
	// the routing choice for the trapped loop.
	blocks := []BasicBlock{
		condBlock(1, 3),
		plainBlock(2),
		jumpBlock(1),
		returnBlock(),
	}

	first := buildTestCFG(t, blocks)
	second := buildTestCFG(t, blocks)

	firstEdges := first.Edges()
	secondEdges := second.Edges()
	if len(firstEdges) != len(secondEdges) {
		t.Fatalf("edge counts differ: %d vs %d", len(firstEdges), len(secondEdges))
	}
	for i := range firstEdges {
		if *firstEdges[i] != *secondEdges[i] {
			t.Errorf("edge %d differs: %+v vs %+v", i, firstEdges[i], secondEdges[i])
		}
	}
}

// =============================================================================
// Structural Metrics Tests
// =============================================================================

func TestCFG_CyclomaticComplexity(t *testing.T) {
	tests := []struct {
		name     string
		blocks   []BasicBlock
		expected int
	}{
		{
			name:     "linear",
			blocks:   []BasicBlock{plainBlock(1), returnBlock()},
			expected: 1,
		},
		{
			name: "single conditional",
			blocks: []BasicBlock{
				condBlock(1, 2),
				plainBlock(3),
				plainBlock(3),
				returnBlock(),
			},
			expected: 2,
		},
		{
			name: "while loop",
			blocks: []BasicBlock{
				condBlock(1, 2),
				jumpBlock(0),
				returnBlock(),
			},
			expected: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := buildTestCFG(t, tt.blocks)
			if got := cfg.CyclomaticComplexity(); got != tt.expected {
				t.Errorf("expected complexity %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestCFG_Diameter(t *testing.T) {
	// A CFG is never strongly connected, so the diameter falls back to
	// the edge count.
	cfg := buildTestCFG(t, []BasicBlock{plainBlock(1), returnBlock()})

	expected := cfg.EdgeCount()
	if got := cfg.Diameter(); got != expected {
		t.Errorf("expected diameter %d, got %d", expected, got)
	}
	// Cached value on second call.
	if got := cfg.Diameter(); got != expected {
		t.Errorf("expected cached diameter %d, got %d", expected, got)
	}
}
