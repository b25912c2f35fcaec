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

// diamondBlocks is the canonical single-conditional unit:
//
//	       0
//	  T  /   \  F
//	    1     2
//	     \   /
//	       3
func diamondBlocks() []BasicBlock {
	return []BasicBlock{
		condBlock(1, 2),
		plainBlock(3),
		plainBlock(3),
		returnBlock(),
	}
}

// whileBlocks is a while loop:
//
//	0 (cond) -T-> 1 -> 0
//	         -F-> 2 -> EXIT
func whileBlocks() []BasicBlock {
	return []BasicBlock{
		condBlock(1, 2),
		jumpBlock(0),
		returnBlock(),
	}
}

// requireParent asserts the immediate dominator of a node.
func requireParent(t *testing.T, tree *DominatorTree, node, expected int) {
	t.Helper()

	parent, ok := tree.Parent(node)
	if !ok {
		t.Fatalf("expected node %d to have a parent", node)
	}
	if parent.Index != expected {
		t.Errorf("node %d: expected parent %d, got %d", node, expected, parent.Index)
	}
}

// =============================================================================
// Dominator Tree Tests
// =============================================================================

func TestComputeDominatorTree_Diamond(t *testing.T) {
	cfg := buildTestCFG(t, diamondBlocks())

	tree, err := ComputeDominatorTree(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tree.Root().Index != EntryIndex {
		t.Errorf("expected root %d, got %d", EntryIndex, tree.Root().Index)
	}

	requireParent(t, tree, 0, EntryIndex)
	requireParent(t, tree, 1, 0)
	requireParent(t, tree, 2, 0)
	// The join is dominated by the branch point, not by either arm.
	requireParent(t, tree, 3, 0)
	requireParent(t, tree, ExitIndex, 3)

	if _, ok := tree.Parent(EntryIndex); ok {
		t.Error("expected the root to have no parent")
	}

	if !tree.Converged() {
		t.Error("expected convergence on a reducible graph")
	}
	if tree.Iterations() > 3 {
		t.Errorf("expected at most 3 iterations, got %d", tree.Iterations())
	}
}

func TestComputeDominatorTree_Loop(t *testing.T) {
	cfg := buildTestCFG(t, whileBlocks())

	tree, err := ComputeDominatorTree(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	requireParent(t, tree, 0, EntryIndex)
	requireParent(t, tree, 1, 0)
	requireParent(t, tree, 2, 0)
	requireParent(t, tree, ExitIndex, 2)

	if !tree.Converged() {
		t.Error("expected convergence")
	}
}

func TestDominatorTree_Dominators(t *testing.T) {
	cfg := buildTestCFG(t, diamondBlocks())

	tree, err := ComputeDominatorTree(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doms, err := tree.Dominators(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []int{EntryIndex, 0, 3}
	if len(doms) != len(expected) {
		t.Fatalf("expected %d dominators, got %d", len(expected), len(doms))
	}
	for i, idx := range expected {
		if doms[i].Index != idx {
			t.Errorf("position %d: expected %d, got %d", i, idx, doms[i].Index)
		}
	}

	if _, err := tree.Dominators(99); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestDominatorTree_Dominates(t *testing.T) {
	cfg := buildTestCFG(t, diamondBlocks())

	tree, err := ComputeDominatorTree(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		a, b     int
		expected bool
	}{
		{EntryIndex, 3, true},
		{0, 3, true},
		{3, 3, true}, // every node dominates itself
		{1, 3, false},
		{2, 3, false},
		{3, 0, false},
		{99, 3, false}, // unknown nodes dominate nothing
		{0, 99, false},
	}
	for _, tt := range tests {
		if got := tree.Dominates(tt.a, tt.b); got != tt.expected {
			t.Errorf("Dominates(%d, %d): expected %v, got %v", tt.a, tt.b, tt.expected, got)
		}
	}
}

func TestDominatorTree_EntryDominatesEveryNode(t *testing.T) {
	cfg := buildTestCFG(t, whileBlocks())

	tree, err := ComputeDominatorTree(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, node := range cfg.Nodes() {
		if !tree.Dominates(EntryIndex, node.Index) {
			t.Errorf("expected entry to dominate node %d", node.Index)
		}
		doms, err := tree.Dominators(node.Index)
		if err != nil {
			t.Fatalf("Dominators(%d): unexpected error: %v", node.Index, err)
		}
		foundSelf := false
		for _, d := range doms {
			if d.Index == node.Index {
				foundSelf = true
			}
		}
		if !foundSelf {
			t.Errorf("expected node %d in its own dominator set", node.Index)
		}
	}
}

func TestDominatorTree_Depth(t *testing.T) {
	cfg := buildTestCFG(t, diamondBlocks())

	tree, err := ComputeDominatorTree(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		node, depth int
	}{
		{EntryIndex, 0},
		{0, 1},
		{1, 2},
		{2, 2},
		{3, 2},
		{ExitIndex, 3},
	}
	for _, tt := range tests {
		d, ok := tree.Depth(tt.node)
		if !ok {
			t.Fatalf("expected node %d in depth map", tt.node)
		}
		if d != tt.depth {
			t.Errorf("node %d: expected depth %d, got %d", tt.node, tt.depth, d)
		}
	}

	if tree.MaxDepth() != 3 {
		t.Errorf("expected max depth 3, got %d", tree.MaxDepth())
	}
	if _, ok := tree.Depth(99); ok {
		t.Error("expected no depth for unknown node")
	}
}

// =============================================================================
// Post-Dominator Tree Tests
// =============================================================================

func TestComputePostDominatorTree_Diamond(t *testing.T) {
	cfg := buildTestCFG(t, diamondBlocks())

	tree, err := ComputePostDominatorTree(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tree.Root().Index != ExitIndex {
		t.Errorf("expected root %d, got %d", ExitIndex, tree.Root().Index)
	}

	// The join post-dominates everything above it.
	requireParent(t, tree, 3, ExitIndex)
	requireParent(t, tree, 1, 3)
	requireParent(t, tree, 2, 3)
	requireParent(t, tree, 0, 3)
	requireParent(t, tree, EntryIndex, 0)

	if !tree.Dominates(3, 0) {
		t.Error("expected the join to post-dominate the branch point")
	}
	if tree.Dominates(1, 0) {
		t.Error("expected the true arm not to post-dominate the branch point")
	}
}

func TestComputePostDominatorTree_Loop(t *testing.T) {
	cfg := buildTestCFG(t, whileBlocks())

	tree, err := ComputePostDominatorTree(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every iteration funnels through the header and out through block 2.
	requireParent(t, tree, 2, ExitIndex)
	requireParent(t, tree, 0, 2)
	requireParent(t, tree, 1, 0)
	requireParent(t, tree, EntryIndex, 0)

	if !tree.Dominates(0, 1) {
		t.Error("expected the header to post-dominate the loop body")
	}
}

// =============================================================================
// Error Handling Tests
// =============================================================================

func TestComputeDominatorTree_NilCFG(t *testing.T) {
	if _, err := ComputeDominatorTree(context.Background(), nil); err == nil {
		t.Error("expected error for nil CFG")
	}
	if _, err := ComputePostDominatorTree(context.Background(), nil); err == nil {
		t.Error("expected error for nil CFG")
	}
}

func TestComputeDominatorTree_CanceledContext(t *testing.T) {
	cfg := buildTestCFG(t, diamondBlocks())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ComputeDominatorTree(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDominatorError_Message(t *testing.T) {
	err := &DominatorError{Message: "graph is empty"}
	expected := "dominator computation failed: graph is empty"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}
