// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/evogen/graph"
)

// testBlock is a minimal BasicBlock for registry tests.
type testBlock struct {
	fall        int
	hasFall     bool
	condTrue    int
	condFalse   int
	conditional bool
}

func (b *testBlock) FallThrough() (int, bool) { return b.fall, b.hasFall }
func (b *testBlock) JumpTarget() (int, bool)  { return 0, false }
func (b *testBlock) ConditionalTargets() (int, int, bool) {
	return b.condTrue, b.condFalse, b.conditional
}
func (b *testBlock) HasYield() bool { return false }

// buildUnitGraphs builds the CFG and CDG of a single-conditional unit.
func buildUnitGraphs(t *testing.T) (*graph.CFG, *graph.ControlDependenceGraph) {
	t.Helper()

	blocks := []graph.BasicBlock{
		&testBlock{condTrue: 1, condFalse: 2, conditional: true},
		&testBlock{fall: 3, hasFall: true},
		&testBlock{fall: 3, hasFall: true},
		&testBlock{},
	}

	cfg, err := graph.BuildCFG(context.Background(), blocks)
	if err != nil {
		t.Fatalf("failed to build CFG: %v", err)
	}
	cdg, err := graph.ComputeControlDependenceGraph(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to compute CDG: %v", err)
	}
	return cfg, cdg
}

// buildLinearGraphs builds the CFG and CDG of a branchless unit.
func buildLinearGraphs(t *testing.T) (*graph.CFG, *graph.ControlDependenceGraph) {
	t.Helper()

	blocks := []graph.BasicBlock{
		&testBlock{fall: 1, hasFall: true},
		&testBlock{},
	}

	cfg, err := graph.BuildCFG(context.Background(), blocks)
	if err != nil {
		t.Fatalf("failed to build CFG: %v", err)
	}
	cdg, err := graph.ComputeControlDependenceGraph(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to compute CDG: %v", err)
	}
	return cfg, cdg
}

// =============================================================================
// Registration Tests
// =============================================================================

func TestRegistry_RunID(t *testing.T) {
	first := NewRegistry()
	second := NewRegistry()

	if first.RunID() == "" {
		t.Error("expected non-empty run ID")
	}
	if first.RunID() == second.RunID() {
		t.Error("expected distinct run IDs per registry")
	}
}

func TestRegistry_RegisterCodeUnit(t *testing.T) {
	registry := NewRegistry()
	cfg, cdg := buildUnitGraphs(t)

	unitID, err := registry.RegisterCodeUnit("compute", cfg, cdg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unitID != 0 {
		t.Errorf("expected first unit ID 0, got %d", unitID)
	}

	cfg2, cdg2 := buildLinearGraphs(t)
	secondID, err := registry.RegisterCodeUnit("helper", cfg2, cdg2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondID != 1 {
		t.Errorf("expected second unit ID 1, got %d", secondID)
	}

	meta, ok := registry.CodeUnit(unitID)
	if !ok {
		t.Fatal("expected unit metadata")
	}
	if meta.Name != "compute" || meta.CFG != cfg || meta.CDG != cdg {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	if registry.CodeUnitCount() != 2 {
		t.Errorf("expected 2 units, got %d", registry.CodeUnitCount())
	}

	ids := registry.CodeUnitIDs()
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("expected unit IDs [0 1], got %v", ids)
	}
}

func TestRegistry_RegisterCodeUnit_NilGraphs(t *testing.T) {
	registry := NewRegistry()
	cfg, cdg := buildUnitGraphs(t)

	if _, err := registry.RegisterCodeUnit("broken", nil, cdg); !errors.Is(err, ErrNilGraph) {
		t.Errorf("expected ErrNilGraph for nil CFG, got %v", err)
	}
	if _, err := registry.RegisterCodeUnit("broken", cfg, nil); !errors.Is(err, ErrNilGraph) {
		t.Errorf("expected ErrNilGraph for nil CDG, got %v", err)
	}
}

func TestRegistry_RegisterPredicate(t *testing.T) {
	registry := NewRegistry()
	cfg, cdg := buildUnitGraphs(t)

	unitID, err := registry.RegisterCodeUnit("compute", cfg, cdg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	predicateID, err := registry.RegisterPredicate(unitID, 0, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if predicateID != 0 {
		t.Errorf("expected first predicate ID 0, got %d", predicateID)
	}

	// The CFG node is tagged, and the tag is visible through the CDG's
	// shared node pointers.
	node, ok := cfg.GetNode(0)
	if !ok {
		t.Fatal("expected node 0 in CFG")
	}
	if node.PredicateID != predicateID {
		t.Errorf("expected node tagged with %d, got %d", predicateID, node.PredicateID)
	}
	deps, err := cdg.GetControlDependencies(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 1 || deps[0].PredicateID != predicateID || !deps[0].Branch {
		t.Errorf("expected dependency on (p%d, true), got %v", predicateID, deps)
	}

	meta, ok := registry.Predicate(predicateID)
	if !ok {
		t.Fatal("expected predicate metadata")
	}
	if meta.UnitID != unitID || meta.NodeIndex != 0 || meta.Line != 42 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestRegistry_RegisterPredicate_UnknownUnit(t *testing.T) {
	registry := NewRegistry()

	if _, err := registry.RegisterPredicate(99, 0, 0); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("expected ErrUnknownUnit, got %v", err)
	}
}

func TestRegistry_RegisterPredicate_DoubleTag(t *testing.T) {
	registry := NewRegistry()
	cfg, cdg := buildUnitGraphs(t)

	unitID, err := registry.RegisterCodeUnit("compute", cfg, cdg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.RegisterPredicate(unitID, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = registry.RegisterPredicate(unitID, 0, 0)
	if !errors.Is(err, graph.ErrPredicateTagged) {
		t.Errorf("expected ErrPredicateTagged, got %v", err)
	}
	// The failed registration consumed no identifier.
	if registry.PredicateCount() != 1 {
		t.Errorf("expected 1 predicate, got %d", registry.PredicateCount())
	}
}

func TestRegistry_RegisterPredicate_UnknownNode(t *testing.T) {
	registry := NewRegistry()
	cfg, cdg := buildUnitGraphs(t)

	unitID, err := registry.RegisterCodeUnit("compute", cfg, cdg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = registry.RegisterPredicate(unitID, 99, 0)
	if !errors.Is(err, graph.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

// =============================================================================
// Lookup Tests
// =============================================================================

func TestRegistry_PredicatesSpanUnits(t *testing.T) {
	registry := NewRegistry()

	cfg1, cdg1 := buildUnitGraphs(t)
	unit1, err := registry.RegisterCodeUnit("first", cfg1, cdg1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg2, cdg2 := buildUnitGraphs(t)
	unit2, err := registry.RegisterCodeUnit("second", cfg2, cdg2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Predicate identifiers are dense across units, not per unit.
	p1, err := registry.RegisterPredicate(unit1, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := registry.RegisterPredicate(unit2, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p1 != 0 || p2 != 1 {
		t.Errorf("expected predicate IDs 0 and 1, got %d and %d", p1, p2)
	}

	if got := registry.PredicatesOf(unit1); len(got) != 1 || got[0] != p1 {
		t.Errorf("expected unit 1 predicates [%d], got %v", p1, got)
	}
	if got := registry.PredicatesOf(unit2); len(got) != 1 || got[0] != p2 {
		t.Errorf("expected unit 2 predicates [%d], got %v", p2, got)
	}
	if got := registry.PredicateIDs(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("expected predicate IDs [0 1], got %v", got)
	}
}

func TestRegistry_BranchlessUnits(t *testing.T) {
	registry := NewRegistry()

	cfg1, cdg1 := buildUnitGraphs(t)
	withBranches, err := registry.RegisterCodeUnit("compute", cfg1, cdg1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg2, cdg2 := buildLinearGraphs(t)
	branchless, err := registry.RegisterCodeUnit("helper", cfg2, cdg2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := registry.RegisterPredicate(withBranches, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := registry.BranchlessUnits()
	if len(got) != 1 || got[0] != branchless {
		t.Errorf("expected branchless units [%d], got %v", branchless, got)
	}
}

func TestRegistry_UnknownLookups(t *testing.T) {
	registry := NewRegistry()

	if _, ok := registry.CodeUnit(5); ok {
		t.Error("expected no metadata for unknown unit")
	}
	if _, ok := registry.Predicate(5); ok {
		t.Error("expected no metadata for unknown predicate")
	}
	if got := registry.PredicatesOf(5); len(got) != 0 {
		t.Errorf("expected no predicates for unknown unit, got %v", got)
	}
}
