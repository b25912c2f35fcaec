// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fitness

import (
	"context"
	"testing"

	"github.com/AleutianAI/evogen/graph"
	"github.com/AleutianAI/evogen/instrument"
)

// testBlock is a minimal BasicBlock for fixture code units.
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

// nestedFixture carries the identifiers of the registered fixture units.
//
//	compute:        0 (outer, p0)
//	           T  /   \  F
//	              1     2
//	      (inner, p1)   |
//	          T/  \F    |
//	          3    4    |
//	           \   |   /
//	              5
//
//	helper: branchless, blocks 0 -> 1.
type nestedFixture struct {
	registry *instrument.Registry
	compute  int
	helper   int
	outer    int
	inner    int
}

func buildNestedFixture(t *testing.T) nestedFixture {
	t.Helper()

	registry := instrument.NewRegistry()

	blocks := []graph.BasicBlock{
		&testBlock{condTrue: 1, condFalse: 2, conditional: true},
		&testBlock{condTrue: 3, condFalse: 4, conditional: true},
		&testBlock{fall: 5, hasFall: true},
		&testBlock{fall: 5, hasFall: true},
		&testBlock{fall: 5, hasFall: true},
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
	compute, err := registry.RegisterCodeUnit("compute", cfg, cdg)
	if err != nil {
		t.Fatalf("failed to register unit: %v", err)
	}
	outer, err := registry.RegisterPredicate(compute, 0, 10)
	if err != nil {
		t.Fatalf("failed to register outer predicate: %v", err)
	}
	inner, err := registry.RegisterPredicate(compute, 1, 12)
	if err != nil {
		t.Fatalf("failed to register inner predicate: %v", err)
	}

	linear := []graph.BasicBlock{
		&testBlock{fall: 1, hasFall: true},
		&testBlock{},
	}
	linearCFG, err := graph.BuildCFG(context.Background(), linear)
	if err != nil {
		t.Fatalf("failed to build CFG: %v", err)
	}
	linearCDG, err := graph.ComputeControlDependenceGraph(context.Background(), linearCFG)
	if err != nil {
		t.Fatalf("failed to compute CDG: %v", err)
	}
	helper, err := registry.RegisterCodeUnit("helper", linearCFG, linearCDG)
	if err != nil {
		t.Fatalf("failed to register unit: %v", err)
	}

	return nestedFixture{
		registry: registry,
		compute:  compute,
		helper:   helper,
		outer:    outer,
		inner:    inner,
	}
}

func resultWithTrace(trace *ExecutionTrace) *ExecutionResult {
	return &ExecutionResult{Trace: trace}
}

// =============================================================================
// Goal Derivation Tests
// =============================================================================

func TestBranchCoverageGoals(t *testing.T) {
	fx := buildNestedFixture(t)

	goals := BranchCoverageGoals(fx.registry)

	expected := []CoverageGoal{
		RootGoal{Unit: fx.helper},
		BranchGoal{Unit: fx.compute, PredicateID: fx.outer, Value: true},
		BranchGoal{Unit: fx.compute, PredicateID: fx.outer, Value: false},
		BranchGoal{Unit: fx.compute, PredicateID: fx.inner, Value: true},
		BranchGoal{Unit: fx.compute, PredicateID: fx.inner, Value: false},
	}
	if len(goals) != len(expected) {
		t.Fatalf("expected %d goals, got %d: %v", len(expected), len(goals), goals)
	}
	for i, want := range expected {
		if goals[i] != want {
			t.Errorf("goal %d: expected %v, got %v", i, want, goals[i])
		}
	}
}

func TestBranchCoverageGoals_EmptyRegistry(t *testing.T) {
	goals := BranchCoverageGoals(instrument.NewRegistry())

	if len(goals) != 0 {
		t.Errorf("expected no goals, got %v", goals)
	}
}

func TestCoverageGoal_Strings(t *testing.T) {
	if got := (RootGoal{Unit: 3}).String(); got != "root(unit=3)" {
		t.Errorf("unexpected root goal string %q", got)
	}
	if got := (BranchGoal{Unit: 0, PredicateID: 2, Value: true}).String(); got != "branch(p2=true)" {
		t.Errorf("unexpected branch goal string %q", got)
	}
}

// =============================================================================
// Fitness Computation Tests
// =============================================================================

func TestGoalFitness_RootGoal(t *testing.T) {
	fx := buildNestedFixture(t)
	goal := RootGoal{Unit: fx.helper}

	trace := NewExecutionTrace()
	trace.EnteredUnits[fx.helper] = true
	if got := GoalFitness(goal, resultWithTrace(trace), fx.registry); got != 0.0 {
		t.Errorf("expected 0 for an entered unit, got %g", got)
	}

	if got := GoalFitness(goal, resultWithTrace(NewExecutionTrace()), fx.registry); got != WorstFitness {
		t.Errorf("expected worst fitness for an unentered unit, got %g", got)
	}
}

func TestGoalFitness_NilResult(t *testing.T) {
	fx := buildNestedFixture(t)
	goal := RootGoal{Unit: fx.helper}

	if got := GoalFitness(goal, nil, fx.registry); got != WorstFitness {
		t.Errorf("expected worst fitness for nil result, got %g", got)
	}
	if got := GoalFitness(goal, &ExecutionResult{}, fx.registry); got != WorstFitness {
		t.Errorf("expected worst fitness for nil trace, got %g", got)
	}
}

func TestGoalFitness_BranchGoal_Executed(t *testing.T) {
	fx := buildNestedFixture(t)

	trace := NewExecutionTrace()
	trace.EnteredUnits[fx.compute] = true
	trace.ExecutedPredicates[fx.inner] = 1
	trace.TrueDistances[fx.inner] = 0.0
	trace.FalseDistances[fx.inner] = 3.0
	result := resultWithTrace(trace)

	covered := BranchGoal{Unit: fx.compute, PredicateID: fx.inner, Value: true}
	if got := GoalFitness(covered, result, fx.registry); got != 0.0 {
		t.Errorf("expected 0 for the taken outcome, got %g", got)
	}

	// The untaken outcome normalises its branch distance: 3/(1+3).
	missed := BranchGoal{Unit: fx.compute, PredicateID: fx.inner, Value: false}
	if got := GoalFitness(missed, result, fx.registry); got != 0.75 {
		t.Errorf("expected 0.75 for the missed outcome, got %g", got)
	}
}

func TestGoalFitness_BranchGoal_MissingDistance(t *testing.T) {
	fx := buildNestedFixture(t)

	// Executed but with no recorded distance: degrades to the worst
	// same-level fitness rather than failing.
	trace := NewExecutionTrace()
	trace.ExecutedPredicates[fx.outer] = 1
	goal := BranchGoal{Unit: fx.compute, PredicateID: fx.outer, Value: true}

	if got := GoalFitness(goal, resultWithTrace(trace), fx.registry); got != 1.0 {
		t.Errorf("expected 1.0 for a missing distance, got %g", got)
	}
}

func TestGoalFitness_UnknownGoalType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown goal type")
		}
	}()
	GoalFitness(bogusGoal{}, NewExecutionResult(), nil)
}

type bogusGoal struct{}

func (bogusGoal) coverageGoal()  {}
func (bogusGoal) UnitID() int    { return 0 }
func (bogusGoal) String() string { return "bogus" }

// =============================================================================
// Approach Level Climb Tests
// =============================================================================

func TestBranchDistance_ClimbToExecutedController(t *testing.T) {
	fx := buildNestedFixture(t)

	// The inner conditional was never reached: the outer predicate took
	// its false arm. One climbed level, distance from the outer's true
	// outcome.
	trace := NewExecutionTrace()
	trace.EnteredUnits[fx.compute] = true
	trace.ExecutedPredicates[fx.outer] = 1
	trace.TrueDistances[fx.outer] = 4.0
	trace.FalseDistances[fx.outer] = 0.0

	goal := BranchGoal{Unit: fx.compute, PredicateID: fx.inner, Value: true}
	distance, ok := BranchDistance(goal, trace, fx.registry)
	if !ok {
		t.Fatal("expected a reachable controller")
	}
	if distance.ApproachLevel() != 1 {
		t.Errorf("expected approach level 1, got %d", distance.ApproachLevel())
	}
	if distance.BranchDistance() != 4.0 {
		t.Errorf("expected branch distance 4.0, got %g", distance.BranchDistance())
	}

	// The needed outcome is irrelevant while climbing: both goals of the
	// unreached predicate score 1 + 4/(1+4).
	for _, value := range []bool{true, false} {
		g := BranchGoal{Unit: fx.compute, PredicateID: fx.inner, Value: value}
		if got := GoalFitness(g, resultWithTrace(trace), fx.registry); got != 1.8 {
			t.Errorf("value %t: expected 1.8, got %g", value, got)
		}
	}
}

func TestBranchDistance_Exhausted(t *testing.T) {
	fx := buildNestedFixture(t)

	// Nothing executed: the climb runs out of controllers.
	goal := BranchGoal{Unit: fx.compute, PredicateID: fx.inner, Value: true}
	if _, ok := BranchDistance(goal, NewExecutionTrace(), fx.registry); ok {
		t.Error("expected the climb to exhaust")
	}
	if got := GoalFitness(goal, resultWithTrace(NewExecutionTrace()), fx.registry); got != WorstFitness {
		t.Errorf("expected worst fitness, got %g", got)
	}
}

func TestBranchDistance_UnknownPredicate(t *testing.T) {
	fx := buildNestedFixture(t)

	goal := BranchGoal{Unit: fx.compute, PredicateID: 99, Value: true}
	if _, ok := BranchDistance(goal, NewExecutionTrace(), fx.registry); ok {
		t.Error("expected no distance for an unregistered predicate")
	}
}
