// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fitness turns raw execution traces into the totally ordered
// distances and scalar fitness values the search layer optimizes.
//
// Coverage goals form a closed variant: a RootGoal rewards entering a
// branchless code unit, a BranchGoal rewards one boolean outcome of one
// predicate. Consumers dispatch with an exhaustive type switch; the
// variant set is fixed, so a new case is a compile-visible change here
// rather than a silently missed virtual override.
//
// Thread Safety: Goals and distances are immutable values. Fitness
// computation only reads the registry and the trace.
package fitness

import (
	"fmt"
	"math"

	"github.com/AleutianAI/evogen/instrument"
)

// ===== Goal variant =====

// CoverageGoal is one target the search rewards. The two implementations
// are RootGoal and BranchGoal; the unexported method seals the set.
//
// Goals are comparable values: equality is by identity fields, so they
// serve directly as map keys in the archive.
type CoverageGoal interface {
	coverageGoal()

	// UnitID returns the code unit the goal belongs to.
	UnitID() int

	String() string
}

// RootGoal rewards entering a code unit that has no predicates. Covered
// as soon as the unit is entered at least once.
type RootGoal struct {
	Unit int
}

func (RootGoal) coverageGoal() {}

// UnitID returns the code unit the goal belongs to.
func (g RootGoal) UnitID() int { return g.Unit }

func (g RootGoal) String() string {
	return fmt.Sprintf("root(unit=%d)", g.Unit)
}

// BranchGoal rewards one boolean outcome of one predicate.
type BranchGoal struct {
	Unit        int
	PredicateID int
	Value       bool
}

func (BranchGoal) coverageGoal() {}

// UnitID returns the code unit the goal belongs to.
func (g BranchGoal) UnitID() int { return g.Unit }

func (g BranchGoal) String() string {
	return fmt.Sprintf("branch(p%d=%t)", g.PredicateID, g.Value)
}

// BranchCoverageGoals derives the full goal set from a registry: one
// RootGoal per branchless unit, then true and false BranchGoals per
// predicate, in ascending identifier order.
func BranchCoverageGoals(registry *instrument.Registry) []CoverageGoal {
	goals := make([]CoverageGoal, 0, registry.PredicateCount()*2)
	for _, unitID := range registry.BranchlessUnits() {
		goals = append(goals, RootGoal{Unit: unitID})
	}
	for _, predicateID := range registry.PredicateIDs() {
		meta, ok := registry.Predicate(predicateID)
		if !ok {
			continue
		}
		goals = append(goals,
			BranchGoal{Unit: meta.UnitID, PredicateID: predicateID, Value: true},
			BranchGoal{Unit: meta.UnitID, PredicateID: predicateID, Value: false},
		)
	}
	return goals
}

// ===== Fitness computation =====

// GoalFitness computes the raw fitness of one goal against one execution
// result. Zero means covered; WorstFitness means the goal's unit or
// controlling structure was never reached.
func GoalFitness(goal CoverageGoal, result *ExecutionResult, registry *instrument.Registry) float64 {
	if result == nil || result.Trace == nil {
		return WorstFitness
	}
	switch g := goal.(type) {
	case RootGoal:
		if result.Trace.Entered(g.Unit) {
			return 0.0
		}
		return WorstFitness
	case BranchGoal:
		distance, ok := BranchDistance(g, result.Trace, registry)
		if !ok {
			return WorstFitness
		}
		return distance.ResultingBranchFitness()
	default:
		panic(fmt.Sprintf("fitness: unknown goal type %T", goal))
	}
}

// BranchDistance computes the control-flow distance of one branch goal.
//
// Description:
//
//	When the goal's predicate was executed, the approach level is zero
//	and the branch distance is the oracle's distance for the needed
//	outcome. Otherwise the climb walks up the control-dependence graph
//	one level at a time: at each level it collects the controlling
//	predicates of the current frontier, and the first level containing
//	an executed controller yields (level, minimum distance over those
//	controllers). Each level climbed counts one approach level.
//
// Outputs:
//
//	ControlFlowDistance - The distance pair.
//	bool - False when the climb exhausted without finding any executed
//	       controller; the caller maps this to WorstFitness.
func BranchDistance(goal BranchGoal, trace *ExecutionTrace, registry *instrument.Registry) (ControlFlowDistance, bool) {
	if trace.Executed(goal.PredicateID) {
		return NewControlFlowDistance(0, outcomeDistance(trace, goal.PredicateID, goal.Value)), true
	}

	meta, ok := registry.Predicate(goal.PredicateID)
	if !ok {
		return ControlFlowDistance{}, false
	}
	unit, ok := registry.CodeUnit(meta.UnitID)
	if !ok {
		return ControlFlowDistance{}, false
	}

	level := 1
	frontier := []int{meta.NodeIndex}
	visited := map[int]bool{meta.NodeIndex: true}

	for len(frontier) > 0 {
		best := math.Inf(1)
		found := false
		next := make([]int, 0)

		for _, nodeIndex := range frontier {
			deps, err := unit.CDG.GetControlDependencies(nodeIndex)
			if err != nil {
				continue // node carries no dependence information
			}
			for _, dep := range deps {
				if trace.Executed(dep.PredicateID) {
					found = true
					if d := outcomeDistance(trace, dep.PredicateID, dep.Branch); d < best {
						best = d
					}
					continue
				}
				depMeta, ok := registry.Predicate(dep.PredicateID)
				if ok && !visited[depMeta.NodeIndex] {
					visited[depMeta.NodeIndex] = true
					next = append(next, depMeta.NodeIndex)
				}
			}
		}

		if found {
			return NewControlFlowDistance(level, best), true
		}
		level++
		frontier = next
	}

	return ControlFlowDistance{}, false
}

// outcomeDistance reads the oracle's distance for one predicate outcome.
// A missing entry reads as +Inf so a partially recorded trace degrades to
// the worst finite-level fitness instead of failing.
func outcomeDistance(trace *ExecutionTrace, predicateID int, value bool) float64 {
	distances := trace.FalseDistances
	if value {
		distances = trace.TrueDistances
	}
	if d, ok := distances[predicateID]; ok {
		return d
	}
	return math.Inf(1)
}
