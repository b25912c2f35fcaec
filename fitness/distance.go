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
	"fmt"
	"math"
)

// WorstFitness is the sentinel for goals whose code unit was never
// entered or whose controlling structure was never reached. It normalises
// to exactly 1, which the archive maps to h = 0 and rejects.
var WorstFitness = math.Inf(1)

// ControlFlowDistance measures how far an execution came from exercising
// a branch: the number of controlling predicates that diverged from the
// needed outcome, and the oracle-supplied distance at the closest one.
//
// Ordering is lexicographic: any approach-level difference outweighs any
// branch-distance difference.
type ControlFlowDistance struct {
	approachLevel  int
	branchDistance float64
}

// NewControlFlowDistance creates a distance pair.
//
// Both components must be non-negative; a negative value indicates a
// corrupted climb or a broken oracle and panics.
func NewControlFlowDistance(approachLevel int, branchDistance float64) ControlFlowDistance {
	if approachLevel < 0 {
		panic(fmt.Sprintf("fitness: negative approach level %d", approachLevel))
	}
	if branchDistance < 0 {
		panic(fmt.Sprintf("fitness: negative branch distance %g", branchDistance))
	}
	return ControlFlowDistance{approachLevel: approachLevel, branchDistance: branchDistance}
}

// ApproachLevel returns the number of divergent controlling predicates.
func (d ControlFlowDistance) ApproachLevel() int {
	return d.approachLevel
}

// BranchDistance returns the distance at the closest divergent predicate.
func (d ControlFlowDistance) BranchDistance() float64 {
	return d.branchDistance
}

// IncreaseApproachLevel moves the distance one control level further from
// the goal.
func (d *ControlFlowDistance) IncreaseApproachLevel() {
	d.approachLevel++
}

// Compare orders two distances lexicographically. Returns a negative
// value when d is closer to the goal than other, zero when equal, and a
// positive value otherwise.
func (d ControlFlowDistance) Compare(other ControlFlowDistance) int {
	if d.approachLevel != other.approachLevel {
		if d.approachLevel < other.approachLevel {
			return -1
		}
		return 1
	}
	switch {
	case d.branchDistance < other.branchDistance:
		return -1
	case d.branchDistance > other.branchDistance:
		return 1
	default:
		return 0
	}
}

// ResultingBranchFitness folds the pair into one scalar:
// approach_level + normalise(branch_distance). The result is monotone in
// the lexicographic order and lies in [approach_level, approach_level+1).
func (d ControlFlowDistance) ResultingBranchFitness() float64 {
	return float64(d.approachLevel) + Normalise(d.branchDistance)
}

func (d ControlFlowDistance) String() string {
	return fmt.Sprintf("approach=%d branch=%g", d.approachLevel, d.branchDistance)
}

// Normalise maps a non-negative distance into [0, 1]: x/(1+x) for finite
// x, and exactly 1 for +Inf. Strictly increasing on finite inputs, so
// relative order is preserved.
//
// Negative input panics: a correct oracle never produces one.
func Normalise(value float64) float64 {
	if value < 0 || math.IsNaN(value) {
		panic(fmt.Sprintf("fitness: cannot normalise %g", value))
	}
	if math.IsInf(value, 1) {
		return 1.0
	}
	return value / (1.0 + value)
}
