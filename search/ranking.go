// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"math"
	"math/rand"

	"github.com/AleutianAI/evogen/fitness"
)

// =============================================================================
// Many-Objective Ranking
// =============================================================================

// RankedFronts is the outcome of one preference-sorting pass: fronts in
// ascending rank order, each chromosome's Rank field already set.
type RankedFronts struct {
	fronts [][]fitness.Chromosome
}

// NumberOfFronts returns how many fronts were formed.
func (r *RankedFronts) NumberOfFronts() int {
	return len(r.fronts)
}

// Front returns one front. Index 0 holds the per-goal best individuals.
func (r *RankedFronts) Front(index int) []fitness.Chromosome {
	return r.fronts[index]
}

// DominanceComparator orders chromosomes by Pareto dominance restricted
// to a goal set: a dominates b when a is no worse on every goal and
// strictly better on at least one.
type DominanceComparator struct {
	goals []fitness.CoverageGoal
}

// NewDominanceComparator creates a comparator over the given goals.
func NewDominanceComparator(goals []fitness.CoverageGoal) *DominanceComparator {
	return &DominanceComparator{goals: goals}
}

// Compare returns -1 when a dominates b, 1 when b dominates a, and 0
// when neither dominates.
func (c *DominanceComparator) Compare(a, b fitness.Chromosome) int {
	dominatesA := false
	dominatesB := false

	for _, goal := range c.goals {
		fa := a.FitnessFor(goal)
		fb := b.FitnessFor(goal)
		if fa < fb {
			dominatesA = true
		} else if fb < fa {
			dominatesB = true
		}
		if dominatesA && dominatesB {
			return 0
		}
	}

	switch {
	case dominatesA:
		return -1
	case dominatesB:
		return 1
	default:
		return 0
	}
}

// PreferenceSorter ranks a population for many-objective search.
//
// Front 0 contains, per uncovered goal, the single best chromosome for
// that goal. Further fronts are peeled from the remainder by Pareto
// dominance over the uncovered-goal vector until the target population
// size is ranked; whatever is left gets the next rank without sorting,
// since it will not survive into the next generation anyway.
//
// Thread Safety: Not safe for concurrent use; ranking writes the
// chromosomes' rank fields and draws from the random source.
type PreferenceSorter struct {
	populationSize int
	rng            *rand.Rand
}

// NewPreferenceSorter creates a sorter targeting the configured
// population size.
func NewPreferenceSorter(populationSize int, rng *rand.Rand) *PreferenceSorter {
	return &PreferenceSorter{populationSize: populationSize, rng: rng}
}

// ComputeRankingAssignment sorts the population into fronts against the
// currently uncovered goals and assigns ranks.
//
// Inputs:
//
//	population - The candidates to rank. May be empty.
//	uncoveredGoals - The goals still driving the search.
//
// Outputs:
//
//	*RankedFronts - The fronts in rank order. Never nil.
func (s *PreferenceSorter) ComputeRankingAssignment(population []fitness.Chromosome, uncoveredGoals []fitness.CoverageGoal) *RankedFronts {
	if len(population) == 0 {
		return &RankedFronts{}
	}

	zeroFront := s.zeroFront(population, uncoveredGoals)
	for _, chromosome := range zeroFront {
		chromosome.SetRank(0)
	}

	fronts := [][]fitness.Chromosome{zeroFront}
	remaining := subtract(population, zeroFront)
	ranked := len(zeroFront)
	frontIndex := 1
	comparator := NewDominanceComparator(uncoveredGoals)

	for len(remaining) > 0 && ranked < s.populationSize {
		front := nonDominatedFront(remaining, comparator)
		for _, chromosome := range front {
			chromosome.SetRank(frontIndex)
		}
		fronts = append(fronts, front)
		ranked += len(front)
		remaining = subtract(remaining, front)
		frontIndex++
	}

	if len(remaining) > 0 {
		for _, chromosome := range remaining {
			chromosome.SetRank(frontIndex)
		}
		fronts = append(fronts, remaining)
	}

	return &RankedFronts{fronts: fronts}
}

// zeroFront picks, per uncovered goal, the provably best chromosome for
// that goal, flipping a fair coin on exact ties. Winners are deduplicated
// preserving first-win order.
func (s *PreferenceSorter) zeroFront(population []fitness.Chromosome, uncoveredGoals []fitness.CoverageGoal) []fitness.Chromosome {
	seen := make(map[fitness.Chromosome]bool)
	front := make([]fitness.Chromosome, 0)

	for _, goal := range uncoveredGoals {
		best := population[0]
		bestFitness := best.FitnessFor(goal)
		for _, candidate := range population[1:] {
			f := candidate.FitnessFor(goal)
			if f < bestFitness || (f == bestFitness && s.rng.Intn(2) == 0) {
				best = candidate
				bestFitness = f
			}
		}
		if !seen[best] {
			seen[best] = true
			front = append(front, best)
		}
	}

	// Without uncovered goals nothing distinguishes the candidates;
	// keep the first so front 0 is never empty.
	if len(front) == 0 {
		front = append(front, population[0])
	}
	return front
}

// nonDominatedFront returns the members of the set no other member
// dominates.
func nonDominatedFront(candidates []fitness.Chromosome, comparator *DominanceComparator) []fitness.Chromosome {
	front := make([]fitness.Chromosome, 0)
	for i, candidate := range candidates {
		dominated := false
		for j, other := range candidates {
			if i == j {
				continue
			}
			if comparator.Compare(other, candidate) < 0 {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, candidate)
		}
	}
	return front
}

// subtract returns population minus the members of exclude, preserving
// order. Membership is by identity.
func subtract(population, exclude []fitness.Chromosome) []fitness.Chromosome {
	excluded := make(map[fitness.Chromosome]bool, len(exclude))
	for _, chromosome := range exclude {
		excluded[chromosome] = true
	}
	out := make([]fitness.Chromosome, 0, len(population))
	for _, chromosome := range population {
		if !excluded[chromosome] {
			out = append(out, chromosome)
		}
	}
	return out
}

// FastEpsilonDominanceAssignment computes the secondary diversity metric
// for one front.
//
// Per goal, the chromosomes tied for minimum fitness are "epsilon-best";
// each has its distance raised to max(current, (|front| - |tied|) /
// |front|). A goal where the whole front ties contributes nothing: being
// best there carries no information.
func FastEpsilonDominanceAssignment(front []fitness.Chromosome, goals []fitness.CoverageGoal) {
	if len(front) == 0 {
		return
	}

	for _, goal := range goals {
		minFitness := math.Inf(1)
		tied := make([]fitness.Chromosome, 0)

		for _, chromosome := range front {
			f := chromosome.FitnessFor(goal)
			switch {
			case f < minFitness:
				minFitness = f
				tied = tied[:0]
				tied = append(tied, chromosome)
			case f == minFitness:
				tied = append(tied, chromosome)
			}
		}

		if len(tied) == len(front) {
			continue
		}
		value := float64(len(front)-len(tied)) / float64(len(front))
		for _, chromosome := range tied {
			if value > chromosome.Distance() {
				chromosome.SetDistance(value)
			}
		}
	}
}
