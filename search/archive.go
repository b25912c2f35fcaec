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
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/AleutianAI/evogen/fitness"
)

// =============================================================================
// Per-Goal Archive
// =============================================================================

// scoredSolution pairs a stored candidate with its h-value for the
// owning goal.
type scoredSolution struct {
	h        float64
	solution fitness.Chromosome
}

// Population is the bounded per-goal store of the archive.
//
// It keeps up to capacity (h, chromosome) pairs sorted by h descending,
// where h = 1 - normalise(fitness) measures goal satisfaction in [0, 1].
// The first candidate reaching h = 1 covers the goal: capacity drops to
// 1, all partial solutions are discarded, and the transition never
// reverts. Afterward only a strictly preferable covering candidate can
// replace the kept one.
//
// Thread Safety: Not safe for concurrent use; the enclosing search loop
// serializes archive updates.
type Population struct {
	capacity  int
	covered   bool
	counter   int
	solutions []scoredSolution
}

// NewPopulation creates an empty population with the given capacity.
// Capacity below 1 falls back to 1.
func NewPopulation(capacity int) *Population {
	if capacity < 1 {
		capacity = 1
	}
	return &Population{capacity: capacity}
}

// IsCovered reports whether the goal has been fully satisfied.
func (p *Population) IsCovered() bool {
	return p.covered
}

// Capacity returns the current capacity, 1 once covered.
func (p *Population) Capacity() int {
	return p.capacity
}

// NumSolutions returns the number of stored solutions.
func (p *Population) NumSolutions() int {
	return len(p.solutions)
}

// Counter returns the number of samples drawn since the last accepted
// update.
func (p *Population) Counter() int {
	return p.counter
}

// AddSolution offers a candidate to the population.
//
// Description:
//
//	h = 0 is rejected outright: the candidate says nothing about this
//	goal. h = 1 covers the goal, collapsing capacity to 1; on an
//	already covered goal it replaces the incumbent only by winning the
//	tie-break. Partial h fills spare capacity or displaces the current
//	worst if preferable. Any accepted update resets the sample counter.
//
// Inputs:
//
//	h - Goal satisfaction in [0, 1]. Values outside panic: h is derived
//	    from a normalised fitness, so an out-of-range value means the
//	    evaluation pipeline is corrupted.
//	solution - The candidate. The caller hands over ownership.
//
// Outputs:
//
//	bool - True when the candidate was stored.
func (p *Population) AddSolution(h float64, solution fitness.Chromosome) bool {
	if h < 0 || h > 1 {
		panic(fmt.Sprintf("search: h-value %g outside [0,1]", h))
	}
	if h == 0 {
		return false
	}
	if p.covered && h < 1 {
		return false
	}

	if h == 1 {
		if p.covered {
			incumbent := p.solutions[0]
			if pairPreferable(incumbent.h, incumbent.solution, h, solution) {
				p.solutions[0] = scoredSolution{h: h, solution: solution}
				p.counter = 0
				return true
			}
			return false
		}
		p.covered = true
		p.capacity = 1
		p.solutions = []scoredSolution{{h: h, solution: solution}}
		p.counter = 0
		return true
	}

	if len(p.solutions) < p.capacity {
		p.solutions = append(p.solutions, scoredSolution{h: h, solution: solution})
		p.sortSolutions()
		p.counter = 0
		return true
	}

	worst := p.solutions[len(p.solutions)-1]
	if pairPreferable(worst.h, worst.solution, h, solution) {
		p.solutions[len(p.solutions)-1] = scoredSolution{h: h, solution: solution}
		p.sortSolutions()
		p.counter = 0
		return true
	}
	return false
}

// GetBestSolutionIfAny returns the highest-h stored solution.
func (p *Population) GetBestSolutionIfAny() (fitness.Chromosome, bool) {
	if len(p.solutions) == 0 {
		return nil, false
	}
	return p.solutions[0].solution, true
}

// SampleSolution draws uniformly among the stored solutions and
// increments the sample counter.
func (p *Population) SampleSolution(rng *rand.Rand) (fitness.Chromosome, bool) {
	if len(p.solutions) == 0 {
		return nil, false
	}
	p.counter++
	return p.solutions[rng.Intn(len(p.solutions))].solution, true
}

// ShrinkPopulation truncates an uncovered population to the first
// newSize entries and lowers its capacity. Covered populations are left
// alone.
func (p *Population) ShrinkPopulation(newSize int) {
	if newSize < 1 {
		panic(fmt.Sprintf("search: shrink to %d", newSize))
	}
	if p.covered {
		return
	}
	p.capacity = newSize
	if len(p.solutions) > newSize {
		p.solutions = p.solutions[:newSize]
	}
}

// sortSolutions re-sorts descending by h. The sort is stable, so among
// equal h-values earlier insertions stay first.
func (p *Population) sortSolutions() {
	sort.SliceStable(p.solutions, func(i, j int) bool {
		return p.solutions[i].h > p.solutions[j].h
	})
}

// pairPreferable reports whether the candidate pair should replace the
// current one: a higher h wins outright, and on equal h the candidate
// wins if the incumbent misbehaved at runtime and the candidate did not,
// or if the candidate is no larger.
func pairPreferable(currentH float64, current fitness.Chromosome, candidateH float64, candidate fitness.Chromosome) bool {
	if candidateH > currentH {
		return true
	}
	if candidateH < currentH {
		return false
	}
	if misbehaved(current) && !misbehaved(candidate) {
		return true
	}
	return candidate.Size() <= current.Size()
}

// misbehaved reports whether the chromosome's last run raised or timed
// out.
func misbehaved(chromosome fitness.Chromosome) bool {
	result := chromosome.LastResult()
	return result != nil && (result.Raised || result.TimedOut)
}

// =============================================================================
// Multi-Goal Archive
// =============================================================================

// Archive tracks the best candidates per coverage goal across the whole
// search.
//
// Thread Safety: Not safe for concurrent use; the search loop serializes
// updates per generation.
type Archive struct {
	goals       []fitness.CoverageGoal
	populations map[fitness.CoverageGoal]*Population
	rng         *rand.Rand
	logger      *slog.Logger
}

// NewArchive creates an archive with one population per goal.
//
// Inputs:
//   - goals: The full goal set, in a fixed order that sampling and
//     reporting preserve.
//   - solutionsPerGoal: Initial per-goal capacity before coverage.
//   - rng: The random source for sampling tie-breaks.
//
// Outputs:
//   - *Archive: Ready to use archive.
func NewArchive(goals []fitness.CoverageGoal, solutionsPerGoal int, rng *rand.Rand) *Archive {
	populations := make(map[fitness.CoverageGoal]*Population, len(goals))
	for _, goal := range goals {
		populations[goal] = NewPopulation(solutionsPerGoal)
	}
	ordered := make([]fitness.CoverageGoal, len(goals))
	copy(ordered, goals)
	return &Archive{
		goals:       ordered,
		populations: populations,
		rng:         rng,
		logger:      slog.Default().With(slog.String("component", "search.archive")),
	}
}

// Update offers each solution to every goal's population. Each solution
// is cloned once so the archive owns copies the breeding loop cannot
// mutate. Returns true when any population accepted an update.
func (a *Archive) Update(solutions []fitness.Chromosome) bool {
	updated := false
	for _, solution := range solutions {
		stored := solution.Clone()
		stored.SetChanged(false)
		stored.SetLastResult(solution.LastResult())
		for _, goal := range a.goals {
			h := 1.0 - fitness.Normalise(solution.FitnessFor(goal))
			if a.populations[goal].AddSolution(h, stored) {
				updated = true
			}
		}
	}
	return updated
}

// Population returns the store of one goal.
func (a *Archive) Population(goal fitness.CoverageGoal) (*Population, bool) {
	population, ok := a.populations[goal]
	return population, ok
}

// UncoveredGoals returns the goals not yet covered, in goal order.
func (a *Archive) UncoveredGoals() []fitness.CoverageGoal {
	out := make([]fitness.CoverageGoal, 0, len(a.goals))
	for _, goal := range a.goals {
		if !a.populations[goal].IsCovered() {
			out = append(out, goal)
		}
	}
	return out
}

// NumCoveredGoals returns how many goals are covered.
func (a *Archive) NumCoveredGoals() int {
	covered := 0
	for _, goal := range a.goals {
		if a.populations[goal].IsCovered() {
			covered++
		}
	}
	return covered
}

// NumGoals returns the total goal count.
func (a *Archive) NumGoals() int {
	return len(a.goals)
}

// Coverage returns the covered fraction in [0, 1]. An archive without
// goals reports full coverage.
func (a *Archive) Coverage() float64 {
	if len(a.goals) == 0 {
		return 1.0
	}
	return float64(a.NumCoveredGoals()) / float64(len(a.goals))
}

// SampleSolution draws a stored solution for reseeding.
//
// Description:
//
//	Only goals with at least one stored solution are eligible. Goals
//	not yet covered take priority over covered ones. Among the eligible
//	goals the one with the fewest samples since its last improvement
//	wins, with ties broken by a pre-shuffle; the draw within the
//	winning population is uniform.
//
// Outputs:
//
//	fitness.Chromosome - The sampled solution.
//	bool - False when no population has stored anything yet.
func (a *Archive) SampleSolution() (fitness.Chromosome, bool) {
	eligible := make([]fitness.CoverageGoal, 0, len(a.goals))
	for _, goal := range a.goals {
		if a.populations[goal].NumSolutions() > 0 {
			eligible = append(eligible, goal)
		}
	}
	if len(eligible) == 0 {
		return nil, false
	}

	uncovered := make([]fitness.CoverageGoal, 0, len(eligible))
	for _, goal := range eligible {
		if !a.populations[goal].IsCovered() {
			uncovered = append(uncovered, goal)
		}
	}
	pool := eligible
	if len(uncovered) > 0 {
		pool = uncovered
	}

	a.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	chosen := pool[0]
	for _, goal := range pool[1:] {
		if a.populations[goal].Counter() < a.populations[chosen].Counter() {
			chosen = goal
		}
	}

	return a.populations[chosen].SampleSolution(a.rng)
}

// ShrinkSolutions truncates every uncovered population to newSize.
func (a *Archive) ShrinkSolutions(newSize int) {
	for _, goal := range a.goals {
		a.populations[goal].ShrinkPopulation(newSize)
	}
}

// BestSolutions returns the best stored solution per goal, deduplicated
// by identity, in goal order. This is the raw material for the final
// test suite.
func (a *Archive) BestSolutions() []fitness.Chromosome {
	seen := make(map[fitness.Chromosome]bool)
	out := make([]fitness.Chromosome, 0, len(a.goals))
	for _, goal := range a.goals {
		if best, ok := a.populations[goal].GetBestSolutionIfAny(); ok && !seen[best] {
			seen[best] = true
			out = append(out, best)
		}
	}
	return out
}
