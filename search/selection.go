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

// Selector picks a parent index from a scored population.
type Selector interface {
	// SelectIndex returns the index of the selected individual.
	// Returns -1 for an empty population.
	//
	// Inputs:
	//   - population: The candidates to select from. Rank selection
	//     requires best-first order; tournament selection does not.
	//
	// Outputs:
	//   - int: The selected index, always in [0, len(population)).
	SelectIndex(population []fitness.Chromosome) int
}

// RankSelection samples an index from a linear rank distribution.
//
// The population must be sorted best-first. With bias b > 1, index i is
// drawn with probability decreasing linearly in i, by inverting the
// cumulative distribution:
//
//	index = ⌊n * (b - sqrt(b² - 4(b-1)u)) / (2(b-1))⌋, u ~ U[0,1)
//
// A bias of 1.7 gives the best individual roughly 1.7 times the selection
// chance of the median one.
//
// Thread Safety: Not safe for concurrent use; the random source is
// unsynchronized.
type RankSelection struct {
	// Bias steers selection pressure. Must lie in (1, 2].
	Bias float64

	rng *rand.Rand
}

// NewRankSelection creates a rank selection operator.
//
// Inputs:
//   - bias: The rank bias (use 1.7 for the standard pressure). Values
//     outside (1, 2] fall back to 1.7.
//   - rng: The random source. Must be non-nil.
//
// Outputs:
//   - *RankSelection: Ready to use selection operator.
func NewRankSelection(bias float64, rng *rand.Rand) *RankSelection {
	if bias <= 1 || bias > 2 {
		bias = 1.7
	}
	return &RankSelection{Bias: bias, rng: rng}
}

// SelectIndex implements Selector using inverse-CDF rank sampling.
func (s *RankSelection) SelectIndex(population []fitness.Chromosome) int {
	n := len(population)
	if n == 0 {
		return -1
	}
	return s.indexFor(s.rng.Float64(), n)
}

// indexFor maps one uniform draw u in [0, 1) to a population index.
// u = 0 selects index 0; u approaching 1 never reaches n.
func (s *RankSelection) indexFor(u float64, n int) int {
	numerator := s.Bias - math.Sqrt(s.Bias*s.Bias-4.0*(s.Bias-1.0)*u)
	index := int(float64(n) * numerator / (2.0 * (s.Bias - 1.0)))

	// Floating-point round-off at u close to 1 can land on n.
	if index >= n {
		index = n - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

// TournamentSelection draws a fixed number of indices uniformly with
// replacement and keeps the fittest. Ties never replace the incumbent, so
// the earliest-drawn of equally fit contestants wins.
//
// Thread Safety: Not safe for concurrent use; the random source is
// unsynchronized.
type TournamentSelection struct {
	// TournamentSize is the number of uniform draws per selection.
	TournamentSize int

	// Maximize flips the comparison direction. Branch fitness is
	// minimized, so the usual value is false.
	Maximize bool

	rng *rand.Rand
}

// NewTournamentSelection creates a tournament selection operator.
//
// Inputs:
//   - tournamentSize: Draws per tournament (use 5 for the standard
//     pressure). Values below 1 fall back to 5.
//   - maximize: The optimization direction.
//   - rng: The random source. Must be non-nil.
//
// Outputs:
//   - *TournamentSelection: Ready to use selection operator.
func NewTournamentSelection(tournamentSize int, maximize bool, rng *rand.Rand) *TournamentSelection {
	if tournamentSize < 1 {
		tournamentSize = 5
	}
	return &TournamentSelection{TournamentSize: tournamentSize, Maximize: maximize, rng: rng}
}

// SelectIndex implements Selector by uniform draws with replacement.
func (s *TournamentSelection) SelectIndex(population []fitness.Chromosome) int {
	n := len(population)
	if n == 0 {
		return -1
	}

	best := s.rng.Intn(n)
	for draw := 1; draw < s.TournamentSize; draw++ {
		contender := s.rng.Intn(n)
		if s.strictlyFitter(population[contender], population[best]) {
			best = contender
		}
	}
	return best
}

// strictlyFitter reports whether a beats b in the configured direction.
// Equal fitness reports false, keeping the incumbent.
func (s *TournamentSelection) strictlyFitter(a, b fitness.Chromosome) bool {
	if s.Maximize {
		return a.Fitness() > b.Fitness()
	}
	return a.Fitness() < b.Fitness()
}
