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

// Chromosome is the capability set the search layer requires from an
// evolvable candidate. The representation of candidates, their mutation
// and crossover all live with the caller; the search engine only scores,
// ranks, selects and archives them through this interface.
//
// Rank and distance are scratch fields owned by ranking: values written
// in one generation carry no meaning into the next.
type Chromosome interface {
	// FitnessFor returns the candidate's fitness for one goal. Zero
	// means the goal is covered by this candidate; larger is worse.
	FitnessFor(goal CoverageGoal) float64

	// Fitness returns the candidate's aggregate scalar fitness across
	// all goals. Larger is worse.
	Fitness() float64

	// Clone returns an independent deep copy. The clone reports
	// HasChanged true until it is re-evaluated.
	Clone() Chromosome

	// Size returns the candidate's length in statements. The archive
	// prefers smaller candidates on fitness ties.
	Size() int

	// Rank returns the front index assigned by the last ranking pass.
	Rank() int

	// SetRank stores the front index. Only ranking calls this.
	SetRank(rank int)

	// Distance returns the secondary diversity metric assigned by the
	// last ranking pass.
	Distance() float64

	// SetDistance stores the diversity metric. Only ranking calls this.
	SetDistance(distance float64)

	// HasChanged reports whether the candidate mutated since its last
	// oracle run. The oracle is invoked at most once per unchanged
	// candidate.
	HasChanged() bool

	// SetChanged marks the candidate clean or dirty for the cache check.
	SetChanged(changed bool)

	// LastResult returns the cached oracle outcome, or nil before the
	// first run.
	LastResult() *ExecutionResult

	// SetLastResult stores an oracle outcome for reuse.
	SetLastResult(result *ExecutionResult)
}
