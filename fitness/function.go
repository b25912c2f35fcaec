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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/evogen/instrument"
	"github.com/AleutianAI/evogen/telemetry"
)

// ExecutionOracle runs a candidate and reports what it covered. The
// oracle lives outside this core; from here the call is blocking and
// always resolves to a complete result or an infrastructure error.
//
// A candidate that raises or times out is NOT an error: the oracle
// reports it through the result flags with whatever partial trace was
// observed.
type ExecutionOracle interface {
	Execute(ctx context.Context, chromosome Chromosome) (*ExecutionResult, error)
}

// BranchCoverageFitness scores candidates against one coverage goal.
//
// The oracle is consulted at most once per unchanged candidate: results
// are cached on the chromosome and reused until it reports HasChanged.
// One instance per goal; all instances of a run share the registry and
// oracle.
type BranchCoverageFitness struct {
	goal     CoverageGoal
	registry *instrument.Registry
	oracle   ExecutionOracle
}

// NewBranchCoverageFitness creates a fitness function for one goal.
func NewBranchCoverageFitness(goal CoverageGoal, registry *instrument.Registry, oracle ExecutionOracle) *BranchCoverageFitness {
	return &BranchCoverageFitness{goal: goal, registry: registry, oracle: oracle}
}

// Goal returns the goal this function scores.
func (f *BranchCoverageFitness) Goal() CoverageGoal {
	return f.goal
}

// IsMaximisation reports the optimization direction: branch fitness is
// minimized.
func (f *BranchCoverageFitness) IsMaximisation() bool {
	return false
}

// Compute returns the candidate's fitness for this function's goal,
// running the oracle only when the cached result is stale.
//
// Outputs:
//
//	float64 - Zero when covered, WorstFitness when unreached.
//	error - Non-nil only on oracle infrastructure failure.
func (f *BranchCoverageFitness) Compute(ctx context.Context, chromosome Chromosome) (float64, error) {
	result, err := f.resultFor(ctx, chromosome)
	if err != nil {
		return 0, err
	}
	return GoalFitness(f.goal, result, f.registry), nil
}

func (f *BranchCoverageFitness) resultFor(ctx context.Context, chromosome Chromosome) (*ExecutionResult, error) {
	if !chromosome.HasChanged() {
		if cached := chromosome.LastResult(); cached != nil {
			return cached, nil
		}
	}

	result, err := f.oracle.Execute(ctx, chromosome)
	if err != nil {
		return nil, fmt.Errorf("oracle execution for %s: %w", f.goal, err)
	}
	chromosome.SetLastResult(result)
	chromosome.SetChanged(false)

	telemetry.LoggerWithTrace(ctx, slog.Default()).Debug("fitness: oracle executed",
		slog.String("goal", f.goal.String()),
		slog.Bool("raised", result.Raised),
		slog.Bool("timed_out", result.TimedOut),
	)
	return result, nil
}
