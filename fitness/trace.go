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

// ExecutionTrace is the coverage feedback one oracle run produces.
//
// The oracle owns the arithmetic that turns raw comparison operands into
// branch distances; this package only consumes the resulting non-negative
// values. Distances follow the usual convention: exactly 0 when the
// outcome occurred, positive otherwise, smaller meaning closer.
type ExecutionTrace struct {
	// EnteredUnits holds the code units entered at least once.
	EnteredUnits map[int]bool

	// ExecutedPredicates counts executions per predicate id. A predicate
	// absent from the map was never reached.
	ExecutedPredicates map[int]int

	// TrueDistances maps each executed predicate to the distance of its
	// true outcome.
	TrueDistances map[int]float64

	// FalseDistances maps each executed predicate to the distance of its
	// false outcome.
	FalseDistances map[int]float64
}

// NewExecutionTrace returns an empty trace with initialized maps.
func NewExecutionTrace() *ExecutionTrace {
	return &ExecutionTrace{
		EnteredUnits:       make(map[int]bool),
		ExecutedPredicates: make(map[int]int),
		TrueDistances:      make(map[int]float64),
		FalseDistances:     make(map[int]float64),
	}
}

// Entered reports whether the trace entered the given code unit.
func (t *ExecutionTrace) Entered(unitID int) bool {
	return t != nil && t.EnteredUnits[unitID]
}

// Executed reports whether the trace executed the given predicate at
// least once.
func (t *ExecutionTrace) Executed(predicateID int) bool {
	return t != nil && t.ExecutedPredicates[predicateID] > 0
}

// Merge folds another trace into this one: entered units are unioned,
// execution counts summed, and distances kept at their minimum. Used when
// several oracle runs contribute to one candidate's coverage picture.
func (t *ExecutionTrace) Merge(other *ExecutionTrace) {
	if other == nil {
		return
	}
	for unitID := range other.EnteredUnits {
		t.EnteredUnits[unitID] = true
	}
	for predicateID, count := range other.ExecutedPredicates {
		t.ExecutedPredicates[predicateID] += count
	}
	mergeMin(t.TrueDistances, other.TrueDistances)
	mergeMin(t.FalseDistances, other.FalseDistances)
}

func mergeMin(dst, src map[int]float64) {
	for predicateID, distance := range src {
		if current, ok := dst[predicateID]; !ok || distance < current {
			dst[predicateID] = distance
		}
	}
}

// ExecutionResult is the complete outcome of running one candidate
// through the oracle.
//
// A raised exception or a timeout is ordinary data, not an error: the
// trace still carries whatever coverage was observed before the failure,
// and the flags feed the archive's replacement tie-break.
type ExecutionResult struct {
	Trace    *ExecutionTrace
	Raised   bool
	TimedOut bool
}

// NewExecutionResult returns a result wrapping an empty trace.
func NewExecutionResult() *ExecutionResult {
	return &ExecutionResult{Trace: NewExecutionTrace()}
}
