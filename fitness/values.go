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
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidFitness indicates an aggregated fitness outside [0, +Inf).
	ErrInvalidFitness = errors.New("invalid fitness value")

	// ErrInvalidCoverage indicates a coverage ratio outside [0, 1].
	ErrInvalidCoverage = errors.New("invalid coverage value")
)

// FitnessValues is a candidate's aggregated score: total fitness across
// goals and the fraction of goals covered.
type FitnessValues struct {
	Fitness  float64
	Coverage float64
}

// Validate checks the structural contract: fitness finite and
// non-negative, coverage within [0, 1]. A violation indicates corrupted
// evaluation, not a transient condition, and callers treat it as fatal.
func (v FitnessValues) Validate() error {
	if math.IsNaN(v.Fitness) || math.IsInf(v.Fitness, 0) || v.Fitness < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidFitness, v.Fitness)
	}
	if math.IsNaN(v.Coverage) || v.Coverage < 0 || v.Coverage > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidCoverage, v.Coverage)
	}
	return nil
}

func (v FitnessValues) String() string {
	return fmt.Sprintf("fitness=%g coverage=%.2f", v.Fitness, v.Coverage)
}
