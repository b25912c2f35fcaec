// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search runs the many-objective evolutionary loop: preference
// ranking over the uncovered goals, biased parent selection, external
// variation, and a bounded per-goal archive of the best candidates.
//
// The package owns no candidate representation. Chromosome creation,
// mutation and crossover come from the caller through ChromosomeFactory
// and VariationOperator; the engine scores, ranks and archives whatever
// they produce.
//
// Thread Safety: An Engine is single-threaded by design. Population and
// archive state are mutated without locks; drivers that parallelize
// candidate evaluation must serialize everything else.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/AleutianAI/evogen/fitness"
	"github.com/AleutianAI/evogen/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ===== Errors =====

var (
	// ErrNilFactory indicates a missing chromosome factory.
	ErrNilFactory = errors.New("chromosome factory is nil")

	// ErrNilVariation indicates a missing variation operator.
	ErrNilVariation = errors.New("variation operator is nil")

	// ErrNoGoals indicates an empty goal set.
	ErrNoGoals = errors.New("goal set is empty")
)

// ===== Collaborator interfaces =====

// ChromosomeFactory produces fresh candidates for the initial population
// and for reseeding.
type ChromosomeFactory interface {
	Create(ctx context.Context) (fitness.Chromosome, error)
}

// VariationOperator breeds two offspring from two cloned parents. The
// operator owns crossover and mutation; it may return the inputs
// unchanged, mutated in place, or replaced.
type VariationOperator interface {
	Vary(ctx context.Context, first, second fitness.Chromosome) (fitness.Chromosome, fitness.Chromosome, error)
}

// ===== Results =====

// StopReason names why a search run ended.
type StopReason string

const (
	// StopCoverageComplete means every goal was covered.
	StopCoverageComplete StopReason = "coverage_complete"

	// StopGenerationLimit means the generation budget ran out.
	StopGenerationLimit StopReason = "generation_limit"

	// StopTimeLimit means the wall-time budget ran out.
	StopTimeLimit StopReason = "time_limit"

	// StopContextCancelled means the caller cancelled the run.
	StopContextCancelled StopReason = "context_cancelled"
)

// EvolutionResult is the terminal snapshot of one search run.
type EvolutionResult struct {
	StopReason   StopReason
	Generations  int
	Coverage     float64
	CoveredGoals int
	TotalGoals   int

	// Solutions holds the archive's best candidate per goal,
	// deduplicated, in goal order.
	Solutions []fitness.Chromosome

	// Values holds the best ranked individual's aggregate fitness,
	// normalised to [0, 1], and the final coverage.
	Values fitness.FitnessValues

	Duration time.Duration
}

// ===== Engine =====

// Engine drives the generational search loop.
type Engine struct {
	config    SearchConfig
	goals     []fitness.CoverageGoal
	factory   ChromosomeFactory
	variation VariationOperator
	selector  Selector
	sorter    *PreferenceSorter
	archive   *Archive
	rng       *rand.Rand
	logger    *slog.Logger

	population          []fitness.Chromosome
	generation          int
	bestCoverage        float64
	stagnantGenerations int
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithSelector replaces the default rank selection operator.
func WithSelector(selector Selector) EngineOption {
	return func(e *Engine) {
		e.selector = selector
	}
}

// NewEngine creates a search engine.
//
// Inputs:
//   - config: Search configuration. Validated here.
//   - goals: The full goal set driving the search. Must be non-empty;
//     order fixes sampling and reporting order.
//   - factory: Produces initial candidates.
//   - variation: Breeds offspring from selected parents.
//   - opts: Optional overrides.
//
// Outputs:
//   - *Engine: Ready to use engine.
//   - error: Non-nil on invalid config or missing collaborators.
func NewEngine(config SearchConfig, goals []fitness.CoverageGoal, factory ChromosomeFactory, variation VariationOperator, opts ...EngineOption) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, ErrNilFactory
	}
	if variation == nil {
		return nil, ErrNilVariation
	}
	if len(goals) == 0 {
		return nil, ErrNoGoals
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	ordered := make([]fitness.CoverageGoal, len(goals))
	copy(ordered, goals)

	engine := &Engine{
		config:    config,
		goals:     ordered,
		factory:   factory,
		variation: variation,
		selector:  NewRankSelection(config.Selection.RankBias, rng),
		sorter:    NewPreferenceSorter(config.Population.Size, rng),
		archive:   NewArchive(ordered, config.Archive.SolutionsPerGoal, rng),
		rng:       rng,
		logger:    slog.Default().With(slog.String("component", "search.engine")),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Archive exposes the per-goal archive for sampling and reporting.
func (e *Engine) Archive() *Archive {
	return e.archive
}

// Population returns a copy of the current ranked population.
func (e *Engine) Population() []fitness.Chromosome {
	out := make([]fitness.Chromosome, len(e.population))
	copy(out, e.population)
	return out
}

// Evolve runs the search until full coverage, the generation budget, the
// time budget, or cancellation.
//
// Outputs:
//
//	*EvolutionResult - The terminal snapshot. Nil on error.
//	error - Non-nil on collaborator failure or cancellation before the
//	        first generation.
func (e *Engine) Evolve(ctx context.Context) (*EvolutionResult, error) {
	startTime := time.Now()

	ctx, span := tracer.Start(ctx, "Engine.Evolve",
		trace.WithAttributes(
			attribute.Int("goal_count", len(e.goals)),
			attribute.Int("population_size", e.config.Population.Size),
			attribute.Int("max_generations", e.config.Budget.MaxGenerations),
		),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, e.logger)

	if err := e.initializePopulation(ctx); err != nil {
		return nil, err
	}
	e.archive.Update(e.population)
	e.rankPopulation(e.population)
	span.AddEvent("population_initialized", trace.WithAttributes(
		attribute.Int("size", len(e.population)),
	))

	var deadline time.Time
	if e.config.Budget.TimeLimit > 0 {
		deadline = startTime.Add(e.config.Budget.TimeLimit)
	}

	reason := StopGenerationLimit
	for e.generation = 0; e.generation < e.config.Budget.MaxGenerations; e.generation++ {
		if ctx.Err() != nil {
			reason = StopContextCancelled
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			reason = StopTimeLimit
			break
		}
		if len(e.archive.UncoveredGoals()) == 0 {
			reason = StopCoverageComplete
			break
		}
		if err := e.evolveGeneration(ctx); err != nil {
			return nil, err
		}
	}
	if reason == StopGenerationLimit && len(e.archive.UncoveredGoals()) == 0 {
		reason = StopCoverageComplete
	}

	result := e.snapshot(reason, time.Since(startTime))
	recordSearchComplete(ctx, reason, result.Coverage)
	span.AddEvent("search_complete", trace.WithAttributes(
		attribute.String("stop_reason", string(reason)),
		attribute.Int("generations", result.Generations),
		attribute.Float64("coverage", result.Coverage),
	))
	logger.Info("search complete",
		slog.String("stop_reason", string(reason)),
		slog.Int("generations", result.Generations),
		slog.Float64("coverage", result.Coverage),
		slog.Int("covered_goals", result.CoveredGoals),
		slog.Int("total_goals", result.TotalGoals),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// initializePopulation fills the population from the factory.
func (e *Engine) initializePopulation(ctx context.Context) error {
	e.population = make([]fitness.Chromosome, 0, e.config.Population.Size)
	for len(e.population) < e.config.Population.Size {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chromosome, err := e.factory.Create(ctx)
		if err != nil {
			return fmt.Errorf("create chromosome: %w", err)
		}
		e.population = append(e.population, chromosome)
	}
	return nil
}

// evolveGeneration runs one generation: breed, rank the union against
// the uncovered goals, truncate, archive.
func (e *Engine) evolveGeneration(ctx context.Context) error {
	generationStart := time.Now()

	offspring, err := e.breedNextGeneration(ctx)
	if err != nil {
		return err
	}

	union := make([]fitness.Chromosome, 0, len(e.population)+len(offspring))
	union = append(union, e.population...)
	union = append(union, offspring...)

	uncovered := e.archive.UncoveredGoals()
	for _, chromosome := range union {
		chromosome.SetDistance(0)
	}
	fronts := e.sorter.ComputeRankingAssignment(union, uncovered)
	e.population = e.buildNextPopulation(fronts, uncovered)
	e.sortPopulation()

	coveredBefore := e.archive.NumCoveredGoals()
	accepted := e.archive.Update(e.population)
	newlyCovered := e.archive.NumCoveredGoals() - coveredBefore

	coverage := e.archive.Coverage()
	if coverage > e.bestCoverage {
		e.bestCoverage = coverage
		e.stagnantGenerations = 0
	} else {
		e.stagnantGenerations++
	}
	if limit := e.config.Budget.StagnationLimit; limit > 0 && e.stagnantGenerations >= limit {
		e.reseedFromArchive(ctx)
		e.stagnantGenerations = 0
	}

	recordGeneration(ctx, time.Since(generationStart), coverage, fronts.NumberOfFronts(), newlyCovered, accepted)
	telemetry.LoggerWithTrace(ctx, e.logger).Debug("generation complete",
		slog.Int("generation", e.generation),
		slog.Float64("coverage", coverage),
		slog.Int("fronts", fronts.NumberOfFronts()),
		slog.Int("newly_covered", newlyCovered),
	)
	return nil
}

// breedNextGeneration selects parents from the ranked population and
// hands their clones to the variation operator until a full offspring
// population exists.
func (e *Engine) breedNextGeneration(ctx context.Context) ([]fitness.Chromosome, error) {
	size := e.config.Population.Size
	offspring := make([]fitness.Chromosome, 0, size)

	for len(offspring) < size {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		first := e.population[e.selector.SelectIndex(e.population)]
		second := e.population[e.selector.SelectIndex(e.population)]

		childA, childB, err := e.variation.Vary(ctx, first.Clone(), second.Clone())
		if err != nil {
			return nil, fmt.Errorf("variation: %w", err)
		}
		offspring = append(offspring, childA)
		if len(offspring) < size {
			offspring = append(offspring, childB)
		}
	}
	return offspring, nil
}

// buildNextPopulation consumes fronts in rank order: whole fronts while
// they fit, then the best of the next front by descending distance.
func (e *Engine) buildNextPopulation(fronts *RankedFronts, uncovered []fitness.CoverageGoal) []fitness.Chromosome {
	size := e.config.Population.Size
	next := make([]fitness.Chromosome, 0, size)
	remain := size

	for index := 0; remain > 0 && index < fronts.NumberOfFronts(); index++ {
		front := fronts.Front(index)
		FastEpsilonDominanceAssignment(front, uncovered)

		if len(front) <= remain {
			next = append(next, front...)
			remain -= len(front)
			continue
		}

		partial := make([]fitness.Chromosome, len(front))
		copy(partial, front)
		sort.SliceStable(partial, func(i, j int) bool {
			return partial[i].Distance() > partial[j].Distance()
		})
		next = append(next, partial[:remain]...)
		remain = 0
	}
	return next
}

// sortPopulation orders the population best-first: rank ascending,
// distance descending within a rank. Rank selection depends on this
// order.
func (e *Engine) sortPopulation() {
	sort.SliceStable(e.population, func(i, j int) bool {
		if e.population[i].Rank() != e.population[j].Rank() {
			return e.population[i].Rank() < e.population[j].Rank()
		}
		return e.population[i].Distance() > e.population[j].Distance()
	})
}

// rankPopulation runs one ranking pass outside the generational loop,
// used right after initialization.
func (e *Engine) rankPopulation(population []fitness.Chromosome) {
	uncovered := e.archive.UncoveredGoals()
	for _, chromosome := range population {
		chromosome.SetDistance(0)
	}
	fronts := e.sorter.ComputeRankingAssignment(population, uncovered)
	for index := 0; index < fronts.NumberOfFronts(); index++ {
		FastEpsilonDominanceAssignment(fronts.Front(index), uncovered)
	}
	e.sortPopulation()
}

// reseedFromArchive replaces the tail quarter of a stagnant population
// with clones of archived solutions.
func (e *Engine) reseedFromArchive(ctx context.Context) {
	quarter := len(e.population) / 4
	if quarter == 0 {
		quarter = 1
	}

	replaced := 0
	for i := 0; i < quarter && i < len(e.population); i++ {
		sampled, ok := e.archive.SampleSolution()
		if !ok {
			break
		}
		e.population[len(e.population)-1-i] = sampled.Clone()
		replaced++
	}

	telemetry.LoggerWithTrace(ctx, e.logger).Debug("population reseeded from archive",
		slog.Int("generation", e.generation),
		slog.Int("replaced", replaced),
	)
}

// snapshot assembles the terminal result. The best individual's raw
// aggregate can be the infinite worst-case sentinel when its goals were
// never reached, so the stored fitness is normalised into [0, 1].
func (e *Engine) snapshot(reason StopReason, duration time.Duration) *EvolutionResult {
	var bestFitness float64
	if len(e.population) > 0 {
		bestFitness = fitness.Normalise(e.population[0].Fitness())
	}
	values := fitness.FitnessValues{
		Fitness:  bestFitness,
		Coverage: e.archive.Coverage(),
	}
	if err := values.Validate(); err != nil {
		panic(fmt.Sprintf("search: corrupted terminal fitness values: %v", err))
	}

	return &EvolutionResult{
		StopReason:   reason,
		Generations:  e.generation,
		Coverage:     e.archive.Coverage(),
		CoveredGoals: e.archive.NumCoveredGoals(),
		TotalGoals:   e.archive.NumGoals(),
		Solutions:    e.archive.BestSolutions(),
		Values:       values,
		Duration:     duration,
	}
}
