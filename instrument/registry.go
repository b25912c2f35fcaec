// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package instrument tracks what the instrumentation collaborator has
// registered for one generation run: code units with their analyzed
// graphs, and the predicates discovered inside them.
//
// A Registry replaces the process-wide predicate pool a tracer would
// normally keep. The search-loop driver constructs one per run and passes
// it by reference into analysis and fitness construction, so two runs in
// the same process never share identifier spaces.
//
// Thread Safety: All Registry methods are safe for concurrent use.
package instrument

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/evogen/graph"
	"github.com/google/uuid"
)

// ===== Errors =====

var (
	// ErrNilGraph indicates a registration with a missing graph.
	ErrNilGraph = errors.New("graph is nil")

	// ErrUnknownUnit indicates a reference to an unregistered code unit.
	ErrUnknownUnit = errors.New("unknown code unit")
)

// ===== Types =====

// CodeUnitMeta describes one registered code unit.
type CodeUnitMeta struct {
	// UnitID is the registry-assigned identifier.
	UnitID int

	// Name is the collaborator-supplied unit name, used only for logging
	// and reports.
	Name string

	// CFG is the unit's control-flow graph.
	CFG *graph.CFG

	// CDG is the unit's control-dependence graph. Shares node pointers
	// with CFG.
	CDG *graph.ControlDependenceGraph
}

// PredicateMeta describes one registered predicate.
type PredicateMeta struct {
	// PredicateID is the registry-assigned identifier.
	PredicateID int

	// UnitID identifies the enclosing code unit.
	UnitID int

	// NodeIndex is the CFG node holding the predicate.
	NodeIndex int

	// Line is the source line of the predicate, when the decoder knows
	// it. Zero otherwise.
	Line int
}

// Registry assigns identifiers to code units and predicates and resolves
// them back to their graphs during fitness evaluation.
type Registry struct {
	runID  string
	logger *slog.Logger

	mu              sync.RWMutex
	units           map[int]CodeUnitMeta
	predicates      map[int]PredicateMeta
	unitPredicates  map[int][]int
	nextUnitID      int
	nextPredicateID int
}

// NewRegistry creates an empty registry with a fresh run identifier.
func NewRegistry() *Registry {
	runID := uuid.NewString()
	return &Registry{
		runID: runID,
		logger: slog.Default().With(
			slog.String("component", "instrument.registry"),
			slog.String("run_id", runID),
		),
		units:          make(map[int]CodeUnitMeta),
		predicates:     make(map[int]PredicateMeta),
		unitPredicates: make(map[int][]int),
	}
}

// RunID returns the identifier of this generation run.
func (r *Registry) RunID() string {
	return r.runID
}

// ===== Registration =====

// RegisterCodeUnit records an analyzed code unit and returns its
// identifier.
//
// Inputs:
//
//	name - Collaborator-supplied unit name.
//	cfg - The unit's control-flow graph. Must be non-nil.
//	cdg - The unit's control-dependence graph. Must be non-nil.
//
// Outputs:
//
//	int - The assigned unit identifier, dense from zero.
//	error - ErrNilGraph when either graph is missing.
func (r *Registry) RegisterCodeUnit(name string, cfg *graph.CFG, cdg *graph.ControlDependenceGraph) (int, error) {
	if cfg == nil || cdg == nil {
		return 0, fmt.Errorf("%w: unit %q", ErrNilGraph, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	unitID := r.nextUnitID
	r.nextUnitID++
	r.units[unitID] = CodeUnitMeta{UnitID: unitID, Name: name, CFG: cfg, CDG: cdg}

	r.logger.Debug("registered code unit",
		slog.Int("unit_id", unitID),
		slog.String("name", name),
		slog.Int("nodes", cfg.NodeCount()),
	)
	return unitID, nil
}

// RegisterPredicate records a predicate inside a registered unit and tags
// the unit's CFG node with the assigned identifier. The tag is visible
// through the control-dependence graph as well, since both graphs share
// node pointers.
//
// Inputs:
//
//	unitID - The enclosing unit.
//	nodeIndex - The CFG node holding the conditional.
//	line - Source line for reporting. Zero when unknown.
//
// Outputs:
//
//	int - The assigned predicate identifier, dense from zero.
//	error - ErrUnknownUnit, graph.ErrNodeNotFound or
//	        graph.ErrPredicateTagged.
func (r *Registry) RegisterPredicate(unitID, nodeIndex, line int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.units[unitID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownUnit, unitID)
	}

	predicateID := r.nextPredicateID
	if err := unit.CFG.TagPredicate(nodeIndex, predicateID); err != nil {
		return 0, err
	}
	r.nextPredicateID++

	r.predicates[predicateID] = PredicateMeta{
		PredicateID: predicateID,
		UnitID:      unitID,
		NodeIndex:   nodeIndex,
		Line:        line,
	}
	r.unitPredicates[unitID] = append(r.unitPredicates[unitID], predicateID)

	r.logger.Debug("registered predicate",
		slog.Int("predicate_id", predicateID),
		slog.Int("unit_id", unitID),
		slog.Int("node", nodeIndex),
	)
	return predicateID, nil
}

// ===== Lookup =====

// CodeUnit returns a registered unit's metadata.
func (r *Registry) CodeUnit(unitID int) (CodeUnitMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.units[unitID]
	return meta, ok
}

// Predicate returns a registered predicate's metadata.
func (r *Registry) Predicate(predicateID int) (PredicateMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.predicates[predicateID]
	return meta, ok
}

// CodeUnitIDs returns all registered unit identifiers in ascending order.
func (r *Registry) CodeUnitIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.units)
}

// PredicateIDs returns all registered predicate identifiers in ascending
// order.
func (r *Registry) PredicateIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.predicates)
}

// PredicatesOf returns the predicates of one unit in registration order.
func (r *Registry) PredicatesOf(unitID int) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.unitPredicates[unitID]
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// BranchlessUnits returns the units without any registered predicate, in
// ascending order. These units get a root coverage goal instead of branch
// goals.
func (r *Registry) BranchlessUnits() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int, 0)
	for unitID := range r.units {
		if len(r.unitPredicates[unitID]) == 0 {
			out = append(out, unitID)
		}
	}
	sort.Ints(out)
	return out
}

// CodeUnitCount returns the number of registered units.
func (r *Registry) CodeUnitCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// PredicateCount returns the number of registered predicates.
func (r *Registry) PredicateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.predicates)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
