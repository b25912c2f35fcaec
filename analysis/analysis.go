// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis turns collaborator basic blocks into the per-unit
// graph bundle the fitness layer consumes: control-flow graph,
// dominator and post-dominator trees, control-dependence graph, and
// registry entries for the unit and its predicates.
//
// Graph construction is pure and runs in parallel across units;
// registration runs sequentially afterward so unit and predicate
// identifiers depend only on input order. A unit that fails analysis
// is skipped and reported without failing its batch.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/evogen/graph"
	"github.com/AleutianAI/evogen/instrument"
	"github.com/AleutianAI/evogen/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var analysisTracer = otel.Tracer("evogen.analysis")

// UnitSpec names one code unit and the basic blocks to analyze.
type UnitSpec struct {
	Name   string
	Blocks []graph.BasicBlock
}

// UnitAnalysis bundles everything the search layer needs about one
// analyzed code unit.
type UnitAnalysis struct {
	// UnitID is the registry identifier assigned during registration.
	UnitID int

	// Name is the caller-supplied unit name.
	Name string

	CFG            *graph.CFG
	Dominators     *graph.DominatorTree
	PostDominators *graph.DominatorTree
	CDG            *graph.ControlDependenceGraph

	// Predicates holds the registry identifiers of this unit's
	// conditional jumps, ascending.
	Predicates []int

	CyclomaticComplexity int
	Diameter             int
}

// unitGraphs is the pure, pre-registration product of one unit.
type unitGraphs struct {
	cfg  *graph.CFG
	dom  *graph.DominatorTree
	pdom *graph.DominatorTree
	cdg  *graph.ControlDependenceGraph
}

// AnalyzeUnit analyzes a single code unit and registers it.
//
// Description:
//
//	Builds the control-flow graph from the unit's basic blocks, derives
//	the dominator and post-dominator trees and the control-dependence
//	graph, registers the unit, and tags every conditional block with a
//	fresh predicate identifier.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - registry: Destination for the unit and predicate records.
//   - name: Unit name used in registry records and logs.
//   - blocks: The unit's basic blocks. Block 0 is the unit entry.
//
// Outputs:
//   - *UnitAnalysis: The analyzed bundle. Nil on error.
//   - error: Non-nil when graph construction or registration fails.
func AnalyzeUnit(ctx context.Context, registry *instrument.Registry, name string, blocks []graph.BasicBlock) (*UnitAnalysis, error) {
	ctx, span := analysisTracer.Start(ctx, "AnalyzeUnit",
		trace.WithAttributes(
			attribute.String("unit", name),
			attribute.Int("block_count", len(blocks)),
		),
	)
	defer span.End()

	graphs, err := buildGraphs(ctx, name, blocks)
	if err != nil {
		return nil, err
	}
	result, err := registerUnit(registry, name, graphs)
	if err != nil {
		return nil, err
	}

	span.AddEvent("unit_analyzed", trace.WithAttributes(
		attribute.Int("unit_id", result.UnitID),
		attribute.Int("predicates", len(result.Predicates)),
		attribute.Int("cyclomatic_complexity", result.CyclomaticComplexity),
	))
	telemetry.LoggerWithTrace(ctx, slog.Default()).Debug("code unit analyzed",
		slog.String("unit", name),
		slog.Int("unit_id", result.UnitID),
		slog.Int("predicates", len(result.Predicates)),
		slog.Int("diameter", result.Diameter),
	)
	return result, nil
}

// AnalyzeAll analyzes a batch of code units.
//
// Description:
//
//	Runs graph construction for every unit in parallel, then registers
//	the surviving units sequentially in input order. Identifiers are
//	therefore deterministic for a fixed input, regardless of
//	scheduling. A unit whose construction fails is skipped and
//	reported; the rest of the batch proceeds.
//
// Inputs:
//   - ctx: Context for cancellation. Cancellation aborts the whole
//     batch, including registration.
//   - registry: Destination for unit and predicate records.
//   - specs: Units to analyze.
//
// Outputs:
//   - []*UnitAnalysis: One entry per spec, in input order. Entries of
//     failed units are nil. Nil only on cancellation.
//   - error: The joined per-unit failures, or the context error.
func AnalyzeAll(ctx context.Context, registry *instrument.Registry, specs []UnitSpec) ([]*UnitAnalysis, error) {
	ctx, span := analysisTracer.Start(ctx, "AnalyzeAll",
		trace.WithAttributes(attribute.Int("unit_count", len(specs))),
	)
	defer span.End()

	builds := make([]*unitGraphs, len(specs))
	unitErrs := make([]error, len(specs))
	g, gCtx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			graphs, err := buildGraphs(gCtx, spec.Name, spec.Blocks)
			if err != nil {
				// A malformed unit is not fatal to the batch.
				unitErrs[i] = err
				return nil
			}
			builds[i] = graphs
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	span.AddEvent("graphs_built")

	results := make([]*UnitAnalysis, len(specs))
	skipped := 0
	for i, spec := range specs {
		if unitErrs[i] != nil {
			skipped++
			telemetry.LoggerWithTrace(ctx, slog.Default()).Warn("code unit skipped",
				slog.String("unit", spec.Name),
				slog.String("error", unitErrs[i].Error()),
			)
			continue
		}
		result, err := registerUnit(registry, spec.Name, builds[i])
		if err != nil {
			unitErrs[i] = err
			skipped++
			continue
		}
		results[i] = result
	}
	span.AddEvent("units_registered", trace.WithAttributes(
		attribute.Int("skipped", skipped),
	))
	return results, errors.Join(unitErrs...)
}

// buildGraphs derives all graphs for one unit. No registry access.
func buildGraphs(ctx context.Context, name string, blocks []graph.BasicBlock) (*unitGraphs, error) {
	cfg, err := graph.BuildCFG(ctx, blocks)
	if err != nil {
		return nil, fmt.Errorf("build cfg for %q: %w", name, err)
	}
	dom, err := graph.ComputeDominatorTree(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dominators for %q: %w", name, err)
	}
	pdom, err := graph.ComputePostDominatorTree(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("post-dominators for %q: %w", name, err)
	}
	cdg, err := graph.ComputeControlDependenceGraph(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("control dependence for %q: %w", name, err)
	}
	return &unitGraphs{cfg: cfg, dom: dom, pdom: pdom, cdg: cdg}, nil
}

// registerUnit records the unit and its conditional blocks. Predicate
// identifiers are assigned in ascending node order.
func registerUnit(registry *instrument.Registry, name string, graphs *unitGraphs) (*UnitAnalysis, error) {
	unitID, err := registry.RegisterCodeUnit(name, graphs.cfg, graphs.cdg)
	if err != nil {
		return nil, fmt.Errorf("register unit %q: %w", name, err)
	}

	var predicates []int
	for _, node := range graphs.cfg.Nodes() {
		if node.Artificial || node.Block == nil {
			continue
		}
		if _, _, conditional := node.Block.ConditionalTargets(); !conditional {
			continue
		}
		line := 0
		if positioned, ok := node.Block.(interface{ Line() int }); ok {
			line = positioned.Line()
		}
		predicateID, err := registry.RegisterPredicate(unitID, node.Index, line)
		if err != nil {
			return nil, fmt.Errorf("register predicate at node %d of %q: %w", node.Index, name, err)
		}
		predicates = append(predicates, predicateID)
	}

	return &UnitAnalysis{
		UnitID:               unitID,
		Name:                 name,
		CFG:                  graphs.cfg,
		Dominators:           graphs.dom,
		PostDominators:       graphs.pdom,
		CDG:                  graphs.cdg,
		Predicates:           predicates,
		CyclomaticComplexity: graphs.cfg.CyclomaticComplexity(),
		Diameter:             graphs.cfg.Diameter(),
	}, nil
}
