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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for search operations.
var (
	tracer = otel.Tracer("evogen.search")
	meter  = otel.Meter("evogen.search")
)

// Metrics for search operations.
var (
	// Run metrics
	searchesTotal metric.Int64Counter

	// Generation metrics
	generationsTotal   metric.Int64Counter
	generationDuration metric.Float64Histogram

	// Archive metrics
	archiveUpdatesTotal metric.Int64Counter
	goalsCoveredTotal   metric.Int64Counter
	coverageRatio       metric.Float64Histogram

	// Population metrics
	frontCount metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		searchesTotal, err = meter.Int64Counter(
			"evogen_searches_total",
			metric.WithDescription("Completed search runs by stop reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		generationsTotal, err = meter.Int64Counter(
			"evogen_generations_total",
			metric.WithDescription("Total evolved generations by stop outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		generationDuration, err = meter.Float64Histogram(
			"evogen_generation_duration_seconds",
			metric.WithDescription("Wall time per generation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		archiveUpdatesTotal, err = meter.Int64Counter(
			"evogen_archive_updates_total",
			metric.WithDescription("Accepted archive updates"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		goalsCoveredTotal, err = meter.Int64Counter(
			"evogen_goals_covered_total",
			metric.WithDescription("Goals newly covered during search"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		coverageRatio, err = meter.Float64Histogram(
			"evogen_coverage_ratio",
			metric.WithDescription("Covered fraction of the goal set per generation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		frontCount, err = meter.Int64Histogram(
			"evogen_ranking_fronts",
			metric.WithDescription("Fronts formed per preference-sorting pass"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordGeneration records the outcome of one evolved generation.
func recordGeneration(ctx context.Context, duration time.Duration, coverage float64, fronts int, newlyCovered int, accepted bool) {
	if err := initMetrics(); err != nil {
		return
	}

	generationsTotal.Add(ctx, 1)
	generationDuration.Record(ctx, duration.Seconds())
	coverageRatio.Record(ctx, coverage)
	frontCount.Record(ctx, int64(fronts))
	if newlyCovered > 0 {
		goalsCoveredTotal.Add(ctx, int64(newlyCovered))
	}
	if accepted {
		archiveUpdatesTotal.Add(ctx, 1)
	}
}

// recordSearchComplete records the terminal outcome of a search run.
func recordSearchComplete(ctx context.Context, reason StopReason, coverage float64) {
	if err := initMetrics(); err != nil {
		return
	}

	searchesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stop_reason", string(reason)),
	))
	coverageRatio.Record(ctx, coverage)
}
