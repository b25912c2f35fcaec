// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a logger with trace context injected.
//
// Description:
//
//	Extracts trace_id and span_id from the context and adds them as
//	structured log fields. This enables log correlation in Grafana/Loki
//	with traces in Jaeger.
//
// Inputs:
//
//	ctx - Context containing span context. May be nil or have no active span.
//	logger - Base logger to enhance. May be nil; slog.Default() is used.
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id and span_id fields added if available.
//	              Returns the original logger if no valid span context.
//
// Example:
//
//	func (e *Engine) Evolve(ctx context.Context) error {
//	    logger := telemetry.LoggerWithTrace(ctx, e.logger)
//	    logger.Info("generation started")
//	    // Log output: {"level":"INFO","msg":"generation started","trace_id":"abc123","span_id":"def456"}
//	}
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}

	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// LoggerWithUnit returns a logger with trace context and a code-unit ID.
//
// Description:
//
//	Combines LoggerWithTrace with the identifier of the code unit under
//	analysis. Useful for distinguishing log entries when several units are
//	analysed in one run.
//
// Inputs:
//
//	ctx - Context containing span context.
//	logger - Base logger to enhance.
//	unitID - Identifier of the code unit currently being processed.
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id, span_id, and unit_id fields.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithUnit(ctx context.Context, logger *slog.Logger, unitID int) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(
		slog.Int("unit_id", unitID),
	)
}

// LoggerWithRun returns a logger with trace context and a run ID.
//
// Description:
//
//	Adds the search-run identifier for tracking related operations across
//	analysis, evolution, and archive updates belonging to one run.
//
// Inputs:
//
//	ctx - Context containing span context.
//	logger - Base logger to enhance.
//	runID - Unique run identifier, usually registry.RunID().
//
// Outputs:
//
//	*slog.Logger - Logger with trace_id, span_id, and run_id fields.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithRun(ctx context.Context, logger *slog.Logger, runID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(
		slog.String("run_id", runID),
	)
}
