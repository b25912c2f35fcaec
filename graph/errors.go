// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides control-flow graph types and derived analyses.
//
// The graph package contains the ProgramGraph arena used throughout the
// module: control-flow graphs built from decoded basic blocks, dominator
// and post-dominator trees, and the control-dependence graph consumed by
// the fitness layer.
//
// # Ownership Model
//
// The graph stores references to basic blocks but does NOT own them:
//   - Blocks MUST NOT be mutated after being referenced via AddNode()
//   - The graph never copies or inspects block contents beyond the
//     BasicBlock interface
//
// # Thread Safety
//
// ProgramGraph is NOT safe for concurrent use during building. It is
// designed for:
//   - Single-writer access during build phase (AddNode, AddEdge calls)
//   - Read-only access after Freeze() is called
//
// After Freeze(), the graph can be safely read from multiple goroutines.
// The only post-freeze mutation is the one-time predicate tagging done by
// the instrumentation layer, which must complete before concurrent reads
// begin.
//
// # Lifecycle
//
// A typical graph lifecycle:
//  1. Create with NewProgramGraph()
//  2. Build with AddNode() and AddEdge() calls
//  3. Call Freeze() to finalize
//  4. Query with GetNode(), GetSuccessors(), traversal methods, etc.
//
// BuildCFG performs steps 1-3 internally and returns a frozen graph.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen graph.
	// Once Freeze() is called, the graph becomes read-only and no further
	// nodes or edges can be added.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an operation references a node index
	// that does not exist in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node with an index that
	// already exists in the graph.
	ErrDuplicateNode = errors.New("duplicate node index")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the graph has reached its
	// configured maximum edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrInvalidNode is returned when attempting to add a nil node or a
	// node with a reserved index.
	ErrInvalidNode = errors.New("invalid node")

	// ErrNoBlocks is returned when CFG construction is attempted on an
	// empty basic-block list.
	ErrNoBlocks = errors.New("unit has no basic blocks")

	// ErrUnknownBlock is returned when a basic block references a successor
	// index outside the decoded block list.
	ErrUnknownBlock = errors.New("successor references unknown block")

	// ErrPredicateTagged is returned when a node already carries a
	// predicate ID. Predicate tagging happens exactly once per node
	// during instrumentation.
	ErrPredicateTagged = errors.New("node already carries a predicate id")

	// ErrNoEntryNode is returned by analyses that require a unique entry
	// node when the graph has none.
	ErrNoEntryNode = errors.New("graph has no unique entry node")
)
