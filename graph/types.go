// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"math"
	"time"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of nodes a graph can hold.
	// Control-flow graphs of single code units are small; the limit exists to
	// fail fast on pathological decoder output.
	DefaultMaxNodes = 100_000

	// DefaultMaxEdges is the default maximum number of edges a graph can hold.
	DefaultMaxEdges = 500_000
)

// Reserved node indexes.
const (
	// EntryIndex is the index of the artificial entry node inserted during
	// CFG construction. Real basic blocks are numbered from zero, so the
	// entry sits strictly before every block.
	EntryIndex = -1

	// ExitIndex is the index of the artificial exit node inserted during
	// CFG construction. It sits strictly after every block.
	ExitIndex = math.MaxInt

	// NoPredicate marks a node that carries no predicate ID.
	NoPredicate = -1
)

// GraphState represents the lifecycle state of the graph.
type GraphState int

const (
	// GraphStateBuilding indicates the graph is accepting AddNode/AddEdge calls.
	GraphStateBuilding GraphState = iota

	// GraphStateReadOnly indicates the graph is frozen and read-only.
	GraphStateReadOnly
)

// String returns the string representation of the GraphState.
func (s GraphState) String() string {
	switch s {
	case GraphStateBuilding:
		return "building"
	case GraphStateReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// BranchValue labels the outcome of a conditional jump on an edge.
type BranchValue int

const (
	// BranchNone indicates an unlabelled edge (fall-through, jump, or an
	// artificial connection).
	BranchNone BranchValue = iota

	// BranchTrue labels the edge taken when the conditional evaluates true.
	BranchTrue

	// BranchFalse labels the edge taken when the conditional evaluates false.
	BranchFalse
)

// String returns the string representation of the BranchValue.
func (b BranchValue) String() string {
	switch b {
	case BranchTrue:
		return "true"
	case BranchFalse:
		return "false"
	default:
		return "none"
	}
}

// BranchValueOf converts a boolean outcome to its edge label.
func BranchValueOf(value bool) BranchValue {
	if value {
		return BranchTrue
	}
	return BranchFalse
}

// AsBool returns the boolean outcome of a labelled edge.
// The second return value is false for BranchNone.
func (b BranchValue) AsBool() (bool, bool) {
	switch b {
	case BranchTrue:
		return true, true
	case BranchFalse:
		return false, true
	default:
		return false, false
	}
}

// Edge represents a directed connection between two graph nodes.
//
// At most one edge exists per (From, To) pair: adding an edge between an
// already-connected pair updates the label in place. This mirrors the
// set semantics of predecessor and successor queries.
type Edge struct {
	// From is the index of the source node.
	From int

	// To is the index of the target node.
	To int

	// Branch is the conditional outcome this edge represents, or
	// BranchNone for unlabelled edges.
	Branch BranchValue
}

// Node represents one vertex of a ProgramGraph.
//
// Nodes are identified by Index alone. Derived graphs (reversed copies,
// dominator trees, the control-dependence graph) share Node values with
// their source graph, so a predicate tag applied during instrumentation
// is visible everywhere at once.
//
// The Block reference is NOT owned by the Node. The referenced block
// MUST NOT be mutated after the Node is added to a graph.
type Node struct {
	// Index is the unique identifier within a graph. Real basic blocks
	// use their position in the decoded block list; artificial nodes use
	// the reserved indexes.
	Index int

	// Block is the collaborator-owned basic block this node represents.
	// Nil for artificial nodes.
	Block BasicBlock

	// PredicateID is the instrumentation identifier of the conditional
	// jump in this node's block, or NoPredicate if the node carries none.
	// Assigned exactly once via ProgramGraph.TagPredicate.
	PredicateID int

	// Artificial marks nodes inserted during construction (entry, exit,
	// and the temporary augmentation sentinel used by the CDG build).
	Artificial bool
}

// NewNode creates a graph node for the given index.
//
// Inputs:
//
//	index - Unique node index. Real blocks use list positions; artificial
//	        nodes use EntryIndex or ExitIndex.
//	block - The collaborator-owned basic block, or nil for artificial nodes.
//	artificial - Whether this node was inserted by construction rather than
//	             decoded from the unit.
func NewNode(index int, block BasicBlock, artificial bool) *Node {
	return &Node{
		Index:       index,
		Block:       block,
		PredicateID: NoPredicate,
		Artificial:  artificial,
	}
}

// IsPredicate returns true if the node has been tagged with a predicate ID.
func (n *Node) IsPredicate() bool {
	return n.PredicateID != NoPredicate
}

// String returns a short human-readable form used in logs and test output.
func (n *Node) String() string {
	switch n.Index {
	case EntryIndex:
		return "ENTRY"
	case ExitIndex:
		return "EXIT"
	}
	if n.IsPredicate() {
		return fmt.Sprintf("block(%d,p%d)", n.Index, n.PredicateID)
	}
	return fmt.Sprintf("block(%d)", n.Index)
}

// GraphOptions configures ProgramGraph behavior and limits.
type GraphOptions struct {
	// MaxNodes is the maximum number of nodes the graph can hold.
	// Default: 100,000
	MaxNodes int

	// MaxEdges is the maximum number of edges the graph can hold.
	// Default: 500,000
	MaxEdges int
}

// DefaultGraphOptions returns sensible defaults for graph configuration.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes: DefaultMaxNodes,
		MaxEdges: DefaultMaxEdges,
	}
}

// GraphOption is a functional option for configuring ProgramGraph.
type GraphOption func(*GraphOptions)

// WithMaxNodes sets the maximum number of nodes the graph can hold.
func WithMaxNodes(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxNodes = n
	}
}

// WithMaxEdges sets the maximum number of edges the graph can hold.
func WithMaxEdges(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxEdges = n
	}
}

// ProgramGraph is a directed graph over basic-block nodes.
//
// It backs the control-flow graph and every structure derived from it:
// dominator trees store immediate-dominance edges, the control-dependence
// graph stores dependence edges. All of them share the same query surface.
//
// Thread Safety:
//
//	ProgramGraph is NOT safe for concurrent use during building. It is
//	designed for single-writer access during build, then read-only after
//	Freeze(). After Freeze() is called, the graph can be safely read from
//	multiple goroutines, but no further modifications are allowed.
//
// Lifecycle:
//
//  1. Create with NewProgramGraph()
//  2. Build with AddNode() and AddEdge() calls
//  3. Call Freeze() to finalize
//  4. Query with GetNode(), GetSuccessors(), traversal methods, etc.
type ProgramGraph struct {
	// nodes maps node index to Node. Unexported to prevent direct access.
	nodes map[int]*Node

	// succ maps a node index to its outgoing edges keyed by target index.
	// The nested map enforces at most one edge per (from, to) pair.
	succ map[int]map[int]*Edge

	// pred maps a node index to its incoming edges keyed by source index.
	pred map[int]map[int]*Edge

	// edgeCount tracks the number of distinct edges.
	edgeCount int

	// state is the current lifecycle state.
	state GraphState

	// options contains configuration.
	options GraphOptions

	// BuiltAtMilli is the Unix timestamp in milliseconds when Freeze() was
	// called. Zero if the graph has not been frozen.
	BuiltAtMilli int64
}

// NewProgramGraph creates a new empty graph.
//
// Description:
//
//	Creates a graph in the Building state, ready to accept AddNode and
//	AddEdge calls. The graph must be frozen with Freeze() before it is
//	shared across goroutines.
//
// Example:
//
//	// Default options
//	g := NewProgramGraph()
//
//	// Custom limits
//	g := NewProgramGraph(
//	    WithMaxNodes(10_000),
//	    WithMaxEdges(100_000),
//	)
func NewProgramGraph(opts ...GraphOption) *ProgramGraph {
	options := DefaultGraphOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &ProgramGraph{
		nodes:   make(map[int]*Node),
		succ:    make(map[int]map[int]*Edge),
		pred:    make(map[int]map[int]*Edge),
		state:   GraphStateBuilding,
		options: options,
	}
}

// State returns the current lifecycle state of the graph.
func (g *ProgramGraph) State() GraphState {
	return g.state
}

// IsFrozen returns true if the graph is in read-only mode.
func (g *ProgramGraph) IsFrozen() bool {
	return g.state == GraphStateReadOnly
}

// Freeze transitions the graph to read-only mode.
//
// Description:
//
//	After calling Freeze(), AddNode and AddEdge will return ErrGraphFrozen.
//	This operation is irreversible. The BuiltAtMilli timestamp is set to
//	the current time.
//
// Thread Safety:
//
//	After Freeze() returns, the graph can be safely read from multiple
//	goroutines concurrently.
func (g *ProgramGraph) Freeze() {
	g.state = GraphStateReadOnly
	g.BuiltAtMilli = time.Now().UnixMilli()
}

// NodeCount returns the number of nodes in the graph.
func (g *ProgramGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges in the graph.
func (g *ProgramGraph) EdgeCount() int {
	return g.edgeCount
}

// AddNode adds a node to the graph.
//
// Description:
//
//	Registers the node under its index. The node value is stored by
//	reference so that derived graphs can share it.
//
// Inputs:
//
//	node - The node to add. Must not be nil.
//
// Outputs:
//
//	error - Non-nil if the graph is frozen, at capacity, or the node is
//	        invalid or a duplicate.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrInvalidNode - Node is nil
//	ErrDuplicateNode - Node with same index already exists
//	ErrMaxNodesExceeded - Graph is at node capacity
func (g *ProgramGraph) AddNode(node *Node) error {
	if g.state == GraphStateReadOnly {
		return ErrGraphFrozen
	}

	if node == nil {
		return fmt.Errorf("%w: node is nil", ErrInvalidNode)
	}

	if len(g.nodes) >= g.options.MaxNodes {
		return ErrMaxNodesExceeded
	}

	if _, exists := g.nodes[node.Index]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateNode, node.Index)
	}

	g.nodes[node.Index] = node
	return nil
}

// AddEdge creates a directed edge between two nodes.
//
// Description:
//
//	Creates an edge from the source node to the target node with the
//	given branch label. Both nodes must already exist in the graph.
//	Adding an edge between an already-connected pair updates the branch
//	label in place instead of creating a parallel edge, so predecessor
//	and successor queries behave as sets. Self-loops are permitted.
//
// Inputs:
//
//	from - Index of the source node.
//	to - Index of the target node.
//	branch - The conditional outcome label, or BranchNone.
//
// Outputs:
//
//	error - Non-nil if the graph is frozen, at capacity, or nodes don't exist.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrNodeNotFound - Source or target node doesn't exist
//	ErrMaxEdgesExceeded - Graph is at edge capacity
func (g *ProgramGraph) AddEdge(from, to int, branch BranchValue) error {
	if g.state == GraphStateReadOnly {
		return ErrGraphFrozen
	}

	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: source %d", ErrNodeNotFound, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: target %d", ErrNodeNotFound, to)
	}

	if existing, ok := g.succ[from][to]; ok {
		existing.Branch = branch
		return nil
	}

	if g.edgeCount >= g.options.MaxEdges {
		return ErrMaxEdgesExceeded
	}

	edge := &Edge{From: from, To: to, Branch: branch}

	if g.succ[from] == nil {
		g.succ[from] = make(map[int]*Edge)
	}
	if g.pred[to] == nil {
		g.pred[to] = make(map[int]*Edge)
	}
	g.succ[from][to] = edge
	g.pred[to][from] = edge
	g.edgeCount++

	return nil
}

// GetNode retrieves a node by its index.
//
// Outputs:
//
//	*Node - The node if found, nil otherwise.
//	bool - True if the node was found.
func (g *ProgramGraph) GetNode(index int) (*Node, bool) {
	node, exists := g.nodes[index]
	return node, exists
}

// GetEdge retrieves the edge between two nodes, if one exists.
func (g *ProgramGraph) GetEdge(from, to int) (*Edge, bool) {
	edge, exists := g.succ[from][to]
	return edge, exists
}

// TagPredicate assigns a predicate ID to the node at the given index.
//
// Description:
//
//	Records the instrumentation identifier of the conditional jump held
//	by the node's block. Tagging is the single permitted mutation on a
//	frozen graph and happens at most once per node; the shared Node value
//	makes the tag visible to every derived graph.
//
// Inputs:
//
//	index - Index of the node to tag.
//	predicateID - The registry-assigned predicate identifier.
//
// Errors:
//
//	ErrNodeNotFound - No node with the given index
//	ErrPredicateTagged - The node was already tagged
func (g *ProgramGraph) TagPredicate(index, predicateID int) error {
	node, ok := g.nodes[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, index)
	}
	if node.PredicateID != NoPredicate {
		return fmt.Errorf("%w: node %d has predicate %d", ErrPredicateTagged, index, node.PredicateID)
	}
	node.PredicateID = predicateID
	return nil
}

// removeNode deletes a node and every edge touching it.
// Build phase only; used by dead-node pruning and CDG finalization.
func (g *ProgramGraph) removeNode(index int) {
	if _, ok := g.nodes[index]; !ok {
		return
	}
	for to := range g.succ[index] {
		delete(g.pred[to], index)
		g.edgeCount--
	}
	delete(g.succ, index)
	for from := range g.pred[index] {
		delete(g.succ[from], index)
		g.edgeCount--
	}
	delete(g.pred, index)
	delete(g.nodes, index)
}

// GraphStats contains statistics about the graph.
//
// Thread Safety: GraphStats is a value type with no internal state.
// Safe for concurrent use as long as the source graph is frozen.
type GraphStats struct {
	// NodeCount is the total number of nodes.
	NodeCount int

	// EdgeCount is the total number of edges.
	EdgeCount int

	// ArtificialCount is the number of artificial nodes.
	ArtificialCount int

	// PredicateCount is the number of nodes tagged with a predicate ID.
	PredicateCount int

	// MaxNodes is the configured maximum node capacity.
	MaxNodes int

	// MaxEdges is the configured maximum edge capacity.
	MaxEdges int

	// State is the current graph state.
	State GraphState

	// BuiltAtMilli is when Freeze() was called (0 if not frozen).
	BuiltAtMilli int64
}

// Stats returns statistics about the graph.
//
// Complexity: O(V).
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *ProgramGraph) Stats() GraphStats {
	artificial := 0
	predicates := 0
	for _, node := range g.nodes {
		if node.Artificial {
			artificial++
		}
		if node.IsPredicate() {
			predicates++
		}
	}

	return GraphStats{
		NodeCount:       len(g.nodes),
		EdgeCount:       g.edgeCount,
		ArtificialCount: artificial,
		PredicateCount:  predicates,
		MaxNodes:        g.options.MaxNodes,
		MaxEdges:        g.options.MaxEdges,
		State:           g.state,
		BuiltAtMilli:    g.BuiltAtMilli,
	}
}
