// Package fst holds the static decoding graph consumed by the search.
//
// The search only needs three capabilities from a graph: the start state,
// the outgoing arcs of a state and the final weight of a state. Anything
// that provides them (a plain in-memory automaton, a lazily composed graph,
// a grammar graph) satisfies Graph.
package fst

import "math"

// StateID indexes a graph state.
type StateID int32

// NoState marks the absence of a state (e.g. an empty graph's start).
const NoState StateID = -1

// Label is an arc label. Input labels are transition-ids, output labels are
// word ids. Label 0 is epsilon on both sides.
type Label int32

// Epsilon is the empty label.
const Epsilon Label = 0

// Arc is a weighted transition. Weight is a cost (negated log probability).
type Arc struct {
	ILabel    Label
	OLabel    Label
	Weight    float64
	NextState StateID
}

// Graph is the read-only view of a decoding graph. Implementations must be
// safe for concurrent readers.
type Graph interface {
	Start() StateID
	// Final returns the final cost of s, or +Inf when s is not final.
	Final(s StateID) float64
	Arcs(s StateID) []Arc
}

// Infinity is the cost of a non-final state.
var Infinity = math.Inf(1)

// VectorFST is a mutable graph stored as per-state arc slices.
type VectorFST struct {
	start  StateID
	finals []float64
	arcs   [][]Arc
}

// NewVectorFST creates an empty graph.
func NewVectorFST() *VectorFST {
	return &VectorFST{start: NoState}
}

// AddState appends a non-final state and returns its id.
func (f *VectorFST) AddState() StateID {
	f.finals = append(f.finals, Infinity)
	f.arcs = append(f.arcs, nil)
	return StateID(len(f.finals) - 1)
}

// NumStates returns the number of states.
func (f *VectorFST) NumStates() int { return len(f.finals) }

// NumArcs returns the total number of arcs.
func (f *VectorFST) NumArcs() int {
	n := 0
	for _, a := range f.arcs {
		n += len(a)
	}
	return n
}

// SetStart sets the start state.
func (f *VectorFST) SetStart(s StateID) { f.start = s }

// SetFinal sets the final cost of s.
func (f *VectorFST) SetFinal(s StateID, cost float64) { f.finals[s] = cost }

// AddArc adds an arc leaving s.
func (f *VectorFST) AddArc(s StateID, arc Arc) {
	f.arcs[s] = append(f.arcs[s], arc)
}

// Start implements Graph.
func (f *VectorFST) Start() StateID { return f.start }

// Final implements Graph.
func (f *VectorFST) Final(s StateID) float64 {
	if s < 0 || int(s) >= len(f.finals) {
		return Infinity
	}
	return f.finals[s]
}

// Arcs implements Graph.
func (f *VectorFST) Arcs(s StateID) []Arc {
	if s < 0 || int(s) >= len(f.arcs) {
		return nil
	}
	return f.arcs[s]
}

// ensureState grows the state table so that s is valid.
func (f *VectorFST) ensureState(s StateID) {
	for StateID(len(f.finals)) <= s {
		f.AddState()
	}
}
