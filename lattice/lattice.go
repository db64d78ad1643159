// Package lattice represents decoded hypotheses as an acyclic weighted graph
// whose states are time-stamped with the frame they belong to.
package lattice

import (
	"errors"
	"math"

	"github.com/ieee0824/streamdecode/fst"
)

// ErrEmpty is returned when a lattice has no successful path.
var ErrEmpty = errors.New("lattice: no path from start to a final state")

// ErrCyclic is returned by TopSort when the lattice contains a cycle.
var ErrCyclic = errors.New("lattice: graph is cyclic")

// Weight is a pair of costs. Acoustic already includes the acoustic scale.
type Weight struct {
	Graph    float64
	Acoustic float64
}

// OneWeight is the identity for Times.
func OneWeight() Weight { return Weight{} }

// ZeroWeight marks a non-final state / unreachable path.
func ZeroWeight() Weight { return Weight{Graph: math.Inf(1), Acoustic: math.Inf(1)} }

// Value is the total cost used for comparisons.
func (w Weight) Value() float64 { return w.Graph + w.Acoustic }

// IsZero reports whether w is ZeroWeight.
func (w Weight) IsZero() bool { return math.IsInf(w.Graph, 1) || math.IsInf(w.Acoustic, 1) }

// Times adds two weights component-wise.
func Times(a, b Weight) Weight {
	return Weight{Graph: a.Graph + b.Graph, Acoustic: a.Acoustic + b.Acoustic}
}

// Less orders weights by total cost, then graph cost.
func Less(a, b Weight) bool {
	av, bv := a.Value(), b.Value()
	if av != bv {
		return av < bv
	}
	return a.Graph < b.Graph
}

// Arc is a lattice transition. ILabel is a transition-id, OLabel a word id.
type Arc struct {
	ILabel    fst.Label
	OLabel    fst.Label
	Weight    Weight
	NextState fst.StateID
}

// State is a lattice state. Frame is the number of frames consumed on any
// path reaching it.
type State struct {
	Frame int
	Final Weight
	Arcs  []Arc
}

// Lattice is an acyclic weighted graph of competing hypotheses.
type Lattice struct {
	Start  fst.StateID
	States []State
}

// New creates an empty lattice.
func New() *Lattice {
	return &Lattice{Start: fst.NoState}
}

// AddState appends a non-final state at frame.
func (l *Lattice) AddState(frame int) fst.StateID {
	l.States = append(l.States, State{Frame: frame, Final: ZeroWeight()})
	return fst.StateID(len(l.States) - 1)
}

// AddArc adds an arc leaving s.
func (l *Lattice) AddArc(s fst.StateID, arc Arc) {
	l.States[s].Arcs = append(l.States[s].Arcs, arc)
}

// SetFinal sets the final weight of s.
func (l *Lattice) SetFinal(s fst.StateID, w Weight) { l.States[s].Final = w }

// NumStates returns the number of states.
func (l *Lattice) NumStates() int { return len(l.States) }

// NumArcs returns the total number of arcs.
func (l *Lattice) NumArcs() int {
	n := 0
	for i := range l.States {
		n += len(l.States[i].Arcs)
	}
	return n
}

// NumFrames returns the largest frame index of any final state.
func (l *Lattice) NumFrames() int {
	n := 0
	for i := range l.States {
		if !l.States[i].Final.IsZero() && l.States[i].Frame > n {
			n = l.States[i].Frame
		}
	}
	return n
}

// FinalStates returns the ids of all final states.
func (l *Lattice) FinalStates() []fst.StateID {
	var out []fst.StateID
	for i := range l.States {
		if !l.States[i].Final.IsZero() {
			out = append(out, fst.StateID(i))
		}
	}
	return out
}

// Clone returns a deep copy.
func (l *Lattice) Clone() *Lattice {
	c := &Lattice{Start: l.Start, States: make([]State, len(l.States))}
	for i, s := range l.States {
		c.States[i] = State{Frame: s.Frame, Final: s.Final}
		if len(s.Arcs) > 0 {
			c.States[i].Arcs = append([]Arc(nil), s.Arcs...)
		}
	}
	return c
}

// ScaleAcoustic multiplies every acoustic cost by scale. Use the inverse of
// the decoding acoustic scale to recover unscaled costs.
func (l *Lattice) ScaleAcoustic(scale float64) {
	for i := range l.States {
		st := &l.States[i]
		for j := range st.Arcs {
			st.Arcs[j].Weight.Acoustic *= scale
		}
		if !st.Final.IsZero() {
			st.Final.Acoustic *= scale
		}
	}
}
