package lattice

import (
	"math"

	"github.com/ieee0824/streamdecode/fst"
)

// TopSort returns the states in topological order.
func (l *Lattice) TopSort() ([]fst.StateID, error) {
	n := len(l.States)
	indeg := make([]int, n)
	for i := range l.States {
		for _, a := range l.States[i].Arcs {
			indeg[a.NextState]++
		}
	}
	queue := make([]fst.StateID, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			queue = append(queue, fst.StateID(i))
		}
	}
	for head := 0; head < len(queue); head++ {
		for _, a := range l.States[queue[head]].Arcs {
			indeg[a.NextState]--
			if indeg[a.NextState] == 0 {
				queue = append(queue, a.NextState)
			}
		}
	}
	if len(queue) != n {
		return nil, ErrCyclic
	}
	return queue, nil
}

// BestPath returns the lowest-cost start-to-final path as a linear lattice,
// together with its total weight (final weight included).
func (l *Lattice) BestPath() (*Lattice, Weight, error) {
	if l.Start == fst.NoState || len(l.States) == 0 {
		return nil, ZeroWeight(), ErrEmpty
	}
	order, err := l.TopSort()
	if err != nil {
		return nil, ZeroWeight(), err
	}

	type back struct {
		prev fst.StateID
		arc  int
	}
	n := len(l.States)
	dist := make([]Weight, n)
	bp := make([]back, n)
	for i := range dist {
		dist[i] = ZeroWeight()
		bp[i] = back{prev: fst.NoState, arc: -1}
	}
	dist[l.Start] = OneWeight()

	bestState := fst.NoState
	bestTotal := ZeroWeight()
	for _, s := range order {
		if dist[s].IsZero() {
			continue
		}
		st := &l.States[s]
		for j, a := range st.Arcs {
			cand := Times(dist[s], a.Weight)
			if Less(cand, dist[a.NextState]) {
				dist[a.NextState] = cand
				bp[a.NextState] = back{prev: s, arc: j}
			}
		}
		if !st.Final.IsZero() {
			if total := Times(dist[s], st.Final); Less(total, bestTotal) {
				bestTotal = total
				bestState = s
			}
		}
	}
	if bestState == fst.NoState {
		return nil, ZeroWeight(), ErrEmpty
	}

	var arcs []Arc
	var frames []int
	for s := bestState; s != l.Start; s = bp[s].prev {
		b := bp[s]
		arcs = append(arcs, l.States[b.prev].Arcs[b.arc])
		frames = append(frames, l.States[b.prev].Frame)
	}

	out := New()
	cur := out.AddState(0)
	out.Start = cur
	for i := len(arcs) - 1; i >= 0; i-- {
		out.States[cur].Frame = frames[i]
		next := out.AddState(l.States[arcs[i].NextState].Frame)
		a := arcs[i]
		a.NextState = next
		out.AddArc(cur, a)
		cur = next
	}
	out.States[cur].Frame = l.States[bestState].Frame
	out.SetFinal(cur, l.States[bestState].Final)
	return out, bestTotal, nil
}

// Words returns the non-epsilon output labels along the first path from the
// start state. Intended for linear lattices returned by BestPath.
func (l *Lattice) Words() []fst.Label {
	var words []fst.Label
	if l.Start == fst.NoState {
		return nil
	}
	seen := make([]bool, len(l.States))
	for s := l.Start; !seen[s]; {
		seen[s] = true
		arcs := l.States[s].Arcs
		if len(arcs) == 0 {
			break
		}
		if arcs[0].OLabel != fst.Epsilon {
			words = append(words, arcs[0].OLabel)
		}
		s = arcs[0].NextState
	}
	return words
}

// Alignment returns the input labels (transition-ids) along the first path.
func (l *Lattice) Alignment() []fst.Label {
	var ali []fst.Label
	if l.Start == fst.NoState {
		return nil
	}
	seen := make([]bool, len(l.States))
	for s := l.Start; !seen[s]; {
		seen[s] = true
		arcs := l.States[s].Arcs
		if len(arcs) == 0 {
			break
		}
		if arcs[0].ILabel != fst.Epsilon {
			ali = append(ali, arcs[0].ILabel)
		}
		s = arcs[0].NextState
	}
	return ali
}

// Connect removes states that are not on some start-to-final path and
// renumbers the rest, preserving relative order.
func (l *Lattice) Connect() {
	n := len(l.States)
	if l.Start == fst.NoState || n == 0 {
		l.States = nil
		l.Start = fst.NoState
		return
	}
	access := make([]bool, n)
	stack := []fst.StateID{l.Start}
	access[l.Start] = true
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, a := range l.States[s].Arcs {
			if !access[a.NextState] {
				access[a.NextState] = true
				stack = append(stack, a.NextState)
			}
		}
	}

	// coaccessibility: iterate to a fixed point over reversed arcs
	rev := make([][]fst.StateID, n)
	for i := range l.States {
		for _, a := range l.States[i].Arcs {
			rev[a.NextState] = append(rev[a.NextState], fst.StateID(i))
		}
	}
	coaccess := make([]bool, n)
	stack = stack[:0]
	for i := range l.States {
		if !l.States[i].Final.IsZero() {
			coaccess[i] = true
			stack = append(stack, fst.StateID(i))
		}
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range rev[s] {
			if !coaccess[p] {
				coaccess[p] = true
				stack = append(stack, p)
			}
		}
	}

	remap := make([]fst.StateID, n)
	kept := l.States[:0:0]
	for i := range l.States {
		if access[i] && coaccess[i] {
			remap[i] = fst.StateID(len(kept))
			kept = append(kept, l.States[i])
		} else {
			remap[i] = fst.NoState
		}
	}
	if !access[l.Start] || !coaccess[l.Start] {
		l.States = nil
		l.Start = fst.NoState
		return
	}
	for i := range kept {
		arcs := kept[i].Arcs[:0:0]
		for _, a := range kept[i].Arcs {
			if remap[a.NextState] != fst.NoState {
				a.NextState = remap[a.NextState]
				arcs = append(arcs, a)
			}
		}
		kept[i].Arcs = arcs
	}
	l.Start = remap[l.Start]
	l.States = kept
}

// isFinite reports whether v is a usable cost.
func isFinite(v float64) bool { return !math.IsInf(v, 0) && !math.IsNaN(v) }
