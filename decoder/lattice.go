package decoder

import (
	"fmt"

	"github.com/ieee0824/streamdecode/fst"
	"github.com/ieee0824/streamdecode/lattice"
)

// UpdateLattice fixes the lattice up to frame n. Frames before the current
// boundary are never revisited; only frames in [NumFramesInLattice, n) add
// new states and arcs.
func (d *Decoder) UpdateLattice(n int) error {
	if n < d.numFramesInLattice || n > d.NumFramesDecoded() {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidFrames, n, d.numFramesInLattice, d.NumFramesDecoded())
	}
	if d.lat != nil && n == d.numFramesInLattice {
		return nil
	}
	d.pruneActiveTokens(d.cfg.LatticeBeam * d.cfg.PruneScale)

	if d.lat == nil {
		d.lat = lattice.New()
		d.latStates = make(map[int32]fst.StateID)
		for i := d.frames[0].head; i != none; i = d.toks[i].next {
			d.latStates[i] = d.lat.AddState(0)
		}
		if s, ok := d.latStates[d.startTok]; ok {
			d.lat.Start = s
		}
		d.addLatticeArcs(0, d.latStates, d.latStates, false)
	}

	for t := d.numFramesInLattice; t < n; t++ {
		next := make(map[int32]fst.StateID)
		for i := d.frames[t+1].head; i != none; i = d.toks[i].next {
			next[i] = d.lat.AddState(t + 1)
		}
		d.addLatticeArcs(t, d.latStates, next, true)
		d.addLatticeArcs(t+1, next, next, false)
		d.latStates = next
	}
	d.numFramesInLattice = n
	return nil
}

// addLatticeArcs copies the emitting or epsilon links of frame f into the
// lattice. Links whose endpoints have no state are skipped.
func (d *Decoder) addLatticeArcs(f int, src, dst map[int32]fst.StateID, emitting bool) {
	for i := d.frames[f].head; i != none; i = d.toks[i].next {
		s, ok := src[i]
		if !ok {
			continue
		}
		for l := d.toks[i].links; l != none; l = d.links[l].next {
			lk := d.links[l]
			if (lk.ilabel != fst.Epsilon) != emitting {
				continue
			}
			ns, ok := dst[lk.to]
			if !ok {
				continue
			}
			d.lat.AddArc(s, lattice.Arc{
				ILabel:    lk.ilabel,
				OLabel:    lk.olabel,
				Weight:    lattice.Weight{Graph: lk.graphCost, Acoustic: lk.acousticCost},
				NextState: ns,
			})
		}
	}
}

// GetLattice returns the lattice covering the first n frames, which must be
// in [NumFramesInLattice, NumFramesDecoded]. The boundary moves to n. With
// useFinalProbs (only allowed for n == NumFramesDecoded, and required after
// FinalizeDecoding) the graph's final weights are applied on the last
// frame; if no state there is final, or without useFinalProbs, every state
// on frame n is final with weight One. The result is connected and owned
// by the caller.
func (d *Decoder) GetLattice(n int, useFinalProbs bool) (*lattice.Lattice, error) {
	decoded := d.NumFramesDecoded()
	if n < d.numFramesInLattice || n > decoded {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidFrames, n, d.numFramesInLattice, decoded)
	}
	if useFinalProbs && n != decoded {
		return nil, fmt.Errorf("%w: final probabilities need all %d decoded frames, got %d", ErrFinalProbs, decoded, n)
	}
	if d.finalized && !useFinalProbs {
		return nil, fmt.Errorf("%w: required after finalization", ErrFinalProbs)
	}
	if err := d.UpdateLattice(n); err != nil {
		return nil, err
	}

	out := d.lat.Clone()
	var finals map[int32]float64
	if useFinalProbs {
		finals, _, _ = d.finalCostsNow()
	}
	for i := d.frames[n].head; i != none; i = d.toks[i].next {
		s, ok := d.latStates[i]
		if !ok {
			continue
		}
		if len(finals) == 0 {
			out.SetFinal(s, lattice.OneWeight())
			continue
		}
		if c, ok := finals[i]; ok {
			out.SetFinal(s, lattice.Weight{Graph: c})
		}
	}
	out.Connect()
	return out, nil
}

// bestPathEnd returns the best token on the last frame and its final cost.
func (d *Decoder) bestPathEnd(useFinalProbs bool) (int32, float64, error) {
	var finals map[int32]float64
	if useFinalProbs {
		finals, _, _ = d.finalCostsNow()
	}
	best, bestFinal := none, 0.0
	bestCost := 0.0
	for i := d.frames[d.NumFramesDecoded()].head; i != none; i = d.toks[i].next {
		final := 0.0
		if len(finals) > 0 {
			c, ok := finals[i]
			if !ok {
				continue
			}
			final = c
		}
		if cost := d.toks[i].totCost + final; best == none || cost < bestCost {
			best, bestCost, bestFinal = i, cost, final
		}
	}
	if best == none {
		return none, 0, ErrNoPath
	}
	return best, bestFinal, nil
}

// TraceBackBestPath calls fn for each arc of the best path, last arc
// first, until fn returns false. useFinalProbs has the same meaning as in
// BestPath.
func (d *Decoder) TraceBackBestPath(useFinalProbs bool, fn func(arc lattice.Arc) bool) error {
	end, _, err := d.bestPathEnd(useFinalProbs)
	if err != nil {
		return err
	}
	for i := end; d.toks[i].back != none; i = d.toks[i].back {
		if !fn(d.toks[i].backArc) {
			return nil
		}
	}
	return nil
}

// BestPath returns the single best path from the search state as a linear
// lattice. With useFinalProbs the final weights are applied when some
// state on the last frame is final; otherwise every state there is treated
// as final.
func (d *Decoder) BestPath(useFinalProbs bool) (*lattice.Lattice, error) {
	end, final, err := d.bestPathEnd(useFinalProbs)
	if err != nil {
		return nil, err
	}
	var path []int32
	for i := end; d.toks[i].back != none; i = d.toks[i].back {
		path = append(path, i)
	}

	out := lattice.New()
	s := out.AddState(0)
	out.Start = s
	for k := len(path) - 1; k >= 0; k-- {
		tok := d.toks[path[k]]
		ns := out.AddState(int(tok.frame))
		arc := tok.backArc
		arc.NextState = ns
		out.AddArc(s, arc)
		s = ns
	}
	out.SetFinal(s, lattice.Weight{Graph: final})
	return out, nil
}
