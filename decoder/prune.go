package decoder

import "math"

// pruneActiveTokens prunes links and tokens on frames at or after the
// lattice boundary using the lattice beam. Frames before the boundary are
// already in the lattice and are left alone.
func (d *Decoder) pruneActiveTokens(delta float64) {
	cur := d.NumFramesDecoded()
	for f := cur - 1; f >= d.numFramesInLattice; f-- {
		if d.frames[f].mustPruneLinks {
			extraChanged, linksPruned := d.pruneForwardLinks(f, delta)
			if extraChanged && f > 0 {
				d.frames[f-1].mustPruneLinks = true
			}
			if linksPruned {
				d.frames[f].mustPruneTokens = true
			}
			d.frames[f].mustPruneLinks = false
		}
		if f+1 < cur && d.frames[f+1].mustPruneTokens {
			d.pruneTokensForFrame(f + 1)
			d.frames[f+1].mustPruneTokens = false
		}
	}
}

// pruneForwardLinks recomputes extra costs on frame f from the successors'
// extra costs and drops links outside the lattice beam. It iterates because
// epsilon links connect tokens of the same frame.
func (d *Decoder) pruneForwardLinks(f int, delta float64) (extraChanged, linksPruned bool) {
	changed := true
	for changed {
		changed = false
		for i := d.frames[f].head; i != none; i = d.toks[i].next {
			tokExtra := d.pruneLinksOf(i, math.Inf(1), &linksPruned)
			tok := &d.toks[i]
			if math.Abs(tokExtra-tok.extraCost) > delta {
				changed = true
			}
			tok.extraCost = tokExtra
		}
		if changed {
			extraChanged = true
		}
	}
	return extraChanged, linksPruned
}

// pruneLinksOf removes the links of tok that fall outside the lattice beam
// and returns the minimum of init and the surviving links' extra costs.
func (d *Decoder) pruneLinksOf(i int32, init float64, pruned *bool) float64 {
	tok := &d.toks[i]
	extra := init
	prev := none
	for l := tok.links; l != none; {
		lk := d.links[l]
		nt := &d.toks[lk.to]
		linkExtra := nt.extraCost + ((tok.totCost + lk.acousticCost + lk.graphCost) - nt.totCost)
		if !(linkExtra <= d.cfg.LatticeBeam) {
			if prev == none {
				tok.links = lk.next
			} else {
				d.links[prev].next = lk.next
			}
			d.freeLinks = append(d.freeLinks, l)
			*pruned = true
		} else {
			if linkExtra < 0 {
				linkExtra = 0 // rounding
			}
			if linkExtra < extra {
				extra = linkExtra
			}
			prev = l
		}
		l = lk.next
	}
	return extra
}

// pruneForwardLinksFinal sets extra costs on the last frame from the final
// weights and prunes its epsilon links. The final costs are kept for
// lattice and best-path queries after finalization.
func (d *Decoder) pruneForwardLinksFinal() {
	f := d.NumFramesDecoded()
	finals, relative, best := d.finalCostsNow()
	d.finalCosts, d.finalRelativeCost, d.finalBestCost = finals, relative, best

	var pruned bool
	changed := true
	for changed {
		changed = false
		for i := d.frames[f].head; i != none; i = d.toks[i].next {
			final := 0.0
			if len(finals) > 0 {
				c, ok := finals[i]
				if !ok {
					c = math.Inf(1)
				}
				final = c
			}
			tokExtra := d.pruneLinksOf(i, d.toks[i].totCost+final-best, &pruned)
			if tokExtra > d.cfg.LatticeBeam {
				tokExtra = math.Inf(1)
			}
			tok := &d.toks[i]
			if !approxEqual(tok.extraCost, tokExtra) {
				changed = true
			}
			tok.extraCost = tokExtra
		}
	}
}

func approxEqual(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-5*math.Max(math.Abs(a), math.Abs(b))
}

// pruneTokensForFrame deletes tokens on frame f whose extra cost is
// infinite. Links into them have already been pruned.
func (d *Decoder) pruneTokensForFrame(f int) {
	prev := none
	for i := d.frames[f].head; i != none; {
		tok := &d.toks[i]
		next := tok.next
		if math.IsInf(tok.extraCost, 1) {
			d.deleteLinks(i)
			if prev == none {
				d.frames[f].head = next
			} else {
				d.toks[prev].next = next
			}
			if j, ok := d.cur[tok.state]; ok && j == i && f == d.NumFramesDecoded() {
				delete(d.cur, tok.state)
			}
		} else {
			prev = i
		}
		i = next
	}
}

// finalCostsNow returns the final cost of every final token on the last
// frame, the final relative cost, and the best cost including final
// weights (or without them when no token is final).
func (d *Decoder) finalCostsNow() (map[int32]float64, float64, float64) {
	if d.finalized {
		return d.finalCosts, d.finalRelativeCost, d.finalBestCost
	}
	f := d.NumFramesDecoded()
	finals := make(map[int32]float64)
	bestCost, bestWithFinal := math.Inf(1), math.Inf(1)
	for i := d.frames[f].head; i != none; i = d.toks[i].next {
		tok := &d.toks[i]
		bestCost = math.Min(bestCost, tok.totCost)
		final := d.graph.Final(tok.state)
		if math.IsInf(final, 1) {
			continue
		}
		finals[i] = final
		bestWithFinal = math.Min(bestWithFinal, tok.totCost+final)
	}
	if len(finals) == 0 {
		return finals, math.Inf(1), bestCost
	}
	return finals, bestWithFinal - bestCost, bestWithFinal
}

// FinalRelativeCost returns the difference between the best cost with and
// without final weights on the last frame, or +Inf if no final state is
// active. Small values mean the decoder is likely at the end of a sentence.
func (d *Decoder) FinalRelativeCost() float64 {
	_, rel, _ := d.finalCostsNow()
	return rel
}

// FinalizeDecoding prunes the search with final weights applied. After it,
// lattices may only be requested for all frames with final probabilities
// and no more frames can be decoded.
func (d *Decoder) FinalizeDecoding() error {
	if d.finalized {
		return ErrDecoderFinalized
	}
	last := d.NumFramesDecoded()
	d.pruneForwardLinksFinal()
	for f := last - 1; f >= d.numFramesInLattice; f-- {
		d.pruneForwardLinks(f, 0)
		d.pruneTokensForFrame(f + 1)
	}
	d.finalized = true
	return nil
}
