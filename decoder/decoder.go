// Package decoder implements an incremental lattice-generating beam search
// over a decoding graph. Tokens live in an arena addressed by int32 index;
// each token keeps its best predecessor for best-path queries and a list of
// forward links from which lattices are built.
package decoder

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ieee0824/streamdecode/acoustic"
	"github.com/ieee0824/streamdecode/decodable"
	"github.com/ieee0824/streamdecode/fst"
	"github.com/ieee0824/streamdecode/lattice"
)

var (
	// ErrInvalidFrames is returned when a lattice is requested for a frame
	// count outside [NumFramesInLattice, NumFramesDecoded].
	ErrInvalidFrames = errors.New("decoder: frame count out of range")
	// ErrFinalProbs is returned when final probabilities are requested for a
	// partial lattice, or omitted after finalization.
	ErrFinalProbs = errors.New("decoder: invalid use of final probabilities")
	// ErrDecoderFinalized is returned when decoding continues after
	// FinalizeDecoding.
	ErrDecoderFinalized = errors.New("decoder: decoding already finalized")
	// ErrNoPath is returned when no token survived on the last frame.
	ErrNoPath = errors.New("decoder: no surviving hypothesis")
)

const none int32 = -1

type token struct {
	state     fst.StateID
	frame     int32
	totCost   float64 // best forward cost
	extraCost float64 // extra cost over the best path through this token
	links     int32   // head of forward links
	next      int32   // next token on the same frame
	back      int32   // best predecessor
	backArc   lattice.Arc
}

type forwardLink struct {
	to           int32
	ilabel       fst.Label
	olabel       fst.Label
	graphCost    float64
	acousticCost float64
	next         int32
}

type frameToks struct {
	head            int32
	mustPruneLinks  bool
	mustPruneTokens bool
}

// Decoder is a single-owner search state. It is not safe for concurrent
// use; the graph and transition model may be shared.
type Decoder struct {
	cfg   Config
	tm    *acoustic.TransitionModel
	graph fst.Graph

	toks      []token
	links     []forwardLink
	freeLinks []int32
	frames    []frameToks
	cur       map[fst.StateID]int32 // tokens on the newest frame
	queue     []int32
	costs     []float64

	finalized         bool
	finalCosts        map[int32]float64
	finalRelativeCost float64
	finalBestCost     float64

	numFramesInLattice int
	startTok           int32
	lat                *lattice.Lattice      // frames up to numFramesInLattice
	latStates          map[int32]fst.StateID // boundary-frame tokens to lat states
}

// New creates a decoder ready for the first frame.
func New(cfg Config, tm *acoustic.TransitionModel, graph fst.Graph) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tm == nil || graph == nil {
		return nil, errors.New("decoder: nil transition model or graph")
	}
	d := &Decoder{
		cfg:   cfg,
		tm:    tm,
		graph: graph,
		cur:   make(map[fst.StateID]int32),
	}
	d.InitDecoding()
	return d, nil
}

// Config returns the decoder's configuration.
func (d *Decoder) Config() Config { return d.cfg }

// InitDecoding discards all search state and places a single token on the
// graph's start state.
func (d *Decoder) InitDecoding() {
	d.toks = d.toks[:0]
	d.links = d.links[:0]
	d.freeLinks = d.freeLinks[:0]
	d.frames = d.frames[:0]
	clear(d.cur)

	d.finalized = false
	d.finalCosts = nil
	d.finalRelativeCost = math.Inf(1)
	d.finalBestCost = math.Inf(1)

	d.numFramesInLattice = 0
	d.startTok = none
	d.lat = nil
	d.latStates = nil

	d.frames = append(d.frames, newFrameToks())
	start := d.graph.Start()
	if start == fst.NoState {
		return
	}
	d.startTok, _ = d.findOrAddToken(start, 0, 0, none, lattice.Arc{})
	d.processNonemitting(d.cfg.Beam)
}

func newFrameToks() frameToks {
	return frameToks{head: none, mustPruneLinks: true, mustPruneTokens: true}
}

// NumFramesDecoded returns the number of frames consumed so far.
func (d *Decoder) NumFramesDecoded() int { return len(d.frames) - 1 }

// NumFramesInLattice returns the frame up to which the lattice is fixed.
func (d *Decoder) NumFramesInLattice() int { return d.numFramesInLattice }

// Finalized reports whether FinalizeDecoding has been called.
func (d *Decoder) Finalized() bool { return d.finalized }

// AdvanceDecoding decodes frames from dec until none are ready or maxFrames
// frames have been decoded (maxFrames < 0 means no limit). It never waits
// for input. A failure from dec is returned wrapped; after a failure the
// search state must be reset with InitDecoding.
func (d *Decoder) AdvanceDecoding(dec decodable.Decodable, maxFrames int) error {
	if d.finalized {
		return ErrDecoderFinalized
	}
	target := dec.NumFramesReady()
	if maxFrames >= 0 && target > d.NumFramesDecoded()+maxFrames {
		target = d.NumFramesDecoded() + maxFrames
	}
	for d.NumFramesDecoded() < target {
		if d.NumFramesDecoded()%d.cfg.PruneInterval == 0 {
			d.pruneActiveTokens(d.cfg.LatticeBeam * d.cfg.PruneScale)
		}
		cutoff, err := d.processEmitting(dec)
		if err != nil {
			return err
		}
		d.processNonemitting(cutoff)
	}

	decoded := d.NumFramesDecoded()
	if decoded-d.numFramesInLattice >= d.cfg.DeterminizeMaxDelay+d.cfg.DeterminizeMinChunkSize {
		return d.UpdateLattice(decoded - d.cfg.DeterminizeMaxDelay)
	}
	return nil
}

func (d *Decoder) newToken(state fst.StateID, frame int, cost float64, back int32, arc lattice.Arc) int32 {
	idx := int32(len(d.toks))
	d.toks = append(d.toks, token{
		state:   state,
		frame:   int32(frame),
		totCost: cost,
		links:   none,
		next:    d.frames[frame].head,
		back:    back,
		backArc: arc,
	})
	d.frames[frame].head = idx
	return idx
}

// findOrAddToken returns the token for state on the newest frame, creating
// it or lowering its cost. changed is true when the token is new or its
// cost improved.
func (d *Decoder) findOrAddToken(state fst.StateID, frame int, cost float64, back int32, arc lattice.Arc) (idx int32, changed bool) {
	if i, ok := d.cur[state]; ok {
		t := &d.toks[i]
		if cost < t.totCost {
			t.totCost = cost
			t.back = back
			t.backArc = arc
			return i, true
		}
		return i, false
	}
	idx = d.newToken(state, frame, cost, back, arc)
	d.cur[state] = idx
	return idx, true
}

func (d *Decoder) addLink(from, to int32, ilabel, olabel fst.Label, graphCost, acousticCost float64) {
	l := forwardLink{
		to:           to,
		ilabel:       ilabel,
		olabel:       olabel,
		graphCost:    graphCost,
		acousticCost: acousticCost,
		next:         d.toks[from].links,
	}
	var idx int32
	if n := len(d.freeLinks); n > 0 {
		idx = d.freeLinks[n-1]
		d.freeLinks = d.freeLinks[:n-1]
		d.links[idx] = l
	} else {
		idx = int32(len(d.links))
		d.links = append(d.links, l)
	}
	d.toks[from].links = idx
}

func (d *Decoder) deleteLinks(tok int32) {
	for l := d.toks[tok].links; l != none; l = d.links[l].next {
		d.freeLinks = append(d.freeLinks, l)
	}
	d.toks[tok].links = none
}

func (d *Decoder) hasEpsilon(s fst.StateID) bool {
	for _, a := range d.graph.Arcs(s) {
		if a.ILabel == fst.Epsilon {
			return true
		}
	}
	return false
}

// getCutoff returns the pruning cutoff for the tokens starting at head, the
// beam it implies, and the best token.
func (d *Decoder) getCutoff(head int32) (cutoff, adaptiveBeam float64, best int32) {
	best = none
	bestCost := math.Inf(1)
	d.costs = d.costs[:0]
	for i := head; i != none; i = d.toks[i].next {
		c := d.toks[i].totCost
		if c < bestCost {
			bestCost = c
			best = i
		}
		d.costs = append(d.costs, c)
	}
	beamCutoff := bestCost + d.cfg.Beam
	if len(d.costs) <= d.cfg.MinActive && len(d.costs) <= d.cfg.MaxActive {
		return beamCutoff, d.cfg.Beam, best
	}

	sort.Float64s(d.costs)
	if len(d.costs) > d.cfg.MaxActive {
		maxCutoff := d.costs[d.cfg.MaxActive]
		if maxCutoff < beamCutoff {
			return maxCutoff, maxCutoff - bestCost + d.cfg.BeamDelta, best
		}
	}
	if len(d.costs) > d.cfg.MinActive {
		minCutoff := bestCost
		if d.cfg.MinActive > 0 {
			minCutoff = d.costs[d.cfg.MinActive]
		}
		if minCutoff > beamCutoff {
			return minCutoff, minCutoff - bestCost + d.cfg.BeamDelta, best
		}
	}
	return beamCutoff, d.cfg.Beam, best
}

func (d *Decoder) score(loglikes []float64, ilabel fst.Label) (float64, error) {
	tid := int(ilabel)
	if !d.tm.IsValid(tid) || tid >= len(loglikes) {
		return 0, fmt.Errorf("decoder: graph input label %d is not a transition-id", tid)
	}
	return -loglikes[tid], nil
}

// processEmitting consumes one frame and returns the cutoff for the
// following epsilon closure.
func (d *Decoder) processEmitting(dec decodable.Decodable) (float64, error) {
	f := d.NumFramesDecoded()
	loglikes, err := dec.FrameLogLikelihoods(f)
	if err != nil {
		return 0, fmt.Errorf("decoder: frame %d: %w", f, err)
	}

	head := d.frames[f].head
	d.frames = append(d.frames, newFrameToks())
	clear(d.cur)

	curCutoff, adaptiveBeam, best := d.getCutoff(head)
	nextCutoff := math.Inf(1)

	// a first estimate of the next cutoff from the best token
	if best != none {
		bt := d.toks[best]
		for _, arc := range d.graph.Arcs(bt.state) {
			if arc.ILabel == fst.Epsilon {
				continue
			}
			ac, err := d.score(loglikes, arc.ILabel)
			if err != nil {
				return 0, err
			}
			if c := bt.totCost + arc.Weight + ac; c+adaptiveBeam < nextCutoff {
				nextCutoff = c + adaptiveBeam
			}
		}
	}

	for i := head; i != none; i = d.toks[i].next {
		tok := d.toks[i]
		if tok.totCost > curCutoff {
			continue
		}
		for _, arc := range d.graph.Arcs(tok.state) {
			if arc.ILabel == fst.Epsilon {
				continue
			}
			ac, err := d.score(loglikes, arc.ILabel)
			if err != nil {
				return 0, err
			}
			cost := tok.totCost + arc.Weight + ac
			if cost >= nextCutoff {
				continue
			}
			if cost+adaptiveBeam < nextCutoff {
				nextCutoff = cost + adaptiveBeam
			}
			bp := lattice.Arc{
				ILabel: arc.ILabel,
				OLabel: arc.OLabel,
				Weight: lattice.Weight{Graph: arc.Weight, Acoustic: ac},
			}
			nt, _ := d.findOrAddToken(arc.NextState, f+1, cost, i, bp)
			d.addLink(i, nt, arc.ILabel, arc.OLabel, arc.Weight, ac)
		}
	}
	return nextCutoff, nil
}

// processNonemitting computes the epsilon closure of the newest frame.
// A token whose cost improves is re-expanded and its links rebuilt.
func (d *Decoder) processNonemitting(cutoff float64) {
	f := d.NumFramesDecoded()
	d.queue = d.queue[:0]
	for i := d.frames[f].head; i != none; i = d.toks[i].next {
		if d.hasEpsilon(d.toks[i].state) {
			d.queue = append(d.queue, i)
		}
	}

	for len(d.queue) > 0 {
		i := d.queue[len(d.queue)-1]
		d.queue = d.queue[:len(d.queue)-1]

		state, cost := d.toks[i].state, d.toks[i].totCost
		if cost > cutoff {
			continue
		}
		d.deleteLinks(i)
		for _, arc := range d.graph.Arcs(state) {
			if arc.ILabel != fst.Epsilon || arc.NextState == state {
				continue
			}
			tot := cost + arc.Weight
			if tot >= cutoff {
				continue
			}
			bp := lattice.Arc{OLabel: arc.OLabel, Weight: lattice.Weight{Graph: arc.Weight}}
			nt, changed := d.findOrAddToken(arc.NextState, f, tot, i, bp)
			d.addLink(i, nt, fst.Epsilon, arc.OLabel, arc.Weight, 0)
			if changed && d.hasEpsilon(arc.NextState) {
				d.queue = append(d.queue, nt)
			}
		}
	}
}
