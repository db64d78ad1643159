package decoder

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ieee0824/streamdecode/acoustic"
	"github.com/ieee0824/streamdecode/fst"
	"github.com/ieee0824/streamdecode/lattice"
)

const (
	wordA   fst.Label = 1
	wordSil fst.Label = 2
)

// scoreMatrix is a Decodable over precomputed log-likelihood rows.
type scoreMatrix [][]float64

func (m scoreMatrix) NumFramesReady() int    { return len(m) }
func (m scoreMatrix) IsLastFrame(f int) bool { return f == len(m)-1 }
func (m scoreMatrix) FrameLogLikelihoods(f int) ([]float64, error) {
	if f < 0 || f >= len(m) {
		return nil, fmt.Errorf("frame %d not ready", f)
	}
	return m[f], nil
}

func testTransitionModel() *acoustic.TransitionModel {
	return acoustic.NewTransitionModel([]acoustic.Phoneme{acoustic.PhonSil, acoustic.PhonA})
}

// frameScores returns one row where every "a" transition scores aScore and
// every silence transition silScore.
func frameScores(tm *acoustic.TransitionModel, aScore, silScore float64) []float64 {
	row := make([]float64, tm.NumTransitionIDs()+1)
	for tid := 1; tid < len(row); tid++ {
		if tm.TransitionIDToPhone(tid) == acoustic.PhonA {
			row[tid] = aScore
		} else {
			row[tid] = silScore
		}
	}
	return row
}

func uniformScores(tm *acoustic.TransitionModel, n int, aScore, silScore float64) scoreMatrix {
	m := make(scoreMatrix, n)
	for i := range m {
		m[i] = frameScores(tm, aScore, silScore)
	}
	return m
}

func tid(t *testing.T, tm *acoustic.TransitionModel, p acoustic.Phoneme, selfLoop bool) fst.Label {
	t.Helper()
	id, err := tm.TransitionID(p, 1, selfLoop)
	if err != nil {
		t.Fatalf("TransitionID: %v", err)
	}
	return fst.Label(id)
}

// twoStateGraph: state 0 enters state 1 through either word; state 1
// loops on both phones and is final with finalCost.
func twoStateGraph(t *testing.T, tm *acoustic.TransitionModel, finalCost float64) *fst.VectorFST {
	t.Helper()
	g := fst.NewVectorFST()
	s0, s1 := g.AddState(), g.AddState()
	g.SetStart(s0)
	g.SetFinal(s1, finalCost)
	g.AddArc(s0, fst.Arc{ILabel: tid(t, tm, acoustic.PhonA, false), OLabel: wordA, Weight: 0.5, NextState: s1})
	g.AddArc(s0, fst.Arc{ILabel: tid(t, tm, acoustic.PhonSil, false), OLabel: wordSil, Weight: 0.5, NextState: s1})
	g.AddArc(s1, fst.Arc{ILabel: tid(t, tm, acoustic.PhonA, true), Weight: 0.1, NextState: s1})
	g.AddArc(s1, fst.Arc{ILabel: tid(t, tm, acoustic.PhonSil, true), Weight: 0.1, NextState: s1})
	return g
}

func newTestDecoder(t *testing.T, cfg Config, tm *acoustic.TransitionModel, g fst.Graph) *Decoder {
	t.Helper()
	d, err := New(cfg, tm, g)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func bestWeight(t *testing.T, l *lattice.Lattice) (lattice.Weight, []fst.Label) {
	t.Helper()
	path, w, err := l.BestPath()
	if err != nil {
		t.Fatalf("BestPath: %v", err)
	}
	return w, path.Words()
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Beam = 0
	cfg.PruneInterval = 0
	cfg.MinActive = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid config")
	}
	if _, err := New(cfg, testTransitionModel(), fst.NewVectorFST()); err == nil {
		t.Error("New should reject an invalid config")
	}
}

func TestAdvanceDecoding(t *testing.T) {
	tm := testTransitionModel()
	d := newTestDecoder(t, DefaultConfig(), tm, twoStateGraph(t, tm, 0))
	sc := uniformScores(tm, 10, -1, -5)

	if d.NumFramesDecoded() != 0 {
		t.Fatalf("NumFramesDecoded = %d, want 0", d.NumFramesDecoded())
	}
	if err := d.AdvanceDecoding(sc, 4); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}
	if d.NumFramesDecoded() != 4 {
		t.Fatalf("NumFramesDecoded = %d, want 4", d.NumFramesDecoded())
	}
	if err := d.AdvanceDecoding(sc, -1); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}
	if d.NumFramesDecoded() != 10 {
		t.Fatalf("NumFramesDecoded = %d, want 10", d.NumFramesDecoded())
	}
	if err := d.AdvanceDecoding(sc, -1); err != nil {
		t.Fatalf("AdvanceDecoding with nothing ready: %v", err)
	}
	if d.NumFramesDecoded() != 10 {
		t.Errorf("NumFramesDecoded changed to %d", d.NumFramesDecoded())
	}

	d.InitDecoding()
	if d.NumFramesDecoded() != 0 || d.NumFramesInLattice() != 0 {
		t.Errorf("after InitDecoding: decoded=%d inLattice=%d", d.NumFramesDecoded(), d.NumFramesInLattice())
	}
}

func TestBestPathFollowsScores(t *testing.T) {
	tm := testTransitionModel()
	d := newTestDecoder(t, DefaultConfig(), tm, twoStateGraph(t, tm, 0))
	if err := d.AdvanceDecoding(uniformScores(tm, 10, -1, -5), -1); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}

	bp, err := d.BestPath(true)
	if err != nil {
		t.Fatalf("BestPath: %v", err)
	}
	w, words := bestWeight(t, bp)
	if len(words) != 1 || words[0] != wordA {
		t.Errorf("words = %v, want [%d]", words, wordA)
	}
	// 0.5 + 9*0.1 graph, 10 * 1.0 acoustic
	if math.Abs(w.Graph-1.4) > 1e-9 || math.Abs(w.Acoustic-10) > 1e-9 {
		t.Errorf("weight = %+v, want {1.4 10}", w)
	}
	ali := bp.Alignment()
	if len(ali) != 10 {
		t.Fatalf("alignment length = %d, want 10", len(ali))
	}
	for i, id := range ali {
		if tm.TransitionIDToPhone(int(id)) != acoustic.PhonA {
			t.Errorf("frame %d aligned to %s", i, tm.TransitionIDToPhone(int(id)))
		}
	}
	if bp.NumFrames() != 10 {
		t.Errorf("best path NumFrames = %d, want 10", bp.NumFrames())
	}
}

func TestGetLatticeRange(t *testing.T) {
	tm := testTransitionModel()
	d := newTestDecoder(t, DefaultConfig(), tm, twoStateGraph(t, tm, 0))
	if err := d.AdvanceDecoding(uniformScores(tm, 10, -1, -5), -1); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}

	if _, err := d.GetLattice(5, true); !errors.Is(err, ErrFinalProbs) {
		t.Errorf("GetLattice(5, true) = %v, want ErrFinalProbs", err)
	}
	if _, err := d.GetLattice(11, false); !errors.Is(err, ErrInvalidFrames) {
		t.Errorf("GetLattice(11) = %v, want ErrInvalidFrames", err)
	}

	for k := 0; k <= 10; k++ {
		lat, err := d.GetLattice(k, false)
		if err != nil {
			t.Fatalf("GetLattice(%d): %v", k, err)
		}
		if d.NumFramesInLattice() != k {
			t.Fatalf("NumFramesInLattice = %d after GetLattice(%d)", d.NumFramesInLattice(), k)
		}
		if lat.NumFrames() != k {
			t.Errorf("GetLattice(%d).NumFrames() = %d", k, lat.NumFrames())
		}
		if k > 0 {
			if _, err := d.GetLattice(k-1, false); !errors.Is(err, ErrInvalidFrames) {
				t.Errorf("GetLattice(%d) below boundary = %v, want ErrInvalidFrames", k-1, err)
			}
		}
	}
}

func TestAutoLatticeBoundary(t *testing.T) {
	tm := testTransitionModel()
	cfg := DefaultConfig()
	cfg.DeterminizeMaxDelay = 5
	cfg.DeterminizeMinChunkSize = 2
	d := newTestDecoder(t, cfg, tm, twoStateGraph(t, tm, 0))
	sc := uniformScores(tm, 12, -1, -5)

	steps := []struct {
		frames        int
		wantInLattice int
	}{
		{10, 5},
		{1, 5},
		{1, 7},
	}
	for _, s := range steps {
		if err := d.AdvanceDecoding(sc, s.frames); err != nil {
			t.Fatalf("AdvanceDecoding: %v", err)
		}
		if d.NumFramesInLattice() != s.wantInLattice {
			t.Errorf("decoded=%d: NumFramesInLattice = %d, want %d",
				d.NumFramesDecoded(), d.NumFramesInLattice(), s.wantInLattice)
		}
		if d.NumFramesInLattice() > d.NumFramesDecoded() {
			t.Fatalf("NumFramesInLattice %d > NumFramesDecoded %d", d.NumFramesInLattice(), d.NumFramesDecoded())
		}
	}
}

func TestIncrementalLatticeMatchesOneShot(t *testing.T) {
	tm := testTransitionModel()
	g := twoStateGraph(t, tm, 0)
	var sc scoreMatrix
	for f := 0; f < 15; f++ {
		if f < 5 {
			sc = append(sc, frameScores(tm, -4, -1))
		} else {
			sc = append(sc, frameScores(tm, -1, -3))
		}
	}

	cfg := DefaultConfig()
	cfg.DeterminizeMaxDelay = 3
	cfg.DeterminizeMinChunkSize = 2
	cfg.PruneInterval = 2
	inc := newTestDecoder(t, cfg, tm, g)
	for inc.NumFramesDecoded() < len(sc) {
		if err := inc.AdvanceDecoding(sc, 1); err != nil {
			t.Fatalf("AdvanceDecoding: %v", err)
		}
		if inc.NumFramesDecoded() == 9 {
			if _, err := inc.GetLattice(inc.NumFramesInLattice()+1, false); err != nil {
				t.Fatalf("partial GetLattice: %v", err)
			}
		}
	}
	if inc.NumFramesInLattice() == 0 {
		t.Fatal("lattice boundary never advanced")
	}
	incLat, err := inc.GetLattice(len(sc), true)
	if err != nil {
		t.Fatalf("GetLattice: %v", err)
	}

	once := newTestDecoder(t, DefaultConfig(), tm, g)
	if err := once.AdvanceDecoding(sc, -1); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}
	onceLat, err := once.GetLattice(len(sc), true)
	if err != nil {
		t.Fatalf("GetLattice: %v", err)
	}

	w1, words1 := bestWeight(t, incLat)
	w2, words2 := bestWeight(t, onceLat)
	if math.Abs(w1.Value()-w2.Value()) > 1e-9 {
		t.Errorf("incremental weight %f, one-shot %f", w1.Value(), w2.Value())
	}
	if len(words1) != 1 || len(words2) != 1 || words1[0] != wordSil || words2[0] != wordSil {
		t.Errorf("words: incremental %v, one-shot %v, want [%d]", words1, words2, wordSil)
	}
}

func TestFinalizeDecoding(t *testing.T) {
	tm := testTransitionModel()
	d := newTestDecoder(t, DefaultConfig(), tm, twoStateGraph(t, tm, 2.0))
	sc := uniformScores(tm, 10, -1, -5)
	if err := d.AdvanceDecoding(sc, -1); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}
	if rel := d.FinalRelativeCost(); math.Abs(rel-2.0) > 1e-9 {
		t.Errorf("FinalRelativeCost = %f, want 2", rel)
	}

	if err := d.FinalizeDecoding(); err != nil {
		t.Fatalf("FinalizeDecoding: %v", err)
	}
	if !d.Finalized() {
		t.Fatal("Finalized() = false")
	}
	if err := d.FinalizeDecoding(); !errors.Is(err, ErrDecoderFinalized) {
		t.Errorf("second FinalizeDecoding = %v", err)
	}
	if err := d.AdvanceDecoding(sc, -1); !errors.Is(err, ErrDecoderFinalized) {
		t.Errorf("AdvanceDecoding after finalize = %v", err)
	}
	if _, err := d.GetLattice(10, false); !errors.Is(err, ErrFinalProbs) {
		t.Errorf("GetLattice(10, false) after finalize = %v, want ErrFinalProbs", err)
	}
	if rel := d.FinalRelativeCost(); math.Abs(rel-2.0) > 1e-9 {
		t.Errorf("FinalRelativeCost after finalize = %f, want 2", rel)
	}

	lat, err := d.GetLattice(10, true)
	if err != nil {
		t.Fatalf("GetLattice: %v", err)
	}
	latW, _ := bestWeight(t, lat)

	withFinal, err := d.BestPath(true)
	if err != nil {
		t.Fatalf("BestPath(true): %v", err)
	}
	bpW, _ := bestWeight(t, withFinal)
	if math.Abs(latW.Value()-bpW.Value()) > 1e-9 {
		t.Errorf("lattice best %f != best path %f", latW.Value(), bpW.Value())
	}
	if math.Abs(bpW.Value()-13.4) > 1e-9 {
		t.Errorf("best path weight = %f, want 13.4", bpW.Value())
	}

	noFinal, err := d.BestPath(false)
	if err != nil {
		t.Fatalf("BestPath(false): %v", err)
	}
	nfW, _ := bestWeight(t, noFinal)
	if math.Abs(nfW.Value()-11.4) > 1e-9 {
		t.Errorf("best path without finals = %f, want 11.4", nfW.Value())
	}
}

func TestNoFinalStateTreatsAllAsFinal(t *testing.T) {
	tm := testTransitionModel()
	d := newTestDecoder(t, DefaultConfig(), tm, twoStateGraph(t, tm, math.Inf(1)))
	if err := d.AdvanceDecoding(uniformScores(tm, 4, -1, -5), -1); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}
	if !math.IsInf(d.FinalRelativeCost(), 1) {
		t.Errorf("FinalRelativeCost = %f, want +Inf", d.FinalRelativeCost())
	}

	a, _ := d.BestPath(true)
	b, _ := d.BestPath(false)
	wa, _ := bestWeight(t, a)
	wb, _ := bestWeight(t, b)
	if wa != wb {
		t.Errorf("BestPath(true) = %+v, BestPath(false) = %+v", wa, wb)
	}

	lat, err := d.GetLattice(4, true)
	if err != nil {
		t.Fatalf("GetLattice: %v", err)
	}
	if len(lat.FinalStates()) == 0 {
		t.Error("expected every last-frame state to be final")
	}
}

func TestEpsilonArcs(t *testing.T) {
	tm := testTransitionModel()
	g := fst.NewVectorFST()
	s0, s1, s2 := g.AddState(), g.AddState(), g.AddState()
	g.SetStart(s0)
	g.SetFinal(s2, 0)
	g.AddArc(s0, fst.Arc{ILabel: tid(t, tm, acoustic.PhonA, false), Weight: 0.5, NextState: s1})
	g.AddArc(s1, fst.Arc{ILabel: tid(t, tm, acoustic.PhonA, true), Weight: 0.1, NextState: s1})
	g.AddArc(s1, fst.Arc{ILabel: fst.Epsilon, OLabel: wordA, Weight: 0.2, NextState: s2})

	d := newTestDecoder(t, DefaultConfig(), tm, g)
	if err := d.AdvanceDecoding(uniformScores(tm, 3, -1, -5), -1); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}

	bp, err := d.BestPath(true)
	if err != nil {
		t.Fatalf("BestPath: %v", err)
	}
	w, words := bestWeight(t, bp)
	if len(words) != 1 || words[0] != wordA {
		t.Errorf("words = %v, want [%d]", words, wordA)
	}
	if math.Abs(w.Value()-3.9) > 1e-9 {
		t.Errorf("best path weight = %f, want 3.9", w.Value())
	}

	lat, err := d.GetLattice(3, true)
	if err != nil {
		t.Fatalf("GetLattice: %v", err)
	}
	lw, lwords := bestWeight(t, lat)
	if math.Abs(lw.Value()-3.9) > 1e-9 || len(lwords) != 1 {
		t.Errorf("lattice best = %f %v", lw.Value(), lwords)
	}

	var sawEps bool
	for _, st := range lat.States {
		for _, a := range st.Arcs {
			if a.ILabel == fst.Epsilon && a.OLabel == wordA {
				sawEps = true
			}
		}
	}
	if !sawEps {
		t.Error("lattice lacks the epsilon word arc")
	}

	var emitting int
	err = d.TraceBackBestPath(true, func(a lattice.Arc) bool {
		if a.ILabel != fst.Epsilon {
			emitting++
		}
		return true
	})
	if err != nil || emitting != 3 {
		t.Errorf("TraceBackBestPath: err=%v emitting=%d, want 3", err, emitting)
	}
}

func TestLatticeBeamPrunesAlternatives(t *testing.T) {
	tm := testTransitionModel()
	cfg := DefaultConfig()
	cfg.LatticeBeam = 0.5
	d := newTestDecoder(t, cfg, tm, twoStateGraph(t, tm, 0))
	if err := d.AdvanceDecoding(uniformScores(tm, 10, -1, -5), -1); err != nil {
		t.Fatalf("AdvanceDecoding: %v", err)
	}
	lat, err := d.GetLattice(10, true)
	if err != nil {
		t.Fatalf("GetLattice: %v", err)
	}
	if lat.NumArcs() != 10 {
		t.Errorf("NumArcs = %d, want 10", lat.NumArcs())
	}
	for _, st := range lat.States {
		for _, a := range st.Arcs {
			if tm.TransitionIDToPhone(int(a.ILabel)) != acoustic.PhonA {
				t.Errorf("silence arc survived lattice pruning: %+v", a)
			}
		}
	}
}

func TestGetCutoff(t *testing.T) {
	tm := testTransitionModel()
	cfg := DefaultConfig()
	cfg.MaxActive = 2
	cfg.MinActive = 0
	d := newTestDecoder(t, cfg, tm, twoStateGraph(t, tm, 0))

	d.toks = d.toks[:0]
	d.frames = []frameToks{newFrameToks()}
	var bestTok int32
	for i, c := range []float64{3, 1, 4, 2} {
		idx := d.newToken(fst.StateID(i), 0, c, none, lattice.Arc{})
		if c == 1 {
			bestTok = idx
		}
	}

	cutoff, beam, best := d.getCutoff(d.frames[0].head)
	if cutoff != 3 || beam != 2.5 || best != bestTok {
		t.Errorf("max-active cutoff = (%f, %f, %d), want (3, 2.5, %d)", cutoff, beam, best, bestTok)
	}

	d.cfg.MaxActive = math.MaxInt32
	d.cfg.MinActive = 3
	d.cfg.Beam = 0.5
	cutoff, beam, _ = d.getCutoff(d.frames[0].head)
	if cutoff != 4 || beam != 3.5 {
		t.Errorf("min-active cutoff = (%f, %f), want (4, 3.5)", cutoff, beam)
	}

	d.cfg.MinActive = 0
	cutoff, beam, _ = d.getCutoff(d.frames[0].head)
	if cutoff != 1.5 || beam != 0.5 {
		t.Errorf("beam cutoff = (%f, %f), want (1.5, 0.5)", cutoff, beam)
	}
}

func TestInvalidInputLabel(t *testing.T) {
	tm := testTransitionModel()
	g := fst.NewVectorFST()
	s0 := g.AddState()
	g.SetStart(s0)
	g.AddArc(s0, fst.Arc{ILabel: 99, NextState: s0})
	d := newTestDecoder(t, DefaultConfig(), tm, g)
	if err := d.AdvanceDecoding(uniformScores(tm, 1, -1, -1), -1); err == nil {
		t.Error("expected error for out-of-range transition-id")
	}
}
