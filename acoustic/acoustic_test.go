package acoustic

import (
	"bytes"
	"math"
	"testing"
)

func TestAllPhonemes(t *testing.T) {
	phonemes := AllPhonemes()
	if len(phonemes) != 29 {
		t.Errorf("len(AllPhonemes) = %d, want 29", len(phonemes))
	}
	if _, err := ParsePhonemes([]string{"sil", "a", "i"}); err != nil {
		t.Errorf("ParsePhonemes: %v", err)
	}
	if _, err := ParsePhonemes([]string{"a", "a"}); err == nil {
		t.Error("expected error for duplicate phone")
	}
	if _, err := ParsePhonemes([]string{""}); err == nil {
		t.Error("expected error for empty phone")
	}
}

func TestGaussianLogProb(t *testing.T) {
	g := Gaussian{
		Mean:      []float64{0.0},
		Variance:  []float64{1.0},
		LogWeight: 0.0,
	}
	g.Precompute()

	// Standard normal at x=0: log(1/sqrt(2π)) ≈ -0.9189
	lp := g.LogProb([]float64{0.0})
	expected := -0.5 * math.Log(2*math.Pi)
	if math.Abs(lp-expected) > 1e-6 {
		t.Errorf("LogProb(0) = %f, want %f", lp, expected)
	}
	if lp5 := g.LogProb([]float64{5.0}); lp5 >= lp {
		t.Errorf("LogProb(5) = %f >= LogProb(0) = %f", lp5, lp)
	}
}

func TestGMMLogProb(t *testing.T) {
	gmm := NewGMMWithParams(
		[][]float64{{0.0}, {5.0}},
		[][]float64{{1.0}, {1.0}},
		[]float64{math.Log(0.5), math.Log(0.5)},
	)

	lp0 := gmm.LogProb([]float64{0.0})
	lp5 := gmm.LogProb([]float64{5.0})
	lp25 := gmm.LogProb([]float64{2.5})

	if math.IsNaN(lp0) || math.IsInf(lp0, 0) {
		t.Errorf("LogProb(0) = %f (not finite)", lp0)
	}
	// symmetric mixture
	if math.Abs(lp0-lp5) > 0.1 {
		t.Errorf("LogProb(0)=%f and LogProb(5)=%f should be similar", lp0, lp5)
	}
	if lp25 > lp0 {
		t.Errorf("LogProb(2.5)=%f > LogProb(0)=%f", lp25, lp0)
	}
}

func TestTransitionModelLayout(t *testing.T) {
	phones := []Phoneme{PhonSil, PhonA, PhonI}
	tm := NewTransitionModel(phones)

	if tm.NumPdfs() != 9 {
		t.Errorf("NumPdfs() = %d, want 9", tm.NumPdfs())
	}
	if tm.NumTransitionIDs() != 18 {
		t.Errorf("NumTransitionIDs() = %d, want 18", tm.NumTransitionIDs())
	}
	if tm.IsValid(0) || tm.IsValid(19) || !tm.IsValid(18) {
		t.Error("IsValid boundaries wrong")
	}

	seen := make(map[int]bool)
	for _, p := range phones {
		for s := 1; s <= NumEmittingStates; s++ {
			for _, self := range []bool{true, false} {
				tid, err := tm.TransitionID(p, s, self)
				if err != nil {
					t.Fatalf("TransitionID(%s,%d,%v): %v", p, s, self, err)
				}
				if seen[tid] {
					t.Errorf("duplicate transition-id %d", tid)
				}
				seen[tid] = true
				if got := tm.TransitionIDToPhone(tid); got != p {
					t.Errorf("tid %d phone = %s, want %s", tid, got, p)
				}
				if got := tm.TransitionIDToHMMState(tid); got != s {
					t.Errorf("tid %d state = %d, want %d", tid, got, s)
				}
				if got := tm.IsSelfLoop(tid); got != self {
					t.Errorf("tid %d self-loop = %v, want %v", tid, got, self)
				}
				if math.Abs(tm.TransitionLogProb(tid)-math.Log(0.5)) > 1e-12 {
					t.Errorf("tid %d log-prob = %f", tid, tm.TransitionLogProb(tid))
				}
			}
		}
	}

	if _, err := tm.TransitionID(PhonU, 1, true); err == nil {
		t.Error("expected error for unknown phone")
	}
	if _, err := tm.TransitionID(PhonA, 4, true); err == nil {
		t.Error("expected error for state out of range")
	}
}

func TestTransitionModelSaveLoad(t *testing.T) {
	tm := NewTransitionModel([]Phoneme{PhonSil, PhonA})
	if err := tm.SetSelfLoopProb(PhonA, 2, 0.75); err != nil {
		t.Fatalf("SetSelfLoopProb: %v", err)
	}
	if err := tm.SetSelfLoopProb(PhonA, 2, 1.0); err == nil {
		t.Error("expected error for probability 1")
	}

	var buf bytes.Buffer
	if err := tm.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadTransitionModel(&buf)
	if err != nil {
		t.Fatalf("LoadTransitionModel: %v", err)
	}
	self, _ := loaded.TransitionID(PhonA, 2, true)
	if math.Abs(loaded.TransitionLogProb(self)-math.Log(0.75)) > 1e-12 {
		t.Errorf("self-loop log-prob = %f, want %f", loaded.TransitionLogProb(self), math.Log(0.75))
	}
	if math.Abs(loaded.TransitionLogProb(self+1)-math.Log(0.25)) > 1e-12 {
		t.Errorf("forward log-prob = %f, want %f", loaded.TransitionLogProb(self+1), math.Log(0.25))
	}
}

func TestGMMModelScore(t *testing.T) {
	m := &GMMModel{
		Dim: 1,
		Pdfs: []*GMM{
			NewGMMWithParams([][]float64{{0}}, [][]float64{{1}}, []float64{0}),
			NewGMMWithParams([][]float64{{5}}, [][]float64{{1}}, []float64{0}),
		},
	}
	dst := make([]float64, 2)
	if err := m.Score([][]float64{{0.1}}, dst); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if dst[0] <= dst[1] {
		t.Errorf("pdf 0 should win near 0: %v", dst)
	}
	if err := m.Score([][]float64{{0.1}, {0.2}}, dst); err == nil {
		t.Error("expected error for wide window")
	}
	if err := m.Score([][]float64{{0.1, 0.2}}, dst); err == nil {
		t.Error("expected error for wrong dim")
	}
	if err := m.Score([][]float64{{0.1}}, make([]float64, 3)); err == nil {
		t.Error("expected error for wrong output size")
	}
}

func TestGMMModelSaveLoad(t *testing.T) {
	m := NewGMMModel(6, 13, 2)

	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	loaded, err := LoadGMMModel(&buf)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.FeatureDim() != 13 || loaded.NumPdfs() != 6 {
		t.Fatalf("loaded dims = (%d, %d), want (13, 6)", loaded.FeatureDim(), loaded.NumPdfs())
	}

	x := make([]float64, 13)
	for i := range x {
		x[i] = 0.1 * float64(i)
	}
	for i := range m.Pdfs {
		if math.Abs(m.Pdfs[i].LogProb(x)-loaded.Pdfs[i].LogProb(x)) > 1e-10 {
			t.Errorf("pdf %d log-prob differs after round-trip", i)
		}
	}
}
