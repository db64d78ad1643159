package acoustic

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
)

// TransitionModel enumerates the HMM transitions of every phone. Each phone
// has NumEmittingStates left-to-right emitting states; each state has a
// self-loop and a forward transition. Transition-ids start at 1 so that 0
// stays free for epsilon in the decoding graph.
//
// Layout: pdf = phoneIndex*NumEmittingStates + (state-1), and
// transition-id = 1 + 2*pdf + (0 for the self-loop, 1 for forward).
//
// A TransitionModel is immutable after construction and safe to share.
type TransitionModel struct {
	phones     []Phoneme
	phoneIndex map[Phoneme]int
	logProbs   []float64 // [transition-id]; index 0 unused
}

// NewTransitionModel creates a model over phones with equal self-loop and
// forward probabilities.
func NewTransitionModel(phones []Phoneme) *TransitionModel {
	tm := &TransitionModel{
		phones:     append([]Phoneme(nil), phones...),
		phoneIndex: make(map[Phoneme]int, len(phones)),
	}
	for i, p := range phones {
		tm.phoneIndex[p] = i
	}
	tm.logProbs = make([]float64, 1+2*len(phones)*NumEmittingStates)
	logHalf := math.Log(0.5)
	for tid := 1; tid < len(tm.logProbs); tid++ {
		tm.logProbs[tid] = logHalf
	}
	return tm
}

// Phones returns the phone inventory in index order.
func (tm *TransitionModel) Phones() []Phoneme { return tm.phones }

// PhoneIndex returns the index of p.
func (tm *TransitionModel) PhoneIndex(p Phoneme) (int, bool) {
	i, ok := tm.phoneIndex[p]
	return i, ok
}

// NumPdfs returns the number of distinct emission densities.
func (tm *TransitionModel) NumPdfs() int { return len(tm.phones) * NumEmittingStates }

// NumTransitionIDs returns the largest valid transition-id.
func (tm *TransitionModel) NumTransitionIDs() int { return len(tm.logProbs) - 1 }

// IsValid reports whether tid is a transition-id of this model.
func (tm *TransitionModel) IsValid(tid int) bool { return tid >= 1 && tid < len(tm.logProbs) }

// TransitionIDToPdf maps a transition-id to its pdf-id.
func (tm *TransitionModel) TransitionIDToPdf(tid int) int { return (tid - 1) / 2 }

// TransitionIDToPhone maps a transition-id to its phone.
func (tm *TransitionModel) TransitionIDToPhone(tid int) Phoneme {
	return tm.phones[tm.TransitionIDToPdf(tid)/NumEmittingStates]
}

// TransitionIDToHMMState returns the 1-based emitting state of tid.
func (tm *TransitionModel) TransitionIDToHMMState(tid int) int {
	return tm.TransitionIDToPdf(tid)%NumEmittingStates + 1
}

// IsSelfLoop reports whether tid is a self-loop transition.
func (tm *TransitionModel) IsSelfLoop(tid int) bool { return (tid-1)%2 == 0 }

// TransitionID returns the transition-id for (phone, state, selfLoop).
func (tm *TransitionModel) TransitionID(p Phoneme, state int, selfLoop bool) (int, error) {
	idx, ok := tm.phoneIndex[p]
	if !ok {
		return 0, fmt.Errorf("acoustic: unknown phone %q", p)
	}
	if state < 1 || state > NumEmittingStates {
		return 0, fmt.Errorf("acoustic: state %d out of range [1,%d]", state, NumEmittingStates)
	}
	pdf := idx*NumEmittingStates + state - 1
	tid := 1 + 2*pdf
	if !selfLoop {
		tid++
	}
	return tid, nil
}

// TransitionLogProb returns the log probability of taking tid.
func (tm *TransitionModel) TransitionLogProb(tid int) float64 { return tm.logProbs[tid] }

// SetSelfLoopProb sets the self-loop probability of (phone, state); the
// forward transition receives the complement.
func (tm *TransitionModel) SetSelfLoopProb(p Phoneme, state int, prob float64) error {
	if prob <= 0 || prob >= 1 {
		return fmt.Errorf("acoustic: self-loop probability %f out of range (0,1)", prob)
	}
	self, err := tm.TransitionID(p, state, true)
	if err != nil {
		return err
	}
	tm.logProbs[self] = math.Log(prob)
	tm.logProbs[self+1] = math.Log(1 - prob)
	return nil
}

type serializedTransitionModel struct {
	Phones   []string
	LogProbs []float64
}

// Save serializes the model using gob encoding.
func (tm *TransitionModel) Save(w io.Writer) error {
	st := serializedTransitionModel{LogProbs: tm.logProbs}
	for _, p := range tm.phones {
		st.Phones = append(st.Phones, string(p))
	}
	return gob.NewEncoder(w).Encode(st)
}

// LoadTransitionModel deserializes a model written by Save.
func LoadTransitionModel(r io.Reader) (*TransitionModel, error) {
	var st serializedTransitionModel
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode transition model: %w", err)
	}
	phones, err := ParsePhonemes(st.Phones)
	if err != nil {
		return nil, err
	}
	tm := NewTransitionModel(phones)
	if len(st.LogProbs) != len(tm.logProbs) {
		return nil, fmt.Errorf("acoustic: transition model has %d log-probs, want %d", len(st.LogProbs), len(tm.logProbs))
	}
	copy(tm.logProbs, st.LogProbs)
	return tm, nil
}

// LoadTransitionModelFile is a convenience wrapper that opens a file path.
func LoadTransitionModelFile(path string) (*TransitionModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTransitionModel(f)
}
