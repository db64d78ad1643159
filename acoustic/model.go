package acoustic

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// Model produces per-pdf log-likelihoods for one frame given a window of
// feature frames around it. The window holds LeftContext() frames, the
// centre frame, then RightContext() frames. Implementations are read-only
// after loading and may be shared by many decoding sessions.
type Model interface {
	NumPdfs() int
	FeatureDim() int
	LeftContext() int
	RightContext() int
	Score(window [][]float64, dst []float64) error
}

// GMMModel scores frames with one GMM per pdf.
type GMMModel struct {
	Pdfs []*GMM
	Dim  int
}

// NewGMMModel creates a model with numPdfs randomly initialised mixtures.
func NewGMMModel(numPdfs, featureDim, numMix int) *GMMModel {
	m := &GMMModel{Pdfs: make([]*GMM, numPdfs), Dim: featureDim}
	for i := range m.Pdfs {
		m.Pdfs[i] = NewGMM(numMix, featureDim)
	}
	return m
}

// NumPdfs implements Model.
func (m *GMMModel) NumPdfs() int { return len(m.Pdfs) }

// FeatureDim implements Model.
func (m *GMMModel) FeatureDim() int { return m.Dim }

// LeftContext implements Model. GMMs look at the centre frame only.
func (m *GMMModel) LeftContext() int { return 0 }

// RightContext implements Model.
func (m *GMMModel) RightContext() int { return 0 }

// Score implements Model.
func (m *GMMModel) Score(window [][]float64, dst []float64) error {
	if len(window) != 1 {
		return fmt.Errorf("acoustic: gmm window has %d frames, want 1", len(window))
	}
	if len(window[0]) != m.Dim {
		return fmt.Errorf("acoustic: feature dim %d, want %d", len(window[0]), m.Dim)
	}
	if len(dst) != len(m.Pdfs) {
		return fmt.Errorf("acoustic: output size %d, want %d", len(dst), len(m.Pdfs))
	}
	for i, g := range m.Pdfs {
		dst[i] = g.LogProb(window[0])
	}
	return nil
}

type serializedGMMModel struct {
	Dim  int
	Pdfs []serializedGMM
}

type serializedGMM struct {
	Components []serializedGaussian
}

type serializedGaussian struct {
	Mean      []float64
	Variance  []float64
	LogWeight float64
}

// Save serializes the model using gob encoding.
func (m *GMMModel) Save(w io.Writer) error {
	sm := serializedGMMModel{Dim: m.Dim, Pdfs: make([]serializedGMM, len(m.Pdfs))}
	for i, g := range m.Pdfs {
		for _, c := range g.Components {
			sm.Pdfs[i].Components = append(sm.Pdfs[i].Components, serializedGaussian{
				Mean:      c.Mean,
				Variance:  c.Variance,
				LogWeight: c.LogWeight,
			})
		}
	}
	return gob.NewEncoder(w).Encode(sm)
}

// LoadGMMModel deserializes a model written by GMMModel.Save.
func LoadGMMModel(r io.Reader) (*GMMModel, error) {
	var sm serializedGMMModel
	if err := gob.NewDecoder(r).Decode(&sm); err != nil {
		return nil, fmt.Errorf("decode gmm model: %w", err)
	}
	m := &GMMModel{Dim: sm.Dim, Pdfs: make([]*GMM, len(sm.Pdfs))}
	for i, sg := range sm.Pdfs {
		if len(sg.Components) == 0 {
			return nil, fmt.Errorf("acoustic: pdf %d has no components", i)
		}
		g := &GMM{Dim: sm.Dim}
		for _, sc := range sg.Components {
			if len(sc.Mean) != sm.Dim || len(sc.Variance) != sm.Dim {
				return nil, fmt.Errorf("acoustic: pdf %d component dim mismatch", i)
			}
			g.Components = append(g.Components, Gaussian{
				Mean:      sc.Mean,
				Variance:  sc.Variance,
				LogWeight: sc.LogWeight,
			})
		}
		g.PrecomputeSoA()
		m.Pdfs[i] = g
	}
	return m, nil
}

// LoadModelFile opens path and loads a "gmm" or "dnn" model.
func LoadModelFile(path, kind string) (Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch kind {
	case "gmm", "":
		m, err := LoadGMMModel(f)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "dnn":
		d, err := LoadDNN(f)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("acoustic: unknown model type %q", kind)
	}
}
