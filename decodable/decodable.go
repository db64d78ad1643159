// Package decodable turns an acoustic model and a streaming feature source
// into per-frame transition-id scores for the search.
package decodable

import (
	"errors"
	"fmt"

	"github.com/ieee0824/streamdecode/acoustic"
	"github.com/ieee0824/streamdecode/feature"
	"github.com/ieee0824/streamdecode/internal/mathutil"
)

// ErrFrameNotReady is returned when a frame is requested before enough
// features have arrived to score it.
var ErrFrameNotReady = errors.New("decodable: frame not ready")

// Decodable supplies acoustic scores to the search. Frame indices are
// relative to the decodable's current frame offset. The slice returned by
// FrameLogLikelihoods is indexed by transition-id (index 0 unused) and is
// only valid until the next call.
type Decodable interface {
	NumFramesReady() int
	IsLastFrame(frame int) bool
	FrameLogLikelihoods(frame int) ([]float64, error)
}

// Info holds the read-only acoustic-model settings shared by all sessions.
type Info struct {
	Model                  acoustic.Model
	AcousticScale          float64
	FrameSubsamplingFactor int
}

// NewInfo validates and returns an Info.
func NewInfo(model acoustic.Model, acousticScale float64, frameSubsamplingFactor int) (*Info, error) {
	if model == nil {
		return nil, errors.New("decodable: nil acoustic model")
	}
	if acousticScale <= 0 {
		return nil, fmt.Errorf("decodable: acoustic scale must be positive, got %g", acousticScale)
	}
	if frameSubsamplingFactor < 1 {
		return nil, fmt.Errorf("decodable: frame subsampling factor must be >= 1, got %d", frameSubsamplingFactor)
	}
	return &Info{Model: model, AcousticScale: acousticScale, FrameSubsamplingFactor: frameSubsamplingFactor}, nil
}

// Online scores frames of a feature.Pipeline as they become available.
// Output frame t (after subsampling) is centred on input frame
// (t+offset)*FrameSubsamplingFactor.
type Online struct {
	tm    *acoustic.TransitionModel
	info  *Info
	feats feature.Pipeline

	offset int

	window    [][]float64
	pdfScores []float64

	cachedFrame int // absolute output frame held in scores, -1 if none
	scores      []float64
}

// New binds a scorer to a transition model, model info and feature source.
// The source is borrowed and must outlive the scorer.
func New(tm *acoustic.TransitionModel, info *Info, feats feature.Pipeline) (*Online, error) {
	if tm == nil || info == nil || feats == nil {
		return nil, errors.New("decodable: nil transition model, info or feature source")
	}
	m := info.Model
	if m.NumPdfs() != tm.NumPdfs() {
		return nil, fmt.Errorf("decodable: acoustic model has %d pdfs, transition model has %d", m.NumPdfs(), tm.NumPdfs())
	}
	if m.FeatureDim() != feats.Dim() {
		return nil, fmt.Errorf("decodable: acoustic model expects dim %d, features have %d", m.FeatureDim(), feats.Dim())
	}
	return &Online{
		tm:          tm,
		info:        info,
		feats:       feats,
		window:      mathutil.NewMat(m.LeftContext()+1+m.RightContext(), m.FeatureDim()),
		pdfScores:   make([]float64, m.NumPdfs()),
		cachedFrame: -1,
		scores:      make([]float64, tm.NumTransitionIDs()+1),
	}, nil
}

// SetFrameOffset makes frame 0 refer to absolute output frame offset.
func (d *Online) SetFrameOffset(offset int) {
	d.offset = offset
	d.cachedFrame = -1
}

// FrameOffset returns the current offset.
func (d *Online) FrameOffset() int { return d.offset }

func (d *Online) inputFinished() bool { return d.feats.IsInputFinished() }

// NumFramesReady returns how many output frames, counted from the offset,
// can be scored now. Until the input is finished a frame needs its full
// right context.
func (d *Online) NumFramesReady() int {
	n := d.feats.NumFramesReady()
	sf := d.info.FrameSubsamplingFactor
	var total int
	if d.inputFinished() {
		total = (n + sf - 1) / sf
	} else {
		last := n - 1 - d.info.Model.RightContext()
		if last < 0 {
			return 0
		}
		total = last/sf + 1
	}
	if total <= d.offset {
		return 0
	}
	return total - d.offset
}

// IsLastFrame reports whether frame is the final output frame.
func (d *Online) IsLastFrame(frame int) bool {
	if !d.inputFinished() {
		return false
	}
	return frame == d.NumFramesReady()-1
}

// FrameLogLikelihoods returns acoustically scaled log-likelihoods for frame,
// indexed by transition-id.
func (d *Online) FrameLogLikelihoods(frame int) ([]float64, error) {
	if frame < 0 || frame >= d.NumFramesReady() {
		return nil, fmt.Errorf("%w: frame %d (offset %d)", ErrFrameNotReady, frame, d.offset)
	}
	abs := frame + d.offset
	if abs == d.cachedFrame {
		return d.scores, nil
	}

	m := d.info.Model
	n := d.feats.NumFramesReady()
	centre := abs * d.info.FrameSubsamplingFactor
	for w := range d.window {
		src := centre - m.LeftContext() + w
		if src < 0 {
			src = 0
		} else if src >= n {
			src = n - 1
		}
		if err := d.feats.Frame(src, d.window[w]); err != nil {
			return nil, fmt.Errorf("decodable: frame %d: %w", abs, err)
		}
	}
	if err := m.Score(d.window, d.pdfScores); err != nil {
		return nil, fmt.Errorf("decodable: score frame %d: %w", abs, err)
	}

	scale := d.info.AcousticScale
	for tid := 1; tid < len(d.scores); tid++ {
		d.scores[tid] = scale * d.pdfScores[d.tm.TransitionIDToPdf(tid)]
	}
	d.cachedFrame = abs
	return d.scores, nil
}
