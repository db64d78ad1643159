// Package feature defines the streaming feature source consumed by the
// online decoder, plus a caller-fed in-memory implementation.
package feature

import (
	"errors"
	"fmt"

	"github.com/ieee0824/streamdecode/internal/mathutil"
)

// ErrInputFinished is returned by AcceptFrames after InputFinished.
var ErrInputFinished = errors.New("feature: input already finished")

// Pipeline is a streaming source of fixed-rate feature frames. Frames are
// indexed from zero across the whole stream; the set of ready frames only
// grows.
type Pipeline interface {
	Dim() int
	FrameShiftInSeconds() float64
	NumFramesReady() int
	// IsInputFinished reports whether the producer has signalled the end
	// of the stream. It stays true once set, even with no frames.
	IsInputFinished() bool
	// IsLastFrame reports whether frame is the final frame of the stream.
	// It can only become true once the producer has finished.
	IsLastFrame(frame int) bool
	// Frame copies frame into dst, which must have length Dim().
	Frame(frame int, dst []float64) error
}

// MatrixSource is a Pipeline fed by the caller, one chunk at a time.
// It is not safe for concurrent use.
type MatrixSource struct {
	dim        int
	frameShift float64
	frames     [][]float64
	finished   bool
}

// NewMatrixSource creates an empty source. frameShift is in seconds.
func NewMatrixSource(dim int, frameShift float64) (*MatrixSource, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("feature: dim must be positive, got %d", dim)
	}
	if frameShift <= 0 {
		return nil, fmt.Errorf("feature: frame shift must be positive, got %g", frameShift)
	}
	return &MatrixSource{dim: dim, frameShift: frameShift}, nil
}

// AcceptFrames appends a chunk of frames. The rows are copied.
func (s *MatrixSource) AcceptFrames(frames [][]float64) error {
	if s.finished {
		return ErrInputFinished
	}
	for i, f := range frames {
		if len(f) != s.dim {
			return fmt.Errorf("feature: frame %d has dim %d, want %d", len(s.frames)+i, len(f), s.dim)
		}
	}
	chunk := mathutil.NewMat(len(frames), s.dim)
	for i, f := range frames {
		copy(chunk[i], f)
	}
	s.frames = append(s.frames, chunk...)
	return nil
}

// InputFinished marks the end of the stream.
func (s *MatrixSource) InputFinished() { s.finished = true }

// Dim implements Pipeline.
func (s *MatrixSource) Dim() int { return s.dim }

// FrameShiftInSeconds implements Pipeline.
func (s *MatrixSource) FrameShiftInSeconds() float64 { return s.frameShift }

// NumFramesReady implements Pipeline.
func (s *MatrixSource) NumFramesReady() int { return len(s.frames) }

// IsInputFinished implements Pipeline.
func (s *MatrixSource) IsInputFinished() bool { return s.finished }

// IsLastFrame implements Pipeline.
func (s *MatrixSource) IsLastFrame(frame int) bool {
	return s.finished && frame == len(s.frames)-1
}

// Frame implements Pipeline.
func (s *MatrixSource) Frame(frame int, dst []float64) error {
	if frame < 0 || frame >= len(s.frames) {
		return fmt.Errorf("feature: frame %d not ready (%d available)", frame, len(s.frames))
	}
	if len(dst) != s.dim {
		return fmt.Errorf("feature: dst has length %d, want %d", len(dst), s.dim)
	}
	copy(dst, s.frames[frame])
	return nil
}
