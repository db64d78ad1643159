// Package online drives the decoding of a single utterance from a
// streaming feature source. A Decoder owns the acoustic scorer and the
// lattice search, borrows the feature source, and exposes incremental
// advance, lattice, best-path and endpoint queries.
//
// A Decoder is used by one goroutine at a time. The transition model,
// acoustic model info and graph it is built from are read-only and may be
// shared by any number of sessions.
package online

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ieee0824/streamdecode/acoustic"
	"github.com/ieee0824/streamdecode/decodable"
	"github.com/ieee0824/streamdecode/decoder"
	"github.com/ieee0824/streamdecode/endpoint"
	"github.com/ieee0824/streamdecode/feature"
	"github.com/ieee0824/streamdecode/fst"
	"github.com/ieee0824/streamdecode/internal/observe"
	"github.com/ieee0824/streamdecode/lattice"
)

var (
	// ErrContractViolation is wrapped by every error caused by calling an
	// operation when it is not allowed. Such errors are programming
	// errors and are never worth retrying.
	ErrContractViolation = errors.New("online: contract violation")

	// ErrFramesOutOfRange: the lattice was requested for a frame count
	// outside [NumFramesInLattice, NumFramesDecoded].
	ErrFramesOutOfRange = fmt.Errorf("%w: frame count out of range", ErrContractViolation)
	// ErrFinalProbs: final probabilities were requested for a partial
	// lattice, or omitted after finalization.
	ErrFinalProbs = fmt.Errorf("%w: invalid use of final probabilities", ErrContractViolation)
	// ErrFinalized: the session was finalized and cannot decode or restart.
	ErrFinalized = fmt.Errorf("%w: session finalized", ErrContractViolation)
	// ErrTerminated: AdvanceDecoding after TerminateDecoding.
	ErrTerminated = fmt.Errorf("%w: decoding terminated", ErrContractViolation)
	// ErrNotTerminated: FinalizeDecoding while more input may arrive.
	ErrNotTerminated = fmt.Errorf("%w: decoding not terminated", ErrContractViolation)
	// ErrFailed: decoding after a failed AdvanceDecoding without calling
	// InitDecoding first.
	ErrFailed = fmt.Errorf("%w: advance failed, InitDecoding required", ErrContractViolation)
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithMetrics sets the metric instruments. The default is
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Decoder) { d.metrics = m }
}

// Decoder is one utterance-decoding session.
type Decoder struct {
	id      string
	logger  *slog.Logger
	metrics *observe.Metrics

	tm         *acoustic.TransitionModel
	feats      feature.Pipeline // borrowed
	frameShift float64          // seconds per decoded frame

	decodable *decodable.Online
	search    *decoder.Decoder
	state     State

	endpointRule string
	released     bool // active session gauge decremented
}

// New creates a session over feats, which must outlive it, and calls
// InitDecoding(0).
func New(cfg decoder.Config, tm *acoustic.TransitionModel, info *decodable.Info, graph fst.Graph, feats feature.Pipeline, opts ...Option) (*Decoder, error) {
	dec, err := decodable.New(tm, info, feats)
	if err != nil {
		return nil, fmt.Errorf("online: %w", err)
	}
	search, err := decoder.New(cfg, tm, graph)
	if err != nil {
		return nil, fmt.Errorf("online: %w", err)
	}

	d := &Decoder{
		id:         uuid.NewString(),
		tm:         tm,
		feats:      feats,
		frameShift: feats.FrameShiftInSeconds() * float64(info.FrameSubsamplingFactor),
		decodable:  dec,
		search:     search,
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.logger = d.logger.With("component", "online", "session", d.id)

	if err := d.InitDecoding(0); err != nil {
		return nil, err
	}
	d.metrics.SessionStarted(context.Background())
	return d, nil
}

// InitDecoding resets the search and makes frame 0 of the session refer
// to output frame frameOffset of the feature source, so that decoding can
// restart after an endpoint without replacing the source.
func (d *Decoder) InitDecoding(frameOffset int) error {
	if d.state == StateFinalized {
		return ErrFinalized
	}
	if frameOffset < 0 {
		return fmt.Errorf("%w: negative frame offset %d", ErrContractViolation, frameOffset)
	}
	d.decodable.SetFrameOffset(frameOffset)
	d.search.InitDecoding()
	d.state = StateInitialized
	d.endpointRule = ""
	d.logger.Debug("decoding initialized", "frame_offset", frameOffset)
	return nil
}

// AdvanceDecoding decodes every frame that is ready and returns; it never
// waits for input. With nothing ready it changes nothing. Failures from
// the feature source or acoustic model are returned wrapped and leave the
// session needing InitDecoding.
func (d *Decoder) AdvanceDecoding() error {
	switch d.state {
	case StateFinalized:
		return ErrFinalized
	case StateTerminated:
		return ErrTerminated
	case StateFailed:
		return ErrFailed
	}
	ctx := context.Background()
	start := time.Now()
	before, beforeLat := d.search.NumFramesDecoded(), d.search.NumFramesInLattice()

	err := d.search.AdvanceDecoding(d.decodable, -1)
	n := d.search.NumFramesDecoded() - before
	d.metrics.RecordAdvance(ctx, n, time.Since(start))
	d.metrics.RecordLatticeFrames(ctx, d.search.NumFramesInLattice()-beforeLat)
	if err != nil {
		d.state = StateFailed
		d.logger.Error("advance failed", "frame", d.search.NumFramesDecoded(), "err", err)
		return fmt.Errorf("online: advance decoding: %w", err)
	}
	d.state = StateDecoding
	if n > 0 {
		d.logger.Debug("advanced",
			"frames", n,
			"decoded", d.search.NumFramesDecoded(),
			"in_lattice", d.search.NumFramesInLattice(),
		)
	}
	return nil
}

// TerminateDecoding declares that this session will decode no more input,
// for instance after an endpoint, so FinalizeDecoding may be called while
// the feature source is still open.
func (d *Decoder) TerminateDecoding() {
	if d.state == StateFinalized || d.state == StateTerminated || d.state == StateFailed {
		return
	}
	d.state = StateTerminated
	d.logger.Debug("decoding terminated", "decoded", d.search.NumFramesDecoded())
}

// inputExhausted reports whether the source has ended and every frame of
// it has been decoded.
func (d *Decoder) inputExhausted() bool {
	return d.feats.IsInputFinished() && d.decodable.NumFramesReady() == d.search.NumFramesDecoded()
}

// FinalizeDecoding prunes the search with final weights so the final
// GetLattice is cheap. It requires TerminateDecoding, or a finished source
// whose frames have all been decoded. The session is terminal afterwards.
func (d *Decoder) FinalizeDecoding() error {
	switch d.state {
	case StateFinalized:
		return ErrFinalized
	case StateFailed:
		return ErrFailed
	}
	if d.state != StateTerminated && !d.inputExhausted() {
		return ErrNotTerminated
	}
	if err := d.search.FinalizeDecoding(); err != nil {
		return fmt.Errorf("online: finalize: %w", err)
	}
	d.state = StateFinalized
	if d.released {
		d.metrics.Finalized.Add(context.Background(), 1)
	} else {
		d.released = true
		d.metrics.SessionFinalized(context.Background())
	}
	d.logger.Info("decoding finalized",
		"decoded", d.search.NumFramesDecoded(),
		"frame_offset", d.decodable.FrameOffset(),
		"final_relative_cost", d.search.FinalRelativeCost(),
	)
	return nil
}

// Close releases a session that will not be finalized, for instance one
// abandoned after an error or one that never received a frame. It is a
// no-op after FinalizeDecoding or a previous Close.
func (d *Decoder) Close() {
	if d.released {
		return
	}
	d.released = true
	d.metrics.SessionClosed(context.Background())
	d.logger.Debug("session closed", "state", d.state.String())
}

// NumFramesDecoded returns the number of frames decoded since InitDecoding.
func (d *Decoder) NumFramesDecoded() int { return d.search.NumFramesDecoded() }

// NumFramesInLattice returns the lattice boundary. It never exceeds
// NumFramesDecoded.
func (d *Decoder) NumFramesInLattice() int { return d.search.NumFramesInLattice() }

// FrameOffset returns the offset set by the last InitDecoding.
func (d *Decoder) FrameOffset() int { return d.decodable.FrameOffset() }

// FrameShift returns the duration of one decoded frame in seconds.
func (d *Decoder) FrameShift() float64 { return d.frameShift }

// State returns the lifecycle state.
func (d *Decoder) State() State { return d.state }

// ID returns the session id used in logs.
func (d *Decoder) ID() string { return d.id }

// Decoder returns the underlying search.
func (d *Decoder) Decoder() *decoder.Decoder { return d.search }

// GetLattice returns the lattice over the first n decoded frames. n must be
// in [NumFramesInLattice, NumFramesDecoded]; useFinalProbs needs n ==
// NumFramesDecoded and is required once finalized. Only frames past the
// previous boundary are processed, and the boundary moves to n. Acoustic
// costs carry the acoustic scale.
func (d *Decoder) GetLattice(n int, useFinalProbs bool) (*lattice.Lattice, error) {
	decoded, inLat := d.search.NumFramesDecoded(), d.search.NumFramesInLattice()
	if n < inLat || n > decoded {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrFramesOutOfRange, n, inLat, decoded)
	}
	if useFinalProbs && n != decoded {
		return nil, fmt.Errorf("%w: %d of %d frames requested", ErrFinalProbs, n, decoded)
	}
	if d.state == StateFinalized && !useFinalProbs {
		return nil, fmt.Errorf("%w: required after finalization", ErrFinalProbs)
	}
	lat, err := d.search.GetLattice(n, useFinalProbs)
	if err != nil {
		return nil, fmt.Errorf("online: get lattice: %w", err)
	}
	d.metrics.RecordLatticeFrames(context.Background(), n-inLat)
	return lat, nil
}

// GetBestPath returns the best path through the current search state as
// a linear lattice. With endOfUtterance the graph's final weights are
// applied if any state on the last frame is final; otherwise all states
// there count as final with cost zero.
func (d *Decoder) GetBestPath(endOfUtterance bool) (*lattice.Lattice, error) {
	path, err := d.search.BestPath(endOfUtterance)
	if err != nil {
		return nil, fmt.Errorf("online: best path: %w", err)
	}
	return path, nil
}

// EndpointDetected reports whether cfg's rules consider the utterance
// complete. With cfg.EndOnNoPath it also reports an endpoint once no
// hypothesis survives. It is advisory and changes no decoding state.
func (d *Decoder) EndpointDetected(cfg endpoint.Config) bool {
	trailing, err := endpoint.TrailingSilenceFrames(d.tm, cfg, d.search)
	ok, rule := endpoint.Detected(cfg, d.search.NumFramesDecoded(), trailing, d.frameShift, d.search.FinalRelativeCost())
	if !ok && cfg.EndOnNoPath && errors.Is(err, decoder.ErrNoPath) {
		ok, rule = true, endpoint.RuleNoPath
	}
	if !ok {
		return false
	}
	if d.endpointRule == "" {
		d.endpointRule = rule
		d.metrics.RecordEndpoint(context.Background(), rule)
		d.logger.Info("endpoint detected",
			"rule", rule,
			"decoded", d.search.NumFramesDecoded(),
			"trailing_silence_frames", trailing,
		)
	}
	return true
}

// EndpointRule returns the rule that first fired since InitDecoding, or "".
func (d *Decoder) EndpointRule() string { return d.endpointRule }
