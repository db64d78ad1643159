package decoder

import (
	"errors"
	"fmt"
	"math"
)

// Config holds search and lattice parameters.
type Config struct {
	Beam          float64 // search beam
	MaxActive     int     // maximum tokens kept per frame
	MinActive     int     // minimum tokens kept per frame
	LatticeBeam   float64 // lattice pruning beam
	PruneInterval int     // frames between lattice-beam prunings
	BeamDelta     float64 // added to the beam when MaxActive/MinActive set the cutoff
	PruneScale    float64 // fraction of LatticeBeam used as convergence delta while pruning

	// The lattice boundary is moved forward once DeterminizeMaxDelay +
	// DeterminizeMinChunkSize frames are decoded past it, leaving
	// DeterminizeMaxDelay frames open.
	DeterminizeMaxDelay     int
	DeterminizeMinChunkSize int
}

// DefaultConfig returns reasonable default parameters.
func DefaultConfig() Config {
	return Config{
		Beam:                    16.0,
		MaxActive:               math.MaxInt32,
		MinActive:               200,
		LatticeBeam:             10.0,
		PruneInterval:           25,
		BeamDelta:               0.5,
		PruneScale:              0.1,
		DeterminizeMaxDelay:     60,
		DeterminizeMinChunkSize: 20,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if !(c.Beam > 0) {
		errs = append(errs, fmt.Errorf("beam must be positive, got %g", c.Beam))
	}
	if c.MaxActive <= 1 {
		errs = append(errs, fmt.Errorf("max_active must be > 1, got %d", c.MaxActive))
	}
	if c.MinActive < 0 || c.MinActive > c.MaxActive {
		errs = append(errs, fmt.Errorf("min_active must be in [0, max_active], got %d", c.MinActive))
	}
	if !(c.LatticeBeam > 0) {
		errs = append(errs, fmt.Errorf("lattice_beam must be positive, got %g", c.LatticeBeam))
	}
	if c.PruneInterval <= 0 {
		errs = append(errs, fmt.Errorf("prune_interval must be positive, got %d", c.PruneInterval))
	}
	if c.BeamDelta < 0 {
		errs = append(errs, fmt.Errorf("beam_delta must not be negative, got %g", c.BeamDelta))
	}
	if c.PruneScale <= 0 || c.PruneScale >= 1 {
		errs = append(errs, fmt.Errorf("prune_scale must be in (0, 1), got %g", c.PruneScale))
	}
	if c.DeterminizeMaxDelay < 0 {
		errs = append(errs, fmt.Errorf("determinize_max_delay must not be negative, got %d", c.DeterminizeMaxDelay))
	}
	if c.DeterminizeMinChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("determinize_min_chunk_size must be positive, got %d", c.DeterminizeMinChunkSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("decoder: invalid config: %w", err)
	}
	return nil
}
