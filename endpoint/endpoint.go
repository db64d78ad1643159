// Package endpoint decides when an utterance is complete from the length
// of trailing silence on the best path, the total utterance length and how
// close the search is to a final state.
package endpoint

import (
	"errors"
	"fmt"
	"math"

	"github.com/ieee0824/streamdecode/acoustic"
	"github.com/ieee0824/streamdecode/fst"
	"github.com/ieee0824/streamdecode/lattice"
)

// Rule is one endpointing condition. Durations are in seconds. A rule with
// a negative MinTrailingSilence is disabled.
type Rule struct {
	MustContainNonSilence bool    `yaml:"must_contain_nonsilence"`
	MinTrailingSilence    float64 `yaml:"min_trailing_silence"`
	MaxRelativeCost       float64 `yaml:"max_relative_cost"`
	MinUtteranceLength    float64 `yaml:"min_utterance_length"`
}

// Disabled returns a rule that never fires.
func Disabled() Rule {
	return Rule{MinTrailingSilence: -1, MaxRelativeCost: math.Inf(1)}
}

func (r Rule) activated(uttLen, trailing, relativeCost float64) bool {
	if r.MinTrailingSilence < 0 {
		return false
	}
	containsNonSilence := uttLen > trailing
	return (containsNonSilence || !r.MustContainNonSilence) &&
		trailing >= r.MinTrailingSilence &&
		relativeCost <= r.MaxRelativeCost &&
		uttLen >= r.MinUtteranceLength
}

// RuleNoPath names the endpoint reached because the search has no
// surviving hypothesis.
const RuleNoPath = "no_path"

// Config holds the silence phones and the five rules; any firing rule
// ends the utterance. EndOnNoPath additionally ends it when no hypothesis
// survives the search, which none of the rules can observe.
type Config struct {
	SilencePhones []acoustic.Phoneme
	Rule1         Rule
	Rule2         Rule
	Rule3         Rule
	Rule4         Rule
	Rule5         Rule
	EndOnNoPath   bool
}

// DefaultConfig returns the standard rules:
//
//	rule1: 5 s of silence, even if nothing was decoded
//	rule2: 0.5 s of silence after speech when a final state is reached with relative cost <= 2
//	rule3: 1 s of silence after speech when the relative cost is <= 8
//	rule4: 2 s of silence after speech
//	rule5: utterance length of 20 s
func DefaultConfig() Config {
	inf := math.Inf(1)
	return Config{
		SilencePhones: []acoustic.Phoneme{acoustic.PhonSil, acoustic.PhonSP},
		Rule1:         Rule{MustContainNonSilence: false, MinTrailingSilence: 5.0, MaxRelativeCost: inf},
		Rule2:         Rule{MustContainNonSilence: true, MinTrailingSilence: 0.5, MaxRelativeCost: 2.0},
		Rule3:         Rule{MustContainNonSilence: true, MinTrailingSilence: 1.0, MaxRelativeCost: 8.0},
		Rule4:         Rule{MustContainNonSilence: true, MinTrailingSilence: 2.0, MaxRelativeCost: inf},
		Rule5:         Rule{MustContainNonSilence: false, MinTrailingSilence: 0.0, MaxRelativeCost: inf, MinUtteranceLength: 20.0},
	}
}

// Rules returns the rules in evaluation order.
func (c Config) Rules() [5]Rule {
	return [5]Rule{c.Rule1, c.Rule2, c.Rule3, c.Rule4, c.Rule5}
}

// Validate reports every invalid rule.
func (c Config) Validate() error {
	var errs []error
	for i, r := range c.Rules() {
		if math.IsNaN(r.MinTrailingSilence) || math.IsNaN(r.MaxRelativeCost) || math.IsNaN(r.MinUtteranceLength) {
			errs = append(errs, fmt.Errorf("rule%d: NaN threshold", i+1))
		}
		if r.MinUtteranceLength < 0 {
			errs = append(errs, fmt.Errorf("rule%d: min_utterance_length must not be negative", i+1))
		}
	}
	if len(c.SilencePhones) == 0 {
		errs = append(errs, errors.New("silence_phones must not be empty"))
	}
	return errors.Join(errs...)
}

// IsSilence reports whether p is one of the silence phones.
func (c Config) IsSilence(p acoustic.Phoneme) bool {
	for _, s := range c.SilencePhones {
		if s == p {
			return true
		}
	}
	return false
}

// Detected evaluates the rules. frameShift is the duration of one decoded
// frame in seconds. It returns the name of the first rule that fired.
func Detected(cfg Config, numFramesDecoded, trailingSilenceFrames int, frameShift, finalRelativeCost float64) (bool, string) {
	uttLen := float64(numFramesDecoded) * frameShift
	trailing := float64(trailingSilenceFrames) * frameShift
	for i, r := range cfg.Rules() {
		if r.activated(uttLen, trailing, finalRelativeCost) {
			return true, fmt.Sprintf("rule%d", i+1)
		}
	}
	return false, ""
}

// Tracer walks the current best path backwards, last arc first, until fn
// returns false.
type Tracer interface {
	TraceBackBestPath(useFinalProbs bool, fn func(arc lattice.Arc) bool) error
}

// TrailingSilenceFrames counts the frames at the end of the best path
// whose transition-ids belong to a silence phone. A failed trace counts
// zero frames and its error is returned.
func TrailingSilenceFrames(tm *acoustic.TransitionModel, cfg Config, tr Tracer) (int, error) {
	n := 0
	err := tr.TraceBackBestPath(false, func(arc lattice.Arc) bool {
		if arc.ILabel == fst.Epsilon {
			return true
		}
		if !cfg.IsSilence(tm.TransitionIDToPhone(int(arc.ILabel))) {
			return false
		}
		n++
		return true
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
