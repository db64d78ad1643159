package acoustic

import "fmt"

// Phoneme names a phone of the acoustic model.
type Phoneme string

// The Japanese phone inventory used by the bundled models.
const (
	PhonSil Phoneme = "sil" // silence
	PhonSP  Phoneme = "sp"  // short pause

	PhonA Phoneme = "a"
	PhonI Phoneme = "i"
	PhonU Phoneme = "u"
	PhonE Phoneme = "e"
	PhonO Phoneme = "o"

	PhonK Phoneme = "k"
	PhonG Phoneme = "g"
	PhonT Phoneme = "t"
	PhonD Phoneme = "d"
	PhonP Phoneme = "p"
	PhonB Phoneme = "b"

	PhonS Phoneme = "s"
	PhonZ Phoneme = "z"
	PhonH Phoneme = "h"
	PhonF Phoneme = "f" // [ɸ] as in ふ

	PhonCh Phoneme = "ch" // [tɕ] as in ち
	PhonTs Phoneme = "ts" // [ts] as in つ
	PhonJ  Phoneme = "j"  // [dʑ] as in じ

	PhonM  Phoneme = "m"
	PhonN  Phoneme = "n"
	PhonNg Phoneme = "ng" // moraic nasal ん

	PhonR Phoneme = "r"
	PhonY Phoneme = "y"
	PhonW Phoneme = "w"

	PhonSh Phoneme = "sh" // [ɕ] as in し

	PhonQ    Phoneme = "q"    // geminate っ
	PhonLong Phoneme = "long" // long vowel ー
)

// NumEmittingStates is the number of emitting states per phone HMM.
const NumEmittingStates = 3

// AllPhonemes returns the complete Japanese phone set in pdf order.
func AllPhonemes() []Phoneme {
	return []Phoneme{
		PhonSil, PhonSP,
		PhonA, PhonI, PhonU, PhonE, PhonO,
		PhonK, PhonG, PhonT, PhonD, PhonP, PhonB,
		PhonS, PhonZ, PhonH, PhonF,
		PhonCh, PhonTs, PhonJ,
		PhonM, PhonN, PhonNg,
		PhonR,
		PhonY, PhonW,
		PhonSh,
		PhonQ, PhonLong,
	}
}

// ParsePhonemes converts phone names, rejecting empty names and duplicates.
func ParsePhonemes(names []string) ([]Phoneme, error) {
	seen := make(map[Phoneme]bool, len(names))
	out := make([]Phoneme, 0, len(names))
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("acoustic: empty phone name")
		}
		p := Phoneme(n)
		if seen[p] {
			return nil, fmt.Errorf("acoustic: duplicate phone %q", n)
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}
