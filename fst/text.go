package fst

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ReadText parses a graph in AT&T text format:
//
//	src dst ilabel olabel [weight]
//	state [final-weight]
//
// The source state of the first arc line is the start state.
func ReadText(r io.Reader) (*VectorFST, error) {
	f := NewVectorFST()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch len(fields) {
		case 1, 2:
			s, err := parseState(fields[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			cost := 0.0
			if len(fields) == 2 {
				if cost, err = parseWeight(fields[1]); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNum, err)
				}
			}
			f.ensureState(s)
			if f.start == NoState {
				f.start = s
			}
			f.SetFinal(s, cost)
		case 4, 5:
			src, err := parseState(fields[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			dst, err := parseState(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			ilabel, err := strconv.ParseInt(fields[2], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: ilabel: %w", lineNum, err)
			}
			olabel, err := strconv.ParseInt(fields[3], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: olabel: %w", lineNum, err)
			}
			w := 0.0
			if len(fields) == 5 {
				if w, err = parseWeight(fields[4]); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNum, err)
				}
			}
			f.ensureState(src)
			f.ensureState(dst)
			if f.start == NoState {
				f.start = src
			}
			f.AddArc(src, Arc{ILabel: Label(ilabel), OLabel: Label(olabel), Weight: w, NextState: dst})
		default:
			return nil, fmt.Errorf("line %d: expected 1, 2, 4 or 5 fields, got %d", lineNum, len(fields))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// ReadTextFile is a convenience wrapper that opens a file path.
func ReadTextFile(path string) (*VectorFST, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return ReadText(fh)
}

// WriteText writes f in AT&T text format, start state first.
func WriteText(w io.Writer, f *VectorFST) error {
	bw := bufio.NewWriter(w)
	order := make([]StateID, 0, f.NumStates())
	if f.start != NoState {
		order = append(order, f.start)
	}
	for s := 0; s < f.NumStates(); s++ {
		if StateID(s) != f.start {
			order = append(order, StateID(s))
		}
	}
	for _, s := range order {
		for _, a := range f.arcs[s] {
			if a.Weight == 0 {
				fmt.Fprintf(bw, "%d\t%d\t%d\t%d\n", s, a.NextState, a.ILabel, a.OLabel)
			} else {
				fmt.Fprintf(bw, "%d\t%d\t%d\t%d\t%g\n", s, a.NextState, a.ILabel, a.OLabel, a.Weight)
			}
		}
	}
	for _, s := range order {
		c := f.finals[s]
		switch {
		case math.IsInf(c, 1):
		case c == 0:
			fmt.Fprintf(bw, "%d\n", s)
		default:
			fmt.Fprintf(bw, "%d\t%g\n", s, c)
		}
	}
	return bw.Flush()
}

func parseState(s string) (StateID, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return NoState, fmt.Errorf("state %q: %w", s, err)
	}
	if v < 0 {
		return NoState, fmt.Errorf("state %q: negative", s)
	}
	return StateID(v), nil
}

func parseWeight(s string) (float64, error) {
	if s == "Infinity" || s == "inf" {
		return Infinity, nil
	}
	w, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("weight %q: %w", s, err)
	}
	return w, nil
}
