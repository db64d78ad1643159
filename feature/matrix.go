package feature

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ieee0824/streamdecode/internal/mathutil"
)

// ReadMatrix parses a Kaldi text matrix:
//
//	utt-id  [
//	  0.1 0.2 0.3
//	  0.4 0.5 0.6 ]
//
// The leading key is optional. Rows must all have the same width.
func ReadMatrix(r io.Reader) ([][]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var rows [][]float64
	opened, closed := false, false
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if closed {
			return nil, fmt.Errorf("feature: line %d: data after closing bracket", lineNo)
		}
		if !opened {
			i := 0
			for i < len(fields) && fields[i] != "[" {
				i++
			}
			if i == len(fields) {
				return nil, fmt.Errorf("feature: line %d: expected '['", lineNo)
			}
			opened = true
			fields = fields[i+1:]
		}
		if n := len(fields); n > 0 && fields[n-1] == "]" {
			closed = true
			fields = fields[:n-1]
		}
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("feature: line %d: %w", lineNo, err)
			}
			row[j] = v
		}
		if len(rows) > 0 && len(row) != len(rows[0]) {
			return nil, fmt.Errorf("feature: line %d: row has %d columns, want %d", lineNo, len(row), len(rows[0]))
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("feature: read matrix: %w", err)
	}
	if !opened || !closed {
		return nil, fmt.Errorf("feature: unterminated matrix")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	m := mathutil.NewMat(len(rows), len(rows[0]))
	for i, row := range rows {
		copy(m[i], row)
	}
	return m, nil
}

// ReadMatrixFile reads a Kaldi text matrix from path.
func ReadMatrixFile(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feature: %w", err)
	}
	defer f.Close()
	return ReadMatrix(f)
}
