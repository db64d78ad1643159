package fst

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SymbolTable maps output labels to words.
type SymbolTable struct {
	byID   map[Label]string
	byName map[string]Label
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byID:   make(map[Label]string),
		byName: make(map[string]Label),
	}
}

// Add registers a symbol.
func (t *SymbolTable) Add(sym string, id Label) {
	t.byID[id] = sym
	t.byName[sym] = id
}

// ReadSymbols reads a words.txt style table ("symbol id" per line).
func ReadSymbols(r io.Reader) (*SymbolTable, error) {
	t := NewSymbolTable()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields, got %d", lineNum, len(parts))
		}
		id, err := strconv.ParseInt(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		t.Add(parts[0], Label(id))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// ReadSymbolsFile is a convenience wrapper that opens a file path.
func ReadSymbolsFile(path string) (*SymbolTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSymbols(f)
}

// Symbol returns the word for id.
func (t *SymbolTable) Symbol(id Label) (string, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// Find returns the id for a word.
func (t *SymbolTable) Find(sym string) (Label, bool) {
	id, ok := t.byName[sym]
	return id, ok
}

// Len returns the number of symbols.
func (t *SymbolTable) Len() int { return len(t.byID) }
