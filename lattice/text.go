package lattice

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/ieee0824/streamdecode/fst"
)

// WriteText writes l in a Kaldi-like text form:
//
//	src dst ilabel word graph,acoustic
//	state graph,acoustic
//
// Words are printed through syms when it is non-nil.
func (l *Lattice) WriteText(w io.Writer, syms *fst.SymbolTable) error {
	bw := bufio.NewWriter(w)
	if l.Start == fst.NoState {
		return bw.Flush()
	}
	order, err := l.TopSort()
	if err != nil {
		return err
	}
	for _, s := range order {
		for _, a := range l.States[s].Arcs {
			fmt.Fprintf(bw, "%d\t%d\t%d\t%s\t%s\n", s, a.NextState, a.ILabel, word(a.OLabel, syms), formatWeight(a.Weight))
		}
	}
	for _, s := range order {
		if f := l.States[s].Final; !f.IsZero() {
			fmt.Fprintf(bw, "%d\t%s\n", s, formatWeight(f))
		}
	}
	return bw.Flush()
}

func word(id fst.Label, syms *fst.SymbolTable) string {
	if syms != nil {
		if w, ok := syms.Symbol(id); ok {
			return w
		}
	}
	return strconv.Itoa(int(id))
}

func formatWeight(w Weight) string {
	if !isFinite(w.Graph) || !isFinite(w.Acoustic) {
		return "Infinity,Infinity"
	}
	return strconv.FormatFloat(w.Graph, 'g', 6, 64) + "," + strconv.FormatFloat(w.Acoustic, 'g', 6, 64)
}
