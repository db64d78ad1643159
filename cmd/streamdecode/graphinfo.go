package main

import (
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/ieee0824/streamdecode/fst"
)

func newGraphInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph-info <graph.txt>",
		Short: "Print the size of a decoding graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := fst.ReadTextFile(args[0])
			if err != nil {
				return fmt.Errorf("read graph %q: %w", args[0], err)
			}
			return printGraphInfo(cmd.OutOrStdout(), g)
		},
	}
}

func printGraphInfo(w io.Writer, g *fst.VectorFST) error {
	finals, epsilons := 0, 0
	for s := 0; s < g.NumStates(); s++ {
		if !math.IsInf(g.Final(fst.StateID(s)), 1) {
			finals++
		}
		for _, arc := range g.Arcs(fst.StateID(s)) {
			if arc.ILabel == fst.Epsilon {
				epsilons++
			}
		}
	}
	_, err := fmt.Fprintf(w, "start\t%d\nstates\t%d\narcs\t%d\nepsilon_arcs\t%d\nfinal_states\t%d\n",
		g.Start(), g.NumStates(), g.NumArcs(), epsilons, finals)
	return err
}
