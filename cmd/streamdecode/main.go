// Command streamdecode decodes feature matrices with the online lattice
// decoder, splitting each stream into utterances at detected endpoints.
//
// Usage:
//
//	streamdecode decode --config decode.yaml feats1.txt [feats2.txt ...]
//	streamdecode graph-info HCLG.txt
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
