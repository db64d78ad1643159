package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ieee0824/streamdecode/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "streamdecode",
		Short:         "Online incremental lattice decoding",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newGraphInfoCmd())
	return root
}

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level.Level()}))
}
