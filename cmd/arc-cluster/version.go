package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return outputFor(cmd).Fields("version").
				Title("arc-cluster "+version).
				Add("Version", version).
				Add("Commit", commit).
				Add("Built", buildDate).
				Add("Go", runtime.Version()).
				Render()
		},
	}
}
