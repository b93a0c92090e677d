package main

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gezibash/arc-cluster/internal/handlestore/physical"
)

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List handle store backends",
		Long: `List the handle store backends compiled into this binary and their
default options. Select one with --store or store.backend in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd)
			tbl := out.Table("backends", "Backend", "Defaults")
			for _, name := range physical.ListBackends() {
				tbl.AddRow(name, formatDefaults(physical.GetDefaults(name)))
			}
			return tbl.Render()
		},
	}
}

func formatDefaults(defaults map[string]string) string {
	if len(defaults) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + defaults[k]
	}
	return strings.Join(parts, ", ")
}
